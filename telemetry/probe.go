package telemetry

import (
	"strings"
)

// ProbeIDLength is the exact length of a valid probe identifier.
const ProbeIDLength = 4

// SentinelProbeID is the degraded device id the line normalizer assigns when a
// line carries no recognizable identifier. It deliberately fails ValidProbeID
// so degraded lines never create probes.
const SentinelProbeID = "????"

// NormalizeProbeID canonicalizes a probe id to upper case with surrounding
// whitespace removed. It does not validate; pair with ValidProbeID.
func NormalizeProbeID(id string) string {
	return strings.ToUpper(strings.TrimSpace(id))
}

// ValidProbeID reports whether id is exactly four alphanumeric characters.
// Malformed ids are dropped at the reconciler boundary, never stored.
func ValidProbeID(id string) bool {
	if len(id) != ProbeIDLength {
		return false
	}
	for _, c := range id {
		isDigit := c >= '0' && c <= '9'
		isUpper := c >= 'A' && c <= 'Z'
		isLower := c >= 'a' && c <= 'z'
		if !isDigit && !isUpper && !isLower {
			return false
		}
	}
	return true
}
