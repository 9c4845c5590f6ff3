// Package wire implements the tolerant line-oriented protocol parsers: the
// line normalizer, the multi-dialect reading parser, and the announcement
// parser. Each dialect's grammar lives in its own matcher, tried in priority
// order; the parsers never panic and never surface errors past their caller.
package wire

import (
	"regexp"
	"strings"

	"github.com/Nathan219/probemaster2-sub000/telemetry"
)

// Line is a normalized wire line: a 4-character device identifier plus the
// remaining payload text.
type Line struct {
	DeviceID string
	Payload  string
}

var (
	// Current wire format: "XXXX payload"
	spaceFormatRe = regexp.MustCompile(`^([A-Za-z0-9]{4})\s+(\S.*)$`)

	// Legacy wire format: "XXXX: payload"
	colonFormatRe = regexp.MustCompile(`^([A-Za-z0-9]{4}):\s*(\S.*)$`)

	// Leading bracketed routing tag, e.g. "[GW01]" or "[2.4G]"
	routingTagRe = regexp.MustCompile(`^\[([^\[\]]*)\]\s*`)
)

// Normalize extracts a device id and payload from one raw line. It recognizes
// the current space-separated format, the legacy colon format, and falls back
// to the transport message id (first 4 characters) or the sentinel id.
// Normalization always succeeds, possibly with a degraded id; no line is ever
// discarded at this stage.
func Normalize(raw, messageID string) Line {
	s := stripRoutingTags(strings.TrimSpace(raw))

	if m := spaceFormatRe.FindStringSubmatch(s); m != nil {
		return Line{DeviceID: telemetry.NormalizeProbeID(m[1]), Payload: m[2]}
	}
	if m := colonFormatRe.FindStringSubmatch(s); m != nil {
		return Line{DeviceID: telemetry.NormalizeProbeID(m[1]), Payload: m[2]}
	}

	if id := fallbackID(messageID); id != "" {
		return Line{DeviceID: id, Payload: s}
	}
	return Line{DeviceID: telemetry.SentinelProbeID, Payload: s}
}

// stripRoutingTags removes leading bracketed framing artifacts. A leading
// bracket group whose content names a metric is payload, not framing, and is
// left in place (the bracketed reading dialect has no device id on some
// firmware revisions).
func stripRoutingTags(s string) string {
	for {
		m := routingTagRe.FindStringSubmatch(s)
		if m == nil {
			return s
		}
		if _, isMetric := telemetry.CanonicalMetric(m[1]); isMetric {
			return s
		}
		s = s[len(m[0]):]
	}
}

// fallbackID derives a best-effort device id from a transport message id.
func fallbackID(messageID string) string {
	messageID = strings.TrimSpace(messageID)
	if len(messageID) < telemetry.ProbeIDLength {
		return ""
	}
	return telemetry.NormalizeProbeID(messageID[:telemetry.ProbeIDLength])
}
