package wire

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/Nathan219/probemaster2-sub000/telemetry"
)

// readingDialect attempts to extract metric values from a payload. Dialects
// are tried in priority order; the first one that recognizes at least one
// metric wins.
type readingDialect func(payload string, r *telemetry.Reading) bool

var readingDialects = []readingDialect{
	parseBracketDialect,
	parseTokenDialect,
}

// ParseReading converts a normalized payload into a typed Reading. It returns
// false when no dialect recovers at least one finite metric. Non-numeric or
// missing fields stay NaN and are excluded from all downstream aggregation.
func ParseReading(payload string, probeID string, timestamp int64) (telemetry.Reading, bool) {
	r := telemetry.NewReading(timestamp, probeID)
	for _, dialect := range readingDialects {
		if dialect(payload, &r) && r.Valid() {
			return r, true
		}
	}
	return telemetry.Reading{}, false
}

// Bracketed-tag dialect: "[CO2] 500 [HUM] 50 [TEMP] 25 [dB] 60",
// any order, any subset present.
var bracketPairRe = regexp.MustCompile(`\[([A-Za-z0-9]+)\]\s*(-?[0-9]+(?:\.[0-9]+)?)`)

func parseBracketDialect(payload string, r *telemetry.Reading) bool {
	matched := false
	for _, m := range bracketPairRe.FindAllStringSubmatch(payload, -1) {
		metric, ok := telemetry.CanonicalMetric(m[1])
		if !ok {
			continue
		}
		v, err := strconv.ParseFloat(m[2], 64)
		if err != nil {
			continue
		}
		r.Set(metric, v)
		matched = true
	}
	return matched
}

// Token dialect: loose key=value or key:value tokens separated by commas and
// whitespace, case-insensitive prefix-matched keys. Covers the current
// comma-separated format "co2=454,temp=25.5,hum=36.2,db=67,rssi=-57" as well
// as older space-separated variants.
func parseTokenDialect(payload string, r *telemetry.Reading) bool {
	matched := false
	for _, token := range splitTokens(payload) {
		key, value, ok := splitKeyValue(token)
		if !ok {
			continue
		}
		metric, ok := telemetry.CanonicalMetric(key)
		if !ok {
			continue
		}
		matched = true
		if v, err := strconv.ParseFloat(value, 64); err == nil {
			r.Set(metric, v)
		}
		// Unparsable values stay NaN: recognized-but-garbled is not zero.
	}
	return matched
}

func splitTokens(payload string) []string {
	return strings.FieldsFunc(payload, func(c rune) bool {
		return c == ',' || c == ' ' || c == '\t'
	})
}

func splitKeyValue(token string) (key, value string, ok bool) {
	for _, sep := range []string{"=", ":"} {
		if i := strings.Index(token, sep); i > 0 {
			return token[:i], token[i+len(sep):], true
		}
	}
	return "", "", false
}
