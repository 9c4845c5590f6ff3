package wire

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/Nathan219/probemaster2-sub000/telemetry"
)

// Announcement markers. Each is located anywhere in the line, tolerating
// arbitrary routing-tag prefixes; "THRESHOLDS" is checked before "THRESHOLD"
// because the latter is a prefix of the former.
const (
	markerArea           = "AREA:"
	markerStat           = "STAT:"
	markerThresholdsList = "THRESHOLDS"
	markerThreshold      = "THRESHOLD"
	markerBaseline       = "USE_BASELINE"
	markerPixels         = "PIXELS:"
)

// ParseAnnouncement scans a raw or normalized line for one of the structured
// announcement grammars and decodes it. Lines without a recognized marker, or
// whose grammar does not decode completely, yield kind unknown; such lines may
// still be consumed by the reading parser.
func ParseAnnouncement(line string) telemetry.Announcement {
	unknown := telemetry.Announcement{Kind: telemetry.AnnouncementUnknown}

	if rest, ok := afterMarker(line, markerArea); ok {
		if a := parseArea(rest); a != nil {
			return telemetry.Announcement{Kind: telemetry.AnnouncementArea, Area: a}
		}
		return unknown
	}
	if rest, ok := afterMarker(line, markerStat); ok {
		if s := parseStat(rest); s != nil {
			return telemetry.Announcement{Kind: telemetry.AnnouncementStat, Stat: s}
		}
		return unknown
	}
	if rest, ok := afterMarker(line, markerThresholdsList); ok {
		if th := parseThresholdList(rest); th != nil {
			return telemetry.Announcement{Kind: telemetry.AnnouncementThreshold, Threshold: th}
		}
		return unknown
	}
	if rest, ok := afterMarker(line, markerThreshold); ok {
		if th := parseThresholdSpaced(rest); th != nil {
			return telemetry.Announcement{Kind: telemetry.AnnouncementThreshold, Threshold: th}
		}
		return unknown
	}
	if rest, ok := afterMarker(line, markerBaseline); ok {
		if b := parseBaseline(rest); b != nil {
			return telemetry.Announcement{Kind: telemetry.AnnouncementBaseline, Baseline: b}
		}
		return unknown
	}
	if rest, ok := afterMarker(line, markerPixels); ok {
		if p := parsePixels(rest); p != nil {
			return telemetry.Announcement{Kind: telemetry.AnnouncementPixels, Pixels: p}
		}
		return unknown
	}

	return unknown
}

// afterMarker locates marker anywhere in line and returns the text after it.
func afterMarker(line, marker string) (string, bool) {
	i := strings.Index(line, marker)
	if i < 0 {
		return "", false
	}
	return strings.TrimSpace(line[i+len(marker):]), true
}

// noProbesRe matches the sentinel form "AREA: <area> (no probes)".
var noProbesRe = regexp.MustCompile(`(?i)\(\s*no\s+probes?\s*\)`)

// parseArea decodes "<area> <location> <probeId>" or "<area> (no probes)".
// The no-probes form yields empty location and probe id, the explicit signal
// to clear that area's location map.
func parseArea(rest string) *telemetry.AreaAnnouncement {
	if rest == "" {
		return nil
	}

	fields := strings.Fields(rest)
	area := strings.ToUpper(fields[0])

	if noProbesRe.MatchString(rest) {
		return &telemetry.AreaAnnouncement{Area: area}
	}

	if len(fields) < 3 {
		return nil
	}
	return &telemetry.AreaAnnouncement{
		Area:     area,
		Location: fields[1],
		ProbeID:  telemetry.NormalizeProbeID(fields[2]),
	}
}

// parseStat decodes "<area> <metric> min:<n> max:<n> min_o:<n> max_o:<n>".
// All four numeric fields are required; any failure rejects the whole line so
// no partial stats are ever stored.
func parseStat(rest string) *telemetry.StatAnnouncement {
	fields := strings.Fields(rest)
	if len(fields) < 6 {
		return nil
	}

	metric, ok := telemetry.CanonicalMetric(fields[1])
	if !ok {
		return nil
	}

	values := map[string]float64{}
	for _, f := range fields[2:] {
		key, raw, ok := splitKeyValue(f)
		if !ok {
			continue
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil
		}
		values[strings.ToLower(key)] = v
	}

	for _, required := range []string{"min", "max", "min_o", "max_o"} {
		if _, ok := values[required]; !ok {
			return nil
		}
	}

	return &telemetry.StatAnnouncement{
		Area:        strings.ToUpper(fields[0]),
		Metric:      metric,
		Min:         values["min"],
		Max:         values["max"],
		MinObserved: values["min_o"],
		MaxObserved: values["max_o"],
	}
}

// parseThresholdSpaced decodes "<area> <metric> <v1> ... <v6>", padding or
// truncating to exactly six values with ThresholdUnset as the default.
func parseThresholdSpaced(rest string) *telemetry.ThresholdAnnouncement {
	fields := strings.Fields(rest)
	if len(fields) < 2 {
		return nil
	}

	metric, ok := telemetry.CanonicalMetric(fields[1])
	if !ok {
		return nil
	}

	th := &telemetry.ThresholdAnnouncement{
		Area:   strings.ToUpper(fields[0]),
		Metric: metric,
	}
	fillThresholdValues(&th.Values, fields[2:])
	return th
}

// parseThresholdList decodes "<area> <metric> [<v1>, <v2>, ...]" with an
// optional '%' suffix on each value.
func parseThresholdList(rest string) *telemetry.ThresholdAnnouncement {
	open := strings.Index(rest, "[")
	closing := strings.LastIndex(rest, "]")
	if open < 0 || closing < open {
		return nil
	}

	head := strings.Fields(rest[:open])
	if len(head) < 2 {
		return nil
	}
	metric, ok := telemetry.CanonicalMetric(head[1])
	if !ok {
		return nil
	}

	raw := strings.Split(rest[open+1:closing], ",")
	th := &telemetry.ThresholdAnnouncement{
		Area:   strings.ToUpper(head[0]),
		Metric: metric,
	}
	fillThresholdValues(&th.Values, raw)
	return th
}

// fillThresholdValues parses up to six raw tokens into values, defaulting
// every position (including unparsable tokens) to ThresholdUnset.
func fillThresholdValues(values *[telemetry.ThresholdValueCount]float64, raw []string) {
	for i := range values {
		values[i] = telemetry.ThresholdUnset
	}
	for i, token := range raw {
		if i >= telemetry.ThresholdValueCount {
			break
		}
		token = strings.TrimSuffix(strings.TrimSpace(token), "%")
		if v, err := strconv.ParseFloat(token, 64); err == nil {
			values[i] = v
		}
	}
}

// parseBaseline decodes "<area> <True|False>".
func parseBaseline(rest string) *telemetry.BaselineAnnouncement {
	fields := strings.Fields(rest)
	if len(fields) < 2 {
		return nil
	}
	enabled, err := strconv.ParseBool(strings.ToLower(fields[1]))
	if err != nil {
		return nil
	}
	return &telemetry.BaselineAnnouncement{
		Area:    strings.ToUpper(fields[0]),
		Enabled: enabled,
	}
}

// parsePixels decodes "<area> <count>", stripping the trailing '*' marker some
// firmware appends to pixel-count values.
func parsePixels(rest string) *telemetry.PixelAnnouncement {
	fields := strings.Fields(rest)
	if len(fields) < 2 {
		return nil
	}
	raw := strings.TrimSuffix(fields[1], "*")
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil
	}
	return &telemetry.PixelAnnouncement{
		Area:  strings.ToUpper(fields[0]),
		Count: v,
	}
}
