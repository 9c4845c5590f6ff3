package telemetry

// AnnouncementKind identifies the structured announcement grammars the device
// and server sides emit.
type AnnouncementKind string

const (
	AnnouncementUnknown   AnnouncementKind = "unknown"
	AnnouncementArea      AnnouncementKind = "area"
	AnnouncementStat      AnnouncementKind = "stat"
	AnnouncementThreshold AnnouncementKind = "threshold"
	AnnouncementBaseline  AnnouncementKind = "baseline"
	AnnouncementPixels    AnnouncementKind = "pixels"
)

// ThresholdValueCount is the fixed number of values a threshold carries.
const ThresholdValueCount = 6

// ThresholdUnset is the in-band sentinel meaning "unset/use-current-value".
// It is a valid stored value, distinct from "no data received yet" (absence
// of the map entry).
const ThresholdUnset = -1

// Announcement is one decoded structured line. Exactly one of the payload
// pointers matching Kind is non-nil; an unknown announcement carries none.
type Announcement struct {
	Kind      AnnouncementKind
	Area      *AreaAnnouncement
	Stat      *StatAnnouncement
	Threshold *ThresholdAnnouncement
	Baseline  *BaselineAnnouncement
	Pixels    *PixelAnnouncement
}

// AreaAnnouncement maps one location of an area to a probe. The form with
// empty Location and ProbeID is the explicit "no probes" sentinel: it means
// "clear this area's location map", not "nothing to report".
type AreaAnnouncement struct {
	Area     string
	Location string
	ProbeID  string
}

// NoProbes reports whether this is the clear-locations sentinel form.
func (a AreaAnnouncement) NoProbes() bool {
	return a.Location == "" && a.ProbeID == ""
}

// StatAnnouncement carries per-area, per-metric range statistics.
// -1 in any field means "not applicable", not "unknown".
type StatAnnouncement struct {
	Area        string
	Metric      Metric
	Min         float64
	Max         float64
	MinObserved float64
	MaxObserved float64
}

// ThresholdAnnouncement carries exactly six threshold values for one
// area/metric pair. Missing wire positions are padded with ThresholdUnset.
type ThresholdAnnouncement struct {
	Area   string
	Metric Metric
	Values [ThresholdValueCount]float64
}

// BaselineAnnouncement toggles baseline mode for an area.
type BaselineAnnouncement struct {
	Area    string
	Enabled bool
}

// PixelAnnouncement carries one area's occupancy-pixel count. It only exists
// on the internal line grammar: the REST translation layer emits it so pixel
// facts flow through the same parser path as everything else.
type PixelAnnouncement struct {
	Area  string
	Count float64
}
