// Package state implements the authoritative in-memory entity graph (areas,
// locations, probes, thresholds, statistics, pixels) and the idempotent merge
// rules that apply parsed readings and announcements to it.
package state

import (
	"fmt"

	"github.com/Nathan219/probemaster2-sub000/telemetry"
)

// Probe is a sensor device identified by a 4-character id. Identity is the
// id; only LocationID ever mutates after creation.
type Probe struct {
	ID         string `json:"id"`
	LocationID string `json:"locationId,omitempty"`
}

// Location is a named position within an area, hosting at most one probe at a
// time. The id is derived deterministically from area and name.
type Location struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Area string `json:"area"`
}

// LocationID derives the deterministic location identifier "<AREA>-<name>".
func LocationID(area, name string) string {
	return fmt.Sprintf("%s-%s", area, name)
}

// ThresholdInfo holds exactly six threshold values for one area/metric pair.
// A value of -1 means "unset/use-current-value"; that is distinct from the
// map entry being absent, which means no threshold data has been received.
type ThresholdInfo struct {
	Area   string                                 `json:"area"`
	Metric telemetry.Metric                       `json:"metric"`
	Values [telemetry.ThresholdValueCount]float64 `json:"values"`
}

// StatInfo holds per-area, per-metric range statistics. -1 in any field means
// "not applicable" for that field, not "unknown".
type StatInfo struct {
	Area        string           `json:"area"`
	Metric      telemetry.Metric `json:"metric"`
	Min         float64          `json:"min"`
	Max         float64          `json:"max"`
	MinObserved float64          `json:"min_o"`
	MaxObserved float64          `json:"max_o"`
}

// Area is a named physical zone aggregating locations and probes. The set of
// areas is discovered from the input stream, not predefined.
type Area struct {
	Name        string                             `json:"name"`
	Locations   map[string]string                  `json:"locations"` // location name -> probe id
	Thresholds  map[telemetry.Metric]ThresholdInfo `json:"thresholds"`
	Stats       map[telemetry.Metric]StatInfo      `json:"stats"`
	UseBaseline bool                               `json:"useBaseline"`
}

// clone returns a deep copy so snapshot readers never alias reconciler state.
func (a *Area) clone() Area {
	out := Area{
		Name:        a.Name,
		Locations:   make(map[string]string, len(a.Locations)),
		Thresholds:  make(map[telemetry.Metric]ThresholdInfo, len(a.Thresholds)),
		Stats:       make(map[telemetry.Metric]StatInfo, len(a.Stats)),
		UseBaseline: a.UseBaseline,
	}
	for k, v := range a.Locations {
		out.Locations[k] = v
	}
	for k, v := range a.Thresholds {
		out.Thresholds[k] = v
	}
	for k, v := range a.Stats {
		out.Stats[k] = v
	}
	return out
}

// PixelState is one area's derived occupancy indicator: a count clamped to
// 0..6 with the time it was last updated.
type PixelState struct {
	Count     int   `json:"count"`
	UpdatedAt int64 `json:"updatedAt"` // Unix milliseconds
}

// PixelMax is the upper clamp bound for occupancy-pixel counts.
const PixelMax = 6

// FreshnessKey builds the "<AREA>-<Metric>" key used by the freshness map.
func FreshnessKey(area string, metric telemetry.Metric) string {
	return fmt.Sprintf("%s-%s", area, metric)
}
