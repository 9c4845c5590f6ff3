package store

import (
	"github.com/Nathan219/probemaster2-sub000/state"
	"github.com/Nathan219/probemaster2-sub000/telemetry"
)

// GraphEvents translates reconciler notifications into bridge writes: probe
// reassignments are written through immediately (fire-and-forget), everything
// touching an area marks the snapshot dirty. It is invoked from the
// reconciling goroutine, so every call must stay non-blocking; the bridge
// queue guarantees that.
type GraphEvents struct {
	bridge *Bridge
	rec    *state.Reconciler
}

// NewGraphEvents creates the persistence event sink.
func NewGraphEvents(bridge *Bridge, rec *state.Reconciler) *GraphEvents {
	return &GraphEvents{bridge: bridge, rec: rec}
}

// ReadingApplied persists a probe the first time a reading creates it.
func (g *GraphEvents) ReadingApplied(r telemetry.Reading) {
	if probe, ok := g.rec.Probe(r.ProbeID); ok {
		g.bridge.PutProbe(probe)
	}
}

// AreaUpdated writes through the area's locations and schedules a snapshot.
func (g *GraphEvents) AreaUpdated(area string) {
	if a, ok := g.rec.Area(area); ok {
		for name := range a.Locations {
			g.bridge.PutLocation(state.Location{
				ID:   state.LocationID(a.Name, name),
				Name: name,
				Area: a.Name,
			})
		}
	}
	g.bridge.MarkDirty()
}

// ThresholdUpdated implements state.Events.
func (g *GraphEvents) ThresholdUpdated(string, telemetry.Metric) {
	g.bridge.MarkDirty()
}

// StatUpdated implements state.Events.
func (g *GraphEvents) StatUpdated(string, telemetry.Metric) {
	g.bridge.MarkDirty()
}

// BaselineUpdated implements state.Events.
func (g *GraphEvents) BaselineUpdated(string, bool) {
	g.bridge.MarkDirty()
}

// PixelsUpdated implements state.Events. Pixel state is derived display
// state and is not persisted.
func (g *GraphEvents) PixelsUpdated(string, int) {}

// ProbeReassigned writes the probe's new assignment through.
func (g *GraphEvents) ProbeReassigned(probeID, locationID string) {
	g.bridge.PutProbe(state.Probe{ID: probeID, LocationID: locationID})
}

// ProbesCleared implements state.Events.
func (g *GraphEvents) ProbesCleared() {
	g.bridge.MarkDirty()
}
