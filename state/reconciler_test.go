package state

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Nathan219/probemaster2-sub000/telemetry"
)

func testClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func newTestReconciler(opts ...func(*Deps)) *Reconciler {
	deps := Deps{
		Clock: testClock(time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)),
	}
	for _, opt := range opts {
		opt(&deps)
	}
	return New(deps)
}

func TestApplyReading_CreatesProbeOnFirstSighting(t *testing.T) {
	r := newTestReconciler()

	reading := telemetry.NewReading(1000, "f16r")
	reading.Set(telemetry.MetricCO2, 454)
	r.ApplyReading(reading)

	probe, ok := r.Probe("F16R")
	require.True(t, ok)
	assert.Equal(t, "F16R", probe.ID)
	assert.Empty(t, probe.LocationID)
	assert.Len(t, r.Readings(0), 1)
}

func TestApplyReading_InvalidIDLoggedNotStored(t *testing.T) {
	r := newTestReconciler()

	reading := telemetry.NewReading(1000, telemetry.SentinelProbeID)
	reading.Set(telemetry.MetricTemp, 21)
	r.ApplyReading(reading)

	assert.Empty(t, r.Probes(), "sentinel id must never create a probe")
	assert.Len(t, r.Readings(0), 1, "the reading itself still enters the log")
}

func TestApplyReading_RejectsEmptyReading(t *testing.T) {
	r := newTestReconciler()
	r.ApplyReading(telemetry.NewReading(1000, "F16R"))
	assert.Empty(t, r.Readings(0))
	assert.Empty(t, r.Probes())
}

func TestApplyReading_LogBounded(t *testing.T) {
	r := newTestReconciler(func(d *Deps) { d.MaxReadings = 3 })

	for i := 0; i < 5; i++ {
		reading := telemetry.NewReading(int64(i), "F16R")
		reading.Set(telemetry.MetricCO2, float64(400+i))
		r.ApplyReading(reading)
	}

	got := r.Readings(0)
	require.Len(t, got, 3)
	assert.Equal(t, int64(2), got[0].Timestamp)
	assert.Equal(t, int64(4), got[2].Timestamp)
}

func TestApplyArea_InsertAndCanonicalize(t *testing.T) {
	r := newTestReconciler()

	r.ApplyArea(telemetry.AreaAnnouncement{Area: "floor12", Location: "north", ProbeID: "f16r"})

	area, ok := r.Area("FLOOR12")
	require.True(t, ok)
	assert.Equal(t, map[string]string{"north": "F16R"}, area.Locations)

	probe, ok := r.Probe("F16R")
	require.True(t, ok)
	assert.Equal(t, "FLOOR12-north", probe.LocationID)

	locs := r.Locations()
	require.Len(t, locs, 1)
	assert.Equal(t, Location{ID: "FLOOR12-north", Name: "north", Area: "FLOOR12"}, locs[0])
}

func TestApplyArea_InvalidProbeIDDropped(t *testing.T) {
	r := newTestReconciler()

	r.ApplyArea(telemetry.AreaAnnouncement{Area: "FLOOR12", Location: "north", ProbeID: "TOOLONG"})

	area, ok := r.Area("FLOOR12")
	require.True(t, ok, "area is still created")
	assert.Empty(t, area.Locations, "invalid probe id must never be stored")
}

func TestApplyArea_NoProbesClearsOnlyThatArea(t *testing.T) {
	r := newTestReconciler()
	r.ApplyArea(telemetry.AreaAnnouncement{Area: "FLOOR11", Location: "east", ProbeID: "AAAA"})
	r.ApplyArea(telemetry.AreaAnnouncement{Area: "FLOOR12", Location: "west", ProbeID: "BBBB"})

	r.ApplyArea(telemetry.AreaAnnouncement{Area: "FLOOR11"})

	floor11, _ := r.Area("FLOOR11")
	assert.Empty(t, floor11.Locations)

	floor12, _ := r.Area("FLOOR12")
	assert.Equal(t, map[string]string{"west": "BBBB"}, floor12.Locations, "other areas untouched")
}

func TestApplyArea_NoProbesCreatesArea(t *testing.T) {
	r := newTestReconciler()
	r.ApplyArea(telemetry.AreaAnnouncement{Area: "FLOOR11"})

	area, ok := r.Area("FLOOR11")
	require.True(t, ok)
	assert.NotNil(t, area.Locations)
	assert.Empty(t, area.Locations)
}

func TestApplyArea_Idempotent(t *testing.T) {
	r := newTestReconciler()
	ann := telemetry.AreaAnnouncement{Area: "FLOOR12", Location: "north", ProbeID: "F16R"}

	r.ApplyArea(ann)
	first, _ := r.Area("FLOOR12")
	r.ApplyArea(ann)
	second, _ := r.Area("FLOOR12")

	assert.Equal(t, first, second)
	assert.Len(t, r.Probes(), 1)
}

func TestApplyStat_StoresCanonicalMetricAndFreshness(t *testing.T) {
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	r := newTestReconciler(func(d *Deps) { d.Clock = testClock(now) })

	r.ApplyStat(telemetry.StatAnnouncement{
		Area:        "FLOOR12",
		Metric:      telemetry.MetricTemp,
		Min:         20,
		Max:         25,
		MinObserved: 19,
		MaxObserved: 26,
	})

	area, ok := r.Area("FLOOR12")
	require.True(t, ok)
	stat, ok := area.Stats[telemetry.MetricTemp]
	require.True(t, ok)
	assert.Equal(t, 20.0, stat.Min)
	assert.Equal(t, 26.0, stat.MaxObserved)

	assert.Equal(t, now.UnixMilli(), r.Freshness("FLOOR12", telemetry.MetricTemp))
	assert.Zero(t, r.Freshness("FLOOR12", telemetry.MetricCO2), "unrelated pairs stay unstamped")
}

func TestApplyThreshold_SentinelPreserved(t *testing.T) {
	r := newTestReconciler()

	values := [6]float64{400, -1, 800, -1, 1200, -1}
	r.ApplyThreshold(telemetry.ThresholdAnnouncement{
		Area:   "FLOOR12",
		Metric: telemetry.MetricCO2,
		Values: values,
	})

	area, _ := r.Area("FLOOR12")
	th, ok := area.Thresholds[telemetry.MetricCO2]
	require.True(t, ok)
	assert.Equal(t, values, th.Values, "-1 sentinels must survive storage exactly")
}

func TestApplyThreshold_AbsenceDistinctFromSentinel(t *testing.T) {
	r := newTestReconciler()
	r.ApplyThreshold(telemetry.ThresholdAnnouncement{Area: "FLOOR12", Metric: telemetry.MetricCO2})

	area, _ := r.Area("FLOOR12")
	_, hasCO2 := area.Thresholds[telemetry.MetricCO2]
	_, hasTemp := area.Thresholds[telemetry.MetricTemp]
	assert.True(t, hasCO2)
	assert.False(t, hasTemp, "no data received yet means no map entry")
}

func TestApplyBaseline(t *testing.T) {
	r := newTestReconciler()
	r.ApplyBaseline(telemetry.BaselineAnnouncement{Area: "FLOOR12", Enabled: true})

	area, ok := r.Area("FLOOR12")
	require.True(t, ok)
	assert.True(t, area.UseBaseline)

	r.ApplyBaseline(telemetry.BaselineAnnouncement{Area: "FLOOR12", Enabled: false})
	area, _ = r.Area("FLOOR12")
	assert.False(t, area.UseBaseline)
}

func TestApplyPixels_ClampAndRound(t *testing.T) {
	r := newTestReconciler()

	tests := []struct {
		in   float64
		want int
	}{
		{3.4, 3},
		{3.6, 4},
		{-2, 0},
		{9.7, 6},
		{0, 0},
	}
	for _, tt := range tests {
		r.ApplyPixels(telemetry.PixelAnnouncement{Area: "FLOOR11", Count: tt.in})
		assert.Equal(t, tt.want, r.Pixels()["FLOOR11"].Count, "input %v", tt.in)
	}
	assert.NotZero(t, r.Pixels()["FLOOR11"].UpdatedAt)
}

func TestReassignProbe(t *testing.T) {
	r := newTestReconciler()
	r.ApplyArea(telemetry.AreaAnnouncement{Area: "FLOOR11", Location: "east", ProbeID: "F16R"})
	r.ApplyArea(telemetry.AreaAnnouncement{Area: "FLOOR12", Location: "west", ProbeID: "F16R"})

	ok := r.ReassignProbe("f16r", "FLOOR13", "lab")
	require.True(t, ok)

	// Removed everywhere it appeared, inserted exactly once.
	floor11, _ := r.Area("FLOOR11")
	floor12, _ := r.Area("FLOOR12")
	floor13, _ := r.Area("FLOOR13")
	assert.Empty(t, floor11.Locations)
	assert.Empty(t, floor12.Locations)
	assert.Equal(t, map[string]string{"lab": "F16R"}, floor13.Locations)

	probe, _ := r.Probe("F16R")
	assert.Equal(t, "FLOOR13-lab", probe.LocationID)
}

func TestReassignProbe_RejectsInvalid(t *testing.T) {
	r := newTestReconciler()
	assert.False(t, r.ReassignProbe("BAD", "FLOOR11", "east"))
	assert.False(t, r.ReassignProbe("F16R", "", "east"))
	assert.False(t, r.ReassignProbe("F16R", "FLOOR11", ""))
}

func TestReassignProbe_LastWriteWinsAgainstAreaAnnouncement(t *testing.T) {
	r := newTestReconciler()
	r.ReassignProbe("F16R", "FLOOR11", "east")
	r.ApplyArea(telemetry.AreaAnnouncement{Area: "FLOOR12", Location: "west", ProbeID: "F16R"})

	probe, _ := r.Probe("F16R")
	assert.Equal(t, "FLOOR12-west", probe.LocationID)
}

func TestClearProbes(t *testing.T) {
	r := newTestReconciler()
	r.ApplyArea(telemetry.AreaAnnouncement{Area: "FLOOR11", Location: "east", ProbeID: "F16R"})

	r.ClearProbes()

	assert.Empty(t, r.Probes())
	area, _ := r.Area("FLOOR11")
	assert.Empty(t, area.Locations)
}

func TestDiscoveryCompletion(t *testing.T) {
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	r := newTestReconciler(func(d *Deps) {
		d.ExpectedAreas = 2
		d.Clock = testClock(now)
	})

	r.StartDiscovery()
	assert.True(t, r.Discovering())
	assert.False(t, r.DiscoveryComplete())

	r.ApplyArea(telemetry.AreaAnnouncement{Area: "FLOOR11"})
	assert.True(t, r.Discovering(), "one of two areas is not complete")

	r.ApplyArea(telemetry.AreaAnnouncement{Area: "FLOOR12"})
	assert.False(t, r.Discovering())
	assert.True(t, r.DiscoveryComplete())
	assert.Equal(t, now, r.AreasLastFetched().UTC())
}

func TestRestore(t *testing.T) {
	r := newTestReconciler()

	r.Restore(
		[]Probe{{ID: "F16R", LocationID: "FLOOR11-east"}, {ID: "BAD"}},
		[]Location{{ID: "FLOOR11-east", Name: "east", Area: "FLOOR11"}},
		[]Area{{
			Name:      "FLOOR11",
			Locations: map[string]string{"east": "F16R"},
		}},
	)

	assert.Len(t, r.Probes(), 1, "malformed persisted probes are skipped")
	area, ok := r.Area("FLOOR11")
	require.True(t, ok)
	assert.Equal(t, "F16R", area.Locations["east"])
}

func TestSnapshotIsolation(t *testing.T) {
	r := newTestReconciler()
	r.ApplyArea(telemetry.AreaAnnouncement{Area: "FLOOR11", Location: "east", ProbeID: "F16R"})

	snapshot, _ := r.Area("FLOOR11")
	snapshot.Locations["east"] = "XXXX"

	fresh, _ := r.Area("FLOOR11")
	assert.Equal(t, "F16R", fresh.Locations["east"], "snapshots must not alias live state")
}

type recordingEvents struct {
	NopEvents
	readings  int
	areas     []string
	cleared   int
	reassigns []string
}

func (e *recordingEvents) ReadingApplied(telemetry.Reading) { e.readings++ }
func (e *recordingEvents) AreaUpdated(area string)          { e.areas = append(e.areas, area) }
func (e *recordingEvents) ProbesCleared()                   { e.cleared++ }
func (e *recordingEvents) ProbeReassigned(probeID, locationID string) {
	e.reassigns = append(e.reassigns, probeID+"@"+locationID)
}

func TestEventsEmitted(t *testing.T) {
	events := &recordingEvents{}
	r := newTestReconciler(func(d *Deps) { d.Events = events })

	reading := telemetry.NewReading(1, "F16R")
	reading.Set(telemetry.MetricCO2, 400)
	r.ApplyReading(reading)
	r.ApplyArea(telemetry.AreaAnnouncement{Area: "FLOOR11"})
	r.ReassignProbe("F16R", "FLOOR12", "north")
	r.ClearProbes()

	assert.Equal(t, 1, events.readings)
	assert.Equal(t, []string{"FLOOR11"}, events.areas)
	assert.Equal(t, []string{"F16R@FLOOR12-north"}, events.reassigns)
	assert.Equal(t, 1, events.cleared)
}
