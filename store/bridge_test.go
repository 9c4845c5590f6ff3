package store

import (
	"context"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Nathan219/probemaster2-sub000/errors"
	"github.com/Nathan219/probemaster2-sub000/metric"
	"github.com/Nathan219/probemaster2-sub000/state"
	"github.com/Nathan219/probemaster2-sub000/telemetry"
)

func newTestBridge(t *testing.T, s Store, rec *state.Reconciler) *Bridge {
	t.Helper()
	b, err := NewBridge(BridgeDeps{
		Store:         s,
		Reconciler:    rec,
		FlushInterval: 10 * time.Millisecond,
	})
	require.NoError(t, err)
	return b
}

func TestBridge_ProbeWriteReachesStore(t *testing.T) {
	mem := NewMemory()
	rec := state.New(state.Deps{})
	b := newTestBridge(t, mem, rec)

	require.NoError(t, b.Start(context.Background()))
	b.PutProbe(state.Probe{ID: "F16R", LocationID: "FLOOR16-window"})
	b.PutLocation(state.Location{ID: "FLOOR16-window", Name: "window", Area: "FLOOR16"})
	require.NoError(t, b.Stop(time.Second))

	got, err := mem.Get(context.Background(), BucketProbes, "F16R")
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"F16R","locationId":"FLOOR16-window"}`, string(got))

	_, err = mem.Get(context.Background(), BucketLocations, "FLOOR16-window")
	assert.NoError(t, err)
}

func TestBridge_DirtyFlagTriggersAreaSnapshot(t *testing.T) {
	mem := NewMemory()
	rec := state.New(state.Deps{})
	rec.ApplyArea(telemetry.AreaAnnouncement{
		Area: "FLOOR16", Location: "window", ProbeID: "F16R",
	})

	b := newTestBridge(t, mem, rec)
	require.NoError(t, b.Start(context.Background()))

	b.MarkDirty()

	require.Eventually(t, func() bool {
		_, err := mem.Get(context.Background(), BucketAreas, "FLOOR16")
		return err == nil
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, b.Stop(time.Second))
}

func TestBridge_CleanGraphIsNotRewritten(t *testing.T) {
	counting := &countingStore{Store: NewMemory()}
	rec := state.New(state.Deps{})
	rec.ApplyArea(telemetry.AreaAnnouncement{
		Area: "FLOOR16", Location: "window", ProbeID: "F16R",
	})

	b := newTestBridge(t, counting, rec)
	require.NoError(t, b.Start(context.Background()))

	b.MarkDirty()
	require.Eventually(t, func() bool {
		return counting.puts() == 1
	}, time.Second, 5*time.Millisecond)

	// Without another MarkDirty, further ticks write nothing.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, counting.puts())

	require.NoError(t, b.Stop(time.Second))
}

func TestBridge_StopFlushesPendingSnapshot(t *testing.T) {
	mem := NewMemory()
	rec := state.New(state.Deps{})
	rec.ApplyArea(telemetry.AreaAnnouncement{
		Area: "FLOOR11", Location: "door", ProbeID: "F11L",
	})

	b, err := NewBridge(BridgeDeps{
		Store:      mem,
		Reconciler: rec,
		// Long interval so only the shutdown flush can write.
		FlushInterval: time.Hour,
	})
	require.NoError(t, err)

	require.NoError(t, b.Start(context.Background()))
	b.MarkDirty()
	require.NoError(t, b.Stop(time.Second))

	_, err = mem.Get(context.Background(), BucketAreas, "FLOOR11")
	assert.NoError(t, err)
}

func TestBridge_LoadRestoresGraph(t *testing.T) {
	mem := NewMemory()

	// Persist through one reconciler, restore into a fresh one.
	source := state.New(state.Deps{})
	source.ApplyArea(telemetry.AreaAnnouncement{
		Area: "FLOOR16", Location: "window", ProbeID: "F16R",
	})
	source.ApplyBaseline(telemetry.BaselineAnnouncement{Area: "FLOOR16", Enabled: true})

	writer := newTestBridge(t, mem, source)
	require.NoError(t, writer.Start(context.Background()))
	for _, p := range source.Probes() {
		writer.PutProbe(p)
	}
	for _, l := range source.Locations() {
		writer.PutLocation(l)
	}
	writer.MarkDirty()
	require.NoError(t, writer.Stop(time.Second))

	restored := state.New(state.Deps{})
	reader := newTestBridge(t, mem, restored)
	require.NoError(t, reader.Load(context.Background()))

	area, ok := restored.Area("FLOOR16")
	require.True(t, ok)
	assert.Equal(t, "F16R", area.Locations["window"])
	assert.True(t, area.UseBaseline)

	probe, ok := restored.Probe("F16R")
	require.True(t, ok)
	assert.Equal(t, "FLOOR16-window", probe.LocationID)
}

func TestBridge_LoadSkipsCorruptEntries(t *testing.T) {
	mem := NewMemory()
	require.NoError(t, mem.Put(context.Background(), BucketProbes, "good", []byte(`{"id":"AB12"}`)))
	require.NoError(t, mem.Put(context.Background(), BucketProbes, "bad", []byte(`{not json`)))

	rec := state.New(state.Deps{})
	b := newTestBridge(t, mem, rec)

	require.NoError(t, b.Load(context.Background()))
	_, ok := rec.Probe("AB12")
	assert.True(t, ok)
}

func TestBridge_FailedWritesCountAsErrors(t *testing.T) {
	registry := metric.NewRegistry()
	rec := state.New(state.Deps{})

	b, err := NewBridge(BridgeDeps{
		Store:      &failingStore{},
		Reconciler: rec,
		Metrics:    registry.Metrics,
		// Long interval so only the queued probe write can fail.
		FlushInterval: time.Hour,
	})
	require.NoError(t, err)

	require.NoError(t, b.Start(context.Background()))
	b.PutProbe(state.Probe{ID: "F16R"})
	require.NoError(t, b.Stop(time.Second))

	rr := httptest.NewRecorder()
	registry.Handler().ServeHTTP(rr, httptest.NewRequest("GET", "/metrics", nil))
	assert.Contains(t, rr.Body.String(),
		`probemaster_errors_total{component="bridge",type="write_failed"} 1`)
}

// failingStore rejects every write.
type failingStore struct {
	Store
}

func (f *failingStore) Put(ctx context.Context, bucket, key string, value []byte) error {
	return errors.ErrStoreUnavailable
}

// countingStore counts Put calls on top of a delegate.
type countingStore struct {
	Store
	mu sync.Mutex
	n  int
}

func (c *countingStore) Put(ctx context.Context, bucket, key string, value []byte) error {
	c.mu.Lock()
	c.n++
	c.mu.Unlock()
	return c.Store.Put(ctx, bucket, key, value)
}

func (c *countingStore) puts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}
