package poll

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Nathan219/probemaster2-sub000/metric"
)

type sinkRecorder struct {
	mu    sync.Mutex
	ids   []string
	lines []string
}

func (s *sinkRecorder) sink(messageID, line string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ids = append(s.ids, messageID)
	s.lines = append(s.lines, line)
}

func (s *sinkRecorder) received() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.ids...)
}

func newTestManager(t *testing.T, handler http.HandlerFunc) (*Manager, *sinkRecorder) {
	t.Helper()
	client, _ := newTestClient(t, handler)

	rec := &sinkRecorder{}
	m, err := NewManager(ManagerDeps{
		Client: client,
		Sink:   rec.sink,
	})
	require.NoError(t, err)
	return m, rec
}

func TestManager_OverlappingBatchesDeliveredOnce(t *testing.T) {
	pages := [][]Message{
		{
			{ID: "abc121", Data: "F16R [CO2] 640"},
			{ID: "abc122", Data: "F16R [Temp] 21.5"},
			{ID: "abc123", Data: "F16R [Hum] 44"},
		},
		{
			// The server window slid but still repeats abc123.
			{ID: "abc123", Data: "F16R [Hum] 44"},
			{ID: "abc124", Data: "F16R [dB] 38"},
		},
	}
	var call int
	m, rec := newTestManager(t, func(w http.ResponseWriter, r *http.Request) {
		page := pages[len(pages)-1]
		if call < len(pages) {
			page = pages[call]
		}
		call++
		writeJSON(w, pollResult{Messages: page})
	})

	m.forwardTick(context.Background())
	m.forwardTick(context.Background())

	assert.Equal(t, []string{"abc121", "abc122", "abc123", "abc124"}, rec.received())
	assert.Equal(t, "abc124", m.LastID())
	assert.Equal(t, "abc121", m.OldestID())
}

func TestManager_ConvertsMessagesToLines(t *testing.T) {
	m, rec := newTestManager(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, pollResult{Messages: []Message{
			{ID: "F16R9001", Data: "[CO2] 640 [Temp] 21.5"},
		}})
	})

	m.forwardTick(context.Background())

	// Data carries no device id, so the first four characters of the message
	// id supply it.
	require.Len(t, rec.lines, 1)
	assert.Equal(t, "F16R [CO2] 640 [Temp] 21.5", rec.lines[0])
}

func TestManager_AnnouncementMessagesKeepMarker(t *testing.T) {
	m, rec := newTestManager(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, pollResult{Messages: []Message{
			{ID: "5001", Data: "AREA: FLOOR11 (no probes)"},
			{ID: "5002", Data: "STAT: FLOOR12 TEMP min:18 max:26 min_o:19.5 max_o:24.2"},
		}})
	})

	m.forwardTick(context.Background())

	// Conversion must not strip the colon markers as device-id prefixes.
	require.Len(t, rec.lines, 2)
	assert.Equal(t, "AREA: FLOOR11 (no probes)", rec.lines[0])
	assert.Equal(t, "STAT: FLOOR12 TEMP min:18 max:26 min_o:19.5 max_o:24.2", rec.lines[1])
}

func TestManager_FailedCycleLeavesCursorsUntouched(t *testing.T) {
	var fail bool
	m, rec := newTestManager(t, func(w http.ResponseWriter, r *http.Request) {
		if fail {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		writeJSON(w, pollResult{Messages: []Message{
			{ID: "20", Data: "AB12 [CO2] 700"},
		}})
	})

	m.forwardTick(context.Background())
	require.Equal(t, "20", m.LastID())

	fail = true
	m.forwardTick(context.Background())

	assert.Equal(t, "20", m.LastID())
	assert.Equal(t, "20", m.OldestID())
	assert.Len(t, rec.received(), 1)
}

func TestManager_UnauthorizedCycleSkipped(t *testing.T) {
	m, rec := newTestManager(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})

	m.forwardTick(context.Background())

	assert.Empty(t, rec.received())
	assert.Empty(t, m.LastID())
}

func TestManager_FailedCyclesCountAsErrors(t *testing.T) {
	registry := metric.NewRegistry()
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	rec := &sinkRecorder{}
	m, err := NewManager(ManagerDeps{
		Client:          client,
		Sink:            rec.sink,
		MetricsRegistry: registry,
	})
	require.NoError(t, err)

	m.forwardTick(context.Background())

	rr := httptest.NewRecorder()
	registry.Handler().ServeHTTP(rr, httptest.NewRequest("GET", "/metrics", nil))
	assert.Contains(t, rr.Body.String(),
		`probemaster_errors_total{component="poll-manager",type="transport"} 1`)
}

func TestManager_BackwardNoopWithoutCursor(t *testing.T) {
	var called bool
	m, _ := newTestManager(t, func(w http.ResponseWriter, r *http.Request) {
		called = true
		writeJSON(w, pollResult{})
	})

	m.backwardTick(context.Background())
	assert.False(t, called)
}

func TestManager_BackwardBackfillsOlderMessages(t *testing.T) {
	var gotBefore string
	m, rec := newTestManager(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Has("beforeId") {
			gotBefore = r.URL.Query().Get("beforeId")
			writeJSON(w, pollResult{Messages: []Message{
				{ID: "7", Data: "AB12 [Temp] 20"},
			}})
			return
		}
		writeJSON(w, pollResult{Messages: []Message{
			{ID: "10", Data: "AB12 [CO2] 650"},
		}})
	})

	m.forwardTick(context.Background())
	m.backwardTick(context.Background())

	assert.Equal(t, "10", gotBefore)
	assert.Equal(t, []string{"10", "7"}, rec.received())
	assert.Equal(t, "10", m.LastID())
	assert.Equal(t, "7", m.OldestID())
}

func TestManager_StartStopLifecycle(t *testing.T) {
	m, _ := newTestManager(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, pollResult{})
	})
	m.forward = 50 * time.Millisecond
	m.backward = 50 * time.Millisecond

	require.NoError(t, m.Start(context.Background()))
	assert.Error(t, m.Start(context.Background()))

	require.NoError(t, m.Stop(time.Second))
	assert.NoError(t, m.Stop(time.Second))
}

func TestNewManager_RequiresClientAndSink(t *testing.T) {
	_, err := NewManager(ManagerDeps{Sink: func(string, string) {}})
	assert.Error(t, err)

	client := NewClient(ClientConfig{BaseURL: "http://localhost:0"}, nil)
	_, err = NewManager(ManagerDeps{Client: client})
	assert.Error(t, err)
}
