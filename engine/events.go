package engine

import (
	"sync"

	"github.com/Nathan219/probemaster2-sub000/telemetry"
)

// EventType labels a state-change notification.
type EventType string

const (
	EventReading         EventType = "reading"
	EventArea            EventType = "area"
	EventThreshold       EventType = "threshold"
	EventStat            EventType = "stat"
	EventBaseline        EventType = "baseline"
	EventPixels          EventType = "pixels"
	EventProbeReassigned EventType = "probe_reassigned"
	EventProbesCleared   EventType = "probes_cleared"
)

// Event is one state-change notification fanned out to subscribers. Fields
// beyond Type are populated per event type.
type Event struct {
	Type       EventType
	Area       string
	Metric     telemetry.Metric
	Reading    telemetry.Reading
	ProbeID    string
	LocationID string
	Count      int
	Enabled    bool
}

// Emitter fans out state events to subscriber channels. Publishing never
// blocks: a subscriber whose channel is full loses the event, which keeps the
// reconciling goroutine immune to slow consumers.
type Emitter struct {
	mu   sync.RWMutex
	subs map[string]chan Event
}

// NewEmitter creates an event emitter.
func NewEmitter() *Emitter {
	return &Emitter{subs: make(map[string]chan Event)}
}

// Subscribe registers a named subscriber with the given channel capacity.
// Re-subscribing under the same name replaces (and closes) the old channel.
func (em *Emitter) Subscribe(name string, capacity int) <-chan Event {
	if capacity <= 0 {
		capacity = 64
	}

	em.mu.Lock()
	defer em.mu.Unlock()

	if old, ok := em.subs[name]; ok {
		close(old)
	}
	ch := make(chan Event, capacity)
	em.subs[name] = ch
	return ch
}

// Unsubscribe removes and closes a subscriber channel.
func (em *Emitter) Unsubscribe(name string) {
	em.mu.Lock()
	defer em.mu.Unlock()

	if ch, ok := em.subs[name]; ok {
		close(ch)
		delete(em.subs, name)
	}
}

func (em *Emitter) publish(ev Event) {
	em.mu.RLock()
	defer em.mu.RUnlock()

	for _, ch := range em.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// ReadingApplied implements state.Events.
func (em *Emitter) ReadingApplied(r telemetry.Reading) {
	em.publish(Event{Type: EventReading, ProbeID: r.ProbeID, Reading: r})
}

// AreaUpdated implements state.Events.
func (em *Emitter) AreaUpdated(area string) {
	em.publish(Event{Type: EventArea, Area: area})
}

// ThresholdUpdated implements state.Events.
func (em *Emitter) ThresholdUpdated(area string, metric telemetry.Metric) {
	em.publish(Event{Type: EventThreshold, Area: area, Metric: metric})
}

// StatUpdated implements state.Events.
func (em *Emitter) StatUpdated(area string, metric telemetry.Metric) {
	em.publish(Event{Type: EventStat, Area: area, Metric: metric})
}

// BaselineUpdated implements state.Events.
func (em *Emitter) BaselineUpdated(area string, enabled bool) {
	em.publish(Event{Type: EventBaseline, Area: area, Enabled: enabled})
}

// PixelsUpdated implements state.Events.
func (em *Emitter) PixelsUpdated(area string, count int) {
	em.publish(Event{Type: EventPixels, Area: area, Count: count})
}

// ProbeReassigned implements state.Events.
func (em *Emitter) ProbeReassigned(probeID, locationID string) {
	em.publish(Event{Type: EventProbeReassigned, ProbeID: probeID, LocationID: locationID})
}

// ProbesCleared implements state.Events.
func (em *Emitter) ProbesCleared() {
	em.publish(Event{Type: EventProbesCleared})
}
