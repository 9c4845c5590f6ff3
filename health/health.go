// Package health tracks per-component health states and aggregates them into
// one process-level readiness signal served over HTTP.
package health

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// State is a component health level.
type State string

const (
	Healthy   State = "healthy"
	Degraded  State = "degraded"
	Unhealthy State = "unhealthy"
)

// Status is one component's current health.
type Status struct {
	Component string    `json:"component"`
	State     State     `json:"state"`
	Message   string    `json:"message,omitempty"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Monitor tracks component health statuses. Safe for concurrent use.
type Monitor struct {
	mu       sync.RWMutex
	statuses map[string]Status
}

// NewMonitor creates an empty health monitor.
func NewMonitor() *Monitor {
	return &Monitor{statuses: make(map[string]Status)}
}

func (m *Monitor) set(component string, state State, message string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statuses[component] = Status{
		Component: component,
		State:     state,
		Message:   message,
		UpdatedAt: time.Now(),
	}
}

// SetHealthy records a component as operating normally.
func (m *Monitor) SetHealthy(component, message string) {
	m.set(component, Healthy, message)
}

// SetDegraded records a component as running with reduced function, e.g. a
// poll loop that keeps getting 401s while the serial stream still flows.
func (m *Monitor) SetDegraded(component, message string) {
	m.set(component, Degraded, message)
}

// SetUnhealthy records a component as not functioning.
func (m *Monitor) SetUnhealthy(component, message string) {
	m.set(component, Unhealthy, message)
}

// Get returns one component's status.
func (m *Monitor) Get(component string) (Status, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.statuses[component]
	return s, ok
}

// All returns a snapshot of every component status.
func (m *Monitor) All() map[string]Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]Status, len(m.statuses))
	for k, v := range m.statuses {
		out[k] = v
	}
	return out
}

// Aggregate folds all component states into one: any unhealthy component
// makes the system unhealthy, otherwise any degraded component makes it
// degraded. An empty monitor is healthy.
func (m *Monitor) Aggregate() State {
	m.mu.RLock()
	defer m.mu.RUnlock()

	state := Healthy
	for _, s := range m.statuses {
		switch s.State {
		case Unhealthy:
			return Unhealthy
		case Degraded:
			state = Degraded
		}
	}
	return state
}

type healthResponse struct {
	State      State             `json:"state"`
	Components map[string]Status `json:"components"`
}

// Handler serves the aggregated health as JSON. Unhealthy reports 503 so
// orchestrators can act on the status code alone.
func (m *Monitor) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		state := m.Aggregate()

		w.Header().Set("Content-Type", "application/json")
		if state == Unhealthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(healthResponse{
			State:      state,
			Components: m.All(),
		})
	})
}
