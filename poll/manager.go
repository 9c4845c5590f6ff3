package poll

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Nathan219/probemaster2-sub000/errors"
	"github.com/Nathan219/probemaster2-sub000/metric"
	"github.com/Nathan219/probemaster2-sub000/wire"
)

// Default loop intervals. The backward loop is deliberately slow: backfill is
// best-effort and must never crowd out fresh data.
const (
	DefaultForwardInterval  = 10 * time.Second
	DefaultBackwardInterval = 60 * time.Second
)

// Sink receives one converted wire line per accepted poll message. The
// message id accompanies the line so downstream diagnostics can refer to it.
type Sink func(messageID, line string)

// ManagerDeps holds runtime dependencies for the poll manager.
type ManagerDeps struct {
	Client           *Client
	Sink             Sink
	Logger           *slog.Logger
	MetricsRegistry  *metric.Registry
	ForwardInterval  time.Duration
	BackwardInterval time.Duration
	BatchLength      int
	SeenCapacity     int
}

// Manager drives the two polling loops against the remote message endpoint.
// Both loops funnel through the same dedup gate, so a message id is delivered
// to the sink at most once regardless of overlapping poll windows.
type Manager struct {
	client   *Client
	sink     Sink
	logger   *slog.Logger
	metrics  *managerMetrics
	core     *metric.Metrics
	forward  time.Duration
	backward time.Duration
	length   int

	cursors cursors
	seen    *seenSet

	running  atomic.Bool
	shutdown chan struct{}
	done     chan struct{}
	wg       sync.WaitGroup
}

type managerMetrics struct {
	cycles     *prometheus.CounterVec
	failures   *prometheus.CounterVec
	duplicates prometheus.Counter
	delivered  prometheus.Counter
}

func newManagerMetrics(registry *metric.Registry) (*managerMetrics, error) {
	m := &managerMetrics{
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "poll",
			Name:      "cycles_total",
			Help:      "Poll cycles started, by loop direction.",
		}, []string{"direction"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "poll",
			Name:      "failures_total",
			Help:      "Poll cycles that aborted without advancing cursors.",
		}, []string{"direction", "reason"}),
		duplicates: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "poll",
			Name:      "duplicates_total",
			Help:      "Messages dropped by the dedup gate.",
		}),
		delivered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "poll",
			Name:      "messages_delivered_total",
			Help:      "Messages accepted and handed to the sink.",
		}),
	}

	for name, c := range map[string]prometheus.Collector{
		"cycles":     m.cycles,
		"failures":   m.failures,
		"duplicates": m.duplicates,
		"delivered":  m.delivered,
	} {
		if err := registry.Register("poll-manager", name, c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// NewManager creates a poll manager.
func NewManager(deps ManagerDeps) (*Manager, error) {
	if deps.Client == nil {
		return nil, errors.WrapInvalid(fmt.Errorf("nil client"),
			"poll-manager", "NewManager", "client validation")
	}
	if deps.Sink == nil {
		return nil, errors.WrapInvalid(fmt.Errorf("nil sink"),
			"poll-manager", "NewManager", "sink validation")
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default().With("component", "poll-manager")
	}
	forward := deps.ForwardInterval
	if forward <= 0 {
		forward = DefaultForwardInterval
	}
	backward := deps.BackwardInterval
	if backward <= 0 {
		backward = DefaultBackwardInterval
	}
	length := deps.BatchLength
	if length <= 0 {
		length = DefaultBatchLength
	}

	m := &Manager{
		client:   deps.Client,
		sink:     deps.Sink,
		logger:   logger,
		forward:  forward,
		backward: backward,
		length:   length,
		seen:     newSeenSet(deps.SeenCapacity),
	}

	if deps.MetricsRegistry != nil {
		metrics, err := newManagerMetrics(deps.MetricsRegistry)
		if err != nil {
			return nil, err
		}
		m.metrics = metrics
		m.core = deps.MetricsRegistry.Metrics
	}

	return m, nil
}

// Start launches the forward and backward polling loops.
func (m *Manager) Start(ctx context.Context) error {
	if !m.running.CompareAndSwap(false, true) {
		return errors.ErrAlreadyStarted
	}

	m.shutdown = make(chan struct{})
	m.done = make(chan struct{})

	m.wg.Add(2)
	go m.loop(ctx, m.forward, m.forwardTick)
	go m.loop(ctx, m.backward, m.backwardTick)

	go func() {
		m.wg.Wait()
		close(m.done)
	}()

	return nil
}

// Stop cancels both interval timers immediately and waits for in-flight
// cycles to finish.
func (m *Manager) Stop(timeout time.Duration) error {
	if !m.running.CompareAndSwap(true, false) {
		return nil
	}

	close(m.shutdown)

	select {
	case <-m.done:
		return nil
	case <-time.After(timeout):
		return errors.WrapTransient(fmt.Errorf("stop timeout after %v", timeout),
			"poll-manager", "Stop", "graceful shutdown")
	}
}

// LastID returns the forward cursor.
func (m *Manager) LastID() string { return m.cursors.last() }

// OldestID returns the backward cursor.
func (m *Manager) OldestID() string { return m.cursors.oldest() }

// loop runs tick at the given interval until shutdown. The first tick fires
// immediately so startup does not wait a full interval for data.
func (m *Manager) loop(ctx context.Context, interval time.Duration, tick func(context.Context)) {
	defer m.wg.Done()

	tick(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.shutdown:
			return
		case <-ticker.C:
			tick(ctx)
		}
	}
}

// forwardTick requests messages after the forward cursor (or the most recent
// page when no cursor exists yet) and delivers the new ones.
func (m *Manager) forwardTick(ctx context.Context) {
	m.recordCycle("forward")

	messages, err := m.client.Since(ctx, m.cursors.last(), m.length)
	if err != nil {
		m.recordFailure("forward", err)
		return
	}
	m.deliver(messages)
}

// backwardTick backfills history before the backward cursor. It is a no-op
// until a forward poll has established one.
func (m *Manager) backwardTick(ctx context.Context) {
	oldest := m.cursors.oldest()
	if oldest == "" {
		return
	}
	m.recordCycle("backward")

	messages, err := m.client.Before(ctx, oldest, m.length)
	if err != nil {
		m.recordFailure("backward", err)
		return
	}
	m.deliver(messages)
}

// deliver routes a batch through the dedup gate in server order, converting
// accepted messages to the wire line format and advancing both cursors.
// The seen set is checked before any parsing work is performed.
func (m *Manager) deliver(messages []Message) {
	for _, msg := range messages {
		if msg.ID == "" {
			continue
		}
		if !m.seen.add(msg.ID) {
			if m.metrics != nil {
				m.metrics.duplicates.Inc()
			}
			continue
		}

		m.cursors.observe(msg.ID)

		line := wire.ConvertPollMessage(msg.ID, msg.Data)
		m.sink(msg.ID, line)
		if m.metrics != nil {
			m.metrics.delivered.Inc()
		}
	}
}

func (m *Manager) recordCycle(direction string) {
	if m.metrics != nil {
		m.metrics.cycles.WithLabelValues(direction).Inc()
	}
}

// recordFailure logs a failed cycle. Cursors are left untouched so the next
// scheduled tick retries the same window; a 401 is skipped quietly rather
// than retried aggressively.
func (m *Manager) recordFailure(direction string, err error) {
	if errors.IsUnauthorized(err) {
		m.logger.Warn("poll cycle unauthorized, skipping", "direction", direction)
		if m.metrics != nil {
			m.metrics.failures.WithLabelValues(direction, "unauthorized").Inc()
		}
		if m.core != nil {
			m.core.RecordError("poll-manager", "unauthorized")
		}
		return
	}

	m.logger.Error("poll cycle failed", "direction", direction, "error", err)
	if m.metrics != nil {
		m.metrics.failures.WithLabelValues(direction, "transport").Inc()
	}
	if m.core != nil {
		m.core.RecordError("poll-manager", "transport")
	}
}
