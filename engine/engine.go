// Package engine wires the input sources to the state reconciler: every line,
// whatever its origin, is queued as an envelope and applied by exactly one
// goroutine, so merge order is dequeue order and the reconciler needs no
// external locking beyond its snapshot reads.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/Nathan219/probemaster2-sub000/errors"
	"github.com/Nathan219/probemaster2-sub000/metric"
	"github.com/Nathan219/probemaster2-sub000/pkg/timestamp"
	"github.com/Nathan219/probemaster2-sub000/state"
	"github.com/Nathan219/probemaster2-sub000/telemetry"
	"github.com/Nathan219/probemaster2-sub000/wire"
)

// Input source labels used in logs and metrics.
const (
	SourceSerial = "serial"
	SourcePoll   = "poll"
	SourceREST   = "rest"
)

// DefaultQueueSize bounds the envelope channel.
const DefaultQueueSize = 1024

// Envelope is one line of input awaiting reconciliation.
type Envelope struct {
	Line      string
	MessageID string
	Source    string
}

// Deps holds runtime dependencies for the engine.
type Deps struct {
	Reconciler *state.Reconciler
	Logger     *slog.Logger
	Metrics    *metric.Metrics // nil disables metrics
	Clock      timestamp.Clock
	QueueSize  int
}

// Engine owns the envelope queue and the single reconciling goroutine.
type Engine struct {
	rec     *state.Reconciler
	logger  *slog.Logger
	metrics *metric.Metrics
	clock   timestamp.Clock

	in chan Envelope

	running  atomic.Bool
	shutdown chan struct{}
	done     chan struct{}
}

// New creates an engine.
func New(deps Deps) (*Engine, error) {
	if deps.Reconciler == nil {
		return nil, errors.WrapInvalid(fmt.Errorf("nil reconciler"),
			"engine", "New", "reconciler validation")
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default().With("component", "engine")
	}
	clock := deps.Clock
	if clock == nil {
		clock = timestamp.SystemClock
	}
	size := deps.QueueSize
	if size <= 0 {
		size = DefaultQueueSize
	}

	return &Engine{
		rec:     deps.Reconciler,
		logger:  logger,
		metrics: deps.Metrics,
		clock:   clock,
		in:      make(chan Envelope, size),
	}, nil
}

// Start launches the reconciling goroutine.
func (e *Engine) Start(_ context.Context) error {
	if !e.running.CompareAndSwap(false, true) {
		return errors.ErrAlreadyStarted
	}

	e.shutdown = make(chan struct{})
	e.done = make(chan struct{})

	go e.loop()
	return nil
}

// Stop drains nothing: envelopes still queued at shutdown are dropped, the
// same as lines lost when the process dies. Producers must be stopped first.
func (e *Engine) Stop(timeout time.Duration) error {
	if !e.running.CompareAndSwap(true, false) {
		return nil
	}

	close(e.shutdown)

	select {
	case <-e.done:
		return nil
	case <-time.After(timeout):
		return errors.WrapTransient(fmt.Errorf("stop timeout after %v", timeout),
			"engine", "Stop", "graceful shutdown")
	}
}

// Enqueue queues one line for reconciliation. Blocks while the queue is full
// so producers apply natural backpressure; returns false once the engine is
// stopping.
func (e *Engine) Enqueue(line, messageID, source string) bool {
	if !e.running.Load() {
		return false
	}
	select {
	case e.in <- Envelope{Line: line, MessageID: messageID, Source: source}:
		return true
	case <-e.shutdown:
		return false
	}
}

// SerialSink adapts Enqueue to the transport sink signature.
func (e *Engine) SerialSink() func(line string) {
	return func(line string) {
		e.Enqueue(line, "", SourceSerial)
	}
}

// PollSink adapts Enqueue to the poll sink signature. REST-translated lines
// arrive with an empty message id and are labeled accordingly.
func (e *Engine) PollSink() func(messageID, line string) {
	return func(messageID, line string) {
		source := SourcePoll
		if messageID == "" {
			source = SourceREST
		}
		e.Enqueue(line, messageID, source)
	}
}

// Queued returns the number of envelopes waiting for reconciliation.
func (e *Engine) Queued() int {
	return len(e.in)
}

func (e *Engine) loop() {
	defer close(e.done)

	for {
		select {
		case <-e.shutdown:
			return
		case env := <-e.in:
			e.process(env)
		}
	}
}

// process applies one envelope. The announcement parser sees the full line
// because announcement markers may sit past a device-id prefix that the
// normalizer would otherwise consume; only unrecognized lines proceed to
// normalization and reading parsing. Nothing here may panic or halt the loop.
func (e *Engine) process(env Envelope) {
	now := e.clock()
	if e.metrics != nil {
		e.metrics.RecordLine(env.Source, now)
	}

	if wire.IsBlank(env.Line) {
		return
	}

	if a := wire.ParseAnnouncement(env.Line); a.Kind != telemetry.AnnouncementUnknown {
		e.rec.Apply(a)
		if e.metrics != nil {
			e.metrics.RecordAnnouncement(string(a.Kind))
			e.metrics.RecordMerge("apply_" + string(a.Kind))
		}
		return
	}

	line := wire.Normalize(env.Line, env.MessageID)
	reading, ok := wire.ParseReading(line.Payload, line.DeviceID, timestamp.ToUnixMs(now))
	if !ok {
		if e.metrics != nil {
			e.metrics.RecordReject(env.Source)
		}
		e.logger.Debug("line not parseable", "source", env.Source, "line", env.Line)
		return
	}

	e.rec.ApplyReading(reading)
	if e.metrics != nil {
		e.metrics.RecordReading()
		e.metrics.RecordMerge("apply_reading")
	}
}
