package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Nathan219/probemaster2-sub000/errors"
	"github.com/Nathan219/probemaster2-sub000/metric"
	"github.com/Nathan219/probemaster2-sub000/state"
)

// Bridge defaults.
const (
	DefaultFlushInterval = 500 * time.Millisecond
	DefaultQueueCapacity = 256
	DefaultWriteTimeout  = 2 * time.Second
)

// BridgeDeps holds runtime dependencies for the persistence bridge.
type BridgeDeps struct {
	Store         Store
	Reconciler    *state.Reconciler
	Logger        *slog.Logger
	Metrics       *metric.Metrics // nil disables metrics
	FlushInterval time.Duration
	QueueCapacity int
	WriteTimeout  time.Duration
}

type writeOp struct {
	bucket string
	key    string
	value  []byte
}

// Bridge decouples persistence from ingestion. Probe and location writes are
// queued fire-and-forget: a full queue or a failing store costs durability,
// never throughput. Area-graph snapshots are coalesced behind a dirty flag
// and flushed on an interval and at shutdown.
type Bridge struct {
	store   Store
	rec     *state.Reconciler
	logger  *slog.Logger
	metrics *metric.Metrics
	flushIv time.Duration
	timeout time.Duration

	queue chan writeOp
	dirty atomic.Bool

	running  atomic.Bool
	shutdown chan struct{}
	done     chan struct{}
	wg       sync.WaitGroup
}

// NewBridge creates a persistence bridge.
func NewBridge(deps BridgeDeps) (*Bridge, error) {
	if deps.Store == nil {
		return nil, errors.WrapInvalid(fmt.Errorf("nil store"),
			"bridge", "NewBridge", "store validation")
	}
	if deps.Reconciler == nil {
		return nil, errors.WrapInvalid(fmt.Errorf("nil reconciler"),
			"bridge", "NewBridge", "reconciler validation")
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default().With("component", "bridge")
	}
	flushIv := deps.FlushInterval
	if flushIv <= 0 {
		flushIv = DefaultFlushInterval
	}
	capacity := deps.QueueCapacity
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	timeout := deps.WriteTimeout
	if timeout <= 0 {
		timeout = DefaultWriteTimeout
	}

	return &Bridge{
		store:   deps.Store,
		rec:     deps.Reconciler,
		logger:  logger,
		metrics: deps.Metrics,
		flushIv: flushIv,
		timeout: timeout,
		queue:   make(chan writeOp, capacity),
	}, nil
}

// Start launches the write worker and the snapshot flusher.
func (b *Bridge) Start(_ context.Context) error {
	if !b.running.CompareAndSwap(false, true) {
		return errors.ErrAlreadyStarted
	}

	b.shutdown = make(chan struct{})
	b.done = make(chan struct{})

	b.wg.Add(2)
	go b.writeLoop()
	go b.flushLoop()

	go func() {
		b.wg.Wait()
		close(b.done)
	}()

	return nil
}

// Stop drains the write queue and performs a final snapshot flush.
func (b *Bridge) Stop(timeout time.Duration) error {
	if !b.running.CompareAndSwap(true, false) {
		return nil
	}

	close(b.shutdown)

	select {
	case <-b.done:
		return nil
	case <-time.After(timeout):
		return errors.WrapTransient(fmt.Errorf("stop timeout after %v", timeout),
			"bridge", "Stop", "graceful shutdown")
	}
}

// PutProbe queues a probe write. Never blocks; on a full queue the write is
// dropped and logged.
func (b *Bridge) PutProbe(probe state.Probe) {
	b.enqueue(BucketProbes, probe.ID, probe)
}

// PutLocation queues a location write.
func (b *Bridge) PutLocation(loc state.Location) {
	b.enqueue(BucketLocations, loc.ID, loc)
}

// MarkDirty schedules an area-graph snapshot on the next flush tick.
func (b *Bridge) MarkDirty() {
	b.dirty.Store(true)
}

// Load repopulates the reconciler from persisted state. Called once at
// startup before any input source starts; a missing bucket is not an error.
func (b *Bridge) Load(ctx context.Context) error {
	probes, err := loadBucket[state.Probe](ctx, b.store, BucketProbes)
	if err != nil {
		return err
	}
	locations, err := loadBucket[state.Location](ctx, b.store, BucketLocations)
	if err != nil {
		return err
	}
	areas, err := loadBucket[state.Area](ctx, b.store, BucketAreas)
	if err != nil {
		return err
	}

	b.rec.Restore(probes, locations, areas)
	b.logger.Info("state restored",
		"probes", len(probes), "locations", len(locations), "areas", len(areas))
	return nil
}

func loadBucket[T any](ctx context.Context, s Store, bucket string) ([]T, error) {
	raw, err := s.GetAll(ctx, bucket)
	if err != nil {
		return nil, errors.WrapTransient(fmt.Errorf("load %s: %w", bucket, err),
			"bridge", "Load", "bucket read")
	}

	out := make([]T, 0, len(raw))
	for key, value := range raw {
		var item T
		if err := json.Unmarshal(value, &item); err != nil {
			// Corrupt entries are skipped, not fatal: the graph rebuilds from
			// the live stream anyway.
			slog.Warn("skipping corrupt persisted entry", "bucket", bucket, "key", key)
			continue
		}
		out = append(out, item)
	}
	return out, nil
}

func (b *Bridge) enqueue(bucket, key string, item any) {
	value, err := json.Marshal(item)
	if err != nil {
		b.logger.Error("marshal for persistence failed", "bucket", bucket, "key", key, "error", err)
		return
	}

	select {
	case b.queue <- writeOp{bucket: bucket, key: key, value: value}:
	default:
		b.logger.Warn("persistence queue full, dropping write", "bucket", bucket, "key", key)
	}
}

func (b *Bridge) writeLoop() {
	defer b.wg.Done()

	for {
		select {
		case op := <-b.queue:
			b.write(op)
		case <-b.shutdown:
			// Drain whatever is still queued before exiting.
			for {
				select {
				case op := <-b.queue:
					b.write(op)
				default:
					return
				}
			}
		}
	}
}

func (b *Bridge) write(op writeOp) {
	ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
	defer cancel()

	if err := b.store.Put(ctx, op.bucket, op.key, op.value); err != nil {
		b.logger.Warn("persistence write failed",
			"bucket", op.bucket, "key", op.key, "error", err)
		if b.metrics != nil {
			b.metrics.RecordError("bridge", "write_failed")
		}
	}
}

func (b *Bridge) flushLoop() {
	defer b.wg.Done()

	ticker := time.NewTicker(b.flushIv)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			b.flushIfDirty()
		case <-b.shutdown:
			b.flushIfDirty()
			return
		}
	}
}

// flushIfDirty snapshots every area when the graph changed since the last
// flush. Coalescing through the dirty flag keeps write volume bounded no
// matter how fast announcements arrive.
func (b *Bridge) flushIfDirty() {
	if !b.dirty.Swap(false) {
		return
	}

	for _, area := range b.rec.Areas() {
		value, err := json.Marshal(area)
		if err != nil {
			b.logger.Error("marshal area snapshot failed", "area", area.Name, "error", err)
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
		if err := b.store.Put(ctx, BucketAreas, area.Name, value); err != nil {
			// Leave dirty set so the next tick retries the snapshot.
			b.dirty.Store(true)
			b.logger.Warn("area snapshot write failed", "area", area.Name, "error", err)
			if b.metrics != nil {
				b.metrics.RecordError("bridge", "snapshot_failed")
			}
		}
		cancel()
	}
}
