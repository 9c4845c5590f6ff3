package store

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/Nathan219/probemaster2-sub000/errors"
	"github.com/Nathan219/probemaster2-sub000/pkg/retry"
)

// NATSConfig configures the JetStream KV backend.
type NATSConfig struct {
	BucketPrefix string        // prefixed to every bucket name, e.g. "probemaster"
	Replicas     int           // KV stream replicas, default 1
	Timeout      time.Duration // per-operation timeout, default 5s
}

// NATS is a Store backed by JetStream key-value buckets. Buckets are created
// on first use and the handles cached for the life of the store.
type NATS struct {
	js      jetstream.JetStream
	config  NATSConfig
	mu      sync.Mutex
	buckets map[string]jetstream.KeyValue
}

// NewNATS creates a JetStream-backed store.
func NewNATS(js jetstream.JetStream, cfg NATSConfig) (*NATS, error) {
	if js == nil {
		return nil, errors.WrapInvalid(fmt.Errorf("nil jetstream context"),
			"nats-store", "NewNATS", "jetstream validation")
	}
	if cfg.Replicas <= 0 {
		cfg.Replicas = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	return &NATS{
		js:      js,
		config:  cfg,
		buckets: make(map[string]jetstream.KeyValue),
	}, nil
}

func (n *NATS) bucketName(bucket string) string {
	if n.config.BucketPrefix == "" {
		return bucket
	}
	return n.config.BucketPrefix + "-" + bucket
}

func (n *NATS) bucket(ctx context.Context, bucket string) (jetstream.KeyValue, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if kv, ok := n.buckets[bucket]; ok {
		return kv, nil
	}

	// Bucket creation can race a reconnecting server; retry with backoff
	// before declaring the store unavailable.
	kv, err := retry.DoWithResult(ctx, errors.DefaultRetryConfig().ToRetryConfig(),
		func() (jetstream.KeyValue, error) {
			return n.js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
				Bucket:   n.bucketName(bucket),
				Replicas: n.config.Replicas,
			})
		})
	if err != nil {
		return nil, errors.WrapTransient(
			fmt.Errorf("%w: bucket %s: %v", errors.ErrStoreUnavailable, bucket, err),
			"nats-store", "bucket", "KV bucket acquisition")
	}

	n.buckets[bucket] = kv
	return kv, nil
}

func (n *NATS) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, n.config.Timeout)
}

// Get implements Store.
func (n *NATS) Get(ctx context.Context, bucket, key string) ([]byte, error) {
	ctx, cancel := n.withTimeout(ctx)
	defer cancel()

	kv, err := n.bucket(ctx, bucket)
	if err != nil {
		return nil, err
	}

	entry, err := kv.Get(ctx, key)
	if err != nil {
		if isKeyNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, errors.WrapTransient(fmt.Errorf("get %s/%s: %w", bucket, key, err),
			"nats-store", "Get", "KV read")
	}
	return entry.Value(), nil
}

// GetAll implements Store. A bucket that has never been written reads back
// empty rather than failing.
func (n *NATS) GetAll(ctx context.Context, bucket string) (map[string][]byte, error) {
	ctx, cancel := n.withTimeout(ctx)
	defer cancel()

	kv, err := n.bucket(ctx, bucket)
	if err != nil {
		return nil, err
	}

	out := make(map[string][]byte)

	lister, err := kv.ListKeys(ctx)
	if err != nil {
		if isNoKeys(err) {
			return out, nil
		}
		return nil, errors.WrapTransient(fmt.Errorf("list %s: %w", bucket, err),
			"nats-store", "GetAll", "KV key listing")
	}

	for key := range lister.Keys() {
		entry, err := kv.Get(ctx, key)
		if err != nil {
			if isKeyNotFound(err) {
				continue
			}
			return nil, errors.WrapTransient(fmt.Errorf("get %s/%s: %w", bucket, key, err),
				"nats-store", "GetAll", "KV read")
		}
		out[key] = entry.Value()
	}
	return out, nil
}

// Put implements Store. Last writer wins; no revision check.
func (n *NATS) Put(ctx context.Context, bucket, key string, value []byte) error {
	ctx, cancel := n.withTimeout(ctx)
	defer cancel()

	kv, err := n.bucket(ctx, bucket)
	if err != nil {
		return err
	}

	if _, err := kv.Put(ctx, key, value); err != nil {
		return errors.WrapTransient(fmt.Errorf("put %s/%s: %w", bucket, key, err),
			"nats-store", "Put", "KV write")
	}
	return nil
}

// Clear implements Store.
func (n *NATS) Clear(ctx context.Context, bucket string) error {
	ctx, cancel := n.withTimeout(ctx)
	defer cancel()

	kv, err := n.bucket(ctx, bucket)
	if err != nil {
		return err
	}

	lister, err := kv.ListKeys(ctx)
	if err != nil {
		if isNoKeys(err) {
			return nil
		}
		return errors.WrapTransient(fmt.Errorf("list %s: %w", bucket, err),
			"nats-store", "Clear", "KV key listing")
	}

	for key := range lister.Keys() {
		if err := kv.Purge(ctx, key); err != nil {
			return errors.WrapTransient(fmt.Errorf("purge %s/%s: %w", bucket, key, err),
				"nats-store", "Clear", "KV purge")
		}
	}
	return nil
}

func isKeyNotFound(err error) bool {
	return stderrors.Is(err, jetstream.ErrKeyNotFound) ||
		strings.Contains(err.Error(), "key not found")
}

func isNoKeys(err error) bool {
	return stderrors.Is(err, jetstream.ErrNoKeysFound) ||
		strings.Contains(err.Error(), "no keys found")
}
