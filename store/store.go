// Package store provides the persistence layer: a bucket-keyed Store
// abstraction with in-memory and NATS JetStream KV backends, and the Bridge
// that writes entity state through asynchronously so persistence never blocks
// ingestion.
package store

import (
	"context"
	stderrors "errors"
)

// Bucket names used by the bridge.
const (
	BucketProbes    = "probes"
	BucketLocations = "locations"
	BucketAreas     = "areas"
)

// ErrNotFound is returned by Get for a missing key.
var ErrNotFound = stderrors.New("store: key not found")

// Store is a bucket-keyed byte store. Implementations must be safe for
// concurrent use, and Put must be idempotent so retried writes are harmless.
type Store interface {
	// Get returns the value stored under key, or ErrNotFound.
	Get(ctx context.Context, bucket, key string) ([]byte, error)

	// GetAll returns every key/value pair in the bucket.
	GetAll(ctx context.Context, bucket string) (map[string][]byte, error)

	// Put creates or replaces the value under key.
	Put(ctx context.Context, bucket, key string, value []byte) error

	// Clear removes every key in the bucket.
	Clear(ctx context.Context, bucket string) error
}
