// Package timestamp provides standardized Unix timestamp handling.
//
// Unix milliseconds (int64, UTC) are the canonical timestamp format across the
// codebase: reading timestamps, freshness stamps, and pixel update times all use
// it. A value of 0 means "not set".
package timestamp

import (
	"time"
)

// Now returns the current time as Unix milliseconds.
func Now() int64 {
	return time.Now().UnixMilli()
}

// ToUnixMs converts a time.Time to Unix milliseconds.
func ToUnixMs(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

// FromUnixMs converts Unix milliseconds to time.Time.
// Returns zero time if ms is 0.
func FromUnixMs(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

// Format converts Unix milliseconds to an RFC3339 string for display.
// Returns empty string if ms is 0.
func Format(ms int64) string {
	if ms == 0 {
		return ""
	}
	return time.UnixMilli(ms).UTC().Format(time.RFC3339)
}

// Age returns the duration elapsed since ms, using now as the reference.
// Returns 0 for unset timestamps.
func Age(ms int64, now time.Time) time.Duration {
	if ms == 0 {
		return 0
	}
	return now.Sub(time.UnixMilli(ms))
}

// Clock supplies the current time. Injected into components so tests can run
// without wall-clock dependence.
type Clock func() time.Time

// SystemClock is the default Clock backed by time.Now.
func SystemClock() time.Time {
	return time.Now()
}
