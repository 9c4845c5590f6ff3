// Package probemaster ingests environmental-probe telemetry from a serial
// byte stream and a cursor-based HTTP polling endpoint, normalizes the
// tolerant line-oriented wire protocol into readings and announcements, and
// reconciles them into a single entity graph of areas, locations, probes,
// thresholds, statistics and display pixels.
//
// Layout:
//
//   - telemetry: canonical domain records (readings, announcements, metrics)
//   - wire: line normalizer, multi-dialect reading parser, announcement parser
//   - poll: HTTP poll client, forward/backward cursor loops, REST fact fetchers
//   - transport: serial input with partial-line reassembly
//   - state: the entity graph and its idempotent merge rules
//   - store: persistence bridge with in-memory and JetStream KV backends
//   - engine: the single reconciling goroutine tying inputs to state
//   - metric, health, errors, config: ambient infrastructure
//
// The binary lives in cmd/probemaster.
package probemaster
