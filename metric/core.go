// Package metric provides Prometheus metrics for the ingestion pipeline: a
// registry owning the prometheus.Registry plus the core platform metric set.
// Components register their own metrics through the Registry; nil registry
// means metrics are disabled (nil input = nil feature pattern).
package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Namespace prefixes every metric exported by this process.
const Namespace = "probemaster"

const namespace = Namespace

// Metrics contains the platform-level metrics shared by the pipeline.
type Metrics struct {
	LinesReceived       *prometheus.CounterVec
	ReadingsParsed      prometheus.Counter
	AnnouncementsParsed *prometheus.CounterVec
	ParseRejects        *prometheus.CounterVec
	MergesApplied       *prometheus.CounterVec
	ErrorsTotal         *prometheus.CounterVec
	LastLineTimestamp   prometheus.Gauge
}

// NewMetrics creates the core metric set.
func NewMetrics() *Metrics {
	return &Metrics{
		LinesReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "lines",
				Name:      "received_total",
				Help:      "Total lines received, by source (serial, poll, rest)",
			},
			[]string{"source"},
		),

		ReadingsParsed: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "readings",
				Name:      "parsed_total",
				Help:      "Total readings successfully parsed",
			},
		),

		AnnouncementsParsed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "announcements",
				Name:      "parsed_total",
				Help:      "Total announcements successfully parsed, by kind",
			},
			[]string{"kind"},
		),

		ParseRejects: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "lines",
				Name:      "rejected_total",
				Help:      "Lines that produced neither a reading nor an announcement",
			},
			[]string{"source"},
		),

		MergesApplied: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "reconciler",
				Name:      "merges_total",
				Help:      "Total merge operations applied to the entity graph, by operation",
			},
			[]string{"operation"},
		),

		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "errors",
				Name:      "total",
				Help:      "Total errors, by component and type",
			},
			[]string{"component", "type"},
		),

		LastLineTimestamp: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "lines",
				Name:      "last_received_timestamp",
				Help:      "Unix timestamp of the most recently received line",
			},
		),
	}
}

// RecordLine increments the received-line counter and stamps last activity.
func (m *Metrics) RecordLine(source string, now time.Time) {
	m.LinesReceived.WithLabelValues(source).Inc()
	m.LastLineTimestamp.Set(float64(now.Unix()))
}

// RecordReading increments the parsed-reading counter.
func (m *Metrics) RecordReading() {
	m.ReadingsParsed.Inc()
}

// RecordAnnouncement increments the parsed-announcement counter.
func (m *Metrics) RecordAnnouncement(kind string) {
	m.AnnouncementsParsed.WithLabelValues(kind).Inc()
}

// RecordReject increments the rejected-line counter.
func (m *Metrics) RecordReject(source string) {
	m.ParseRejects.WithLabelValues(source).Inc()
}

// RecordMerge increments the merge counter.
func (m *Metrics) RecordMerge(operation string) {
	m.MergesApplied.WithLabelValues(operation).Inc()
}

// RecordError increments the error counter.
func (m *Metrics) RecordError(component, errorType string) {
	m.ErrorsTotal.WithLabelValues(component, errorType).Inc()
}
