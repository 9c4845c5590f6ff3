// Package telemetry defines the canonical domain model for probe telemetry:
// readings, announcements, metric names, and probe identity rules. Everything
// downstream of the wire parsers speaks these types only.
package telemetry

import (
	"strings"
)

// Metric is a canonical metric name. Exactly four metrics exist; every wire
// spelling (TEMP, temp, DB, dB, noise, ...) is folded onto one of them before
// being used as a map key anywhere in the system.
type Metric string

const (
	MetricCO2   Metric = "CO2"
	MetricTemp  Metric = "Temp"
	MetricHum   Metric = "Hum"
	MetricSound Metric = "Sound"
)

// Metrics lists all canonical metrics in display order.
var Metrics = []Metric{MetricCO2, MetricTemp, MetricHum, MetricSound}

// CanonicalMetric folds a wire-format metric token onto its canonical name.
// Matching is case-insensitive and prefix-based for the spellings seen in the
// field: "co2", "CO2", "temp", "TEMP", "temperature", "hum", "humidity",
// "db", "dB", "sound", "noise". Returns false for unrecognized tokens.
func CanonicalMetric(token string) (Metric, bool) {
	t := strings.ToLower(strings.TrimSpace(token))
	switch {
	case t == "":
		return "", false
	case strings.HasPrefix(t, "co2"):
		return MetricCO2, true
	case strings.HasPrefix(t, "temp"):
		return MetricTemp, true
	case strings.HasPrefix(t, "hum"):
		return MetricHum, true
	case strings.HasPrefix(t, "sound"), strings.HasPrefix(t, "db"), strings.HasPrefix(t, "noise"):
		return MetricSound, true
	default:
		return "", false
	}
}
