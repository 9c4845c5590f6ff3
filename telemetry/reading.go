package telemetry

import (
	"math"
)

// Reading is one timestamped multi-metric sensor sample. Absent metrics are
// NaN, never zero: a missing CO2 value must not drag averages toward 0.
// Readings are immutable once created and appended to an ordered log.
type Reading struct {
	Timestamp int64   `json:"timestamp"` // Unix milliseconds
	ProbeID   string  `json:"probeId"`
	CO2       float64 `json:"co2"`
	Temp      float64 `json:"temp"`
	Hum       float64 `json:"hum"`
	Sound     float64 `json:"sound"`
}

// NewReading returns a Reading with all metrics absent.
func NewReading(timestamp int64, probeID string) Reading {
	nan := math.NaN()
	return Reading{
		Timestamp: timestamp,
		ProbeID:   probeID,
		CO2:       nan,
		Temp:      nan,
		Hum:       nan,
		Sound:     nan,
	}
}

// Valid reports whether at least one of the four metrics is finite.
// A reading with no finite metric carries no information and is rejected.
func (r Reading) Valid() bool {
	return isFinite(r.CO2) || isFinite(r.Temp) || isFinite(r.Hum) || isFinite(r.Sound)
}

// Value returns the named metric's value and whether it is present (finite).
func (r Reading) Value(m Metric) (float64, bool) {
	var v float64
	switch m {
	case MetricCO2:
		v = r.CO2
	case MetricTemp:
		v = r.Temp
	case MetricHum:
		v = r.Hum
	case MetricSound:
		v = r.Sound
	default:
		return 0, false
	}
	if !isFinite(v) {
		return 0, false
	}
	return v, true
}

// Set assigns the named metric. Unknown metrics are ignored.
func (r *Reading) Set(m Metric, v float64) {
	switch m {
	case MetricCO2:
		r.CO2 = v
	case MetricTemp:
		r.Temp = v
	case MetricHum:
		r.Hum = v
	case MetricSound:
		r.Sound = v
	}
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
