package state

import (
	"github.com/Nathan219/probemaster2-sub000/telemetry"
)

// Events receives notifications after each successful merge. Implementations
// must not block: they are invoked from the single reconciling goroutine.
type Events interface {
	ReadingApplied(r telemetry.Reading)
	AreaUpdated(area string)
	ThresholdUpdated(area string, metric telemetry.Metric)
	StatUpdated(area string, metric telemetry.Metric)
	BaselineUpdated(area string, enabled bool)
	PixelsUpdated(area string, count int)
	ProbeReassigned(probeID, locationID string)
	ProbesCleared()
}

// MultiEvents fans one notification out to several sinks in order.
func MultiEvents(sinks ...Events) Events {
	return multiEvents(sinks)
}

type multiEvents []Events

func (m multiEvents) ReadingApplied(r telemetry.Reading) {
	for _, s := range m {
		s.ReadingApplied(r)
	}
}

func (m multiEvents) AreaUpdated(area string) {
	for _, s := range m {
		s.AreaUpdated(area)
	}
}

func (m multiEvents) ThresholdUpdated(area string, metric telemetry.Metric) {
	for _, s := range m {
		s.ThresholdUpdated(area, metric)
	}
}

func (m multiEvents) StatUpdated(area string, metric telemetry.Metric) {
	for _, s := range m {
		s.StatUpdated(area, metric)
	}
}

func (m multiEvents) BaselineUpdated(area string, enabled bool) {
	for _, s := range m {
		s.BaselineUpdated(area, enabled)
	}
}

func (m multiEvents) PixelsUpdated(area string, count int) {
	for _, s := range m {
		s.PixelsUpdated(area, count)
	}
}

func (m multiEvents) ProbeReassigned(probeID, locationID string) {
	for _, s := range m {
		s.ProbeReassigned(probeID, locationID)
	}
}

func (m multiEvents) ProbesCleared() {
	for _, s := range m {
		s.ProbesCleared()
	}
}

// NopEvents discards all notifications.
type NopEvents struct{}

func (NopEvents) ReadingApplied(telemetry.Reading)          {}
func (NopEvents) AreaUpdated(string)                        {}
func (NopEvents) ThresholdUpdated(string, telemetry.Metric) {}
func (NopEvents) StatUpdated(string, telemetry.Metric)      {}
func (NopEvents) BaselineUpdated(string, bool)              {}
func (NopEvents) PixelsUpdated(string, int)                 {}
func (NopEvents) ProbeReassigned(string, string)            {}
func (NopEvents) ProbesCleared()                            {}
