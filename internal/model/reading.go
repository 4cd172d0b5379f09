package model

import (
	"fmt"
	"time"
)

// Reading is a single timestamped ambient-light measurement. Immutable once
// created; chip temperature travels with the reading but has no effect on
// buffering or delivery.
type Reading struct {
	Timestamp int64   `json:"timestamp"`
	Lux       float64 `json:"lux"`
	ChipTempC float64 `json:"chip_temp_c,omitempty"`
}

// NewReading creates a reading stamped with the given time.
func NewReading(ts time.Time, lux, chipTempC float64) Reading {
	return Reading{Timestamp: ts.Unix(), Lux: lux, ChipTempC: chipTempC}
}

// Time returns the reading's timestamp as a time.Time in UTC.
func (r Reading) Time() time.Time {
	return time.Unix(r.Timestamp, 0).UTC()
}

func (r Reading) String() string {
	return fmt.Sprintf("%s lux=%.2f", r.Time().Format(time.RFC3339), r.Lux)
}

// StatusUpdate is a device health message sent over the same delivery path
// as readings.
type StatusUpdate struct {
	Status         string
	BatteryVoltage *float64
	BatteryPercent *int
	SignalDBm      *int
}
