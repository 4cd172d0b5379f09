// Package filter rejects readings with implausible timestamps before
// transmission. Readings taken before the clock was ever synchronized carry
// meaningless timestamps and must not pollute the server's time series;
// readings far in the future indicate clock corruption.
package filter

import (
	"time"

	"luxagent/internal/model"
)

// MinPlausibleTime is the oldest timestamp accepted for transmission.
// Anything earlier predates the deployment and means the clock was unset.
var MinPlausibleTime = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// MaxFutureSkew is how far ahead of now a timestamp may be before it is
// considered corrupt.
const MaxFutureSkew = time.Hour

// Plausible reports whether a single reading's timestamp is acceptable
// relative to now.
func Plausible(r model.Reading, now time.Time) bool {
	ts := r.Time()
	if ts.Before(MinPlausibleTime) {
		return false
	}
	if ts.After(now.Add(MaxFutureSkew)) {
		return false
	}
	return true
}

// Readings returns the readings whose timestamps are plausible, preserving
// order. Returns nil when nothing survives; callers treat that as a
// successful no-op send, not a failure.
func Readings(readings []model.Reading, now time.Time) []model.Reading {
	var out []model.Reading
	for _, r := range readings {
		if Plausible(r, now) {
			out = append(out, r)
		}
	}
	return out
}
