// Package sensor defines the measurement collaborators. The physical driver
// (a register read over a two-wire bus) lives outside this module; the agent
// consumes it through the Sensor interface. A simulated implementation is
// provided for bench runs and development hosts without hardware.
package sensor

import (
	"errors"
	"math"
	"math/rand"
	"sync"
	"time"
)

// ErrReadFailed is returned when the bus transaction fails; the sampler
// logs it and skips the sample without touching the buffer.
var ErrReadFailed = errors.New("sensor: read failed")

// Sensor reads the ambient light level in lux. Implementations must be fast
// bounded-latency calls.
type Sensor interface {
	Read() (lux float64, err error)
}

// TempSource reads the chip temperature accompanying each reading.
type TempSource interface {
	ReadCelsius() (float64, error)
}

// Simulated produces a plausible diurnal light curve with noise, for running
// the agent without a light sensor attached.
type Simulated struct {
	mu  sync.Mutex
	rng *rand.Rand
	now func() time.Time
}

// NewSimulated creates a simulated sensor.
func NewSimulated() *Simulated {
	return &Simulated{
		rng: rand.New(rand.NewSource(time.Now().UnixNano())),
		now: time.Now,
	}
}

// Read returns a lux value following the local hour: near zero at night,
// peaking around midday.
func (s *Simulated) Read() (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	h := float64(s.now().Hour()) + float64(s.now().Minute())/60
	// Daylight between ~6h and ~20h, peak ~50k lux.
	daylight := math.Sin((h - 6) / 14 * math.Pi)
	if daylight < 0 {
		daylight = 0
	}
	lux := daylight*50000 + s.rng.Float64()*20
	return lux, nil
}

// SimulatedTemp reports a fixed chip temperature with jitter.
type SimulatedTemp struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewSimulatedTemp creates a simulated temperature source.
func NewSimulatedTemp() *SimulatedTemp {
	return &SimulatedTemp{rng: rand.New(rand.NewSource(time.Now().UnixNano()))}
}

func (s *SimulatedTemp) ReadCelsius() (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return 38 + s.rng.Float64()*4, nil
}
