package sampler

import (
	"context"
	"testing"
	"time"

	"luxagent/internal/buffer"
	"luxagent/internal/sensor"
	"luxagent/internal/storage"
)

type scriptedSensor struct {
	values []float64
	errs   []error
	i      int
}

func (s *scriptedSensor) Read() (float64, error) {
	v := s.values[s.i%len(s.values)]
	var err error
	if len(s.errs) > 0 {
		err = s.errs[s.i%len(s.errs)]
	}
	s.i++
	return v, err
}

type fixedClock struct{ now time.Time }

func (c fixedClock) Sync(ctx context.Context) error { return nil }
func (c fixedClock) Valid() bool                    { return true }
func (c fixedClock) Now() time.Time                 { return c.now }

func TestSampleBuffersReading(t *testing.T) {
	samples := buffer.NewSampleBuffer(4)
	s := New(Config{}, Deps{
		Light:   &scriptedSensor{values: []float64{123.5}},
		Samples: samples,
		Store:   storage.NewBatchStore(storage.NewMemKV(), 960, nil),
		Clock:   fixedClock{now: time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)},
	})

	s.Sample()

	got := samples.Drain()
	if len(got) != 1 {
		t.Fatalf("buffered readings = %d, want 1", len(got))
	}
	if got[0].Lux != 123.5 {
		t.Errorf("lux = %v, want 123.5", got[0].Lux)
	}
	if got[0].Timestamp != time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC).Unix() {
		t.Errorf("timestamp = %d, want the clock's time", got[0].Timestamp)
	}
}

func TestSampleSkipsOnReadError(t *testing.T) {
	samples := buffer.NewSampleBuffer(4)
	s := New(Config{}, Deps{
		Light:   &scriptedSensor{values: []float64{0}, errs: []error{sensor.ErrReadFailed}},
		Samples: samples,
		Store:   storage.NewBatchStore(storage.NewMemKV(), 960, nil),
		Clock:   fixedClock{now: time.Now()},
	})

	s.Sample()

	if samples.Len() != 0 {
		t.Errorf("buffered readings = %d, want 0 after read failure", samples.Len())
	}
}

func TestFullBufferFlushesToStorage(t *testing.T) {
	samples := buffer.NewSampleBuffer(3)
	store := storage.NewBatchStore(storage.NewMemKV(), 960, nil)
	s := New(Config{}, Deps{
		Light:   &scriptedSensor{values: []float64{10, 20, 30, 40}},
		Samples: samples,
		Store:   store,
		Clock:   fixedClock{now: time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)},
	})

	// Fourth sample overflows a 3-slot buffer: the first three move to the
	// store and the new reading takes slot 0.
	for i := 0; i < 4; i++ {
		s.Sample()
	}

	if n, err := store.Count(); err != nil || n != 3 {
		t.Fatalf("persisted readings = %d (err %v), want 3", n, err)
	}
	buffered := samples.Drain()
	if len(buffered) != 1 {
		t.Fatalf("buffered readings = %d, want 1", len(buffered))
	}
	if buffered[0].Lux != 40 {
		t.Errorf("buffered lux = %v, want the overflowing sample 40", buffered[0].Lux)
	}
	persisted, err := store.LoadAll(960)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(persisted) != 3 || persisted[0].Lux != 10 || persisted[2].Lux != 30 {
		t.Errorf("persisted = %v, want lux 10,20,30", persisted)
	}
}

func TestTemperatureTravelsWithReading(t *testing.T) {
	samples := buffer.NewSampleBuffer(4)
	s := New(Config{}, Deps{
		Light:   &scriptedSensor{values: []float64{55}},
		Temp:    sensor.NewSimulatedTemp(),
		Samples: samples,
		Store:   storage.NewBatchStore(storage.NewMemKV(), 960, nil),
		Clock:   fixedClock{now: time.Now()},
	})

	s.Sample()

	got := samples.Drain()
	if len(got) != 1 {
		t.Fatalf("buffered readings = %d, want 1", len(got))
	}
	if got[0].ChipTempC < 30 || got[0].ChipTempC > 50 {
		t.Errorf("chip temp = %v, want simulated range", got[0].ChipTempC)
	}
}
