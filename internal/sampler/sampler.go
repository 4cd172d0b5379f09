// Package sampler runs the measurement loop: read the light sensor on a
// fixed interval, stamp the value, and append it to the shared sample
// buffer. When the buffer fills before the sender drains it, the whole
// buffer is flushed to persistent storage so no reading is lost to a slow
// or absent uplink.
package sampler

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"luxagent/internal/buffer"
	"luxagent/internal/metrics"
	"luxagent/internal/model"
	"luxagent/internal/sensor"
	"luxagent/internal/storage"
	"luxagent/internal/timesync"
)

// Config tunes the sampler.
type Config struct {
	// ReadingInterval is the time between sensor reads.
	ReadingInterval time.Duration
}

func (c *Config) applyDefaults() {
	if c.ReadingInterval <= 0 {
		c.ReadingInterval = 15 * time.Second
	}
}

// Sampler owns the measurement loop.
type Sampler struct {
	cfg     Config
	log     *zap.Logger
	light   sensor.Sensor
	temp    sensor.TempSource
	samples *buffer.SampleBuffer
	store   *storage.BatchStore
	clock   timesync.Source
	met     *metrics.Metrics
}

// Deps are the sampler's collaborators. Temp may be nil; readings then carry
// no chip temperature.
type Deps struct {
	Light   sensor.Sensor
	Temp    sensor.TempSource
	Samples *buffer.SampleBuffer
	Store   *storage.BatchStore
	Clock   timesync.Source
	Metrics *metrics.Metrics
	Log     *zap.Logger
}

// New creates a sampler.
func New(cfg Config, deps Deps) *Sampler {
	cfg.applyDefaults()
	log := deps.Log
	if log == nil {
		log = zap.NewNop()
	}
	met := deps.Metrics
	if met == nil {
		met = metrics.New()
	}
	return &Sampler{
		cfg:     cfg,
		log:     log,
		light:   deps.Light,
		temp:    deps.Temp,
		samples: deps.Samples,
		store:   deps.Store,
		clock:   deps.Clock,
		met:     met,
	}
}

// Run samples until ctx is cancelled. Sensor read failures skip the sample;
// the loop itself never stops on error.
func (s *Sampler) Run(ctx context.Context) {
	s.log.Info("sampler started", zap.Duration("interval", s.cfg.ReadingInterval))

	ticker := time.NewTicker(s.cfg.ReadingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("sampler stopped")
			return
		case <-ticker.C:
			s.Sample()
		}
	}
}

// Sample takes one measurement and buffers it.
func (s *Sampler) Sample() {
	lux, err := s.light.Read()
	if err != nil {
		s.met.SensorReadErrors.Inc()
		s.log.Warn("sensor read failed, skipping sample", zap.Error(err))
		return
	}

	var tempC float64
	if s.temp != nil {
		if t, err := s.temp.ReadCelsius(); err == nil {
			tempC = t
		} else {
			s.log.Debug("temperature read failed", zap.Error(err))
		}
	}

	r := model.NewReading(s.clock.Now(), lux, tempC)
	s.met.ReadingsSampled.Inc()
	s.met.SampleBacklog.Set(float64(s.samples.Len() + 1))

	if err := s.samples.Append(r); err == nil {
		s.log.Debug("sampled reading", zap.Float64("lux", lux))
		return
	} else if !errors.Is(err, buffer.ErrFull) {
		s.log.Error("failed to buffer reading", zap.Error(err))
		return
	}

	// Buffer full: the sender has not drained in a while. Flush everything
	// buffered so far to persistent storage and start over with this sample.
	s.log.Warn("sample buffer full, flushing to persistent storage",
		zap.Int("readings", s.samples.Len()))
	flushed := s.samples.Drain()
	if err := s.store.SaveBatch(flushed); err != nil {
		s.log.Error("failed to persist full buffer, readings lost",
			zap.Int("count", len(flushed)), zap.Error(err))
		s.met.ReadingsDropped.Add(float64(len(flushed)))
	}
	if err := s.samples.Append(r); err != nil {
		s.met.ReadingsDropped.Inc()
		s.log.Error("failed to buffer reading after flush", zap.Error(err))
	}
}
