// Package metrics exposes the agent's delivery pipeline counters on a
// private prometheus registry.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "luxagent"

// Metrics holds the agent's collectors.
type Metrics struct {
	Registry *prometheus.Registry

	ReadingsSampled  prometheus.Counter
	ReadingsSent     prometheus.Counter
	ReadingsDropped  prometheus.Counter
	SensorReadErrors prometheus.Counter

	SendCycles   *prometheus.CounterVec
	SendAttempts *prometheus.CounterVec
	CycleSeconds prometheus.Histogram

	SampleBacklog    prometheus.Gauge
	UnsentBacklog    prometheus.Gauge
	PersistedBacklog prometheus.Gauge
}

// New creates the registry and all collectors, including the standard Go and
// process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	return &Metrics{
		Registry: reg,

		ReadingsSampled: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "readings_sampled_total",
			Help:      "Readings produced by the sampler",
		}),
		ReadingsSent: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "readings_sent_total",
			Help:      "Readings accepted by the uplink",
		}),
		ReadingsDropped: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "readings_dropped_total",
			Help:      "Readings evicted under buffer or storage pressure",
		}),
		SensorReadErrors: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sensor_read_errors_total",
			Help:      "Failed sensor bus reads (sample skipped)",
		}),

		SendCycles: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "send_cycles_total",
			Help:      "Send cycles by result",
		}, []string{"result"}),
		SendAttempts: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "send_attempts_total",
			Help:      "Upload attempts by outcome",
		}, []string{"outcome"}),
		CycleSeconds: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "send_cycle_duration_seconds",
			Help:      "Duration of a full send cycle",
			Buckets:   prometheus.DefBuckets,
		}),

		SampleBacklog: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sample_buffer_readings",
			Help:      "Readings currently in the sample buffer",
		}),
		UnsentBacklog: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "unsent_buffer_readings",
			Help:      "Readings currently in the unsent buffer",
		}),
		PersistedBacklog: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "persisted_readings",
			Help:      "Readings currently in persistent storage",
		}),
	}
}
