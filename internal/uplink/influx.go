package uplink

import (
	"context"
	"fmt"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"go.uber.org/zap"

	"luxagent/internal/buildinfo"
	"luxagent/internal/model"
)

// InfluxConfig configures the direct-to-InfluxDB sink.
type InfluxConfig struct {
	URL         string
	Token       string
	Org         string
	Bucket      string
	SensorID    string
	SensorSetID string
}

// InfluxSink writes readings straight into an InfluxDB bucket instead of the
// HTTP API. Useful for deployments where the agent and the database share a
// network. Uses the blocking write API so delivery errors reach the
// retry/store logic.
type InfluxSink struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	cfg      InfluxConfig
	log      *zap.Logger
}

// NewInfluxSink connects to InfluxDB and verifies its health.
func NewInfluxSink(ctx context.Context, cfg InfluxConfig, log *zap.Logger) (*InfluxSink, error) {
	if log == nil {
		log = zap.NewNop()
	}
	client := influxdb2.NewClient(cfg.URL, cfg.Token)

	health, err := client.Health(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("uplink: connect to influxdb: %w", err)
	}
	if health.Status != "pass" {
		client.Close()
		return nil, fmt.Errorf("uplink: influxdb unhealthy: %s", health.Status)
	}

	return &InfluxSink{
		client:   client,
		writeAPI: client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		cfg:      cfg,
		log:      log,
	}, nil
}

// SendReadings writes one point per reading. Any write error is classified
// as a network failure so the orchestrator stores the batch for later.
func (s *InfluxSink) SendReadings(ctx context.Context, readings []model.Reading) error {
	if len(readings) == 0 {
		return nil
	}

	for _, r := range readings {
		p := influxdb2.NewPointWithMeasurement("light")
		p.SetTime(r.Time())
		p.AddTag("sensor_id", s.cfg.SensorID)
		p.AddTag("sensor_set_id", s.cfg.SensorSetID)
		p.AddField("light_intensity", r.Lux)
		if r.ChipTempC != 0 {
			p.AddField("chip_temp_c", r.ChipTempC)
		}
		if err := s.writeAPI.WritePoint(ctx, p); err != nil {
			s.log.Error("influx write failed", zap.Error(err))
			return fmt.Errorf("%w: %v", ErrNetworkFailure, err)
		}
	}

	s.log.Info("wrote readings to influxdb", zap.Int("count", len(readings)))
	return nil
}

// SendStatus writes the status update as a point in the status measurement.
func (s *InfluxSink) SendStatus(ctx context.Context, status model.StatusUpdate) error {
	p := influxdb2.NewPointWithMeasurement("status")
	p.AddTag("sensor_id", s.cfg.SensorID)
	p.AddTag("sensor_set_id", s.cfg.SensorSetID)
	p.AddTag("commit_sha", buildinfo.CommitSHA)
	p.AddField("status", status.Status)
	if status.BatteryVoltage != nil {
		p.AddField("battery_voltage", *status.BatteryVoltage)
	}
	if status.BatteryPercent != nil {
		p.AddField("battery_percent", *status.BatteryPercent)
	}
	if status.SignalDBm != nil {
		p.AddField("wifi_dbm", *status.SignalDBm)
	}
	if err := s.writeAPI.WritePoint(ctx, p); err != nil {
		s.log.Error("influx status write failed", zap.Error(err))
		return fmt.Errorf("%w: %v", ErrNetworkFailure, err)
	}
	return nil
}

// Close releases the InfluxDB client.
func (s *InfluxSink) Close() {
	s.client.Close()
}
