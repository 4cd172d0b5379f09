package uplink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"luxagent/internal/buildinfo"
	"luxagent/internal/model"
)

// maxReadingsPerChunk bounds payload size per request.
const maxReadingsPerChunk = 50

// chunkPause is the rest between consecutive chunk uploads.
const chunkPause = time.Second

// readingPayload is one element of the reading upload array.
type readingPayload struct {
	SensorID       string  `json:"sensor_id"`
	SensorSetID    string  `json:"sensor_set_id"`
	Timestamp      string  `json:"timestamp"`
	LightIntensity float64 `json:"light_intensity"`
	ChipTempC      float64 `json:"chip_temp_c,omitempty"`
	ChipTempF      float64 `json:"chip_temp_f,omitempty"`
}

// statusPayload is one element of the status upload array.
type statusPayload struct {
	SensorID        string   `json:"sensor_id"`
	SensorSetID     string   `json:"sensor_set_id"`
	Timestamp       string   `json:"timestamp"`
	Status          string   `json:"status"`
	CommitSHA       string   `json:"commit_sha"`
	CommitTimestamp string   `json:"commit_timestamp"`
	BatteryVoltage  *float64 `json:"battery_voltage,omitempty"`
	BatteryPercent  *int     `json:"battery_percent,omitempty"`
	SignalDBm       *int     `json:"wifi_dbm,omitempty"`
}

// HTTPConfig configures the HTTP API sink.
type HTTPConfig struct {
	URL         string
	SensorID    string
	SensorSetID string
	// AuthMode is "bearer" (static token) or "jwt" (per-request device token).
	AuthMode    string
	BearerToken string
	JWTSecret   string
	JWTTTL      time.Duration
	Timeout     time.Duration
}

// HTTPSink posts JSON arrays of readings or status updates to the remote
// API, chunked at maxReadingsPerChunk per request.
type HTTPSink struct {
	cfg    HTTPConfig
	client *http.Client
	issuer *TokenIssuer
	log    *zap.Logger
	now    func() time.Time
	pause  func(ctx context.Context, d time.Duration) error
}

// NewHTTPSink creates an HTTP API sink.
func NewHTTPSink(cfg HTTPConfig, log *zap.Logger) *HTTPSink {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	s := &HTTPSink{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		log:    log,
		now:    time.Now,
		pause:  sleepCtx,
	}
	if cfg.AuthMode == "jwt" {
		s.issuer = NewTokenIssuer(cfg.JWTSecret, cfg.SensorID, cfg.SensorSetID, cfg.JWTTTL)
	}
	return s
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func isoUTC(ts time.Time) string {
	return ts.UTC().Format("2006-01-02T15:04:05Z")
}

// SendReadings uploads readings oldest-first in chunks. The first failing
// chunk aborts the remainder; everything from that chunk on is reported
// undelivered via the returned error.
func (s *HTTPSink) SendReadings(ctx context.Context, readings []model.Reading) error {
	if len(readings) == 0 {
		return nil
	}

	s.log.Info("sending readings",
		zap.Int("count", len(readings)),
		zap.Int("chunk_size", maxReadingsPerChunk))

	for sent := 0; sent < len(readings); {
		end := sent + maxReadingsPerChunk
		if end > len(readings) {
			end = len(readings)
		}
		if err := s.sendChunk(ctx, readings[sent:end]); err != nil {
			s.log.Error("chunk upload failed",
				zap.Int("from", sent), zap.Int("to", end), zap.Error(err))
			return err
		}
		sent = end

		if sent < len(readings) {
			if err := s.pause(ctx, chunkPause); err != nil {
				return ErrNetworkFailure
			}
		}
	}

	s.log.Info("all readings sent", zap.Int("count", len(readings)))
	return nil
}

func (s *HTTPSink) sendChunk(ctx context.Context, readings []model.Reading) error {
	payload := make([]readingPayload, len(readings))
	for i, r := range readings {
		payload[i] = readingPayload{
			SensorID:       s.cfg.SensorID,
			SensorSetID:    s.cfg.SensorSetID,
			Timestamp:      isoUTC(r.Time()),
			LightIntensity: r.Lux,
		}
		// Zero means no temperature source; omitted from the payload.
		if r.ChipTempC != 0 {
			payload[i].ChipTempC = r.ChipTempC
			payload[i].ChipTempF = r.ChipTempC*9/5 + 32
		}
	}
	return s.post(ctx, payload)
}

// SendStatus uploads a single status update.
func (s *HTTPSink) SendStatus(ctx context.Context, status model.StatusUpdate) error {
	payload := []statusPayload{{
		SensorID:        s.cfg.SensorID,
		SensorSetID:     s.cfg.SensorSetID,
		Timestamp:       isoUTC(s.now()),
		Status:          status.Status,
		CommitSHA:       buildinfo.CommitSHA,
		CommitTimestamp: buildinfo.CommitTimestamp,
		BatteryVoltage:  status.BatteryVoltage,
		BatteryPercent:  status.BatteryPercent,
		SignalDBm:       status.SignalDBm,
	}}
	s.log.Info("sending status update", zap.String("status", status.Status))
	return s.post(ctx, payload)
}

func (s *HTTPSink) post(ctx context.Context, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("%w: encode payload: %v", ErrInvalidArgument, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: build request: %v", ErrInvalidArgument, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-ID", uuid.New().String())

	auth, err := s.authorization()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	req.Header.Set("Authorization", auth)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNetworkFailure, err)
	}
	defer resp.Body.Close()

	if err := classifyStatus(resp.StatusCode); err != nil {
		s.log.Error("upload rejected",
			zap.Int("status", resp.StatusCode),
			zap.String("request_id", req.Header.Get("X-Request-ID")))
		return err
	}
	return nil
}

func (s *HTTPSink) authorization() (string, error) {
	if s.issuer != nil {
		token, err := s.issuer.Issue(s.now())
		if err != nil {
			return "", err
		}
		return "Bearer " + token, nil
	}
	return "Bearer " + s.cfg.BearerToken, nil
}
