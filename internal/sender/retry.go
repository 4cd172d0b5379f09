package sender

import (
	"context"

	"go.uber.org/zap"

	"luxagent/internal/filter"
	"luxagent/internal/model"
	"luxagent/internal/uplink"
)

// sendWithRetry filters readings for plausible timestamps and uploads the
// survivors, retrying transient failures up to MaxAttempts. Non-retryable
// failures (bad request, auth) abort immediately; retrying them would only
// burn power. Returns true when the upload succeeded or nothing needed
// sending.
func (o *Orchestrator) sendWithRetry(ctx context.Context, readings []model.Reading) bool {
	valid := filter.Readings(readings, o.clock.Now())
	if dropped := len(readings) - len(valid); dropped > 0 {
		o.met.ReadingsDropped.Add(float64(dropped))
		o.log.Warn("dropped readings with implausible timestamps",
			zap.Int("dropped", dropped),
			zap.Int("kept", len(valid)))
	}
	if len(valid) == 0 {
		o.log.Info("no valid readings to send after timestamp filtering")
		return true
	}

	for attempt := 1; attempt <= o.cfg.MaxAttempts; attempt++ {
		err := o.sink.SendReadings(ctx, valid)
		if err == nil {
			o.met.SendAttempts.WithLabelValues("ok").Inc()
			o.met.ReadingsSent.Add(float64(len(valid)))
			return true
		}

		if !uplink.Retryable(err) {
			o.met.SendAttempts.WithLabelValues("rejected").Inc()
			o.log.Error("upload rejected, not retrying",
				zap.Error(err),
				zap.Int("count", len(valid)))
			return false
		}

		o.met.SendAttempts.WithLabelValues("failed").Inc()
		o.log.Warn("upload failed",
			zap.Error(err),
			zap.Int("attempt", attempt),
			zap.Int("maxAttempts", o.cfg.MaxAttempts))
		if attempt < o.cfg.MaxAttempts {
			if err := o.sleep(ctx, o.cfg.RetryDelay); err != nil {
				return false
			}
		}
	}
	return false
}

// sendStatusWithRetry uploads a status update under the same retry contract
// as readings. Status is best-effort; a false return is logged by callers at
// most, never escalated.
func (o *Orchestrator) sendStatusWithRetry(ctx context.Context, status model.StatusUpdate) bool {
	for attempt := 1; attempt <= o.cfg.MaxAttempts; attempt++ {
		err := o.sink.SendStatus(ctx, status)
		if err == nil {
			return true
		}

		if !uplink.Retryable(err) {
			o.log.Error("status update rejected, not retrying", zap.Error(err))
			return false
		}

		o.log.Warn("status update failed",
			zap.Error(err),
			zap.Int("attempt", attempt),
			zap.Int("maxAttempts", o.cfg.MaxAttempts))
		if attempt < o.cfg.MaxAttempts {
			if err := o.sleep(ctx, o.cfg.RetryDelay); err != nil {
				return false
			}
		}
	}
	return false
}
