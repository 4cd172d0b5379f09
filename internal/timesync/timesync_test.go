package timesync

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestSyncAppliesOffset(t *testing.T) {
	s := NewNTPSource("pool.ntp.org", time.Second, zap.NewNop())
	s.query = func(string, time.Duration) (time.Duration, error) {
		return 90 * time.Second, nil
	}

	if err := s.Sync(context.Background()); err != nil {
		t.Fatalf("sync: %v", err)
	}
	if !s.Valid() {
		t.Fatal("Valid = false after successful sync")
	}

	skew := time.Until(s.Now())
	if skew < 85*time.Second || skew > 95*time.Second {
		t.Fatalf("Now skew = %v, want ~90s", skew)
	}
}

func TestSyncFailurePropagates(t *testing.T) {
	s := NewNTPSource("pool.ntp.org", time.Second, zap.NewNop())
	wantErr := errors.New("no route")
	s.query = func(string, time.Duration) (time.Duration, error) {
		return 0, wantErr
	}

	if err := s.Sync(context.Background()); !errors.Is(err, wantErr) {
		t.Fatalf("err = %v, want %v", err, wantErr)
	}
}

func TestValidBeforeFirstSyncUsesHostClock(t *testing.T) {
	s := NewNTPSource("pool.ntp.org", time.Second, zap.NewNop())
	// The test host's clock is past 2024, so the clock counts as plausible
	// even without a sync.
	if !s.Valid() {
		t.Fatal("Valid = false on a host with a sane clock")
	}
}
