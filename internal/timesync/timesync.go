// Package timesync keeps the agent's notion of time trustworthy. The system
// clock on small boards can start at a default date; readings stamped before
// the first successful sync are rejected at the transmission boundary, and
// the orchestrator re-syncs hourly to bound drift.
package timesync

import (
	"context"
	"sync"
	"time"

	"github.com/beevik/ntp"
	"go.uber.org/zap"
)

// minValidTime mirrors the transmission filter's minimum plausible epoch. A
// clock before this has never been set.
var minValidTime = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// Source is the time collaborator consumed by the orchestrator and sampler.
type Source interface {
	// Sync queries the time server and records the clock offset.
	Sync(ctx context.Context) error
	// Valid reports whether the clock is plausible (synced at least once,
	// or the host clock is already past the minimum epoch).
	Valid() bool
	Now() time.Time
}

// NTPSource syncs against an NTP server and applies the measured offset to
// the host clock rather than stepping it, since the agent may not own the
// system clock.
type NTPSource struct {
	server  string
	timeout time.Duration
	log     *zap.Logger
	query   func(server string, timeout time.Duration) (time.Duration, error)

	mu     sync.Mutex
	offset time.Duration
	synced bool
}

// NewNTPSource creates a source syncing against server (host or host:port).
func NewNTPSource(server string, timeout time.Duration, log *zap.Logger) *NTPSource {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &NTPSource{server: server, timeout: timeout, log: log, query: queryNTP}
}

func queryNTP(server string, timeout time.Duration) (time.Duration, error) {
	resp, err := ntp.QueryWithOptions(server, ntp.QueryOptions{Timeout: timeout})
	if err != nil {
		return 0, err
	}
	if err := resp.Validate(); err != nil {
		return 0, err
	}
	return resp.ClockOffset, nil
}

// Sync queries the server and stores the clock offset.
func (s *NTPSource) Sync(ctx context.Context) error {
	type result struct {
		offset time.Duration
		err    error
	}
	ch := make(chan result, 1)
	go func() {
		off, err := s.query(s.server, s.timeout)
		ch <- result{off, err}
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case r := <-ch:
		if r.err != nil {
			s.log.Error("ntp query failed",
				zap.String("server", s.server), zap.Error(r.err))
			return r.err
		}
		s.mu.Lock()
		s.offset = r.offset
		s.synced = true
		s.mu.Unlock()
		s.log.Info("time synchronized",
			zap.String("server", s.server),
			zap.Duration("offset", r.offset))
		return nil
	}
}

func (s *NTPSource) Valid() bool {
	s.mu.Lock()
	synced := s.synced
	s.mu.Unlock()
	if synced {
		return true
	}
	// A host with a sane RTC is valid even before the first sync.
	return time.Now().After(minValidTime)
}

func (s *NTPSource) Now() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Now().Add(s.offset)
}
