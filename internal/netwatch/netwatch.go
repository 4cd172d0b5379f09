// Package netwatch abstracts network connectivity for the send cycle. The
// agent has no radio to manage; "connected" means the uplink host is
// reachable, probed with a cheap TCP dial.
package netwatch

import (
	"context"
	"errors"
	"net"
	"net/url"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrNoSignalInfo means the platform exposes no link signal strength.
var ErrNoSignalInfo = errors.New("netwatch: no signal information")

// Network is the connectivity collaborator consumed by the orchestrator.
type Network interface {
	IsConnected() bool
	// Connect blocks until connectivity is confirmed or its internal retry
	// budget is exhausted.
	Connect(ctx context.Context) error
	Disconnect()
	// Signal returns the link signal strength in dBm when known.
	Signal() (int, error)
}

// ProbeConfig tunes the reachability prober.
type ProbeConfig struct {
	// Target is the host to probe; a URL's host:port is accepted.
	Target string
	// MaxRetries bounds Connect attempts (default 15).
	MaxRetries int
	// RetryDelay is the pause between attempts (default 2s).
	RetryDelay time.Duration
	// DialTimeout bounds a single probe (default 5s).
	DialTimeout time.Duration
}

// Prober implements Network by dialing the uplink host. Disconnect only
// clears the cached state; there is no link to tear down on a hosted OS,
// but the orchestrator's connect/disconnect discipline is preserved so the
// cycle behaves identically on constrained ports of this code.
type Prober struct {
	cfg  ProbeConfig
	log  *zap.Logger
	dial func(ctx context.Context, addr string, timeout time.Duration) error

	mu        sync.Mutex
	connected bool
}

// NewProber creates a reachability prober for the given target.
func NewProber(cfg ProbeConfig, log *zap.Logger) *Prober {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 15
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 2 * time.Second
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 5 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Prober{cfg: cfg, log: log, dial: dialTCP}
}

// TargetFromURL extracts a dialable host:port from an API URL, defaulting
// the port from the scheme.
func TargetFromURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return raw
	}
	host := u.Host
	if u.Port() == "" {
		switch u.Scheme {
		case "https":
			host = net.JoinHostPort(u.Hostname(), "443")
		case "http":
			host = net.JoinHostPort(u.Hostname(), "80")
		}
	}
	return host
}

func dialTCP(ctx context.Context, addr string, timeout time.Duration) error {
	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	conn.Close()
	return nil
}

func (p *Prober) IsConnected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected
}

// Connect probes the target with bounded retries.
func (p *Prober) Connect(ctx context.Context) error {
	var lastErr error
	for attempt := 1; attempt <= p.cfg.MaxRetries; attempt++ {
		err := p.dial(ctx, p.cfg.Target, p.cfg.DialTimeout)
		if err == nil {
			p.mu.Lock()
			p.connected = true
			p.mu.Unlock()
			p.log.Info("network reachable",
				zap.String("target", p.cfg.Target),
				zap.Int("attempt", attempt))
			return nil
		}
		lastErr = err
		p.log.Warn("connectivity probe failed",
			zap.String("target", p.cfg.Target),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", p.cfg.MaxRetries),
			zap.Error(err))

		if attempt < p.cfg.MaxRetries {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(p.cfg.RetryDelay):
			}
		}
	}
	p.mu.Lock()
	p.connected = false
	p.mu.Unlock()
	return lastErr
}

func (p *Prober) Disconnect() {
	p.mu.Lock()
	p.connected = false
	p.mu.Unlock()
	p.log.Info("network marked disconnected for power saving")
}

// Signal is unavailable without a radio; callers treat the error as "field
// absent" in status payloads.
func (p *Prober) Signal() (int, error) {
	return 0, ErrNoSignalInfo
}
