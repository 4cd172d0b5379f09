// Package sender runs the send cycle: connect, sync time, report health,
// then drain the three data tiers oldest-first (persistent store, unsent
// buffer, live sample buffer). Every failure degrades to a store-for-later
// path; the loop never terminates on error.
package sender

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"luxagent/internal/buffer"
	"luxagent/internal/health"
	"luxagent/internal/metrics"
	"luxagent/internal/model"
	"luxagent/internal/netwatch"
	"luxagent/internal/storage"
	"luxagent/internal/timesync"
	"luxagent/internal/uplink"
)

// Config tunes the orchestrator.
type Config struct {
	// SendInterval is the time between send cycles.
	SendInterval time.Duration
	// Tick is the coarse check interval for the run loop.
	Tick time.Duration
	// MaxAttempts bounds upload attempts per batch.
	MaxAttempts int
	// RetryDelay is the pause between attempts.
	RetryDelay time.Duration
	// NTPSyncInterval is how often the clock is re-synced while valid.
	NTPSyncInterval time.Duration
	// MaxLoadReadings bounds how many persisted readings are loaded per
	// cycle (sized to the persistent store's capacity).
	MaxLoadReadings int
}

func (c *Config) applyDefaults() {
	if c.SendInterval <= 0 {
		c.SendInterval = 5 * time.Minute
	}
	if c.Tick <= 0 {
		c.Tick = 30 * time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = 5 * time.Second
	}
	if c.NTPSyncInterval <= 0 {
		c.NTPSyncInterval = time.Hour
	}
	if c.MaxLoadReadings <= 0 {
		c.MaxLoadReadings = 960
	}
}

// statusPrefixer decorates the first status message with the boot reason.
type statusPrefixer interface {
	PrefixStatus(msg string) string
}

type nopPrefixer struct{}

func (nopPrefixer) PrefixStatus(msg string) string { return msg }

// Orchestrator owns the send cycle state. It is the single consumer of the
// unsent buffer and persistent store; only the sample buffer is shared with
// the sampler task.
type Orchestrator struct {
	cfg     Config
	log     *zap.Logger
	samples *buffer.SampleBuffer
	unsent  *buffer.UnsentBuffer
	store   *storage.BatchStore
	sink    uplink.Sink
	net     netwatch.Network
	clock   timesync.Source
	battery health.Battery
	boot    statusPrefixer
	power   Policy
	met     *metrics.Metrics

	// Cycle state carried across iterations. The orchestrator is the only
	// writer; mu guards reads from the status endpoint.
	mu                sync.Mutex
	lastSend          time.Time
	lastSync          time.Time
	sendFailed        bool
	noBatterySent     bool
	connectedReported bool
	firstCycle        bool

	sleep func(ctx context.Context, d time.Duration) error
}

// Deps are the orchestrator's collaborators.
type Deps struct {
	Samples *buffer.SampleBuffer
	Unsent  *buffer.UnsentBuffer
	Store   *storage.BatchStore
	Sink    uplink.Sink
	Net     netwatch.Network
	Clock   timesync.Source
	Battery health.Battery
	Boot    *health.BootTracker
	Power   Policy
	Metrics *metrics.Metrics
	Log     *zap.Logger
}

// New creates an orchestrator.
func New(cfg Config, deps Deps) *Orchestrator {
	cfg.applyDefaults()
	log := deps.Log
	if log == nil {
		log = zap.NewNop()
	}
	met := deps.Metrics
	if met == nil {
		met = metrics.New()
	}
	var boot statusPrefixer = nopPrefixer{}
	if deps.Boot != nil {
		boot = deps.Boot
	}
	var power Policy = AlwaysOn{}
	if deps.Power != nil {
		power = deps.Power
	}
	var battery health.Battery = health.NoBattery{}
	if deps.Battery != nil {
		battery = deps.Battery
	}
	return &Orchestrator{
		cfg:        cfg,
		log:        log,
		samples:    deps.Samples,
		unsent:     deps.Unsent,
		store:      deps.Store,
		sink:       deps.Sink,
		net:        deps.Net,
		clock:      deps.Clock,
		battery:    battery,
		boot:       boot,
		power:      power,
		met:        met,
		firstCycle: true,
		sleep:      sleepCtx,
	}
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

// Run drives send cycles until ctx is cancelled. A coarse tick checks
// whether the send interval has elapsed; failures never stop the loop.
func (o *Orchestrator) Run(ctx context.Context) {
	o.log.Info("sender started",
		zap.Duration("interval", o.cfg.SendInterval),
		zap.Duration("tick", o.cfg.Tick))

	ticker := time.NewTicker(o.cfg.Tick)
	defer ticker.Stop()

	// First cycle runs immediately so the clock gets synced before the
	// sampler produces many unstamped readings.
	o.RunCycle(ctx)

	for {
		select {
		case <-ctx.Done():
			o.log.Info("sender stopped")
			return
		case <-ticker.C:
			if o.clock.Now().Sub(o.LastSend()) >= o.cfg.SendInterval {
				o.RunCycle(ctx)
			}
		}
	}
}

// RunCycle performs one send cycle. lastSend is recorded unconditionally,
// even on failure, so a broken uplink cannot cause a tight retry loop; the
// next attempt waits for the regular interval.
func (o *Orchestrator) RunCycle(ctx context.Context) {
	start := time.Now()
	defer func() {
		o.met.CycleSeconds.Observe(time.Since(start).Seconds())
		o.updateBacklogGauges()
	}()

	if o.power.SkipCycle(o.clock.Now()) {
		o.met.SendCycles.WithLabelValues("skipped").Inc()
		return
	}

	defer func() {
		o.mu.Lock()
		o.lastSend = o.clock.Now()
		o.firstCycle = false
		o.mu.Unlock()
	}()

	if !o.net.IsConnected() {
		o.log.Info("connecting to network")
		if err := o.net.Connect(ctx); err != nil {
			o.log.Error("failed to connect to network", zap.Error(err))
			o.storeForLater(o.samples.Drain())
			o.setSendFailed(true)
			o.met.SendCycles.WithLabelValues("no_network").Inc()
			return
		}
	}

	o.maybeSyncTime(ctx)

	// The very first successful connection gets its own status line; it
	// carries the boot reason for fresh starts and crash recoveries.
	if !o.connectedReported {
		if o.sendStatusWithRetry(ctx, model.StatusUpdate{
			Status: o.boot.PrefixStatus("connected to network"),
		}) {
			o.connectedReported = true
		}
	}

	o.reportStatus(ctx)

	allSent := true

	// Tier 1: persisted batches from previous outages, oldest data first.
	if n, err := o.store.Count(); err != nil {
		o.log.Error("failed to count persisted readings", zap.Error(err))
	} else if n > 0 {
		o.log.Info("draining persistent storage", zap.Int("readings", n))
		readings, err := o.store.LoadAll(o.cfg.MaxLoadReadings)
		if err != nil {
			o.log.Error("failed to load persisted readings", zap.Error(err))
			allSent = false
		} else if len(readings) > 0 {
			if o.sendWithRetry(ctx, readings) {
				if err := o.store.ClearAll(); err != nil {
					o.log.Error("failed to clear persisted readings after send", zap.Error(err))
				}
			} else {
				allSent = false
			}
		}
	}

	// Tier 2: readings that failed on earlier cycles.
	if stored := o.unsent.Drain(); len(stored) > 0 {
		o.log.Info("sending stored readings", zap.Int("count", len(stored)))
		if !o.sendWithRetry(ctx, stored) {
			o.unsent.AddWithOverflow(stored)
			allSent = false
		}
	}

	// Tier 3: the live buffer. Failed readings are preserved unfiltered so
	// a later cycle can retry them.
	if live := o.samples.Drain(); len(live) > 0 {
		o.log.Info("sending new readings", zap.Int("count", len(live)))
		if !o.sendWithRetry(ctx, live) {
			dropped := o.unsent.AddWithOverflow(live)
			if dropped > 0 {
				o.met.ReadingsDropped.Add(float64(dropped))
				o.log.Warn("unsent buffer overflow", zap.Int("dropped", dropped))
			}
			allSent = false
		}
	}

	o.setSendFailed(!allSent)
	if allSent {
		o.met.SendCycles.WithLabelValues("ok").Inc()
	} else {
		o.met.SendCycles.WithLabelValues("send_failed").Inc()
	}

	if !o.power.StayConnected() {
		o.log.Info("disconnecting network for power saving")
		o.net.Disconnect()
	}
}

// storeForLater routes drained readings to the unsent buffer when they fit,
// falling back to the persistent store (and back again if persistence
// fails — degraded mode accepts the data-loss risk rather than crashing).
func (o *Orchestrator) storeForLater(readings []model.Reading) {
	if len(readings) == 0 {
		return
	}
	if o.unsent.Len()+len(readings) <= o.unsent.Cap() {
		o.unsent.AddWithOverflow(readings)
		o.log.Info("stored readings in unsent buffer", zap.Int("count", len(readings)))
		return
	}
	if err := o.store.SaveBatch(readings); err != nil {
		o.log.Error("failed to persist readings, falling back to unsent buffer",
			zap.Error(err))
		dropped := o.unsent.AddWithOverflow(readings)
		if dropped > 0 {
			o.met.ReadingsDropped.Add(float64(dropped))
		}
		return
	}
	o.log.Info("persisted readings for later delivery", zap.Int("count", len(readings)))
}

func (o *Orchestrator) maybeSyncTime(ctx context.Context) {
	now := o.clock.Now()
	needSync := !o.clock.Valid() || o.lastSync.IsZero() ||
		now.Sub(o.lastSync) >= o.cfg.NTPSyncInterval
	if !needSync {
		return
	}

	o.log.Info("syncing time")
	if err := o.clock.Sync(ctx); err != nil {
		o.log.Error("ntp sync failed despite connection", zap.Error(err))
		if o.firstCycle {
			o.sendStatusWithRetry(ctx, model.StatusUpdate{
				Status: o.boot.PrefixStatus("ntp sync failed despite connection"),
			})
		}
		return
	}
	o.mu.Lock()
	o.lastSync = o.clock.Now()
	o.mu.Unlock()
}

// reportStatus sends battery and signal health. The "no battery" condition
// is reported at most once per process lifetime to avoid spamming the
// server from USB-powered devices; real battery readings go every cycle.
func (o *Orchestrator) reportStatus(ctx context.Context) {
	st, err := o.battery.Status()
	if errors.Is(err, health.ErrNoBattery) {
		if o.noBatterySent {
			return
		}
		if o.sendStatusWithRetry(ctx, model.StatusUpdate{
			Status: o.boot.PrefixStatus("no battery detected"),
		}) {
			o.noBatterySent = true
		}
		return
	}
	if err != nil {
		o.log.Warn("failed to read battery status", zap.Error(err))
		return
	}

	upd := model.StatusUpdate{
		Status:         o.boot.PrefixStatus("battery " + st.Level),
		BatteryVoltage: &st.Voltage,
		BatteryPercent: &st.Percent,
	}
	if dbm, err := o.net.Signal(); err == nil {
		upd.SignalDBm = &dbm
	}
	o.sendStatusWithRetry(ctx, upd)
}

func (o *Orchestrator) updateBacklogGauges() {
	o.met.SampleBacklog.Set(float64(o.samples.Len()))
	o.met.UnsentBacklog.Set(float64(o.unsent.Len()))
	if n, err := o.store.Count(); err == nil {
		o.met.PersistedBacklog.Set(float64(n))
	}
}

func (o *Orchestrator) setSendFailed(failed bool) {
	o.mu.Lock()
	o.sendFailed = failed
	o.mu.Unlock()
}

// SendFailed reports whether the previous cycle left undelivered data behind.
func (o *Orchestrator) SendFailed() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.sendFailed
}

// LastSend reports when the previous cycle finished.
func (o *Orchestrator) LastSend() time.Time {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.lastSend
}

// LastSync reports when the clock was last synchronized.
func (o *Orchestrator) LastSync() time.Time {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.lastSync
}
