package sender

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"luxagent/internal/buffer"
	"luxagent/internal/health"
	"luxagent/internal/model"
	"luxagent/internal/storage"
	"luxagent/internal/uplink"
)

type fakeClock struct {
	now     time.Time
	syncErr error
	syncs   int
}

func (c *fakeClock) Sync(ctx context.Context) error {
	c.syncs++
	return c.syncErr
}
func (c *fakeClock) Valid() bool    { return true }
func (c *fakeClock) Now() time.Time { return c.now }

type fakeNet struct {
	connected   bool
	connectErr  error
	disconnects int
}

func (n *fakeNet) IsConnected() bool { return n.connected }
func (n *fakeNet) Connect(ctx context.Context) error {
	if n.connectErr != nil {
		return n.connectErr
	}
	n.connected = true
	return nil
}
func (n *fakeNet) Disconnect() {
	n.connected = false
	n.disconnects++
}
func (n *fakeNet) Signal() (int, error) { return -61, nil }

// recordSink records every delivery and pops one error per SendReadings call
// from readingErrs (nil once exhausted).
type recordSink struct {
	readingErrs []error
	calls       int
	batches     [][]model.Reading
	statuses    []model.StatusUpdate
	statusErr   error
}

func (s *recordSink) SendReadings(ctx context.Context, readings []model.Reading) error {
	s.calls++
	var err error
	if len(s.readingErrs) > 0 {
		err = s.readingErrs[0]
		s.readingErrs = s.readingErrs[1:]
	}
	if err != nil {
		return err
	}
	cp := make([]model.Reading, len(readings))
	copy(cp, readings)
	s.batches = append(s.batches, cp)
	return nil
}

func (s *recordSink) SendStatus(ctx context.Context, status model.StatusUpdate) error {
	if s.statusErr != nil {
		return s.statusErr
	}
	s.statuses = append(s.statuses, status)
	return nil
}

type testRig struct {
	orch    *Orchestrator
	sink    *recordSink
	net     *fakeNet
	clock   *fakeClock
	samples *buffer.SampleBuffer
	unsent  *buffer.UnsentBuffer
	store   *storage.BatchStore
}

func newRig(t *testing.T) *testRig {
	t.Helper()
	rig := &testRig{
		sink:    &recordSink{},
		net:     &fakeNet{},
		clock:   &fakeClock{now: time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)},
		samples: buffer.NewSampleBuffer(20),
		unsent:  buffer.NewUnsentBuffer(120),
		store:   storage.NewBatchStore(storage.NewMemKV(), 960, nil),
	}
	rig.orch = New(Config{MaxAttempts: 3, RetryDelay: time.Millisecond}, Deps{
		Samples: rig.samples,
		Unsent:  rig.unsent,
		Store:   rig.store,
		Sink:    rig.sink,
		Net:     rig.net,
		Clock:   rig.clock,
	})
	rig.orch.sleep = func(ctx context.Context, d time.Duration) error { return nil }
	return rig
}

func readingsAt(base time.Time, n int) []model.Reading {
	out := make([]model.Reading, n)
	for i := range out {
		out[i] = model.NewReading(base.Add(time.Duration(i)*15*time.Second), 100+float64(i), 0)
	}
	return out
}

func TestCycleDrainsTiersOldestFirst(t *testing.T) {
	rig := newRig(t)
	base := rig.clock.now.Add(-time.Hour)

	persisted := readingsAt(base, 4)
	if err := rig.store.SaveBatch(persisted); err != nil {
		t.Fatalf("save batch: %v", err)
	}
	stored := readingsAt(base.Add(10*time.Minute), 3)
	rig.unsent.AddWithOverflow(stored)
	live := readingsAt(base.Add(20*time.Minute), 2)
	for _, r := range live {
		rig.samples.Append(r)
	}

	rig.orch.RunCycle(context.Background())

	if len(rig.sink.batches) != 3 {
		t.Fatalf("batches sent = %d, want 3", len(rig.sink.batches))
	}
	if got := rig.sink.batches[0][0].Timestamp; got != persisted[0].Timestamp {
		t.Errorf("first batch starts at %d, want oldest persisted %d", got, persisted[0].Timestamp)
	}
	if got := rig.sink.batches[1][0].Timestamp; got != stored[0].Timestamp {
		t.Errorf("second batch starts at %d, want unsent %d", got, stored[0].Timestamp)
	}
	if got := rig.sink.batches[2][0].Timestamp; got != live[0].Timestamp {
		t.Errorf("third batch starts at %d, want live %d", got, live[0].Timestamp)
	}

	if n, _ := rig.store.Count(); n != 0 {
		t.Errorf("persisted readings after cycle = %d, want 0", n)
	}
	if rig.unsent.Len() != 0 {
		t.Errorf("unsent after cycle = %d, want 0", rig.unsent.Len())
	}
	if rig.samples.Len() != 0 {
		t.Errorf("samples after cycle = %d, want 0", rig.samples.Len())
	}
}

func TestCycleNonRetryableAbortsImmediately(t *testing.T) {
	rig := newRig(t)
	rig.sink.readingErrs = []error{uplink.ErrUnauthorized, uplink.ErrUnauthorized, uplink.ErrUnauthorized}

	live := readingsAt(rig.clock.now.Add(-time.Hour), 5)
	for _, r := range live {
		rig.samples.Append(r)
	}

	rig.orch.RunCycle(context.Background())

	if rig.sink.calls != 1 {
		t.Errorf("send calls = %d, want 1 (no retry on auth failure)", rig.sink.calls)
	}
	if rig.unsent.Len() != len(live) {
		t.Errorf("unsent = %d, want %d readings preserved", rig.unsent.Len(), len(live))
	}
}

func TestCycleRetriesTransientFailures(t *testing.T) {
	rig := newRig(t)
	rig.sink.readingErrs = []error{uplink.ErrServerError, uplink.ErrNetworkFailure}

	live := readingsAt(rig.clock.now.Add(-time.Hour), 2)
	for _, r := range live {
		rig.samples.Append(r)
	}

	rig.orch.RunCycle(context.Background())

	// Third attempt succeeds.
	if rig.sink.calls != 3 {
		t.Errorf("send calls = %d, want 3", rig.sink.calls)
	}
	if len(rig.sink.batches) != 1 {
		t.Fatalf("delivered batches = %d, want 1", len(rig.sink.batches))
	}
	if rig.unsent.Len() != 0 {
		t.Errorf("unsent = %d, want 0 after eventual success", rig.unsent.Len())
	}
}

func TestCycleRetryExhaustion(t *testing.T) {
	rig := newRig(t)
	rig.sink.readingErrs = []error{uplink.ErrServerError, uplink.ErrServerError, uplink.ErrServerError}

	live := readingsAt(rig.clock.now.Add(-time.Hour), 2)
	for _, r := range live {
		rig.samples.Append(r)
	}

	rig.orch.RunCycle(context.Background())

	if rig.sink.calls != 3 {
		t.Errorf("send calls = %d, want 3", rig.sink.calls)
	}
	if rig.unsent.Len() != 2 {
		t.Errorf("unsent = %d, want 2", rig.unsent.Len())
	}
	// A failed cycle still records lastSend so the loop waits a full interval.
	if got := rig.orch.LastSend(); !got.Equal(rig.clock.now) {
		t.Errorf("lastSend = %v, want %v", got, rig.clock.now)
	}
}

func TestOutageRecoverySendsBacklogOldestFirst(t *testing.T) {
	rig := newRig(t)
	base := rig.clock.now.Add(-time.Hour)

	// Three cycles with no connectivity: samples migrate to the unsent buffer.
	rig.net.connectErr = uplink.ErrNetworkFailure
	for cycle := 0; cycle < 3; cycle++ {
		for _, r := range readingsAt(base.Add(time.Duration(cycle)*5*time.Minute), 5) {
			rig.samples.Append(r)
		}
		rig.orch.RunCycle(context.Background())
	}
	if rig.sink.calls != 0 {
		t.Fatalf("send calls during outage = %d, want 0", rig.sink.calls)
	}
	if rig.unsent.Len() != 15 {
		t.Fatalf("unsent after outage = %d, want 15", rig.unsent.Len())
	}

	// Connectivity returns: the whole backlog goes out in order.
	rig.net.connectErr = nil
	rig.orch.RunCycle(context.Background())

	if len(rig.sink.batches) != 1 {
		t.Fatalf("delivered batches = %d, want 1", len(rig.sink.batches))
	}
	got := rig.sink.batches[0]
	if len(got) != 15 {
		t.Fatalf("recovered batch size = %d, want 15", len(got))
	}
	for i := 1; i < len(got); i++ {
		if got[i].Timestamp < got[i-1].Timestamp {
			t.Fatalf("recovered batch out of order at %d: %d < %d", i, got[i].Timestamp, got[i-1].Timestamp)
		}
	}
	if rig.unsent.Len() != 0 {
		t.Errorf("unsent after recovery = %d, want 0", rig.unsent.Len())
	}
}

func TestImplausibleTimestampsDroppedAtBoundary(t *testing.T) {
	rig := newRig(t)

	rig.samples.Append(model.Reading{Timestamp: 0, Lux: 50})
	rig.samples.Append(model.NewReading(rig.clock.now.Add(-time.Minute), 120, 0))
	rig.samples.Append(model.NewReading(rig.clock.now.Add(3*time.Hour), 130, 0))

	rig.orch.RunCycle(context.Background())

	if len(rig.sink.batches) != 1 {
		t.Fatalf("delivered batches = %d, want 1", len(rig.sink.batches))
	}
	if len(rig.sink.batches[0]) != 1 {
		t.Fatalf("delivered readings = %d, want only the plausible one", len(rig.sink.batches[0]))
	}
	if rig.unsent.Len() != 0 {
		t.Errorf("unsent = %d, want 0 (filtered readings are not retried)", rig.unsent.Len())
	}
}

func TestAllFilteredCountsAsSuccess(t *testing.T) {
	rig := newRig(t)
	rig.samples.Append(model.Reading{Timestamp: 0, Lux: 50})

	rig.orch.RunCycle(context.Background())

	if rig.sink.calls != 0 {
		t.Errorf("send calls = %d, want 0", rig.sink.calls)
	}
	if rig.unsent.Len() != 0 {
		t.Errorf("unsent = %d, want 0", rig.unsent.Len())
	}
}

func TestFirstConnectionStatusCarriesBootReason(t *testing.T) {
	rig := newRig(t)
	boot, err := health.NewBootTracker(filepath.Join(t.TempDir(), "running"))
	if err != nil {
		t.Fatalf("boot tracker: %v", err)
	}
	rig.orch.boot = boot

	rig.orch.RunCycle(context.Background())
	rig.orch.RunCycle(context.Background())

	if len(rig.sink.statuses) == 0 {
		t.Fatal("no statuses sent")
	}
	if got := rig.sink.statuses[0].Status; got != "[boot] connected to network" {
		t.Errorf("first status = %q, want [boot] connected to network", got)
	}
	connected := 0
	for _, st := range rig.sink.statuses {
		if strings.Contains(st.Status, "connected to network") {
			connected++
		}
	}
	if connected != 1 {
		t.Errorf("connection reports = %d, want exactly 1", connected)
	}
}

func TestNoBatteryReportedOnce(t *testing.T) {
	rig := newRig(t)

	rig.orch.RunCycle(context.Background())
	rig.orch.RunCycle(context.Background())

	seen := 0
	for _, st := range rig.sink.statuses {
		if st.Status == "no battery detected" {
			seen++
		}
	}
	if seen != 1 {
		t.Errorf("no-battery reports = %d, want exactly 1", seen)
	}
}

func TestSkippedCycleSendsNothing(t *testing.T) {
	rig := newRig(t)
	policy, err := NewNightPolicy(22, 4, "UTC", false, nil)
	if err != nil {
		t.Fatalf("night policy: %v", err)
	}
	rig.orch.power = policy
	rig.clock.now = time.Date(2026, 8, 30, 23, 30, 0, 0, time.UTC)

	rig.samples.Append(model.NewReading(rig.clock.now.Add(-time.Minute), 1, 0))
	rig.orch.RunCycle(context.Background())

	if rig.sink.calls != 0 || len(rig.sink.statuses) != 0 {
		t.Errorf("sink touched during quiet hours: %d sends, %d statuses",
			rig.sink.calls, len(rig.sink.statuses))
	}
	if rig.samples.Len() != 1 {
		t.Errorf("samples drained during skipped cycle: len = %d, want 1", rig.samples.Len())
	}
	if !rig.orch.LastSend().IsZero() {
		t.Error("skipped cycle recorded lastSend")
	}
}

func TestDisconnectAfterCycleUnlessStayConnected(t *testing.T) {
	rig := newRig(t)
	rig.orch.power = Continuous{Stay: false}
	rig.orch.RunCycle(context.Background())
	if rig.net.disconnects != 1 {
		t.Errorf("disconnects = %d, want 1", rig.net.disconnects)
	}

	rig2 := newRig(t)
	rig2.orch.power = Continuous{Stay: true}
	rig2.orch.RunCycle(context.Background())
	if rig2.net.disconnects != 0 {
		t.Errorf("disconnects with stay-connected policy = %d, want 0", rig2.net.disconnects)
	}
}

func TestNightPolicyWindow(t *testing.T) {
	cases := []struct {
		start, end, hour int
		skip             bool
	}{
		{22, 4, 23, true},
		{22, 4, 2, true},
		{22, 4, 4, false},
		{22, 4, 12, false},
		{1, 5, 3, true},
		{1, 5, 0, false},
		{1, 5, 5, false},
	}
	for _, tc := range cases {
		p, err := NewNightPolicy(tc.start, tc.end, "UTC", false, nil)
		if err != nil {
			t.Fatalf("night policy: %v", err)
		}
		now := time.Date(2026, 8, 30, tc.hour, 30, 0, 0, time.UTC)
		if got := p.SkipCycle(now); got != tc.skip {
			t.Errorf("window %d..%d at hour %d: skip = %v, want %v",
				tc.start, tc.end, tc.hour, got, tc.skip)
		}
	}
}
