package health

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestSysfsBattery(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "voltage_now"), []byte("3910000\n"), 0o644)
	os.WriteFile(filepath.Join(dir, "capacity"), []byte("82\n"), 0o644)

	b := NewSysfsBattery(dir)
	st, err := b.Status()
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if st.Voltage < 3.9 || st.Voltage > 3.92 {
		t.Errorf("voltage = %v, want 3.91", st.Voltage)
	}
	if st.Percent != 82 {
		t.Errorf("percent = %d, want 82 (kernel capacity preferred)", st.Percent)
	}
	if st.Level != "ok" {
		t.Errorf("level = %q, want ok", st.Level)
	}
}

func TestSysfsBatteryAbsent(t *testing.T) {
	b := NewSysfsBattery(filepath.Join(t.TempDir(), "nope"))
	if _, err := b.Status(); !errors.Is(err, ErrNoBattery) {
		t.Fatalf("err = %v, want ErrNoBattery", err)
	}
}

func TestBatteryLevels(t *testing.T) {
	cases := []struct {
		v    float64
		want string
	}{
		{4.1, "ok"}, {3.5, "ok"}, {3.2, "low"}, {3.1, "low"}, {3.0, "critical"}, {2.8, "critical"},
	}
	for _, tc := range cases {
		if got := levelFor(tc.v); got != tc.want {
			t.Errorf("levelFor(%v) = %q, want %q", tc.v, got, tc.want)
		}
	}
}

func TestBootTrackerCleanAndCrash(t *testing.T) {
	marker := filepath.Join(t.TempDir(), "state", "running")

	// Clean first start.
	tr, err := NewBootTracker(marker)
	if err != nil {
		t.Fatalf("new tracker: %v", err)
	}
	if tr.Unclean() {
		t.Fatal("first start reported unclean")
	}
	if got := tr.PrefixStatus("battery"); got != "[boot] battery" {
		t.Fatalf("first status = %q, want [boot] prefix", got)
	}
	if got := tr.PrefixStatus("battery"); got != "battery" {
		t.Fatalf("second status = %q, want no prefix", got)
	}

	// Marker still present (no Shutdown): next start is a crash recovery.
	tr2, err := NewBootTracker(marker)
	if err != nil {
		t.Fatalf("new tracker after crash: %v", err)
	}
	if !tr2.Unclean() {
		t.Fatal("restart with marker not reported unclean")
	}
	if got := tr2.PrefixStatus("battery"); got != "[crash] battery" {
		t.Fatalf("status after crash = %q, want [crash] prefix", got)
	}

	// Clean shutdown clears the marker.
	tr2.Shutdown()
	tr3, err := NewBootTracker(marker)
	if err != nil {
		t.Fatalf("new tracker after shutdown: %v", err)
	}
	if tr3.Unclean() {
		t.Fatal("start after clean shutdown reported unclean")
	}
}
