// Package health gathers device health for status reports: battery state,
// link signal, and the reason the process (re)started.
package health

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
)

// ErrNoBattery means the device runs without a battery (USB/mains power).
// The reporter sends this condition at most once per process lifetime.
var ErrNoBattery = errors.New("health: no battery present")

// Battery thresholds for the status word, in volts.
const (
	lowVoltage      = 3.2
	criticalVoltage = 3.0
)

// BatteryStatus is one battery measurement.
type BatteryStatus struct {
	Voltage float64
	Percent int
	Level   string // "ok", "low", "critical"
}

// Battery is the battery collaborator. Implementations return ErrNoBattery
// when no battery hardware is present.
type Battery interface {
	Status() (BatteryStatus, error)
}

// levelFor classifies a voltage.
func levelFor(v float64) string {
	switch {
	case v <= criticalVoltage:
		return "critical"
	case v <= lowVoltage:
		return "low"
	default:
		return "ok"
	}
}

// percentFor approximates Li-ion charge from voltage.
func percentFor(v float64) int {
	switch {
	case v >= 4.0:
		return 100
	case v >= 3.7:
		return 50 + int((v-3.7)*(50/0.3))
	case v >= 3.3:
		return int((v - 3.3) * (50 / 0.4))
	default:
		return 0
	}
}

// SysfsBattery reads battery state from a power-supply sysfs directory
// (voltage_now in microvolts, capacity in percent). Absence of the
// directory means no battery.
type SysfsBattery struct {
	dir string
}

// NewSysfsBattery creates a reader for the given power-supply directory.
func NewSysfsBattery(dir string) *SysfsBattery {
	return &SysfsBattery{dir: dir}
}

func (b *SysfsBattery) Status() (BatteryStatus, error) {
	raw, err := os.ReadFile(filepath.Join(b.dir, "voltage_now"))
	if err != nil {
		if os.IsNotExist(err) {
			return BatteryStatus{}, ErrNoBattery
		}
		return BatteryStatus{}, fmt.Errorf("health: read voltage: %w", err)
	}
	microvolts, err := strconv.ParseFloat(strings.TrimSpace(string(raw)), 64)
	if err != nil {
		return BatteryStatus{}, fmt.Errorf("health: parse voltage: %w", err)
	}
	v := microvolts / 1e6

	st := BatteryStatus{Voltage: v, Percent: percentFor(v), Level: levelFor(v)}

	// Prefer the kernel's capacity estimate when exposed.
	if raw, err := os.ReadFile(filepath.Join(b.dir, "capacity")); err == nil {
		if pct, err := strconv.Atoi(strings.TrimSpace(string(raw))); err == nil {
			st.Percent = pct
		}
	}
	return st, nil
}

// NoBattery is a Battery for devices known to run on mains power.
type NoBattery struct{}

func (NoBattery) Status() (BatteryStatus, error) {
	return BatteryStatus{}, ErrNoBattery
}

// BootTracker determines why the process started and prefixes the first
// status message accordingly: "[boot]" after a clean start, "[crash]" when
// the previous run never shut down cleanly (marker file left behind).
type BootTracker struct {
	markerPath string

	mu         sync.Mutex
	unclean    bool
	firstTaken bool
}

// NewBootTracker inspects and plants the unclean-shutdown marker.
func NewBootTracker(markerPath string) (*BootTracker, error) {
	t := &BootTracker{markerPath: markerPath}

	if _, err := os.Stat(markerPath); err == nil {
		t.unclean = true
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("health: stat boot marker: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(markerPath), 0o755); err != nil {
		return nil, fmt.Errorf("health: create marker dir: %w", err)
	}
	if err := os.WriteFile(markerPath, []byte("running\n"), 0o644); err != nil {
		return nil, fmt.Errorf("health: write boot marker: %w", err)
	}
	return t, nil
}

// Unclean reports whether the previous run ended without Shutdown.
func (t *BootTracker) Unclean() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.unclean
}

// PrefixStatus decorates the very first status message of this process with
// the boot reason; later messages pass through unchanged.
func (t *BootTracker) PrefixStatus(msg string) string {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.firstTaken {
		return msg
	}
	t.firstTaken = true
	if t.unclean {
		return "[crash] " + msg
	}
	return "[boot] " + msg
}

// Shutdown removes the marker so the next start counts as clean.
func (t *BootTracker) Shutdown() {
	os.Remove(t.markerPath)
}
