package buffer

import (
	"testing"

	"luxagent/internal/model"
)

func mkReadings(from, n int) []model.Reading {
	out := make([]model.Reading, n)
	for i := 0; i < n; i++ {
		out[i] = mkReading(int64(from + i))
	}
	return out
}

func assertTimestamps(t *testing.T, got []model.Reading, want ...int64) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("got %d readings, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i].Timestamp != want[i] {
			t.Errorf("reading[%d].Timestamp = %d, want %d", i, got[i].Timestamp, want[i])
		}
	}
}

func TestUnsentAddWithinCapacity(t *testing.T) {
	b := NewUnsentBuffer(10)
	if dropped := b.AddWithOverflow(mkReadings(1, 4)); dropped != 0 {
		t.Fatalf("dropped = %d, want 0", dropped)
	}
	if dropped := b.AddWithOverflow(mkReadings(5, 3)); dropped != 0 {
		t.Fatalf("dropped = %d, want 0", dropped)
	}
	assertTimestamps(t, b.Drain(), 1, 2, 3, 4, 5, 6, 7)
}

func TestUnsentOverflowEvictsOldest(t *testing.T) {
	b := NewUnsentBuffer(5)
	b.AddWithOverflow(mkReadings(1, 4)) // 1 2 3 4
	dropped := b.AddWithOverflow(mkReadings(5, 3))

	// count == min(capacity, prior+incoming) and survivors are the most
	// recent readings in original relative order.
	if dropped != 2 {
		t.Fatalf("dropped = %d, want 2", dropped)
	}
	if b.Len() != 5 {
		t.Fatalf("len = %d, want 5", b.Len())
	}
	assertTimestamps(t, b.Drain(), 3, 4, 5, 6, 7)
}

func TestUnsentWholesaleReplacement(t *testing.T) {
	b := NewUnsentBuffer(4)
	b.AddWithOverflow(mkReadings(1, 3)) // 1 2 3
	dropped := b.AddWithOverflow(mkReadings(10, 6))

	// Incoming alone exceeds capacity: buffer is replaced with the newest
	// readings that fit.
	if dropped != 5 {
		t.Fatalf("dropped = %d, want 5", dropped)
	}
	assertTimestamps(t, b.Drain(), 12, 13, 14, 15)
}

func TestUnsentExactFit(t *testing.T) {
	b := NewUnsentBuffer(3)
	if dropped := b.AddWithOverflow(mkReadings(1, 3)); dropped != 0 {
		t.Fatalf("dropped = %d, want 0", dropped)
	}
	assertTimestamps(t, b.Drain(), 1, 2, 3)
}

func TestUnsentInvariantHolds(t *testing.T) {
	b := NewUnsentBuffer(7)
	prior := 0
	for i := 0; i < 40; i++ {
		n := (i % 5) + 1
		b.AddWithOverflow(mkReadings(i*10, n))
		want := prior + n
		if want > 7 {
			want = 7
		}
		if b.Len() != want {
			t.Fatalf("after add %d: len = %d, want %d", i, b.Len(), want)
		}
		prior = b.Len()
	}
}

func TestUnsentDrainClearsAndIsEmptyAgain(t *testing.T) {
	b := NewUnsentBuffer(4)
	b.AddWithOverflow(mkReadings(1, 2))
	if got := b.Drain(); len(got) != 2 {
		t.Fatalf("drain = %d readings, want 2", len(got))
	}
	if got := b.Drain(); got != nil {
		t.Fatalf("second drain = %v, want nil", got)
	}
	b.AddWithOverflow(mkReadings(9, 1))
	b.Clear()
	if b.Len() != 0 {
		t.Fatalf("len after clear = %d, want 0", b.Len())
	}
}
