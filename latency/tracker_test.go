package latency

import (
	"testing"
	"time"
)

func TestMaxEmpty(t *testing.T) {
	tr := New(3)
	if got := tr.Max(); got != 0 {
		t.Fatalf("Max() on empty tracker = %v want 0", got)
	}
}

func TestMaxOverBoundedWindow(t *testing.T) {
	tr := New(3)
	tr.Add(10 * time.Millisecond)
	tr.Add(50 * time.Millisecond)
	tr.Add(20 * time.Millisecond)
	if got := tr.Max(); got != 50*time.Millisecond {
		t.Fatalf("Max() = %v want 50ms", got)
	}

	// Pushing a 4th sample evicts the oldest (10ms); the window should now
	// only ever report from the retained 3.
	tr.Add(5 * time.Millisecond)
	if got := tr.Max(); got != 50*time.Millisecond {
		t.Fatalf("Max() after eviction = %v want 50ms (still retained)", got)
	}
	tr.Add(1 * time.Millisecond)
	tr.Add(1 * time.Millisecond)
	// Now the window holds [5ms, 1ms, 1ms]; 50ms has rolled off.
	if got := tr.Max(); got != 5*time.Millisecond {
		t.Fatalf("Max() after window rolled = %v want 5ms", got)
	}
}

func TestTicksRoundsUp(t *testing.T) {
	cases := []struct {
		d    time.Duration
		fps  float64
		want int
	}{
		{0, 30, 0},
		{33 * time.Millisecond, 30, 1},
		{34 * time.Millisecond, 30, 2},
		{100 * time.Millisecond, 10, 1},
		{101 * time.Millisecond, 10, 2},
	}
	for _, c := range cases {
		if got := Ticks(c.d, c.fps); got != c.want {
			t.Fatalf("Ticks(%v, %v) = %d want %d", c.d, c.fps, got, c.want)
		}
	}
}

func TestAddIgnoresNonPositive(t *testing.T) {
	tr := New(2)
	tr.Add(0)
	tr.Add(-5 * time.Millisecond)
	if got := tr.Max(); got != 0 {
		t.Fatalf("Max() = %v want 0 after non-positive samples", got)
	}
}
