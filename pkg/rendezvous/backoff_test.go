package rendezvous

import (
	"testing"
	"time"
)

func TestBackoffGrowsAndCaps(t *testing.T) {
	b := Backoff{Base: time.Second, Max: 30 * time.Second}

	prev := time.Duration(0)
	for attempt := 1; attempt <= 50; attempt++ {
		d := b.Delay(attempt)
		if d < prev {
			t.Fatalf("attempt %d: delay decreased %v -> %v", attempt, prev, d)
		}
		if d > b.Max {
			t.Fatalf("attempt %d: delay %v over cap", attempt, d)
		}
		prev = d
	}
	if b.Delay(50) != b.Max {
		t.Errorf("late attempts must sit at the cap, got %v", b.Delay(50))
	}
}

func TestBackoffFirstAttempts(t *testing.T) {
	b := Backoff{Base: time.Second, Max: 30 * time.Second}
	if d := b.Delay(1); d != time.Second {
		t.Errorf("attempt 1: %v", d)
	}
	if d := b.Delay(2); d != 1500*time.Millisecond {
		t.Errorf("attempt 2: %v", d)
	}
	// out-of-range attempts clamp to the first delay
	if d := b.Delay(0); d != time.Second {
		t.Errorf("attempt 0: %v", d)
	}
}
