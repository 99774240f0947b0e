package rendezvous

import (
	"math"
	"time"
)

// Backoff computes the delay before reconnect attempt n.
// The sequence grows by x1.5 per attempt and is capped at Max,
// so it is non-decreasing for any attempt order.
type Backoff struct {
	Base time.Duration
	Max  time.Duration
}

func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := time.Duration(float64(b.Base) * math.Pow(1.5, float64(attempt-1)))
	if d > b.Max || d < 0 {
		return b.Max
	}
	return d
}
