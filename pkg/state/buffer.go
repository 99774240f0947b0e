package state

import (
	"time"
)

// bufferWindow is how much history a buffer keeps. Interpolation only
// ever looks a fraction of a second back, ten seconds is plenty.
const bufferWindow = 10 * time.Second

// Buffer holds the received history of one remote entity, ordered by
// timestamp. Stale arrivals are discarded rather than reordered, so
// the order is maintained by construction. No two entries share a
// timestamp: the newer arrival replaces the older one.
type Buffer struct {
	samples []EntityState // merged full snapshots, ascending timestamps
}

// Insert applies upd on top of the latest known snapshot and appends
// the result. Returns false for updates older than the newest stored
// timestamp (out-of-order delivery, resolved by discarding).
func (b *Buffer) Insert(upd EntityState) bool {
	if n := len(b.samples); n > 0 {
		newest := b.samples[n-1]
		if upd.Timestamp < newest.Timestamp {
			return false
		}
		merged := merge(newest, upd)
		if upd.Timestamp == newest.Timestamp {
			b.samples[n-1] = merged
		} else {
			b.samples = append(b.samples, merged)
		}
	} else {
		b.samples = append(b.samples, merge(EntityState{}, upd))
	}
	b.trim()
	return true
}

// trim drops samples that fell out of the history window.
func (b *Buffer) trim() {
	cutoff := b.samples[len(b.samples)-1].Timestamp - bufferWindow.Milliseconds()
	i := 0
	for i < len(b.samples)-1 && b.samples[i].Timestamp < cutoff {
		i++
	}
	if i > 0 {
		b.samples = append(b.samples[:0], b.samples[i:]...)
	}
}

func (b *Buffer) Len() int { return len(b.samples) }

// Latest returns the newest snapshot.
func (b *Buffer) Latest() (EntityState, bool) {
	if len(b.samples) == 0 {
		return EntityState{}, false
	}
	return b.samples[len(b.samples)-1], true
}

// Sample returns the entity state at time at (unix ms). With fewer
// than two samples the latest known one is returned as-is; outside the
// buffered range the nearest edge sample is returned. Never
// extrapolates beyond the two bracketing samples.
func (b *Buffer) Sample(at int64) (EntityState, bool) {
	n := len(b.samples)
	if n == 0 {
		return EntityState{}, false
	}
	if n == 1 || at >= b.samples[n-1].Timestamp {
		return b.samples[n-1], true
	}
	if at <= b.samples[0].Timestamp {
		return b.samples[0], true
	}
	// locate the bracketing pair
	hi := 1
	for b.samples[hi].Timestamp < at {
		hi++
	}
	a, c := b.samples[hi-1], b.samples[hi]
	t := float64(at-a.Timestamp) / float64(c.Timestamp-a.Timestamp)

	out := c
	out.Timestamp = at
	if a.Position != nil && c.Position != nil {
		p := a.Position.Lerp(*c.Position, t)
		out.Position = &p
	}
	if a.Rotation != nil && c.Rotation != nil {
		r := a.Rotation.Slerp(*c.Rotation, t)
		out.Rotation = &r
	}
	if a.Velocity != nil && c.Velocity != nil {
		v := a.Velocity.Lerp(*c.Velocity, t)
		out.Velocity = &v
	}
	return out, true
}
