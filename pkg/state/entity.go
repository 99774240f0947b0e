package state

import (
	"github.com/peermesh/peermesh/pkg/space"
)

// EntityState is one shared entity snapshot. Fields are pointers so a
// network update carries only what changed since the last emission.
// Timestamp is unix milliseconds and, as observed from a single peer,
// non-decreasing per entity id: anything older than the newest stored
// value is discarded on arrival.
type EntityState struct {
	Id        string      `json:"id"`
	Position  *space.Vec3 `json:"position,omitempty"`
	Rotation  *space.Quat `json:"rotation,omitempty"`
	Velocity  *space.Vec3 `json:"velocity,omitempty"`
	Action    *string     `json:"action,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

// merge overlays the set fields of upd onto base.
func merge(base, upd EntityState) EntityState {
	out := base
	out.Id = upd.Id
	out.Timestamp = upd.Timestamp
	if upd.Position != nil {
		p := *upd.Position
		out.Position = &p
	}
	if upd.Rotation != nil {
		r := *upd.Rotation
		out.Rotation = &r
	}
	if upd.Velocity != nil {
		v := *upd.Velocity
		out.Velocity = &v
	}
	if upd.Action != nil {
		a := *upd.Action
		out.Action = &a
	}
	return out
}

// diff returns only the fields of next that differ from prev.
// The second result is false when nothing changed.
func diff(prev, next EntityState) (EntityState, bool) {
	out := EntityState{Id: next.Id, Timestamp: next.Timestamp}
	changed := false
	if next.Position != nil && (prev.Position == nil || *prev.Position != *next.Position) {
		out.Position = next.Position
		changed = true
	}
	if next.Rotation != nil && (prev.Rotation == nil || *prev.Rotation != *next.Rotation) {
		out.Rotation = next.Rotation
		changed = true
	}
	if next.Velocity != nil && (prev.Velocity == nil || *prev.Velocity != *next.Velocity) {
		out.Velocity = next.Velocity
		changed = true
	}
	if next.Action != nil && (prev.Action == nil || *prev.Action != *next.Action) {
		out.Action = next.Action
		changed = true
	}
	return out, changed
}
