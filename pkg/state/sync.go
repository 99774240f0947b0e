// Package state converts between the current true local state and a
// network-efficient update stream, and between the inbound stream and
// smooth renderable state: outbound updates are throttled and diffed,
// inbound updates are buffered per entity and time-interpolated.
package state

import (
	"sync"
	"time"

	"github.com/peermesh/peermesh/pkg/api"
	"github.com/peermesh/peermesh/pkg/config"
	"github.com/peermesh/peermesh/pkg/events"
	"github.com/peermesh/peermesh/pkg/logger"
)

// DirectSender is the mesh capability the synchronizer depends on.
type DirectSender interface {
	Broadcast(type_ string, payload any) int
	Peers() []string
	Connected(id string) bool
}

// RelaySender is the rendezvous fallback path.
type RelaySender interface {
	Broadcast(data []byte) error
}

type Sync struct {
	conf config.Sync
	mode Mode
	log  *logger.Logger

	direct DirectSender
	relay  RelaySender
	clock  func() time.Time

	mu       sync.Mutex
	local    EntityState // merged view of everything pushed so far
	lastSent EntityState // what the peers last heard from us
	nextEmit time.Time
	interval time.Duration
	buffers  map[string]*Buffer

	// OnEntityUpdate fires for every accepted remote entity update.
	OnEntityUpdate events.Emitter[EntityState]
	// OnMessage passes through non-state messages (ability events and
	// anything else the application defines).
	OnMessage events.Emitter[api.Message]
}

func NewSync(conf config.Sync, direct DirectSender, relay RelaySender, log *logger.Logger) (*Sync, error) {
	mode, err := ParseMode(conf.Mode)
	if err != nil {
		return nil, err
	}
	rate := conf.UpdateRate
	if rate <= 0 {
		rate = 20
	}
	return &Sync{
		conf:     conf,
		mode:     mode,
		log:      log.Extend(log.With().Str("m", "sync")),
		direct:   direct,
		relay:    relay,
		clock:    time.Now,
		interval: time.Second / time.Duration(rate),
		buffers:  make(map[string]*Buffer),
	}, nil
}

func (s *Sync) Mode() Mode { return s.mode }

// Push offers the current local entity state. Pushes may come at any
// rate, the network sees at most UpdateRate emissions per second and
// each emission carries only the fields that changed since the last
// one.
func (s *Sync) Push(st EntityState) {
	s.mu.Lock()
	now := s.clock()
	st.Timestamp = now.UnixMilli()
	s.local = merge(s.local, st)
	if now.Before(s.nextEmit) {
		s.mu.Unlock()
		return
	}
	upd, changed := diff(s.lastSent, s.local)
	if !changed {
		s.mu.Unlock()
		return
	}
	s.lastSent = s.local
	s.nextEmit = now.Add(s.interval)
	s.mu.Unlock()

	s.emit(upd)
}

// emit routes one update according to the operating mode.
func (s *Sync) emit(upd EntityState) {
	switch s.mode {
	case ModeSignaling:
		s.relayOut(upd)
	case ModeDirect:
		s.direct.Broadcast(api.MsgEntityState, upd)
	case ModeHybrid:
		s.direct.Broadcast(api.MsgEntityState, upd)
		// any peer still without a link gets the update relayed
		for _, id := range s.direct.Peers() {
			if !s.direct.Connected(id) {
				s.relayOut(upd)
				break
			}
		}
	}
}

func (s *Sync) relayOut(upd EntityState) {
	m, err := api.NewMessage(api.MsgEntityState, upd)
	if err != nil {
		s.log.Error().Err(err).Msg("encode state")
		return
	}
	raw, err := m.Encode()
	if err != nil {
		return
	}
	if err := s.relay.Broadcast(raw); err != nil {
		s.log.Debug().Err(err).Msg("relay fallback")
	}
}

// HandleMessage consumes one inbound envelope, from a direct link or
// from the relay fallback. Entity state is buffered, everything else
// passes through to the application.
func (s *Sync) HandleMessage(m api.Message) {
	if m.Type != api.MsgEntityState {
		s.OnMessage.Emit(m)
		return
	}
	upd := api.Unwrap[EntityState](m.Payload)
	if upd == nil || upd.Id == "" {
		s.log.Warn().Msg("dropped malformed entity state")
		return
	}
	s.Apply(*upd)
}

// Apply buffers one remote entity update. Updates older than the
// newest stored timestamp for that entity are discarded.
func (s *Sync) Apply(upd EntityState) {
	s.mu.Lock()
	buf, ok := s.buffers[upd.Id]
	if !ok {
		buf = &Buffer{}
		s.buffers[upd.Id] = buf
	}
	accepted := buf.Insert(upd)
	var latest EntityState
	if accepted {
		latest, _ = buf.Latest()
	}
	s.mu.Unlock()
	if accepted {
		s.OnEntityUpdate.Emit(latest)
	}
}

// Forget drops the buffered history of an entity, e.g. when its owner
// leaves the room.
func (s *Sync) Forget(id string) {
	s.mu.Lock()
	delete(s.buffers, id)
	s.mu.Unlock()
}

// Sample returns the interpolated state of an entity at time at.
// Callers normally pass now minus the configured interpolation delay.
func (s *Sync) Sample(id string, at time.Time) (EntityState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	buf, ok := s.buffers[id]
	if !ok {
		return EntityState{}, false
	}
	return buf.Sample(at.UnixMilli())
}

// SampleDelayed samples at now minus the configured interpolation
// delay, the usual render-side call.
func (s *Sync) SampleDelayed(id string) (EntityState, bool) {
	return s.Sample(id, s.clock().Add(-s.conf.InterpolationDelay))
}

// Entities lists ids with buffered state.
func (s *Sync) Entities() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.buffers))
	for id := range s.buffers {
		ids = append(ids, id)
	}
	return ids
}
