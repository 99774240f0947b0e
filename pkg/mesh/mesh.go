// Package mesh maintains the full mesh of direct links: one live link
// per other member currently believed to be in the room. It reacts to
// rendezvous membership events, pipes negotiation payloads between the
// relay and the matching link, and namespaces link events by peer id.
package mesh

import (
	"errors"
	"sync"

	"github.com/peermesh/peermesh/pkg/api"
	"github.com/peermesh/peermesh/pkg/com"
	"github.com/peermesh/peermesh/pkg/events"
	"github.com/peermesh/peermesh/pkg/logger"
	"github.com/peermesh/peermesh/pkg/rendezvous"
)

// Link is what the mesh needs from a direct connection. Satisfied by
// *webrtc.Link; tests substitute their own.
type Link interface {
	Id() string
	Connected() bool
	Start() error
	Signal(data []byte)
	SendRaw(data []byte) error
	Close()
}

// LinkFactory builds a link to the remote member and wires the given
// callbacks before any negotiation starts.
type LinkFactory func(peerId string, initiator bool, cb LinkCallbacks) (Link, error)

type LinkCallbacks struct {
	OnSignal  func(data []byte)
	OnConnect func()
	OnData    func(m api.Message)
	OnClose   func()
}

// Signaler is the rendezvous capability the mesh depends on.
type Signaler interface {
	SendSignal(targetId string, signal []byte) error
}

type PeerMessage struct {
	PeerId string
	Msg    api.Message
}

var ErrUnknownPeer = errors.New("unknown peer")

type Mesh struct {
	log      *logger.Logger
	signaler Signaler
	newLink  LinkFactory

	mu      sync.Mutex
	self    string
	members map[string]struct{} // room membership, self included
	leader  string
	links   com.Map[string, Link]

	OnPeerConnect    events.Emitter[string]
	OnPeerDisconnect events.Emitter[string]
	OnData           events.Emitter[PeerMessage]
	OnLeaderChange   events.Emitter[string]
}

func New(signaler Signaler, newLink LinkFactory, log *logger.Logger) *Mesh {
	return &Mesh{
		log:      log.Extend(log.With().Str("m", "mesh")),
		signaler: signaler,
		newLink:  newLink,
		members:  make(map[string]struct{}),
		links:    com.NewMap[string, Link](),
	}
}

// HandleConnect records the id issued for this connection lifetime.
func (m *Mesh) HandleConnect(selfId string) {
	m.mu.Lock()
	m.self = selfId
	m.members = map[string]struct{}{selfId: {}}
	m.mu.Unlock()
	m.electLeader()
}

// HandleUserJoined reacts to a member arriving after us: we initiate.
func (m *Mesh) HandleUserJoined(id string) {
	m.mu.Lock()
	m.members[id] = struct{}{}
	m.mu.Unlock()
	m.createLink(id, true)
	m.electLeader()
}

// HandleRoomUsers reacts to our own join: a responder link is prepared
// for each existing member, their side sends the offer.
func (m *Mesh) HandleRoomUsers(users []string) {
	m.mu.Lock()
	self := m.self
	m.members = make(map[string]struct{}, len(users)+1)
	if self != "" {
		m.members[self] = struct{}{}
	}
	for _, id := range users {
		m.members[id] = struct{}{}
	}
	m.mu.Unlock()
	for _, id := range users {
		if id != self {
			m.createLink(id, false)
		}
	}
	m.electLeader()
}

// HandleUserGone closes the link of a member that left or dropped.
func (m *Mesh) HandleUserGone(id string) {
	m.mu.Lock()
	delete(m.members, id)
	m.mu.Unlock()
	if link, ok := m.links.Pop(id); ok {
		link.Close()
		m.OnPeerDisconnect.Emit(id)
	}
	m.electLeader()
}

// HandleSignal pipes a relayed negotiation payload into the matching
// link, creating a responder link lazily for an unknown sender.
func (m *Mesh) HandleSignal(env rendezvous.Envelope) {
	link, err := m.links.Find(env.UserId)
	if err != nil {
		m.mu.Lock()
		m.members[env.UserId] = struct{}{}
		m.mu.Unlock()
		link = m.createLink(env.UserId, false)
		if link == nil {
			return
		}
		m.electLeader()
	}
	link.Signal(env.Data)
}

// HandleDisconnect tears down every link: without signaling there is
// no way to repair or replace them. The map is cleared before return.
func (m *Mesh) HandleDisconnect() {
	m.mu.Lock()
	self := m.self
	m.members = make(map[string]struct{})
	if self != "" {
		m.members[self] = struct{}{}
	}
	m.mu.Unlock()
	// the map clears before the close events fire
	for _, link := range m.links.Drain() {
		link.Close()
		m.OnPeerDisconnect.Emit(link.Id())
	}
	m.electLeader()
}

// createLink makes sure exactly one link exists per remote id:
// a second create while one is live is a no-op.
func (m *Mesh) createLink(id string, initiator bool) Link {
	m.mu.Lock()
	if id == m.self {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()
	if link, err := m.links.Find(id); err == nil {
		return link
	}
	// created is captured by OnClose so a closing duplicate can only
	// ever remove itself, never the link that won the insert race
	var created Link
	link, err := m.newLink(id, initiator, LinkCallbacks{
		OnSignal:  func(data []byte) { _ = m.signaler.SendSignal(id, data) },
		OnConnect: func() { m.OnPeerConnect.Emit(id) },
		OnData:    func(msg api.Message) { m.OnData.Emit(PeerMessage{PeerId: id, Msg: msg}) },
		OnClose:   func() { m.dropLink(id, created) },
	})
	if err != nil {
		m.log.Error().Err(err).Msgf("link create %v", id)
		return nil
	}
	created = link
	if !m.links.PutIfAbsent(id, link) {
		// lost the race to an earlier create
		link.Close()
		link, _ = m.links.Find(id)
		return link
	}
	m.log.Debug().Msgf("link %v initiator=%v", id, initiator)
	if err := link.Start(); err != nil {
		m.log.Error().Err(err).Msgf("link start %v", id)
		m.links.RemoveByKey(id)
		link.Close()
		return nil
	}
	return link
}

// dropLink removes exactly the link that died. One bad link never
// affects the others, and a dead duplicate never evicts the live one.
func (m *Mesh) dropLink(id string, link Link) {
	if m.links.RemoveIf(id, func(v Link) bool { return v == link }) {
		m.OnPeerDisconnect.Emit(id)
	}
}

// Broadcast sends to every currently connected link, silently skipping
// links still negotiating. No queueing. Returns the delivery count.
func (m *Mesh) Broadcast(type_ string, payload any) int {
	msg, err := api.NewMessage(type_, payload)
	if err != nil {
		m.log.Error().Err(err).Msg("broadcast encode")
		return 0
	}
	raw, err := msg.Encode()
	if err != nil {
		return 0
	}
	n := 0
	m.links.ForEach(func(_ string, link Link) {
		if link.Connected() && link.SendRaw(raw) == nil {
			n++
		}
	})
	return n
}

// Send delivers to one peer; unknown or unconnected peers make it warn
// and no-op.
func (m *Mesh) Send(peerId string, type_ string, payload any) error {
	link, err := m.links.Find(peerId)
	if err != nil {
		m.log.Warn().Msgf("send to unknown peer %v", peerId)
		return ErrUnknownPeer
	}
	if !link.Connected() {
		m.log.Warn().Msgf("send to unconnected peer %v", peerId)
		return ErrUnknownPeer
	}
	msg, err := api.NewMessage(type_, payload)
	if err != nil {
		return err
	}
	raw, err := msg.Encode()
	if err != nil {
		return err
	}
	return link.SendRaw(raw)
}

// Connected reports whether a live connected link to the peer exists.
func (m *Mesh) Connected(peerId string) bool {
	link, err := m.links.Find(peerId)
	return err == nil && link.Connected()
}

// Peers returns the ids of the other current room members.
func (m *Mesh) Peers() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	peers := make([]string, 0, len(m.members))
	for id := range m.members {
		if id != m.self {
			peers = append(peers, id)
		}
	}
	return peers
}

// Links returns the ids with a link object, connected or not.
func (m *Mesh) Links() []string { return m.links.Keys() }

// FullyConnected reports whether every other member has a connected link.
func (m *Mesh) FullyConnected() bool {
	for _, id := range m.Peers() {
		if !m.Connected(id) {
			return false
		}
	}
	return true
}
