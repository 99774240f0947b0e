// Package session is the composition root: it builds the rendezvous
// client, the mesh and the state synchronizer in dependency order,
// wires their event surfaces together, and exposes the API consumed
// by physics and rendering.
package session

import (
	"context"
	"time"

	"github.com/goccy/go-json"
	"github.com/peermesh/peermesh/pkg/api"
	"github.com/peermesh/peermesh/pkg/config"
	"github.com/peermesh/peermesh/pkg/events"
	"github.com/peermesh/peermesh/pkg/logger"
	"github.com/peermesh/peermesh/pkg/mesh"
	"github.com/peermesh/peermesh/pkg/rendezvous"
	"github.com/peermesh/peermesh/pkg/state"
	"github.com/peermesh/peermesh/pkg/webrtc"
)

type Session struct {
	conf   config.Peer
	log    *logger.Logger
	client *rendezvous.Client
	mesh   *mesh.Mesh
	sync   *state.Sync
}

func New(conf config.Peer, log *logger.Logger) (*Session, error) {
	client := rendezvous.NewClient(conf.Rendezvous, log)
	factory := webrtc.NewApiFactory(conf.Webrtc, log)

	newLink := func(peerId string, initiator bool, cb mesh.LinkCallbacks) (mesh.Link, error) {
		link, err := webrtc.NewLink(peerId, initiator, factory, log)
		if err != nil {
			return nil, err
		}
		link.OnSignal = cb.OnSignal
		link.OnConnect = cb.OnConnect
		link.OnData = cb.OnData
		link.OnClose = cb.OnClose
		return link, nil
	}
	m := mesh.New(client, newLink, log)

	sy, err := state.NewSync(conf.Sync, m, client, log)
	if err != nil {
		return nil, err
	}

	// Event wiring, rendezvous -> mesh -> sync. Order is fixed here
	// once, no component resolves another at runtime.
	client.OnConnect.Sub(m.HandleConnect)
	client.OnUserJoined.Sub(m.HandleUserJoined)
	client.OnRoomUsers.Sub(m.HandleRoomUsers)
	client.OnUserLeft.Sub(func(id string) { m.HandleUserGone(id); sy.Forget(id) })
	client.OnUserGone.Sub(func(id string) { m.HandleUserGone(id); sy.Forget(id) })
	client.OnSignal.Sub(m.HandleSignal)
	client.OnDisconnect.Sub(func(struct{}) { m.HandleDisconnect() })
	client.OnBroadcast.Sub(func(env rendezvous.Envelope) {
		var msg api.Message
		if err := json.Unmarshal(env.Data, &msg); err != nil || msg.Type == "" {
			log.Warn().Msg("dropped malformed relay broadcast")
			return
		}
		sy.HandleMessage(msg)
	})
	m.OnData.Sub(func(pm mesh.PeerMessage) { sy.HandleMessage(pm.Msg) })

	return &Session{conf: conf, log: log, client: client, mesh: m, sync: sy}, nil
}

// Connect opens the rendezvous connection. Idempotent.
func (s *Session) Connect() error { return s.client.Connect() }

// JoinRoom enters the room and blocks until the membership list
// arrives or the join window passes.
func (s *Session) JoinRoom(ctx context.Context, roomId string) ([]string, error) {
	return s.client.JoinRoom(ctx, roomId)
}

// Leave drops the room membership and all direct links with it.
func (s *Session) Leave() {
	s.client.LeaveRoom()
	s.mesh.HandleDisconnect()
}

func (s *Session) Close() {
	s.mesh.HandleDisconnect()
	s.client.Close()
}

// Id returns the member id issued by the rendezvous server.
func (s *Session) Id() string { return s.client.Id() }

// Leader returns the deterministically elected room leader.
func (s *Session) Leader() string { return s.mesh.Leader() }
func (s *Session) IsLeader() bool { return s.mesh.IsLeader() }

// PushLocalState offers the local entity state for synchronization.
func (s *Session) PushLocalState(st state.EntityState) { s.sync.Push(st) }

// Sample returns the interpolated state of a remote entity at time at.
func (s *Session) Sample(id string, at time.Time) (state.EntityState, bool) {
	return s.sync.Sample(id, at)
}

// SampleDelayed samples at now minus the interpolation delay.
func (s *Session) SampleDelayed(id string) (state.EntityState, bool) {
	return s.sync.SampleDelayed(id)
}

// Send delivers an application message to one connected peer.
func (s *Session) Send(peerId, type_ string, payload any) error {
	return s.mesh.Send(peerId, type_, payload)
}

// Broadcast delivers an application message to every connected peer.
func (s *Session) Broadcast(type_ string, payload any) int {
	return s.mesh.Broadcast(type_, payload)
}

// Event surfaces for the engine side.
func (s *Session) OnPeerConnected() *events.Emitter[string]         { return &s.mesh.OnPeerConnect }
func (s *Session) OnPeerDisconnected() *events.Emitter[string]      { return &s.mesh.OnPeerDisconnect }
func (s *Session) OnEntityUpdate() *events.Emitter[state.EntityState] {
	return &s.sync.OnEntityUpdate
}
func (s *Session) OnMessage() *events.Emitter[api.Message]  { return &s.sync.OnMessage }
func (s *Session) OnLeaderChange() *events.Emitter[string]  { return &s.mesh.OnLeaderChange }
func (s *Session) OnReconnecting() *events.Emitter[int]     { return &s.client.OnReconnecting }
func (s *Session) OnError() *events.Emitter[string]         { return &s.client.OnError }
