// Package relay implements the rendezvous server: it issues member ids,
// tracks named rooms, and forwards signaling envelopes and fallback
// broadcasts between room members. It never inspects relayed payloads.
package relay

import (
	"github.com/peermesh/peermesh/pkg/api"
	"github.com/peermesh/peermesh/pkg/logger"
)

// Hub owns every room and member. A single goroutine (Run) consumes
// all state-changing messages, so no locks are needed around the maps.
type Hub struct {
	log     *logger.Logger
	rooms   map[string][]*client
	clients map[string]*client

	register   chan *client
	unregister chan *client
	inbound    chan packet
	done       chan struct{}
}

type packet struct {
	from *client
	in   api.In
}

func NewHub(log *logger.Logger) *Hub {
	return &Hub{
		log:        log,
		rooms:      make(map[string][]*client),
		clients:    make(map[string]*client),
		register:   make(chan *client),
		unregister: make(chan *client),
		inbound:    make(chan packet),
		done:       make(chan struct{}),
	}
}

// Run processes hub messages until Stop. Blocking.
func (h *Hub) Run() {
	for {
		select {
		case c := <-h.register:
			h.clients[c.id] = c
			clientsConnected.Inc()
			c.log.Info().Msg("client connected")
			c.notify(api.EventConnected, api.Welcome{UserId: c.id})
		case c := <-h.unregister:
			h.disconnect(c)
		case p := <-h.inbound:
			h.handle(p.from, p.in)
		case <-h.done:
			for _, c := range h.clients {
				c.close()
			}
			return
		}
	}
}

func (h *Hub) Stop() { close(h.done) }

// Done closes when the hub stops accepting messages.
func (h *Hub) Done() <-chan struct{} { return h.done }

func (h *Hub) handle(c *client, in api.In) {
	switch in.T {
	case api.EventJoinRoom:
		rq := api.Unwrap[api.JoinRoom](in.Payload)
		if rq == nil || rq.RoomId == "" {
			c.notify(api.EventError, api.ErrorNotice{Message: "Room ID is required"})
			return
		}
		h.joinRoom(c, rq.RoomId)
	case api.EventLeaveRoom:
		rq := api.Unwrap[api.LeaveRoom](in.Payload)
		roomId := c.room
		if rq != nil && rq.RoomId != "" {
			roomId = rq.RoomId
		}
		if roomId == "" {
			return
		}
		h.leaveRoom(c, roomId, api.EventUserLeft)
	case api.EventSignal:
		rq := api.Unwrap[api.Signal](in.Payload)
		if rq == nil {
			malformedDropped.Inc()
			return
		}
		target, ok := h.clients[rq.TargetId]
		if !ok {
			c.log.Warn().Msgf("invalid signal target: %v", rq.TargetId)
			return
		}
		signalsRelayed.Inc()
		target.notify(api.EventSignal, api.SignalNotice{UserId: c.id, Signal: rq.Signal})
	case api.EventBroadcast:
		rq := api.Unwrap[api.Broadcast](in.Payload)
		if rq == nil || c.room == "" {
			malformedDropped.Inc()
			return
		}
		broadcastsRelayed.Inc()
		for _, member := range h.rooms[c.room] {
			if member != c {
				member.notify(api.EventBroadcast, api.BroadcastNotice{UserId: c.id, Data: rq.Data})
			}
		}
	default:
		malformedDropped.Inc()
		c.log.Warn().Msgf("dropped packet with tag %q", in.T)
	}
}

// joinRoom moves the member into roomId, creating the room on demand.
// A member holds at most one membership, the previous one ends first.
func (h *Hub) joinRoom(c *client, roomId string) {
	if c.room != "" {
		h.leaveRoom(c, c.room, api.EventUserLeft)
	}
	c.log.Info().Msgf("joining room %v", roomId)
	c.room = roomId
	h.rooms[roomId] = append(h.rooms[roomId], c)
	members := h.rooms[roomId]

	for _, member := range members {
		if member != c {
			member.notify(api.EventUserJoined, api.UserJoined{UserId: c.id, UserCount: len(members)})
		}
	}
	users := make([]string, 0, len(members))
	for _, member := range members {
		users = append(users, member.id)
	}
	c.notify(api.EventRoomUsers, api.RoomUsers{Users: users, UserCount: len(members)})
	roomsLive.Set(float64(len(h.rooms)))
}

// leaveRoom removes the member and tells the rest with the given event:
// user_left on an explicit leave, user_disconnected on a socket drop.
func (h *Hub) leaveRoom(c *client, roomId string, ev api.Event) {
	members, ok := h.rooms[roomId]
	if !ok {
		return
	}
	removed := false
	for i, member := range members {
		if member == c {
			h.rooms[roomId] = append(members[:i], members[i+1:]...)
			removed = true
			break
		}
	}
	// a leave for a room the member never joined touches nothing
	if !removed {
		return
	}
	c.room = ""
	if len(h.rooms[roomId]) == 0 {
		delete(h.rooms, roomId)
		h.log.Debug().Msgf("room %v deleted", roomId)
	} else {
		for _, member := range h.rooms[roomId] {
			member.notify(ev, api.UserLeft{UserId: c.id})
		}
	}
	roomsLive.Set(float64(len(h.rooms)))
}

func (h *Hub) disconnect(c *client) {
	if _, ok := h.clients[c.id]; !ok {
		return
	}
	c.log.Info().Msg("client disconnected")
	if c.room != "" {
		h.leaveRoom(c, c.room, api.EventUserDisconnected)
	}
	delete(h.clients, c.id)
	clientsConnected.Dec()
}
