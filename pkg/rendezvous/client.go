// Package rendezvous implements the client side of the rendezvous
// protocol: one persistent signaling connection, room membership,
// envelope relay, and a reconnection state machine with exponential
// backoff that survives a wedged transport by recreating it.
package rendezvous

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/peermesh/peermesh/pkg/api"
	"github.com/peermesh/peermesh/pkg/config"
	"github.com/peermesh/peermesh/pkg/events"
	"github.com/peermesh/peermesh/pkg/logger"
	"github.com/peermesh/peermesh/pkg/network/websocket"
)

// State is the connection state machine:
//
//	Idle -> Connecting -> Connected -> Reconnecting -> Connected
//	                                      |               ^
//	                                      v (cap hit)     |
//	                                   recreate socket ---+
//	any state -> Closed (terminal)
//
// Only the reconnect loop moves the machine out of Reconnecting, and
// only one loop may run at a time. The transport itself never retries,
// all retry policy lives here.
type State int32

const (
	Idle State = iota
	Connecting
	Connected
	Reconnecting
	Closed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Reconnecting:
		return "reconnecting"
	case Closed:
		return "closed"
	}
	return "?"
}

var (
	ErrNotConnected = errors.New("not connected to rendezvous")
	ErrJoinTimeout  = errors.New("room join timed out")
	ErrClosed       = errors.New("client closed")
)

// Envelope is a relayed payload together with the member it came from.
type Envelope struct {
	UserId string
	Data   json.RawMessage
}

type dialFunc func(address url.URL, log *logger.Logger) (*websocket.WS, error)

type Client struct {
	conf config.Rendezvous
	log  *logger.Logger
	dial dialFunc

	mu           sync.Mutex
	state        State
	sock         *websocket.WS
	selfId       string
	lastRoom     string
	joinPending  chan []string
	reconnecting bool // re-entrancy guard for the backoff loop

	closed chan struct{}

	// Event surface. Handlers run on the socket reader goroutine,
	// so per-connection delivery is ordered.
	OnConnect         events.Emitter[string] // self id
	OnDisconnect      events.Emitter[struct{}]
	OnReconnecting    events.Emitter[int] // attempt number
	OnReconnectFailed events.Emitter[struct{}]
	OnUserJoined      events.Emitter[string]
	OnUserLeft        events.Emitter[string]
	OnUserGone        events.Emitter[string] // user_disconnected
	OnRoomUsers       events.Emitter[[]string]
	OnSignal          events.Emitter[Envelope]
	OnBroadcast       events.Emitter[Envelope]
	OnError           events.Emitter[string]
}

func NewClient(conf config.Rendezvous, log *logger.Logger) *Client {
	return &Client{
		conf:   conf,
		log:    log.Extend(log.With().Str("m", "rdv")),
		dial:   websocket.NewClient,
		closed: make(chan struct{}),
	}
}

// Id returns the server-issued member id, empty until connected.
func (c *Client) Id() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.selfId
}

func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connect opens the signaling connection.
// Idempotent while connecting or connected.
func (c *Client) Connect() error {
	c.mu.Lock()
	switch c.state {
	case Connecting, Connected, Reconnecting:
		c.mu.Unlock()
		return nil
	case Closed:
		c.mu.Unlock()
		return ErrClosed
	}
	c.state = Connecting
	c.mu.Unlock()

	if err := c.open(); err != nil {
		c.mu.Lock()
		c.state = Idle
		c.mu.Unlock()
		return err
	}
	return nil
}

// open dials a brand new socket and installs it. The previous socket
// object, wedged or not, is discarded entirely.
func (c *Client) open() error {
	address, err := url.Parse(c.conf.Endpoint)
	if err != nil {
		return err
	}
	sock, err := c.dial(*address, c.log)
	if err != nil {
		return err
	}
	sock.OnMessage = func(message []byte, _ error) { c.handleMessage(message) }

	c.mu.Lock()
	c.sock = sock
	c.state = Connected
	c.mu.Unlock()

	sock.Listen()
	go c.watch(sock)
	return nil
}

// watch waits for the socket to die and starts the reconnect loop.
func (c *Client) watch(sock *websocket.WS) {
	select {
	case <-sock.Done:
	case <-c.closed:
		return
	}

	c.mu.Lock()
	if c.state == Closed || c.sock != sock {
		c.mu.Unlock()
		return
	}
	c.sock = nil
	c.selfId = "" // ids are per connection lifetime
	c.failJoin()
	if c.reconnecting {
		c.mu.Unlock()
		return
	}
	c.reconnecting = true
	c.state = Reconnecting
	c.mu.Unlock()

	c.log.Warn().Msg("signaling connection lost")
	c.OnDisconnect.Emit(struct{}{})
	go c.reconnectLoop()
}

// reconnectLoop runs the backoff schedule. After MaxAttempts failures
// it reports the exhaustion, discards the transport for a fresh one and
// starts the schedule over: a degraded but recoverable condition.
func (c *Client) reconnectLoop() {
	defer func() {
		c.mu.Lock()
		c.reconnecting = false
		c.mu.Unlock()
	}()
	backoff := Backoff{Base: c.conf.Reconnect.BaseDelay, Max: c.conf.Reconnect.MaxDelay}
	for {
		for attempt := 1; attempt <= c.conf.Reconnect.MaxAttempts; attempt++ {
			select {
			case <-c.closed:
				return
			case <-time.After(backoff.Delay(attempt)):
			}
			c.OnReconnecting.Emit(attempt)
			c.log.Info().Msgf("reconnect attempt %d", attempt)
			if err := c.open(); err != nil {
				c.log.Debug().Err(err).Msg("reconnect fail")
				continue
			}
			c.rejoin()
			return
		}
		// The cap is spent. No more waiting on this transport: drop it
		// and go again from scratch.
		c.log.Error().Msgf("reconnect failed after %d attempts, recreating connection", c.conf.Reconnect.MaxAttempts)
		c.OnReconnectFailed.Emit(struct{}{})
		select {
		case <-c.closed:
			return
		default:
		}
	}
}

// rejoin restores the last room membership after a reconnect.
func (c *Client) rejoin() {
	c.mu.Lock()
	room := c.lastRoom
	c.mu.Unlock()
	if room == "" {
		return
	}
	c.log.Info().Msgf("rejoining room %v", room)
	c.send(api.EventJoinRoom, api.JoinRoom{RoomId: room})
}

// JoinRoom joins roomId and blocks until the server confirms with the
// member list or the join window passes. A timed out join tears the
// attempt down and surfaces a terminal error: the caller must retry
// explicitly.
func (c *Client) JoinRoom(ctx context.Context, roomId string) ([]string, error) {
	c.mu.Lock()
	if c.state != Connected {
		c.mu.Unlock()
		return nil, ErrNotConnected
	}
	wait := make(chan []string, 1)
	c.joinPending = wait
	c.mu.Unlock()

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.conf.JoinTimeout)
		defer cancel()
	}

	if err := c.send(api.EventJoinRoom, api.JoinRoom{RoomId: roomId}); err != nil {
		return nil, err
	}

	select {
	case users, ok := <-wait:
		if !ok { // connection died mid-join
			return nil, ErrNotConnected
		}
		c.mu.Lock()
		c.lastRoom = roomId
		c.joinPending = nil
		c.mu.Unlock()
		return users, nil
	case <-ctx.Done():
		c.mu.Lock()
		c.joinPending = nil
		c.mu.Unlock()
		// tear the half-joined session down before reporting
		_ = c.send(api.EventLeaveRoom, api.LeaveRoom{RoomId: roomId})
		return nil, ErrJoinTimeout
	case <-c.closed:
		return nil, ErrClosed
	}
}

// LeaveRoom drops the current membership, if any.
func (c *Client) LeaveRoom() {
	c.mu.Lock()
	room := c.lastRoom
	c.lastRoom = ""
	c.mu.Unlock()
	if room == "" {
		return
	}
	_ = c.send(api.EventLeaveRoom, api.LeaveRoom{RoomId: room})
}

// SendSignal relays an opaque negotiation payload to exactly one member.
// Fire-and-forget, no delivery confirmation.
func (c *Client) SendSignal(targetId string, signal []byte) error {
	return c.send(api.EventSignal, api.Signal{TargetId: targetId, Signal: signal})
}

// Broadcast relays data to every current room member through the server.
func (c *Client) Broadcast(data []byte) error {
	return c.send(api.EventBroadcast, api.Broadcast{Data: data})
}

func (c *Client) Close() {
	c.mu.Lock()
	if c.state == Closed {
		c.mu.Unlock()
		return
	}
	c.state = Closed
	sock := c.sock
	c.sock = nil
	c.failJoin()
	c.mu.Unlock()
	close(c.closed)
	if sock != nil {
		sock.Close()
	}
}

func (c *Client) send(t api.Event, payload any) error {
	c.mu.Lock()
	sock := c.sock
	c.mu.Unlock()
	if sock == nil {
		return ErrNotConnected
	}
	r, err := api.Encode(t, payload)
	if err != nil {
		return err
	}
	sock.Write(r)
	return nil
}

// failJoin unblocks a pending JoinRoom on teardown. Callers hold mu.
func (c *Client) failJoin() {
	if c.joinPending != nil {
		close(c.joinPending)
		c.joinPending = nil
	}
}

func (c *Client) handleMessage(message []byte) {
	in, err := api.Decode(message)
	if err != nil {
		// malformed and unknown packets die here, never the event loop
		c.log.Warn().Err(err).Msg("dropped inbound packet")
		return
	}
	switch in.T {
	case api.EventConnected:
		if p := api.Unwrap[api.Welcome](in.Payload); p != nil {
			c.mu.Lock()
			c.selfId = p.UserId
			c.mu.Unlock()
			c.log.Info().Msgf("connected as %v", p.UserId)
			c.OnConnect.Emit(p.UserId)
		}
	case api.EventUserJoined:
		if p := api.Unwrap[api.UserJoined](in.Payload); p != nil {
			c.OnUserJoined.Emit(p.UserId)
		}
	case api.EventUserLeft:
		if p := api.Unwrap[api.UserLeft](in.Payload); p != nil {
			c.OnUserLeft.Emit(p.UserId)
		}
	case api.EventUserDisconnected:
		if p := api.Unwrap[api.UserLeft](in.Payload); p != nil {
			c.OnUserGone.Emit(p.UserId)
		}
	case api.EventRoomUsers:
		if p := api.Unwrap[api.RoomUsers](in.Payload); p != nil {
			c.mu.Lock()
			wait := c.joinPending
			c.mu.Unlock()
			if wait != nil {
				wait <- p.Users
			}
			c.OnRoomUsers.Emit(p.Users)
		}
	case api.EventSignal:
		if p := api.Unwrap[api.SignalNotice](in.Payload); p != nil {
			c.OnSignal.Emit(Envelope{UserId: p.UserId, Data: p.Signal})
		}
	case api.EventBroadcast:
		if p := api.Unwrap[api.BroadcastNotice](in.Payload); p != nil {
			c.OnBroadcast.Emit(Envelope{UserId: p.UserId, Data: p.Data})
		}
	case api.EventError:
		if p := api.Unwrap[api.ErrorNotice](in.Payload); p != nil {
			c.log.Error().Msgf("server: %v", p.Message)
			c.OnError.Emit(p.Message)
		}
	}
}
