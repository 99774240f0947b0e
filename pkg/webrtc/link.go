// Package webrtc wraps pion peer connections into links: one direct
// connection to exactly one remote member, carrying typed application
// messages over an unordered, no-retransmit data channel.
package webrtc

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/goccy/go-json"
	"github.com/peermesh/peermesh/pkg/api"
	"github.com/peermesh/peermesh/pkg/logger"
	pion "github.com/pion/webrtc/v3"
)

// Link lifecycle. A link closes exactly once and is never reused,
// a new attempt means a new Link.
const (
	stateIdle int32 = iota
	stateConnecting
	stateConnected
	stateClosed
)

const dataChannelLabel = "state"

var ErrLinkNotConnected = errors.New("link not connected")

type Link struct {
	id        string // remote member id
	initiator bool
	log       *logger.Logger

	conn  *pion.PeerConnection
	state int32

	mu      sync.Mutex
	dc      *pion.DataChannel       // arrives on pion's goroutine for the responder
	pending []pion.ICECandidateInit // candidates before the remote description

	closeOnce sync.Once

	// Callbacks are set by the owner before Start and never change after.
	OnSignal  func(data []byte)
	OnConnect func()
	OnData    func(m api.Message)
	OnClose   func()
	OnError   func(err error)
}

// NewLink builds a link to the remote member. Exactly one side of a
// pair must be the initiator.
func NewLink(id string, initiator bool, factory *ApiFactory, log *logger.Logger) (*Link, error) {
	conn, err := factory.NewPeer()
	if err != nil {
		return nil, err
	}
	l := &Link{
		id:        id,
		initiator: initiator,
		conn:      conn,
		log:       log.Extend(log.With().Str("peer", short(id))),
	}
	return l, nil
}

func short(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func (l *Link) Id() string      { return l.id }
func (l *Link) Initiator() bool { return l.initiator }

func (l *Link) Connected() bool { return atomic.LoadInt32(&l.state) == stateConnected }
func (l *Link) Closed() bool    { return atomic.LoadInt32(&l.state) == stateClosed }

// Start begins negotiation. The initiator opens the data channel and
// sends the offer; the responder waits for both to arrive.
func (l *Link) Start() error {
	if !atomic.CompareAndSwapInt32(&l.state, stateIdle, stateConnecting) {
		return nil
	}

	l.conn.OnICECandidate(func(c *pion.ICECandidate) {
		if c == nil {
			return
		}
		r, err := encode(signalCandidate, c.ToJSON())
		if err != nil {
			l.log.Error().Err(err).Msg("encode candidate")
			return
		}
		l.OnSignal(r)
	})

	l.conn.OnICEConnectionStateChange(func(state pion.ICEConnectionState) {
		l.log.Debug().Msgf("ice %v", state)
		switch state {
		case pion.ICEConnectionStateConnected:
			if atomic.CompareAndSwapInt32(&l.state, stateConnecting, stateConnected) {
				if l.OnConnect != nil {
					l.OnConnect()
				}
			}
		case pion.ICEConnectionStateFailed, pion.ICEConnectionStateDisconnected, pion.ICEConnectionStateClosed:
			l.Close()
		}
	})

	if l.initiator {
		ordered := false
		var retransmits uint16 = 0
		dc, err := l.conn.CreateDataChannel(dataChannelLabel, &pion.DataChannelInit{
			Ordered:        &ordered,
			MaxRetransmits: &retransmits,
		})
		if err != nil {
			return err
		}
		l.bindChannel(dc)

		offer, err := l.conn.CreateOffer(nil)
		if err != nil {
			return err
		}
		if err = l.conn.SetLocalDescription(offer); err != nil {
			return err
		}
		r, err := encode(signalOffer, offer)
		if err != nil {
			return err
		}
		l.OnSignal(r)
		return nil
	}

	l.conn.OnDataChannel(func(dc *pion.DataChannel) { l.bindChannel(dc) })
	return nil
}

func (l *Link) bindChannel(dc *pion.DataChannel) {
	l.mu.Lock()
	l.dc = dc
	l.mu.Unlock()
	dc.OnMessage(func(msg pion.DataChannelMessage) {
		m, err := api.DecodeMessage(msg.Data)
		if err != nil {
			// malformed frames die at the boundary
			l.log.Warn().Msg("dropped malformed data frame")
			return
		}
		if l.OnData != nil {
			l.OnData(m)
		}
	})
	dc.OnClose(func() { l.Close() })
}

// Signal feeds one inbound negotiation payload into the link.
// Malformed payloads are dropped with a logged error, they are not
// fatal to the link or the mesh.
func (l *Link) Signal(data []byte) {
	if l.Closed() {
		return
	}
	var p signalPayload
	if err := json.Unmarshal(data, &p); err != nil {
		l.log.Error().Err(err).Msg("dropped malformed signal")
		return
	}
	var err error
	switch p.Kind {
	case signalOffer:
		err = l.onOffer(p.Data)
	case signalAnswer:
		err = l.onAnswer(p.Data)
	case signalCandidate:
		err = l.onCandidate(p.Data)
	default:
		l.log.Error().Msgf("dropped signal with kind %q", p.Kind)
		return
	}
	if err != nil {
		l.log.Error().Err(err).Msgf("signal %v", p.Kind)
		if l.OnError != nil {
			l.OnError(err)
		}
	}
}

func (l *Link) onOffer(data string) error {
	var offer pion.SessionDescription
	if err := decode(data, &offer); err != nil {
		return err
	}
	if err := l.conn.SetRemoteDescription(offer); err != nil {
		return err
	}
	answer, err := l.conn.CreateAnswer(nil)
	if err != nil {
		return err
	}
	if err = l.conn.SetLocalDescription(answer); err != nil {
		return err
	}
	l.flushCandidates()
	r, err := encode(signalAnswer, answer)
	if err != nil {
		return err
	}
	l.OnSignal(r)
	return nil
}

func (l *Link) onAnswer(data string) error {
	var answer pion.SessionDescription
	if err := decode(data, &answer); err != nil {
		return err
	}
	if err := l.conn.SetRemoteDescription(answer); err != nil {
		return err
	}
	l.flushCandidates()
	return nil
}

func (l *Link) onCandidate(data string) error {
	var candidate pion.ICECandidateInit
	if err := decode(data, &candidate); err != nil {
		return err
	}
	l.mu.Lock()
	if l.conn.RemoteDescription() == nil {
		// too early, the description will flush it
		l.pending = append(l.pending, candidate)
		l.mu.Unlock()
		return nil
	}
	l.mu.Unlock()
	return l.conn.AddICECandidate(candidate)
}

func (l *Link) flushCandidates() {
	l.mu.Lock()
	pending := l.pending
	l.pending = nil
	l.mu.Unlock()
	for _, candidate := range pending {
		if err := l.conn.AddICECandidate(candidate); err != nil {
			l.log.Error().Err(err).Msg("flush candidate")
		}
	}
}

func (l *Link) channel() *pion.DataChannel {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.dc
}

// Send serializes {type, payload} onto the data channel. Until the
// link is connected this is a no-op with a warning.
func (l *Link) Send(type_ string, payload any) error {
	dc := l.channel()
	if !l.Connected() || dc == nil {
		l.log.Warn().Msgf("send %v skipped, link not connected", type_)
		return ErrLinkNotConnected
	}
	m, err := api.NewMessage(type_, payload)
	if err != nil {
		return err
	}
	r, err := m.Encode()
	if err != nil {
		return err
	}
	return dc.SendText(string(r))
}

// SendRaw transmits an already encoded envelope.
func (l *Link) SendRaw(data []byte) error {
	dc := l.channel()
	if !l.Connected() || dc == nil {
		return ErrLinkNotConnected
	}
	return dc.SendText(string(data))
}

// Close tears the link down. Idempotent; the closed state is terminal.
func (l *Link) Close() {
	l.closeOnce.Do(func() {
		atomic.StoreInt32(&l.state, stateClosed)
		if dc := l.channel(); dc != nil {
			_ = dc.Close()
		}
		_ = l.conn.Close()
		l.log.Debug().Msg("link closed")
		if l.OnClose != nil {
			l.OnClose()
		}
	})
}
