package api

import (
	"github.com/goccy/go-json"
)

// Message is the envelope for the peer data channel and the relay
// broadcast fallback: an application tag plus an opaque payload.
// The session layer never validates the payload shape beyond
// JSON-parseability.
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Well-known message tags of the state layer. Applications are free
// to add their own, unrecognized tags pass through to the consumer.
const (
	MsgEntityState = "entity_state"
	MsgAbility     = "ability"
	MsgPing        = "ping"
)

func NewMessage(type_ string, payload any) (Message, error) {
	p, err := json.Marshal(payload)
	if err != nil {
		return Message{}, err
	}
	return Message{Type: type_, Payload: p}, nil
}

// DecodeMessage parses a data channel frame. Anything that is not
// a JSON object with a type tag is malformed and must be dropped
// by the caller.
func DecodeMessage(raw []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(raw, &m); err != nil {
		return Message{}, ErrMalformed
	}
	if m.Type == "" {
		return Message{}, ErrMalformed
	}
	return m, nil
}

func (m Message) Encode() ([]byte, error) { return json.Marshal(m) }
