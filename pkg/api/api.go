// Package api defines the wire API spoken between peers and the rendezvous server.
//
// Each message is a JSON-encoded "packet" of the following structure:
//
//	t - (required) one of the predefined event tags;
//	p - (optional) packet payload with event-specific data.
//
// Packets differentiate by their event tag, with which it is possible to
// unwrap the payload into distinct request/notice structures. Tags unknown
// to the receiving side decode into EventUnknown and are counted and
// dropped instead of being silently ignored.
//
// Example:
//
//	{"t":"user_joined","p":{"userId":"cfv68irdrc3ifu3jn6bg","userCount":2}}
package api

import (
	"errors"
	"fmt"

	"github.com/goccy/go-json"
)

type Event string

// Client to server.
const (
	EventJoinRoom  Event = "join_room"
	EventLeaveRoom Event = "leave_room"
	EventSignal    Event = "signal"
	EventBroadcast Event = "broadcast"
)

// Server to client.
const (
	EventConnected        Event = "connected"
	EventUserJoined       Event = "user_joined"
	EventUserLeft         Event = "user_left"
	EventUserDisconnected Event = "user_disconnected"
	EventRoomUsers        Event = "room_users"
	EventError            Event = "error"
)

// EventUnknown is what every unrecognized tag maps to at the boundary.
const EventUnknown Event = ""

var knownEvents = map[Event]struct{}{
	EventJoinRoom: {}, EventLeaveRoom: {}, EventSignal: {}, EventBroadcast: {},
	EventConnected: {}, EventUserJoined: {}, EventUserLeft: {}, EventUserDisconnected: {},
	EventRoomUsers: {}, EventError: {},
}

func (e Event) Known() bool { _, ok := knownEvents[e]; return ok }

func (e Event) String() string {
	if e == EventUnknown {
		return "unknown"
	}
	return string(e)
}

type In struct {
	T       Event           `json:"t"`
	Payload json.RawMessage `json:"p,omitempty"` // 2-pass unmarshal
}

type Out struct {
	T       Event `json:"t"`
	Payload any   `json:"p,omitempty"`
}

// Payloads, client to server.
type (
	JoinRoom struct {
		RoomId string `json:"roomId"`
	}
	LeaveRoom struct {
		RoomId string `json:"roomId,omitempty"`
	}
	Signal struct {
		TargetId string          `json:"targetId"`
		Signal   json.RawMessage `json:"signal"`
	}
	Broadcast struct {
		Data json.RawMessage `json:"data"`
	}
)

// Payloads, server to client.
type (
	// Welcome tells a member the id issued for its connection lifetime.
	Welcome struct {
		UserId string `json:"userId"`
	}
	UserJoined struct {
		UserId    string `json:"userId"`
		UserCount int    `json:"userCount"`
	}
	UserLeft struct {
		UserId string `json:"userId"`
	}
	RoomUsers struct {
		Users     []string `json:"users"`
		UserCount int      `json:"userCount"`
	}
	// SignalNotice relays an opaque negotiation payload from exactly one member.
	SignalNotice struct {
		UserId string          `json:"userId"`
		Signal json.RawMessage `json:"signal"`
	}
	BroadcastNotice struct {
		UserId string          `json:"userId"`
		Data   json.RawMessage `json:"data"`
	}
	ErrorNotice struct {
		Message string `json:"message"`
	}
)

var (
	ErrMalformed = errors.New("malformed")
	ErrUnknown   = errors.New("unknown event")
)

// Decode parses a raw packet. Malformed JSON maps to ErrMalformed,
// a tag outside the closed event set maps to ErrUnknown with the
// packet still returned for inspection.
func Decode(raw []byte) (In, error) {
	var in In
	if err := json.Unmarshal(raw, &in); err != nil {
		return In{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if !in.T.Known() {
		return In{T: EventUnknown, Payload: in.Payload}, ErrUnknown
	}
	return in, nil
}

func Encode(t Event, payload any) ([]byte, error) { return json.Marshal(Out{T: t, Payload: payload}) }

// Unwrap decodes a packet payload into T, nil when malformed.
func Unwrap[T any](data []byte) *T {
	out := new(T)
	if err := json.Unmarshal(data, out); err != nil {
		return nil
	}
	return out
}
