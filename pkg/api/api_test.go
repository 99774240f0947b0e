package api

import (
	"errors"
	"testing"
)

func TestDecode(t *testing.T) {
	in, err := Decode([]byte(`{"t":"user_joined","p":{"userId":"u1","userCount":2}}`))
	if err != nil {
		t.Fatal(err)
	}
	if in.T != EventUserJoined {
		t.Errorf("tag: %v", in.T)
	}
	p := Unwrap[UserJoined](in.Payload)
	if p == nil || p.UserId != "u1" || p.UserCount != 2 {
		t.Errorf("payload: %+v", p)
	}
}

func TestDecodeMalformed(t *testing.T) {
	if _, err := Decode([]byte(`{"t":`)); !errors.Is(err, ErrMalformed) {
		t.Errorf("want ErrMalformed, got %v", err)
	}
}

func TestDecodeUnknownTag(t *testing.T) {
	in, err := Decode([]byte(`{"t":"self_destruct","p":{"when":"now"}}`))
	if !errors.Is(err, ErrUnknown) {
		t.Fatalf("want ErrUnknown, got %v", err)
	}
	if in.T != EventUnknown {
		t.Errorf("unknown tags must collapse to EventUnknown, got %q", in.T)
	}
	if len(in.Payload) == 0 {
		t.Error("payload must survive for inspection")
	}
}

func TestEncodeRoundTrip(t *testing.T) {
	raw, err := Encode(EventJoinRoom, JoinRoom{RoomId: "lobby"})
	if err != nil {
		t.Fatal(err)
	}
	in, err := Decode(raw)
	if err != nil {
		t.Fatal(err)
	}
	if p := Unwrap[JoinRoom](in.Payload); p == nil || p.RoomId != "lobby" {
		t.Errorf("round trip lost the room: %+v", p)
	}
}

func TestDecodeMessage(t *testing.T) {
	m, err := DecodeMessage([]byte(`{"type":"entity_state","payload":{"id":"e1"}}`))
	if err != nil {
		t.Fatal(err)
	}
	if m.Type != MsgEntityState {
		t.Errorf("type: %v", m.Type)
	}
	if _, err := DecodeMessage([]byte(`{"payload":{}}`)); err == nil {
		t.Error("missing type must not decode")
	}
	if _, err := DecodeMessage([]byte(`garbage`)); err == nil {
		t.Error("non-JSON must not decode")
	}
}
