package webrtc

import (
	"testing"
	"time"

	"github.com/peermesh/peermesh/pkg/api"
	"github.com/peermesh/peermesh/pkg/config"
	"github.com/peermesh/peermesh/pkg/logger"
)

// pair builds two links negotiating in-process, signals piped directly.
func pair(t *testing.T) (*Link, *Link) {
	t.Helper()
	log := logger.New(false)
	factory := NewApiFactory(config.Webrtc{}, log)
	a, err := NewLink("b", true, factory, log)
	if err != nil {
		t.Fatal(err)
	}
	b, err := NewLink("a", false, factory, log)
	if err != nil {
		t.Fatal(err)
	}
	a.OnSignal = func(data []byte) { go b.Signal(data) }
	b.OnSignal = func(data []byte) { go a.Signal(data) }
	return a, b
}

func TestLinkPairExchangesMessages(t *testing.T) {
	if testing.Short() {
		t.Skip("loopback ICE negotiation")
	}
	a, b := pair(t)
	defer a.Close()
	defer b.Close()

	connected := make(chan struct{}, 2)
	a.OnConnect = func() { connected <- struct{}{} }
	b.OnConnect = func() { connected <- struct{}{} }
	got := make(chan api.Message, 1)
	b.OnData = func(m api.Message) { got <- m }

	// the responder must be listening before the offer lands
	if err := b.Start(); err != nil {
		t.Fatal(err)
	}
	if err := a.Start(); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 2; i++ {
		select {
		case <-connected:
		case <-time.After(10 * time.Second):
			t.Fatal("links never connected")
		}
	}

	// the channel open can trail the ICE state by a moment
	deadline := time.Now().Add(5 * time.Second)
	var err error
	for time.Now().Before(deadline) {
		if err = a.Send(api.MsgPing, map[string]int{"n": 1}); err == nil {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("send never went through: %v", err)
	}

	select {
	case m := <-got:
		if m.Type != api.MsgPing {
			t.Errorf("message type %v", m.Type)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("message never arrived")
	}
}

func TestLinkCloseIsTerminal(t *testing.T) {
	log := logger.New(false)
	factory := NewApiFactory(config.Webrtc{}, log)
	l, err := NewLink("x", true, factory, log)
	if err != nil {
		t.Fatal(err)
	}
	var closes int
	l.OnClose = func() { closes++ }
	l.Close()
	l.Close()
	if closes != 1 {
		t.Errorf("close fired %d times", closes)
	}
	if !l.Closed() {
		t.Error("closed state must stick")
	}
	if err := l.SendRaw([]byte(`{}`)); err == nil {
		t.Error("send on a closed link must fail")
	}
}
