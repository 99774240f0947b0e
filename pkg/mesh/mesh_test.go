package mesh

import (
	"sort"
	"sync"
	"testing"

	"github.com/peermesh/peermesh/pkg/api"
	"github.com/peermesh/peermesh/pkg/logger"
	"github.com/peermesh/peermesh/pkg/rendezvous"
)

func signalFrom(id string, data []byte) rendezvous.Envelope {
	return rendezvous.Envelope{UserId: id, Data: data}
}

type fakeLink struct {
	id        string
	initiator bool
	cb        LinkCallbacks

	mu        sync.Mutex
	connected bool
	closed    bool
	started   bool
	signals   [][]byte
	sent      [][]byte
}

func (f *fakeLink) Id() string { return f.id }
func (f *fakeLink) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}
func (f *fakeLink) Start() error { f.mu.Lock(); f.started = true; f.mu.Unlock(); return nil }
func (f *fakeLink) Signal(data []byte) {
	f.mu.Lock()
	f.signals = append(f.signals, data)
	f.mu.Unlock()
}
func (f *fakeLink) SendRaw(data []byte) error {
	f.mu.Lock()
	f.sent = append(f.sent, data)
	f.mu.Unlock()
	return nil
}
func (f *fakeLink) Close() {
	f.mu.Lock()
	was := f.closed
	f.closed = true
	f.connected = false
	f.mu.Unlock()
	if !was && f.cb.OnClose != nil {
		f.cb.OnClose()
	}
}
func (f *fakeLink) connect() {
	f.mu.Lock()
	f.connected = true
	f.mu.Unlock()
	if f.cb.OnConnect != nil {
		f.cb.OnConnect()
	}
}

type fakeSignaler struct {
	mu   sync.Mutex
	sent map[string][][]byte
}

func (s *fakeSignaler) SendSignal(targetId string, signal []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sent == nil {
		s.sent = make(map[string][][]byte)
	}
	s.sent[targetId] = append(s.sent[targetId], signal)
	return nil
}

type harness struct {
	mesh     *Mesh
	signaler *fakeSignaler
	mu       sync.Mutex
	links    map[string]*fakeLink
}

func newHarness() *harness {
	h := &harness{signaler: &fakeSignaler{}, links: make(map[string]*fakeLink)}
	factory := func(peerId string, initiator bool, cb LinkCallbacks) (Link, error) {
		l := &fakeLink{id: peerId, initiator: initiator, cb: cb}
		h.mu.Lock()
		h.links[peerId] = l
		h.mu.Unlock()
		return l, nil
	}
	h.mesh = New(h.signaler, factory, logger.New(false))
	return h
}

func (h *harness) link(id string) *fakeLink {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.links[id]
}

func sorted(s []string) []string { sort.Strings(s); return s }

func TestLinkSetFollowsMembership(t *testing.T) {
	h := newHarness()
	h.mesh.HandleConnect("me")
	h.mesh.HandleRoomUsers([]string{"a", "b", "me"})
	h.mesh.HandleUserJoined("c")

	got := sorted(h.mesh.Links())
	want := []string{"a", "b", "c"}
	if len(got) != len(want) {
		t.Fatalf("links %v != %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("links %v != %v", got, want)
		}
	}

	h.mesh.HandleUserGone("a")
	if h.mesh.Connected("a") || len(h.mesh.Links()) != 2 {
		t.Errorf("link for a should be gone: %v", h.mesh.Links())
	}
	if !h.link("a").closed {
		t.Error("a's link should be closed")
	}
}

func TestRolesPerReaction(t *testing.T) {
	h := newHarness()
	h.mesh.HandleConnect("me")
	h.mesh.HandleRoomUsers([]string{"existing", "me"})
	h.mesh.HandleUserJoined("latecomer")

	if h.link("existing").initiator {
		t.Error("links to existing members must wait for their offer")
	}
	if !h.link("latecomer").initiator {
		t.Error("links to members joining after us must initiate")
	}
	if !h.link("existing").started || !h.link("latecomer").started {
		t.Error("all links must be started")
	}
}

func TestSecondCreateIsNoop(t *testing.T) {
	h := newHarness()
	h.mesh.HandleConnect("me")
	h.mesh.HandleUserJoined("a")
	first := h.link("a")
	h.mesh.HandleUserJoined("a")
	if h.link("a") != first && !first.closed {
		t.Error("second create should not replace the live link")
	}
	if len(h.mesh.Links()) != 1 {
		t.Errorf("expected exactly one link: %v", h.mesh.Links())
	}
}

func TestDuplicateCreateLosesRaceCleanly(t *testing.T) {
	// the first creator stalls in the factory while a second one runs
	// to completion; the stalled duplicate must close itself without
	// evicting the live link or announcing a disconnect
	entered := make(chan struct{})
	release := make(chan struct{})
	var mu sync.Mutex
	var links []*fakeLink
	calls := 0
	factory := func(peerId string, initiator bool, cb LinkCallbacks) (Link, error) {
		mu.Lock()
		stall := calls == 0
		calls++
		mu.Unlock()
		if stall {
			close(entered)
			<-release
		}
		l := &fakeLink{id: peerId, initiator: initiator, cb: cb}
		mu.Lock()
		links = append(links, l)
		mu.Unlock()
		return l, nil
	}
	m := New(&fakeSignaler{}, factory, logger.New(false))
	m.HandleConnect("me")

	var goneMu sync.Mutex
	var gone []string
	m.OnPeerDisconnect.Sub(func(id string) {
		goneMu.Lock()
		gone = append(gone, id)
		goneMu.Unlock()
	})

	done := make(chan struct{})
	go func() {
		m.HandleUserJoined("a")
		close(done)
	}()
	<-entered
	m.HandleSignal(signalFrom("a", []byte(`{"kind":"offer"}`)))
	close(release)
	<-done

	if got := m.Links(); len(got) != 1 || got[0] != "a" {
		t.Fatalf("live link evicted by the losing duplicate: %v", got)
	}
	mu.Lock()
	if len(links) != 2 {
		mu.Unlock()
		t.Fatalf("expected two creates, got %d", len(links))
	}
	winner, loser := links[0], links[1]
	mu.Unlock()
	if winner.closed || !loser.closed {
		t.Errorf("wrong link closed: winner=%v loser=%v", winner.closed, loser.closed)
	}
	goneMu.Lock()
	defer goneMu.Unlock()
	if len(gone) != 0 {
		t.Errorf("peer is still connected, got disconnect events %v", gone)
	}
}

func TestLazyResponderOnUnknownSignal(t *testing.T) {
	h := newHarness()
	h.mesh.HandleConnect("me")
	h.mesh.HandleSignal(signalFrom("stranger", []byte(`{"kind":"offer"}`)))

	l := h.link("stranger")
	if l == nil {
		t.Fatal("a responder link should be created lazily")
	}
	if l.initiator {
		t.Error("lazily created link must be a responder")
	}
	if len(l.signals) != 1 {
		t.Errorf("the triggering signal must reach the link, got %d", len(l.signals))
	}
}

func TestDisconnectClearsEverything(t *testing.T) {
	h := newHarness()
	h.mesh.HandleConnect("me")
	h.mesh.HandleRoomUsers([]string{"a", "b", "me"})

	var gone []string
	h.mesh.OnPeerDisconnect.Sub(func(id string) { gone = append(gone, id) })

	h.mesh.HandleDisconnect()
	if len(h.mesh.Links()) != 0 {
		t.Errorf("links must be cleared synchronously: %v", h.mesh.Links())
	}
	for _, id := range []string{"a", "b"} {
		if !h.link(id).closed {
			t.Errorf("link %v should be closed", id)
		}
	}
	if len(h.mesh.Peers()) != 0 {
		t.Errorf("membership should be reset: %v", h.mesh.Peers())
	}
	if len(gone) != 2 {
		t.Errorf("expected two peerDisconnect events, got %v", gone)
	}
}

func TestBroadcastSkipsUnconnected(t *testing.T) {
	h := newHarness()
	h.mesh.HandleConnect("me")
	h.mesh.HandleUserJoined("a")
	h.mesh.HandleUserJoined("b")
	h.link("a").connect()

	n := h.mesh.Broadcast(api.MsgPing, map[string]int{"n": 1})
	if n != 1 {
		t.Errorf("broadcast should reach only connected links, got %d", n)
	}
	if len(h.link("a").sent) != 1 || len(h.link("b").sent) != 0 {
		t.Errorf("delivery off: a=%d b=%d", len(h.link("a").sent), len(h.link("b").sent))
	}
}

func TestTargetedSend(t *testing.T) {
	h := newHarness()
	h.mesh.HandleConnect("me")
	h.mesh.HandleUserJoined("a")

	if err := h.mesh.Send("nobody", api.MsgPing, nil); err == nil {
		t.Error("send to unknown peer should fail")
	}
	if err := h.mesh.Send("a", api.MsgPing, nil); err == nil {
		t.Error("send to unconnected peer should fail")
	}
	h.link("a").connect()
	if err := h.mesh.Send("a", api.MsgPing, map[string]int{"n": 1}); err != nil {
		t.Errorf("send to connected peer: %v", err)
	}
}

func TestLeaderElection(t *testing.T) {
	h := newHarness()
	var leaders []string
	h.mesh.OnLeaderChange.Sub(func(id string) { leaders = append(leaders, id) })

	h.mesh.HandleConnect("bbb")
	if h.mesh.Leader() != "bbb" || !h.mesh.IsLeader() {
		t.Errorf("alone in the room we lead, got %v", h.mesh.Leader())
	}
	h.mesh.HandleUserJoined("aaa")
	if h.mesh.Leader() != "aaa" || h.mesh.IsLeader() {
		t.Errorf("smallest id leads, got %v", h.mesh.Leader())
	}
	h.mesh.HandleUserGone("aaa")
	if h.mesh.Leader() != "bbb" {
		t.Errorf("leadership returns on departure, got %v", h.mesh.Leader())
	}
	if len(leaders) != 3 {
		t.Errorf("every change must be announced once: %v", leaders)
	}
}
