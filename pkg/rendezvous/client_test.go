package rendezvous

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/peermesh/peermesh/pkg/config"
	"github.com/peermesh/peermesh/pkg/logger"
	"github.com/peermesh/peermesh/pkg/network/websocket"
	"github.com/peermesh/peermesh/pkg/relay"
)

const waitFor = 5 * time.Second

func expect[T any](t *testing.T, ch chan T, what string) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(waitFor):
		t.Fatalf("timed out waiting for %s", what)
		panic("unreachable")
	}
}

// startRelay runs a rendezvous server on an ephemeral port and returns
// its websocket endpoint.
func startRelay(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	srv := relay.New(config.Relay{Address: l.Addr().String()}, logger.Default())
	go func() { _ = srv.Serve(l) }()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	})
	return "ws://" + l.Addr().String() + "/ws"
}

func testConf(endpoint string) config.Rendezvous {
	return config.Rendezvous{
		Endpoint:    endpoint,
		JoinTimeout: waitFor,
		Reconnect: config.Reconnect{
			BaseDelay:   10 * time.Millisecond,
			MaxDelay:    50 * time.Millisecond,
			MaxAttempts: 5,
		},
	}
}

// connect dials the endpoint and waits for the server-issued id.
func connect(t *testing.T, conf config.Rendezvous) (*Client, string) {
	t.Helper()
	c := NewClient(conf, logger.Default())
	ids := make(chan string, 1)
	c.OnConnect.Sub(func(id string) { ids <- id })
	if err := c.Connect(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(c.Close)
	return c, expect(t, ids, "welcome")
}

func TestJoinSignalBroadcast(t *testing.T) {
	endpoint := startRelay(t)
	c1, id1 := connect(t, testConf(endpoint))
	c2, id2 := connect(t, testConf(endpoint))

	joined := make(chan string, 1)
	c1.OnUserJoined.Sub(func(id string) { joined <- id })

	ctx := context.Background()
	users, err := c1.JoinRoom(ctx, "arena")
	if err != nil {
		t.Fatal(err)
	}
	if len(users) != 1 || users[0] != id1 {
		t.Errorf("first joiner sees itself alone, got %v", users)
	}

	users, err = c2.JoinRoom(ctx, "arena")
	if err != nil {
		t.Fatal(err)
	}
	if len(users) != 2 {
		t.Errorf("second joiner sees both members, got %v", users)
	}
	if got := expect(t, joined, "user_joined"); got != id2 {
		t.Errorf("user_joined carried %v, want %v", got, id2)
	}

	signals := make(chan Envelope, 1)
	c2.OnSignal.Sub(func(e Envelope) { signals <- e })
	if err := c1.SendSignal(id2, []byte(`{"kind":"offer"}`)); err != nil {
		t.Fatal(err)
	}
	env := expect(t, signals, "signal")
	if env.UserId != id1 {
		t.Errorf("signal source %v, want %v", env.UserId, id1)
	}
	if !strings.Contains(string(env.Data), "offer") {
		t.Errorf("signal payload mangled: %s", env.Data)
	}

	casts := make(chan Envelope, 1)
	c1.OnBroadcast.Sub(func(e Envelope) { casts <- e })
	if err := c2.Broadcast([]byte(`{"type":"ping"}`)); err != nil {
		t.Fatal(err)
	}
	if env = expect(t, casts, "broadcast"); env.UserId != id2 {
		t.Errorf("broadcast source %v, want %v", env.UserId, id2)
	}

	left := make(chan string, 1)
	c1.OnUserLeft.Sub(func(id string) { left <- id })
	c2.LeaveRoom()
	if got := expect(t, left, "user_left"); got != id2 {
		t.Errorf("user_left carried %v, want %v", got, id2)
	}
}

func TestJoinTimesOutWithoutConfirmation(t *testing.T) {
	// a server that upgrades and then plays dead
	mute := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sock, err := websocket.NewServer(w, r, logger.Default())
		if err != nil {
			return
		}
		sock.OnMessage = func([]byte, error) {}
		sock.Listen()
	}))
	defer mute.Close()

	conf := testConf("ws" + strings.TrimPrefix(mute.URL, "http"))
	c := NewClient(conf, logger.Default())
	if err := c.Connect(); err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if _, err := c.JoinRoom(ctx, "arena"); !errors.Is(err, ErrJoinTimeout) {
		t.Fatalf("want ErrJoinTimeout, got %v", err)
	}
}

func TestJoinRequiresConnection(t *testing.T) {
	c := NewClient(testConf("ws://127.0.0.1:1/ws"), logger.Default())
	if _, err := c.JoinRoom(context.Background(), "arena"); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("want ErrNotConnected, got %v", err)
	}
	c.Close()
	if err := c.Connect(); !errors.Is(err, ErrClosed) {
		t.Fatalf("connect after close: want ErrClosed, got %v", err)
	}
}

// failDialer refuses the next n dials and delegates the rest.
type failDialer struct{ n atomic.Int32 }

func (f *failDialer) dial(address url.URL, log *logger.Logger) (*websocket.WS, error) {
	if f.n.Add(-1) >= 0 {
		return nil, errors.New("dial refused")
	}
	return websocket.NewClient(address, log)
}

func TestReconnectRestoresRoom(t *testing.T) {
	endpoint := startRelay(t)
	conf := testConf(endpoint)

	fd := &failDialer{}
	c := NewClient(conf, logger.Default())
	c.dial = fd.dial
	ids := make(chan string, 2)
	c.OnConnect.Sub(func(id string) { ids <- id })
	if err := c.Connect(); err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	expect(t, ids, "welcome")

	if _, err := c.JoinRoom(context.Background(), "arena"); err != nil {
		t.Fatal(err)
	}

	dropped := make(chan struct{}, 1)
	c.OnDisconnect.Sub(func(struct{}) { dropped <- struct{}{} })
	attempts := make(chan int, 8)
	c.OnReconnecting.Sub(func(n int) { attempts <- n })
	rooms := make(chan []string, 1)
	c.OnRoomUsers.Sub(func(users []string) { rooms <- users })

	// two refused dials, then the line comes back
	fd.n.Store(2)
	c.mu.Lock()
	sock := c.sock
	c.mu.Unlock()
	sock.Close()

	expect(t, dropped, "disconnect")
	if n := expect(t, attempts, "attempt 1"); n != 1 {
		t.Errorf("first attempt numbered %d", n)
	}
	expect(t, attempts, "attempt 2")
	expect(t, attempts, "attempt 3")
	newId := expect(t, ids, "welcome after reconnect")

	users := expect(t, rooms, "room restored")
	if len(users) != 1 || users[0] != newId {
		t.Errorf("rejoined room members %v, want just %v", users, newId)
	}
	if c.State() != Connected {
		t.Errorf("state %v after recovery", c.State())
	}
}

func TestReconnectExhaustionRecreatesTransport(t *testing.T) {
	endpoint := startRelay(t)
	conf := testConf(endpoint)
	conf.Reconnect.MaxAttempts = 2

	fd := &failDialer{}
	c := NewClient(conf, logger.Default())
	c.dial = fd.dial
	ids := make(chan string, 2)
	c.OnConnect.Sub(func(id string) { ids <- id })
	if err := c.Connect(); err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	expect(t, ids, "welcome")

	failed := make(chan struct{}, 1)
	c.OnReconnectFailed.Sub(func(struct{}) { failed <- struct{}{} })

	// three refusals against a cap of two: the schedule must exhaust,
	// recreate the transport and succeed on the fresh one
	fd.n.Store(3)
	c.mu.Lock()
	sock := c.sock
	c.mu.Unlock()
	sock.Close()

	expect(t, failed, "reconnect exhaustion")
	expect(t, ids, "welcome after recreation")
}
