package relay

import (
	"net/http"

	"github.com/gofrs/uuid"
	"github.com/peermesh/peermesh/pkg/api"
	"github.com/peermesh/peermesh/pkg/logger"
	"github.com/peermesh/peermesh/pkg/network/websocket"
)

// client is one connected member as seen by the hub.
// All of its mutable state (room) belongs to the hub goroutine.
type client struct {
	id   string
	room string
	sock *websocket.WS
	log  *logger.Logger
}

func newClient(w http.ResponseWriter, r *http.Request, log *logger.Logger) (*client, error) {
	sock, err := websocket.NewServer(w, r, log)
	if err != nil {
		return nil, err
	}
	id := uuid.Must(uuid.NewV4()).String()
	c := &client{
		id:   id,
		sock: sock,
		log:  log.Extend(log.With().Str("cid", id[:8])),
	}
	return c, nil
}

// notify fire-and-forgets a packet to the member.
func (c *client) notify(t api.Event, payload any) {
	r, err := api.Encode(t, payload)
	if err != nil {
		c.log.Error().Err(err).Msgf("encode %v", t)
		return
	}
	c.sock.Write(r)
}

func (c *client) close() { c.sock.Close() }
