package main

import (
	"context"
	goflag "flag"
	"math"
	"time"

	"github.com/peermesh/peermesh/pkg/config"
	"github.com/peermesh/peermesh/pkg/logger"
	"github.com/peermesh/peermesh/pkg/os"
	"github.com/peermesh/peermesh/pkg/session"
	"github.com/peermesh/peermesh/pkg/space"
	"github.com/peermesh/peermesh/pkg/state"
	flag "github.com/spf13/pflag"
)

var Version = "?"

// Demo peer: joins a room, pushes a circling position at engine rate
// and logs what it learns about the other members.
func main() {
	conf := config.NewPeerConfig()
	flag.CommandLine.AddGoFlagSet(goflag.CommandLine)
	conf.ParseFlags()

	log := logger.NewConsole(conf.Peer.Debug, "peer", false)
	log.Info().Msgf("version %s", Version)

	s, err := session.New(conf.Peer, log)
	if err != nil {
		log.Fatal().Err(err).Msg("session")
	}
	defer s.Close()

	s.OnPeerConnected().Sub(func(id string) { log.Info().Msgf("peer connected: %v", id) })
	s.OnPeerDisconnected().Sub(func(id string) { log.Info().Msgf("peer disconnected: %v", id) })
	s.OnLeaderChange().Sub(func(id string) { log.Info().Msgf("leader: %v", id) })
	s.OnEntityUpdate().Sub(func(st state.EntityState) {
		log.Debug().Msgf("entity %v moved", st.Id)
	})

	if err := s.Connect(); err != nil {
		log.Fatal().Err(err).Msg("connect")
	}
	// the member id arrives right after the socket opens
	time.Sleep(200 * time.Millisecond)

	room := conf.Peer.Room
	if room == "" {
		room = "lobby"
	}
	users, err := s.JoinRoom(context.Background(), room)
	if err != nil {
		log.Fatal().Err(err).Msgf("join %v", room)
	}
	log.Info().Msgf("joined %v with %d members", room, len(users))

	stop := make(chan struct{})
	go func() {
		t := time.NewTicker(time.Second / 60)
		defer t.Stop()
		start := time.Now()
		for {
			select {
			case <-stop:
				return
			case now := <-t.C:
				angle := now.Sub(start).Seconds()
				pos := space.Vec3{X: math.Cos(angle) * 5, Z: math.Sin(angle) * 5}
				rot := space.Quat{Y: math.Sin(angle / 2), W: math.Cos(angle / 2)}
				s.PushLocalState(state.EntityState{Id: s.Id(), Position: &pos, Rotation: &rot})
			}
		}
	}()

	<-os.ExpectTermination()
	close(stop)
	s.Leave()
}
