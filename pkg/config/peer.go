package config

import "flag"

type PeerConfig struct {
	Peer Peer
}

// allows custom config path
var peerConfigPath string

func NewPeerConfig() (conf PeerConfig) {
	if err := LoadConfig(&conf, peerConfigPath); err != nil {
		panic(err)
	}
	return
}

// ParseFlags updates config values from passed runtime flags.
func (c *PeerConfig) ParseFlags() {
	flag.StringVar(&c.Peer.Rendezvous.Endpoint, "endpoint", c.Peer.Rendezvous.Endpoint, "Rendezvous server websocket URL")
	flag.StringVar(&c.Peer.Room, "room", c.Peer.Room, "Room to join")
	flag.StringVar(&c.Peer.Sync.Mode, "mode", c.Peer.Sync.Mode, "State transport: signaling, direct, hybrid")
	flag.BoolVar(&c.Peer.Debug, "debug", c.Peer.Debug, "Enable debug logging")
	flag.StringVar(&peerConfigPath, "conf", peerConfigPath, "Set custom configuration file path")
	flag.Parse()
}
