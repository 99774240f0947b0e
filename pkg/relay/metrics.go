package relay

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	clientsConnected = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "relay_clients_connected",
		Help: "Members currently holding a rendezvous connection.",
	})
	roomsLive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "relay_rooms_live",
		Help: "Rooms with at least one member.",
	})
	signalsRelayed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_signals_relayed_total",
		Help: "Signaling envelopes forwarded between members.",
	})
	broadcastsRelayed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_broadcasts_relayed_total",
		Help: "Fallback broadcasts forwarded to room members.",
	})
	malformedDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_malformed_dropped_total",
		Help: "Inbound packets dropped at the boundary.",
	})
)
