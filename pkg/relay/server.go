package relay

import (
	"context"
	"crypto/tls"
	"net"
	"net/http"
	"net/http/pprof"

	"github.com/peermesh/peermesh/pkg/api"
	"github.com/peermesh/peermesh/pkg/config"
	"github.com/peermesh/peermesh/pkg/logger"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/crypto/acme/autocert"
)

// Server ties the hub to an HTTP listener: the websocket endpoint,
// the prometheus endpoint, and optional pprof.
type Server struct {
	conf   config.Relay
	log    *logger.Logger
	hub    *Hub
	server *http.Server
}

func New(conf config.Relay, log *logger.Logger) *Server {
	hub := NewHub(log)
	h := http.NewServeMux()
	s := &Server{conf: conf, log: log, hub: hub}
	h.HandleFunc("/", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("peermesh rendezvous server"))
	})
	h.HandleFunc("/ws", s.handleWS)
	if conf.Monitoring.MetricEnabled {
		log.Info().Msgf("prometheus metrics at %v/metrics", conf.Address)
		h.Handle("/metrics", promhttp.Handler())
	}
	if conf.Monitoring.ProfilingEnabled {
		h.HandleFunc("/debug/pprof/", pprof.Index)
		h.HandleFunc("/debug/pprof/profile", pprof.Profile)
		h.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		h.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}
	s.server = &http.Server{Addr: conf.Address, Handler: h}
	return s
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	c, err := newClient(w, r, s.log)
	if err != nil {
		s.log.Error().Err(err).Msg("upgrade fail")
		return
	}
	c.sock.OnMessage = func(message []byte, _ error) {
		in, err := api.Decode(message)
		if err != nil {
			malformedDropped.Inc()
			c.log.Warn().Err(err).Msg("dropped inbound packet")
			return
		}
		select {
		case s.hub.inbound <- packet{from: c, in: in}:
		case <-s.hub.Done():
		}
	}
	s.hub.register <- c
	c.sock.Listen()
	go func() {
		<-c.sock.Done
		select {
		case s.hub.unregister <- c:
		case <-s.hub.Done():
		}
	}()
}

// Run starts the hub loop and the HTTP listener. Blocking.
func (s *Server) Run() error {
	l, err := net.Listen("tcp", s.conf.Address)
	if err != nil {
		return err
	}
	s.log.Info().Msgf("listening on %v", l.Addr())
	return s.Serve(l)
}

// Serve runs the hub and serves HTTP on l. Blocking.
// With a TLS domain configured, certificates come from Let's Encrypt.
func (s *Server) Serve(l net.Listener) error {
	go s.hub.Run()
	var err error
	if domain := s.conf.Tls.Domain; domain != "" {
		certs := &autocert.Manager{
			Prompt:     autocert.AcceptTOS,
			Cache:      autocert.DirCache(s.conf.Tls.CertCacheDir),
			HostPolicy: autocert.HostWhitelist(domain),
		}
		s.server.TLSConfig = &tls.Config{GetCertificate: certs.GetCertificate}
		err = s.server.ServeTLS(l, "", "")
	} else {
		err = s.server.Serve(l)
	}
	if err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.Stop()
	return s.server.Shutdown(ctx)
}
