package config

import "time"

type Rendezvous struct {
	// Endpoint is the websocket address of the rendezvous server,
	// e.g. ws://localhost:8080/ws.
	Endpoint    string
	JoinTimeout time.Duration `fig:"joinTimeout" default:"15s"`
	Reconnect   Reconnect
}

type Reconnect struct {
	BaseDelay   time.Duration `fig:"baseDelay" default:"1s"`
	MaxDelay    time.Duration `fig:"maxDelay" default:"30s"`
	MaxAttempts int           `fig:"maxAttempts" default:"10"`
}

type Webrtc struct {
	IceServers []IceServer
	LogLevel   int
}

type IceServer struct {
	Urls       string `json:"urls,omitempty"`
	Username   string `json:"username,omitempty"`
	Credential string `json:"credential,omitempty"`
}

// Sync tunes the state synchronizer.
type Sync struct {
	// UpdateRate caps outbound state updates per second.
	UpdateRate int `fig:"updateRate" default:"20"`
	// InterpolationDelay is how far behind now the renderer samples.
	InterpolationDelay time.Duration `fig:"interpolationDelay" default:"100ms"`
	// Mode is one of signaling, direct, hybrid.
	Mode string `fig:"mode" default:"hybrid"`
}

type Monitoring struct {
	MetricEnabled    bool
	ProfilingEnabled bool
}

type Relay struct {
	Address string `fig:"address" default:":8080"`
	Debug   bool
	// LockFile, when set, keeps the host to a single relay instance.
	LockFile   string `fig:"lockFile"`
	Tls        Tls
	Monitoring Monitoring
}

// Tls enables HTTPS termination with automatic Let's Encrypt
// certificates when a domain is set.
type Tls struct {
	Domain       string `fig:"domain"`
	CertCacheDir string `fig:"certCacheDir" default:".certs"`
}

type Peer struct {
	Debug      bool
	Room       string
	Rendezvous Rendezvous
	Webrtc     Webrtc
	Sync       Sync
}
