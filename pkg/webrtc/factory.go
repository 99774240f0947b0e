package webrtc

import (
	"github.com/peermesh/peermesh/pkg/config"
	"github.com/peermesh/peermesh/pkg/logger"
	pion "github.com/pion/webrtc/v3"
)

// ApiFactory builds peer connections sharing one pion API instance
// and one ICE server configuration.
type ApiFactory struct {
	api  *pion.API
	conf pion.Configuration
}

func NewApiFactory(conf config.Webrtc, log *logger.Logger) *ApiFactory {
	settings := pion.SettingEngine{LoggerFactory: logger.NewPionLogger(log, conf.LogLevel)}

	peerConf := pion.Configuration{}
	for _, server := range conf.IceServers {
		peerConf.ICEServers = append(peerConf.ICEServers, pion.ICEServer{
			URLs:       []string{server.Urls},
			Username:   server.Username,
			Credential: server.Credential,
		})
	}

	return &ApiFactory{
		api:  pion.NewAPI(pion.WithSettingEngine(settings)),
		conf: peerConf,
	}
}

func (f *ApiFactory) NewPeer() (*pion.PeerConnection, error) { return f.api.NewPeerConnection(f.conf) }
