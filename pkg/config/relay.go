package config

import "flag"

type RelayConfig struct {
	Relay Relay
}

// allows custom config path
var relayConfigPath string

func NewRelayConfig() (conf RelayConfig) {
	if err := LoadConfig(&conf, relayConfigPath); err != nil {
		panic(err)
	}
	return
}

// ParseFlags updates config values from passed runtime flags.
func (c *RelayConfig) ParseFlags() {
	flag.StringVar(&c.Relay.Address, "address", c.Relay.Address, "HTTP listen address")
	flag.BoolVar(&c.Relay.Debug, "debug", c.Relay.Debug, "Enable debug logging")
	flag.BoolVar(&c.Relay.Monitoring.MetricEnabled, "metrics", c.Relay.Monitoring.MetricEnabled, "Enable Prometheus metrics endpoint")
	flag.StringVar(&relayConfigPath, "conf", relayConfigPath, "Set custom configuration file path")
	flag.Parse()
}
