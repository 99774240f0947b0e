package main

import (
	"context"
	goflag "flag"
	"time"

	"github.com/peermesh/peermesh/pkg/config"
	"github.com/peermesh/peermesh/pkg/logger"
	"github.com/peermesh/peermesh/pkg/os"
	"github.com/peermesh/peermesh/pkg/relay"
	flag "github.com/spf13/pflag"
)

var Version = "?"

func main() {
	conf := config.NewRelayConfig()
	flag.CommandLine.AddGoFlagSet(goflag.CommandLine)
	conf.ParseFlags()

	log := logger.NewConsole(conf.Relay.Debug, "rdv", false)
	log.Info().Msgf("version %s", Version)
	if log.GetLevel() < logger.InfoLevel {
		log.Debug().Msgf("config: %+v", conf)
	}

	if conf.Relay.LockFile != "" {
		lock, err := os.NewFileLock(conf.Relay.LockFile)
		if err != nil {
			log.Fatal().Err(err).Msg("lock file fail")
		}
		locked, err := lock.TryLock()
		if err != nil {
			log.Fatal().Err(err).Msg("lock file fail")
		}
		if !locked {
			log.Fatal().Msgf("another instance holds %v", conf.Relay.LockFile)
		}
		defer func() { _ = lock.Unlock() }()
	}

	server := relay.New(conf.Relay, log)
	go func() {
		if err := server.Run(); err != nil {
			log.Fatal().Err(err).Msg("server fail")
		}
	}()

	<-os.ExpectTermination()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("shutdown errors")
	}
}
