// Command relay runs the pocket-parrot telemetry relay: single-active-sender
// arbitration across producers, with fan-out to dashboards, passive
// listeners, orientation listeners, and bulk listeners.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/jonmccon/pocket-parrot-relay/internal/config"
	"github.com/jonmccon/pocket-parrot-relay/internal/core"
	"github.com/jonmccon/pocket-parrot-relay/internal/logging"
	"github.com/jonmccon/pocket-parrot-relay/internal/metrics"
	"github.com/jonmccon/pocket-parrot-relay/internal/server"
)

func main() {
	// -config names a config file viper reads directly; without it viper
	// looks for pocket-parrot.* in . and ./config. spec.md §6's port
	// override is handled by the PORT env var or the first positional
	// argument (see config.Load).
	configFile := flag.String("config", "", "optional path to a pocket-parrot.yaml config file")
	flag.Parse()

	cfg, err := config.Load(*configFile, flag.Args())
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	log, err := logging.New(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logging: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("starting pocket-parrot relay",
		zap.Int("port", cfg.Server.Port),
		zap.String("metricsAddr", cfg.Metrics.ListenAddr))

	met := metrics.New()
	sampler := metrics.NewSampler()
	c := core.New(met, log, time.Now(), cfg.Relay)
	srv := server.New(cfg, log, c, met, sampler)

	if err := srv.Run(); err != nil {
		log.Error("relay exited with error", zap.Error(err))
		os.Exit(1)
	}
}
