// Package server owns the HTTP surface: the root health banner, /healthz,
// /metrics/system, and the separate Prometheus listener, plus starting and
// stopping the core event loop. Grounded on odin-ws-server's
// internal/server/server.go NewServer/Start/Shutdown shape, trimmed of its
// NATS/JWT/CORS concerns per DESIGN.md's dropped-dependency notes.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/jonmccon/pocket-parrot-relay/internal/config"
	"github.com/jonmccon/pocket-parrot-relay/internal/core"
	"github.com/jonmccon/pocket-parrot-relay/internal/logging"
	"github.com/jonmccon/pocket-parrot-relay/internal/metrics"
	"github.com/jonmccon/pocket-parrot-relay/internal/transport"
)

// Server binds the main relay listener and, separately, the Prometheus
// metrics listener (spec.md §6 names only the relay port; the metrics
// listener is an ambient addition per SPEC_FULL.md §4.11).
type Server struct {
	cfg        config.Config
	log        *zap.Logger
	core       *core.Core
	met        *metrics.Metrics
	sampler    *metrics.Sampler
	httpServer *http.Server
	metricsSrv *http.Server
}

func New(cfg config.Config, log *zap.Logger, c *core.Core, met *metrics.Metrics, sampler *metrics.Sampler) *Server {
	s := &Server{cfg: cfg, log: log, core: c, met: met, sampler: sampler}

	mux := http.NewServeMux()
	// "/{$}" is Go 1.22+ exact-match routing: unlike the bare "/" pattern,
	// it does not act as a catch-all for unregistered paths, so a WebSocket
	// upgrade attempt at e.g. /bogus 404s instead of being silently served
	// the health banner (spec.md §4.1 "unknown paths are rejected").
	mux.HandleFunc("/{$}", s.handleHealthBanner)
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/metrics/system", s.handleSystemMetrics)
	transport.NewDispatcher(c, logging.Scoped(log, "dispatcher")).Routes(mux)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      mux,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	if cfg.Metrics.Enabled {
		metricsMux := http.NewServeMux()
		metricsMux.Handle(cfg.Metrics.Endpoint, promhttp.Handler())
		s.metricsSrv = &http.Server{Addr: cfg.Metrics.ListenAddr, Handler: metricsMux}
	}

	return s
}

func (s *Server) handleHealthBanner(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintf(w, "pocket-parrot-relay ok, uptime %s\n", s.met.Uptime().Round(time.Second))
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) handleSystemMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.sampler.Snapshot())
}

// Run starts the metrics listener (if enabled), the system sampler loop,
// the core event loop, and finally blocks serving the main listener until
// it is shut down by the core's signal handling (core.Run returns after
// graceful shutdown completes, at which point the HTTP server is closed).
func (s *Server) Run() error {
	if s.metricsSrv != nil {
		go func() {
			s.log.Info("metrics listener starting", zap.String("addr", s.metricsSrv.Addr))
			if err := s.metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				s.log.Error("metrics listener error", zap.Error(err))
			}
		}()
	}

	go s.runSampler()

	coreDone := make(chan struct{})
	go func() {
		s.core.Run()
		close(coreDone)
	}()

	go func() {
		<-coreDone
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.httpServer.Shutdown(ctx)
		if s.metricsSrv != nil {
			s.metricsSrv.Shutdown(ctx)
		}
	}()

	s.log.Info("relay listening", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("relay listener: %w", err)
	}
	<-coreDone
	return nil
}

const samplerPeriod = 5 * time.Second

func (s *Server) runSampler() {
	ticker := time.NewTicker(samplerPeriod)
	defer ticker.Stop()
	for range ticker.C {
		s.sampler.Sample()
		snap := s.sampler.Snapshot()
		s.met.SetCPUPercent(snap.CPUPercent)
		s.met.SetMemoryBytes(uint64(snap.HeapAllocMB * 1024 * 1024))
		s.met.SetGoroutines(snap.NumGoroutine)
	}
}
