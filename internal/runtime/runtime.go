// Package runtime assembles the daemon: telemetry, voice registry,
// audio cache, synthesis pool, HTTP API and the optional NATS bridge,
// started in dependency order and shut down in reverse.
package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cantorlabs/cantor/internal/bus"
	"github.com/cantorlabs/cantor/internal/busbridge"
	"github.com/cantorlabs/cantor/internal/config"
	"github.com/cantorlabs/cantor/internal/httpd"
	"github.com/cantorlabs/cantor/internal/natsserver"
	"github.com/cantorlabs/cantor/internal/synthesis"
	"github.com/cantorlabs/cantor/internal/voice"
)

// Version is stamped into the telemetry resource and the daemon's
// -version output; release builds override it via -ldflags.
var Version = "0.1.0-dev"

type Runtime struct {
	cfg         config.Config
	logger      *slog.Logger
	httpServer  *http.Server
	tracerClose func(context.Context) error
	ready       atomic.Bool
	wg          sync.WaitGroup
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

// Start runs the daemon until ctx is cancelled.
func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	shutdownTelemetry, metricHandler, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.tracerClose = shutdownTelemetry

	voices := voice.NewRegistry(r.cfg.Voices.Directories, r.logger)
	if err := voices.Preload(r.cfg.Voices.Preload); err != nil {
		return fmt.Errorf("failed to preload voices: %w", err)
	}

	cache, err := synthesis.OpenCache(ctx, r.cfg.Cache, r.logger)
	if err != nil {
		return fmt.Errorf("failed to open audio cache: %w", err)
	}
	defer cache.Close()

	synth, err := synthesis.New(r.cfg.Synthesis, voices, cache, r.logger)
	if err != nil {
		return fmt.Errorf("failed to start synthesis pool: %w", err)
	}
	defer synth.Close()

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)
	if metricHandler != nil {
		mux.Handle("/metrics", metricHandler)
	}
	httpd.New(synth, voices, r.logger).Register(mux)

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	var embedded *natsserver.EmbeddedServer
	var busClient *bus.Client
	var bridge *busbridge.Bridge
	if r.cfg.Bus.Enabled {
		embedded, err = natsserver.Start(r.cfg.Bus, r.logger)
		if err != nil {
			return fmt.Errorf("failed to start embedded NATS server: %w", err)
		}
		defer embedded.Shutdown()

		busCfg := r.cfg.Bus
		if embedded != nil {
			busCfg.Servers = []string{fmt.Sprintf("nats://localhost:%d", busCfg.Port)}
		}
		busClient, err = bus.Connect(ctx, busCfg, r.logger)
		if err != nil {
			return fmt.Errorf("failed to connect to NATS: %w", err)
		}
		defer busClient.Close()

		bridge = busbridge.New(ctx, busClient, synth, r.logger)
		if err := bridge.Start(); err != nil {
			return fmt.Errorf("failed to start bus bridge: %w", err)
		}
		defer bridge.Close()
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			r.logger.Error("http server failed", slog.String("error", err.Error()))
		}
	}()

	r.ready.Store(true)
	r.logger.Info("runtime started", slog.String("addr", addr))

	<-ctx.Done()
	r.ready.Store(false)
	r.logger.Info("runtime stopping")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
		r.logger.Error("http shutdown error", slog.String("error", err.Error()))
	}
	r.wg.Wait()

	if r.tracerClose != nil {
		if err := r.tracerClose(shutdownCtx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}

	return nil
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.ready.Load() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}
