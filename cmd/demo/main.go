// Command demo wires the rtkit primitives into a small price-feed service:
// a NATS bridge submits price ticks as change functors, an AsyncWorker
// periodically folds them into a canonical PriceBook and broadcasts fresh
// PriceSnapshots, and a WebSocket endpoint streams each connected client's
// Instance.
package main

import (
	"context"
	"io"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	_ "go.uber.org/automaxprocs"

	"github.com/adred-codev/rtkit/internal/config"
	"github.com/adred-codev/rtkit/internal/ratelimit"
	"github.com/adred-codev/rtkit/internal/rtkit/asyncobject"
	"github.com/adred-codev/rtkit/internal/rtkit/asyncworker"
	"github.com/adred-codev/rtkit/internal/telemetry"
)

func newLogger(level, format string) zerolog.Logger {
	var out io.Writer = os.Stdout
	if format == "pretty" {
		out = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	}

	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)

	return zerolog.New(out).With().Timestamp().Str("service", "rtkit-demo").Logger()
}

func main() {
	bootLogger := newLogger("info", "json")

	// automaxprocs sets GOMAXPROCS from the container CPU quota; without it
	// the runtime defaults to the host's core count, oversubscribing a
	// quota-limited container.
	bootLogger.Info().Int("gomaxprocs", runtime.GOMAXPROCS(0)).Msg("starting")

	cfg, err := config.Load(&bootLogger)
	if err != nil {
		bootLogger.Fatal().Err(err).Msg("failed to load configuration")
	}

	logger := newLogger(cfg.LogLevel, cfg.LogFormat)
	cfg.LogConfig(logger)

	guard := ratelimit.NewGuard(cfg.MaxSubmitRate, cfg.MaxConnections, cfg.CPURejectThreshold, cfg.CPUPauseThreshold, logger)

	object := asyncobject.New[PriceSnapshot, PriceBook](NewPriceBook(), newPriceSnapshot(time.Now))

	worker := asyncworker.New(cfg.TickPeriod, logger)
	worker.Attach(object)

	ctx, cancel := context.WithCancel(context.Background())
	worker.Start(ctx)

	producer := object.CreateProducer()

	bridge, err := newNATSBridge(cfg.NatsURL, cfg.NatsSubject, producer, guard, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to start NATS bridge")
	}

	cpuTicker := time.NewTicker(5 * time.Second)
	go func() {
		defer cpuTicker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-cpuTicker.C:
				if err := guard.SampleCPU(); err != nil {
					logger.Debug().Err(err).Msg("cpu sample failed")
				}
			}
		}
	}()

	collector := telemetry.NewCollector(cfg.MetricsInterval, guard.CurrentCPU)
	collector.Start()

	mux := http.NewServeMux()
	mux.Handle("/metrics", telemetry.Handler())
	mux.Handle("/ws", newWSServer(object, guard, logger))

	httpServer := &http.Server{Addr: cfg.Addr, Handler: mux}
	go func() {
		logger.Info().Str("addr", cfg.Addr).Msg("listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	logger.Info().Msg("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http server shutdown error")
	}

	bridge.Close()
	collector.Stop()
	worker.Stop()
	cancel()
}
