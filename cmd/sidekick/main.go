package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/namikmesic/claude-sidekick/internal/config"
	"github.com/namikmesic/claude-sidekick/internal/processor"
	"github.com/namikmesic/claude-sidekick/internal/proxy"
	"github.com/namikmesic/claude-sidekick/internal/storage"
	nats "github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})

	ctx := context.Background()
	pool, err := storage.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()

	if err := storage.RunMigrations(ctx, pool); err != nil {
		log.Fatal().Err(err).Msg("failed to run migrations")
	}

	writer := storage.NewBatchWriter(pool, cfg.WriterBufferSize, cfg.WriterBatchSize, cfg.WriterFlushMs)
	proc := processor.New(writer, cfg.MaxFrameBytes)
	proc.SessionIdleTimeout = cfg.SessionIdleTimeout

	var js nats.JetStreamContext
	var analytics *analyticsBus
	if cfg.AnalyticsMode == config.AnalyticsJetStream {
		analytics, err = startAnalyticsBus(ctx, cfg.NATSStoreDir, proc)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to start analytics bus")
		}
		js = analytics.js
	}

	handler := proxy.NewHandler(cfg, writer, proc, js)

	addr := fmt.Sprintf(":%d", cfg.Port)
	server := &http.Server{
		Addr:    addr,
		Handler: handler,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		log.Info().
			Int("port", cfg.Port).
			Str("upstream", cfg.AnthropicBaseURL).
			Str("analytics", cfg.AnalyticsMode).
			Msg("sidekick proxy started")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	<-done
	log.Info().Msg("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("http shutdown incomplete")
	}
	if analytics != nil {
		analytics.close()
	}
	writer.Shutdown()
	if n := writer.Dropped(); n > 0 {
		log.Warn().Int64("dropped_jobs", n).Msg("write queue overflowed during run")
	}
	log.Info().Msg("shutdown complete")
}
