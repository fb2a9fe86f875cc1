package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/pautahq/espelho/internal/config"
	"github.com/pautahq/espelho/internal/feed"
	"github.com/pautahq/espelho/internal/httpapi"
	"github.com/pautahq/espelho/internal/persist"
)

const shutdownGrace = 10 * time.Second

func main() {
	configPath := flag.String("config", os.Getenv("ESPELHO_CONFIG"), "path to the YAML configuration file")
	flag.Parse()

	log := zerolog.New(os.Stderr).With().Timestamp().Logger()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("configuration invalid")
	}
	log = log.Level(logLevel(cfg.LogLevel))

	store, closeStore, err := buildStore(cfg)
	if err != nil {
		log.Fatal().Err(err).Str("backend", cfg.Backend).Msg("storage backend init failed")
	}
	defer closeStore()

	hub := feed.NewHub()
	defer hub.Close()
	server := httpapi.NewServer(store, hub, log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.FeedURL != "" {
		// Relay mode: mirror an upstream daemon's change feed into the local
		// hub, so sessions and clients attached here see both local mutations
		// and upstream ones.
		relay := feed.NewWSClient(cfg.FeedURL, hub, log)
		go func() {
			err := relay.Run(ctx)
			if err != nil && !errors.Is(err, context.Canceled) {
				log.Warn().Err(err).Str("url", cfg.FeedURL).Msg("feed relay stopped")
			}
		}()
	}

	if *configPath != "" {
		go func() {
			err := config.Watch(ctx, *configPath, log, func(next config.Config) {
				// Only the log level can change live; transport and storage
				// need a restart.
				log = log.Level(logLevel(next.LogLevel))
			})
			if err != nil && !errors.Is(err, context.Canceled) {
				log.Warn().Err(err).Msg("config watch stopped")
			}
		}()
	}

	httpServer := &http.Server{Addr: cfg.Addr, Handler: server}
	errs := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.Addr).Str("backend", cfg.Backend).Msg("espelhod listening")
		errs <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("shutdown failed")
		}
	case err := <-errs:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}
}

func buildStore(cfg config.Config) (persist.Store, func(), error) {
	switch cfg.Backend {
	case config.BackendPostgres:
		pg, err := persist.NewPostgres(cfg.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		return pg, func() { _ = pg.Close() }, nil
	default:
		return persist.NewMemory(), func() {}, nil
	}
}

func logLevel(name string) zerolog.Level {
	level, err := zerolog.ParseLevel(name)
	if err != nil || level == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return level
}
