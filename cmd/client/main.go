package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/hearby/hearby/internal/adapters/httpapi"
	"github.com/hearby/hearby/internal/adapters/media"
	"github.com/hearby/hearby/internal/adapters/rtc"
	"github.com/hearby/hearby/internal/adapters/store"
	"github.com/hearby/hearby/internal/app/transport"
	"github.com/hearby/hearby/internal/config"
	"github.com/hearby/hearby/internal/core"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	// Human-friendly output for terminal; in production you may want JSON only.
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	var signals core.SignalStore
	if cfg.Redis.Addr != "" {
		rs, err := store.NewRedis(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			log.Fatal().Err(err).Str("addr", cfg.Redis.Addr).Msg("failed to connect signal store")
		}
		defer rs.Close()
		signals = rs
	} else {
		log.Warn().Msg("no redis configured, using in-memory signal store (single process only)")
		signals = store.NewMemory()
	}

	tr, err := transport.ForMode(core.TransportMode(cfg.Transport), transport.Deps{
		Store:  signals,
		Media:  rtc.NewFactory(cfg.StunURL),
		Device: &media.FileDevice{Path: cfg.AudioPath},
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to select transport")
	}

	hub := httpapi.NewEventHub(cfg.PingEvery)
	tr.OnStateChange(hub.Publish)
	tr.OnRemoteStream(func(stream *core.RemoteStream) {
		if stream == nil {
			log.Info().Msg("remote stream released")
			return
		}
		log.Info().Int("tracks", stream.TrackCount()).Msg("remote stream updated")
	})

	r := httpapi.SetupRouter(ctx, cfg, tr, hub)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Str("transport", cfg.Transport).Msg("hearby client started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	tr.Leave(context.Background())

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	log.Info().Msg("Client exited gracefully")
}
