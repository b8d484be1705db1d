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

	router "github.com/telecare/consult/internal/adapters/http"
	"github.com/telecare/consult/internal/adapters/notify"
	wsignal "github.com/telecare/consult/internal/adapters/signal"
	"github.com/telecare/consult/internal/app"
	"github.com/telecare/consult/internal/config"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	presence := app.NewPresence()
	sessions := app.NewSessionStore(cfg.RingTimeout)
	rooms := app.NewRoomSet()

	var notifier app.Notifier
	if cfg.NotifyURL != "" {
		notifier = notify.NewClient(cfg.NotifyURL, cfg.NotifyTimeout)
	} else {
		log.Warn().Msg("notify_url not set, notifications disabled")
	}
	dispatcher := app.NewDispatcher(notifier, presence, cfg.NotifyTimeout)

	rt := app.NewRouter(presence, sessions, rooms, dispatcher)

	limits := wsignal.NewRequestRateLimiter(cfg.CallRateLimit, cfg.CallRateInterval)
	ctl := wsignal.NewController(rt, limits, cfg.ReadLimit, cfg.PingPeriod, cfg.AllowedOrigins)

	r := router.SetupRouter(ctx, cfg, rt, ctl)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("consult signaling server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")

	rt.Shutdown()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	log.Info().Msg("Server exited gracefully")
}
