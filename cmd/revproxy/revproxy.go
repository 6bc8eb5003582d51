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
	"github.com/rs/zerolog/log"

	"github.com/EL-HOUSS-BRAHIM/watch-party-backend-sub002/config"
	"github.com/EL-HOUSS-BRAHIM/watch-party-backend-sub002/schedule"
)

var wsaddr = flag.String("ws", ":8080", "WebSocket Service bind address")

func main() {
	flag.Parse()
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(lvl)
	}

	store, err := schedule.NewStorageBackend(schedule.StorageBackendRedis, cfg.Redis.ClientType, cfg.Redis.Addr, cfg.Redis.MasterName)
	if err != nil {
		log.Fatal().Err(err).Msg("party registry")
	}

	rp := schedule.NewLoadBalancedReverseProxy(store)
	srv := &http.Server{
		Addr:    *wsaddr,
		Handler: rp.GetProxy(),
	}

	go func() {
		log.Info().Str("addr", *wsaddr).Msg("watch party websocket proxy started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}
	log.Info().Msg("proxy exited gracefully")
}
