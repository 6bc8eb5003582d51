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

	"github.com/rs/cors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/EL-HOUSS-BRAHIM/watch-party-backend-sub002/config"
	"github.com/EL-HOUSS-BRAHIM/watch-party-backend-sub002/schedule"
)

var restaddr = flag.String("addr", ":8080", "RESTful Service bind address")

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

	redisc, err := schedule.NewRedisClient(cfg.Redis.ClientType, cfg.Redis.Addr, cfg.Redis.MasterName)
	if err != nil {
		log.Fatal().Err(err).Msg("redis client")
	}
	store := schedule.NewRedisStorage(redisc)

	sch := schedule.NewScheduler(redisc, store)
	go sch.RunScheduler(ctx)

	mux := http.NewServeMux()
	mux.Handle("/party", sch.GetProxy())

	srv := &http.Server{
		Addr:    *restaddr,
		Handler: cors.Default().Handler(mux),
	}

	go func() {
		log.Info().Str("addr", *restaddr).Msg("watch party scheduler started")
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
	log.Info().Msg("scheduler exited gracefully")
}
