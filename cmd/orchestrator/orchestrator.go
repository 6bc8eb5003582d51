package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/EL-HOUSS-BRAHIM/watch-party-backend-sub002/config"
	"github.com/EL-HOUSS-BRAHIM/watch-party-backend-sub002/schedule"
)

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

	o := schedule.NewOrchestrator(redisc, store, cfg.Schedule.Orchestrator())
	log.Info().Msg("watch party orchestrator started")
	if err := o.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal().Err(err).Msg("orchestrator failed")
	}
	log.Info().Msg("orchestrator exited gracefully")
}
