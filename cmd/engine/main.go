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

	"github.com/hibiken/asynq"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/EL-HOUSS-BRAHIM/watch-party-backend-sub002/config"
	"github.com/EL-HOUSS-BRAHIM/watch-party-backend-sub002/party"
	"github.com/EL-HOUSS-BRAHIM/watch-party-backend-sub002/schedule"
)

var listenaddr = flag.String("addr", ":8080", "WebSocket and RESTful API bind address")

func asynqConnOpt(cfg *config.Config) asynq.RedisConnOpt {
	if cfg.Redis.ClientType == schedule.RedisClientSentinel {
		return asynq.RedisFailoverClientOpt{
			MasterName:    cfg.Redis.MasterName,
			SentinelAddrs: []string{cfg.Redis.Addr},
		}
	}
	return asynq.RedisClientOpt{Addr: cfg.Redis.Addr}
}

func newSink(cfg *config.Config) *party.SinkQueue {
	switch cfg.Sink.Mode {
	case config.SinkModeRedis:
		client, err := schedule.NewRedisClient(cfg.Redis.ClientType, cfg.Redis.Addr, cfg.Redis.MasterName)
		if err != nil {
			log.Fatal().Err(err).Msg("sink redis client")
		}
		return party.NewSinkQueue(party.NewRedisSink(client, cfg.Sink.ChannelPrefix), cfg.Sink.QueueSize)
	case config.SinkModeAsynq:
		return party.NewSinkQueue(party.NewAsynqSink(asynqConnOpt(cfg), cfg.Sink.AsynqQueue), cfg.Sink.QueueSize)
	default:
		return nil
	}
}

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

	server := party.NewServer(cfg.Party.Options(), newSink(cfg))
	if cfg.DevMode() {
		server.SetIdentityFunc(party.AnonymousIdentity(party.HeaderIdentity))
	}

	mux := party.NewWatchPartyRestMux(server)
	mux.Handle("/ws", server.WSHandler())

	srv := &http.Server{
		Addr:    *listenaddr,
		Handler: cors.Default().Handler(mux),
	}

	go func() {
		log.Info().Str("addr", *listenaddr).Msg("watch party engine started")
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
	server.Close()
	log.Info().Msg("engine exited gracefully")
}
