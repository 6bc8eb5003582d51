package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"

	"github.com/EL-HOUSS-BRAHIM/watch-party-backend-sub002/party"
	"github.com/EL-HOUSS-BRAHIM/watch-party-backend-sub002/schedule"
)

// Config is the engine configuration tree. Values come from an
// optional yaml file selected by CONFIG_ENV, overridable through
// WP_-prefixed environment variables.
type Config struct {
	Mode     string `mapstructure:"mode"`
	LogLevel string `mapstructure:"log_level"`

	Party    PartyConfig    `mapstructure:"party"`
	Sink     SinkConfig     `mapstructure:"sink"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Schedule ScheduleConfig `mapstructure:"schedule"`
}

type PartyConfig struct {
	SyncInterval     time.Duration `mapstructure:"sync_interval"`
	SweepInterval    time.Duration `mapstructure:"sweep_interval"`
	HeartbeatTimeout time.Duration `mapstructure:"heartbeat_timeout"`
	GracePeriod      time.Duration `mapstructure:"grace_period"`
	TypingTTL        time.Duration `mapstructure:"typing_ttl"`
	ChatHistory      int           `mapstructure:"chat_history"`
	InboundQueue     int           `mapstructure:"inbound_queue"`
	OutboundQueue    int           `mapstructure:"outbound_queue"`
	MaxChatLength    int           `mapstructure:"max_chat_length"`
	MaxPollOptions   int           `mapstructure:"max_poll_options"`
	PlaybackEcho     bool          `mapstructure:"playback_echo"`
	AnyoneCanControl bool          `mapstructure:"anyone_can_control"`
	MemberPolls      bool          `mapstructure:"allow_member_polls"`
	ShareTakeover    string        `mapstructure:"share_takeover"`
}

type SinkConfig struct {
	Mode          string `mapstructure:"mode"`
	QueueSize     int    `mapstructure:"queue_size"`
	ChannelPrefix string `mapstructure:"channel_prefix"`
	AsynqQueue    string `mapstructure:"asynq_queue"`
}

type RedisConfig struct {
	ClientType string `mapstructure:"client_type"`
	Addr       string `mapstructure:"addr"`
	MasterName string `mapstructure:"master_name"`
}

type ScheduleConfig struct {
	Namespace         string        `mapstructure:"namespace"`
	LabelSelector     string        `mapstructure:"label_selector"`
	BackendHostFormat string        `mapstructure:"backend_host_format"`
	PollPeriod        time.Duration `mapstructure:"poll_period"`
	Strategy          string        `mapstructure:"strategy"`
}

// Sink modes.
const (
	SinkModeNone  = "none"
	SinkModeRedis = "redis"
	SinkModeAsynq = "asynq"
)

// Load reads the configuration, falling back to defaults when no file
// is present.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	v.SetConfigName("config." + env)
	v.AddConfigPath("./config")
	v.AddConfigPath(".")

	v.SetEnvPrefix("WP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("mode", "release")
	v.SetDefault("log_level", "info")

	v.SetDefault("party.sync_interval", "5s")
	v.SetDefault("party.sweep_interval", "2s")
	v.SetDefault("party.heartbeat_timeout", "30s")
	v.SetDefault("party.grace_period", "30s")
	v.SetDefault("party.typing_ttl", "6s")
	v.SetDefault("party.chat_history", 256)
	v.SetDefault("party.inbound_queue", 256)
	v.SetDefault("party.outbound_queue", 32)
	v.SetDefault("party.max_chat_length", 2000)
	v.SetDefault("party.max_poll_options", 10)
	v.SetDefault("party.playback_echo", true)
	v.SetDefault("party.anyone_can_control", false)
	v.SetDefault("party.allow_member_polls", false)
	v.SetDefault("party.share_takeover", "reject")

	v.SetDefault("sink.mode", SinkModeNone)
	v.SetDefault("sink.queue_size", 1024)
	v.SetDefault("sink.channel_prefix", "wp:events:")
	v.SetDefault("sink.asynq_queue", "")

	v.SetDefault("redis.client_type", schedule.RedisClientSimple)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.master_name", "mymaster")

	v.SetDefault("schedule.namespace", "")
	v.SetDefault("schedule.label_selector", schedule.DefaultBackendSelector)
	v.SetDefault("schedule.backend_host_format", schedule.DefaultBackendHostFormat)
	v.SetDefault("schedule.poll_period", "30s")
	v.SetDefault("schedule.strategy", "balance")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		log.Info().Str("module", "config").Str("env", env).Msg("no config file, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", v.ConfigFileUsed()).Msg("config loaded")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}

// Options maps the party section onto engine room options.
func (c PartyConfig) Options() party.Options {
	return party.Options{
		SyncInterval:     c.SyncInterval,
		SweepInterval:    c.SweepInterval,
		HeartbeatTimeout: c.HeartbeatTimeout,
		GracePeriod:      c.GracePeriod,
		TypingTTL:        c.TypingTTL,
		ChatHistory:      c.ChatHistory,
		InboundQueue:     c.InboundQueue,
		OutboundQueue:    c.OutboundQueue,
		MaxChatLength:    c.MaxChatLength,
		MaxPollOptions:   c.MaxPollOptions,
		PlaybackEcho:     c.PlaybackEcho,
		AnyoneCanControl: c.AnyoneCanControl,
		MemberPolls:      c.MemberPolls,
		ShareTakeover:    party.ParseTakeoverPolicy(c.ShareTakeover),
	}
}

// Strategy maps the configured scheduling strategy name.
func (c ScheduleConfig) SchedulingStrategy() schedule.SchedulingStrategy {
	if c.Strategy == "compact" {
		return schedule.SchedulingStrategyCompact
	}
	return schedule.SchedulingStrategyBalance
}

// Orchestrator maps the schedule section onto orchestrator tuning.
func (c ScheduleConfig) Orchestrator() schedule.OrchestratorConfig {
	return schedule.OrchestratorConfig{
		Namespace:         c.Namespace,
		LabelSelector:     c.LabelSelector,
		BackendHostFormat: c.BackendHostFormat,
		PollPeriod:        c.PollPeriod,
		Strategy:          c.SchedulingStrategy(),
	}
}

// DevMode reports whether the engine should accept anonymous guests.
func (c *Config) DevMode() bool {
	return c.Mode == "dev"
}
