// Package config provides configuration loading and validation utilities.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	validator "github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Load reads configuration from YAML files and environment variables, validates it, and returns the resulting Config.
func Load() (*Config, *viper.Viper, error) {
	// env files are optional
	_ = godotenv.Load(".env.local", ".env")

	env := os.Getenv("APP_ENV")
	if env == "" {
		env = "development"
	}

	return LoadFile(fmt.Sprintf("./configs/%s.yaml", env), env)
}

// LoadFile reads the given YAML file (missing files fall back to defaults) with env overrides.
func LoadFile(path, env string) (*Config, *viper.Viper, error) {
	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(path)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.AppEnv = env

	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := validate.Struct(cfg); err != nil {
		return nil, nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, v, nil
}

// WatchLogLevel re-applies logger.level whenever the config file changes.
func WatchLogLevel(v *viper.Viper, level *slog.LevelVar, log *slog.Logger) {
	if v == nil || level == nil {
		return
	}
	if log == nil {
		log = slog.Default()
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}

		next := ParseLevel(v.GetString("logger.level"))
		if next == level.Level() {
			return
		}

		level.Set(next)
		log.Info("log level reloaded", slog.String("file", e.Name), slog.String("level", next.String()))
	})
	v.WatchConfig()
}

// ParseLevel maps a config string to a slog level, defaulting to info.
func ParseLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.read_timeout", 15*time.Second)
	v.SetDefault("http.write_timeout", 30*time.Second)
	v.SetDefault("http.shutdown_timeout", 10*time.Second)
	v.SetDefault("http.allowed_origins", []string{"*"})
	v.SetDefault("http.idempotency_ttl", 24*time.Hour)

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "json")
	v.SetDefault("logger.file", "")
	v.SetDefault("logger.max_size_mb", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age_days", 14)

	v.SetDefault("sentry.enabled", false)
	v.SetDefault("sentry.dsn", "")
	v.SetDefault("sentry.traces_sample_rate", 0.0)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.min_idle_conns", 2)
	v.SetDefault("redis.pool_timeout", 4*time.Second)
	v.SetDefault("redis.idle_timeout", 5*time.Minute)
	v.SetDefault("redis.max_retries", 3)

	v.SetDefault("database.enabled", false)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", "5432")
	v.SetDefault("database.user", "")
	v.SetDefault("database.password", "")
	v.SetDefault("database.name", "")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.migrations_dir", "")
	v.SetDefault("database.history_retention", 90*24*time.Hour)
	v.SetDefault("database.prune_cron", "@daily")

	v.SetDefault("chain.networks.base.rpc_url", "https://mainnet.base.org")
	v.SetDefault("chain.networks.ethereum.rpc_url", "")
	v.SetDefault("chain.networks.polygon.rpc_url", "")
	v.SetDefault("chain.receipt_poll_interval", 2*time.Second)
	v.SetDefault("chain.gas_limit_multiplier", 1.2)

	v.SetDefault("wallet.private_key", "")
	v.SetDefault("wallet.remote_url", "")
	v.SetDefault("wallet.address", "")

	v.SetDefault("marketdata.endpoint", "https://api.v3.aave.com/graphql")
	v.SetDefault("marketdata.timeout", 10*time.Second)
	v.SetDefault("marketdata.rate_ttl", time.Minute)
	v.SetDefault("marketdata.refresh_cron", "@every 1m")
	v.SetDefault("marketdata.tokens", map[string][]string{})

	v.SetDefault("flows.session_ttl", 30*time.Minute)
	v.SetDefault("flows.reap_interval", time.Minute)
	v.SetDefault("flows.reset_delay", 200*time.Millisecond)
	v.SetDefault("flows.action_timeout", 5*time.Minute)

	v.SetDefault("ratelimit.enabled", true)
	v.SetDefault("ratelimit.global.limit", 600)
	v.SetDefault("ratelimit.global.window", "1m")
	v.SetDefault("ratelimit.per_address.limit", 120)
	v.SetDefault("ratelimit.per_address.window", "1m")
	v.SetDefault("ratelimit.submit.limit", 10)
	v.SetDefault("ratelimit.submit.window", "1m")
	v.SetDefault("ratelimit.whitelist", []string{})

	v.SetDefault("telegram.enabled", false)
	v.SetDefault("telegram.token", "")
	v.SetDefault("telegram.chat_id", 0)
}
