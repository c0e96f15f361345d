package config

import (
	"fmt"
	"strings"
	"time"
)

// Config holds runtime configuration for the Himera lending service.
type Config struct {
	AppEnv     string           `mapstructure:"app_env"`
	HTTP       HTTPConfig       `mapstructure:"http"`
	Logger     LoggerConfig     `mapstructure:"logger"`
	Sentry     SentryConfig     `mapstructure:"sentry"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Chain      ChainConfig      `mapstructure:"chain"`
	Wallet     WalletConfig     `mapstructure:"wallet"`
	MarketData MarketDataConfig `mapstructure:"marketdata"`
	Flows      FlowsConfig      `mapstructure:"flows"`
	RateLimit  RateLimitConfig  `mapstructure:"ratelimit"`
	Telegram   TelegramConfig   `mapstructure:"telegram"`
}

// HTTPConfig configures the public API listener.
type HTTPConfig struct {
	Addr            string        `mapstructure:"addr" validate:"required"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
	IdempotencyTTL  time.Duration `mapstructure:"idempotency_ttl"`
}

// LoggerConfig configures slog output.
type LoggerConfig struct {
	Level      string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Format     string `mapstructure:"format" validate:"oneof=json text"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// SentryConfig configures error reporting.
type SentryConfig struct {
	Enabled          bool    `mapstructure:"enabled"`
	DSN              string  `mapstructure:"dsn" validate:"required_if=Enabled true"`
	TracesSampleRate float64 `mapstructure:"traces_sample_rate"`
}

// RedisConfig defines connection parameters for Redis.
type RedisConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Addr         string        `mapstructure:"addr" validate:"required_if=Enabled true"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
	PoolTimeout  time.Duration `mapstructure:"pool_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
	MaxRetries   int           `mapstructure:"max_retries"`
}

// DatabaseConfig configures the optional transaction history store.
type DatabaseConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	Host          string `mapstructure:"host" validate:"required_if=Enabled true"`
	Port          string `mapstructure:"port"`
	User          string `mapstructure:"user" validate:"required_if=Enabled true"`
	Password      string `mapstructure:"password"`
	Name          string `mapstructure:"name" validate:"required_if=Enabled true"`
	SSLMode       string `mapstructure:"sslmode"`
	MigrationsDir string `mapstructure:"migrations_dir"`

	HistoryRetention time.Duration `mapstructure:"history_retention"`
	PruneCron        string        `mapstructure:"prune_cron"`
}

// DSN returns the PostgreSQL connection string.
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host,
		c.Port,
		c.User,
		c.Password,
		c.Name,
		c.SSLMode,
	)
}

// NetworkConfig holds per-network RPC settings.
type NetworkConfig struct {
	RPCURL string `mapstructure:"rpc_url"`
}

// ChainConfig configures chain access.
type ChainConfig struct {
	Networks            map[string]NetworkConfig     `mapstructure:"networks"`
	ReceiptPollInterval time.Duration                `mapstructure:"receipt_poll_interval" validate:"gt=0"`
	GasLimitMultiplier  float64                      `mapstructure:"gas_limit_multiplier" validate:"gte=1"`
	TokenOverrides      map[string]map[string]string `mapstructure:"token_overrides"`
}

// WalletConfig selects the signer used for flow sessions. PrivateKey signs
// locally; RemoteURL forwards eth_signTransaction to an external wallet.
type WalletConfig struct {
	PrivateKey string `mapstructure:"private_key" validate:"excluded_with=RemoteURL"`
	RemoteURL  string `mapstructure:"remote_url"`
	Address    string `mapstructure:"address" validate:"required_with=RemoteURL"`
}

// MarketDataConfig configures the Aave data API client.
type MarketDataConfig struct {
	Endpoint    string        `mapstructure:"endpoint" validate:"required,url"`
	Timeout     time.Duration `mapstructure:"timeout" validate:"gt=0"`
	RateTTL     time.Duration `mapstructure:"rate_ttl"`
	RefreshCron string        `mapstructure:"refresh_cron"`

	// Tokens lists underlying token addresses per network whose rates are
	// warmed. Empty means every reserve of the market.
	Tokens map[string][]string `mapstructure:"tokens"`
}

// FlowsConfig configures server-side flow sessions.
type FlowsConfig struct {
	SessionTTL    time.Duration `mapstructure:"session_ttl" validate:"gt=0"`
	ReapInterval  time.Duration `mapstructure:"reap_interval" validate:"gt=0"`
	ResetDelay    time.Duration `mapstructure:"reset_delay"`
	ActionTimeout time.Duration `mapstructure:"action_timeout" validate:"gt=0"`
}

// guardMargin keeps an in-flight lock alive past the action deadline.
const guardMargin = time.Minute

// GuardTTL is how long an in-flight lock may live. It outlasts ActionTimeout
// so a running action never loses its lock.
func (c FlowsConfig) GuardTTL() time.Duration {
	return c.ActionTimeout + guardMargin
}

// RateLimitRule is a single limit over a window expressed as a duration string.
type RateLimitRule struct {
	Limit  int    `mapstructure:"limit"`
	Window string `mapstructure:"window"`
}

// RateLimitConfig configures API rate limits.
type RateLimitConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	Global     RateLimitRule `mapstructure:"global"`
	PerAddress RateLimitRule `mapstructure:"per_address"`
	Submit     RateLimitRule `mapstructure:"submit"`
	Whitelist  []string      `mapstructure:"whitelist"`
}

// TelegramConfig configures outcome notifications.
type TelegramConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Token   string `mapstructure:"token" validate:"required_if=Enabled true"`
	ChatID  int64  `mapstructure:"chat_id" validate:"required_if=Enabled true"`
}

// IsProduction reports whether the service runs in production.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.AppEnv, "production")
}
