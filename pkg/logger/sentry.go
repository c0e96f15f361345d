package logger

import (
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/Proton-105/himera-lend/pkg/config"
)

const sentryFlushTimeout = 2 * time.Second

// InitSentry configures the global Sentry hub when reporting is enabled. The
// returned function flushes buffered events and is safe to call when disabled.
func InitSentry(cfg config.Config) (func(), error) {
	if !cfg.Sentry.Enabled {
		return func() {}, nil
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:              cfg.Sentry.DSN,
		Environment:      cfg.AppEnv,
		ServerName:       serviceName,
		TracesSampleRate: cfg.Sentry.TracesSampleRate,
		AttachStacktrace: true,
	})
	if err != nil {
		return func() {}, fmt.Errorf("initialize sentry: %w", err)
	}

	return func() { sentry.Flush(sentryFlushTimeout) }, nil
}
