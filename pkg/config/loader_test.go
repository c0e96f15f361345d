package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFile_Defaults(t *testing.T) {
	cfg, v, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"), "test")
	require.NoError(t, err)
	require.NotNil(t, v)

	assert.Equal(t, "test", cfg.AppEnv)
	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, "https://api.v3.aave.com/graphql", cfg.MarketData.Endpoint)
	assert.Equal(t, 200*time.Millisecond, cfg.Flows.ResetDelay)
	assert.Equal(t, 2*time.Second, cfg.Chain.ReceiptPollInterval)
	assert.Equal(t, "https://mainnet.base.org", cfg.Chain.Networks["base"].RPCURL)
	assert.False(t, cfg.IsProduction())
}

func TestLoadFile_YAMLAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "staging.yaml")
	content := []byte(`
logger:
  level: debug
  format: text
flows:
  session_ttl: 10m
chain:
  token_overrides:
    base:
      usdc: "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913"
`)
	require.NoError(t, os.WriteFile(path, content, 0o600))

	t.Setenv("HTTP_ADDR", ":9090")

	cfg, _, err := LoadFile(path, "staging")
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Logger.Level)
	assert.Equal(t, "text", cfg.Logger.Format)
	assert.Equal(t, 10*time.Minute, cfg.Flows.SessionTTL)
	assert.Equal(t, ":9090", cfg.HTTP.Addr)
	assert.Equal(t, "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913", cfg.Chain.TokenOverrides["base"]["usdc"])
}

func TestLoadFile_ValidationFails(t *testing.T) {
	t.Setenv("LOGGER_LEVEL", "verbose")

	_, _, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"), "test")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "validate config")
}

func TestParseLevel(t *testing.T) {
	testCases := []struct {
		raw  string
		want slog.Level
	}{
		{raw: "debug", want: slog.LevelDebug},
		{raw: "WARN", want: slog.LevelWarn},
		{raw: "warning", want: slog.LevelWarn},
		{raw: "error", want: slog.LevelError},
		{raw: "", want: slog.LevelInfo},
		{raw: "nonsense", want: slog.LevelInfo},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.raw, func(t *testing.T) {
			assert.Equal(t, tc.want, ParseLevel(tc.raw))
		})
	}
}

func TestFlowsConfig_GuardTTLOutlastsActionTimeout(t *testing.T) {
	testCases := []struct {
		name    string
		timeout time.Duration
	}{
		{name: "default timeout", timeout: 5 * time.Minute},
		{name: "long timeout", timeout: 30 * time.Minute},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			cfg := FlowsConfig{ActionTimeout: tc.timeout}
			assert.Greater(t, cfg.GuardTTL(), tc.timeout)
		})
	}
}
