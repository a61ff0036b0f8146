package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_FileWithDefaults(t *testing.T) {
	path := writeConfig(t, `
env: dev
http:
  port: 9090
storage:
  driver: badger
  badger_path: /tmp/ledger
auth:
  token_ttl: 2h
kafka:
  brokers: ["localhost:9092", "localhost:9093"]
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, EnvDev, cfg.Env)
	assert.Equal(t, "0.0.0.0:9090", cfg.HTTP.Addr())
	assert.Equal(t, 2*time.Hour, cfg.Auth.TokenTTL)
	assert.Equal(t, 10, cfg.Auth.BcryptCost)
	assert.Equal(t, "USD", cfg.Ledger.CashSymbol)
	assert.Equal(t, "https://api.coingecko.com/api/v3", cfg.Oracle.BaseURL)
	assert.Equal(t, []string{"localhost:9092", "localhost:9093"}, cfg.Kafka.Brokers)

	cash, err := cfg.Ledger.OpeningCash()
	require.NoError(t, err)
	assert.Equal(t, "10000", cash.String())
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("AUTH_TOKEN_TTL", "90m")
	t.Setenv("LEDGER_INITIAL_CASH", "250.5")
	path := writeConfig(t, "env: local\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 90*time.Minute, cfg.Auth.TokenTTL)
	assert.Equal(t, "250.5", cfg.Ledger.InitialCash)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"UnknownEnv", "env: staging\n"},
		{"UnknownDriver", "storage:\n  driver: sqlite\n"},
		{"PostgresWithoutURL", "storage:\n  driver: postgres\n"},
		{"BadInitialCash", "ledger:\n  initial_cash: lots\n"},
		{"NegativeInitialCash", "ledger:\n  initial_cash: \"-1\"\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
