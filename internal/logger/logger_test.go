package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xtrntr/coinledger/internal/config"
)

func TestNew_WritesRotatedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.log")

	log, err := New(config.EnvProd, config.Log{Level: "info", File: path, MaxSizeMB: 1})
	require.NoError(t, err)

	log.Info("trade executed")
	log.Debug("filtered out")
	_ = log.Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"trade executed"`)
	assert.Contains(t, string(data), `"env":"prod"`)
	assert.NotContains(t, string(data), "filtered out")
}

func TestNew_InvalidLevel(t *testing.T) {
	_, err := New(config.EnvLocal, config.Log{Level: "loud"})
	assert.Error(t, err)
}
