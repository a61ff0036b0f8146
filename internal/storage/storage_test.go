package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xtrntr/coinledger/internal/config"
)

func TestOpen_Badger(t *testing.T) {
	s, err := Open(context.Background(), config.Storage{Driver: "badger", BadgerPath: filepath.Join(t.TempDir(), "ledger")})
	require.NoError(t, err)
	require.NoError(t, s.ActivateCoin(context.Background(), "bitcoin"))
	assert.NoError(t, s.Close())
}

func TestOpen_UnknownDriver(t *testing.T) {
	s, err := Open(context.Background(), config.Storage{Driver: "sqlite"})
	assert.Error(t, err)
	assert.Nil(t, s)
}
