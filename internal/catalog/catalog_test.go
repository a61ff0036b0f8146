package catalog

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xtrntr/coinledger/internal/apperr"
	"github.com/xtrntr/coinledger/internal/models"
)

type fakeStore struct {
	mu    sync.Mutex
	coins []models.Coin
	lists int
}

func (f *fakeStore) ListCoins(context.Context) ([]models.Coin, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lists++
	return append([]models.Coin(nil), f.coins...), nil
}

func (f *fakeStore) GetCoin(_ context.Context, name string) (*models.Coin, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.coins {
		if c.Name == name {
			return &c, nil
		}
	}
	return nil, apperr.ErrNotFound
}

func newCatalog(t *testing.T, store Store, ttl time.Duration) *Catalog {
	t.Helper()
	c, err := New(store, ttl)
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c
}

func TestCatalog_Lookup(t *testing.T) {
	store := &fakeStore{coins: []models.Coin{
		{Name: "bitcoin", Active: true},
		{Name: "medibloc", Active: false},
	}}
	c := newCatalog(t, store, time.Minute)
	ctx := context.Background()

	tests := []struct {
		name     string
		expected error
	}{
		{"bitcoin", nil},
		{"medibloc", apperr.ErrUnknownCoin},
		{"notacoin", apperr.ErrUnknownCoin},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			coin, err := c.Lookup(ctx, tt.name)
			if tt.expected != nil {
				assert.ErrorIs(t, err, tt.expected)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.name, coin.Name)
		})
	}

	symbols, err := c.ActiveSymbols(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"bitcoin"}, symbols)
}

func TestCatalog_Caches(t *testing.T) {
	store := &fakeStore{coins: []models.Coin{{Name: "ripple", Active: true}}}
	c := newCatalog(t, store, time.Minute)
	ctx := context.Background()

	_, err := c.Coins(ctx)
	require.NoError(t, err)
	c.cache.Wait()

	_, err = c.Coins(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, store.lists)

	// A coin activated after the list was cached is still found
	store.mu.Lock()
	store.coins = append(store.coins, models.Coin{Name: "ethereum", Active: true})
	store.mu.Unlock()

	coin, err := c.Lookup(ctx, "ethereum")
	require.NoError(t, err)
	assert.Equal(t, "ethereum", coin.Name)
}

func TestCatalog_NoCache(t *testing.T) {
	store := &fakeStore{coins: []models.Coin{{Name: "ripple", Active: true}}}
	c := newCatalog(t, store, 0)

	for i := 0; i < 3; i++ {
		_, err := c.Coins(context.Background())
		require.NoError(t, err)
	}
	assert.Equal(t, 3, store.lists)
}
