// Package catalog answers which coins are listed and tradable.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto/v2"
	"github.com/xtrntr/coinledger/internal/apperr"
	"github.com/xtrntr/coinledger/internal/models"
)

const listKey = "coins"

// Store reads catalog entries
type Store interface {
	ListCoins(ctx context.Context) ([]models.Coin, error)
	GetCoin(ctx context.Context, name string) (*models.Coin, error)
}

// Catalog caches catalog reads for a short TTL
type Catalog struct {
	store Store
	cache *ristretto.Cache[string, []models.Coin]
	ttl   time.Duration
}

func New(store Store, ttl time.Duration) (*Catalog, error) {
	c, err := ristretto.NewCache(&ristretto.Config[string, []models.Coin]{
		NumCounters:        1e4,
		MaxCost:            1 << 10,
		BufferItems:        64,
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create catalog cache: %w", err)
	}
	return &Catalog{store: store, cache: c, ttl: ttl}, nil
}

func (c *Catalog) Close() { c.cache.Close() }

// Coins returns every catalog entry
func (c *Catalog) Coins(ctx context.Context) ([]models.Coin, error) {
	if c.ttl > 0 {
		if coins, ok := c.cache.Get(listKey); ok {
			return coins, nil
		}
	}

	coins, err := c.store.ListCoins(ctx)
	if err != nil {
		return nil, err
	}
	if c.ttl > 0 {
		c.cache.SetWithTTL(listKey, coins, 1, c.ttl)
	}
	return coins, nil
}

// ActiveSymbols lists the names of active coins
func (c *Catalog) ActiveSymbols(ctx context.Context) ([]string, error) {
	coins, err := c.Coins(ctx)
	if err != nil {
		return nil, err
	}
	symbols := make([]string, 0, len(coins))
	for _, coin := range coins {
		if coin.Active {
			symbols = append(symbols, coin.Name)
		}
	}
	return symbols, nil
}

// Lookup returns an active coin or apperr.ErrUnknownCoin
func (c *Catalog) Lookup(ctx context.Context, name string) (models.Coin, error) {
	coins, err := c.Coins(ctx)
	if err != nil {
		return models.Coin{}, err
	}
	for _, coin := range coins {
		if coin.Name == name {
			if !coin.Active {
				return models.Coin{}, apperr.ErrUnknownCoin
			}
			return coin, nil
		}
	}

	// The cached list may predate an activation
	coin, err := c.store.GetCoin(ctx, name)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return models.Coin{}, apperr.ErrUnknownCoin
		}
		return models.Coin{}, err
	}
	if !coin.Active {
		return models.Coin{}, apperr.ErrUnknownCoin
	}
	c.Invalidate()
	return *coin, nil
}

// Invalidate drops the cached list
func (c *Catalog) Invalidate() { c.cache.Del(listKey) }
