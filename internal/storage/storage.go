// Package storage selects the persistence backend named in configuration.
package storage

import (
	"context"
	"fmt"

	"github.com/xtrntr/coinledger/internal/auth"
	"github.com/xtrntr/coinledger/internal/catalog"
	"github.com/xtrntr/coinledger/internal/config"
	"github.com/xtrntr/coinledger/internal/db"
	"github.com/xtrntr/coinledger/internal/kv"
	"github.com/xtrntr/coinledger/internal/ledger"
)

// Store is everything the service needs from a backend
type Store interface {
	auth.Store
	catalog.Store
	ledger.Store
	ActivateCoin(ctx context.Context, name string) error
	Close() error
}

var (
	_ Store = (*db.DB)(nil)
	_ Store = (*kv.Store)(nil)
)

// Open connects to the configured backend
func Open(ctx context.Context, cfg config.Storage) (Store, error) {
	switch cfg.Driver {
	case "postgres":
		pg, err := db.NewDB(ctx, cfg.PostgresURL)
		if err != nil {
			return nil, err
		}
		return pg, nil
	case "badger":
		s, err := kv.Open(kv.Options{Path: cfg.BadgerPath})
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}
