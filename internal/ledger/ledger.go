// Package ledger defines the balance store contract shared by every storage
// backend and the settlement rule they all apply inside their atomic section.
package ledger

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
	"github.com/xtrntr/coinledger/internal/apperr"
	"github.com/xtrntr/coinledger/internal/models"
)

// ErrSameSymbol is returned when a pair update names one symbol twice
var ErrSameSymbol = errors.New("ledger: pair update needs two distinct symbols")

// Mutation computes the deltas to apply to a pair of balances. It runs inside
// the store's atomic section and sees the balances as locked there, so it may
// run more than once on backends that retry on conflict.
type Mutation func(a, b decimal.Decimal) (da, db decimal.Decimal, err error)

// Store holds one balance record per (user, symbol)
type Store interface {
	// GetPair reads both balances. A missing record is apperr.ErrNoSuchAsset.
	GetPair(ctx context.Context, userID int64, symA, symB string) (models.Asset, models.Asset, error)
	// Update atomically reads both balances, applies fn and writes the result.
	// Either both records change or neither does.
	Update(ctx context.Context, userID int64, symA, symB string, fn Mutation) (models.Asset, models.Asset, error)
	// Balances lists the user's non-zero balances
	Balances(ctx context.Context, userID int64) ([]models.Asset, error)
}

// Delta is a precomputed change to a pair of balances
type Delta struct {
	SymbolA string
	DeltaA  decimal.Decimal
	SymbolB string
	DeltaB  decimal.Decimal
}

// ApplyDelta applies a fixed delta through the store's atomic update
func ApplyDelta(ctx context.Context, s Store, userID int64, d Delta) (models.Asset, models.Asset, error) {
	return s.Update(ctx, userID, d.SymbolA, d.SymbolB, func(_, _ decimal.Decimal) (decimal.Decimal, decimal.Decimal, error) {
		return d.DeltaA, d.DeltaB, nil
	})
}

// CheckPair validates the symbols of a pair operation
func CheckPair(symA, symB string) error {
	if symA == "" || symB == "" || symA == symB {
		return ErrSameSymbol
	}
	return nil
}

// Settle runs fn against the current balances and returns the resulting
// records. It rejects the pair with apperr.ErrInsufficientBalance when either
// result would be negative. Callers write nothing when Settle fails.
func Settle(a, b models.Asset, fn Mutation) (models.Asset, models.Asset, error) {
	da, db, err := fn(a.Balance, b.Balance)
	if err != nil {
		return a, b, err
	}

	na, nb := a, b
	na.Balance = a.Balance.Add(da)
	nb.Balance = b.Balance.Add(db)
	if na.Balance.IsNegative() || nb.Balance.IsNegative() {
		return a, b, apperr.ErrInsufficientBalance
	}
	return na, nb, nil
}
