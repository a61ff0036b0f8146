// Package trade converts buy and sell requests into exact cash/asset swaps
// and applies them through the ledger's atomic pair update.
package trade

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/xtrntr/coinledger/internal/apperr"
	"github.com/xtrntr/coinledger/internal/events"
	"github.com/xtrntr/coinledger/internal/ledger"
	"github.com/xtrntr/coinledger/internal/models"
	"go.uber.org/zap"
)

// PriceSource quotes the current unit price of a symbol
type PriceSource interface {
	Quote(ctx context.Context, symbol string) (models.Quote, error)
}

// Request is either "all" or an explicit decimal quantity
type Request struct {
	All      bool
	Quantity string
}

// Executor runs trades. It holds no locks of its own: every trade is a
// single ledger.Store.Update, and the quote is fetched before it starts.
type Executor struct {
	prices     PriceSource
	store      ledger.Store
	events     events.Publisher
	cashSymbol string
	log        *zap.Logger
	now        func() time.Time
}

func NewExecutor(prices PriceSource, store ledger.Store, pub events.Publisher, cashSymbol string, log *zap.Logger) *Executor {
	if pub == nil {
		pub = events.Nop{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Executor{
		prices:     prices,
		store:      store,
		events:     pub,
		cashSymbol: cashSymbol,
		log:        log,
		now:        time.Now,
	}
}

func (e *Executor) Buy(ctx context.Context, userID int64, symbol string, req Request) (models.Trade, error) {
	return e.Execute(ctx, userID, symbol, models.Buy, req)
}

func (e *Executor) Sell(ctx context.Context, userID int64, symbol string, req Request) (models.Trade, error) {
	return e.Execute(ctx, userID, symbol, models.Sell, req)
}

// Execute parses the request, fetches a fresh quote and applies the trade
func (e *Executor) Execute(ctx context.Context, userID int64, symbol string, side models.Side, req Request) (models.Trade, error) {
	var qty decimal.Decimal
	if !req.All {
		var err error
		if qty, err = ParseQuantity(req.Quantity); err != nil {
			return models.Trade{}, err
		}
	}

	quote, err := e.prices.Quote(ctx, symbol)
	if err != nil {
		return models.Trade{}, err
	}
	return e.Apply(ctx, userID, quote, side, req.All, qty)
}

// Apply executes a trade at an already fetched quote. qty is ignored when all is set.
func (e *Executor) Apply(ctx context.Context, userID int64, quote models.Quote, side models.Side, all bool, qty decimal.Decimal) (models.Trade, error) {
	if !quote.Price.IsPositive() {
		return models.Trade{}, apperr.ErrOracleUnavailable.Wrap(fmt.Errorf("non-positive price %s", quote.Price))
	}

	var f fill
	_, _, err := e.store.Update(ctx, userID, e.cashSymbol, quote.Symbol, func(cash, asset decimal.Decimal) (decimal.Decimal, decimal.Decimal, error) {
		var err error
		f, err = plan(side, all, qty, quote.Price, cash, asset)
		if err != nil {
			return decimal.Zero, decimal.Zero, e.describe(err, quote.Symbol, side)
		}
		return f.cashDelta, f.assetDelta, nil
	})
	if err != nil {
		return models.Trade{}, err
	}

	t := models.Trade{
		ID:         uuid.NewString(),
		UserID:     userID,
		Symbol:     quote.Symbol,
		Side:       side,
		Price:      quote.Price,
		Quantity:   f.quantity,
		CashDelta:  f.cashDelta,
		ExecutedAt: e.now().UTC(),
	}

	e.log.Info("trade executed",
		zap.String("trade_id", t.ID),
		zap.Int64("user_id", userID),
		zap.String("side", string(side)),
		zap.String("symbol", t.Symbol),
		zap.Stringer("price", t.Price),
		zap.Stringer("quantity", t.Quantity),
	)

	// The ledger is already committed; a failed publish is only logged
	if err := e.events.Publish(ctx, t); err != nil {
		e.log.Warn("trade event not published", zap.String("trade_id", t.ID), zap.Error(err))
	}
	return t, nil
}

// describe names the balance in trade error messages
func (e *Executor) describe(err error, symbol string, side models.Side) error {
	switch {
	case errors.Is(err, apperr.ErrNothingToTrade):
		if side == models.Buy {
			return apperr.ErrNothingToTrade.WithMsg(fmt.Sprintf("no %s left", e.cashLabel()))
		}
		return apperr.ErrNothingToTrade.WithMsg(fmt.Sprintf("no %s left", symbol))
	case errors.Is(err, apperr.ErrInsufficientFunds):
		return apperr.ErrInsufficientFunds.WithMsg(fmt.Sprintf("not enough %s", e.cashLabel()))
	case errors.Is(err, apperr.ErrInsufficientAsset):
		return apperr.ErrInsufficientAsset.WithMsg(fmt.Sprintf("not enough %s", symbol))
	}
	return err
}

func (e *Executor) cashLabel() string {
	return strings.ToLower(e.cashSymbol)
}

type fill struct {
	quantity   decimal.Decimal
	cashDelta  decimal.Decimal
	assetDelta decimal.Decimal
}

// plan computes the swap for one trade from the balances locked by the store.
// For every fill cashDelta == -assetDelta * price.
func plan(side models.Side, all bool, qty, price, cash, asset decimal.Decimal) (fill, error) {
	switch side {
	case models.Buy:
		if all {
			if !cash.IsPositive() {
				return fill{}, apperr.ErrNothingToTrade
			}
			// floor(cash / price) at MaxScale digits, exactly
			q, _ := cash.QuoRem(price, MaxScale)
			if !q.IsPositive() {
				return fill{}, apperr.ErrNothingToTrade
			}
			return fill{quantity: q, cashDelta: q.Mul(price).Neg(), assetDelta: q}, nil
		}
		cost := price.Mul(qty)
		if cost.GreaterThan(cash) {
			return fill{}, apperr.ErrInsufficientFunds
		}
		return fill{quantity: qty, cashDelta: cost.Neg(), assetDelta: qty}, nil

	case models.Sell:
		if all {
			if !asset.IsPositive() {
				return fill{}, apperr.ErrNothingToTrade
			}
			return fill{quantity: asset, cashDelta: asset.Mul(price), assetDelta: asset.Neg()}, nil
		}
		if qty.GreaterThan(asset) {
			return fill{}, apperr.ErrInsufficientAsset
		}
		return fill{quantity: qty, cashDelta: qty.Mul(price), assetDelta: qty.Neg()}, nil
	}
	return fill{}, fmt.Errorf("unknown trade side %q", side)
}
