// Package oracle fetches spot prices from a CoinGecko style quote service.
package oracle

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/xtrntr/coinledger/internal/apperr"
	"github.com/xtrntr/coinledger/internal/models"
	"go.uber.org/zap"
)

const DefaultBaseURL = "https://api.coingecko.com/api/v3"

type Options struct {
	BaseURL          string
	VsCurrency       string
	Timeout          time.Duration
	Retries          int
	BreakerThreshold int
	BreakerReset     time.Duration
}

// Client quotes prices. It keeps no cache: every call is one external lookup,
// retried a bounded number of times on transport errors, 429 and 5xx.
type Client struct {
	http    *resty.Client
	vs      string
	breaker *Breaker
	log     *zap.Logger
	now     func() time.Time
}

func NewClient(opts Options, log *zap.Logger) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.VsCurrency == "" {
		opts.VsCurrency = "usd"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}

	rc := resty.New().
		SetBaseURL(strings.TrimSuffix(opts.BaseURL, "/")).
		SetTimeout(opts.Timeout).
		SetRetryCount(opts.Retries).
		SetRetryWaitTime(200 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		AddRetryCondition(func(resp *resty.Response, err error) bool {
			if err != nil {
				return !stderrors.Is(err, context.Canceled)
			}
			return resp.StatusCode() == 429 || resp.StatusCode() >= 500
		}).
		SetHeader("Accept", "application/json")

	ignore := func(err error) bool {
		return stderrors.Is(err, apperr.ErrUnknownSymbol) || stderrors.Is(err, context.Canceled)
	}

	return &Client{
		http:    rc,
		vs:      strings.ToLower(opts.VsCurrency),
		breaker: NewBreaker(opts.BreakerThreshold, opts.BreakerReset, ignore, log.Named("oracle.breaker")),
		log:     log,
		now:     time.Now,
	}
}

// Quote returns the current unit price of symbol in the configured currency
func (c *Client) Quote(ctx context.Context, symbol string) (models.Quote, error) {
	var q models.Quote
	err := c.breaker.Execute(func() error {
		var err error
		q, err = c.fetch(ctx, symbol)
		return err
	})
	if stderrors.Is(err, ErrOpen) {
		return models.Quote{}, apperr.ErrOracleUnavailable.Wrap(err)
	}
	if err != nil {
		if !stderrors.Is(err, apperr.ErrUnknownSymbol) {
			c.log.Warn("quote failed", zap.String("symbol", symbol), zap.Error(err))
		}
		return models.Quote{}, err
	}
	return q, nil
}

func (c *Client) fetch(ctx context.Context, symbol string) (models.Quote, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{"ids": symbol, "vs_currencies": c.vs}).
		Get("/simple/price")
	if err != nil {
		return models.Quote{}, apperr.ErrOracleUnavailable.Wrap(errors.Wrapf(err, "get price for %s", symbol))
	}
	if resp.IsError() {
		return models.Quote{}, apperr.ErrOracleUnavailable.Wrap(errors.Errorf("http non-2xx: %s", resp.Status()))
	}

	var body map[string]map[string]decimal.Decimal
	if err := json.Unmarshal(resp.Body(), &body); err != nil {
		return models.Quote{}, apperr.ErrOracleUnavailable.Wrap(errors.Wrap(err, "decode price response"))
	}

	price, ok := body[symbol][c.vs]
	if !ok {
		return models.Quote{}, apperr.ErrUnknownSymbol
	}
	if !price.IsPositive() {
		return models.Quote{}, apperr.ErrOracleUnavailable.Wrap(errors.Errorf("non-positive price %s for %s", price, symbol))
	}

	return models.Quote{Symbol: symbol, Price: price, FetchedAt: c.now().UTC()}, nil
}
