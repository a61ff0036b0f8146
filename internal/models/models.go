package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// User represents a registered account
type User struct {
	ID           int64     `json:"id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// Asset is one balance record. Symbol "USD" (configurable) holds cash.
type Asset struct {
	UserID  int64           `json:"user_id"`
	Symbol  string          `json:"symbol"`
	Balance decimal.Decimal `json:"balance"`
}

// Key is a session credential minted at login
type Key struct {
	PublicKey string    `json:"publicKey"`
	SecretKey string    `json:"secretKey"`
	UserID    int64     `json:"-"`
	IssuedAt  time.Time `json:"-"`
}

// Coin is a catalog entry for a tradable symbol
type Coin struct {
	Name   string `json:"name"`
	Active bool   `json:"active"`
}

// Quote is a freshly fetched unit price. Never persisted.
type Quote struct {
	Symbol    string          `json:"symbol"`
	Price     decimal.Decimal `json:"price"`
	FetchedAt time.Time       `json:"fetched_at"`
}

// Side is the direction of a trade
type Side string

const (
	Buy  Side = "buy"
	Sell Side = "sell"
)

// Trade is the outcome of one executed buy or sell
type Trade struct {
	ID         string          `json:"id"`
	UserID     int64           `json:"user_id"`
	Symbol     string          `json:"symbol"`
	Side       Side            `json:"side"`
	Price      decimal.Decimal `json:"price"`
	Quantity   decimal.Decimal `json:"quantity"`
	CashDelta  decimal.Decimal `json:"cash_delta"`
	ExecutedAt time.Time       `json:"executed_at"`
}
