// Package apperr defines the structured errors surfaced to API callers.
// Every error carries a stable kind and the HTTP status it maps to.
package apperr

import (
	"errors"
	"net/http"
)

// Kind is a stable, machine readable error identifier
type Kind string

// Error is a classified failure. Two errors match under errors.Is when their kinds are equal.
type Error struct {
	Kind   Kind
	Status int
	Msg    string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error with the same kind
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// Wrap returns a copy of e carrying cause
func (e *Error) Wrap(cause error) *Error {
	c := *e
	c.Err = cause
	return &c
}

// WithMsg returns a copy of e with a different message, keeping kind and status
func (e *Error) WithMsg(msg string) *Error {
	c := *e
	c.Msg = msg
	return &c
}

func newErr(kind Kind, status int, msg string) *Error {
	return &Error{Kind: kind, Status: status, Msg: msg}
}

// Auth
var (
	ErrMalformedHeader    = newErr("auth.malformed_header", http.StatusBadRequest, "Wrong Authorization")
	ErrInvalidToken       = newErr("auth.invalid_token", http.StatusUnauthorized, "Invalid token")
	ErrExpiredToken       = newErr("auth.expired_token", http.StatusUnauthorized, "Expired token")
	ErrUserNotFound       = newErr("auth.user_not_found", http.StatusNotFound, "Cannot find user")
	ErrInvalidCredentials = newErr("auth.invalid_credentials", http.StatusNotFound, "Not Found")
)

// Oracle
var (
	ErrOracleUnavailable = newErr("oracle.unavailable", http.StatusServiceUnavailable, "price source unavailable")
	ErrUnknownSymbol     = newErr("oracle.unknown_symbol", http.StatusNotFound, "no price listed for symbol")
)

// Ledger
var (
	ErrNoSuchAsset         = newErr("ledger.no_such_asset", http.StatusNotFound, "no such asset")
	ErrInsufficientBalance = newErr("ledger.insufficient_balance", http.StatusUnprocessableEntity, "insufficient balance")
)

// Trade
var (
	ErrPrecisionOverflow = newErr("trade.precision_overflow", http.StatusBadRequest, "quantity overflow")
	ErrInvalidQuantity   = newErr("trade.invalid_quantity", http.StatusBadRequest, "invalid quantity")
	ErrInsufficientFunds = newErr("trade.insufficient_funds", http.StatusBadRequest, "not enough usd")
	ErrInsufficientAsset = newErr("trade.insufficient_asset", http.StatusBadRequest, "not enough asset")
	ErrNothingToTrade    = newErr("trade.nothing_to_trade", http.StatusUnprocessableEntity, "nothing left to trade")
)

// Registration
var (
	ErrDuplicateEmail = newErr("registration.duplicate_email", http.StatusBadRequest, "email is duplicated")
	ErrValidation     = newErr("registration.validation_failed", http.StatusBadRequest, "validation failed")
)

// Catalog, storage and transport
var (
	ErrUnknownCoin = newErr("catalog.unknown_coin", http.StatusNotFound, "Invalid coin ID")
	ErrNotFound    = newErr("store.not_found", http.StatusNotFound, "not found")
	ErrBadRequest  = newErr("request.malformed_body", http.StatusBadRequest, "Invalid request body")
)

// Internal is the kind reported for unclassified failures
const Internal Kind = "internal"

// StatusOf returns the HTTP status and kind for err. Unclassified errors map to 500.
func StatusOf(err error) (int, Kind) {
	var e *Error
	if errors.As(err, &e) {
		return e.Status, e.Kind
	}
	return http.StatusInternalServerError, Internal
}
