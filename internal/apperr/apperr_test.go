package apperr

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_IsMatchesKind(t *testing.T) {
	wrapped := fmt.Errorf("buy: %w", ErrInsufficientFunds.Wrap(io.EOF))

	assert.True(t, errors.Is(wrapped, ErrInsufficientFunds))
	assert.True(t, errors.Is(wrapped, io.EOF))
	assert.False(t, errors.Is(wrapped, ErrInsufficientAsset))
	assert.Nil(t, ErrInsufficientFunds.Err, "Wrap must not mutate the sentinel")
}

func TestStatusOf(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		kind   Kind
	}{
		{"MalformedHeader", ErrMalformedHeader, http.StatusBadRequest, "auth.malformed_header"},
		{"ExpiredToken", fmt.Errorf("verify: %w", ErrExpiredToken), http.StatusUnauthorized, "auth.expired_token"},
		{"NothingToTrade", ErrNothingToTrade, http.StatusUnprocessableEntity, "trade.nothing_to_trade"},
		{"OracleDown", ErrOracleUnavailable.Wrap(io.ErrUnexpectedEOF), http.StatusServiceUnavailable, "oracle.unavailable"},
		{"Unclassified", errors.New("boom"), http.StatusInternalServerError, Internal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, kind := StatusOf(tt.err)
			assert.Equal(t, tt.status, status)
			assert.Equal(t, tt.kind, kind)
		})
	}
}

func TestError_Message(t *testing.T) {
	assert.Equal(t, "Invalid coin ID", ErrUnknownCoin.Error())
	assert.Equal(t, "price source unavailable: EOF", ErrOracleUnavailable.Wrap(io.EOF).Error())
	assert.Equal(t, "name too short", ErrValidation.WithMsg("name too short").Error())
}
