package trade

import (
	"strings"

	"github.com/shopspring/decimal"
	"github.com/xtrntr/coinledger/internal/apperr"
)

// MaxScale is the number of fractional digits a quantity may carry
const MaxScale = 4

// maxLiteralLen bounds the written quantity, sign and point included
const maxLiteralLen = 40

// ParseQuantity parses a positive plain decimal quantity. Exponent notation
// is rejected. Integers are always accepted; any other literal written with
// more than MaxScale fractional digits is a precision overflow, trailing
// zeros included.
func ParseQuantity(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" || len(s) > maxLiteralLen || strings.ContainsAny(s, "eE") {
		return decimal.Zero, apperr.ErrInvalidQuantity
	}

	q, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, apperr.ErrInvalidQuantity.Wrap(err)
	}
	if !q.IsPositive() {
		return decimal.Zero, apperr.ErrInvalidQuantity
	}
	if q.Exponent() < -MaxScale && !q.IsInteger() {
		return decimal.Zero, apperr.ErrPrecisionOverflow
	}
	return q, nil
}
