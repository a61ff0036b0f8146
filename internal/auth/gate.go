package auth

import (
	"context"
	"strings"

	"github.com/xtrntr/coinledger/internal/apperr"
	"github.com/xtrntr/coinledger/internal/models"
)

const bearerPrefix = "Bearer "

// Authenticate resolves an Authorization header of the exact form "Bearer <token>"
func (s *AuthService) Authenticate(ctx context.Context, header string) (*models.User, error) {
	token, ok := strings.CutPrefix(header, bearerPrefix)
	if !ok || token == "" || strings.ContainsAny(token, " \t") {
		return nil, apperr.ErrMalformedHeader
	}
	return s.Verify(ctx, token)
}
