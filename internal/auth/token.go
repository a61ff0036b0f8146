package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
	"github.com/xtrntr/coinledger/internal/apperr"
	"github.com/xtrntr/coinledger/internal/models"
)

const (
	publicKeyBytes = 16
	secretKeyBytes = 32
)

// Claims is the bearer token payload. The public key names the credential
// whose secret signed the token.
type Claims struct {
	PublicKey string `json:"publicKey"`
	jwt.RegisteredClaims
}

// Issue mints and stores a fresh credential for userID
func (s *AuthService) Issue(ctx context.Context, userID int64) (*models.Key, error) {
	public, err := randomHex(publicKeyBytes)
	if err != nil {
		return nil, err
	}
	secret, err := randomHex(secretKeyBytes)
	if err != nil {
		return nil, err
	}

	key := &models.Key{PublicKey: public, SecretKey: secret, UserID: userID, IssuedAt: s.now().UTC()}
	if err := s.store.CreateKey(ctx, key); err != nil {
		return nil, fmt.Errorf("failed to store key: %w", err)
	}
	return key, nil
}

// Sign produces an HS256 token for key that expires after the configured TTL
func (s *AuthService) Sign(key *models.Key) (string, error) {
	now := s.now()
	claims := Claims{
		PublicKey: key.PublicKey,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.opts.TokenTTL)),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(key.SecretKey))
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return token, nil
}

// Verify resolves a token to its owner. The public key claim is read without
// trust only to find the credential; the token is accepted once its signature
// checks out against that credential's stored secret.
func (s *AuthService) Verify(ctx context.Context, tokenString string) (*models.User, error) {
	var unverified Claims
	if _, _, err := jwt.NewParser().ParseUnverified(tokenString, &unverified); err != nil || unverified.PublicKey == "" {
		return nil, apperr.ErrInvalidToken
	}

	key, err := s.store.GetKey(ctx, unverified.PublicKey)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return nil, apperr.ErrInvalidToken
		}
		return nil, fmt.Errorf("failed to load key: %w", err)
	}

	var claims Claims
	_, err = jwt.ParseWithClaims(tokenString, &claims,
		func(*jwt.Token) (any, error) { return []byte(key.SecretKey), nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, apperr.ErrExpiredToken
		}
		return nil, apperr.ErrInvalidToken
	}
	if claims.PublicKey != key.PublicKey {
		return nil, apperr.ErrInvalidToken
	}

	user, err := s.store.GetUserByID(ctx, key.UserID)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return nil, apperr.ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	return user, nil
}

func randomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	return hex.EncodeToString(b), nil
}
