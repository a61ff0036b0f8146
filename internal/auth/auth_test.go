package auth

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xtrntr/coinledger/internal/apperr"
	"github.com/xtrntr/coinledger/internal/kv"
	"github.com/xtrntr/coinledger/internal/models"
	"golang.org/x/crypto/bcrypt"
)

type staticCoins []string

func (c staticCoins) ActiveSymbols(context.Context) ([]string, error) { return c, nil }

func newTestService(t *testing.T) (*AuthService, *kv.Store) {
	t.Helper()
	store, err := kv.Open(kv.Options{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	svc := NewAuthService(store, staticCoins{"bitcoin", "ripple"}, Options{
		TokenTTL:    time.Hour,
		BcryptCost:  bcrypt.MinCost,
		CashSymbol:  "USD",
		InitialCash: decimal.NewFromInt(10000),
	})
	return svc, store
}

func registerUser(t *testing.T, svc *AuthService, email string) *models.User {
	t.Helper()
	user, err := svc.Register(context.Background(), RegisterRequest{Name: "trader", Email: email, Password: "password1"})
	require.NoError(t, err)
	return user
}

func TestAuthService_Register(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	user := registerUser(t, svc, "Alice@Example.com")
	assert.Equal(t, "alice@example.com", user.Email)

	cash, coin, err := store.GetPair(ctx, user.ID, "USD", "ripple")
	require.NoError(t, err)
	assert.Equal(t, "10000", cash.Balance.String())
	assert.True(t, coin.Balance.IsZero())

	_, err = svc.Register(ctx, RegisterRequest{Name: "other", Email: "alice@example.com", Password: "password1"})
	assert.ErrorIs(t, err, apperr.ErrDuplicateEmail)
}

func TestAuthService_RegisterValidation(t *testing.T) {
	svc, _ := newTestService(t)

	tests := []struct {
		name    string
		req     RegisterRequest
		message string
	}{
		{"ShortName", RegisterRequest{Name: "abc", Email: "a@b.co", Password: "password1"}, "name must be at least 4 characters"},
		{"LongName", RegisterRequest{Name: "abcdefghijklm", Email: "a@b.co", Password: "password1"}, "name must be at most 12 characters"},
		{"BadEmail", RegisterRequest{Name: "abcd", Email: "not-an-email", Password: "password1"}, "email must be a valid email address"},
		{"MissingEmail", RegisterRequest{Name: "abcd", Password: "password1"}, "email is required"},
		{"ShortPassword", RegisterRequest{Name: "abcd", Email: "a@b.co", Password: "short"}, "password must be at least 8 characters"},
		{"LongPassword", RegisterRequest{Name: "abcd", Email: "a@b.co", Password: "aaaaaaaaaaaaaaaaa"}, "password must be at most 16 characters"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Register(context.Background(), tt.req)
			require.ErrorIs(t, err, apperr.ErrValidation)
			assert.Equal(t, tt.message, err.Error())
		})
	}
}

func TestAuthService_Login(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	user := registerUser(t, svc, "bob@example.com")

	key, token, err := svc.Login(ctx, "bob@example.com", "password1")
	require.NoError(t, err)
	assert.Equal(t, user.ID, key.UserID)
	assert.Len(t, key.PublicKey, 2*publicKeyBytes)
	assert.Len(t, key.SecretKey, 2*secretKeyBytes)

	got, err := svc.Verify(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, user.ID, got.ID)

	_, _, err = svc.Login(ctx, "bob@example.com", "wrongpass")
	assert.ErrorIs(t, err, apperr.ErrInvalidCredentials)

	_, _, err = svc.Login(ctx, "nobody@example.com", "password1")
	assert.ErrorIs(t, err, apperr.ErrInvalidCredentials)
}

func TestAuthService_IndependentKeys(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	registerUser(t, svc, "carol@example.com")

	k1, _, err := svc.Login(ctx, "carol@example.com", "password1")
	require.NoError(t, err)
	k2, t2, err := svc.Login(ctx, "carol@example.com", "password1")
	require.NoError(t, err)
	assert.NotEqual(t, k1.PublicKey, k2.PublicKey)

	// Expire a token for the first key only
	svc.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	expired, err := svc.Sign(k1)
	require.NoError(t, err)
	svc.now = time.Now

	_, err = svc.Verify(ctx, expired)
	assert.ErrorIs(t, err, apperr.ErrExpiredToken)

	_, err = svc.Verify(ctx, t2)
	assert.NoError(t, err)

	t1, err := svc.Sign(k1)
	require.NoError(t, err)
	_, err = svc.Verify(ctx, t1)
	assert.NoError(t, err)
}

func TestAuthService_Verify(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	registerUser(t, svc, "dave@example.com")
	key, _, err := svc.Login(ctx, "dave@example.com", "password1")
	require.NoError(t, err)

	sign := func(method jwt.SigningMethod, claims jwt.Claims, secret string) string {
		s, err := jwt.NewWithClaims(method, claims).SignedString([]byte(secret))
		require.NoError(t, err)
		return s
	}
	exp := jwt.NewNumericDate(time.Now().Add(time.Hour))

	orphan := &models.Key{PublicKey: "orphan", SecretKey: "orphan-secret", UserID: 999}
	require.NoError(t, store.CreateKey(ctx, orphan))

	tests := []struct {
		name     string
		token    string
		expected error
	}{
		{"Garbage", "not.a.token", apperr.ErrInvalidToken},
		{"UnknownKey", sign(jwt.SigningMethodHS256, Claims{PublicKey: "nope", RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: exp}}, "x"), apperr.ErrInvalidToken},
		{"NoPublicKey", sign(jwt.SigningMethodHS256, jwt.RegisteredClaims{ExpiresAt: exp}, key.SecretKey), apperr.ErrInvalidToken},
		{"WrongSecret", sign(jwt.SigningMethodHS256, Claims{PublicKey: key.PublicKey, RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: exp}}, "forged"), apperr.ErrInvalidToken},
		{"WrongAlgorithm", sign(jwt.SigningMethodHS512, Claims{PublicKey: key.PublicKey, RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: exp}}, key.SecretKey), apperr.ErrInvalidToken},
		{"NoExpiry", sign(jwt.SigningMethodHS256, Claims{PublicKey: key.PublicKey}, key.SecretKey), apperr.ErrInvalidToken},
		{"ExpiredForged", sign(jwt.SigningMethodHS256, Claims{PublicKey: key.PublicKey, RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour))}}, "forged"), apperr.ErrInvalidToken},
		{"OwnerMissing", sign(jwt.SigningMethodHS256, Claims{PublicKey: "orphan", RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: exp}}, orphan.SecretKey), apperr.ErrUserNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			user, err := svc.Verify(ctx, tt.token)
			assert.ErrorIs(t, err, tt.expected)
			assert.Nil(t, user)
		})
	}
}

func TestAuthService_Authenticate(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	user := registerUser(t, svc, "erin@example.com")
	_, token, err := svc.Login(ctx, "erin@example.com", "password1")
	require.NoError(t, err)

	got, err := svc.Authenticate(ctx, "Bearer "+token)
	require.NoError(t, err)
	assert.Equal(t, user.ID, got.ID)

	malformed := []string{
		"",
		token,
		"Bearer",
		"Bearer ",
		"bearer " + token,
		"Bearer  " + token,
		"Basic " + token,
		"Bearer " + token + " extra",
	}
	for _, header := range malformed {
		_, err := svc.Authenticate(ctx, header)
		assert.ErrorIs(t, err, apperr.ErrMalformedHeader, "header %q", header)
	}
}
