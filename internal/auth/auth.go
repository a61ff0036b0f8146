package auth

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/xtrntr/coinledger/internal/apperr"
	"github.com/xtrntr/coinledger/internal/models"
	"golang.org/x/crypto/bcrypt"
)

// Store persists users and their session credentials
type Store interface {
	CreateUser(ctx context.Context, name, email, passwordHash string, opening []models.Asset) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	GetUserByID(ctx context.Context, id int64) (*models.User, error)
	CreateKey(ctx context.Context, key *models.Key) error
	GetKey(ctx context.Context, publicKey string) (*models.Key, error)
}

// SymbolLister lists the tradable symbols a new account gets a balance for
type SymbolLister interface {
	ActiveSymbols(ctx context.Context) ([]string, error)
}

// Options tunes credential lifetime, hashing cost and opening balances
type Options struct {
	TokenTTL    time.Duration
	BcryptCost  int
	CashSymbol  string
	InitialCash decimal.Decimal
}

// AuthService handles registration, login and session credentials
type AuthService struct {
	store    Store
	coins    SymbolLister
	validate *validator.Validate
	opts     Options
	now      func() time.Time
}

// NewAuthService creates a new auth service
func NewAuthService(store Store, coins SymbolLister, opts Options) *AuthService {
	if opts.TokenTTL <= 0 {
		opts.TokenTTL = 24 * time.Hour
	}
	if opts.BcryptCost == 0 {
		opts.BcryptCost = bcrypt.DefaultCost
	}
	if opts.CashSymbol == "" {
		opts.CashSymbol = "USD"
	}

	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})

	return &AuthService{store: store, coins: coins, validate: v, opts: opts, now: time.Now}
}

// RegisterRequest is the registration form
type RegisterRequest struct {
	Name     string `json:"name" validate:"required,min=4,max=12"`
	Email    string `json:"email" validate:"required,email,max=99"`
	Password string `json:"password" validate:"required,min=8,max=16"`
}

// Register validates the form, hashes the password and creates the user with
// a funded cash balance and a zero balance for every active coin
func (s *AuthService) Register(ctx context.Context, req RegisterRequest) (*models.User, error) {
	req.Email = normalizeEmail(req.Email)

	// Validate input
	if err := s.validate.Struct(req); err != nil {
		return nil, validationError(err)
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.opts.BcryptCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	symbols, err := s.coins.ActiveSymbols(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list coins: %w", err)
	}
	opening := []models.Asset{{Symbol: s.opts.CashSymbol, Balance: s.opts.InitialCash}}
	for _, sym := range symbols {
		if sym == s.opts.CashSymbol {
			continue
		}
		opening = append(opening, models.Asset{Symbol: sym, Balance: decimal.Zero})
	}

	user, err := s.store.CreateUser(ctx, req.Name, req.Email, string(hashedPassword), opening)
	if err != nil {
		if errors.Is(err, apperr.ErrDuplicateEmail) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return user, nil
}

// Login checks credentials and mints a new key. Earlier keys stay valid.
// The returned token is signed with the new key.
func (s *AuthService) Login(ctx context.Context, email, password string) (*models.Key, string, error) {
	user, err := s.store.GetUserByEmail(ctx, normalizeEmail(email))
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return nil, "", apperr.ErrInvalidCredentials
		}
		return nil, "", err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, "", apperr.ErrInvalidCredentials
	}

	key, err := s.Issue(ctx, user.ID)
	if err != nil {
		return nil, "", err
	}
	token, err := s.Sign(key)
	if err != nil {
		return nil, "", err
	}
	return key, token, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func validationError(err error) error {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return apperr.ErrValidation.Wrap(err)
	}

	fe := fieldErrs[0]
	var msg string
	switch fe.Tag() {
	case "required":
		msg = fmt.Sprintf("%s is required", fe.Field())
	case "email":
		msg = fmt.Sprintf("%s must be a valid email address", fe.Field())
	case "min":
		msg = fmt.Sprintf("%s must be at least %s characters", fe.Field(), fe.Param())
	case "max":
		msg = fmt.Sprintf("%s must be at most %s characters", fe.Field(), fe.Param())
	default:
		msg = fmt.Sprintf("%s is invalid", fe.Field())
	}
	return apperr.ErrValidation.WithMsg(msg)
}
