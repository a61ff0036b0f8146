package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/xtrntr/coinledger/internal/apperr"
	"github.com/xtrntr/coinledger/internal/ledger"
	"github.com/xtrntr/coinledger/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

const uniqueViolation = "23505"

// DB wraps a PostgreSQL connection pool
type DB struct {
	Pool *pgxpool.Pool
}

// NewDB initializes a new database connection pool
func NewDB(ctx context.Context, connString string) (*DB, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to reach database: %w", err)
	}

	return &DB{Pool: pool}, nil
}

// Close closes the database connection pool
func (db *DB) Close() error {
	db.Pool.Close()
	return nil
}

// CreateUser inserts a new user together with its opening balances, plus a
// zero balance for every active coin
func (db *DB) CreateUser(ctx context.Context, name, email, passwordHash string, opening []models.Asset) (*models.User, error) {
	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	user := &models.User{}
	err = tx.QueryRow(ctx,
		"INSERT INTO users (name, email, password_hash) VALUES ($1, $2, $3) RETURNING id, name, email, password_hash, created_at",
		name, email, passwordHash).Scan(&user.ID, &user.Name, &user.Email, &user.PasswordHash, &user.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return nil, apperr.ErrDuplicateEmail
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	for _, a := range opening {
		_, err := tx.Exec(ctx,
			"INSERT INTO assets (user_id, symbol, balance) VALUES ($1, $2, $3::numeric)",
			user.ID, a.Symbol, a.Balance.String())
		if err != nil {
			return nil, fmt.Errorf("failed to seed %s balance: %w", a.Symbol, err)
		}
	}

	// Coins activated after the caller listed them. ActivateCoin holds a SHARE
	// lock on users, so the user insert above waits for any activation in
	// flight and this statement sees its coin.
	_, err = tx.Exec(ctx,
		"INSERT INTO assets (user_id, symbol, balance) SELECT $1, name, 0 FROM coins WHERE is_active ON CONFLICT (user_id, symbol) DO NOTHING",
		user.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to open coin balances: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return user, nil
}

// GetUserByEmail retrieves a user by email
func (db *DB) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	return db.getUser(ctx, "SELECT id, name, email, password_hash, created_at FROM users WHERE email = $1", email)
}

// GetUserByID retrieves a user by id
func (db *DB) GetUserByID(ctx context.Context, id int64) (*models.User, error) {
	return db.getUser(ctx, "SELECT id, name, email, password_hash, created_at FROM users WHERE id = $1", id)
}

func (db *DB) getUser(ctx context.Context, query string, arg any) (*models.User, error) {
	user := &models.User{}
	err := db.Pool.QueryRow(ctx, query, arg).Scan(&user.ID, &user.Name, &user.Email, &user.PasswordHash, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

// CreateKey stores a new session credential
func (db *DB) CreateKey(ctx context.Context, key *models.Key) error {
	_, err := db.Pool.Exec(ctx,
		"INSERT INTO keys (public_key, secret_key, user_id, issued_at) VALUES ($1, $2, $3, $4)",
		key.PublicKey, key.SecretKey, key.UserID, key.IssuedAt)
	if err != nil {
		return fmt.Errorf("failed to create key: %w", err)
	}
	return nil
}

// GetKey retrieves a session credential by its public identifier
func (db *DB) GetKey(ctx context.Context, publicKey string) (*models.Key, error) {
	key := &models.Key{}
	err := db.Pool.QueryRow(ctx,
		"SELECT public_key, secret_key, user_id, issued_at FROM keys WHERE public_key = $1",
		publicKey).Scan(&key.PublicKey, &key.SecretKey, &key.UserID, &key.IssuedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get key: %w", err)
	}
	return key, nil
}

// ListCoins returns every catalog entry, active or not
func (db *DB) ListCoins(ctx context.Context) ([]models.Coin, error) {
	rows, err := db.Pool.Query(ctx, "SELECT name, is_active FROM coins ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("failed to list coins: %w", err)
	}
	defer rows.Close()

	var coins []models.Coin
	for rows.Next() {
		var c models.Coin
		if err := rows.Scan(&c.Name, &c.Active); err != nil {
			return nil, fmt.Errorf("failed to scan coin: %w", err)
		}
		coins = append(coins, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list coins: %w", err)
	}
	return coins, nil
}

// GetCoin retrieves one catalog entry
func (db *DB) GetCoin(ctx context.Context, name string) (*models.Coin, error) {
	c := &models.Coin{}
	err := db.Pool.QueryRow(ctx, "SELECT name, is_active FROM coins WHERE name = $1", name).Scan(&c.Name, &c.Active)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get coin: %w", err)
	}
	return c, nil
}

// ActivateCoin marks a coin active and opens a zero balance for every user lacking one
func (db *DB) ActivateCoin(ctx context.Context, name string) error {
	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	// Blocks new users until commit; users inserted earlier are waited for
	if _, err := tx.Exec(ctx, "LOCK TABLE users IN SHARE MODE"); err != nil {
		return fmt.Errorf("failed to lock users: %w", err)
	}

	_, err = tx.Exec(ctx,
		"INSERT INTO coins (name, is_active) VALUES ($1, TRUE) ON CONFLICT (name) DO UPDATE SET is_active = TRUE",
		name)
	if err != nil {
		return fmt.Errorf("failed to activate coin: %w", err)
	}

	_, err = tx.Exec(ctx,
		"INSERT INTO assets (user_id, symbol, balance) SELECT id, $1, 0 FROM users ON CONFLICT (user_id, symbol) DO NOTHING",
		name)
	if err != nil {
		return fmt.Errorf("failed to open %s balances: %w", name, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// GetPair reads two balances of one user
func (db *DB) GetPair(ctx context.Context, userID int64, symA, symB string) (models.Asset, models.Asset, error) {
	if err := ledger.CheckPair(symA, symB); err != nil {
		return models.Asset{}, models.Asset{}, err
	}
	return db.pair(ctx, db.Pool, userID, symA, symB, "")
}

// Update applies fn to two balances of one user in a single transaction.
// Rows are locked in symbol order so concurrent pair updates cannot deadlock.
func (db *DB) Update(ctx context.Context, userID int64, symA, symB string, fn ledger.Mutation) (models.Asset, models.Asset, error) {
	if err := ledger.CheckPair(symA, symB); err != nil {
		return models.Asset{}, models.Asset{}, err
	}

	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return models.Asset{}, models.Asset{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	a, b, err := db.pair(ctx, tx, userID, symA, symB, " FOR UPDATE")
	if err != nil {
		return a, b, err
	}

	na, nb, err := ledger.Settle(a, b, fn)
	if err != nil {
		return a, b, err
	}

	for _, asset := range []models.Asset{na, nb} {
		tag, err := tx.Exec(ctx,
			"UPDATE assets SET balance = $1::numeric WHERE user_id = $2 AND symbol = $3",
			asset.Balance.String(), userID, asset.Symbol)
		if err != nil {
			return a, b, fmt.Errorf("failed to update %s balance: %w", asset.Symbol, err)
		}
		if tag.RowsAffected() == 0 {
			return a, b, apperr.ErrNoSuchAsset
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return a, b, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return na, nb, nil
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func (db *DB) pair(ctx context.Context, q querier, userID int64, symA, symB, lock string) (models.Asset, models.Asset, error) {
	rows, err := q.Query(ctx,
		"SELECT symbol, balance::text FROM assets WHERE user_id = $1 AND symbol = ANY($2) ORDER BY symbol"+lock,
		userID, []string{symA, symB})
	if err != nil {
		return models.Asset{}, models.Asset{}, fmt.Errorf("failed to read balances: %w", err)
	}
	found, err := scanAssets(rows, userID)
	if err != nil {
		return models.Asset{}, models.Asset{}, err
	}

	a, okA := found[symA]
	b, okB := found[symB]
	if !okA || !okB {
		return models.Asset{}, models.Asset{}, apperr.ErrNoSuchAsset
	}
	return a, b, nil
}

// Balances lists the user's non-zero balances
func (db *DB) Balances(ctx context.Context, userID int64) ([]models.Asset, error) {
	rows, err := db.Pool.Query(ctx,
		"SELECT symbol, balance::text FROM assets WHERE user_id = $1 AND balance <> 0 ORDER BY symbol",
		userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get balances: %w", err)
	}
	defer rows.Close()

	var assets []models.Asset
	for rows.Next() {
		a, err := scanAsset(rows, userID)
		if err != nil {
			return nil, err
		}
		assets = append(assets, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to get balances: %w", err)
	}
	return assets, nil
}

func scanAssets(rows pgx.Rows, userID int64) (map[string]models.Asset, error) {
	defer rows.Close()

	found := make(map[string]models.Asset, 2)
	for rows.Next() {
		a, err := scanAsset(rows, userID)
		if err != nil {
			return nil, err
		}
		found[a.Symbol] = a
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read balances: %w", err)
	}
	return found, nil
}

func scanAsset(rows pgx.Rows, userID int64) (models.Asset, error) {
	var symbol, raw string
	if err := rows.Scan(&symbol, &raw); err != nil {
		return models.Asset{}, fmt.Errorf("failed to scan balance: %w", err)
	}
	bal, err := decimal.NewFromString(raw)
	if err != nil {
		return models.Asset{}, fmt.Errorf("failed to parse %s balance %q: %w", symbol, raw, err)
	}
	return models.Asset{UserID: userID, Symbol: symbol, Balance: bal}, nil
}
