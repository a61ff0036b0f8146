// Package kv is an embedded ledger store on Badger. Pair updates run in
// optimistic transactions that are retried when Badger reports a conflict.
package kv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/shopspring/decimal"
	"github.com/xtrntr/coinledger/internal/apperr"
	"github.com/xtrntr/coinledger/internal/ledger"
	"github.com/xtrntr/coinledger/internal/models"
)

const (
	userSeqKey   = "seq/user"
	userPrefix   = "user/"
	emailPrefix  = "email/"
	keyPrefix    = "key/"
	coinPrefix   = "coin/"
	assetPrefix  = "asset/"
	rosterKey    = "meta/roster"
	seqBandwidth = 100
)

type Options struct {
	Path     string
	InMemory bool
}

type Store struct {
	db    *badger.DB
	users *badger.Sequence
}

// userRecord is the stored form of models.User, which hides its hash from JSON
type userRecord struct {
	ID           int64     `json:"id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"password_hash"`
	CreatedAt    time.Time `json:"created_at"`
}

type keyRecord struct {
	SecretKey string    `json:"secret_key"`
	UserID    int64     `json:"user_id"`
	IssuedAt  time.Time `json:"issued_at"`
}

func Open(opts Options) (*Store, error) {
	const op = "kv.Open"

	if !opts.InMemory && strings.TrimSpace(opts.Path) == "" {
		return nil, fmt.Errorf("%s: path is required", op)
	}
	bopts := badger.DefaultOptions(opts.Path).WithLogger(nil)
	if opts.InMemory {
		bopts = badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	}

	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	seq, err := db.GetSequence([]byte(userSeqKey), seqBandwidth)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &Store{db: db, users: seq}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	if err := s.users.Release(); err != nil {
		_ = s.db.Close()
		return err
	}
	return s.db.Close()
}

// update runs fn in a read-write transaction, retrying on conflict until ctx is done.
// fn must reset any state it captures since it may run more than once.
func (s *Store) update(ctx context.Context, fn func(txn *badger.Txn) error) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
	}
}

func userKey(id int64) []byte { return []byte(fmt.Sprintf("%s%020d", userPrefix, id)) }

func assetKey(userID int64, symbol string) []byte {
	return []byte(fmt.Sprintf("%s%020d/%s", assetPrefix, userID, symbol))
}

func getJSON(txn *badger.Txn, key []byte, out any) error {
	item, err := txn.Get(key)
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return apperr.ErrNotFound
		}
		return err
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, out)
	})
}

func setJSON(txn *badger.Txn, key []byte, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return txn.Set(key, b)
}

// touchRoster reads and rewrites the roster key. User creation and coin
// activation both call it, so when they overlap one of them conflicts and
// retries after the other has committed.
func touchRoster(txn *badger.Txn) error {
	if _, err := txn.Get([]byte(rosterKey)); err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
		return err
	}
	return txn.Set([]byte(rosterKey), nil)
}

func exists(txn *badger.Txn, key []byte) (bool, error) {
	_, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	return err == nil, err
}

// CreateUser inserts a new user together with its opening balances, plus a
// zero balance for every coin active when the transaction commits
func (s *Store) CreateUser(ctx context.Context, name, email, passwordHash string, opening []models.Asset) (*models.User, error) {
	const op = "kv.CreateUser"

	next, err := s.users.Next()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	rec := userRecord{ID: int64(next) + 1, Name: name, Email: email, PasswordHash: passwordHash, CreatedAt: time.Now().UTC()}

	err = s.update(ctx, func(txn *badger.Txn) error {
		if err := touchRoster(txn); err != nil {
			return err
		}
		taken, err := exists(txn, []byte(emailPrefix+email))
		if err != nil {
			return err
		}
		if taken {
			return apperr.ErrDuplicateEmail
		}
		if err := setJSON(txn, userKey(rec.ID), rec); err != nil {
			return err
		}
		if err := txn.Set([]byte(emailPrefix+email), []byte(strconv.FormatInt(rec.ID, 10))); err != nil {
			return err
		}
		seeded := make(map[string]bool, len(opening))
		for _, a := range opening {
			if err := txn.Set(assetKey(rec.ID, a.Symbol), []byte(a.Balance.String())); err != nil {
				return err
			}
			seeded[a.Symbol] = true
		}

		coins, err := activeCoins(txn)
		if err != nil {
			return err
		}
		for _, name := range coins {
			if seeded[name] {
				continue
			}
			if err := txn.Set(assetKey(rec.ID, name), []byte("0")); err != nil {
				return err
			}
		}
		return nil
	})
	if errors.Is(err, apperr.ErrDuplicateEmail) {
		return nil, apperr.ErrDuplicateEmail
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return rec.user(), nil
}

func (r userRecord) user() *models.User {
	return &models.User{ID: r.ID, Name: r.Name, Email: r.Email, PasswordHash: r.PasswordHash, CreatedAt: r.CreatedAt}
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	const op = "kv.GetUserByEmail"

	var rec userRecord
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(emailPrefix + email))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return apperr.ErrNotFound
			}
			return err
		}
		raw, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		id, err := strconv.ParseInt(string(raw), 10, 64)
		if err != nil {
			return err
		}
		return getJSON(txn, userKey(id), &rec)
	})
	if errors.Is(err, apperr.ErrNotFound) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return rec.user(), nil
}

func (s *Store) GetUserByID(ctx context.Context, id int64) (*models.User, error) {
	const op = "kv.GetUserByID"

	var rec userRecord
	err := s.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, userKey(id), &rec)
	})
	if errors.Is(err, apperr.ErrNotFound) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return rec.user(), nil
}

func (s *Store) CreateKey(ctx context.Context, key *models.Key) error {
	const op = "kv.CreateKey"

	err := s.update(ctx, func(txn *badger.Txn) error {
		return setJSON(txn, []byte(keyPrefix+key.PublicKey), keyRecord{
			SecretKey: key.SecretKey,
			UserID:    key.UserID,
			IssuedAt:  key.IssuedAt,
		})
	})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (s *Store) GetKey(ctx context.Context, publicKey string) (*models.Key, error) {
	const op = "kv.GetKey"

	var rec keyRecord
	err := s.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, []byte(keyPrefix+publicKey), &rec)
	})
	if errors.Is(err, apperr.ErrNotFound) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &models.Key{PublicKey: publicKey, SecretKey: rec.SecretKey, UserID: rec.UserID, IssuedAt: rec.IssuedAt}, nil
}

func listCoins(txn *badger.Txn) ([]models.Coin, error) {
	var coins []models.Coin
	it := txn.NewIterator(badger.IteratorOptions{Prefix: []byte(coinPrefix), PrefetchValues: true, PrefetchSize: 16})
	defer it.Close()
	for it.Rewind(); it.Valid(); it.Next() {
		var c models.Coin
		if err := it.Item().Value(func(val []byte) error { return json.Unmarshal(val, &c) }); err != nil {
			return nil, err
		}
		coins = append(coins, c)
	}
	return coins, nil
}

func activeCoins(txn *badger.Txn) ([]string, error) {
	coins, err := listCoins(txn)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, c := range coins {
		if c.Active {
			names = append(names, c.Name)
		}
	}
	return names, nil
}

func (s *Store) ListCoins(ctx context.Context) ([]models.Coin, error) {
	const op = "kv.ListCoins"

	var coins []models.Coin
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		coins, err = listCoins(txn)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return coins, nil
}

func (s *Store) GetCoin(ctx context.Context, name string) (*models.Coin, error) {
	const op = "kv.GetCoin"

	var c models.Coin
	err := s.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, []byte(coinPrefix+name), &c)
	})
	if errors.Is(err, apperr.ErrNotFound) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &c, nil
}

// ActivateCoin marks a coin active and opens a zero balance for every user lacking one
func (s *Store) ActivateCoin(ctx context.Context, name string) error {
	const op = "kv.ActivateCoin"

	err := s.update(ctx, func(txn *badger.Txn) error {
		if err := touchRoster(txn); err != nil {
			return err
		}
		if err := setJSON(txn, []byte(coinPrefix+name), models.Coin{Name: name, Active: true}); err != nil {
			return err
		}

		var ids []int64
		it := txn.NewIterator(badger.IteratorOptions{Prefix: []byte(userPrefix)})
		for it.Rewind(); it.Valid(); it.Next() {
			id, err := strconv.ParseInt(strings.TrimPrefix(string(it.Item().Key()), userPrefix), 10, 64)
			if err != nil {
				it.Close()
				return err
			}
			ids = append(ids, id)
		}
		it.Close()

		for _, id := range ids {
			ok, err := exists(txn, assetKey(id, name))
			if err != nil {
				return err
			}
			if ok {
				continue
			}
			if err := txn.Set(assetKey(id, name), []byte("0")); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func getAsset(txn *badger.Txn, userID int64, symbol string) (models.Asset, error) {
	item, err := txn.Get(assetKey(userID, symbol))
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return models.Asset{}, apperr.ErrNoSuchAsset
		}
		return models.Asset{}, err
	}
	raw, err := item.ValueCopy(nil)
	if err != nil {
		return models.Asset{}, err
	}
	bal, err := decimal.NewFromString(string(raw))
	if err != nil {
		return models.Asset{}, fmt.Errorf("corrupt %s balance %q: %w", symbol, raw, err)
	}
	return models.Asset{UserID: userID, Symbol: symbol, Balance: bal}, nil
}

func (s *Store) GetPair(ctx context.Context, userID int64, symA, symB string) (models.Asset, models.Asset, error) {
	const op = "kv.GetPair"

	if err := ledger.CheckPair(symA, symB); err != nil {
		return models.Asset{}, models.Asset{}, err
	}

	var a, b models.Asset
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		if a, err = getAsset(txn, userID, symA); err != nil {
			return err
		}
		b, err = getAsset(txn, userID, symB)
		return err
	})
	if errors.Is(err, apperr.ErrNoSuchAsset) {
		return a, b, apperr.ErrNoSuchAsset
	}
	if err != nil {
		return a, b, fmt.Errorf("%s: %w", op, err)
	}
	return a, b, nil
}

// Update applies fn to two balances of one user. Both keys are read inside
// the transaction so a concurrent writer to either causes a conflict and a retry.
func (s *Store) Update(ctx context.Context, userID int64, symA, symB string, fn ledger.Mutation) (models.Asset, models.Asset, error) {
	const op = "kv.Update"

	if err := ledger.CheckPair(symA, symB); err != nil {
		return models.Asset{}, models.Asset{}, err
	}

	var na, nb models.Asset
	err := s.update(ctx, func(txn *badger.Txn) error {
		a, err := getAsset(txn, userID, symA)
		if err != nil {
			return err
		}
		b, err := getAsset(txn, userID, symB)
		if err != nil {
			return err
		}

		na, nb, err = ledger.Settle(a, b, fn)
		if err != nil {
			return err
		}
		if err := txn.Set(assetKey(userID, symA), []byte(na.Balance.String())); err != nil {
			return err
		}
		return txn.Set(assetKey(userID, symB), []byte(nb.Balance.String()))
	})
	if err != nil {
		var appErr *apperr.Error
		if errors.As(err, &appErr) {
			return na, nb, err
		}
		return na, nb, fmt.Errorf("%s: %w", op, err)
	}
	return na, nb, nil
}

// Balances lists the user's non-zero balances ordered by symbol
func (s *Store) Balances(ctx context.Context, userID int64) ([]models.Asset, error) {
	const op = "kv.Balances"

	prefix := []byte(fmt.Sprintf("%s%020d/", assetPrefix, userID))
	var assets []models.Asset
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: prefix, PrefetchValues: true, PrefetchSize: 16})
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			symbol := strings.TrimPrefix(string(item.Key()), string(prefix))
			raw, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			bal, err := decimal.NewFromString(string(raw))
			if err != nil {
				return fmt.Errorf("corrupt %s balance %q: %w", symbol, raw, err)
			}
			if bal.IsZero() {
				continue
			}
			assets = append(assets, models.Asset{UserID: userID, Symbol: symbol, Balance: bal})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return assets, nil
}
