// Package wallet implements the account model and the atomic two-party
// balance transfer engine. Account records live in the shared Redis store at
// wallet:{user_id}; all balance mutation goes through Engine.Transfer while
// holding the accounts' locks.
package wallet

import (
	"context"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

const (
	walletKeyPrefix = "wallet:"

	fieldWalletID  = "wallet_id"
	fieldUserID    = "user_id"
	fieldBalance   = "balance"
	fieldCurrency  = "currency"
	fieldCreatedAt = "created_at"
	fieldStatus    = "status"

	defaultStoreOpTimeout = 5 * time.Second
)

// Account is a wallet record as stored in the wallet:{user_id} hash.
type Account struct {
	WalletID  string
	UserID    string
	Balance   decimal.Decimal
	Currency  string
	CreatedAt string
	Status    string
}

// Store provides access to account records.
type Store struct {
	client  *redis.Client
	timeout time.Duration
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithStoreTimeout sets the operation timeout for Redis calls.
func WithStoreTimeout(d time.Duration) StoreOption {
	return func(s *Store) { s.timeout = d }
}

// NewStore returns a Store backed by the provided Redis client.
func NewStore(client *redis.Client, opts ...StoreOption) *Store {
	s := &Store{client: client, timeout: defaultStoreOpTimeout}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func walletKey(userID string) string {
	return walletKeyPrefix + userID
}

// Create provisions a wallet with an initial balance. It never overwrites an
// existing record and reports whether a record was created.
func (s *Store) Create(ctx context.Context, userID string, initial decimal.Decimal) (bool, error) {
	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	key := walletKey(userID)
	exists, err := s.client.Exists(cctx, key).Result()
	if err != nil {
		return false, err
	}
	if exists > 0 {
		return false, nil
	}
	err = s.client.HSet(cctx, key, map[string]interface{}{
		fieldWalletID:  "wallet_" + userID,
		fieldUserID:    userID,
		fieldBalance:   initial.Round(2).StringFixed(2),
		fieldCurrency:  CurrencyUSD,
		fieldCreatedAt: time.Now().UTC().Format(time.RFC3339),
		fieldStatus:    "active",
	}).Err()
	if err != nil {
		return false, err
	}
	return true, nil
}

// Account returns the full wallet record for userID.
func (s *Store) Account(ctx context.Context, userID string) (*Account, error) {
	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	fields, err := s.client.HGetAll(cctx, walletKey(userID)).Result()
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, ErrWalletNotFound
	}
	balance, err := decimal.NewFromString(fields[fieldBalance])
	if err != nil {
		return nil, err
	}
	return &Account{
		WalletID:  fields[fieldWalletID],
		UserID:    fields[fieldUserID],
		Balance:   balance,
		Currency:  fields[fieldCurrency],
		CreatedAt: fields[fieldCreatedAt],
		Status:    fields[fieldStatus],
	}, nil
}

// Balance returns the current balance of userID. It is safe to call without
// holding the account's lock; the paired write in applyTransfer guarantees a
// reader never observes a half-applied transfer.
func (s *Store) Balance(ctx context.Context, userID string) (decimal.Decimal, error) {
	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	val, err := s.client.HGet(cctx, walletKey(userID), fieldBalance).Result()
	if err == redis.Nil {
		return decimal.Zero, ErrWalletNotFound
	}
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromString(val)
}

// pairBalances loads the balances of both parties of a transfer.
func (s *Store) pairBalances(ctx context.Context, fromUser, toUser string) (decimal.Decimal, decimal.Decimal, error) {
	from, err := s.Balance(ctx, fromUser)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	to, err := s.Balance(ctx, toUser)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	return from, to, nil
}

// applyTransfer writes both new balances in a single MULTI/EXEC transaction
// so no reader can observe one side updated without the other.
func (s *Store) applyTransfer(ctx context.Context, fromUser, toUser string, fromBalance, toBalance decimal.Decimal) error {
	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	pipe := s.client.TxPipeline()
	pipe.HSet(cctx, walletKey(fromUser), fieldBalance, fromBalance.StringFixed(2))
	pipe.HSet(cctx, walletKey(toUser), fieldBalance, toBalance.StringFixed(2))
	_, err := pipe.Exec(cctx)
	return err
}
