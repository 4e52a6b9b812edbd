package wallet

import "errors"

var (
	// ErrWalletNotFound is returned when a wallet record is missing.
	ErrWalletNotFound = errors.New("wallet: not found")
	// ErrInsufficientFunds is returned when the sender balance is below the
	// requested amount.
	ErrInsufficientFunds = errors.New("wallet: insufficient funds")
	// ErrSameUser is returned for a transfer whose sender and recipient are
	// the same account.
	ErrSameUser = errors.New("wallet: cannot transfer to self")
	// ErrInvalidAmount is returned for amounts that are not positive, carry
	// more than two decimal places, or exceed the magnitude bound.
	ErrInvalidAmount = errors.New("wallet: invalid amount")
	// ErrUnsupportedCurrency is returned for currencies outside the
	// supported set.
	ErrUnsupportedCurrency = errors.New("wallet: unsupported currency")
	// ErrInvalidUser is returned for empty or malformed user identifiers.
	ErrInvalidUser = errors.New("wallet: invalid user id")
	// ErrLockNotAcquired is returned when the account locks could not be
	// obtained within the configured retries.
	ErrLockNotAcquired = errors.New("wallet: lock not acquired")
)
