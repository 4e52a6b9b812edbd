package wallet

import (
	"fmt"
	"regexp"

	"github.com/shopspring/decimal"
)

// Supported currencies.
const (
	CurrencyUSD = "USD"
	CurrencyEUR = "EUR"
	CurrencyGBP = "GBP"
)

const maxAmountDigits = 18

var userIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// SupportedCurrency reports whether c is one of the accepted currencies.
func SupportedCurrency(c string) bool {
	switch c {
	case CurrencyUSD, CurrencyEUR, CurrencyGBP:
		return true
	}
	return false
}

// TransferRequest is an inbound request to move funds between two users.
type TransferRequest struct {
	TransferID     string          `json:"transfer_id"`
	FromUser       string          `json:"from_user"`
	ToUser         string          `json:"to_user"`
	Amount         decimal.Decimal `json:"amount"`
	Currency       string          `json:"currency"`
	IdempotencyKey string          `json:"idempotency_key"`
}

// Normalize fills defaults: a missing idempotency key falls back to the
// transfer id and a missing currency to USD.
func (r *TransferRequest) Normalize() {
	if r.IdempotencyKey == "" {
		r.IdempotencyKey = r.TransferID
	}
	if r.Currency == "" {
		r.Currency = CurrencyUSD
	}
}

// Validate checks the request without touching the store.
func (r TransferRequest) Validate() error {
	if r.FromUser == "" || !userIDPattern.MatchString(r.FromUser) {
		return fmt.Errorf("%w: from_user %q", ErrInvalidUser, r.FromUser)
	}
	if r.ToUser == "" || !userIDPattern.MatchString(r.ToUser) {
		return fmt.Errorf("%w: to_user %q", ErrInvalidUser, r.ToUser)
	}
	if r.FromUser == r.ToUser {
		return ErrSameUser
	}
	if !r.Amount.IsPositive() {
		return fmt.Errorf("%w: %s is not positive", ErrInvalidAmount, r.Amount)
	}
	if r.Amount.Exponent() < -2 {
		return fmt.Errorf("%w: %s has more than 2 decimal places", ErrInvalidAmount, r.Amount)
	}
	if r.Amount.NumDigits() > maxAmountDigits {
		return fmt.Errorf("%w: %s exceeds %d digits", ErrInvalidAmount, r.Amount, maxAmountDigits)
	}
	if !SupportedCurrency(r.Currency) {
		return fmt.Errorf("%w: %q", ErrUnsupportedCurrency, r.Currency)
	}
	return nil
}

// Transfer completion statuses.
const (
	StatusCompleted = "COMPLETED"
	StatusFailed    = "FAILED"
)

// TransferCompleted is the outbound event published after a transfer attempt.
type TransferCompleted struct {
	TransferID  string          `json:"transfer_id"`
	Status      string          `json:"status"`
	ProcessedAt float64         `json:"processed_at"`
	FromUser    string          `json:"from_user"`
	ToUser      string          `json:"to_user"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
}
