package wallet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quantapay/walletd/lock"
	"github.com/quantapay/walletd/metrics"
)

// Reason tags the failure category of a transfer attempt.
type Reason string

// Failure reasons carried by Result.
const (
	ReasonNone              Reason = ""
	ReasonValidation        Reason = "validation"
	ReasonLock              Reason = "lock"
	ReasonNotFound          Reason = "not_found"
	ReasonInsufficientFunds Reason = "insufficient_funds"
	ReasonInternal          Reason = "internal"
)

// Result is the outcome of one transfer attempt.
type Result struct {
	TransferID string
	Status     string
	Reason     Reason
	Err        error
}

// OK reports whether the transfer completed.
func (r Result) OK() bool {
	return r.Status == StatusCompleted
}

func failed(reason Reason, err error) Result {
	return Result{Status: StatusFailed, Reason: reason, Err: err}
}

// Engine coordinates atomic balance transfers between two accounts. It
// guarantees exclusivity through the lock manager and visibility through the
// paired atomic balance write; it does not check that the stored wallet
// currency matches the requested one.
type Engine struct {
	store  *Store
	locks  *lock.Manager
	logger *slog.Logger
}

// NewEngine returns an Engine using store for balances and locks for mutual
// exclusion. A nil logger falls back to slog.Default.
func NewEngine(store *Store, locks *lock.Manager, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{store: store, locks: locks, logger: logger}
}

// Transfer moves amount from fromUser to toUser. The amount is rounded
// half-up to two decimal places before validation. operationID, when
// non-empty, doubles as the lock token so a retried call does not contend
// with its own earlier attempt. The locks are released on every exit path;
// an unreleased lease after a crash self-expires via its TTL.
func (e *Engine) Transfer(ctx context.Context, fromUser, toUser string, amount decimal.Decimal, operationID string) Result {
	start := time.Now()
	res := e.transfer(ctx, fromUser, toUser, amount.Round(2), operationID)
	metrics.TransferDuration.Observe(time.Since(start).Seconds())
	if res.OK() {
		metrics.TransfersTotal.WithLabelValues("completed").Inc()
		e.logger.Info("transfer completed",
			"from", fromUser, "to", toUser, "amount", amount.Round(2).StringFixed(2), "operation_id", operationID)
	} else {
		metrics.TransfersTotal.WithLabelValues(string(res.Reason)).Inc()
		e.logger.Warn("transfer failed",
			"from", fromUser, "to", toUser, "reason", string(res.Reason), "err", res.Err)
	}
	return res
}

func (e *Engine) transfer(ctx context.Context, fromUser, toUser string, amount decimal.Decimal, operationID string) Result {
	if !amount.IsPositive() {
		return failed(ReasonValidation, fmt.Errorf("%w: %s is not positive", ErrInvalidAmount, amount))
	}
	if fromUser == toUser {
		return failed(ReasonValidation, ErrSameUser)
	}

	var res Result
	err := e.locks.Do(ctx, []string{fromUser, toUser}, operationID, func(ctx context.Context) error {
		from, to, err := e.store.pairBalances(ctx, fromUser, toUser)
		if errors.Is(err, ErrWalletNotFound) {
			res = failed(ReasonNotFound, err)
			return nil
		}
		if err != nil {
			res = failed(ReasonInternal, err)
			return nil
		}
		if from.LessThan(amount) {
			res = failed(ReasonInsufficientFunds,
				fmt.Errorf("%w: %s has %s, needs %s", ErrInsufficientFunds, fromUser, from, amount))
			return nil
		}
		if err := e.store.applyTransfer(ctx, fromUser, toUser, from.Sub(amount), to.Add(amount)); err != nil {
			res = failed(ReasonInternal, err)
			return nil
		}
		res = Result{Status: StatusCompleted}
		return nil
	})
	if errors.Is(err, lock.ErrNotAcquired) {
		return failed(ReasonLock, fmt.Errorf("%w: %s/%s", ErrLockNotAcquired, fromUser, toUser))
	}
	if err != nil {
		return failed(ReasonInternal, err)
	}
	return res
}

// Process runs a full inbound request: normalization, request validation and
// the transfer itself, using the request's idempotency key as the operation
// token. Validation failures never reach the store.
func (e *Engine) Process(ctx context.Context, req TransferRequest) Result {
	req.Normalize()
	if err := req.Validate(); err != nil {
		metrics.TransfersTotal.WithLabelValues(string(ReasonValidation)).Inc()
		e.logger.Warn("transfer rejected", "transfer_id", req.TransferID, "err", err)
		return Result{TransferID: req.TransferID, Status: StatusFailed, Reason: ReasonValidation, Err: err}
	}
	res := e.Transfer(ctx, req.FromUser, req.ToUser, req.Amount, req.IdempotencyKey)
	res.TransferID = req.TransferID
	return res
}

// Completed builds the outbound completion event for a processed request.
func Completed(req TransferRequest, res Result) TransferCompleted {
	status := StatusFailed
	if res.OK() {
		status = StatusCompleted
	}
	return TransferCompleted{
		TransferID:  req.TransferID,
		Status:      status,
		ProcessedAt: float64(time.Now().UnixNano()) / float64(time.Second),
		FromUser:    req.FromUser,
		ToUser:      req.ToUser,
		Amount:      req.Amount,
		Currency:    req.Currency,
	}
}
