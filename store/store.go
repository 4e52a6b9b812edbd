// Package store defines the key-value primitives the lock manager and the
// transfer pipeline coordinate through, together with a Redis implementation.
// Conditional writes (CompareAndDelete, CompareAndExpire) follow an optimistic
// read-modify-write discipline: callers must be prepared for ErrTxConflict
// when a concurrent writer invalidates the transaction.
package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrTxConflict is returned when a conditional operation lost a race
	// against a concurrent modification of the watched key.
	ErrTxConflict = errors.New("store: transaction conflict")
	// ErrConnectionClosed is returned when the underlying client is closed.
	ErrConnectionClosed = errors.New("store: connection closed")
)

// KV is the coordination substrate used by the lock manager.
type KV interface {
	// SetIfAbsent writes key only if it does not exist, with the given
	// expiry. It reports whether the write took place.
	SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error)

	// Get returns the current value of key. A missing key is reported as
	// ("", false, nil).
	Get(ctx context.Context, key string) (string, bool, error)

	// Delete removes keys unconditionally.
	Delete(ctx context.Context, keys ...string) error

	// CompareAndDelete removes key only if its current value equals expect.
	// A missing key or a different value is a no-op reported as false with
	// a nil error. ErrTxConflict is returned if key changed mid-flight.
	CompareAndDelete(ctx context.Context, key, expect string) (bool, error)

	// CompareAndExpire resets the expiry of key only if its current value
	// equals expect, with the same semantics as CompareAndDelete.
	CompareAndExpire(ctx context.Context, key, expect string, ttl time.Duration) (bool, error)

	// TTL returns the remaining lifetime of key. Keys that are absent or
	// have no expiry are reported as (0, false, nil).
	TTL(ctx context.Context, key string) (time.Duration, bool, error)
}
