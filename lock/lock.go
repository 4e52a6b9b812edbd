package lock

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/quantapay/walletd/metrics"
	"github.com/quantapay/walletd/store"
)

const (
	keyPrefix = "lock:"

	defaultTTL        = 3000 * time.Millisecond
	defaultRetryDelay = 50 * time.Millisecond
	defaultMaxRetries = 5

	maxJitter       = 30 * time.Millisecond
	releaseAttempts = 3
	releasePause    = 10 * time.Millisecond
)

var (
	// ErrNoKeys is returned when Acquire is called with an empty key set.
	ErrNoKeys = errors.New("lock: no keys to acquire")
	// ErrNotAcquired is returned when all acquisition attempts have been
	// exhausted. No locks are held when it is returned.
	ErrNotAcquired = errors.New("lock: not acquired")
)

// Info describes a live lock on a single resource key.
type Info struct {
	Key   string
	Token string
	TTL   time.Duration
}

// Manager acquires, extends and releases leases over sets of resource keys.
type Manager struct {
	kv         store.KV
	ttl        time.Duration
	retryDelay time.Duration
	maxRetries int
	logger     *slog.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithTTL sets the lease time-to-live applied on acquisition.
func WithTTL(d time.Duration) Option {
	return func(m *Manager) { m.ttl = d }
}

// WithRetryDelay sets the base delay of the exponential backoff.
func WithRetryDelay(d time.Duration) Option {
	return func(m *Manager) { m.retryDelay = d }
}

// WithMaxRetries sets the number of acquisition attempts.
func WithMaxRetries(n int) Option {
	return func(m *Manager) { m.maxRetries = n }
}

// WithLogger sets the logger used for lock lifecycle events.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// NewManager returns a Manager coordinating through kv.
func NewManager(kv store.KV, opts ...Option) *Manager {
	m := &Manager{
		kv:         kv,
		ttl:        defaultTTL,
		retryDelay: defaultRetryDelay,
		maxRetries: defaultMaxRetries,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// TTL returns the configured lease time-to-live.
func (m *Manager) TTL() time.Duration {
	return m.ttl
}

func lockKey(key string) string {
	return keyPrefix + key
}

func sortedUnique(keys []string) []string {
	seen := make(map[string]struct{}, len(keys))
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Acquire obtains leases on every key, walking them in sorted order. The
// returned token identifies the owner and must be presented to Release and
// Extend. If operationID is non-empty it becomes the token, making a retried
// acquisition by the same operation succeed without re-locking. On failure no
// locks are held.
func (m *Manager) Acquire(ctx context.Context, keys []string, operationID string) (string, []string, error) {
	return m.AcquireWithRetries(ctx, keys, operationID, m.maxRetries)
}

// AcquireWithRetries is Acquire with a per-call attempt budget.
func (m *Manager) AcquireWithRetries(ctx context.Context, keys []string, operationID string, maxRetries int) (string, []string, error) {
	if len(keys) == 0 {
		return "", nil, ErrNoKeys
	}
	token := operationID
	if token == "" {
		token = uuid.NewString()
	}
	sorted := sortedUnique(keys)

	for attempt := 0; attempt < maxRetries; attempt++ {
		held, err := m.holdsAll(ctx, sorted, token)
		if err != nil {
			return "", nil, err
		}
		if held {
			m.logger.Debug("operation already holds all locks", "token", token, "keys", len(sorted))
			metrics.LockAcquireTotal.WithLabelValues("idempotent").Inc()
			return token, sorted, nil
		}

		var locked []string
		acquiredAll := true
		for _, key := range sorted {
			ok, err := m.kv.SetIfAbsent(ctx, lockKey(key), token, m.ttl)
			if err != nil {
				_ = m.Release(context.Background(), locked, token)
				return "", nil, err
			}
			if ok {
				locked = append(locked, key)
				continue
			}
			owner, found, err := m.kv.Get(ctx, lockKey(key))
			if err != nil {
				_ = m.Release(context.Background(), locked, token)
				return "", nil, err
			}
			if found && owner == token {
				// A prior attempt in this loop already claimed it.
				locked = append(locked, key)
				continue
			}
			_ = m.Release(ctx, locked, token)
			acquiredAll = false
			break
		}
		if acquiredAll {
			metrics.LockAcquireTotal.WithLabelValues("acquired").Inc()
			return token, sorted, nil
		}

		metrics.LockRetriesTotal.Inc()
		select {
		case <-ctx.Done():
			return "", nil, ctx.Err()
		case <-time.After(m.backoff(attempt)):
		}
	}

	m.logger.Warn("failed to acquire locks", "token", token, "attempts", maxRetries)
	metrics.LockAcquireTotal.WithLabelValues("exhausted").Inc()
	return "", nil, ErrNotAcquired
}

// backoff returns the jittered exponential delay for the given attempt.
func (m *Manager) backoff(attempt int) time.Duration {
	return m.retryDelay<<attempt + time.Duration(rand.Int63n(int64(maxJitter)))
}

// holdsAll reports whether token currently owns every key.
func (m *Manager) holdsAll(ctx context.Context, keys []string, token string) (bool, error) {
	for _, key := range keys {
		owner, found, err := m.kv.Get(ctx, lockKey(key))
		if err != nil {
			return false, err
		}
		if !found || owner != token {
			return false, nil
		}
	}
	return true, nil
}

// Release drops the leases held by token. Keys that are already unlocked, or
// that are now owned by a different token, are left untouched. Conflicting
// concurrent modifications are retried a bounded number of times and then
// abandoned; an unreleased lease still expires via its TTL.
func (m *Manager) Release(ctx context.Context, keys []string, token string) error {
	if len(keys) == 0 || token == "" {
		return nil
	}
	var firstErr error
	for _, key := range keys {
		if err := m.releaseKey(ctx, key, token); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (m *Manager) releaseKey(ctx context.Context, key, token string) error {
	for attempt := 0; attempt < releaseAttempts; attempt++ {
		_, err := m.kv.CompareAndDelete(ctx, lockKey(key), token)
		if err == nil {
			return nil
		}
		if !errors.Is(err, store.ErrTxConflict) {
			return err
		}
		metrics.StoreTxConflictsTotal.Inc()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(releasePause):
		}
	}
	// Best effort: the lease self-expires.
	m.logger.Warn("giving up on contended release", "key", key)
	return nil
}

// Extend resets the lease expiry on every key to additional from now,
// verifying ownership per key. It reports true only if all keys were
// extended. A non-positive additional uses the configured TTL.
func (m *Manager) Extend(ctx context.Context, keys []string, token string, additional time.Duration) (bool, error) {
	if len(keys) == 0 || token == "" {
		return false, nil
	}
	if additional <= 0 {
		additional = m.ttl
	}
	extended := 0
	for _, key := range keys {
		ok, err := m.kv.CompareAndExpire(ctx, lockKey(key), token, additional)
		if errors.Is(err, store.ErrTxConflict) {
			metrics.StoreTxConflictsTotal.Inc()
			continue
		}
		if err != nil {
			return false, err
		}
		if ok {
			extended++
		} else {
			m.logger.Warn("cannot extend lock, not owner or expired", "key", key)
		}
	}
	return extended == len(keys), nil
}

// IsLocked reports whether key is locked. A non-empty token additionally
// verifies ownership.
func (m *Manager) IsLocked(ctx context.Context, key, token string) (bool, error) {
	owner, found, err := m.kv.Get(ctx, lockKey(key))
	if err != nil {
		return false, err
	}
	if !found {
		return false, nil
	}
	if token != "" {
		return owner == token, nil
	}
	return true, nil
}

// Info returns the owner token and remaining TTL of the lock on key, or nil
// if key is not locked.
func (m *Manager) Info(ctx context.Context, key string) (*Info, error) {
	owner, found, err := m.kv.Get(ctx, lockKey(key))
	if err != nil || !found {
		return nil, err
	}
	ttl, hasTTL, err := m.kv.TTL(ctx, lockKey(key))
	if err != nil || !hasTTL {
		return nil, err
	}
	return &Info{Key: key, Token: owner, TTL: ttl}, nil
}

// ForceRelease deletes the locks on keys without any ownership check. It is
// an operator escape hatch only: under concurrent legitimate ownership it
// destroys another holder's lease.
func (m *Manager) ForceRelease(ctx context.Context, keys []string) error {
	lockKeys := make([]string, len(keys))
	for i, key := range keys {
		lockKeys[i] = lockKey(key)
	}
	if err := m.kv.Delete(ctx, lockKeys...); err != nil {
		return err
	}
	m.logger.Warn("force released locks", "keys", len(keys))
	return nil
}

// Do runs fn while holding leases on keys, releasing them on every exit path
// including a panic inside fn.
func (m *Manager) Do(ctx context.Context, keys []string, operationID string, fn func(ctx context.Context) error) error {
	token, locked, err := m.Acquire(ctx, keys, operationID)
	if err != nil {
		return err
	}
	defer func() {
		_ = m.Release(context.Background(), locked, token)
	}()
	return fn(ctx)
}
