package lock

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"

	"github.com/quantapay/walletd/store"
)

func newTestManager(t *testing.T, opts ...Option) (*Manager, *miniredis.Miniredis, context.Context) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = client.Close()
		mr.Close()
	})
	return NewManager(store.NewRedisKV(client), opts...), mr, context.Background()
}

func TestAcquireSortsAndDeduplicates(t *testing.T) {
	m, mr, ctx := newTestManager(t)

	token, locked, err := m.Acquire(ctx, []string{"b", "a", "b"}, "op-1")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if token != "op-1" {
		t.Fatalf("token = %q, want operation id", token)
	}
	if len(locked) != 2 || locked[0] != "a" || locked[1] != "b" {
		t.Fatalf("locked = %v, want [a b]", locked)
	}
	for _, key := range locked {
		if got, _ := mr.Get("lock:" + key); got != "op-1" {
			t.Fatalf("lock:%s = %q, want op-1", key, got)
		}
	}
}

func TestAcquireGeneratesToken(t *testing.T) {
	m, _, ctx := newTestManager(t)
	token, _, err := m.Acquire(ctx, []string{"a"}, "")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if token == "" {
		t.Fatal("expected generated token")
	}
}

func TestAcquireEmptyKeys(t *testing.T) {
	m, _, ctx := newTestManager(t)
	if _, _, err := m.Acquire(ctx, nil, "op"); !errors.Is(err, ErrNoKeys) {
		t.Fatalf("err = %v, want ErrNoKeys", err)
	}
}

func TestAcquireIdempotentReacquire(t *testing.T) {
	m, _, ctx := newTestManager(t)

	if _, _, err := m.Acquire(ctx, []string{"a", "b"}, "op-1"); err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	// Same operation retries without an intervening release; it must not
	// block on its own locks.
	done := make(chan error, 1)
	go func() {
		_, _, err := m.Acquire(ctx, []string{"a", "b"}, "op-1")
		done <- err
	}()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("re-acquire: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("idempotent re-acquire blocked")
	}
}

func TestAcquireContentionRollsBack(t *testing.T) {
	m, mr, ctx := newTestManager(t, WithRetryDelay(time.Millisecond), WithMaxRetries(2))

	mr.Set("lock:b", "other")
	_, _, err := m.Acquire(ctx, []string{"a", "b"}, "op-1")
	if !errors.Is(err, ErrNotAcquired) {
		t.Fatalf("err = %v, want ErrNotAcquired", err)
	}
	// The partially claimed prefix must have been rolled back.
	if mr.Exists("lock:a") {
		t.Fatal("lock:a still held after failed acquisition")
	}
	if got, _ := mr.Get("lock:b"); got != "other" {
		t.Fatalf("lock:b = %q, foreign lock must survive", got)
	}
}

func TestAcquireWithRetriesOverridesBudget(t *testing.T) {
	m, mr, ctx := newTestManager(t, WithRetryDelay(time.Millisecond), WithMaxRetries(50))

	mr.Set("lock:a", "other")
	start := time.Now()
	_, _, err := m.AcquireWithRetries(ctx, []string{"a"}, "op-1", 1)
	if !errors.Is(err, ErrNotAcquired) {
		t.Fatalf("err = %v, want ErrNotAcquired", err)
	}
	if time.Since(start) > time.Second {
		t.Fatal("per-call budget not honored")
	}
}

func TestAcquireAfterTTLExpiry(t *testing.T) {
	m, mr, ctx := newTestManager(t, WithTTL(50*time.Millisecond), WithRetryDelay(time.Millisecond))

	if _, _, err := m.Acquire(ctx, []string{"a"}, "crashed-holder"); err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	mr.FastForward(100 * time.Millisecond)
	token, _, err := m.Acquire(ctx, []string{"a"}, "op-2")
	if err != nil || token != "op-2" {
		t.Fatalf("acquire after expiry: token %q err %v", token, err)
	}
}

func TestAcquireRespectsContext(t *testing.T) {
	m, mr, _ := newTestManager(t, WithRetryDelay(50*time.Millisecond), WithMaxRetries(10))

	mr.Set("lock:a", "other")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	start := time.Now()
	if _, _, err := m.Acquire(ctx, []string{"a"}, "op"); err == nil {
		t.Fatal("expected context error")
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Fatal("acquire did not respect context cancellation")
	}
}

func TestReleaseIdempotent(t *testing.T) {
	m, mr, ctx := newTestManager(t)

	token, locked, err := m.Acquire(ctx, []string{"a", "b"}, "op-1")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if err := m.Release(ctx, locked, token); err != nil {
		t.Fatalf("release: %v", err)
	}
	if mr.Exists("lock:a") || mr.Exists("lock:b") {
		t.Fatal("locks survived release")
	}
	// Releasing again is a no-op.
	if err := m.Release(ctx, locked, token); err != nil {
		t.Fatalf("second release: %v", err)
	}
}

func TestReleaseNeverDeletesForeignLock(t *testing.T) {
	m, mr, ctx := newTestManager(t)

	mr.Set("lock:a", "other")
	if err := m.Release(ctx, []string{"a"}, "op-1"); err != nil {
		t.Fatalf("release: %v", err)
	}
	if got, _ := mr.Get("lock:a"); got != "other" {
		t.Fatalf("lock:a = %q, foreign lock must survive release", got)
	}
}

func TestExtend(t *testing.T) {
	m, mr, ctx := newTestManager(t, WithTTL(time.Second))

	token, locked, err := m.Acquire(ctx, []string{"a", "b"}, "op-1")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	ok, err := m.Extend(ctx, locked, token, time.Hour)
	if err != nil || !ok {
		t.Fatalf("extend: ok %v err %v", ok, err)
	}
	if ttl := mr.TTL("lock:a"); ttl <= time.Second {
		t.Fatalf("lock:a ttl = %v, not extended", ttl)
	}

	if ok, err := m.Extend(ctx, locked, "other", time.Hour); err != nil || ok {
		t.Fatalf("extend by non-owner must fail, ok %v err %v", ok, err)
	}
}

func TestExtendPartialOwnershipFails(t *testing.T) {
	m, mr, ctx := newTestManager(t)

	token, _, err := m.Acquire(ctx, []string{"a"}, "op-1")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	mr.Set("lock:b", "other")
	if ok, err := m.Extend(ctx, []string{"a", "b"}, token, time.Minute); err != nil || ok {
		t.Fatalf("extend over a foreign key must report false, ok %v err %v", ok, err)
	}
}

func TestIsLockedAndInfo(t *testing.T) {
	m, _, ctx := newTestManager(t, WithTTL(time.Minute))

	if ok, err := m.IsLocked(ctx, "a", ""); err != nil || ok {
		t.Fatalf("unlocked key reported locked, ok %v err %v", ok, err)
	}
	if info, err := m.Info(ctx, "a"); err != nil || info != nil {
		t.Fatalf("info on unlocked key: %+v err %v", info, err)
	}

	token, _, err := m.Acquire(ctx, []string{"a"}, "op-1")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if ok, _ := m.IsLocked(ctx, "a", ""); !ok {
		t.Fatal("key not reported locked")
	}
	if ok, _ := m.IsLocked(ctx, "a", token); !ok {
		t.Fatal("owner not recognized")
	}
	if ok, _ := m.IsLocked(ctx, "a", "other"); ok {
		t.Fatal("non-owner recognized as owner")
	}

	info, err := m.Info(ctx, "a")
	if err != nil || info == nil {
		t.Fatalf("info: %+v err %v", info, err)
	}
	if info.Token != token || info.TTL <= 0 {
		t.Fatalf("info = %+v", info)
	}
}

func TestForceRelease(t *testing.T) {
	m, mr, ctx := newTestManager(t)

	mr.Set("lock:a", "whoever")
	mr.Set("lock:b", "whoever-else")
	if err := m.ForceRelease(ctx, []string{"a", "b"}); err != nil {
		t.Fatalf("force release: %v", err)
	}
	if mr.Exists("lock:a") || mr.Exists("lock:b") {
		t.Fatal("locks survived force release")
	}
}

func TestDoReleasesOnEveryPath(t *testing.T) {
	m, mr, ctx := newTestManager(t)

	if err := m.Do(ctx, []string{"a"}, "op-ok", func(context.Context) error { return nil }); err != nil {
		t.Fatalf("do: %v", err)
	}
	if mr.Exists("lock:a") {
		t.Fatal("lock held after successful Do")
	}

	wantErr := errors.New("boom")
	if err := m.Do(ctx, []string{"a"}, "op-err", func(context.Context) error { return wantErr }); !errors.Is(err, wantErr) {
		t.Fatalf("do err = %v", err)
	}
	if mr.Exists("lock:a") {
		t.Fatal("lock held after failing Do")
	}

	func() {
		defer func() { _ = recover() }()
		_ = m.Do(ctx, []string{"a"}, "op-panic", func(context.Context) error { panic("boom") })
	}()
	if mr.Exists("lock:a") {
		t.Fatal("lock held after panicking Do")
	}
}

func TestOppositeOrderAcquisitionNoDeadlock(t *testing.T) {
	m, _, ctx := newTestManager(t, WithRetryDelay(time.Millisecond), WithMaxRetries(20))

	var wg sync.WaitGroup
	errs := make([]error, 2)
	orders := [][]string{{"A", "B"}, {"B", "A"}}
	for i, keys := range orders {
		wg.Add(1)
		go func(i int, keys []string) {
			defer wg.Done()
			errs[i] = m.Do(ctx, keys, "", func(context.Context) error {
				time.Sleep(5 * time.Millisecond)
				return nil
			})
		}(i, keys)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("opposite-direction acquisitions deadlocked")
	}
	for i, err := range errs {
		if err != nil {
			t.Fatalf("operation %d: %v", i, err)
		}
	}
}
