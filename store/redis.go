package store

import (
	"context"
	stdErrors "errors"
	"time"

	redis "github.com/redis/go-redis/v9"
)

const defaultRedisOpTimeout = 5 * time.Second

// RedisKV implements KV using a Redis backend.
type RedisKV struct {
	client  *redis.Client
	timeout time.Duration
}

// RedisOption configures a RedisKV.
type RedisOption func(*redisKVOptions)

type redisKVOptions struct {
	timeout time.Duration
}

// WithTimeout sets the operation timeout for Redis calls.
func WithTimeout(d time.Duration) RedisOption {
	return func(o *redisKVOptions) {
		o.timeout = d
	}
}

// NewRedisKV returns a new RedisKV using the provided Redis client.
func NewRedisKV(client *redis.Client, opts ...RedisOption) *RedisKV {
	o := redisKVOptions{timeout: defaultRedisOpTimeout}
	for _, opt := range opts {
		opt(&o)
	}
	return &RedisKV{client: client, timeout: o.timeout}
}

func mapErr(err error) error {
	if stdErrors.Is(err, redis.ErrClosed) {
		return ErrConnectionClosed
	}
	return err
}

// SetIfAbsent implements KV.SetIfAbsent using SET NX PX.
func (s *RedisKV) SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	ok, err := s.client.SetNX(cctx, key, value, ttl).Result()
	if err != nil {
		return false, mapErr(err)
	}
	return ok, nil
}

// Get implements KV.Get.
func (s *RedisKV) Get(ctx context.Context, key string) (string, bool, error) {
	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	val, err := s.client.Get(cctx, key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, mapErr(err)
	}
	return val, true, nil
}

// Delete implements KV.Delete.
func (s *RedisKV) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.client.Del(cctx, keys...).Err(); err != nil {
		return mapErr(err)
	}
	return nil
}

// CompareAndDelete implements KV.CompareAndDelete using WATCH/MULTI/EXEC.
func (s *RedisKV) CompareAndDelete(ctx context.Context, key, expect string) (bool, error) {
	return s.watchThen(ctx, key, expect, func(cctx context.Context, pipe redis.Pipeliner) {
		pipe.Del(cctx, key)
	})
}

// CompareAndExpire implements KV.CompareAndExpire using WATCH/MULTI/EXEC.
func (s *RedisKV) CompareAndExpire(ctx context.Context, key, expect string, ttl time.Duration) (bool, error) {
	return s.watchThen(ctx, key, expect, func(cctx context.Context, pipe redis.Pipeliner) {
		pipe.PExpire(cctx, key, ttl)
	})
}

// watchThen runs cmd inside a transaction guarded by a WATCH on key, only if
// the current value of key equals expect.
func (s *RedisKV) watchThen(ctx context.Context, key, expect string, cmd func(context.Context, redis.Pipeliner)) (bool, error) {
	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	applied := false
	err := s.client.Watch(cctx, func(tx *redis.Tx) error {
		cur, err := tx.Get(cctx, key).Result()
		if err == redis.Nil || (err == nil && cur != expect) {
			return nil
		}
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(cctx, func(pipe redis.Pipeliner) error {
			cmd(cctx, pipe)
			return nil
		})
		if err == nil {
			applied = true
		}
		return err
	}, key)
	if err == redis.TxFailedErr {
		return false, ErrTxConflict
	}
	if err != nil {
		return false, mapErr(err)
	}
	return applied, nil
}

// TTL implements KV.TTL using PTTL.
func (s *RedisKV) TTL(ctx context.Context, key string) (time.Duration, bool, error) {
	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	d, err := s.client.PTTL(cctx, key).Result()
	if err != nil {
		return 0, false, mapErr(err)
	}
	if d < 0 {
		// -2 missing key, -1 no expiry.
		return 0, false, nil
	}
	return d, true, nil
}
