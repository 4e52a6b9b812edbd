// Package transport connects the transfer engine to a message queue: it
// consumes transfer requests, invokes the engine, and publishes completion
// events. Kafka and NATS backends are provided.
package transport

import (
	"context"
	"time"

	"github.com/quantapay/walletd/store"
	"github.com/quantapay/walletd/wallet"
)

// Default topics/subjects, matching the producer side.
const (
	DefaultRequestTopic   = "wallet.transfer.requested"
	DefaultCompletedTopic = "wallet.transfer.completed"
)

const (
	dedupKeyPrefix = "transfer:done:"
	dedupTTL       = 24 * time.Hour
)

// Handler processes one inbound transfer request.
type Handler func(ctx context.Context, req wallet.TransferRequest) wallet.Result

// Dedup suppresses re-execution of redelivered requests. The lock manager
// only makes lock re-acquisition idempotent; dropping a duplicate before it
// reaches the engine is what keeps the balance mutation from running twice.
type Dedup struct {
	kv  store.KV
	ttl time.Duration
}

// NewDedup returns a Dedup coordinating through kv. A non-positive ttl uses
// the 24h default.
func NewDedup(kv store.KV, ttl time.Duration) *Dedup {
	if ttl <= 0 {
		ttl = dedupTTL
	}
	return &Dedup{kv: kv, ttl: ttl}
}

// Claim marks idempotencyKey as being processed. It reports false when the
// key was already claimed by an earlier delivery.
func (d *Dedup) Claim(ctx context.Context, idempotencyKey string) (bool, error) {
	if idempotencyKey == "" {
		return true, nil
	}
	return d.kv.SetIfAbsent(ctx, dedupKeyPrefix+idempotencyKey, "1", d.ttl)
}

// Forget releases a claim so a retried delivery can be processed, used when
// the attempt failed.
func (d *Dedup) Forget(ctx context.Context, idempotencyKey string) error {
	if idempotencyKey == "" {
		return nil
	}
	return d.kv.Delete(ctx, dedupKeyPrefix+idempotencyKey)
}
