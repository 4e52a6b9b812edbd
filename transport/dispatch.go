package transport

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/quantapay/walletd/wallet"
)

// dispatch decodes a request payload, applies the duplicate guard and invokes
// the handler. The returned flag reports whether a completion event should be
// published; it is false for undecodable payloads and dropped duplicates.
func dispatch(ctx context.Context, payload []byte, handler Handler, dedup *Dedup, logger *slog.Logger) (wallet.TransferRequest, wallet.Result, bool) {
	var req wallet.TransferRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		logger.Error("decode transfer request", "err", err)
		return wallet.TransferRequest{}, wallet.Result{}, false
	}
	req.Normalize()

	if dedup != nil {
		claimed, err := dedup.Claim(ctx, req.IdempotencyKey)
		if err != nil {
			// Fail open: a broken guard must not stall the pipeline.
			logger.Error("dedup claim", "transfer_id", req.TransferID, "err", err)
		} else if !claimed {
			logger.Info("duplicate delivery dropped",
				"transfer_id", req.TransferID, "idempotency_key", req.IdempotencyKey)
			return req, wallet.Result{}, false
		}
	}

	res := handler(ctx, req)

	if !res.OK() && dedup != nil {
		// Release the claim so a retried delivery can run.
		if err := dedup.Forget(ctx, req.IdempotencyKey); err != nil {
			logger.Warn("dedup forget", "transfer_id", req.TransferID, "err", err)
		}
	}
	return req, res, true
}
