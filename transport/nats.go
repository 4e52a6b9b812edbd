package transport

import (
	"context"
	"encoding/json"
	"log/slog"

	nats "github.com/nats-io/nats.go"

	"github.com/quantapay/walletd/wallet"
)

// NATS consumes transfer requests from a core NATS subject and publishes
// completion events. Delivery is at-most-once per connected subscriber; the
// duplicate guard still applies to producer-side retries.
type NATS struct {
	conn             *nats.Conn
	requestSubject   string
	completedSubject string
	handler          Handler
	dedup            *Dedup
	logger           *slog.Logger
}

// NATSOption configures a NATS transport.
type NATSOption func(*NATS)

// WithNATSSubjects overrides the request and completion subjects.
func WithNATSSubjects(request, completed string) NATSOption {
	return func(n *NATS) {
		n.requestSubject = request
		n.completedSubject = completed
	}
}

// WithNATSDedup enables the duplicate-delivery guard.
func WithNATSDedup(d *Dedup) NATSOption {
	return func(n *NATS) { n.dedup = d }
}

// WithNATSLogger sets the logger.
func WithNATSLogger(l *slog.Logger) NATSOption {
	return func(n *NATS) { n.logger = l }
}

// NewNATS returns a NATS transport using the provided connection.
func NewNATS(conn *nats.Conn, handler Handler, opts ...NATSOption) *NATS {
	n := &NATS{
		conn:             conn,
		requestSubject:   DefaultRequestTopic,
		completedSubject: DefaultCompletedTopic,
		handler:          handler,
		logger:           slog.Default(),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Run subscribes to the request subject until ctx is cancelled.
func (n *NATS) Run(ctx context.Context) error {
	sub, err := n.conn.Subscribe(n.requestSubject, func(msg *nats.Msg) {
		req, res, ok := dispatch(ctx, msg.Data, n.handler, n.dedup, n.logger)
		if !ok {
			return
		}
		if err := n.publishCompleted(req, res); err != nil {
			n.logger.Error("publish completion event", "transfer_id", req.TransferID, "err", err)
		}
	})
	if err != nil {
		return err
	}
	<-ctx.Done()
	return sub.Drain()
}

func (n *NATS) publishCompleted(req wallet.TransferRequest, res wallet.Result) error {
	data, err := json.Marshal(wallet.Completed(req, res))
	if err != nil {
		return err
	}
	return n.conn.Publish(n.completedSubject, data)
}
