// Package metrics exposes Prometheus instrumentation for the transfer
// pipeline and the lock manager.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// TransfersTotal counts finished transfers by terminal status.
	TransfersTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "wallet_transfers_total",
		Help: "Total number of transfer attempts by outcome status",
	}, []string{"status"})
	// TransferDuration observes end-to-end transfer latency.
	TransferDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "wallet_transfer_duration_seconds",
		Help:    "Time taken to execute a transfer, locking included",
		Buckets: prometheus.DefBuckets,
	})
	// LockAcquireTotal counts multi-key acquisitions by outcome.
	LockAcquireTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "wallet_lock_acquire_total",
		Help: "Total number of multi-key lock acquisitions by outcome",
	}, []string{"outcome"})
	// LockRetriesTotal counts backoff rounds spent waiting for contended locks.
	LockRetriesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "wallet_lock_retries_total",
		Help: "Total number of lock acquisition retries",
	})
	// StoreTxConflictsTotal counts optimistic transactions lost to races.
	StoreTxConflictsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "wallet_store_tx_conflicts_total",
		Help: "Total number of compare-and-swap conflicts against the store",
	})
)

// NewRegistry creates a new Prometheus registry.
func NewRegistry() *prometheus.Registry {
	return prometheus.NewRegistry()
}

// RegisterCoreMetrics registers wallet core metrics on the provided registry.
func RegisterCoreMetrics(reg prometheus.Registerer) {
	reg.MustRegister(TransfersTotal, TransferDuration, LockAcquireTotal, LockRetriesTotal, StoreTxConflictsTotal)
}
