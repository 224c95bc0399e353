// Package metrics exposes prometheus collectors for ledger operations.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
)

// LedgerMetrics groups the collectors recorded by the service layer.
type LedgerMetrics struct {
	operations  *prometheus.CounterVec
	latency     *prometheus.HistogramVec
	cashback    *prometheus.CounterVec
	salesVolume prometheus.Counter
	persistFail *prometheus.CounterVec
}

var (
	ledgerOnce     sync.Once
	ledgerRegistry *LedgerMetrics
)

// Ledger returns the lazily-initialised ledger metrics registered with the
// default prometheus registry.
func Ledger() *LedgerMetrics {
	ledgerOnce.Do(func() {
		ledgerRegistry = &LedgerMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "loyalty",
				Subsystem: "ledger",
				Name:      "operations_total",
				Help:      "Ledger operations segmented by operation and outcome.",
			}, []string{"operation", "outcome"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "loyalty",
				Subsystem: "ledger",
				Name:      "operation_duration_seconds",
				Help:      "Latency of ledger operations including persistence.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"operation"}),
			cashback: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "loyalty",
				Subsystem: "ledger",
				Name:      "cashback_total",
				Help:      "Cashback moved, segmented by transaction kind.",
			}, []string{"kind"}),
			salesVolume: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "loyalty",
				Subsystem: "ledger",
				Name:      "sales_volume_total",
				Help:      "Gross amount of recorded sales.",
			}),
			persistFail: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "loyalty",
				Subsystem: "storage",
				Name:      "save_failures_total",
				Help:      "Failed persistence attempts segmented by operation.",
			}, []string{"operation"}),
		}
		prometheus.MustRegister(
			ledgerRegistry.operations,
			ledgerRegistry.latency,
			ledgerRegistry.cashback,
			ledgerRegistry.salesVolume,
			ledgerRegistry.persistFail,
		)
	})
	return ledgerRegistry
}

// Observe records one operation outcome and its latency.
func (m *LedgerMetrics) Observe(operation, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(operation, outcome).Inc()
	m.latency.WithLabelValues(operation).Observe(elapsed.Seconds())
}

// RecordCashback adds the absolute value of a cashback movement.
func (m *LedgerMetrics) RecordCashback(kind string, delta decimal.Decimal) {
	if m == nil {
		return
	}
	v, _ := delta.Abs().Float64()
	m.cashback.WithLabelValues(kind).Add(v)
}

// RecordSale adds a sale amount to the volume counter.
func (m *LedgerMetrics) RecordSale(amount decimal.Decimal) {
	if m == nil {
		return
	}
	v, _ := amount.Float64()
	m.salesVolume.Add(v)
}

// RecordPersistFailure counts a failed save.
func (m *LedgerMetrics) RecordPersistFailure(operation string) {
	if m == nil {
		return
	}
	m.persistFail.WithLabelValues(operation).Inc()
}
