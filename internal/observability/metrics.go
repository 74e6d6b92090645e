package observability

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ksred/null-ledger/internal/types"
)

// LedgerMetrics records ledger operation outcomes and latency.
type LedgerMetrics struct {
	operations *prometheus.CounterVec
	latency    *prometheus.HistogramVec
	relayed    *prometheus.CounterVec
}

var (
	ledgerMetricsOnce sync.Once
	ledgerRegistry    *LedgerMetrics
)

// Ledger returns the lazily-registered ledger metrics.
func Ledger() *LedgerMetrics {
	ledgerMetricsOnce.Do(func() {
		ledgerRegistry = &LedgerMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "null",
				Subsystem: "ledger",
				Name:      "operations_total",
				Help:      "Ledger operations segmented by component, operation and outcome code.",
			}, []string{"component", "operation", "outcome"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "null",
				Subsystem: "ledger",
				Name:      "operation_duration_seconds",
				Help:      "Latency distribution for ledger operations.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"component", "operation"}),
			relayed: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "null",
				Subsystem: "relay",
				Name:      "events_total",
				Help:      "Outbox events handled by the relay segmented by outcome.",
			}, []string{"outcome"}),
		}
		prometheus.MustRegister(
			ledgerRegistry.operations,
			ledgerRegistry.latency,
			ledgerRegistry.relayed,
		)
	})
	return ledgerRegistry
}

// Observe records one operation. A nil error is recorded as "ok"; classified
// ledger errors use their lower-cased code.
func (m *LedgerMetrics) Observe(component, operation string, started time.Time, err error) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(component, operation, Outcome(err)).Inc()
	m.latency.WithLabelValues(component, operation).Observe(time.Since(started).Seconds())
}

// Operations returns the counter for one component/operation/outcome series.
func (m *LedgerMetrics) Operations(component, operation, outcome string) prometheus.Counter {
	return m.operations.WithLabelValues(component, operation, outcome)
}

// Relayed records relay outcomes ("published", "failed").
func (m *LedgerMetrics) Relayed(outcome string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.relayed.WithLabelValues(outcome).Add(float64(n))
}

// Outcome maps an error to a low-cardinality label.
func Outcome(err error) string {
	if err == nil {
		return "ok"
	}
	var le *types.Error
	if errors.As(err, &le) {
		return strings.ToLower(le.Code)
	}
	return "error"
}
