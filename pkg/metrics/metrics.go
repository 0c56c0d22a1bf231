// Package metrics defines the counters emitted by the repository core and a
// Prometheus backed implementation.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Cache request results.
const (
	CacheHit   = "hit"
	CacheMiss  = "miss"
	CacheError = "error"
)

// Metrics is the counter registry the core reports to.
type Metrics interface {
	// RepositoryOperation counts a repository call by collection, operation and outcome.
	RepositoryOperation(collection, op, outcome string)
	// OutboxRecords counts outbox records written per aggregate and event type.
	OutboxRecords(aggregateType, eventType string, n int)
	// OutboxTransaction counts coordinator transactions by terminal state.
	OutboxTransaction(state string)
	// CacheRequest counts cache lookups by bucket and result.
	CacheRequest(bucket, result string, n int)
	// CacheInvalidationFailure counts invalidations dropped after retries.
	CacheInvalidationFailure(bucket string)
}

type nopMetrics struct{}

func (nopMetrics) RepositoryOperation(string, string, string) {}
func (nopMetrics) OutboxRecords(string, string, int)          {}
func (nopMetrics) OutboxTransaction(string)                   {}
func (nopMetrics) CacheRequest(string, string, int)           {}
func (nopMetrics) CacheInvalidationFailure(string)            {}

// Nop returns a Metrics that records nothing.
func Nop() Metrics { return nopMetrics{} }

// OrNop returns m, or Nop when m is nil.
func OrNop(m Metrics) Metrics {
	if m == nil {
		return Nop()
	}
	return m
}

// Prometheus holds the collectors backing Metrics.
type Prometheus struct {
	RepositoryOperationsTotal      *prometheus.CounterVec
	OutboxRecordsTotal             *prometheus.CounterVec
	OutboxTransactionsTotal        *prometheus.CounterVec
	CacheRequestsTotal             *prometheus.CounterVec
	CacheInvalidationFailuresTotal *prometheus.CounterVec
}

var _ Metrics = (*Prometheus)(nil)

// NewPrometheus creates the collectors and registers them with reg.
func NewPrometheus(reg prometheus.Registerer) *Prometheus {
	m := &Prometheus{
		RepositoryOperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "repository_operations_total", Help: "Repository operations by outcome."},
			[]string{"collection", "op", "outcome"},
		),
		OutboxRecordsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "outbox_records_total", Help: "Outbox records written."},
			[]string{"aggregate_type", "event_type"},
		),
		OutboxTransactionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "outbox_transactions_total", Help: "Outbox transactions by terminal state."},
			[]string{"state"},
		),
		CacheRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "cache_requests_total", Help: "Cache lookups by result."},
			[]string{"bucket", "result"},
		),
		CacheInvalidationFailuresTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "cache_invalidation_failures_total", Help: "Cache invalidations dropped after retries."},
			[]string{"bucket"},
		),
	}
	reg.MustRegister(
		m.RepositoryOperationsTotal,
		m.OutboxRecordsTotal,
		m.OutboxTransactionsTotal,
		m.CacheRequestsTotal,
		m.CacheInvalidationFailuresTotal,
	)
	return m
}

func (m *Prometheus) RepositoryOperation(collection, op, outcome string) {
	m.RepositoryOperationsTotal.WithLabelValues(collection, op, outcome).Inc()
}

func (m *Prometheus) OutboxRecords(aggregateType, eventType string, n int) {
	m.OutboxRecordsTotal.WithLabelValues(aggregateType, eventType).Add(float64(n))
}

func (m *Prometheus) OutboxTransaction(state string) {
	m.OutboxTransactionsTotal.WithLabelValues(state).Inc()
}

func (m *Prometheus) CacheRequest(bucket, result string, n int) {
	m.CacheRequestsTotal.WithLabelValues(bucket, result).Add(float64(n))
}

func (m *Prometheus) CacheInvalidationFailure(bucket string) {
	m.CacheInvalidationFailuresTotal.WithLabelValues(bucket).Inc()
}
