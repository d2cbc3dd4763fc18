package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sony/gobreaker"
	"github.com/xela07ax/a2a-guard/internal/audit"
	"github.com/xela07ax/a2a-guard/internal/domain"
)

type Metrics struct {
	// Traffic: завершенные ходы по итоговому вердикту
	Turns *prometheus.CounterVec

	// Safety: решения стадий PRE/POST
	SafetyEvents *prometheus.CounterVec

	// Delegation: каждая попытка вызова провайдера и длительность всего Execute
	DelegationAttempts *prometheus.CounterVec
	DelegationDuration *prometheus.HistogramVec

	// Saturation: состояние Circuit Breaker (0 - closed, 1 - half-open, 2 - open)
	CircuitBreakerState *prometheus.GaugeVec

	CatalogRefreshes *prometheus.CounterVec

	// Audit: записи журнала, сбои sink, заполненность буфера реплики
	AuditEntries      prometheus.Counter
	AuditSinkErrors   prometheus.Counter
	AuditReplicaFill  prometheus.Gauge
	AuditReplicaDrops prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	// Null Object Pattern - Если рег не передан, используем локальный, который никуда не подключен
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	return &Metrics{
		Turns: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "a2a_turns_total",
			Help: "Completed turns by final verdict.",
		}, []string{"verdict"}),

		SafetyEvents: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "a2a_safety_events_total",
			Help: "Safety decisions by stage, verdict and category.",
		}, []string{"stage", "verdict", "category"}),

		DelegationAttempts: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "a2a_delegation_attempts_total",
			Help: "Provider invocations including retries.",
		}, []string{"tool", "result"}),

		DelegationDuration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "a2a_delegation_duration_seconds",
			Help:    "Histogram of delegation latencies including retries.",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}, []string{"tool", "result"}),

		CircuitBreakerState: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Name: "a2a_circuit_breaker_state",
			Help: "Current state of the circuit breaker (0=closed, 1=half-open, 2=open).",
		}, []string{"name"}),

		CatalogRefreshes: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "a2a_catalog_refreshes_total",
			Help: "Capability catalog refresh attempts.",
		}, []string{"result"}),

		AuditEntries: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "a2a_audit_entries_total",
			Help: "Entries appended to the audit log.",
		}),

		AuditSinkErrors: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "a2a_audit_sink_errors_total",
			Help: "Failed writes to the audit sink.",
		}),

		AuditReplicaFill: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "a2a_audit_replica_buffer_utilization",
			Help: "Current number of entries waiting for the audit replica.",
		}),

		AuditReplicaDrops: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "a2a_audit_replica_dropped_total",
			Help: "Entries shed by the audit replica under backpressure.",
		}),
	}
}

// ObserveSafety: хук для safety.WithObserver.
func (m *Metrics) ObserveSafety(ev domain.SafetyEvent) {
	m.SafetyEvents.WithLabelValues(string(ev.Stage), string(ev.Verdict), string(ev.Category)).Inc()
}

// ObserveRefresh: хук для directory.WithRefreshHook.
func (m *Metrics) ObserveRefresh(_ *domain.Catalog, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.CatalogRefreshes.WithLabelValues(result).Inc()
}

// AuditOptions подключает метрики к журналу аудита.
func (m *Metrics) AuditOptions() []audit.Option {
	return []audit.Option{
		audit.WithAppendHook(func(audit.Entry) { m.AuditEntries.Inc() }),
		audit.WithSinkErrorHook(func(error) { m.AuditSinkErrors.Inc() }),
	}
}

// WireReplicator подключает метрики к буферу реплики.
func (m *Metrics) WireReplicator(r *audit.Replicator) {
	r.OnFill(func(n int) { m.AuditReplicaFill.Set(float64(n)) })
	r.OnDrop(m.AuditReplicaDrops.Inc)
}

func (m *Metrics) setBreakerState(name string, st gobreaker.State) {
	m.CircuitBreakerState.WithLabelValues(name).Set(float64(st))
}
