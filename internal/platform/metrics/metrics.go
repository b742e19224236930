package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the purchase request lifecycle.
type Metrics struct {
	// Successful status changes by action and resulting status
	Transitions *prometheus.CounterVec

	// Operations refused by the engine, by operation and error code
	Rejections *prometheus.CounterVec

	// Service operation latency
	OperationLatency *prometheus.HistogramVec

	// SLA classifications handed out to callers
	SLAClassifications *prometheus.CounterVec

	// Notification publishes that failed (never fatal)
	NotificationFailures prometheus.Counter

	// Buyer workload recompute runs
	WorkloadRecomputes *prometheus.CounterVec
}

// New registers all lifecycle metrics with reg. Pass prometheus.DefaultRegisterer
// in production and a fresh registry in tests.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Transitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "procurement_pr_transitions_total",
			Help: "Purchase request status transitions by action and target status",
		}, []string{"action", "status"}),

		Rejections: f.NewCounterVec(prometheus.CounterOpts{
			Name: "procurement_pr_rejected_operations_total",
			Help: "Purchase request operations refused, by operation and error code",
		}, []string{"operation", "code"}),

		OperationLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "procurement_pr_operation_duration_seconds",
			Help:    "Duration of purchase request operations",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"operation"}),

		SLAClassifications: f.NewCounterVec(prometheus.CounterOpts{
			Name: "procurement_pr_sla_classifications_total",
			Help: "SLA classifications computed, by classification",
		}, []string{"classification"}),

		NotificationFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "procurement_notification_failures_total",
			Help: "Notification publishes that failed",
		}),

		WorkloadRecomputes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "procurement_buyer_workload_recomputes_total",
			Help: "Buyer workload recompute runs by result",
		}, []string{"result"}),
	}
}

// IncrementTransition records a committed status change.
func (m *Metrics) IncrementTransition(action, status string) {
	if m != nil {
		m.Transitions.WithLabelValues(action, status).Inc()
	}
}

// IncrementRejection records an operation refused with code.
func (m *Metrics) IncrementRejection(operation, code string) {
	if m != nil {
		m.Rejections.WithLabelValues(operation, code).Inc()
	}
}

// ObserveOperation records how long an operation took.
func (m *Metrics) ObserveOperation(operation string, d time.Duration) {
	if m != nil {
		m.OperationLatency.WithLabelValues(operation).Observe(d.Seconds())
	}
}

// IncrementSLA records one SLA classification.
func (m *Metrics) IncrementSLA(classification string) {
	if m != nil {
		m.SLAClassifications.WithLabelValues(classification).Inc()
	}
}

// IncrementNotificationFailure records a failed publish.
func (m *Metrics) IncrementNotificationFailure() {
	if m != nil {
		m.NotificationFailures.Inc()
	}
}

// IncrementWorkloadRecompute records a workload recompute outcome ("ok" or "error").
func (m *Metrics) IncrementWorkloadRecompute(result string) {
	if m != nil {
		m.WorkloadRecomputes.WithLabelValues(result).Inc()
	}
}
