package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups the scheduling counters. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	ServicesCreated     *prometheus.CounterVec
	AllocationFailures  *prometheus.CounterVec
	StatusTransitions   *prometheus.CounterVec
	MaintenanceRecords  *prometheus.CounterVec
	NotificationFailure prometheus.Counter
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ServicesCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fieldops",
			Name:      "services_created_total",
			Help:      "Services created, by service type.",
		}, []string{"service_type"}),
		AllocationFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fieldops",
			Name:      "allocation_failures_total",
			Help:      "Service allocations rejected, by reason.",
		}, []string{"reason"}),
		StatusTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fieldops",
			Name:      "service_status_transitions_total",
			Help:      "Applied service status transitions.",
		}, []string{"from", "to"}),
		MaintenanceRecords: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fieldops",
			Name:      "maintenance_records_created_total",
			Help:      "Maintenance records created, by origin.",
		}, []string{"origin"}),
		NotificationFailure: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fieldops",
			Name:      "notification_failures_total",
			Help:      "Status change notifications that failed to send.",
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.ServicesCreated,
			m.AllocationFailures,
			m.StatusTransitions,
			m.MaintenanceRecords,
			m.NotificationFailure,
		)
	}
	return m
}

func (m *Metrics) ServiceCreated(serviceType string) {
	if m == nil {
		return
	}
	m.ServicesCreated.WithLabelValues(serviceType).Inc()
}

func (m *Metrics) AllocationFailed(reason string) {
	if m == nil {
		return
	}
	m.AllocationFailures.WithLabelValues(reason).Inc()
}

func (m *Metrics) Transition(from, to string) {
	if m == nil {
		return
	}
	m.StatusTransitions.WithLabelValues(from, to).Inc()
}

func (m *Metrics) MaintenanceCreated(origin string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.MaintenanceRecords.WithLabelValues(origin).Add(float64(n))
}

func (m *Metrics) NotificationFailed() {
	if m == nil {
		return
	}
	m.NotificationFailure.Inc()
}
