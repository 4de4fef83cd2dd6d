package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics stores the domain Prometheus collectors. All methods are safe on a
// nil receiver so components can run without instrumentation in tests.
type Metrics struct {
	TodosGenerated       *prometheus.CounterVec
	GenerationStoreFails prometheus.Counter
	GenerationDuration   prometheus.Histogram
	MessagesSent         *prometheus.CounterVec
	SendDenied           *prometheus.CounterVec
	WebhookEvents        *prometheus.CounterVec
	Redemptions          *prometheus.CounterVec
}

var (
	regOnce         sync.Once
	metricsInstance *Metrics
)

// NewMetrics builds unregistered collectors under namespace.
func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		TodosGenerated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "todos_generated_total",
			Help:      "Todos created by the generation engine, by rule type.",
		}, []string{"rule"}),
		GenerationStoreFails: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generation_store_failures_total",
			Help:      "Stores whose generation run failed.",
		}),
		GenerationDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "generation_cycle_duration_seconds",
			Help:      "Duration of full generation cycles.",
			Buckets:   prometheus.DefBuckets,
		}),
		MessagesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_sent_total",
			Help:      "Outbound message attempts by outcome.",
		}, []string{"status"}),
		SendDenied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "send_denied_total",
			Help:      "Outbound messages denied by the sending guardrails, by reason.",
		}, []string{"reason"}),
		WebhookEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_events_total",
			Help:      "Inbound LINE webhook events by type.",
		}, []string{"type"}),
		Redemptions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "registration_redemptions_total",
			Help:      "Registration code redemption attempts by outcome.",
		}, []string{"outcome"}),
	}
}

// Collectors returns every collector for registration.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.TodosGenerated, m.GenerationStoreFails, m.GenerationDuration,
		m.MessagesSent, m.SendDenied, m.WebhookEvents, m.Redemptions,
	}
}

// Registry builds and registers the metrics singleton with the default
// Prometheus registerer.
func Registry(namespace string) *Metrics {
	regOnce.Do(func() {
		metricsInstance = NewMetrics(namespace)
		prometheus.MustRegister(metricsInstance.Collectors()...)
	})
	return metricsInstance
}

// TodoCreated counts one generated todo.
func (m *Metrics) TodoCreated(rule string) {
	if m != nil {
		m.TodosGenerated.WithLabelValues(rule).Inc()
	}
}

// StoreFailed counts one failed store run.
func (m *Metrics) StoreFailed() {
	if m != nil {
		m.GenerationStoreFails.Inc()
	}
}

// CycleDone observes a full cycle duration in seconds.
func (m *Metrics) CycleDone(seconds float64) {
	if m != nil {
		m.GenerationDuration.Observe(seconds)
	}
}

// Sent counts one outbound attempt by status.
func (m *Metrics) Sent(status string) {
	if m != nil {
		m.MessagesSent.WithLabelValues(status).Inc()
	}
}

// Denied counts one guardrail denial.
func (m *Metrics) Denied(reason string) {
	if m != nil {
		m.SendDenied.WithLabelValues(reason).Inc()
	}
}

// Webhook counts one inbound event.
func (m *Metrics) Webhook(eventType string) {
	if m != nil {
		m.WebhookEvents.WithLabelValues(eventType).Inc()
	}
}

// Redemption counts one redemption attempt outcome.
func (m *Metrics) Redemption(outcome string) {
	if m != nil {
		m.Redemptions.WithLabelValues(outcome).Inc()
	}
}
