package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// BillingMetrics интерфейс для метрик биллинга
type BillingMetrics interface {
	IncWebhookEvent(eventType, outcome string)
	IncSession(kind, result string)
	IncUsageCheck(plan, result string)
	SetBreakerState(state string)
}

type billingMetrics struct {
	webhookEvents *prometheus.CounterVec
	sessions      *prometheus.CounterVec
	usageChecks   *prometheus.CounterVec
	breakerState  *prometheus.GaugeVec
}

// Состояния circuit breaker в порядке, в котором их показывает gauge.
var breakerStates = []string{"closed", "half-open", "open"}

// NewBillingMetrics регистрирует метрики биллинга в registry
func NewBillingMetrics(registry *prometheus.Registry) BillingMetrics {
	factory := promauto.With(registry)

	m := &billingMetrics{
		webhookEvents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "billing_webhook_events_total",
				Help: "Stripe webhook events by type and processing outcome",
			},
			[]string{"type", "outcome"},
		),
		sessions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "billing_sessions_created_total",
				Help: "Checkout and portal session requests by result",
			},
			[]string{"kind", "result"},
		),
		usageChecks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "billing_usage_checks_total",
				Help: "Advisory usage checks by plan and result",
			},
			[]string{"plan", "result"},
		),
		breakerState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "billing_stripe_breaker_state",
				Help: "1 for the current state of the Stripe circuit breaker",
			},
			[]string{"state"},
		),
	}
	m.SetBreakerState("closed")
	return m
}

func (m *billingMetrics) IncWebhookEvent(eventType, outcome string) {
	m.webhookEvents.WithLabelValues(eventType, outcome).Inc()
}

func (m *billingMetrics) IncSession(kind, result string) {
	m.sessions.WithLabelValues(kind, result).Inc()
}

func (m *billingMetrics) IncUsageCheck(plan, result string) {
	m.usageChecks.WithLabelValues(plan, result).Inc()
}

// SetBreakerState выставляет 1 текущему состоянию и 0 остальным.
func (m *billingMetrics) SetBreakerState(state string) {
	for _, s := range breakerStates {
		v := 0.0
		if s == state {
			v = 1
		}
		m.breakerState.WithLabelValues(s).Set(v)
	}
}

// NopBillingMetrics ничего не записывает. Для тестов и вспомогательных утилит.
type NopBillingMetrics struct{}

func (NopBillingMetrics) IncWebhookEvent(string, string) {}
func (NopBillingMetrics) IncSession(string, string)      {}
func (NopBillingMetrics) IncUsageCheck(string, string)   {}
func (NopBillingMetrics) SetBreakerState(string)         {}
