package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// WebhookMetrics counts inbound deliveries by provider and outcome.
type WebhookMetrics struct {
	deliveries *prometheus.CounterVec
	duration   *prometheus.HistogramVec
}

var (
	webhookMetricsOnce sync.Once
	webhookMetrics     *WebhookMetrics
)

// Webhooks returns the singleton webhook metrics registry using config labels.
func Webhooks(cfg Config) *WebhookMetrics {
	webhookMetricsOnce.Do(func() {
		webhookMetrics = newWebhookMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return webhookMetrics
}

func newWebhookMetrics(registerer prometheus.Registerer, cfg Config) *WebhookMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	constLabels := constLabelsFor(cfg)

	deliveries := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "paycore_webhook_deliveries_total",
		Help:        "Webhook deliveries by provider and ledger outcome.",
		ConstLabels: constLabels,
	}, []string{"provider", "outcome"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:        "paycore_webhook_handle_duration_seconds",
		Help:        "Time from body read to response for webhook deliveries.",
		Buckets:     []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		ConstLabels: constLabels,
	}, []string{"provider"})

	registerer.MustRegister(deliveries, duration)

	return &WebhookMetrics{deliveries: deliveries, duration: duration}
}

// ObserveDelivery records one handled delivery.
func (m *WebhookMetrics) ObserveDelivery(provider, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.deliveries.WithLabelValues(provider, outcome).Inc()
	m.duration.WithLabelValues(provider).Observe(elapsed.Seconds())
}
