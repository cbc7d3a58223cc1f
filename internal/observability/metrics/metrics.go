package metrics

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Provider call outcomes for RecordProviderCall.
const (
	CallOK        = "ok"
	CallRetryable = "retryable"
	CallFailed    = "failed"
)

// Metrics holds the orchestrator's OTel instruments. A nil *Metrics records
// nothing.
type Metrics struct {
	providerCalls     metric.Int64Counter
	providerLatency   metric.Float64Histogram
	intentTransitions metric.Int64Counter
	settledAmount     metric.Int64Counter
	refunds           metric.Int64Counter
	reviewFlags       metric.Int64Counter
	stateConflicts    metric.Int64Counter
}

// New creates the payment instruments on provider.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	meter := provider.Meter(cfg.service() + "/payment")

	var errs []error
	counter := func(name, desc string) metric.Int64Counter {
		c, err := meter.Int64Counter(name, metric.WithDescription(desc))
		errs = append(errs, err)
		return c
	}
	latency, err := meter.Float64Histogram("paycore_provider_call_duration_seconds",
		metric.WithDescription("Adapter call latency; bounded by the 10-30s provider timeout."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 15, 30),
	)
	errs = append(errs, err)

	m := &Metrics{
		providerLatency:   latency,
		providerCalls:     counter("paycore_provider_calls_total", "Adapter calls by provider, operation and result."),
		intentTransitions: counter("paycore_intent_transitions_total", "Applied payment intent transitions."),
		settledAmount:     counter("paycore_settled_amount_minor_total", "Succeeded intent volume in minor units per currency."),
		refunds:           counter("paycore_refunds_total", "Refund status changes."),
		reviewFlags:       counter("paycore_review_flags_total", "Records flagged for manual review."),
		stateConflicts:    counter("paycore_state_conflicts_total", "Absorbed transitions out of a terminal state."),
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return m, nil
}

// RecordProviderCall counts one adapter call. result is CallOK,
// CallRetryable or CallFailed.
func (m *Metrics) RecordProviderCall(ctx context.Context, provider, operation, result string, elapsed time.Duration) {
	if m == nil {
		return
	}
	attrs := labels("provider", provider, "operation", operation, "result", result)
	m.providerCalls.Add(ctx, 1, attrs)
	m.providerLatency.Record(ctx, elapsed.Seconds(), attrs)
}

// RecordIntentTransition counts an applied transition. Transitions into
// SUCCEEDED also add amount to the settled volume for currency.
func (m *Metrics) RecordIntentTransition(ctx context.Context, provider, from, to, currency string, amount int64) {
	if m == nil {
		return
	}
	m.intentTransitions.Add(ctx, 1, labels("provider", provider, "from", from, "to", to))
	if to == "SUCCEEDED" && amount > 0 {
		m.settledAmount.Add(ctx, amount, labels("provider", provider, "currency", strings.ToUpper(currency)))
	}
}

func (m *Metrics) RecordRefund(ctx context.Context, provider, status string) {
	if m != nil {
		m.refunds.Add(ctx, 1, labels("provider", provider, "status", status))
	}
}

// RecordReviewFlag counts a record set aside for an operator; reason is a
// failure code such as amount_mismatch.
func (m *Metrics) RecordReviewFlag(ctx context.Context, provider, reason string) {
	if m != nil {
		m.reviewFlags.Add(ctx, 1, labels("provider", provider, "reason", reason))
	}
}

func (m *Metrics) RecordStateConflict(ctx context.Context, entity, source string) {
	if m != nil {
		m.stateConflicts.Add(ctx, 1, labels("entity", entity, "source", source))
	}
}

// labels builds an attribute option from key/value pairs, keeping only
// allowed keys.
func labels(kv ...string) metric.MeasurementOption {
	attrs := make([]attribute.KeyValue, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		attrs = append(attrs, attribute.String(kv[i], strings.TrimSpace(kv[i+1])))
	}
	return metric.WithAttributes(FilterAttributes(attrs...)...)
}

// allowedLabelKeys is the closed label set. Intent, refund and customer ids
// never become labels.
var allowedLabelKeys = map[attribute.Key]bool{
	"endpoint":    true,
	"status_code": true,
	"provider":    true,
	"operation":   true,
	"result":      true,
	"from":        true,
	"to":          true,
	"status":      true,
	"currency":    true,
	"reason":      true,
	"entity":      true,
	"source":      true,
}

// FilterAttributes drops attributes outside the allowed label set.
func FilterAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	kept := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if allowedLabelKeys[attr.Key] {
			kept = append(kept, attr)
		}
	}
	return kept
}
