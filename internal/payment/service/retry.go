package service

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
	paymentdomain "github.com/smallbiznis/paycore/internal/payment/domain"
	"go.uber.org/zap"
)

// withRetry runs a provider creation call with exponential backoff. Only
// errors the adapter flagged retryable are attempted again; op must reuse
// the same idempotency key on every attempt.
func withRetry[T any](ctx context.Context, s *Service, provider paymentdomain.Provider, operation string, op func() (T, error)) (T, error) {
	policy := s.policy.Get()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = policy.RetryBaseDelay
	b.Multiplier = 2
	b.RandomizationFactor = 0.2
	b.MaxInterval = 8 * policy.RetryBaseDelay

	attempt := 0
	return backoff.Retry(ctx, func() (T, error) {
		attempt++
		started := time.Now()
		out, err := op()
		s.recordCall(ctx, provider, operation, err, time.Since(started))
		if err == nil {
			return out, nil
		}
		if !paymentdomain.IsRetryable(err) {
			return out, backoff.Permanent(err)
		}
		s.log.Warn("retryable provider error",
			zap.String("provider", provider.Slug()),
			zap.String("operation", operation),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		return out, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(policy.RetryMaxAttempts)),
		backoff.WithMaxElapsedTime(2*policy.ProviderTimeout*time.Duration(policy.RetryMaxAttempts)),
	)
}
