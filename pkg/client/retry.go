package client

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/Sternrassler/codemao-client/pkg/apierr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for retry operations.
var (
	retriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "codemao_retries_total",
		Help: "Total number of retry attempts by error class",
	}, []string{"kind"})

	retryBackoffSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "codemao_retry_backoff_seconds",
		Help:    "Backoff duration for retries by error class",
		Buckets: []float64{0.3, 0.6, 1.2, 2.4, 5, 10, 30},
	}, []string{"kind"})

	retriesExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "codemao_retries_exhausted_total",
		Help: "Total number of times retry attempts were exhausted by error class",
	}, []string{"kind"})
)

const (
	// DefaultMaxAttempts is the retry ceiling when neither the config nor the
	// request overrides it.
	DefaultMaxAttempts = 3

	// DefaultBackoff is the base delay of the exponential backoff.
	DefaultBackoff = 300 * time.Millisecond

	// DefaultMaxBackoff caps a single backoff delay.
	DefaultMaxBackoff = 30 * time.Second
)

// RetryPolicy describes how often a request is attempted and how long to wait
// between attempts.
type RetryPolicy struct {
	// MaxAttempts is the number of attempts including the first (>= 1).
	MaxAttempts int

	// Backoff returns the delay after the given zero-based attempt failed.
	Backoff func(attempt int) time.Duration
}

// DefaultRetryPolicy returns 3 attempts with 300ms, 600ms, 1.2s delays.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: DefaultMaxAttempts,
		Backoff:     ExponentialBackoff(DefaultBackoff, DefaultMaxBackoff),
	}
}

// ExponentialBackoff returns base * 2^attempt, capped at max when max > 0.
func ExponentialBackoff(base, max time.Duration) func(attempt int) time.Duration {
	return func(attempt int) time.Duration {
		if attempt < 0 {
			attempt = 0
		}
		d := time.Duration(float64(base) * math.Pow(2, float64(attempt)))
		if max > 0 && (d > max || d < 0) {
			return max
		}
		return d
	}
}

// sleepFunc waits for d or until ctx is done.
type sleepFunc func(ctx context.Context, d time.Duration) error

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// do calls attempt until it succeeds, fails with a non-retryable error, the
// context is cancelled, or MaxAttempts is reached. It returns the number of
// attempts made. There is no delay after the final attempt.
func (p RetryPolicy) do(ctx context.Context, sleep sleepFunc, logger zerolog.Logger, attempt func(n int) error) (int, error) {
	maxAttempts := p.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	backoff := p.Backoff
	if backoff == nil {
		backoff = ExponentialBackoff(DefaultBackoff, DefaultMaxBackoff)
	}

	var lastErr error
	for n := 0; n < maxAttempts; n++ {
		err := attempt(n)
		if err == nil {
			if n > 0 {
				logger.Info().Int("attempt", n+1).Msg("Request succeeded after retry")
			}
			return n + 1, nil
		}

		if ctxErr := ctx.Err(); ctxErr != nil {
			return n + 1, fmt.Errorf("%w: %w", ErrContextCancelled, ctxErr)
		}
		if !apierr.Retryable(err) {
			return n + 1, err
		}

		lastErr = err
		class := classifyError(err)

		if n == maxAttempts-1 {
			break
		}

		delay := backoff(n)
		retriesTotal.WithLabelValues(string(class)).Inc()
		retryBackoffSeconds.WithLabelValues(string(class)).Observe(delay.Seconds())

		logger.Warn().
			Err(err).
			Str("kind", string(class)).
			Int("attempt", n+1).
			Dur("backoff", delay).
			Msg("Retrying request after backoff")

		if err := sleep(ctx, delay); err != nil {
			logger.Warn().Int("attempt", n+1).Msg("Context cancelled during retry backoff")
			return n + 1, fmt.Errorf("%w: %w", ErrContextCancelled, err)
		}
	}

	class := classifyError(lastErr)
	retriesExhaustedTotal.WithLabelValues(string(class)).Inc()
	logger.Error().
		Err(lastErr).
		Str("kind", string(class)).
		Int("max_attempts", maxAttempts).
		Msg("Retry attempts exhausted")

	return maxAttempts, &apierr.Error{
		Kind:     apierr.KindRetriesExhausted,
		Message:  fmt.Sprintf("retries exhausted after %d attempts", maxAttempts),
		Attempts: maxAttempts,
		Err:      lastErr,
	}
}

// LastFailure returns the transport or HTTP status error carried by an
// exhausted-retries error, or nil.
func LastFailure(err error) *apierr.Error {
	var e *apierr.Error
	if !errors.As(err, &e) || e.Kind != apierr.KindRetriesExhausted {
		return nil
	}
	var inner *apierr.Error
	if errors.As(e.Err, &inner) {
		return inner
	}
	return nil
}
