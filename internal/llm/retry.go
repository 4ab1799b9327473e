package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/synapselabs/synapse/internal/metrics"
)

// StrictRetryPrefix is prepended to the prompt when a malformed response
// is retried. Applied at most once per generation; the analyzer uses the
// same prefix when a response decodes but yields no usable JSON.
const StrictRetryPrefix = "Your previous response could not be parsed. " +
	"Follow the instructions below EXACTLY and output ONLY what they ask for, with no extra text.\n\n"

// RetryPolicy decides how many times a failed generation is reattempted
// and how long to wait between attempts. Sleep is injectable so tests
// run without real timing.
type RetryPolicy struct {
	// MaxRetries is the number of reattempts after the first failure;
	// a call makes at most MaxRetries+1 attempts.
	MaxRetries int

	// Backoff returns the wait before the given reattempt (1-based).
	Backoff func(attempt int) time.Duration

	// Sleep waits for d or until ctx is done. Nil uses a real timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

// LinearBackoff returns a backoff function growing by step per attempt:
// step, 2*step, 3*step, ...
func LinearBackoff(step time.Duration) func(int) time.Duration {
	return func(attempt int) time.Duration {
		return time.Duration(attempt) * step
	}
}

// DefaultRetryPolicy matches the configured retry count with linear backoff.
func DefaultRetryPolicy(maxRetries int, step time.Duration) RetryPolicy {
	return RetryPolicy{
		MaxRetries: maxRetries,
		Backoff:    LinearBackoff(step),
	}
}

func (p RetryPolicy) sleep(ctx context.Context, d time.Duration) error {
	if p.Sleep != nil {
		return p.Sleep(ctx, d)
	}
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Retrier wraps a Generator with the retry policy from the analysis
// spec: timeouts and unavailability are retried with backoff; a
// malformed response is retried exactly once with a stricter
// repeat-the-instructions prompt before surfacing.
type Retrier struct {
	gen    Generator
	policy RetryPolicy
	logger *slog.Logger
}

// NewRetrier wraps gen with policy.
func NewRetrier(gen Generator, policy RetryPolicy, logger *slog.Logger) *Retrier {
	return &Retrier{gen: gen, policy: policy, logger: logger}
}

// Model returns the wrapped backend's model identifier.
func (r *Retrier) Model() string { return r.gen.Model() }

// Generate issues the request, applying the retry policy.
func (r *Retrier) Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error) {
	var lastErr error
	strictUsed := false

	for attempt := 0; attempt <= r.policy.MaxRetries; attempt++ {
		if attempt > 0 {
			var backoff time.Duration
			if r.policy.Backoff != nil {
				backoff = r.policy.Backoff(attempt)
			}
			r.logger.Warn("retrying generation",
				"attempt", attempt, "backoff", backoff, "error", lastErr)
			metrics.Inc(metrics.GenerateRetries)
			if err := r.policy.sleep(ctx, backoff); err != nil {
				return "", fmt.Errorf("waiting to retry: %w", err)
			}
		}

		text, err := r.gen.Generate(ctx, prompt, opts)
		if err == nil {
			return text, nil
		}
		lastErr = err

		switch {
		case errors.Is(err, ErrTimeout), errors.Is(err, ErrServiceUnavailable):
			// Transient: keep retrying within budget.
		case errors.Is(err, ErrMalformedResponse) && !strictUsed:
			// One immediate reattempt with the stricter prompt. This
			// does not consume a transient retry.
			strictUsed = true
			text, err = r.gen.Generate(ctx, StrictRetryPrefix+prompt, opts)
			if err == nil {
				return text, nil
			}
			lastErr = err
			if !errors.Is(err, ErrTimeout) && !errors.Is(err, ErrServiceUnavailable) {
				return "", err
			}
		default:
			return "", err
		}
	}

	return "", fmt.Errorf("retries exhausted after %d attempts: %w", r.policy.MaxRetries+1, lastErr)
}
