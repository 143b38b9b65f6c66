package llm

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/copp1723/team-crm-sub000/types"
)

// ResilientCompleter wraps a Completer with a local rate limiter, a
// per-call timeout, and a bounded retry budget with exponential backoff.
// Exhausting the budget surfaces the provider error so callers can take
// their heuristic fallback path; it never panics or hangs.
type ResilientCompleter struct {
	inner   Completer
	limiter *rate.Limiter
	retryer *Retryer
	timeout time.Duration
	logger  *zap.Logger
}

// NewResilientCompleter wraps inner with the resilience policy from config.
func NewResilientCompleter(inner Completer, config Config, logger *zap.Logger) *ResilientCompleter {
	if config.RateLimit <= 0 {
		config.RateLimit = DefaultConfig().RateLimit
	}
	if config.RateBurst <= 0 {
		config.RateBurst = DefaultConfig().RateBurst
	}
	policy := &RetryPolicy{
		MaxRetries:   config.MaxRetries,
		InitialDelay: config.InitialDelay,
		MaxDelay:     config.MaxDelay,
		Multiplier:   2.0,
		Jitter:       true,
	}
	l := logger.With(zap.String("component", "completer"))
	return &ResilientCompleter{
		inner:   inner,
		limiter: rate.NewLimiter(rate.Limit(config.RateLimit), config.RateBurst),
		retryer: NewRetryer(policy, l),
		timeout: config.Timeout,
		logger:  l,
	}
}

// Complete implements Completer.
func (c *ResilientCompleter) Complete(ctx context.Context, prompt string) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", types.NewError(types.ErrRateLimited, "local rate limiter").
			WithCause(err).WithRetryable(false)
	}

	var out string
	err := c.retryer.Do(ctx, func() error {
		callCtx := ctx
		if c.timeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, c.timeout)
			defer cancel()
		}

		result, err := c.inner.Complete(callCtx, prompt)
		if err != nil {
			return classify(err)
		}
		out = result
		return nil
	})
	if err != nil {
		c.logger.Warn("completion failed",
			zap.String("model", c.inner.Model()),
			zap.Error(err),
		)
		return "", err
	}
	return out, nil
}

// Model implements Completer.
func (c *ResilientCompleter) Model() string { return c.inner.Model() }

// classify maps raw provider errors onto the engine taxonomy. Errors that
// already carry a code pass through; context timeouts become retryable
// PROVIDER_UNAVAILABLE, everything else is treated as transient.
func classify(err error) error {
	if code := types.GetErrorCode(err); code != "" {
		return err
	}
	if err == context.DeadlineExceeded {
		return types.NewError(types.ErrProviderUnavailable, "provider call timed out").
			WithCause(err).WithRetryable(true)
	}
	return types.NewError(types.ErrProviderUnavailable, "provider call failed").
		WithCause(err).WithRetryable(true)
}
