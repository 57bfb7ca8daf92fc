package llm

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// RetryConfig configures retry behavior for completion calls.
type RetryConfig struct {
	MaxRetries int           // Maximum number of retry attempts (0 = single attempt)
	RetryDelay time.Duration // Initial delay between retries
	MaxDelay   time.Duration // Caps exponential backoff
	Timeout    time.Duration // Overall budget shared by all attempts
}

// DefaultRetryConfig returns a single-attempt configuration with the overlay's
// 120 second budget.
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxRetries: 0,
		RetryDelay: 1 * time.Second,
		MaxDelay:   10 * time.Second,
		Timeout:    120 * time.Second,
	}
}

// RetryProvider wraps a Provider with bounded retries of transport failures.
// Completion requests carry no server-side state, so resending one is safe.
type RetryProvider struct {
	inner  Provider
	config *RetryConfig
}

// NewRetryProvider wraps an existing provider with retry logic.
func NewRetryProvider(inner Provider, config *RetryConfig) *RetryProvider {
	if config == nil {
		config = DefaultRetryConfig()
	}
	return &RetryProvider{
		inner:  inner,
		config: config,
	}
}

// Name returns the underlying provider name.
func (r *RetryProvider) Name() string {
	return r.inner.Name()
}

// Complete sends the request, retrying transport failures until the attempts
// or the overall budget run out.
func (r *RetryProvider) Complete(ctx context.Context, req *CompletionRequest) (*Response, error) {
	if r.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.config.Timeout)
		defer cancel()
	}

	var lastErr error
	for attempt := 0; attempt <= r.config.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := r.calculateBackoff(attempt)
			if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) <= delay {
				break
			}
			select {
			case <-ctx.Done():
				return nil, TransportError(ctx.Err())
			case <-time.After(delay):
			}
		}

		resp, err := r.inner.Complete(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if !isRetryable(err) || ctx.Err() != nil {
			return nil, err
		}
	}

	if r.config.MaxRetries == 0 {
		return nil, lastErr
	}
	return nil, fmt.Errorf("after %d retries: %w", r.config.MaxRetries, lastErr)
}

// calculateBackoff returns the delay for the given attempt using exponential backoff.
func (r *RetryProvider) calculateBackoff(attempt int) time.Duration {
	delay := r.config.RetryDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if r.config.MaxDelay > 0 && delay > r.config.MaxDelay {
			delay = r.config.MaxDelay
			break
		}
	}
	return delay
}

// isRetryable reports whether a failed attempt may be resent. Decode errors
// mean the server answered, so only transport failures qualify, and never
// a caller cancellation.
func isRetryable(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	return IsTransport(err)
}

// WrapWithRetry wraps provider only when retries are requested.
func WrapWithRetry(provider Provider, cfg *RetryConfig) Provider {
	if provider == nil || cfg == nil || cfg.MaxRetries <= 0 {
		return provider
	}
	return NewRetryProvider(provider, cfg)
}
