package saferpay

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/ecomkit/saferpay-gateway/internal/config"
)

// gatewayOps mirrors ports.GatewayClient without importing it, so the
// decorator can wrap the concrete Client while both satisfy the port.
type gatewayOps interface {
	Initialize(ctx context.Context, params InitializeParams) (*InitializeResult, error)
	AssertAndCapture(ctx context.Context, params AssertParams) (*AssertResult, error)
	Refund(ctx context.Context, params RefundParams) (*RefundResult, error)
}

// RetryClient retries transient gateway failures with exponential backoff and
// jitter. Every attempt replays the same RequestId with an incremented
// RetryIndicator so the gateway treats retries as one logical operation, not
// a duplicate charge.
type RetryClient struct {
	inner      gatewayOps
	baseDelay  time.Duration
	maxRetries int
}

func NewRetryClient(inner gatewayOps, cfg config.RetryConfig) *RetryClient {
	return &RetryClient{
		inner:      inner,
		baseDelay:  cfg.BaseDelay,
		maxRetries: cfg.MaxRetries,
	}
}

func (r *RetryClient) Initialize(ctx context.Context, params InitializeParams) (*InitializeResult, error) {
	return retry(r, ctx, func(ctx context.Context, attempt int) (*InitializeResult, error) {
		params.RetryIndicator = attempt
		return r.inner.Initialize(ctx, params)
	})
}

func (r *RetryClient) AssertAndCapture(ctx context.Context, params AssertParams) (*AssertResult, error) {
	return retry(r, ctx, func(ctx context.Context, attempt int) (*AssertResult, error) {
		params.RetryIndicator = attempt
		return r.inner.AssertAndCapture(ctx, params)
	})
}

func (r *RetryClient) Refund(ctx context.Context, params RefundParams) (*RefundResult, error) {
	return retry(r, ctx, func(ctx context.Context, attempt int) (*RefundResult, error) {
		params.RetryIndicator = attempt
		return r.inner.Refund(ctx, params)
	})
}

func retry[T any](r *RetryClient, ctx context.Context, operation func(ctx context.Context, attempt int) (*T, error)) (*T, error) {
	var lastErr error

	for attempt := 0; attempt < r.maxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		resp, err := operation(ctx, attempt)
		if err == nil {
			return resp, nil
		}

		lastErr = err

		if !isRetryable(err) {
			return nil, err
		}

		if attempt < r.maxRetries-1 {
			time.Sleep(r.backoff(attempt))
		}
	}

	return nil, fmt.Errorf("maximum retries exceeded: %w", lastErr)
}

func isRetryable(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Retryable()
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	return true
}

// Backoff calculation with exponential delay and jitter.
func (r *RetryClient) backoff(attempt int) time.Duration {
	base := r.baseDelay * time.Duration(1<<attempt)

	jitter := time.Duration(rand.Intn(1000)) * time.Millisecond

	return base + jitter
}
