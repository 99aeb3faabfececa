// Package ports defines the interfaces between the orchestration layer and
// its collaborators: the gateway client and the transaction store.
package ports

import (
	"context"

	"github.com/ecomkit/saferpay-gateway/internal/saferpay"
)

// GatewayClient wraps the three Saferpay operations the checkout flow needs.
// Implementations must be safe for concurrent use.
type GatewayClient interface {
	Initialize(ctx context.Context, params saferpay.InitializeParams) (*saferpay.InitializeResult, error)
	AssertAndCapture(ctx context.Context, params saferpay.AssertParams) (*saferpay.AssertResult, error)
	Refund(ctx context.Context, params saferpay.RefundParams) (*saferpay.RefundResult, error)
}
