// Package handlers exposes the HTTP surface of the gateway integration: the
// host-facing payment API, the payer's browser-return callbacks and the
// asynchronous completion notification endpoint.
package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/ecomkit/saferpay-gateway/internal/ports"
	"github.com/ecomkit/saferpay-gateway/internal/processor"
	"github.com/ecomkit/saferpay-gateway/internal/saferpay"
)

// PaymentProcessor is the subset of the Saferpay processor the handlers use.
// It extends the host capability contract with the callback-side operations.
type PaymentProcessor interface {
	processor.Processor
	Confirm(ctx context.Context, orderRef string) (processor.Outcome, *saferpay.AssertResult, error)
	MarkNotified(ctx context.Context, orderRef string) (bool, error)
	HandleAbort(ctx context.Context, orderRef string) processor.Outcome
}

type Handlers struct {
	proc   PaymentProcessor
	repo   ports.TransactionRepository
	codec  *saferpay.Codec
	logger *slog.Logger
}

func NewHandlers(
	proc PaymentProcessor,
	repo ports.TransactionRepository,
	codec *saferpay.Codec,
	logger *slog.Logger,
) *Handlers {
	return &Handlers{
		proc:   proc,
		repo:   repo,
		codec:  codec,
		logger: logger,
	}
}

// Register mounts all routes on the mux.
func (h *Handlers) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/payments", h.StartPayment)
	mux.HandleFunc("POST /api/v1/payments/{order}/refunds", h.Refund)
	mux.HandleFunc("POST /payments/saferpay/notify", h.Notify)
	mux.HandleFunc("GET /payments/saferpay/return", h.Return)
	mux.HandleFunc("GET /payments/saferpay/fail", h.Fail)
	mux.HandleFunc("GET /payments/saferpay/abort", h.Abort)
}
