package processor

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/ecomkit/saferpay-gateway/internal/config"
	"github.com/ecomkit/saferpay-gateway/internal/domain"
	"github.com/ecomkit/saferpay-gateway/internal/metrics"
	"github.com/ecomkit/saferpay-gateway/internal/ports"
	"github.com/ecomkit/saferpay-gateway/internal/saferpay"
)

// Name is the identifier the host uses to look this processor up.
const Name = "saferpay"

// Saferpay orchestrates the hosted checkout flow against the Saferpay
// gateway. All state lives in the repository; the struct itself is
// read-only after construction.
type Saferpay struct {
	repo     ports.TransactionRepository
	gateway  ports.GatewayClient
	codec    *saferpay.Codec
	checkout config.CheckoutConfig
	logger   *slog.Logger
}

func NewSaferpay(
	repo ports.TransactionRepository,
	gateway ports.GatewayClient,
	codec *saferpay.Codec,
	checkout config.CheckoutConfig,
	logger *slog.Logger,
) *Saferpay {
	return &Saferpay{
		repo:     repo,
		gateway:  gateway,
		codec:    codec,
		checkout: checkout,
		logger:   logger,
	}
}

// GetTransactionParameters creates a payment attempt, initializes a hosted
// payment page session and returns the redirect URL. A failed Initialize
// rolls the attempt to FAILED so it never blocks future attempts in CREATED.
func (p *Saferpay) GetTransactionParameters(ctx context.Context, order Order) (*TransactionParameters, error) {
	amount, err := domain.ParseMoney(order.Amount, order.Currency)
	if err != nil {
		return nil, err
	}

	txn, err := domain.NewTransaction(order.Reference, p.codec.NewRequestID(), amount)
	if err != nil {
		return nil, err
	}

	if err := p.repo.Create(ctx, txn); err != nil {
		return nil, err
	}

	params := saferpay.InitializeParams{
		RequestID:   txn.RequestID,
		OrderRef:    order.Reference,
		Description: strings.Join(order.Lines, "\n"),
		Amount:      amount,
		URLs:        p.returnURLs(order.Reference),
	}

	// Gateway call happens outside any lock; the attempt row exists but is
	// only advanced below once Initialize succeeded.
	result, err := p.gateway.Initialize(ctx, params)
	if err != nil {
		p.failAttempt(ctx, order.Reference, txn.RequestID, gatewayStatus(err))
		return nil, err
	}

	err = p.repo.WithTx(ctx, func(repo ports.TransactionRepository) error {
		current, err := repo.FindByOrderRefForUpdate(ctx, order.Reference)
		if err != nil {
			return err
		}
		if current.RequestID != txn.RequestID {
			return domain.NewActiveAttemptError(order.Reference)
		}
		if err := current.MarkPendingRedirect(result.Token); err != nil {
			return err
		}
		return repo.Update(ctx, current)
	})
	if err != nil {
		return nil, err
	}

	p.logger.Info("payment attempt started",
		"order_ref", order.Reference,
		"amount", amount.String(),
	)

	return &TransactionParameters{
		RedirectURL: result.RedirectURL,
		Fields: map[string]string{
			"order_reference": order.Reference,
		},
	}, nil
}

// HandleProcessorResponse reconciles the attempt after the payer's browser
// returned from the gateway.
func (p *Saferpay) HandleProcessorResponse(ctx context.Context, orderRef string) (*TransactionResult, error) {
	outcome, assertRes, err := p.Confirm(ctx, orderRef)
	if err != nil {
		p.logger.Error("reconciliation after browser return failed",
			"order_ref", orderRef,
			"error", err,
		)
		if outcome == "" {
			return nil, err
		}
	}

	result := &TransactionResult{
		Outcome:  outcome,
		OrderRef: orderRef,
	}
	if assertRes != nil {
		result.TransactionID = assertRes.TransactionID
		result.Amount = assertRes.Amount
		result.CardNumber = assertRes.CardMasked
		result.CardType = assertRes.CardBrand
	}
	return result, nil
}

// Confirm asserts the gateway-side state of an attempt and applies the
// resulting transition. It is shared by the browser-return path, the
// notification endpoint and the reconciler, and is idempotent: an attempt
// already captured produces a success without another gateway call.
//
// Locking follows read-release-call-reacquire: the per-order lock is never
// held across the outbound gateway call.
func (p *Saferpay) Confirm(ctx context.Context, orderRef string) (Outcome, *saferpay.AssertResult, error) {
	var snap *domain.Transaction
	err := p.repo.WithTx(ctx, func(repo ports.TransactionRepository) error {
		t, err := repo.FindByOrderRefForUpdate(ctx, orderRef)
		if err != nil {
			return err
		}
		snap = t
		return nil
	})
	if err != nil {
		return "", nil, err
	}

	switch snap.Status {
	case domain.StatusCaptured, domain.StatusRefunded:
		return OutcomeSuccess, nil, nil
	case domain.StatusFailed:
		return OutcomeFailed, nil, nil
	case domain.StatusCancelled:
		return OutcomeDeclined, nil, nil
	case domain.StatusCreated:
		// Initialize has not completed; nothing to assert yet.
		return OutcomeProcessing, nil, nil
	}

	assertRes, err := p.gateway.AssertAndCapture(ctx, saferpay.AssertParams{
		RequestID: snap.RequestID,
		Token:     snap.GatewayToken,
	})
	if err != nil {
		// Transient failure: the attempt stays where it is and the
		// notification redelivery or the reconciler picks it up again.
		return OutcomeRetryLater, nil, err
	}

	outcome := OutcomeProcessing
	err = p.repo.WithTx(ctx, func(repo ports.TransactionRepository) error {
		t, err := repo.FindByOrderRefForUpdate(ctx, orderRef)
		if err != nil {
			return err
		}

		// A concurrent handler may have finished the job while the gateway
		// call was in flight.
		if t.Status == domain.StatusCaptured || t.Status == domain.StatusRefunded {
			outcome = OutcomeSuccess
			return nil
		}
		if t.IsTerminal() {
			outcome = OutcomeFailed
			return nil
		}

		switch assertRes.Status {
		case saferpay.CaptureCaptured:
			if t.Status == domain.StatusPendingRedirect {
				if err := t.MarkNotified(); err != nil {
					return err
				}
			}
			if err := t.Capture(assertRes.TransactionID, assertRes.CaptureID, assertRes.RawStatus); err != nil {
				return err
			}
			outcome = OutcomeSuccess
			metrics.TransactionStates.WithLabelValues(string(domain.StatusCaptured)).Inc()

		case saferpay.CapturePending:
			t.RecordGatewayStatus(assertRes.RawStatus)
			outcome = OutcomeProcessing

		case saferpay.CaptureFailed:
			if err := t.Fail(assertRes.RawStatus); err != nil {
				return err
			}
			outcome = OutcomeDeclined
			metrics.TransactionStates.WithLabelValues(string(domain.StatusFailed)).Inc()
		}

		return repo.Update(ctx, t)
	})
	if err != nil {
		return OutcomeRetryLater, assertRes, err
	}

	return outcome, assertRes, nil
}

// MarkNotified applies the pending_redirect → notified transition for a
// verified notification. A repeat notification for an attempt already in
// NOTIFIED or later is a no-op; it reports alreadyDone so the caller can
// acknowledge without re-asserting.
func (p *Saferpay) MarkNotified(ctx context.Context, orderRef string) (alreadyDone bool, err error) {
	err = p.repo.WithTx(ctx, func(repo ports.TransactionRepository) error {
		t, err := repo.FindByOrderRefForUpdate(ctx, orderRef)
		if err != nil {
			return err
		}

		switch t.Status {
		case domain.StatusNotified, domain.StatusCaptured, domain.StatusRefunded:
			alreadyDone = true
			return nil
		}

		if err := t.MarkNotified(); err != nil {
			return err
		}
		return repo.Update(ctx, t)
	})
	return alreadyDone, err
}

// HandleAbort records a payer abort from the hosted payment page. Illegal
// transitions (e.g. the notification already confirmed the payment) are
// swallowed as no-ops with a diagnostic log.
func (p *Saferpay) HandleAbort(ctx context.Context, orderRef string) Outcome {
	err := p.repo.WithTx(ctx, func(repo ports.TransactionRepository) error {
		t, err := repo.FindByOrderRefForUpdate(ctx, orderRef)
		if err != nil {
			return err
		}
		if err := t.Cancel(); err != nil {
			return err
		}
		metrics.TransactionStates.WithLabelValues(string(domain.StatusCancelled)).Inc()
		return repo.Update(ctx, t)
	})
	if err != nil {
		if domain.IsErrorCode(err, domain.ErrCodeInvalidTransition) {
			p.logger.Warn("abort after attempt already settled, ignoring",
				"order_ref", orderRef,
				"error", err,
			)
			return OutcomeProcessing
		}
		p.logger.Error("failed to record abort", "order_ref", orderRef, "error", err)
		return OutcomeFailed
	}
	return OutcomeDeclined
}

// IssueCredit refunds part or all of a captured payment. The amount is
// reserved on the ledger under the row lock before the gateway is called, so
// two concurrent credits cannot both pass the remaining-refundable check and
// pay out twice; a rejected or failed gateway call releases the reservation.
// Each credit is its own logical gateway operation with a fresh request id;
// retries of one credit reuse that id inside the retry client.
func (p *Saferpay) IssueCredit(ctx context.Context, orderRef string, amount string) (*RefundResult, error) {
	var (
		money     domain.Money
		captureID string
	)
	err := p.repo.WithTx(ctx, func(repo ports.TransactionRepository) error {
		t, err := repo.FindByOrderRefForUpdate(ctx, orderRef)
		if err != nil {
			return err
		}
		money, err = domain.ParseMoney(amount, t.Currency)
		if err != nil {
			return err
		}
		if err := t.ApplyRefund(money.Cents); err != nil {
			return err
		}
		captureID = t.CaptureID
		return repo.Update(ctx, t)
	})
	if err != nil {
		return nil, err
	}

	refundRes, err := p.gateway.Refund(ctx, saferpay.RefundParams{
		RequestID: p.codec.NewRequestID(),
		CaptureID: captureID,
		Amount:    money,
	})
	if err != nil {
		p.releaseCredit(ctx, orderRef, money.Cents)
		return nil, err
	}
	if refundRes.Status != saferpay.RefundRefunded {
		p.logger.Warn("refund rejected by gateway",
			"order_ref", orderRef,
			"gateway_status", refundRes.RawStatus,
		)
		p.releaseCredit(ctx, orderRef, money.Cents)
		return &RefundResult{Outcome: OutcomeFailed}, nil
	}

	result := &RefundResult{Outcome: OutcomeSuccess}
	err = p.repo.WithTx(ctx, func(repo ports.TransactionRepository) error {
		t, err := repo.FindByOrderRefForUpdate(ctx, orderRef)
		if err != nil {
			return err
		}
		t.RecordGatewayStatus(refundRes.RawStatus)
		if t.Status == domain.StatusRefunded {
			metrics.TransactionStates.WithLabelValues(string(domain.StatusRefunded)).Inc()
		}
		result.RefundedCents = t.RefundedCents
		result.RemainingCents = t.RemainingRefundable()
		return repo.Update(ctx, t)
	})
	if err != nil {
		return nil, err
	}

	p.logger.Info("refund issued",
		"order_ref", orderRef,
		"amount", money.String(),
		"remaining_cents", result.RemainingCents,
	)
	return result, nil
}

// releaseCredit backs a refund reservation out after the gateway did not move
// the money.
func (p *Saferpay) releaseCredit(ctx context.Context, orderRef string, cents int64) {
	err := p.repo.WithTx(ctx, func(repo ports.TransactionRepository) error {
		t, err := repo.FindByOrderRefForUpdate(ctx, orderRef)
		if err != nil {
			return err
		}
		if err := t.ReleaseRefund(cents); err != nil {
			return err
		}
		return repo.Update(ctx, t)
	})
	if err != nil {
		p.logger.Error("failed to release refund reservation",
			"order_ref", orderRef,
			"cents", cents,
			"error", err,
		)
	}
}

// failAttempt rolls a just-created attempt to FAILED after Initialize did not
// produce a redirect, so the order is free for a new attempt.
func (p *Saferpay) failAttempt(ctx context.Context, orderRef, requestID, rawStatus string) {
	err := p.repo.WithTx(ctx, func(repo ports.TransactionRepository) error {
		t, err := repo.FindByOrderRefForUpdate(ctx, orderRef)
		if err != nil {
			return err
		}
		if t.RequestID != requestID || t.IsTerminal() {
			return nil
		}
		if err := t.Fail(rawStatus); err != nil {
			return err
		}
		metrics.TransactionStates.WithLabelValues(string(domain.StatusFailed)).Inc()
		return repo.Update(ctx, t)
	})
	if err != nil {
		p.logger.Error("failed to roll back attempt after initialize failure",
			"order_ref", orderRef,
			"error", err,
		)
	}
}

func (p *Saferpay) returnURLs(orderRef string) saferpay.ReturnURLs {
	return saferpay.ReturnURLs{
		Success: withOrderRef(p.checkout.SuccessURL, orderRef),
		Fail:    withOrderRef(p.checkout.FailURL, orderRef),
		Abort:   withOrderRef(p.checkout.AbortURL, orderRef),
		Notify:  withOrderRef(p.checkout.NotifyURL, orderRef),
	}
}

func withOrderRef(base, orderRef string) string {
	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
	}
	return fmt.Sprintf("%s%sorder=%s", base, sep, url.QueryEscape(orderRef))
}

func gatewayStatus(err error) string {
	if apiErr, ok := saferpay.IsAPIError(err); ok && apiErr.ErrorName != "" {
		return apiErr.ErrorName
	}
	return "INITIALIZE_FAILED"
}
