package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ecomkit/saferpay-gateway/internal/domain"
	"github.com/ecomkit/saferpay-gateway/internal/metrics"
	"github.com/ecomkit/saferpay-gateway/internal/persistence/postgres"
	"github.com/ecomkit/saferpay-gateway/internal/processor"
	"github.com/ecomkit/saferpay-gateway/internal/saferpay"
)

// Notify handles the gateway's server-to-server completion callback. The
// payload token is verified against the stored transaction before any state
// changes; an unverifiable notification is dropped with a minimal ack so the
// sender learns nothing about known order references. A 200 is returned only
// once the outcome is durable; anything transient gets a 500 so the gateway
// redelivers.
func (h *Handlers) Notify(w http.ResponseWriter, r *http.Request) {
	var event saferpay.NotificationEvent
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		metrics.Notifications.WithLabelValues("rejected").Inc()
		h.logger.Warn("notification with unparseable body dropped")
		w.WriteHeader(http.StatusOK)
		return
	}

	if event.OrderID == "" {
		// Some payload variants omit the order id; the notify URL carries it
		// as a query parameter.
		event.OrderID = r.URL.Query().Get("order")
	}
	orderRef := event.OrderID

	tx, err := h.repo.FindByOrderRef(r.Context(), orderRef)
	if err != nil && !errors.Is(err, postgres.ErrTransactionNotFound) {
		metrics.Notifications.WithLabelValues("error").Inc()
		h.logger.Error("notification lookup failed", "order_ref", orderRef, "error", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	if !h.codec.VerifyNotification(event, tx) {
		metrics.Notifications.WithLabelValues("rejected").Inc()
		h.logger.Warn("unverifiable notification dropped", "order_ref", orderRef)
		w.WriteHeader(http.StatusOK)
		return
	}

	// A conflicting notification for an attempt we already closed locally is
	// acknowledged so the gateway stops redelivering, but nothing changes.
	if tx.Status == domain.StatusFailed || tx.Status == domain.StatusCancelled {
		metrics.Notifications.WithLabelValues("conflict").Inc()
		h.logger.Warn("notification for closed attempt ignored",
			"order_ref", orderRef,
			"status", tx.Status,
		)
		w.WriteHeader(http.StatusOK)
		return
	}

	alreadyDone, err := h.proc.MarkNotified(r.Context(), orderRef)
	if err != nil {
		metrics.Notifications.WithLabelValues("error").Inc()
		h.logger.Error("marking notification failed", "order_ref", orderRef, "error", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	if alreadyDone {
		metrics.Notifications.WithLabelValues("duplicate").Inc()
	} else {
		metrics.Notifications.WithLabelValues("verified").Inc()
	}

	outcome, _, err := h.proc.Confirm(r.Context(), orderRef)
	if err != nil {
		metrics.Notifications.WithLabelValues("error").Inc()
		h.logger.Error("confirming notification failed", "order_ref", orderRef, "error", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	switch outcome {
	case processor.OutcomeSuccess, processor.OutcomeDeclined:
		w.WriteHeader(http.StatusOK)
	default:
		// Not settled yet. Fail the delivery so the gateway tries again.
		h.logger.Info("notification outcome not durable yet",
			"order_ref", orderRef,
			"outcome", outcome,
		)
		w.WriteHeader(http.StatusInternalServerError)
	}
}

// Return handles the payer's browser coming back from the hosted payment
// page. The redirect alone proves nothing: the outcome is reconciled
// server-side before anything is reported.
func (h *Handlers) Return(w http.ResponseWriter, r *http.Request) {
	orderRef := r.URL.Query().Get("order")
	if orderRef == "" {
		respondWithJSON(w, http.StatusBadRequest, &APIError{
			Code:    "MISSING_ORDER",
			Message: "order query parameter is required",
		})
		return
	}

	result, err := h.proc.HandleProcessorResponse(r.Context(), orderRef)
	if err != nil {
		h.logger.Error("return reconciliation failed", "order_ref", orderRef, "error", err)
		respondWithError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, transactionResultResponse(result))
}

// Fail handles the browser redirect after the gateway reported a failed
// payment. The attempt is still reconciled server-side: the fail redirect is
// advisory and a notification may already have captured the payment.
func (h *Handlers) Fail(w http.ResponseWriter, r *http.Request) {
	h.Return(w, r)
}

// Abort handles the payer cancelling on the hosted payment page.
func (h *Handlers) Abort(w http.ResponseWriter, r *http.Request) {
	orderRef := r.URL.Query().Get("order")
	if orderRef == "" {
		respondWithJSON(w, http.StatusBadRequest, &APIError{
			Code:    "MISSING_ORDER",
			Message: "order query parameter is required",
		})
		return
	}

	outcome := h.proc.HandleAbort(r.Context(), orderRef)
	respondWithJSON(w, http.StatusOK, map[string]any{
		"order_reference": orderRef,
		"outcome":         outcome,
	})
}

type transactionResult struct {
	Outcome        processor.Outcome `json:"outcome"`
	OrderReference string            `json:"order_reference"`
	TransactionID  string            `json:"transaction_id,omitempty"`
	Amount         string            `json:"amount,omitempty"`
	Currency       string            `json:"currency,omitempty"`
	CardNumber     string            `json:"card_number,omitempty"`
	CardType       string            `json:"card_type,omitempty"`
}

func transactionResultResponse(result *processor.TransactionResult) transactionResult {
	resp := transactionResult{
		Outcome:        result.Outcome,
		OrderReference: result.OrderRef,
		TransactionID:  result.TransactionID,
		CardNumber:     result.CardNumber,
		CardType:       result.CardType,
	}
	if result.Amount.Cents > 0 {
		resp.Amount = result.Amount.String()
		resp.Currency = result.Amount.Currency
	}
	return resp
}
