package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/ecomkit/saferpay-gateway/internal/processor"
)

type startPaymentRequest struct {
	OrderReference string   `json:"order_reference"`
	Amount         string   `json:"amount"`
	Currency       string   `json:"currency"`
	Lines          []string `json:"lines,omitempty"`
}

type startPaymentResponse struct {
	RedirectURL string            `json:"redirect_url"`
	Fields      map[string]string `json:"fields"`
}

// StartPayment starts a hosted checkout session for an order and returns the
// redirect URL.
func (h *Handlers) StartPayment(w http.ResponseWriter, r *http.Request) {
	var req startPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithJSON(w, http.StatusBadRequest, &APIError{
			Code:    "INVALID_JSON",
			Message: "request body is not valid JSON",
		})
		return
	}

	params, err := h.proc.GetTransactionParameters(r.Context(), processor.Order{
		Reference: req.OrderReference,
		Amount:    req.Amount,
		Currency:  req.Currency,
		Lines:     req.Lines,
	})
	if err != nil {
		h.logger.Error("start payment failed",
			"order_ref", req.OrderReference,
			"error", err,
		)
		respondWithError(w, err)
		return
	}

	respondWithJSON(w, http.StatusCreated, startPaymentResponse{
		RedirectURL: params.RedirectURL,
		Fields:      params.Fields,
	})
}

type refundRequest struct {
	Amount string `json:"amount"`
}

type refundResponse struct {
	Outcome        processor.Outcome `json:"outcome"`
	RefundedCents  int64             `json:"refunded_cents"`
	RemainingCents int64             `json:"remaining_cents"`
}

// Refund issues a partial or full credit against a captured payment.
func (h *Handlers) Refund(w http.ResponseWriter, r *http.Request) {
	orderRef := r.PathValue("order")

	var req refundRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithJSON(w, http.StatusBadRequest, &APIError{
			Code:    "INVALID_JSON",
			Message: "request body is not valid JSON",
		})
		return
	}

	result, err := h.proc.IssueCredit(r.Context(), orderRef, req.Amount)
	if err != nil {
		h.logger.Error("refund failed", "order_ref", orderRef, "error", err)
		respondWithError(w, err)
		return
	}

	if result.Outcome != processor.OutcomeSuccess {
		respondWithJSON(w, http.StatusUnprocessableEntity, &APIError{
			Code:    "REFUND_REJECTED",
			Message: "the gateway rejected the refund",
		})
		return
	}
	respondWithJSON(w, http.StatusOK, refundResponse{
		Outcome:        result.Outcome,
		RefundedCents:  result.RefundedCents,
		RemainingCents: result.RemainingCents,
	})
}
