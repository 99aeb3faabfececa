package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ecomkit/saferpay-gateway/internal/domain"
	"github.com/ecomkit/saferpay-gateway/internal/persistence/postgres"
	"github.com/ecomkit/saferpay-gateway/internal/saferpay"
)

type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *APIError   `json:"error,omitempty"`
}

type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func respondWithJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	response := APIResponse{
		Success: status >= 200 && status < 300,
	}

	if response.Success {
		response.Data = data
	} else {
		if apiErr, ok := data.(*APIError); ok {
			response.Error = apiErr
		}
	}

	_ = json.NewEncoder(w).Encode(response)
}

func respondWithError(w http.ResponseWriter, err error) {
	code := "INTERNAL_ERROR"
	message := "An internal error occurred"
	status := http.StatusInternalServerError

	var domainErr *domain.DomainError
	switch {
	case errors.As(err, &domainErr):
		code = domainErr.Code
		message = domainErr.Message

		switch domainErr.Code {
		case domain.ErrCodeInvalidAmount, domain.ErrCodeMissingField, domain.ErrCodeRefundExceedsAmount:
			status = http.StatusBadRequest
		case domain.ErrCodeActiveAttemptExists, domain.ErrCodeInvalidTransition:
			status = http.StatusConflict
		default:
			status = http.StatusBadRequest
		}

	case errors.Is(err, postgres.ErrTransactionNotFound):
		code = "TRANSACTION_NOT_FOUND"
		message = "no payment attempt found for this order"
		status = http.StatusNotFound

	default:
		if _, ok := saferpay.IsAPIError(err); ok {
			// Gateway detail stays in the logs, the payer only sees that the
			// payment service is unavailable.
			code = "GATEWAY_UNAVAILABLE"
			message = "payment service temporarily unavailable, try again later"
			status = http.StatusBadGateway
		}
	}

	respondWithJSON(w, status, &APIError{
		Code:    code,
		Message: message,
	})
}
