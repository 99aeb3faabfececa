package saferpay

import (
	"errors"
	"fmt"
)

// Saferpay Behavior values on error responses.
const (
	BehaviorAbort      = "ABORT"
	BehaviorRetry      = "RETRY"
	BehaviorRetryLater = "RETRY_LATER"
	BehaviorOtherMeans = "OTHER_MEANS"
)

// APIError is a failed gateway call: transport failures, 5xx responses and
// non-retryable 4xx rejections all surface as APIError. Business declines are
// not errors; the client maps them to failed results instead.
type APIError struct {
	StatusCode int
	ErrorName  string
	Message    string
	Behavior   string
	Err        error
}

func (e *APIError) Error() string {
	if e.ErrorName != "" {
		return fmt.Sprintf("saferpay: %s (%s, http %d)", e.Message, e.ErrorName, e.StatusCode)
	}
	if e.Err != nil {
		return fmt.Sprintf("saferpay: %v", e.Err)
	}
	return fmt.Sprintf("saferpay: http %d", e.StatusCode)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// Retryable reports whether the call may be replayed with the same RequestId.
// Transport failures, 5xx responses and explicit RETRY/RETRY_LATER behaviors
// are retryable; everything else is surfaced immediately.
func (e *APIError) Retryable() bool {
	if e.StatusCode >= 500 || e.StatusCode == 0 {
		return true
	}
	switch e.Behavior {
	case BehaviorRetry, BehaviorRetryLater:
		return true
	}
	return false
}

// declineNames are gateway rejections that represent a normal "payment did
// not happen" outcome rather than an integration fault.
var declineNames = map[string]bool{
	"TRANSACTION_DECLINED":       true,
	"TRANSACTION_ABORTED":        true,
	"TRANSACTION_IN_WRONG_STATE": false,
	"CARD_CHECK_FAILED":          true,
	"CARD_CVC_INVALID":           true,
	"3DS_AUTHENTICATION_FAILED":  true,
	"BLOCKED_BY_RISK_MANAGEMENT": true,
	"PAYMENTMEANS_INVALID":       true,
	"AMOUNT_INVALID":             false,
	"NO_CONTRACT":                false,
	"PERMISSION_DENIED":          false,
	"AUTHENTICATION_FAILED":      false,
}

// IsDecline reports whether the error is a business-level decline, i.e. the
// gateway processed the request and said no. Declined payments map to a
// failed transaction state, never to a gateway error.
func IsDecline(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	if apiErr.Behavior == BehaviorOtherMeans {
		return true
	}
	return declineNames[apiErr.ErrorName]
}

// IsAPIError extracts an APIError from an error chain.
func IsAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	ok := errors.As(err, &apiErr)
	return apiErr, ok
}
