package domain

import (
	"errors"
	"fmt"
)

// DomainError represents a business rule violation.
type DomainError struct {
	Code    string
	Message string
	Err     error
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *DomainError) Unwrap() error {
	return e.Err
}

const (
	ErrCodeInvalidTransition   = "INVALID_TRANSITION"
	ErrCodeActiveAttemptExists = "ACTIVE_ATTEMPT_EXISTS"
	ErrCodeInvalidAmount       = "INVALID_AMOUNT"
	ErrCodeRefundExceedsAmount = "REFUND_EXCEEDS_CAPTURED"
	ErrCodeMissingField        = "MISSING_REQUIRED_FIELD"
)

func NewInvalidTransitionError(from, to Status) *DomainError {
	return &DomainError{
		Code:    ErrCodeInvalidTransition,
		Message: fmt.Sprintf("cannot transition from %s to %s", from, to),
	}
}

func NewActiveAttemptError(orderRef string) *DomainError {
	return &DomainError{
		Code:    ErrCodeActiveAttemptExists,
		Message: fmt.Sprintf("order %s already has a payment attempt in flight", orderRef),
	}
}

func NewInvalidAmountError(msg string) *DomainError {
	return &DomainError{
		Code:    ErrCodeInvalidAmount,
		Message: msg,
	}
}

func NewRefundExceedsError(requested, remaining int64) *DomainError {
	return &DomainError{
		Code:    ErrCodeRefundExceedsAmount,
		Message: fmt.Sprintf("refund of %d cents exceeds remaining captured amount of %d cents", requested, remaining),
	}
}

func NewMissingFieldError(field string) *DomainError {
	return &DomainError{
		Code:    ErrCodeMissingField,
		Message: fmt.Sprintf("missing required field: %s", field),
	}
}

// IsErrorCode reports whether err is a DomainError carrying the given code.
func IsErrorCode(err error, code string) bool {
	var domainErr *DomainError
	return errors.As(err, &domainErr) && domainErr.Code == code
}
