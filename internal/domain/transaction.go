// Package domain defines the payment transaction model and its state machine.
package domain

import (
	"time"
)

// Status represents the current state of a payment attempt in its lifecycle.
type Status string

const (
	StatusCreated         Status = "CREATED"
	StatusPendingRedirect Status = "PENDING_REDIRECT"
	StatusNotified        Status = "NOTIFIED"
	StatusCaptured        Status = "CAPTURED"
	StatusRefunded        Status = "REFUNDED"
	StatusFailed          Status = "FAILED"
	StatusCancelled       Status = "CANCELLED"
)

// Transaction represents one payment attempt for one order. At most one
// non-terminal Transaction may exist per order reference at any time; the
// repository enforces this with a partial unique index.
type Transaction struct {
	OrderRef     string
	GatewayToken string // Saferpay Token, assigned on Initialize
	GatewayTxID  string // Transaction.Id from Assert
	CaptureID    string // CaptureId from Transaction/Capture, needed for refunds
	AmountCents  int64
	Currency     string

	Status    Status
	RequestID string // idempotency token, stable for the attempt's lifetime

	RefundedCents     int64
	LastGatewayStatus string

	CreatedAt  time.Time
	UpdatedAt  time.Time
	CapturedAt *time.Time
}

// NewTransaction creates a payment attempt in the CREATED state. The request
// ID is the idempotency token replayed unchanged on every gateway call for
// this attempt.
func NewTransaction(orderRef, requestID string, amount Money) (*Transaction, error) {
	if orderRef == "" {
		return nil, NewMissingFieldError("order_reference")
	}
	if requestID == "" {
		return nil, NewMissingFieldError("request_id")
	}
	if amount.Cents <= 0 {
		return nil, NewInvalidAmountError("amount must be positive")
	}

	now := time.Now().UTC()
	return &Transaction{
		OrderRef:    orderRef,
		AmountCents: amount.Cents,
		Currency:    amount.Currency,
		Status:      StatusCreated,
		RequestID:   requestID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// CanTransitionTo validates whether the transaction can move from its current
// status to the target status. It returns nil if the transition is allowed.
//
// Valid transitions are:
//   - Created → PendingRedirect, Failed
//   - PendingRedirect → Notified, Cancelled, Failed
//   - Notified → Captured, Failed
//   - Captured → Refunded
//
// Refunded, Failed and Cancelled allow no further transitions. Captured is
// terminal except for the refund path.
func (t *Transaction) CanTransitionTo(target Status) error {
	switch t.Status {
	case StatusRefunded, StatusFailed, StatusCancelled:
		return NewInvalidTransitionError(t.Status, target)

	case StatusCreated:
		if target == StatusPendingRedirect || target == StatusFailed {
			return nil
		}

	case StatusPendingRedirect:
		if target == StatusNotified || target == StatusCancelled || target == StatusFailed {
			return nil
		}

	case StatusNotified:
		if target == StatusCaptured || target == StatusFailed {
			return nil
		}

	case StatusCaptured:
		if target == StatusRefunded {
			return nil
		}
	}
	return NewInvalidTransitionError(t.Status, target)
}

// IsTerminal reports whether the transaction reached a state after which a new
// payment attempt for the same order may be started. Captured counts as
// terminal: the money has moved and only the refund path remains open.
func (t *Transaction) IsTerminal() bool {
	switch t.Status {
	case StatusCaptured, StatusRefunded, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// MarkPendingRedirect records a successful Initialize: the gateway token
// identifies the hosted payment page session.
func (t *Transaction) MarkPendingRedirect(token string) error {
	if err := t.CanTransitionTo(StatusPendingRedirect); err != nil {
		return err
	}
	if token == "" {
		return NewMissingFieldError("gateway token")
	}
	t.GatewayToken = token
	t.Status = StatusPendingRedirect
	t.UpdatedAt = time.Now().UTC()
	return nil
}

// MarkNotified records receipt of a verified completion notification.
func (t *Transaction) MarkNotified() error {
	if err := t.CanTransitionTo(StatusNotified); err != nil {
		return err
	}
	t.Status = StatusNotified
	t.UpdatedAt = time.Now().UTC()
	return nil
}

// Capture records a confirmed, settled payment. This is the only transition
// the host-visible success signal may depend on.
func (t *Transaction) Capture(gatewayTxID, captureID, rawStatus string) error {
	if err := t.CanTransitionTo(StatusCaptured); err != nil {
		return err
	}
	now := time.Now().UTC()
	t.GatewayTxID = gatewayTxID
	t.CaptureID = captureID
	t.LastGatewayStatus = rawStatus
	t.Status = StatusCaptured
	t.CapturedAt = &now
	t.UpdatedAt = now
	return nil
}

// Fail moves the attempt to its failed terminal state.
func (t *Transaction) Fail(rawStatus string) error {
	if err := t.CanTransitionTo(StatusFailed); err != nil {
		return err
	}
	if rawStatus != "" {
		t.LastGatewayStatus = rawStatus
	}
	t.Status = StatusFailed
	t.UpdatedAt = time.Now().UTC()
	return nil
}

// Cancel records a payer abort on the hosted payment page.
func (t *Transaction) Cancel() error {
	if err := t.CanTransitionTo(StatusCancelled); err != nil {
		return err
	}
	t.Status = StatusCancelled
	t.UpdatedAt = time.Now().UTC()
	return nil
}

// ApplyRefund accumulates a partial or full refund against the captured
// amount. The transaction stays CAPTURED until the full amount has been
// refunded, then moves to REFUNDED.
func (t *Transaction) ApplyRefund(cents int64) error {
	if err := t.CanTransitionTo(StatusRefunded); err != nil {
		return err
	}
	if cents <= 0 {
		return NewInvalidAmountError("refund amount must be positive")
	}
	remaining := t.RemainingRefundable()
	if cents > remaining {
		return NewRefundExceedsError(cents, remaining)
	}

	t.RefundedCents += cents
	if t.RefundedCents == t.AmountCents {
		t.Status = StatusRefunded
	}
	t.UpdatedAt = time.Now().UTC()
	return nil
}

// ReleaseRefund backs a reserved credit out of the ledger after the gateway
// did not move the money. A full reservation that flipped the row to REFUNDED
// is restored to CAPTURED.
func (t *Transaction) ReleaseRefund(cents int64) error {
	if cents <= 0 {
		return NewInvalidAmountError("refund amount must be positive")
	}
	if t.Status != StatusCaptured && t.Status != StatusRefunded {
		return NewInvalidTransitionError(t.Status, StatusCaptured)
	}
	if cents > t.RefundedCents {
		return NewInvalidAmountError("cannot release more than the reserved refund amount")
	}

	t.RefundedCents -= cents
	if t.Status == StatusRefunded {
		t.Status = StatusCaptured
	}
	t.UpdatedAt = time.Now().UTC()
	return nil
}

// RemainingRefundable returns how many cents can still be refunded.
func (t *Transaction) RemainingRefundable() int64 {
	return t.AmountCents - t.RefundedCents
}

// RecordGatewayStatus keeps the raw status of the most recent gateway
// response for diagnostics.
func (t *Transaction) RecordGatewayStatus(raw string) {
	if raw == "" {
		return
	}
	t.LastGatewayStatus = raw
	t.UpdatedAt = time.Now().UTC()
}

// Amount returns the attempt's amount as Money.
func (t *Transaction) Amount() Money {
	return Money{Cents: t.AmountCents, Currency: t.Currency}
}
