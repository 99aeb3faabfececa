// Package processor implements the payment capability exposed to the host
// e-commerce application: start a hosted checkout, reconcile the outcome,
// issue refunds.
package processor

import (
	"context"

	"github.com/ecomkit/saferpay-gateway/internal/domain"
)

// Order is the host-side snapshot of the basket being paid for.
type Order struct {
	Reference string
	Amount    string // decimal major units, e.g. "10.00"
	Currency  string
	Lines     []string // product titles, joined into the payment description
}

// Outcome is the small, stable set of host-visible results. Internal gateway
// detail is logged, never shown to the payer.
type Outcome string

const (
	OutcomeSuccess    Outcome = "success"
	OutcomeDeclined   Outcome = "declined"
	OutcomeFailed     Outcome = "failed"
	OutcomeRetryLater Outcome = "retry-later"
	OutcomeProcessing Outcome = "processing"
)

// TransactionParameters tells the host where to send the payer.
type TransactionParameters struct {
	RedirectURL string
	Fields      map[string]string
}

// TransactionResult reports the reconciled outcome of a payment attempt.
type TransactionResult struct {
	Outcome       Outcome
	OrderRef      string
	TransactionID string
	Amount        domain.Money
	CardNumber    string // masked
	CardType      string
}

// RefundResult reports the outcome of an issued credit.
type RefundResult struct {
	Outcome        Outcome
	RefundedCents  int64
	RemainingCents int64
}

// Processor is the capability contract the host application programs
// against. A processor instance is safe for concurrent use; per-order
// serialization happens in the repository.
type Processor interface {
	// GetTransactionParameters starts a payment attempt and returns the
	// hosted payment page redirect. It rejects orders that already have a
	// non-terminal attempt in flight.
	GetTransactionParameters(ctx context.Context, order Order) (*TransactionParameters, error)

	// HandleProcessorResponse reconciles an attempt after the payer's
	// browser returns from the gateway. The browser redirect is advisory:
	// this triggers a server-side assert when the asynchronous notification
	// has not arrived yet, and never confirms payment from the redirect
	// alone.
	HandleProcessorResponse(ctx context.Context, orderRef string) (*TransactionResult, error)

	// IssueCredit refunds part or all of a captured payment.
	IssueCredit(ctx context.Context, orderRef string, amount string) (*RefundResult, error)
}
