package ports

import (
	"context"
	"time"

	"github.com/ecomkit/saferpay-gateway/internal/domain"
)

// TransactionRepository persists payment attempts keyed by order reference.
// The store must provide atomic read-modify-write semantics per order:
// FindByOrderRefForUpdate inside WithTx serializes concurrent transitions for
// the same order without blocking unrelated orders.
type TransactionRepository interface {
	// Create inserts a new attempt. It fails with a domain error of code
	// ACTIVE_ATTEMPT_EXISTS when a non-terminal attempt already exists for
	// the order.
	Create(ctx context.Context, tx *domain.Transaction) error

	// FindByOrderRef returns the most recent attempt for the order.
	FindByOrderRef(ctx context.Context, orderRef string) (*domain.Transaction, error)

	// FindByOrderRefForUpdate is FindByOrderRef with an exclusive row lock.
	// Only meaningful inside WithTx.
	FindByOrderRefForUpdate(ctx context.Context, orderRef string) (*domain.Transaction, error)

	Update(ctx context.Context, tx *domain.Transaction) error

	// FindStuckNotified returns attempts sitting in NOTIFIED longer than
	// olderThan, for the reconciler to re-drive.
	FindStuckNotified(ctx context.Context, olderThan time.Duration, limit int) ([]*domain.Transaction, error)

	// WithTx runs fn inside a database transaction; the repository passed to
	// fn operates on that transaction.
	WithTx(ctx context.Context, fn func(repo TransactionRepository) error) error
}
