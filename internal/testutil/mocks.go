// Package testutil provides in-memory fakes for the transaction store and
// the gateway client. Each method can be overridden per-test through its
// corresponding Fn field; without an override the fake falls through to a
// reasonable in-memory behavior.
package testutil

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ecomkit/saferpay-gateway/internal/domain"
	"github.com/ecomkit/saferpay-gateway/internal/persistence/postgres"
	"github.com/ecomkit/saferpay-gateway/internal/ports"
	"github.com/ecomkit/saferpay-gateway/internal/saferpay"
)

// MemoryRepository
type MemoryRepository struct {
	mu       sync.Mutex
	attempts map[string][]*domain.Transaction // order ref -> attempts, newest last

	CreateFn                  func(ctx context.Context, tx *domain.Transaction) error
	FindByOrderRefFn          func(ctx context.Context, orderRef string) (*domain.Transaction, error)
	FindByOrderRefForUpdateFn func(ctx context.Context, orderRef string) (*domain.Transaction, error)
	UpdateFn                  func(ctx context.Context, tx *domain.Transaction) error
	FindStuckNotifiedFn       func(ctx context.Context, olderThan time.Duration, limit int) ([]*domain.Transaction, error)
	WithTxFn                  func(ctx context.Context, fn func(repo ports.TransactionRepository) error) error
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		attempts: make(map[string][]*domain.Transaction),
	}
}

func (m *MemoryRepository) Create(ctx context.Context, tx *domain.Transaction) error {
	if m.CreateFn != nil {
		return m.CreateFn(ctx, tx)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.create(tx)
}

func (m *MemoryRepository) create(tx *domain.Transaction) error {
	for _, existing := range m.attempts[tx.OrderRef] {
		if !existing.IsTerminal() {
			return domain.NewActiveAttemptError(tx.OrderRef)
		}
	}
	m.attempts[tx.OrderRef] = append(m.attempts[tx.OrderRef], clone(tx))
	return nil
}

func (m *MemoryRepository) FindByOrderRef(ctx context.Context, orderRef string) (*domain.Transaction, error) {
	if m.FindByOrderRefFn != nil {
		return m.FindByOrderRefFn(ctx, orderRef)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.find(orderRef)
}

func (m *MemoryRepository) find(orderRef string) (*domain.Transaction, error) {
	list := m.attempts[orderRef]
	if len(list) == 0 {
		return nil, postgres.ErrTransactionNotFound
	}
	return clone(list[len(list)-1]), nil
}

func (m *MemoryRepository) FindByOrderRefForUpdate(ctx context.Context, orderRef string) (*domain.Transaction, error) {
	if m.FindByOrderRefForUpdateFn != nil {
		return m.FindByOrderRefForUpdateFn(ctx, orderRef)
	}
	return m.FindByOrderRef(ctx, orderRef)
}

func (m *MemoryRepository) Update(ctx context.Context, tx *domain.Transaction) error {
	if m.UpdateFn != nil {
		return m.UpdateFn(ctx, tx)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.update(tx)
}

func (m *MemoryRepository) update(tx *domain.Transaction) error {
	list := m.attempts[tx.OrderRef]
	for i, existing := range list {
		if existing.RequestID == tx.RequestID {
			list[i] = clone(tx)
			return nil
		}
	}
	return postgres.ErrTransactionNotFound
}

func (m *MemoryRepository) FindStuckNotified(ctx context.Context, olderThan time.Duration, limit int) ([]*domain.Transaction, error) {
	if m.FindStuckNotifiedFn != nil {
		return m.FindStuckNotifiedFn(ctx, olderThan, limit)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.findStuck(olderThan, limit), nil
}

func (m *MemoryRepository) findStuck(olderThan time.Duration, limit int) []*domain.Transaction {
	cutoff := time.Now().Add(-olderThan)
	var stuck []*domain.Transaction
	for _, list := range m.attempts {
		for _, tx := range list {
			if tx.Status == domain.StatusNotified && tx.UpdatedAt.Before(cutoff) {
				stuck = append(stuck, clone(tx))
				if len(stuck) == limit {
					return stuck
				}
			}
		}
	}
	return stuck
}

// WithTx serializes all transactional blocks behind one mutex, which gives
// the same per-order isolation the row lock gives in Postgres. The repo
// passed to fn bypasses the mutex so nested calls don't deadlock.
func (m *MemoryRepository) WithTx(ctx context.Context, fn func(repo ports.TransactionRepository) error) error {
	if m.WithTxFn != nil {
		return m.WithTxFn(ctx, fn)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(&lockedRepository{m: m})
}

// lockedRepository is the view handed to WithTx callbacks. The enclosing
// WithTx already holds the mutex.
type lockedRepository struct {
	m *MemoryRepository
}

func (r *lockedRepository) Create(ctx context.Context, tx *domain.Transaction) error {
	return r.m.create(tx)
}

func (r *lockedRepository) FindByOrderRef(ctx context.Context, orderRef string) (*domain.Transaction, error) {
	return r.m.find(orderRef)
}

func (r *lockedRepository) FindByOrderRefForUpdate(ctx context.Context, orderRef string) (*domain.Transaction, error) {
	return r.m.find(orderRef)
}

func (r *lockedRepository) Update(ctx context.Context, tx *domain.Transaction) error {
	return r.m.update(tx)
}

func (r *lockedRepository) FindStuckNotified(ctx context.Context, olderThan time.Duration, limit int) ([]*domain.Transaction, error) {
	return r.m.findStuck(olderThan, limit), nil
}

func (r *lockedRepository) WithTx(ctx context.Context, fn func(repo ports.TransactionRepository) error) error {
	return fn(r)
}

func clone(tx *domain.Transaction) *domain.Transaction {
	c := *tx
	if tx.CapturedAt != nil {
		at := *tx.CapturedAt
		c.CapturedAt = &at
	}
	return &c
}

// MockGateway
type MockGateway struct {
	InitializeFn       func(ctx context.Context, params saferpay.InitializeParams) (*saferpay.InitializeResult, error)
	AssertAndCaptureFn func(ctx context.Context, params saferpay.AssertParams) (*saferpay.AssertResult, error)
	RefundFn           func(ctx context.Context, params saferpay.RefundParams) (*saferpay.RefundResult, error)

	InitializeCalls atomic.Int32
	AssertCalls     atomic.Int32
	RefundCalls     atomic.Int32
}

func (m *MockGateway) Initialize(ctx context.Context, params saferpay.InitializeParams) (*saferpay.InitializeResult, error) {
	m.InitializeCalls.Add(1)
	if m.InitializeFn != nil {
		return m.InitializeFn(ctx, params)
	}
	return &saferpay.InitializeResult{
		Token:       "mock-token",
		RedirectURL: "https://test.saferpay.com/vt2/api/pp/mock",
	}, nil
}

func (m *MockGateway) AssertAndCapture(ctx context.Context, params saferpay.AssertParams) (*saferpay.AssertResult, error) {
	m.AssertCalls.Add(1)
	if m.AssertAndCaptureFn != nil {
		return m.AssertAndCaptureFn(ctx, params)
	}
	return &saferpay.AssertResult{
		Status:        saferpay.CaptureCaptured,
		TransactionID: "mock-tx-id",
		CaptureID:     "mock-capture-id",
	}, nil
}

func (m *MockGateway) Refund(ctx context.Context, params saferpay.RefundParams) (*saferpay.RefundResult, error) {
	m.RefundCalls.Add(1)
	if m.RefundFn != nil {
		return m.RefundFn(ctx, params)
	}
	return &saferpay.RefundResult{
		Status:    saferpay.RefundRefunded,
		RawStatus: "CAPTURED",
	}, nil
}
