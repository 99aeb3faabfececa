// Package postgres implements the transaction repository on pgx.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ecomkit/saferpay-gateway/internal/domain"
	"github.com/ecomkit/saferpay-gateway/internal/persistence"
	"github.com/ecomkit/saferpay-gateway/internal/ports"
	"github.com/jackc/pgx/v5"
)

var ErrTransactionNotFound = errors.New("transaction not found")

const transactionColumns = `order_ref, gateway_token, gateway_tx_id, capture_id,
		amount_cents, currency, status, request_id, refunded_cents,
		last_gateway_status, created_at, updated_at, captured_at`

// TransactionRepository persists payment attempts. The partial unique index
// on (order_ref) for non-terminal statuses enforces the one-active-attempt
// invariant at the storage layer, so concurrent starts cannot both win.
type TransactionRepository struct {
	db   *persistence.DB
	exec persistence.Executor
}

func NewTransactionRepository(db *persistence.DB) *TransactionRepository {
	return &TransactionRepository{db: db, exec: db.Pool}
}

func (r *TransactionRepository) Create(ctx context.Context, t *domain.Transaction) error {
	query := `
		INSERT INTO transactions (` + transactionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`

	m := toDBModel(t)
	_, err := r.exec.Exec(ctx, query,
		m.OrderRef,
		m.GatewayToken,
		m.GatewayTxID,
		m.CaptureID,
		m.AmountCents,
		m.Currency,
		m.Status,
		m.RequestID,
		m.RefundedCents,
		m.LastGatewayStatus,
		m.CreatedAt,
		m.UpdatedAt,
		m.CapturedAt,
	)

	if err != nil {
		if persistence.IsUniqueViolation(err) {
			return domain.NewActiveAttemptError(t.OrderRef)
		}
		return fmt.Errorf("failed to create transaction: %w", err)
	}

	return nil
}

// FindByOrderRef returns the most recent attempt for the order.
func (r *TransactionRepository) FindByOrderRef(ctx context.Context, orderRef string) (*domain.Transaction, error) {
	query := `
		SELECT ` + transactionColumns + `
		FROM transactions
		WHERE order_ref = $1
		ORDER BY created_at DESC
		LIMIT 1
	`

	row := r.exec.QueryRow(ctx, query, orderRef)
	return scanTransaction(row)
}

// FindByOrderRefForUpdate takes an exclusive row lock for the duration of the
// enclosing transaction, serializing transitions per order.
func (r *TransactionRepository) FindByOrderRefForUpdate(ctx context.Context, orderRef string) (*domain.Transaction, error) {
	query := `
		SELECT ` + transactionColumns + `
		FROM transactions
		WHERE order_ref = $1
		ORDER BY created_at DESC
		LIMIT 1
		FOR UPDATE
	`

	row := r.exec.QueryRow(ctx, query, orderRef)
	return scanTransaction(row)
}

func (r *TransactionRepository) Update(ctx context.Context, t *domain.Transaction) error {
	query := `
		UPDATE transactions
		SET gateway_token = $1, gateway_tx_id = $2, capture_id = $3,
			status = $4, refunded_cents = $5, last_gateway_status = $6,
			updated_at = $7, captured_at = $8
		WHERE order_ref = $9 AND request_id = $10
	`

	m := toDBModel(t)
	tag, err := r.exec.Exec(ctx, query,
		m.GatewayToken,
		m.GatewayTxID,
		m.CaptureID,
		m.Status,
		m.RefundedCents,
		m.LastGatewayStatus,
		m.UpdatedAt,
		m.CapturedAt,
		m.OrderRef,
		m.RequestID,
	)

	if err != nil {
		return fmt.Errorf("failed to update transaction: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrTransactionNotFound
	}

	return nil
}

// FindStuckNotified returns attempts sitting in NOTIFIED longer than
// olderThan. These had their capture interrupted and are re-driven by the
// reconciler.
func (r *TransactionRepository) FindStuckNotified(ctx context.Context, olderThan time.Duration, limit int) ([]*domain.Transaction, error) {
	query := `
		SELECT ` + transactionColumns + `
		FROM transactions
		WHERE status = 'NOTIFIED'
		  AND updated_at < $1
		ORDER BY updated_at ASC
		LIMIT $2
	`

	cutoff := time.Now().UTC().Add(-olderThan)
	rows, err := r.exec.Query(ctx, query, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("query stuck transactions: %w", err)
	}

	results, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*domain.Transaction, error) {
		var m transactionModel
		err := row.Scan(
			&m.OrderRef, &m.GatewayToken, &m.GatewayTxID, &m.CaptureID,
			&m.AmountCents, &m.Currency, &m.Status, &m.RequestID, &m.RefundedCents,
			&m.LastGatewayStatus, &m.CreatedAt, &m.UpdatedAt, &m.CapturedAt,
		)
		return toDomainModel(m), err
	})

	if err != nil {
		return nil, fmt.Errorf("scan stuck transactions: %w", err)
	}

	return results, nil
}

// WithTx runs fn with a repository bound to a single database transaction.
func (r *TransactionRepository) WithTx(ctx context.Context, fn func(repo ports.TransactionRepository) error) error {
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	txRepo := &TransactionRepository{db: r.db, exec: tx}
	if err := fn(txRepo); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

func scanTransaction(row pgx.Row) (*domain.Transaction, error) {
	var m transactionModel
	err := row.Scan(
		&m.OrderRef, &m.GatewayToken, &m.GatewayTxID, &m.CaptureID,
		&m.AmountCents, &m.Currency, &m.Status, &m.RequestID, &m.RefundedCents,
		&m.LastGatewayStatus, &m.CreatedAt, &m.UpdatedAt, &m.CapturedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTransactionNotFound
		}
		return nil, fmt.Errorf("scan transaction: %w", err)
	}

	return toDomainModel(m), nil
}
