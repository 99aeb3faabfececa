package postgres_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ecomkit/saferpay-gateway/internal/domain"
	"github.com/ecomkit/saferpay-gateway/internal/persistence/postgres"
	"github.com/ecomkit/saferpay-gateway/internal/ports"
	"github.com/ecomkit/saferpay-gateway/internal/testutil"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRepo(t *testing.T) (*postgres.TransactionRepository, *testutil.TestDatabase) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	td := testutil.SetupTestDatabase(t)
	t.Cleanup(func() { td.Cleanup(t) })
	return postgres.NewTransactionRepository(td.DB), td
}

func newAttempt(t *testing.T, orderRef string) *domain.Transaction {
	t.Helper()
	money, err := domain.MoneyFromCents(1000, "EUR")
	require.NoError(t, err)
	tx, err := domain.NewTransaction(orderRef, uuid.NewString(), money)
	require.NoError(t, err)
	return tx
}

func TestTransactionRepository(t *testing.T) {
	repo, td := setupRepo(t)
	ctx := context.Background()

	t.Run("create and find round trip", func(t *testing.T) {
		td.CleanTables(t)

		tx := newAttempt(t, "order-1")
		require.NoError(t, tx.MarkPendingRedirect("tok-1"))
		require.NoError(t, repo.Create(ctx, tx))

		found, err := repo.FindByOrderRef(ctx, "order-1")
		require.NoError(t, err)

		assert.Equal(t, tx.OrderRef, found.OrderRef)
		assert.Equal(t, tx.RequestID, found.RequestID)
		assert.Equal(t, "tok-1", found.GatewayToken)
		assert.Equal(t, domain.StatusPendingRedirect, found.Status)
		assert.Equal(t, int64(1000), found.AmountCents)
		assert.Equal(t, "EUR", found.Currency)
		assert.Nil(t, found.CapturedAt)
	})

	t.Run("find unknown order", func(t *testing.T) {
		td.CleanTables(t)

		_, err := repo.FindByOrderRef(ctx, "nope")
		assert.ErrorIs(t, err, postgres.ErrTransactionNotFound)
	})

	t.Run("second active attempt is rejected by the index", func(t *testing.T) {
		td.CleanTables(t)

		require.NoError(t, repo.Create(ctx, newAttempt(t, "order-1")))

		err := repo.Create(ctx, newAttempt(t, "order-1"))
		assert.True(t, domain.IsErrorCode(err, domain.ErrCodeActiveAttemptExists))
	})

	t.Run("new attempt allowed once the previous one is terminal", func(t *testing.T) {
		td.CleanTables(t)

		first := newAttempt(t, "order-1")
		require.NoError(t, repo.Create(ctx, first))
		require.NoError(t, first.Fail("VALIDATION_FAILED"))
		require.NoError(t, repo.Update(ctx, first))

		second := newAttempt(t, "order-1")
		require.NoError(t, repo.Create(ctx, second))

		// The most recent attempt wins the lookup.
		found, err := repo.FindByOrderRef(ctx, "order-1")
		require.NoError(t, err)
		assert.Equal(t, second.RequestID, found.RequestID)
	})

	t.Run("update persists the full lifecycle", func(t *testing.T) {
		td.CleanTables(t)

		tx := newAttempt(t, "order-1")
		require.NoError(t, repo.Create(ctx, tx))

		require.NoError(t, tx.MarkPendingRedirect("tok-1"))
		require.NoError(t, tx.MarkNotified())
		require.NoError(t, tx.Capture("gw-tx-1", "cap-1", "CAPTURED"))
		require.NoError(t, repo.Update(ctx, tx))

		found, err := repo.FindByOrderRef(ctx, "order-1")
		require.NoError(t, err)
		assert.Equal(t, domain.StatusCaptured, found.Status)
		assert.Equal(t, "gw-tx-1", found.GatewayTxID)
		assert.Equal(t, "cap-1", found.CaptureID)
		assert.Equal(t, "CAPTURED", found.LastGatewayStatus)
		require.NotNil(t, found.CapturedAt)
	})

	t.Run("update of a missing attempt errors", func(t *testing.T) {
		td.CleanTables(t)

		err := repo.Update(ctx, newAttempt(t, "order-1"))
		assert.ErrorIs(t, err, postgres.ErrTransactionNotFound)
	})

	t.Run("stuck notified attempts are found by age", func(t *testing.T) {
		td.CleanTables(t)

		stuck := newAttempt(t, "order-stuck")
		require.NoError(t, stuck.MarkPendingRedirect("tok-1"))
		require.NoError(t, stuck.MarkNotified())
		stuck.UpdatedAt = time.Now().UTC().Add(-10 * time.Minute)
		require.NoError(t, repo.Create(ctx, stuck))

		fresh := newAttempt(t, "order-fresh")
		require.NoError(t, fresh.MarkPendingRedirect("tok-2"))
		require.NoError(t, fresh.MarkNotified())
		require.NoError(t, repo.Create(ctx, fresh))

		found, err := repo.FindStuckNotified(ctx, 2*time.Minute, 10)
		require.NoError(t, err)

		require.Len(t, found, 1)
		assert.Equal(t, "order-stuck", found[0].OrderRef)
	})

	t.Run("with tx rolls back on error", func(t *testing.T) {
		td.CleanTables(t)

		tx := newAttempt(t, "order-1")
		require.NoError(t, repo.Create(ctx, tx))

		err := repo.WithTx(ctx, func(txRepo ports.TransactionRepository) error {
			locked, err := txRepo.FindByOrderRefForUpdate(ctx, "order-1")
			if err != nil {
				return err
			}
			if err := locked.MarkPendingRedirect("tok-rollback"); err != nil {
				return err
			}
			if err := txRepo.Update(ctx, locked); err != nil {
				return err
			}
			return assert.AnError
		})
		require.ErrorIs(t, err, assert.AnError)

		found, err := repo.FindByOrderRef(ctx, "order-1")
		require.NoError(t, err)
		assert.Equal(t, domain.StatusCreated, found.Status)
		assert.Empty(t, found.GatewayToken)
	})

	t.Run("row lock serializes concurrent transitions", func(t *testing.T) {
		td.CleanTables(t)

		tx := newAttempt(t, "order-1")
		require.NoError(t, repo.Create(ctx, tx))

		const n = 4
		var wg sync.WaitGroup
		succeeded := make([]bool, n)
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				err := repo.WithTx(ctx, func(txRepo ports.TransactionRepository) error {
					locked, err := txRepo.FindByOrderRefForUpdate(ctx, "order-1")
					if err != nil {
						return err
					}
					if err := locked.MarkPendingRedirect("tok-1"); err != nil {
						return err
					}
					return txRepo.Update(ctx, locked)
				})
				succeeded[i] = err == nil
			}(i)
		}
		wg.Wait()

		wins := 0
		for _, ok := range succeeded {
			if ok {
				wins++
			}
		}
		assert.Equal(t, 1, wins, "exactly one transition may win under the lock")

		found, err := repo.FindByOrderRef(ctx, "order-1")
		require.NoError(t, err)
		assert.Equal(t, domain.StatusPendingRedirect, found.Status)
	})
}
