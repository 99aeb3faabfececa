package processor_test

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/ecomkit/saferpay-gateway/internal/config"
	"github.com/ecomkit/saferpay-gateway/internal/domain"
	"github.com/ecomkit/saferpay-gateway/internal/processor"
	"github.com/ecomkit/saferpay-gateway/internal/saferpay"
	"github.com/ecomkit/saferpay-gateway/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestProcessor(t *testing.T) (*processor.Saferpay, *testutil.MemoryRepository, *testutil.MockGateway) {
	t.Helper()

	repo := testutil.NewMemoryRepository()
	gateway := &testutil.MockGateway{}
	codec := saferpay.NewCodec(config.SaferpayConfig{
		APIUsername: "user",
		APIPassword: "pass",
	})
	checkout := config.CheckoutConfig{
		SuccessURL: "https://shop.example.com/payments/saferpay/return",
		FailURL:    "https://shop.example.com/payments/saferpay/fail",
		AbortURL:   "https://shop.example.com/payments/saferpay/abort",
		NotifyURL:  "https://shop.example.com/payments/saferpay/notify",
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	return processor.NewSaferpay(repo, gateway, codec, checkout, logger), repo, gateway
}

func testOrder(ref string) processor.Order {
	return processor.Order{
		Reference: ref,
		Amount:    "10.50",
		Currency:  "EUR",
		Lines:     []string{"1 x socks", "1 x shoelaces"},
	}
}

func startPayment(t *testing.T, proc *processor.Saferpay, ref string) *processor.TransactionParameters {
	t.Helper()
	params, err := proc.GetTransactionParameters(context.Background(), testOrder(ref))
	require.NoError(t, err)
	return params
}

func TestGetTransactionParameters(t *testing.T) {
	t.Run("starts an attempt and returns the redirect", func(t *testing.T) {
		proc, repo, gateway := newTestProcessor(t)
		gateway.InitializeFn = func(ctx context.Context, params saferpay.InitializeParams) (*saferpay.InitializeResult, error) {
			assert.Equal(t, "order-1", params.OrderRef)
			assert.Equal(t, int64(1050), params.Amount.Cents)
			assert.Equal(t, "1 x socks\n1 x shoelaces", params.Description)
			assert.Contains(t, params.URLs.Notify, "order=order-1")
			assert.NotEmpty(t, params.RequestID)
			return &saferpay.InitializeResult{
				Token:       "tok-1",
				RedirectURL: "https://www.saferpay.com/vt2/api/pp/1",
			}, nil
		}

		params := startPayment(t, proc, "order-1")

		assert.Equal(t, "https://www.saferpay.com/vt2/api/pp/1", params.RedirectURL)
		assert.Equal(t, "order-1", params.Fields["order_reference"])

		tx, err := repo.FindByOrderRef(context.Background(), "order-1")
		require.NoError(t, err)
		assert.Equal(t, domain.StatusPendingRedirect, tx.Status)
		assert.Equal(t, "tok-1", tx.GatewayToken)
	})

	t.Run("rejects invalid amount before touching the gateway", func(t *testing.T) {
		proc, _, gateway := newTestProcessor(t)

		_, err := proc.GetTransactionParameters(context.Background(), processor.Order{
			Reference: "order-1",
			Amount:    "10.999",
			Currency:  "EUR",
		})

		assert.True(t, domain.IsErrorCode(err, domain.ErrCodeInvalidAmount))
		assert.Equal(t, int32(0), gateway.InitializeCalls.Load())
	})

	t.Run("rejects second attempt while one is in flight", func(t *testing.T) {
		proc, _, _ := newTestProcessor(t)
		startPayment(t, proc, "order-1")

		_, err := proc.GetTransactionParameters(context.Background(), testOrder("order-1"))

		assert.True(t, domain.IsErrorCode(err, domain.ErrCodeActiveAttemptExists))
	})

	t.Run("failed initialize rolls the attempt to failed and frees the order", func(t *testing.T) {
		proc, repo, gateway := newTestProcessor(t)
		gateway.InitializeFn = func(ctx context.Context, params saferpay.InitializeParams) (*saferpay.InitializeResult, error) {
			return nil, &saferpay.APIError{StatusCode: 400, ErrorName: "VALIDATION_FAILED"}
		}

		_, err := proc.GetTransactionParameters(context.Background(), testOrder("order-1"))
		require.Error(t, err)

		tx, err := repo.FindByOrderRef(context.Background(), "order-1")
		require.NoError(t, err)
		assert.Equal(t, domain.StatusFailed, tx.Status)
		assert.Equal(t, "VALIDATION_FAILED", tx.LastGatewayStatus)

		// A fresh attempt is possible now.
		gateway.InitializeFn = nil
		startPayment(t, proc, "order-1")
	})

	t.Run("concurrent starts admit exactly one attempt", func(t *testing.T) {
		proc, _, _ := newTestProcessor(t)

		const n = 8
		var wg sync.WaitGroup
		errs := make([]error, n)
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, errs[i] = proc.GetTransactionParameters(context.Background(), testOrder("order-1"))
			}(i)
		}
		wg.Wait()

		succeeded := 0
		for _, err := range errs {
			if err == nil {
				succeeded++
			} else {
				assert.True(t, domain.IsErrorCode(err, domain.ErrCodeActiveAttemptExists))
			}
		}
		assert.Equal(t, 1, succeeded)
	})
}

func TestConfirm(t *testing.T) {
	t.Run("captured gateway state completes the attempt", func(t *testing.T) {
		proc, repo, gateway := newTestProcessor(t)
		startPayment(t, proc, "order-1")

		gateway.AssertAndCaptureFn = func(ctx context.Context, params saferpay.AssertParams) (*saferpay.AssertResult, error) {
			assert.Equal(t, "mock-token", params.Token)
			return &saferpay.AssertResult{
				Status:        saferpay.CaptureCaptured,
				TransactionID: "gw-tx-1",
				CaptureID:     "cap-1",
				CardMasked:    "912345xxxxxx1234",
				CardBrand:     "VISA",
				RawStatus:     "CAPTURED",
			}, nil
		}

		outcome, assertRes, err := proc.Confirm(context.Background(), "order-1")
		require.NoError(t, err)

		assert.Equal(t, processor.OutcomeSuccess, outcome)
		assert.Equal(t, "gw-tx-1", assertRes.TransactionID)

		tx, err := repo.FindByOrderRef(context.Background(), "order-1")
		require.NoError(t, err)
		assert.Equal(t, domain.StatusCaptured, tx.Status)
		assert.Equal(t, "cap-1", tx.CaptureID)
	})

	t.Run("captured attempt short-circuits without a gateway call", func(t *testing.T) {
		proc, _, gateway := newTestProcessor(t)
		startPayment(t, proc, "order-1")

		outcome, _, err := proc.Confirm(context.Background(), "order-1")
		require.NoError(t, err)
		require.Equal(t, processor.OutcomeSuccess, outcome)
		require.Equal(t, int32(1), gateway.AssertCalls.Load())

		outcome, _, err = proc.Confirm(context.Background(), "order-1")
		require.NoError(t, err)

		assert.Equal(t, processor.OutcomeSuccess, outcome)
		assert.Equal(t, int32(1), gateway.AssertCalls.Load(), "second confirm must not assert again")
	})

	t.Run("declined gateway state fails the attempt", func(t *testing.T) {
		proc, repo, gateway := newTestProcessor(t)
		startPayment(t, proc, "order-1")

		gateway.AssertAndCaptureFn = func(ctx context.Context, params saferpay.AssertParams) (*saferpay.AssertResult, error) {
			return &saferpay.AssertResult{
				Status:    saferpay.CaptureFailed,
				RawStatus: "TRANSACTION_DECLINED",
			}, nil
		}

		outcome, _, err := proc.Confirm(context.Background(), "order-1")
		require.NoError(t, err)

		assert.Equal(t, processor.OutcomeDeclined, outcome)

		tx, err := repo.FindByOrderRef(context.Background(), "order-1")
		require.NoError(t, err)
		assert.Equal(t, domain.StatusFailed, tx.Status)
		assert.Equal(t, "TRANSACTION_DECLINED", tx.LastGatewayStatus)
	})

	t.Run("pending gateway state leaves the attempt open", func(t *testing.T) {
		proc, repo, gateway := newTestProcessor(t)
		startPayment(t, proc, "order-1")

		gateway.AssertAndCaptureFn = func(ctx context.Context, params saferpay.AssertParams) (*saferpay.AssertResult, error) {
			return &saferpay.AssertResult{
				Status:    saferpay.CapturePending,
				RawStatus: "PENDING",
			}, nil
		}

		outcome, _, err := proc.Confirm(context.Background(), "order-1")
		require.NoError(t, err)

		assert.Equal(t, processor.OutcomeProcessing, outcome)

		tx, err := repo.FindByOrderRef(context.Background(), "order-1")
		require.NoError(t, err)
		assert.Equal(t, domain.StatusPendingRedirect, tx.Status)
	})

	t.Run("gateway outage reports retry-later and leaves state untouched", func(t *testing.T) {
		proc, repo, gateway := newTestProcessor(t)
		startPayment(t, proc, "order-1")

		gateway.AssertAndCaptureFn = func(ctx context.Context, params saferpay.AssertParams) (*saferpay.AssertResult, error) {
			return nil, &saferpay.APIError{StatusCode: 503, Behavior: saferpay.BehaviorRetryLater}
		}

		outcome, _, err := proc.Confirm(context.Background(), "order-1")
		require.Error(t, err)

		assert.Equal(t, processor.OutcomeRetryLater, outcome)

		tx, err := repo.FindByOrderRef(context.Background(), "order-1")
		require.NoError(t, err)
		assert.Equal(t, domain.StatusPendingRedirect, tx.Status)
	})

	t.Run("created attempt is still processing", func(t *testing.T) {
		proc, repo, gateway := newTestProcessor(t)

		money, err := domain.MoneyFromCents(1000, "EUR")
		require.NoError(t, err)
		tx, err := domain.NewTransaction("order-1", "req-1", money)
		require.NoError(t, err)
		require.NoError(t, repo.Create(context.Background(), tx))

		outcome, _, err := proc.Confirm(context.Background(), "order-1")
		require.NoError(t, err)

		assert.Equal(t, processor.OutcomeProcessing, outcome)
		assert.Equal(t, int32(0), gateway.AssertCalls.Load())
	})
}

func TestMarkNotified(t *testing.T) {
	t.Run("first notification transitions the attempt", func(t *testing.T) {
		proc, repo, _ := newTestProcessor(t)
		startPayment(t, proc, "order-1")

		alreadyDone, err := proc.MarkNotified(context.Background(), "order-1")
		require.NoError(t, err)
		assert.False(t, alreadyDone)

		tx, err := repo.FindByOrderRef(context.Background(), "order-1")
		require.NoError(t, err)
		assert.Equal(t, domain.StatusNotified, tx.Status)
	})

	t.Run("repeat notification reports already done", func(t *testing.T) {
		proc, _, _ := newTestProcessor(t)
		startPayment(t, proc, "order-1")

		_, err := proc.MarkNotified(context.Background(), "order-1")
		require.NoError(t, err)

		alreadyDone, err := proc.MarkNotified(context.Background(), "order-1")
		require.NoError(t, err)
		assert.True(t, alreadyDone)
	})

	t.Run("notification after capture reports already done", func(t *testing.T) {
		proc, _, _ := newTestProcessor(t)
		startPayment(t, proc, "order-1")

		_, _, err := proc.Confirm(context.Background(), "order-1")
		require.NoError(t, err)

		alreadyDone, err := proc.MarkNotified(context.Background(), "order-1")
		require.NoError(t, err)
		assert.True(t, alreadyDone)
	})
}

func TestHandleAbort(t *testing.T) {
	t.Run("cancels an attempt on the hosted page", func(t *testing.T) {
		proc, repo, _ := newTestProcessor(t)
		startPayment(t, proc, "order-1")

		outcome := proc.HandleAbort(context.Background(), "order-1")

		assert.Equal(t, processor.OutcomeDeclined, outcome)

		tx, err := repo.FindByOrderRef(context.Background(), "order-1")
		require.NoError(t, err)
		assert.Equal(t, domain.StatusCancelled, tx.Status)
	})

	t.Run("abort after capture is a no-op", func(t *testing.T) {
		proc, repo, _ := newTestProcessor(t)
		startPayment(t, proc, "order-1")

		_, _, err := proc.Confirm(context.Background(), "order-1")
		require.NoError(t, err)

		outcome := proc.HandleAbort(context.Background(), "order-1")

		assert.Equal(t, processor.OutcomeProcessing, outcome)

		tx, err := repo.FindByOrderRef(context.Background(), "order-1")
		require.NoError(t, err)
		assert.Equal(t, domain.StatusCaptured, tx.Status)
	})
}

func TestIssueCredit(t *testing.T) {
	capturedAttempt := func(t *testing.T) (*processor.Saferpay, *testutil.MemoryRepository, *testutil.MockGateway) {
		t.Helper()
		proc, repo, gateway := newTestProcessor(t)
		startPayment(t, proc, "order-1")
		_, _, err := proc.Confirm(context.Background(), "order-1")
		require.NoError(t, err)
		return proc, repo, gateway
	}

	t.Run("partial refunds accumulate until fully refunded", func(t *testing.T) {
		proc, repo, gateway := capturedAttempt(t)

		var refundIDs []string
		gateway.RefundFn = func(ctx context.Context, params saferpay.RefundParams) (*saferpay.RefundResult, error) {
			refundIDs = append(refundIDs, params.RequestID)
			assert.Equal(t, "mock-capture-id", params.CaptureID)
			return &saferpay.RefundResult{Status: saferpay.RefundRefunded, RawStatus: "CAPTURED"}, nil
		}

		result, err := proc.IssueCredit(context.Background(), "order-1", "4.00")
		require.NoError(t, err)
		assert.Equal(t, processor.OutcomeSuccess, result.Outcome)
		assert.Equal(t, int64(400), result.RefundedCents)
		assert.Equal(t, int64(650), result.RemainingCents)

		tx, err := repo.FindByOrderRef(context.Background(), "order-1")
		require.NoError(t, err)
		assert.Equal(t, domain.StatusCaptured, tx.Status)

		result, err = proc.IssueCredit(context.Background(), "order-1", "6.50")
		require.NoError(t, err)
		assert.Equal(t, int64(0), result.RemainingCents)

		tx, err = repo.FindByOrderRef(context.Background(), "order-1")
		require.NoError(t, err)
		assert.Equal(t, domain.StatusRefunded, tx.Status)

		// Each credit is its own logical operation with its own request id.
		require.Len(t, refundIDs, 2)
		assert.NotEqual(t, refundIDs[0], refundIDs[1])
	})

	t.Run("refund exceeding the captured amount is rejected locally", func(t *testing.T) {
		proc, _, gateway := capturedAttempt(t)

		_, err := proc.IssueCredit(context.Background(), "order-1", "11.00")

		assert.True(t, domain.IsErrorCode(err, domain.ErrCodeRefundExceedsAmount))
		assert.Equal(t, int32(0), gateway.RefundCalls.Load())
	})

	t.Run("refund on a non-captured attempt is rejected", func(t *testing.T) {
		proc, _, _ := newTestProcessor(t)
		startPayment(t, proc, "order-1")

		_, err := proc.IssueCredit(context.Background(), "order-1", "1.00")

		assert.True(t, domain.IsErrorCode(err, domain.ErrCodeInvalidTransition))
	})

	t.Run("gateway rejection leaves the ledger untouched", func(t *testing.T) {
		proc, repo, gateway := capturedAttempt(t)
		gateway.RefundFn = func(ctx context.Context, params saferpay.RefundParams) (*saferpay.RefundResult, error) {
			return &saferpay.RefundResult{Status: saferpay.RefundFailed, RawStatus: "TRANSACTION_DECLINED"}, nil
		}

		result, err := proc.IssueCredit(context.Background(), "order-1", "4.00")
		require.NoError(t, err)
		assert.Equal(t, processor.OutcomeFailed, result.Outcome)

		tx, err := repo.FindByOrderRef(context.Background(), "order-1")
		require.NoError(t, err)
		assert.Equal(t, int64(0), tx.RefundedCents)
	})

	t.Run("concurrent credits issue exactly one gateway refund", func(t *testing.T) {
		proc, repo, gateway := capturedAttempt(t)

		entered := make(chan struct{})
		release := make(chan struct{})
		gateway.RefundFn = func(ctx context.Context, params saferpay.RefundParams) (*saferpay.RefundResult, error) {
			close(entered)
			<-release
			return &saferpay.RefundResult{Status: saferpay.RefundRefunded, RawStatus: "CAPTURED"}, nil
		}

		type credit struct {
			result *processor.RefundResult
			err    error
		}
		done := make(chan credit, 1)
		go func() {
			result, err := proc.IssueCredit(context.Background(), "order-1", "10.50")
			done <- credit{result, err}
		}()
		<-entered

		// The full amount is reserved while the first credit is in flight,
		// so the second one fails before it reaches the gateway.
		_, err := proc.IssueCredit(context.Background(), "order-1", "10.50")
		require.Error(t, err)
		assert.Equal(t, int32(1), gateway.RefundCalls.Load())

		close(release)
		first := <-done
		require.NoError(t, first.err)
		assert.Equal(t, processor.OutcomeSuccess, first.result.Outcome)

		tx, err := repo.FindByOrderRef(context.Background(), "order-1")
		require.NoError(t, err)
		assert.Equal(t, domain.StatusRefunded, tx.Status)
		assert.Equal(t, int64(1050), tx.RefundedCents)
	})

	t.Run("gateway error releases the reserved amount", func(t *testing.T) {
		proc, repo, gateway := capturedAttempt(t)
		gateway.RefundFn = func(ctx context.Context, params saferpay.RefundParams) (*saferpay.RefundResult, error) {
			return nil, &saferpay.APIError{StatusCode: 502}
		}

		_, err := proc.IssueCredit(context.Background(), "order-1", "4.00")
		require.Error(t, err)

		tx, err := repo.FindByOrderRef(context.Background(), "order-1")
		require.NoError(t, err)
		assert.Equal(t, domain.StatusCaptured, tx.Status)
		assert.Equal(t, int64(0), tx.RefundedCents)

		// With the reservation released the credit can be retried.
		gateway.RefundFn = nil
		result, err := proc.IssueCredit(context.Background(), "order-1", "4.00")
		require.NoError(t, err)
		assert.Equal(t, processor.OutcomeSuccess, result.Outcome)
	})
}

func TestHandleProcessorResponse(t *testing.T) {
	t.Run("returns the card details on success", func(t *testing.T) {
		proc, _, gateway := newTestProcessor(t)
		startPayment(t, proc, "order-1")

		gateway.AssertAndCaptureFn = func(ctx context.Context, params saferpay.AssertParams) (*saferpay.AssertResult, error) {
			money, _ := domain.MoneyFromCents(1050, "EUR")
			return &saferpay.AssertResult{
				Status:        saferpay.CaptureCaptured,
				TransactionID: "gw-tx-1",
				CaptureID:     "cap-1",
				Amount:        money,
				CardMasked:    "912345xxxxxx1234",
				CardBrand:     "VISA",
				RawStatus:     "CAPTURED",
			}, nil
		}

		result, err := proc.HandleProcessorResponse(context.Background(), "order-1")
		require.NoError(t, err)

		assert.Equal(t, processor.OutcomeSuccess, result.Outcome)
		assert.Equal(t, "order-1", result.OrderRef)
		assert.Equal(t, "gw-tx-1", result.TransactionID)
		assert.Equal(t, "912345xxxxxx1234", result.CardNumber)
		assert.Equal(t, "VISA", result.CardType)
	})

	t.Run("gateway outage maps to retry-later", func(t *testing.T) {
		proc, _, gateway := newTestProcessor(t)
		startPayment(t, proc, "order-1")

		gateway.AssertAndCaptureFn = func(ctx context.Context, params saferpay.AssertParams) (*saferpay.AssertResult, error) {
			return nil, &saferpay.APIError{StatusCode: 502}
		}

		result, err := proc.HandleProcessorResponse(context.Background(), "order-1")
		require.NoError(t, err)

		assert.Equal(t, processor.OutcomeRetryLater, result.Outcome)
	})
}
