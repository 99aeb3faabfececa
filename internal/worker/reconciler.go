// Package worker runs the background reconciler that re-drives payment
// attempts whose completion got interrupted between the gateway notification
// and the local capture.
package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/ecomkit/saferpay-gateway/internal/config"
	"github.com/ecomkit/saferpay-gateway/internal/ports"
	"github.com/ecomkit/saferpay-gateway/internal/processor"
	"github.com/ecomkit/saferpay-gateway/internal/saferpay"
)

// ConfirmService re-runs the server-side assert-and-capture for one order.
// The processor's reconciliation is idempotent, so re-driving an attempt that
// completed in the meantime is harmless.
type ConfirmService interface {
	Confirm(ctx context.Context, orderRef string) (processor.Outcome, *saferpay.AssertResult, error)
}

type Reconciler struct {
	repo      ports.TransactionRepository
	confirm   ConfirmService
	interval  time.Duration
	batchSize int
	stuckAge  time.Duration
	logger    *slog.Logger
}

func NewReconciler(
	repo ports.TransactionRepository,
	confirm ConfirmService,
	cfg config.WorkerConfig,
	logger *slog.Logger,
) *Reconciler {
	return &Reconciler{
		repo:      repo,
		confirm:   confirm,
		interval:  cfg.Interval,
		batchSize: cfg.BatchSize,
		stuckAge:  cfg.StuckAge,
		logger:    logger,
	}
}

func (r *Reconciler) Start(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Info("starting background reconciler",
		"interval", r.interval,
		"batch_size", r.batchSize,
		"stuck_age", r.stuckAge,
	)

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("stopping background reconciler")
			return
		case <-ticker.C:
			r.run(ctx)
		}
	}
}

// RunOnce executes a single reconciliation cycle.
func (r *Reconciler) RunOnce(ctx context.Context) {
	r.run(ctx)
}

func (r *Reconciler) run(ctx context.Context) {
	stuck, err := r.repo.FindStuckNotified(ctx, r.stuckAge, r.batchSize)
	if err != nil {
		r.logger.Error("failed to fetch stuck attempts", "error", err)
		return
	}

	if len(stuck) == 0 {
		return
	}

	r.logger.Info("reconciling stuck attempts", "count", len(stuck))

	for _, tx := range stuck {
		outcome, _, err := r.confirm.Confirm(ctx, tx.OrderRef)
		if err != nil {
			r.logger.Error("reconciliation failed for attempt",
				"order_ref", tx.OrderRef,
				"error", err,
			)
			continue
		}

		switch outcome {
		case processor.OutcomeSuccess, processor.OutcomeDeclined:
			r.logger.Info("reconciled stuck attempt",
				"order_ref", tx.OrderRef,
				"outcome", outcome,
			)
		default:
			// Still unsettled at the gateway. Leave it for the next cycle.
			r.logger.Info("attempt still unsettled",
				"order_ref", tx.OrderRef,
				"outcome", outcome,
			)
		}
	}
}
