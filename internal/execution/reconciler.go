package execution

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/poolstake/backend/internal/models"
)

// PendingLister is implemented by *repository.SettlementRepo.
type PendingLister interface {
	ListPending(ctx context.Context, olderThan time.Time) ([]*models.SettlementLedger, error)
}

// InsertFunc enqueues a finalize job outside any transaction.
type InsertFunc func(ctx context.Context, args FinalizeSettlementArgs) error

// Reconciler re-enqueues finalize jobs for settlements whose payouts are
// still pending after staleAfter, e.g. when a job was discarded after
// exhausting its attempts.
type Reconciler struct {
	pending    PendingLister
	insert     InsertFunc
	staleAfter time.Duration
	logger     *slog.Logger
	now        func() time.Time
}

func NewReconciler(pending PendingLister, insert InsertFunc, staleAfter time.Duration, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{pending: pending, insert: insert, staleAfter: staleAfter, logger: logger, now: time.Now}
}

// Run enqueues one job per stale settlement and returns how many it enqueued.
func (r *Reconciler) Run(ctx context.Context) (int, error) {
	list, err := r.pending.ListPending(ctx, r.now().Add(-r.staleAfter))
	if err != nil {
		return 0, fmt.Errorf("list pending settlements: %w", err)
	}
	n := 0
	for _, l := range list {
		args := FinalizeSettlementArgs{SettlementID: l.ID, PoolID: l.PoolID}
		if err := r.insert(ctx, args); err != nil {
			r.logger.Warn("re-enqueue finalize failed", "pool_id", l.PoolID, "settlement_id", l.ID, "error", err)
			continue
		}
		n++
	}
	if n > 0 {
		r.logger.Info("re-enqueued pending settlements", "count", n)
	}
	return n, nil
}

// Job adapts Run to the cron runner.
func (r *Reconciler) Job(ctx context.Context) {
	if _, err := r.Run(ctx); err != nil {
		r.logger.Error("settlement reconciler failed", "error", err)
	}
}
