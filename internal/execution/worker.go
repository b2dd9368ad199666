package execution

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/riverqueue/river"

	"github.com/poolstake/backend/internal/models"
)

// FinalizeSettlementArgs asks a worker to pay out a written settlement ledger.
type FinalizeSettlementArgs struct {
	SettlementID uuid.UUID `json:"settlement_id"`
	PoolID       uuid.UUID `json:"pool_id"`
}

func (FinalizeSettlementArgs) Kind() string { return "finalize_settlement" }

// InsertOpts dedupes jobs per settlement so the reconciler can re-enqueue freely.
func (FinalizeSettlementArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{
		MaxAttempts: 25,
		UniqueOpts:  river.UniqueOpts{ByArgs: true},
	}
}

// Finalizer defines the contract the worker needs to complete payouts.
type Finalizer interface {
	Finalize(ctx context.Context, poolID uuid.UUID) (*models.SettlementLedger, error)
}

type FinalizeSettlementWorker struct {
	river.WorkerDefaults[FinalizeSettlementArgs]
	finalizer Finalizer
	logger    *slog.Logger
}

func NewFinalizeSettlementWorker(f Finalizer, logger *slog.Logger) *FinalizeSettlementWorker {
	if logger == nil {
		logger = slog.Default()
	}
	return &FinalizeSettlementWorker{finalizer: f, logger: logger}
}

func (w *FinalizeSettlementWorker) Work(ctx context.Context, job *river.Job[FinalizeSettlementArgs]) error {
	args := job.Args
	ledger, err := w.finalizer.Finalize(ctx, args.PoolID)
	if errors.Is(err, models.ErrNotFound) {
		// The settlement transaction that enqueued this job never committed.
		return river.JobCancel(fmt.Errorf("no settlement for pool %s", args.PoolID))
	}
	if err != nil {
		w.logger.Warn("finalize settlement failed", "pool_id", args.PoolID, "settlement_id", args.SettlementID, "attempt", job.Attempt, "error", err)
		return fmt.Errorf("finalize settlement %s: %w", args.SettlementID, err)
	}
	if ledger.ID != args.SettlementID {
		w.logger.Warn("finalized settlement differs from job", "pool_id", args.PoolID, "job_settlement_id", args.SettlementID, "settlement_id", ledger.ID)
	}
	w.logger.Info("settlement finalized", "pool_id", args.PoolID, "settlement_id", ledger.ID, "winners", ledger.WinnersCount, "total_payout", ledger.TotalPayout)
	return nil
}

// NextRetry backs off linearly; wallet outages are usually short.
func (w *FinalizeSettlementWorker) NextRetry(job *river.Job[FinalizeSettlementArgs]) time.Time {
	return time.Now().Add(time.Duration(job.Attempt) * 10 * time.Second)
}
