package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/poolstake/backend/internal/cache"
	"github.com/poolstake/backend/internal/execution"
	"github.com/poolstake/backend/internal/models"
	"github.com/poolstake/backend/internal/payout"
)

// InsertFinalizeTxFunc enqueues payout finalization inside the settlement
// transaction, so the job exists if and only if the ledger does.
type InsertFinalizeTxFunc func(ctx context.Context, tx pgx.Tx, args execution.FinalizeSettlementArgs) error

// SettlementEngine settles locked pools in two steps. Settle writes the ledger
// and every payout row in one transaction; Finalize credits wallets, resolves
// entries and moves the pool to its terminal status in a second one. Finalize
// is retried by a background job until it succeeds.
type SettlementEngine struct {
	Deps
	cutPercent decimal.Decimal // used when Deps.Settings is nil
	enqueue    InsertFinalizeTxFunc
	cache      cache.Store
}

func NewSettlementEngine(d Deps, cutPercent decimal.Decimal, enqueue InsertFinalizeTxFunc, c cache.Store) *SettlementEngine {
	return &SettlementEngine{Deps: d.withDefaults(), cutPercent: cutPercent, enqueue: enqueue, cache: c}
}

func ledgerCacheKey(poolID uuid.UUID) string {
	return "settlement:ledger:" + poolID.String()
}

// Settle declares winningOptionID the winner of a locked pool. Repeating the
// call with the same winner returns the existing settlement without paying
// anyone twice; a different winner is ErrInvalidState.
func (e *SettlementEngine) Settle(ctx context.Context, p models.Principal, poolID, winningOptionID uuid.UUID) (*models.SettlementSummary, error) {
	if err := requireAdmin(p); err != nil {
		return nil, err
	}
	if winningOptionID == uuid.Nil {
		return nil, fmt.Errorf("%w: winning_option_id is required", models.ErrValidation)
	}

	var (
		ledger  *models.SettlementLedger
		created bool
	)
	err := e.Retry.Do(ctx, "settle pool", func(ctx context.Context) error {
		created = false
		return inTx(ctx, e.DB, func(tx pgx.Tx) error {
			pool, err := e.Pools.GetForUpdate(ctx, tx, poolID)
			if err != nil {
				return err
			}
			existing, err := e.Settlements.GetByPoolTx(ctx, tx, poolID)
			switch {
			case err == nil:
				if existing.WinningOptionID != winningOptionID {
					return fmt.Errorf("%w: pool %s already settled with option %s", models.ErrInvalidState, poolID, existing.WinningOptionID)
				}
				ledger = existing
				return nil
			case !isNotFound(err):
				return err
			}

			if err := checkTransition(CommandSettle{WinningOptionID: winningOptionID}, poolID, pool.Status); err != nil {
				return err
			}
			opt := pool.Option(winningOptionID)
			if opt == nil {
				return fmt.Errorf("%w: option %s not in pool %s", models.ErrInvalidOption, winningOptionID, poolID)
			}
			if opt.Eliminated {
				return fmt.Errorf("%w: option %s was eliminated", models.ErrInvalidOption, winningOptionID)
			}

			ledger, err = e.writeLedger(ctx, tx, pool, winningOptionID, p.AdminID)
			if err != nil {
				return err
			}
			created = true
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	if created {
		e.Metrics.PoolTransition(CommandSettle{}.Name())
		e.Logger.Info("settlement written", "pool_id", poolID, "settlement_id", ledger.ID, "winning_option_id", winningOptionID,
			"total_pool", ledger.TotalPool, "winners", ledger.WinnersCount, "admin_id", p.AdminID)
	}

	if !ledger.PayoutsDone {
		done, err := e.Finalize(ctx, poolID)
		if err != nil {
			e.Metrics.SettlementFailed(failureReason(err))
			e.Logger.Error("settlement payouts failed", "pool_id", poolID, "settlement_id", ledger.ID, "error", err)
			return nil, err
		}
		ledger = done
	}
	return e.summary(ctx, ledger)
}

// writeLedger computes the settlement with the cut in force now and inserts
// the ledger, its payout rows and the finalize job. The ledger keeps that cut,
// so later settings changes never alter it.
func (e *SettlementEngine) writeLedger(ctx context.Context, tx pgx.Tx, pool *models.Pool, winningOptionID, adminID uuid.UUID) (*models.SettlementLedger, error) {
	cut := e.cutPercent
	settings, err := e.settingsTx(ctx, tx)
	if err != nil {
		return nil, err
	}
	if settings != nil {
		cut = settings.CompanyCutPercent
	}
	entries, err := e.Entries.ListByPoolTx(ctx, tx, pool.ID)
	if err != nil {
		return nil, err
	}
	in := payout.Input{
		Eliminated:        make(map[uuid.UUID]bool),
		WinningOptionID:   winningOptionID,
		CompanyCutPercent: cut,
		RolloverBonus:     pool.RolloverBonus,
	}
	for _, o := range pool.Options {
		if o.Eliminated {
			in.Eliminated[o.ID] = true
		}
	}
	for _, en := range entries {
		if en.Status != models.EntryStatusActive {
			continue
		}
		in.Stakes = append(in.Stakes, payout.Stake{EntryID: en.ID, UserID: en.UserID, OptionID: en.OptionID, Amount: en.Amount})
	}
	res, err := payout.Compute(in)
	if err != nil {
		return nil, err
	}

	ledger := &models.SettlementLedger{
		ID:                uuid.New(),
		PoolID:            pool.ID,
		WinningOptionID:   winningOptionID,
		CompanyCutPercent: cut,
		TotalPool:         res.TotalPool,
		CompanyCut:        res.CompanyCut,
		RolloverBonus:     pool.RolloverBonus,
		DistributablePool: res.DistributablePool,
		WinnersCount:      res.WinnersCount,
		LosersCount:       res.LosersCount,
		TotalPayout:       res.TotalPayout,
		Remainder:         res.Remainder,
		ForfeitedStake:    res.ForfeitedStake,
		SettledBy:         adminID,
		CreatedAt:         e.Now(),
	}
	payouts := make([]models.SettlementPayout, 0, len(res.Lines))
	for _, l := range res.Lines {
		po := models.SettlementPayout{
			SettlementID: ledger.ID,
			EntryID:      l.EntryID,
			UserID:       l.UserID,
			Outcome:      models.PayoutLost,
			Stake:        l.Amount,
		}
		if l.Won {
			po.Outcome = models.PayoutWon
			po.Amount = l.Payout
		}
		payouts = append(payouts, po)
	}
	if err := e.Settlements.CreateTx(ctx, tx, ledger, payouts); err != nil {
		return nil, err
	}
	if e.enqueue != nil {
		args := execution.FinalizeSettlementArgs{SettlementID: ledger.ID, PoolID: pool.ID}
		if err := e.enqueue(ctx, tx, args); err != nil {
			return nil, fmt.Errorf("enqueue finalize settlement: %w", err)
		}
	}
	return ledger, nil
}

// Finalize pays every winner of the pool's settlement, resolves all entries,
// moves forfeited amounts to the rollover balance and sets the terminal
// status. Either all of that commits or none of it does. A settlement that is
// already finalized is returned unchanged.
func (e *SettlementEngine) Finalize(ctx context.Context, poolID uuid.UUID) (*models.SettlementLedger, error) {
	var (
		ledger    *models.SettlementLedger
		finalized bool
	)
	err := e.Retry.Do(ctx, "finalize settlement", func(ctx context.Context) error {
		finalized = false
		return inTx(ctx, e.DB, func(tx pgx.Tx) error {
			if _, err := e.Pools.GetForUpdate(ctx, tx, poolID); err != nil {
				return err
			}
			l, err := e.Settlements.GetByPoolTx(ctx, tx, poolID)
			if err != nil {
				return err
			}
			ledger = l
			if l.PayoutsDone {
				return nil
			}
			if err := e.payOut(ctx, tx, l); err != nil {
				return err
			}
			if err := e.Deps.Ledger.Forfeit(ctx, tx, poolID, l.Remainder, models.RolloverReasonRemainder); err != nil {
				return err
			}
			if err := e.Deps.Ledger.Forfeit(ctx, tx, poolID, l.ForfeitedStake, models.RolloverReasonEliminatedStake); err != nil {
				return err
			}
			if l.WinnersCount == 0 {
				if err := e.Deps.Ledger.Forfeit(ctx, tx, poolID, l.DistributablePool, models.RolloverReasonNoWinners); err != nil {
					return err
				}
			}
			if err := e.Pools.UpdateStatusTx(ctx, tx, poolID, l.FinalStatus(), nil); err != nil {
				return err
			}
			at := e.Now()
			if err := e.Settlements.MarkDoneTx(ctx, tx, l.ID, at); err != nil {
				return err
			}
			done := *l
			done.PayoutsDone = true
			done.SettledAt = &at
			ledger = &done
			finalized = true
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	if finalized {
		e.Metrics.SettlementFinalized(ledger.FinalStatus(), ledger.TotalPayout)
		if inflow := ledger.RolloverInflow(); inflow > 0 {
			e.Metrics.RolloverMoved("in", inflow)
		}
		e.Logger.Info("settlement finalized", "pool_id", poolID, "settlement_id", ledger.ID, "status", ledger.FinalStatus(),
			"total_payout", ledger.TotalPayout, "rollover_inflow", ledger.RolloverInflow())
	}
	return ledger, nil
}

func (e *SettlementEngine) payOut(ctx context.Context, tx pgx.Tx, l *models.SettlementLedger) error {
	payouts, err := e.Settlements.ListPayoutsTx(ctx, tx, l.ID)
	if err != nil {
		return err
	}
	var zero int64
	for _, po := range payouts {
		if po.Outcome != models.PayoutWon {
			if err := e.Entries.SetStatusTx(ctx, tx, po.EntryID, models.EntryStatusLost, &zero); err != nil {
				return err
			}
			continue
		}
		amount := po.Amount
		if amount > 0 {
			key := l.ID.String() + ":" + po.EntryID.String()
			txID, err := e.Wallet.Credit(ctx, tx, po.UserID, amount, models.WalletTxPayout, "pool payout", key)
			if err != nil {
				return walletError(err, po.UserID, key)
			}
			if err := e.Settlements.MarkPayoutCreditedTx(ctx, tx, l.ID, po.EntryID, txID); err != nil {
				return err
			}
		}
		if err := e.Entries.SetStatusTx(ctx, tx, po.EntryID, models.EntryStatusWon, &amount); err != nil {
			return err
		}
	}
	return nil
}

// Ledger returns the pool's settlement ledger. Finalized ledgers never change
// and are served from the cache.
func (e *SettlementEngine) Ledger(ctx context.Context, poolID uuid.UUID) (*models.SettlementLedger, error) {
	key := ledgerCacheKey(poolID)
	if e.cache != nil {
		var cached models.SettlementLedger
		found, err := cache.GetJSON(ctx, e.cache, key, &cached)
		if err != nil {
			e.Logger.Warn("ledger cache read failed", "pool_id", poolID, "error", err)
		}
		if found {
			return &cached, nil
		}
	}

	var l *models.SettlementLedger
	err := e.Retry.Do(ctx, "get settlement ledger", func(ctx context.Context) error {
		var err error
		l, err = e.Settlements.GetByPool(ctx, poolID)
		return err
	})
	if err != nil {
		return nil, err
	}
	if l.PayoutsDone && e.cache != nil {
		if err := cache.SetJSON(ctx, e.cache, key, l, 0); err != nil {
			e.Logger.Warn("ledger cache write failed", "pool_id", poolID, "error", err)
		}
	}
	return l, nil
}

func (e *SettlementEngine) summary(ctx context.Context, l *models.SettlementLedger) (*models.SettlementSummary, error) {
	var pool *models.Pool
	err := e.Retry.Do(ctx, "get pool", func(ctx context.Context) error {
		var err error
		pool, err = e.Pools.GetByID(ctx, l.PoolID)
		return err
	})
	if err != nil {
		return nil, err
	}
	sum := &models.SettlementSummary{
		PoolID:            l.PoolID,
		SettlementID:      l.ID,
		Status:            pool.Status,
		WinningOptionID:   l.WinningOptionID,
		TotalPot:          l.TotalPool,
		CompanyCut:        l.CompanyCut,
		DistributablePool: l.DistributablePool,
		WinnersCount:      l.WinnersCount,
		LosersCount:       l.LosersCount,
		TotalPayout:       l.TotalPayout,
		PayoutsDone:       l.PayoutsDone,
		SettledAt:         l.SettledAt,
	}
	if opt := pool.Option(l.WinningOptionID); opt != nil {
		sum.WinningOptionName = opt.Title
	}
	return sum, nil
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, models.ErrWallet):
		return "wallet"
	case errors.Is(err, models.ErrRepositoryUnavailable):
		return "unavailable"
	default:
		return "other"
	}
}
