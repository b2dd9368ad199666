package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/poolstake/backend/internal/models"
)

// RolloverService applies the rollover balance to new pools and exposes the
// balance and its history.
type RolloverService struct {
	Deps
}

func NewRolloverService(d Deps) *RolloverService {
	return &RolloverService{Deps: d.withDefaults()}
}

// Apply moves the whole rollover balance onto poolID. A zero balance is a
// successful no-op returning an application with Amount 0 that is not stored.
func (s *RolloverService) Apply(ctx context.Context, p models.Principal, poolID uuid.UUID) (*models.RolloverApplication, error) {
	if err := requireAdmin(p); err != nil {
		return nil, err
	}
	var app *models.RolloverApplication
	err := s.Retry.Do(ctx, "apply rollover", func(ctx context.Context) error {
		return inTx(ctx, s.DB, func(tx pgx.Tx) error {
			pool, err := s.Pools.GetForUpdate(ctx, tx, poolID)
			if err != nil {
				return err
			}
			app, err = s.applyTx(ctx, tx, pool, p)
			return err
		})
	})
	if err != nil {
		return nil, err
	}
	s.applied(app)
	return app, nil
}

// applyTx runs with the pool row already locked; it takes the balance lock
// second. It fails while rollover is disabled, even for a zero balance.
func (s *RolloverService) applyTx(ctx context.Context, tx pgx.Tx, pool *models.Pool, p models.Principal) (*models.RolloverApplication, error) {
	if err := s.requireRolloverEnabled(ctx, tx); err != nil {
		return nil, err
	}
	balance, err := s.Ledger.LockBalance(ctx, tx)
	if err != nil {
		return nil, err
	}
	if balance == 0 {
		return &models.RolloverApplication{PoolID: pool.ID, AdminID: p.AdminID, CreatedAt: s.Now()}, nil
	}
	if pool.Status != models.PoolStatusOpen {
		return nil, fmt.Errorf("%w: rollover can only be applied to an open pool, %s is %s", models.ErrInvalidState, pool.ID, pool.Status)
	}
	entries, err := s.Entries.CountByPoolTx(ctx, tx, pool.ID)
	if err != nil {
		return nil, err
	}
	if entries > 0 {
		return nil, fmt.Errorf("%w: pool %s already has %d entries", models.ErrInvalidState, pool.ID, entries)
	}
	applied, err := s.Ledger.HasApplication(ctx, tx, pool.ID)
	if err != nil {
		return nil, err
	}
	if applied || pool.RolloverBonus > 0 {
		return nil, fmt.Errorf("%w: rollover already applied to pool %s", models.ErrInvalidState, pool.ID)
	}

	app, err := s.Ledger.Apply(ctx, tx, pool.ID, p.AdminID, balance)
	if err != nil {
		return nil, err
	}
	if err := s.Pools.SetRolloverBonusTx(ctx, tx, pool.ID, balance); err != nil {
		return nil, err
	}
	pool.RolloverBonus += balance
	return app, nil
}

// applied records a committed application.
func (s *RolloverService) applied(app *models.RolloverApplication) {
	if app == nil || app.Amount == 0 {
		return
	}
	s.Metrics.RolloverMoved("out", app.Amount)
	s.Logger.Info("rollover applied", "pool_id", app.PoolID, "amount", app.Amount, "admin_id", app.AdminID)
}

func (s *RolloverService) Balance(ctx context.Context) (models.RolloverBalance, error) {
	var b models.RolloverBalance
	err := s.Retry.Do(ctx, "rollover balance", func(ctx context.Context) error {
		var err error
		b, err = s.Ledger.Balance(ctx)
		return err
	})
	return b, err
}

// History collects up to limit applications, newest first.
func (s *RolloverService) History(ctx context.Context, limit int) ([]models.RolloverApplication, error) {
	if limit <= 0 {
		limit = 50
	}
	list := make([]models.RolloverApplication, 0, limit)
	for app, err := range s.Ledger.History(ctx, limit) {
		if err != nil {
			return nil, err
		}
		list = append(list, app)
		if len(list) == limit {
			break
		}
	}
	return list, nil
}
