// Package ledger keeps the rollover balance: funds no settlement could pay out,
// waiting to be applied to a new pool.
package ledger

import (
	"context"
	"iter"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/poolstake/backend/internal/models"
)

const defaultPageSize = 50

// Store is the persistence the rollover ledger needs.
type Store interface {
	LockBalance(ctx context.Context, tx pgx.Tx) (int64, error)
	Balance(ctx context.Context) (models.RolloverBalance, error)
	AddTx(ctx context.Context, tx pgx.Tx, delta int64) (int64, error)
	InsertCreditTx(ctx context.Context, tx pgx.Tx, c *models.RolloverCredit) error
	InsertApplicationTx(ctx context.Context, tx pgx.Tx, a *models.RolloverApplication) error
	HasApplicationTx(ctx context.Context, tx pgx.Tx, poolID uuid.UUID) (bool, error)
	ListApplications(ctx context.Context, after *Cursor, limit int) ([]models.RolloverApplication, error)
}

type Service struct {
	store Store
}

func NewService(store Store) *Service {
	return &Service{store: store}
}

func (s *Service) Balance(ctx context.Context) (models.RolloverBalance, error) {
	return s.store.Balance(ctx)
}

// LockBalance returns the current balance, holding its row lock until tx ends.
func (s *Service) LockBalance(ctx context.Context, tx pgx.Tx) (int64, error) {
	return s.store.LockBalance(ctx, tx)
}

func (s *Service) HasApplication(ctx context.Context, tx pgx.Tx, poolID uuid.UUID) (bool, error) {
	return s.store.HasApplicationTx(ctx, tx, poolID)
}

// Forfeit adds amount to the balance and records why. Zero amounts are ignored.
func (s *Service) Forfeit(ctx context.Context, tx pgx.Tx, poolID uuid.UUID, amount int64, reason models.RolloverReason) error {
	if amount <= 0 {
		return nil
	}
	if _, err := s.store.AddTx(ctx, tx, amount); err != nil {
		return err
	}
	return s.store.InsertCreditTx(ctx, tx, &models.RolloverCredit{PoolID: poolID, Amount: amount, Reason: reason})
}

// Apply moves amount from the balance onto poolID and appends a history row.
// The caller holds the balance lock and has checked amount equals the balance.
func (s *Service) Apply(ctx context.Context, tx pgx.Tx, poolID, adminID uuid.UUID, amount int64) (*models.RolloverApplication, error) {
	app := &models.RolloverApplication{PoolID: poolID, Amount: amount, AdminID: adminID}
	if err := s.store.InsertApplicationTx(ctx, tx, app); err != nil {
		return nil, err
	}
	if _, err := s.store.AddTx(ctx, tx, -amount); err != nil {
		return nil, err
	}
	return app, nil
}

// History yields applications newest first, fetching one page at a time as
// the caller ranges. Each range starts from the newest row again.
func (s *Service) History(ctx context.Context, pageSize int) iter.Seq2[models.RolloverApplication, error] {
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	return func(yield func(models.RolloverApplication, error) bool) {
		var after *Cursor
		for {
			page, err := s.store.ListApplications(ctx, after, pageSize)
			if err != nil {
				yield(models.RolloverApplication{}, err)
				return
			}
			for _, a := range page {
				if !yield(a, nil) {
					return
				}
			}
			if len(page) < pageSize {
				return
			}
			last := page[len(page)-1]
			after = &Cursor{CreatedAt: last.CreatedAt, ID: last.ID}
		}
	}
}
