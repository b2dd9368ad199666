package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/poolstake/backend/internal/models"
	"github.com/poolstake/backend/internal/repository"
)

// balanceRowID is the key of the single rollover_balance row.
const balanceRowID = 1

var errNegativeBalance = errors.New("rollover balance would go negative")

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// LockBalance reads the balance row with FOR UPDATE. Callers that also lock a
// pool must take the pool lock first.
func (r *Repository) LockBalance(ctx context.Context, tx pgx.Tx) (int64, error) {
	var balance int64
	err := tx.QueryRow(ctx, `
		SELECT current_balance FROM rollover_balance WHERE id = $1 FOR UPDATE
	`, balanceRowID).Scan(&balance)
	return balance, repository.Classify(err, "lock rollover balance")
}

func (r *Repository) Balance(ctx context.Context) (models.RolloverBalance, error) {
	var b models.RolloverBalance
	err := r.pool.QueryRow(ctx, `
		SELECT current_balance, updated_at FROM rollover_balance WHERE id = $1
	`, balanceRowID).Scan(&b.CurrentBalance, &b.UpdatedAt)
	return b, repository.Classify(err, "read rollover balance")
}

// AddTx changes the balance by delta and returns the new balance.
func (r *Repository) AddTx(ctx context.Context, tx pgx.Tx, delta int64) (int64, error) {
	var balance int64
	err := tx.QueryRow(ctx, `
		UPDATE rollover_balance SET current_balance = current_balance + $2, updated_at = now()
		WHERE id = $1 AND current_balance + $2 >= 0
		RETURNING current_balance
	`, balanceRowID, delta).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("%w: %v", models.ErrInvalidState, errNegativeBalance)
	}
	return balance, repository.Classify(err, "update rollover balance")
}

func (r *Repository) InsertCreditTx(ctx context.Context, tx pgx.Tx, c *models.RolloverCredit) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	err := tx.QueryRow(ctx, `
		INSERT INTO rollover_credits (id, pool_id, amount, reason) VALUES ($1, $2, $3, $4)
		RETURNING created_at
	`, c.ID, c.PoolID, c.Amount, c.Reason).Scan(&c.CreatedAt)
	return repository.Classify(err, "insert rollover credit")
}

func (r *Repository) InsertApplicationTx(ctx context.Context, tx pgx.Tx, a *models.RolloverApplication) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	err := tx.QueryRow(ctx, `
		INSERT INTO rollover_applications (id, pool_id, amount, admin_id) VALUES ($1, $2, $3, $4)
		RETURNING created_at
	`, a.ID, a.PoolID, a.Amount, a.AdminID).Scan(&a.CreatedAt)
	return repository.Classify(err, "insert rollover application")
}

func (r *Repository) HasApplicationTx(ctx context.Context, tx pgx.Tx, poolID uuid.UUID) (bool, error) {
	var exists bool
	err := tx.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM rollover_applications WHERE pool_id = $1)
	`, poolID).Scan(&exists)
	return exists, repository.Classify(err, "check rollover application")
}

// Cursor is the keyset position after the last row of a history page.
type Cursor struct {
	CreatedAt time.Time
	ID        uuid.UUID
}

// ListApplications returns up to limit applications older than after (or the
// newest ones when after is nil), newest first.
func (r *Repository) ListApplications(ctx context.Context, after *Cursor, limit int) ([]models.RolloverApplication, error) {
	var rows pgx.Rows
	var err error
	if after == nil {
		rows, err = r.pool.Query(ctx, `
			SELECT id, pool_id, amount, admin_id, created_at FROM rollover_applications
			ORDER BY created_at DESC, id DESC LIMIT $1
		`, limit)
	} else {
		rows, err = r.pool.Query(ctx, `
			SELECT id, pool_id, amount, admin_id, created_at FROM rollover_applications
			WHERE (created_at, id) < ($1, $2)
			ORDER BY created_at DESC, id DESC LIMIT $3
		`, after.CreatedAt, after.ID, limit)
	}
	if err != nil {
		return nil, repository.Classify(err, "list rollover applications")
	}
	defer rows.Close()
	var list []models.RolloverApplication
	for rows.Next() {
		var a models.RolloverApplication
		if err := rows.Scan(&a.ID, &a.PoolID, &a.Amount, &a.AdminID, &a.CreatedAt); err != nil {
			return nil, repository.Classify(err, "scan rollover application")
		}
		list = append(list, a)
	}
	return list, repository.Classify(rows.Err(), "list rollover applications")
}
