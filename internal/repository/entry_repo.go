package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/poolstake/backend/internal/models"
)

type EntryRepo struct {
	pool *pgxpool.Pool
}

func NewEntryRepo(pool *pgxpool.Pool) *EntryRepo {
	return &EntryRepo{pool: pool}
}

const entryColumns = `id, pool_id, option_id, user_id, amount, status, payout_amount, created_at`

func scanEntries(rows pgx.Rows) ([]*models.Entry, error) {
	defer rows.Close()
	var list []*models.Entry
	for rows.Next() {
		var e models.Entry
		if err := rows.Scan(&e.ID, &e.PoolID, &e.OptionID, &e.UserID, &e.Amount, &e.Status, &e.PayoutAmount, &e.CreatedAt); err != nil {
			return nil, classify(err, "scan entry")
		}
		list = append(list, &e)
	}
	return list, classify(rows.Err(), "list entries")
}

// CreateTx inserts an active entry. Call with the pool row locked.
func (r *EntryRepo) CreateTx(ctx context.Context, tx pgx.Tx, e *models.Entry) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	e.Status = models.EntryStatusActive
	err := tx.QueryRow(ctx, `
		INSERT INTO pool_entries (id, pool_id, option_id, user_id, amount, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at
	`, e.ID, e.PoolID, e.OptionID, e.UserID, e.Amount, e.Status).Scan(&e.CreatedAt)
	return classify(err, "insert entry")
}

// ListByPoolTx returns every entry of the pool in creation order.
func (r *EntryRepo) ListByPoolTx(ctx context.Context, tx pgx.Tx, poolID uuid.UUID) ([]*models.Entry, error) {
	rows, err := tx.Query(ctx, `
		SELECT `+entryColumns+` FROM pool_entries WHERE pool_id = $1 ORDER BY created_at, id
	`, poolID)
	if err != nil {
		return nil, classify(err, "list entries")
	}
	return scanEntries(rows)
}

// ListByPool returns the most recent entries of the pool.
func (r *EntryRepo) ListByPool(ctx context.Context, poolID uuid.UUID, limit int) ([]*models.Entry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+entryColumns+` FROM pool_entries WHERE pool_id = $1 ORDER BY created_at DESC, id LIMIT $2
	`, poolID, limit)
	if err != nil {
		return nil, classify(err, "list entries")
	}
	return scanEntries(rows)
}

func (r *EntryRepo) CountByPoolTx(ctx context.Context, tx pgx.Tx, poolID uuid.UUID) (int, error) {
	var n int
	err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM pool_entries WHERE pool_id = $1`, poolID).Scan(&n)
	return n, classify(err, "count entries")
}

// SetStatusTx records an entry outcome. payout is 0 for a lost entry and nil
// for a refunded one.
func (r *EntryRepo) SetStatusTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, status models.EntryStatus, payout *int64) error {
	_, err := tx.Exec(ctx, `
		UPDATE pool_entries SET status = $2, payout_amount = $3 WHERE id = $1
	`, id, status, payout)
	return classify(err, "update entry status")
}
