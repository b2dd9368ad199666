package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/poolstake/backend/internal/models"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type PoolRepo struct {
	pool *pgxpool.Pool
}

func NewPoolRepo(pool *pgxpool.Pool) *PoolRepo {
	return &PoolRepo{pool: pool}
}

const poolColumns = `p.id, p.title, p.description, p.kind, p.min_entry, p.closing_date, p.status,
	p.rollover_bonus, p.refund_reason, p.created_by, p.created_at, p.updated_at`

func scanPool(row pgx.Row) (*models.Pool, error) {
	var p models.Pool
	err := row.Scan(&p.ID, &p.Title, &p.Description, &p.Kind, &p.MinEntry, &p.ClosingDate, &p.Status,
		&p.RolloverBonus, &p.RefundReason, &p.CreatedBy, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// CreateTx inserts the pool and its options.
func (r *PoolRepo) CreateTx(ctx context.Context, tx pgx.Tx, p *models.Pool) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	err := tx.QueryRow(ctx, `
		INSERT INTO pools (id, title, description, kind, min_entry, closing_date, status, rollover_bonus, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 0, $8)
		RETURNING created_at, updated_at
	`, p.ID, p.Title, p.Description, p.Kind, p.MinEntry, p.ClosingDate, p.Status, p.CreatedBy).Scan(&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return classify(err, "insert pool")
	}
	for i := range p.Options {
		p.Options[i].PoolID = p.ID
		if err := r.AddOptionTx(ctx, tx, &p.Options[i]); err != nil {
			return err
		}
	}
	return nil
}

// GetByID returns the pool with its options and derived stakes.
func (r *PoolRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Pool, error) {
	return getPool(ctx, r.pool, id, false)
}

// GetForUpdate locks the pool row for the rest of tx. Every mutating pool
// operation takes this lock first.
func (r *PoolRepo) GetForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Pool, error) {
	return getPool(ctx, tx, id, true)
}

func getPool(ctx context.Context, q querier, id uuid.UUID, lock bool) (*models.Pool, error) {
	sql := `SELECT ` + poolColumns + ` FROM pools p WHERE p.id = $1`
	if lock {
		sql += ` FOR UPDATE`
	}
	p, err := scanPool(q.QueryRow(ctx, sql, id))
	if err != nil {
		return nil, classify(err, "pool "+id.String())
	}
	opts, err := listOptions(ctx, q, id)
	if err != nil {
		return nil, err
	}
	p.Options = opts
	for _, o := range opts {
		if !o.Eliminated {
			p.TotalPot += o.TotalStake
		}
	}
	if err := q.QueryRow(ctx, `
		SELECT COUNT(DISTINCT user_id) FROM pool_entries WHERE pool_id = $1 AND status <> 'refunded'
	`, id).Scan(&p.Participants); err != nil {
		return nil, classify(err, "count participants")
	}
	return p, nil
}

func listOptions(ctx context.Context, q querier, poolID uuid.UUID) ([]models.Option, error) {
	rows, err := q.Query(ctx, `
		SELECT o.id, o.pool_id, o.title, o.eliminated, o.eliminated_at, o.created_at,
		       COALESCE(SUM(e.amount) FILTER (WHERE e.status <> 'refunded'), 0),
		       COUNT(e.id) FILTER (WHERE e.status <> 'refunded')
		FROM pool_options o
		LEFT JOIN pool_entries e ON e.option_id = o.id
		WHERE o.pool_id = $1
		GROUP BY o.id
		ORDER BY o.created_at, o.id
	`, poolID)
	if err != nil {
		return nil, classify(err, "list options")
	}
	defer rows.Close()
	var list []models.Option
	for rows.Next() {
		var o models.Option
		if err := rows.Scan(&o.ID, &o.PoolID, &o.Title, &o.Eliminated, &o.EliminatedAt, &o.CreatedAt, &o.TotalStake, &o.EntryCount); err != nil {
			return nil, classify(err, "scan option")
		}
		list = append(list, o)
	}
	return list, classify(rows.Err(), "list options")
}

// List returns one page of pools, newest first, and the total match count.
func (r *PoolRepo) List(ctx context.Context, f models.PoolFilter) ([]*models.Pool, int, error) {
	var where []string
	var args []any
	if f.Kind != "" {
		args = append(args, f.Kind)
		where = append(where, fmt.Sprintf("p.kind = $%d", len(args)))
	}
	if f.Status != "" {
		args = append(args, f.Status)
		where = append(where, fmt.Sprintf("p.status = $%d", len(args)))
	}
	cond := ""
	if len(where) > 0 {
		cond = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM pools p`+cond, args...).Scan(&total); err != nil {
		return nil, 0, classify(err, "count pools")
	}

	limit, page := f.Limit, f.Page
	if limit <= 0 {
		limit = 20
	}
	if page <= 0 {
		page = 1
	}
	args = append(args, limit, (page-1)*limit)
	rows, err := r.pool.Query(ctx, `
		SELECT `+poolColumns+`,
		       COALESCE((SELECT SUM(e.amount) FROM pool_entries e
		                 JOIN pool_options o ON o.id = e.option_id
		                 WHERE e.pool_id = p.id AND e.status <> 'refunded' AND NOT o.eliminated), 0),
		       (SELECT COUNT(DISTINCT e.user_id) FROM pool_entries e WHERE e.pool_id = p.id AND e.status <> 'refunded')
		FROM pools p`+cond+fmt.Sprintf(`
		ORDER BY p.created_at DESC, p.id
		LIMIT $%d OFFSET $%d`, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, classify(err, "list pools")
	}
	defer rows.Close()
	var list []*models.Pool
	for rows.Next() {
		var p models.Pool
		if err := rows.Scan(&p.ID, &p.Title, &p.Description, &p.Kind, &p.MinEntry, &p.ClosingDate, &p.Status,
			&p.RolloverBonus, &p.RefundReason, &p.CreatedBy, &p.CreatedAt, &p.UpdatedAt,
			&p.TotalPot, &p.Participants); err != nil {
			return nil, 0, classify(err, "scan pool")
		}
		list = append(list, &p)
	}
	return list, total, classify(rows.Err(), "list pools")
}

// UpdateStatusTx sets the pool status. Call after GetForUpdate in the same tx.
func (r *PoolRepo) UpdateStatusTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, status models.PoolStatus, refundReason *string) error {
	_, err := tx.Exec(ctx, `
		UPDATE pools SET status = $2, refund_reason = COALESCE($3, refund_reason), updated_at = now()
		WHERE id = $1
	`, id, status, refundReason)
	return classify(err, "update pool status")
}

func (r *PoolRepo) SetRolloverBonusTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, amount int64) error {
	_, err := tx.Exec(ctx, `
		UPDATE pools SET rollover_bonus = rollover_bonus + $2, updated_at = now() WHERE id = $1
	`, id, amount)
	return classify(err, "set rollover bonus")
}

func (r *PoolRepo) AddOptionTx(ctx context.Context, tx pgx.Tx, o *models.Option) error {
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	err := tx.QueryRow(ctx, `
		INSERT INTO pool_options (id, pool_id, title) VALUES ($1, $2, $3)
		RETURNING created_at
	`, o.ID, o.PoolID, o.Title).Scan(&o.CreatedAt)
	return classify(err, "insert option")
}

func (r *PoolRepo) RenameOptionTx(ctx context.Context, tx pgx.Tx, poolID, optionID uuid.UUID, title string) error {
	tag, err := tx.Exec(ctx, `
		UPDATE pool_options SET title = $3 WHERE id = $2 AND pool_id = $1
	`, poolID, optionID, title)
	if err != nil {
		return classify(err, "rename option")
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: option %s not in pool %s", models.ErrInvalidOption, optionID, poolID)
	}
	return nil
}

func (r *PoolRepo) EliminateOptionTx(ctx context.Context, tx pgx.Tx, poolID, optionID uuid.UUID, at time.Time) error {
	tag, err := tx.Exec(ctx, `
		UPDATE pool_options SET eliminated = TRUE, eliminated_at = $3
		WHERE id = $2 AND pool_id = $1 AND NOT eliminated
	`, poolID, optionID, at)
	if err != nil {
		return classify(err, "eliminate option")
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: option %s not eliminable", models.ErrInvalidOption, optionID)
	}
	return nil
}
