package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/poolstake/backend/internal/models"
)

type SettlementRepo struct {
	pool *pgxpool.Pool
}

func NewSettlementRepo(pool *pgxpool.Pool) *SettlementRepo {
	return &SettlementRepo{pool: pool}
}

const ledgerColumns = `id, pool_id, winning_option_id, company_cut_percent, total_pool, company_cut,
	rollover_bonus, distributable_pool, winners_count, losers_count, total_payout, remainder,
	forfeited_stake, payouts_done, settled_by, created_at, settled_at`

func scanLedger(row pgx.Row) (*models.SettlementLedger, error) {
	var l models.SettlementLedger
	err := row.Scan(&l.ID, &l.PoolID, &l.WinningOptionID, &l.CompanyCutPercent, &l.TotalPool, &l.CompanyCut,
		&l.RolloverBonus, &l.DistributablePool, &l.WinnersCount, &l.LosersCount, &l.TotalPayout, &l.Remainder,
		&l.ForfeitedStake, &l.PayoutsDone, &l.SettledBy, &l.CreatedAt, &l.SettledAt)
	if err != nil {
		return nil, err
	}
	return &l, nil
}

// GetByPool returns the pool's ledger or models.ErrNotFound.
func (r *SettlementRepo) GetByPool(ctx context.Context, poolID uuid.UUID) (*models.SettlementLedger, error) {
	l, err := scanLedger(r.pool.QueryRow(ctx, `SELECT `+ledgerColumns+` FROM settlement_ledgers WHERE pool_id = $1`, poolID))
	return l, classify(err, "settlement ledger for pool "+poolID.String())
}

func (r *SettlementRepo) GetByPoolTx(ctx context.Context, tx pgx.Tx, poolID uuid.UUID) (*models.SettlementLedger, error) {
	l, err := scanLedger(tx.QueryRow(ctx, `SELECT `+ledgerColumns+` FROM settlement_ledgers WHERE pool_id = $1`, poolID))
	return l, classify(err, "settlement ledger for pool "+poolID.String())
}

// CreateTx writes the ledger and every payout row. Payout figures are never
// rewritten after this insert.
func (r *SettlementRepo) CreateTx(ctx context.Context, tx pgx.Tx, l *models.SettlementLedger, payouts []models.SettlementPayout) error {
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	err := tx.QueryRow(ctx, `
		INSERT INTO settlement_ledgers (id, pool_id, winning_option_id, company_cut_percent, total_pool, company_cut,
			rollover_bonus, distributable_pool, winners_count, losers_count, total_payout, remainder,
			forfeited_stake, payouts_done, settled_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, FALSE, $14)
		RETURNING created_at
	`, l.ID, l.PoolID, l.WinningOptionID, l.CompanyCutPercent, l.TotalPool, l.CompanyCut,
		l.RolloverBonus, l.DistributablePool, l.WinnersCount, l.LosersCount, l.TotalPayout, l.Remainder,
		l.ForfeitedStake, l.SettledBy).Scan(&l.CreatedAt)
	if IsUniqueViolation(err) {
		return fmt.Errorf("%w: pool %s already has a settlement ledger", models.ErrInvalidState, l.PoolID)
	}
	if err != nil {
		return classify(err, "insert settlement ledger")
	}

	rows := make([][]any, 0, len(payouts))
	for _, p := range payouts {
		rows = append(rows, []any{l.ID, p.EntryID, p.UserID, string(p.Outcome), p.Stake, p.Amount})
	}
	_, err = tx.CopyFrom(ctx,
		pgx.Identifier{"settlement_payouts"},
		[]string{"settlement_id", "entry_id", "user_id", "outcome", "stake", "amount"},
		pgx.CopyFromRows(rows),
	)
	return classify(err, "insert settlement payouts")
}

// ListPayoutsTx returns the payouts of a settlement in entry order.
func (r *SettlementRepo) ListPayoutsTx(ctx context.Context, tx pgx.Tx, settlementID uuid.UUID) ([]models.SettlementPayout, error) {
	rows, err := tx.Query(ctx, `
		SELECT settlement_id, entry_id, user_id, outcome, stake, amount, wallet_tx_id
		FROM settlement_payouts WHERE settlement_id = $1 ORDER BY entry_id
	`, settlementID)
	if err != nil {
		return nil, classify(err, "list payouts")
	}
	defer rows.Close()
	var list []models.SettlementPayout
	for rows.Next() {
		var p models.SettlementPayout
		if err := rows.Scan(&p.SettlementID, &p.EntryID, &p.UserID, &p.Outcome, &p.Stake, &p.Amount, &p.WalletTxID); err != nil {
			return nil, classify(err, "scan payout")
		}
		list = append(list, p)
	}
	return list, classify(rows.Err(), "list payouts")
}

func (r *SettlementRepo) MarkPayoutCreditedTx(ctx context.Context, tx pgx.Tx, settlementID, entryID, walletTxID uuid.UUID) error {
	_, err := tx.Exec(ctx, `
		UPDATE settlement_payouts SET wallet_tx_id = $3 WHERE settlement_id = $1 AND entry_id = $2
	`, settlementID, entryID, walletTxID)
	return classify(err, "mark payout credited")
}

// MarkDoneTx closes the ledger. The WHERE clause keeps a done ledger immutable.
func (r *SettlementRepo) MarkDoneTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, at time.Time) error {
	_, err := tx.Exec(ctx, `
		UPDATE settlement_ledgers SET payouts_done = TRUE, settled_at = $2 WHERE id = $1 AND NOT payouts_done
	`, id, at)
	return classify(err, "mark settlement done")
}

// ListPending returns ledgers whose payouts are still outstanding and were
// written before olderThan.
func (r *SettlementRepo) ListPending(ctx context.Context, olderThan time.Time) ([]*models.SettlementLedger, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+ledgerColumns+` FROM settlement_ledgers
		WHERE NOT payouts_done AND created_at < $1
		ORDER BY created_at
	`, olderThan)
	if err != nil {
		return nil, classify(err, "list pending settlements")
	}
	defer rows.Close()
	var list []*models.SettlementLedger
	for rows.Next() {
		l, err := scanLedger(rows)
		if err != nil {
			return nil, classify(err, "scan settlement ledger")
		}
		list = append(list, l)
	}
	return list, classify(rows.Err(), "list pending settlements")
}
