package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/poolstake/backend/internal/models"
)

// WalletRepo moves funds on participant wallets. Every movement carries an
// idempotency key; replaying a key returns the original transaction and does
// not touch the balance again.
type WalletRepo struct {
	pool *pgxpool.Pool
}

func NewWalletRepo(pool *pgxpool.Pool) *WalletRepo {
	return &WalletRepo{pool: pool}
}

// Credit adds amount to the user's wallet inside tx and returns the wallet
// transaction id.
func (r *WalletRepo) Credit(ctx context.Context, tx pgx.Tx, userID uuid.UUID, amount int64, kind, memo, idempotencyKey string) (uuid.UUID, error) {
	if amount <= 0 {
		return uuid.Nil, fmt.Errorf("%w: credit amount must be > 0", models.ErrValidation)
	}
	return r.apply(ctx, tx, userID, amount, kind, memo, idempotencyKey)
}

// Debit takes amount from the user's wallet inside tx. Returns
// models.ErrInsufficientFunds when the balance is too low.
func (r *WalletRepo) Debit(ctx context.Context, tx pgx.Tx, userID uuid.UUID, amount int64, kind, memo, idempotencyKey string) (uuid.UUID, error) {
	if amount <= 0 {
		return uuid.Nil, fmt.Errorf("%w: debit amount must be > 0", models.ErrValidation)
	}
	return r.apply(ctx, tx, userID, -amount, kind, memo, idempotencyKey)
}

func (r *WalletRepo) apply(ctx context.Context, tx pgx.Tx, userID uuid.UUID, delta int64, kind, memo, key string) (uuid.UUID, error) {
	id := uuid.New()
	var inserted uuid.UUID
	err := tx.QueryRow(ctx, `
		INSERT INTO wallet_transactions (id, user_id, kind, amount, memo, idempotency_key)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (idempotency_key) DO NOTHING
		RETURNING id
	`, id, userID, kind, delta, memo, key).Scan(&inserted)
	if errors.Is(err, pgx.ErrNoRows) {
		var existing uuid.UUID
		err := tx.QueryRow(ctx, `SELECT id FROM wallet_transactions WHERE idempotency_key = $1`, key).Scan(&existing)
		return existing, classify(err, "wallet transaction "+key)
	}
	if err != nil {
		return uuid.Nil, classify(err, "insert wallet transaction")
	}

	var balance int64
	if delta >= 0 {
		err = tx.QueryRow(ctx, `
			INSERT INTO wallets (user_id, balance) VALUES ($1, $2)
			ON CONFLICT (user_id) DO UPDATE SET balance = wallets.balance + EXCLUDED.balance, updated_at = now()
			RETURNING balance
		`, userID, delta).Scan(&balance)
	} else {
		err = tx.QueryRow(ctx, `
			UPDATE wallets SET balance = balance + $1, updated_at = now()
			WHERE user_id = $2 AND balance + $1 >= 0
			RETURNING balance
		`, delta, userID).Scan(&balance)
		if errors.Is(err, pgx.ErrNoRows) {
			return uuid.Nil, fmt.Errorf("%w: user %s", models.ErrInsufficientFunds, userID)
		}
	}
	if err != nil {
		return uuid.Nil, classify(err, "update wallet balance")
	}

	_, err = tx.Exec(ctx, `UPDATE wallet_transactions SET balance_after = $2 WHERE id = $1`, id, balance)
	if err != nil {
		return uuid.Nil, classify(err, "record balance after")
	}
	return id, nil
}

// Balance returns the user's wallet balance; zero if the wallet does not exist.
func (r *WalletRepo) Balance(ctx context.Context, userID uuid.UUID) (int64, error) {
	var balance int64
	err := r.pool.QueryRow(ctx, `SELECT balance FROM wallets WHERE user_id = $1`, userID).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	return balance, classify(err, "wallet balance")
}

// Transactions returns the user's most recent wallet movements, newest first.
func (r *WalletRepo) Transactions(ctx context.Context, userID uuid.UUID, limit int) ([]models.WalletTransaction, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id, user_id, kind, amount, memo, idempotency_key, COALESCE(balance_after, 0), created_at
		FROM wallet_transactions WHERE user_id = $1
		ORDER BY created_at DESC, id LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, classify(err, "list wallet transactions")
	}
	defer rows.Close()
	var list []models.WalletTransaction
	for rows.Next() {
		var t models.WalletTransaction
		if err := rows.Scan(&t.ID, &t.UserID, &t.Kind, &t.Amount, &t.Memo, &t.IdempotencyKey, &t.BalanceAfter, &t.CreatedAt); err != nil {
			return nil, classify(err, "scan wallet transaction")
		}
		list = append(list, t)
	}
	return list, classify(rows.Err(), "list wallet transactions")
}
