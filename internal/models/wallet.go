package models

import (
	"time"

	"github.com/google/uuid"
)

// Wallet transaction kinds.
const (
	WalletTxStake  = "stake"
	WalletTxPayout = "payout"
	WalletTxRefund = "refund"
)

// WalletTransaction is one movement on a user's wallet. Amount is signed:
// negative for stakes, positive for payouts and refunds.
type WalletTransaction struct {
	ID             uuid.UUID `json:"id"`
	UserID         uuid.UUID `json:"user_id"`
	Kind           string    `json:"kind"`
	Amount         int64     `json:"amount"`
	Memo           string    `json:"memo"`
	IdempotencyKey string    `json:"idempotency_key"`
	BalanceAfter   int64     `json:"balance_after"`
	CreatedAt      time.Time `json:"created_at"`
}
