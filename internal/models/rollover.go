package models

import (
	"time"

	"github.com/google/uuid"
)

type RolloverBalance struct {
	CurrentBalance int64     `json:"amount"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// RolloverApplication records the balance being moved onto a pool.
type RolloverApplication struct {
	ID        uuid.UUID `json:"id"`
	PoolID    uuid.UUID `json:"pool_id"`
	Amount    int64     `json:"amount"`
	AdminID   uuid.UUID `json:"admin_id"`
	CreatedAt time.Time `json:"created_at"`
}

type RolloverReason string

const (
	RolloverReasonNoWinners       RolloverReason = "no_winners"
	RolloverReasonRemainder       RolloverReason = "remainder"
	RolloverReasonEliminatedStake RolloverReason = "eliminated_stake"
	RolloverReasonRefundedBonus   RolloverReason = "refunded_bonus"
)

// RolloverCredit records funds flowing into the rollover balance.
type RolloverCredit struct {
	ID        uuid.UUID      `json:"id"`
	PoolID    uuid.UUID      `json:"pool_id"`
	Amount    int64          `json:"amount"`
	Reason    RolloverReason `json:"reason"`
	CreatedAt time.Time      `json:"created_at"`
}
