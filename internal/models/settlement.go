package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// SettlementLedger is the write-ahead record of a pool settlement. Figures are
// fixed when the row is inserted; only PayoutsDone and SettledAt change later.
type SettlementLedger struct {
	ID                uuid.UUID       `json:"id"`
	PoolID            uuid.UUID       `json:"pool_id"`
	WinningOptionID   uuid.UUID       `json:"winning_option_id"`
	CompanyCutPercent decimal.Decimal `json:"company_cut_percent"`
	TotalPool         int64           `json:"total_pool"`
	CompanyCut        int64           `json:"company_cut"`
	RolloverBonus     int64           `json:"rollover_bonus"`
	DistributablePool int64           `json:"distributable_pool"`
	WinnersCount      int             `json:"winners_count"`
	LosersCount       int             `json:"losers_count"`
	TotalPayout       int64           `json:"total_payout"`
	Remainder         int64           `json:"remainder"`
	ForfeitedStake    int64           `json:"forfeited_stake"`
	PayoutsDone       bool            `json:"payouts_done"`
	SettledBy         uuid.UUID       `json:"settled_by"`
	CreatedAt         time.Time       `json:"created_at"`
	SettledAt         *time.Time      `json:"settled_at,omitempty"`
}

// RolloverInflow is everything this settlement sends to the rollover balance.
func (l *SettlementLedger) RolloverInflow() int64 {
	inflow := l.Remainder + l.ForfeitedStake
	if l.WinnersCount == 0 {
		inflow += l.DistributablePool
	}
	return inflow
}

// FinalStatus is the pool status reached once payouts are done.
func (l *SettlementLedger) FinalStatus() PoolStatus {
	if l.WinnersCount == 0 {
		return PoolStatusRollover
	}
	return PoolStatusSettled
}

type PayoutOutcome string

const (
	PayoutWon  PayoutOutcome = "won"
	PayoutLost PayoutOutcome = "lost"
)

// SettlementPayout is one entry's resolved outcome under a ledger.
type SettlementPayout struct {
	SettlementID uuid.UUID     `json:"settlement_id"`
	EntryID      uuid.UUID     `json:"entry_id"`
	UserID       uuid.UUID     `json:"user_id"`
	Outcome      PayoutOutcome `json:"outcome"`
	Stake        int64         `json:"stake"`
	Amount       int64         `json:"amount"`
	WalletTxID   *uuid.UUID    `json:"wallet_tx_id,omitempty"`
}

type SettlementSummary struct {
	PoolID            uuid.UUID  `json:"pool_id"`
	SettlementID      uuid.UUID  `json:"settlement_id"`
	Status            PoolStatus `json:"status"`
	WinningOptionID   uuid.UUID  `json:"winning_option_id"`
	WinningOptionName string     `json:"winning_option_name"`
	TotalPot          int64      `json:"total_pot"`
	CompanyCut        int64      `json:"company_cut"`
	DistributablePool int64      `json:"distributable_pool"`
	WinnersCount      int        `json:"winners_count"`
	LosersCount       int        `json:"losers_count"`
	TotalPayout       int64      `json:"total_payout"`
	PayoutsDone       bool       `json:"payouts_done"`
	SettledAt         *time.Time `json:"settled_at,omitempty"`
}
