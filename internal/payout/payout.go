// Package payout computes settlement figures for a pool.
//
// All amounts are integer minor units. The company cut is rounded half away
// from zero; winner payouts are floored, and the rounding remainder is
// reported so the caller can move it to the rollover balance.
package payout

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/poolstake/backend/internal/models"
)

var errPercentRange = errors.New("company cut percent must be in [0, 1)")

// Stake is one entry as seen by the calculator.
type Stake struct {
	EntryID  uuid.UUID
	UserID   uuid.UUID
	OptionID uuid.UUID
	Amount   int64
}

type Input struct {
	Stakes []Stake
	// Eliminated holds the ids of options eliminated before settlement.
	Eliminated        map[uuid.UUID]bool
	WinningOptionID   uuid.UUID
	CompanyCutPercent decimal.Decimal
	RolloverBonus     int64
}

// Line is the resolved outcome of one stake, in input order.
type Line struct {
	Stake
	Won    bool
	Payout int64
}

type Result struct {
	TotalPool         int64
	CompanyCut        int64
	DistributablePool int64
	WinningStake      int64
	WinnersCount      int
	LosersCount       int
	TotalPayout       int64
	// Remainder is distributable_pool minus the floored payouts; always < WinnersCount.
	Remainder int64
	// ForfeitedStake is the stake on eliminated options.
	ForfeitedStake int64
	Lines          []Line
}

// NoWinners reports whether the distributable pool is forfeited.
func (r Result) NoWinners() bool { return r.WinnersCount == 0 }

// CompanyCut returns round(total * p), half away from zero.
func CompanyCut(total int64, p decimal.Decimal) int64 {
	return decimal.NewFromInt(total).Mul(p).Round(0).IntPart()
}

// Share returns floor(distributable * amount / winningStake).
// Operands are non-negative, so truncating division is a floor.
func Share(distributable, amount, winningStake int64) int64 {
	if winningStake <= 0 {
		return 0
	}
	q, _ := decimal.NewFromInt(distributable).
		Mul(decimal.NewFromInt(amount)).
		QuoRem(decimal.NewFromInt(winningStake), 0)
	return q.IntPart()
}

// Compute resolves every stake and the pool-level figures.
func Compute(in Input) (Result, error) {
	if in.CompanyCutPercent.IsNegative() || in.CompanyCutPercent.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return Result{}, fmt.Errorf("%w: %v", models.ErrValidation, errPercentRange)
	}
	if in.RolloverBonus < 0 {
		return Result{}, fmt.Errorf("%w: negative rollover bonus", models.ErrValidation)
	}

	var res Result
	for _, s := range in.Stakes {
		if s.Amount <= 0 {
			return Result{}, fmt.Errorf("%w: entry %s has non-positive amount %d", models.ErrValidation, s.EntryID, s.Amount)
		}
		if in.Eliminated[s.OptionID] {
			res.ForfeitedStake += s.Amount
			continue
		}
		res.TotalPool += s.Amount
		if s.OptionID == in.WinningOptionID {
			res.WinningStake += s.Amount
		}
	}
	// An eliminated winner has no eligible stake.
	if in.Eliminated[in.WinningOptionID] {
		res.WinningStake = 0
	}

	res.CompanyCut = CompanyCut(res.TotalPool, in.CompanyCutPercent)
	res.DistributablePool = res.TotalPool - res.CompanyCut + in.RolloverBonus

	res.Lines = make([]Line, len(in.Stakes))
	for i, s := range in.Stakes {
		line := Line{Stake: s}
		if res.WinningStake > 0 && s.OptionID == in.WinningOptionID && !in.Eliminated[s.OptionID] {
			line.Won = true
			line.Payout = Share(res.DistributablePool, s.Amount, res.WinningStake)
			res.WinnersCount++
			res.TotalPayout += line.Payout
		} else {
			res.LosersCount++
		}
		res.Lines[i] = line
	}
	if res.WinnersCount > 0 {
		res.Remainder = res.DistributablePool - res.TotalPayout
	}
	return res, nil
}

// RolloverInflow is the amount the settlement adds to the rollover balance.
func (r Result) RolloverInflow() int64 {
	inflow := r.Remainder + r.ForfeitedStake
	if r.NoWinners() {
		inflow += r.DistributablePool
	}
	return inflow
}
