package models

import (
	"time"

	"github.com/google/uuid"
)

type PoolKind string

const (
	PoolKindPulse PoolKind = "pulse"
	PoolKindGrand PoolKind = "grand"
)

// Default minimum stakes per kind, in kobo.
const (
	PulseDefaultMinEntry int64 = 500
	GrandDefaultMinEntry int64 = 1000
)

func (k PoolKind) Valid() bool {
	return k == PoolKindPulse || k == PoolKindGrand
}

// DefaultMinEntry returns the minimum stake used when a pool is created without one.
func (k PoolKind) DefaultMinEntry() int64 {
	if k == PoolKindGrand {
		return GrandDefaultMinEntry
	}
	return PulseDefaultMinEntry
}

type PoolStatus string

const (
	PoolStatusOpen     PoolStatus = "open"
	PoolStatusLocked   PoolStatus = "locked"
	PoolStatusSettled  PoolStatus = "settled"
	PoolStatusRollover PoolStatus = "rollover"
	PoolStatusRefunded PoolStatus = "refunded"
)

func (s PoolStatus) Valid() bool {
	switch s {
	case PoolStatusOpen, PoolStatusLocked, PoolStatusSettled, PoolStatusRollover, PoolStatusRefunded:
		return true
	}
	return false
}

// Terminal reports whether no further transition is possible from s.
func (s PoolStatus) Terminal() bool {
	return s != PoolStatusOpen && s != PoolStatusLocked
}

type Pool struct {
	ID            uuid.UUID  `json:"id"`
	Title         string     `json:"title"`
	Description   string     `json:"description"`
	Kind          PoolKind   `json:"type"`
	MinEntry      int64      `json:"min_entry"`
	ClosingDate   *time.Time `json:"closing_date,omitempty"`
	Status        PoolStatus `json:"status"`
	RolloverBonus int64      `json:"rollover_bonus"`
	RefundReason  *string    `json:"refund_reason,omitempty"`
	CreatedBy     uuid.UUID  `json:"created_by"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`

	// Derived from entries; filled by the repository on reads.
	TotalPot     int64    `json:"total_pot"`
	Participants int      `json:"participants"`
	Options      []Option `json:"options,omitempty"`
}

// Option returns the pool option with the given id, or nil.
func (p *Pool) Option(id uuid.UUID) *Option {
	for i := range p.Options {
		if p.Options[i].ID == id {
			return &p.Options[i]
		}
	}
	return nil
}

// EligibleOptions counts options that can still win.
func (p *Pool) EligibleOptions() int {
	n := 0
	for _, o := range p.Options {
		if !o.Eliminated {
			n++
		}
	}
	return n
}

type Option struct {
	ID           uuid.UUID  `json:"id"`
	PoolID       uuid.UUID  `json:"pool_id"`
	Title        string     `json:"title"`
	Eliminated   bool       `json:"eliminated"`
	EliminatedAt *time.Time `json:"eliminated_at,omitempty"`
	TotalStake   int64      `json:"total_stake"`
	EntryCount   int        `json:"entry_count"`
	CreatedAt    time.Time  `json:"created_at"`
}

type EntryStatus string

const (
	EntryStatusActive   EntryStatus = "active"
	EntryStatusRefunded EntryStatus = "refunded"
	EntryStatusWon      EntryStatus = "won"
	EntryStatusLost     EntryStatus = "lost"
)

type Entry struct {
	ID           uuid.UUID   `json:"id"`
	PoolID       uuid.UUID   `json:"pool_id"`
	OptionID     uuid.UUID   `json:"option_id"`
	UserID       uuid.UUID   `json:"user_id"`
	Amount       int64       `json:"amount"`
	Status       EntryStatus `json:"status"`
	PayoutAmount *int64      `json:"payout_amount,omitempty"`
	CreatedAt    time.Time   `json:"created_at"`
}

// PoolFilter narrows pool listings. Zero values match everything.
type PoolFilter struct {
	Kind   PoolKind
	Status PoolStatus
	Page   int
	Limit  int
}
