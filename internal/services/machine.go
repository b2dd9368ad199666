package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/poolstake/backend/internal/models"
)

// Command is an administrator intent against a pool.
type Command interface {
	Name() string
	isCommand()
}

type CommandLock struct{}

type CommandEliminate struct {
	OptionID uuid.UUID
}

type CommandSettle struct {
	WinningOptionID uuid.UUID
}

type CommandRefund struct {
	Reason string
}

func (CommandLock) Name() string      { return "lock" }
func (CommandEliminate) Name() string { return "eliminate" }
func (CommandSettle) Name() string    { return "settle" }
func (CommandRefund) Name() string    { return "refund" }

func (CommandLock) isCommand()      {}
func (CommandEliminate) isCommand() {}
func (CommandSettle) isCommand()    {}
func (CommandRefund) isCommand()    {}

// transitions lists, per command, the status it is legal from and the status
// it leads to. Settle leads to rollover instead of settled when nobody wins.
var transitions = map[string]struct {
	from models.PoolStatus
	to   models.PoolStatus
}{
	"lock":      {from: models.PoolStatusOpen, to: models.PoolStatusLocked},
	"eliminate": {from: models.PoolStatusLocked, to: models.PoolStatusLocked},
	"settle":    {from: models.PoolStatusLocked, to: models.PoolStatusSettled},
	"refund":    {from: models.PoolStatusLocked, to: models.PoolStatusRefunded},
}

// checkTransition returns ErrInvalidState unless cmd is legal from status.
func checkTransition(cmd Command, poolID uuid.UUID, status models.PoolStatus) error {
	t, ok := transitions[cmd.Name()]
	if !ok {
		return fmt.Errorf("%w: unknown command %q", models.ErrValidation, cmd.Name())
	}
	if status != t.from {
		return fmt.Errorf("%w: cannot %s pool %s in status %s", models.ErrInvalidState, cmd.Name(), poolID, status)
	}
	return nil
}

// Outcome is what a dispatched command produced. Settle fills Settlement;
// the others fill Pool.
type Outcome struct {
	Pool       *models.Pool
	Settlement *models.SettlementSummary
}

// PoolMachine routes administrator commands to the service that owns them.
type PoolMachine struct {
	Pools      *PoolService
	Settlement *SettlementEngine
}

func NewPoolMachine(pools *PoolService, settlement *SettlementEngine) *PoolMachine {
	return &PoolMachine{Pools: pools, Settlement: settlement}
}

func (m *PoolMachine) Dispatch(ctx context.Context, p models.Principal, poolID uuid.UUID, cmd Command) (*Outcome, error) {
	switch c := cmd.(type) {
	case CommandLock:
		pool, err := m.Pools.Lock(ctx, p, poolID)
		return &Outcome{Pool: pool}, err
	case CommandEliminate:
		pool, err := m.Pools.EliminateOption(ctx, p, poolID, c.OptionID)
		return &Outcome{Pool: pool}, err
	case CommandSettle:
		sum, err := m.Settlement.Settle(ctx, p, poolID, c.WinningOptionID)
		return &Outcome{Settlement: sum}, err
	case CommandRefund:
		pool, err := m.Pools.Refund(ctx, p, poolID, c.Reason)
		return &Outcome{Pool: pool}, err
	default:
		return nil, fmt.Errorf("%w: unsupported command %T", models.ErrValidation, cmd)
	}
}
