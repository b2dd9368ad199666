package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/poolstake/backend/internal/models"
	"github.com/poolstake/backend/internal/repository"
)

// PoolService owns pool creation, option edits, entries, locking,
// elimination and refunds. Every mutation locks the pool row first.
type PoolService struct {
	Deps
	rollover *RolloverService
}

func NewPoolService(d Deps, rollover *RolloverService) *PoolService {
	return &PoolService{Deps: d.withDefaults(), rollover: rollover}
}

type CreatePoolInput struct {
	Title       string
	Description string
	Kind        models.PoolKind
	MinEntry    int64
	ClosingDate *time.Time
	Options     []string
	// IncludeRollover applies the rollover balance to the new pool.
	IncludeRollover bool
}

func (in *CreatePoolInput) normalize() error {
	in.Title = strings.TrimSpace(in.Title)
	if in.Title == "" {
		return fmt.Errorf("%w: title is required", models.ErrValidation)
	}
	if in.Kind == "" {
		in.Kind = models.PoolKindPulse
	}
	if !in.Kind.Valid() {
		return fmt.Errorf("%w: unknown pool type %q", models.ErrValidation, in.Kind)
	}
	if in.MinEntry == 0 {
		in.MinEntry = in.Kind.DefaultMinEntry()
	}
	if in.MinEntry <= 0 {
		return fmt.Errorf("%w: min_entry must be > 0", models.ErrValidation)
	}
	seen := make(map[string]bool, len(in.Options))
	titles := make([]string, 0, len(in.Options))
	for _, o := range in.Options {
		o = strings.TrimSpace(o)
		if o == "" {
			return fmt.Errorf("%w: option title is required", models.ErrValidation)
		}
		key := strings.ToLower(o)
		if seen[key] {
			return fmt.Errorf("%w: duplicate option %q", models.ErrValidation, o)
		}
		seen[key] = true
		titles = append(titles, o)
	}
	if len(titles) < 2 {
		return fmt.Errorf("%w: at least two options are required", models.ErrValidation)
	}
	in.Options = titles
	return nil
}

// Create opens a new pool. When IncludeRollover is set the rollover balance
// is applied in the same transaction and the application is returned.
func (s *PoolService) Create(ctx context.Context, p models.Principal, in CreatePoolInput) (*models.Pool, *models.RolloverApplication, error) {
	if err := requireAdmin(p); err != nil {
		return nil, nil, err
	}
	if err := in.normalize(); err != nil {
		return nil, nil, err
	}

	poolID := uuid.New()
	var app *models.RolloverApplication
	err := s.Retry.Do(ctx, "create pool", func(ctx context.Context) error {
		return inTx(ctx, s.DB, func(tx pgx.Tx) error {
			pool := &models.Pool{
				ID:          poolID,
				Title:       in.Title,
				Description: strings.TrimSpace(in.Description),
				Kind:        in.Kind,
				MinEntry:    in.MinEntry,
				ClosingDate: in.ClosingDate,
				Status:      models.PoolStatusOpen,
				CreatedBy:   p.AdminID,
			}
			for _, title := range in.Options {
				pool.Options = append(pool.Options, models.Option{Title: title})
			}
			if err := s.Pools.CreateTx(ctx, tx, pool); err != nil {
				return err
			}
			if !in.IncludeRollover || s.rollover == nil {
				return nil
			}
			// applyTx expects the pool row locked.
			locked, err := s.Pools.GetForUpdate(ctx, tx, poolID)
			if err != nil {
				return err
			}
			app, err = s.rollover.applyTx(ctx, tx, locked, p)
			return err
		})
	})
	if err != nil && repository.IsUniqueViolation(err) {
		// An attempt whose commit reported failure may still have committed.
		err = s.createdEarlier(ctx, poolID, p, in.Title, err)
	}
	if err != nil {
		return nil, nil, err
	}
	s.Logger.Info("pool created", "pool_id", poolID, "admin_id", p.AdminID, "type", in.Kind, "options", len(in.Options))
	if s.rollover != nil {
		s.rollover.applied(app)
	}
	pool, err := s.Get(ctx, poolID)
	return pool, app, err
}

// createdEarlier reports whether poolID already holds the pool this admin
// asked for, so a retried insert that collides with itself is not an error.
func (s *PoolService) createdEarlier(ctx context.Context, poolID uuid.UUID, p models.Principal, title string, insertErr error) error {
	existing, err := s.Get(ctx, poolID)
	if isNotFound(err) {
		return insertErr
	}
	if err != nil {
		return err
	}
	if existing.CreatedBy != p.AdminID || existing.Title != title {
		return insertErr
	}
	s.Logger.Warn("pool insert collided with an earlier committed attempt", "pool_id", poolID)
	return nil
}

func (s *PoolService) Get(ctx context.Context, poolID uuid.UUID) (*models.Pool, error) {
	var pool *models.Pool
	err := s.Retry.Do(ctx, "get pool", func(ctx context.Context) error {
		var err error
		pool, err = s.Pools.GetByID(ctx, poolID)
		return err
	})
	return pool, err
}

func (s *PoolService) List(ctx context.Context, f models.PoolFilter) ([]*models.Pool, int, error) {
	if f.Kind != "" && !f.Kind.Valid() {
		return nil, 0, fmt.Errorf("%w: unknown pool type %q", models.ErrValidation, f.Kind)
	}
	if f.Status != "" && !f.Status.Valid() {
		return nil, 0, fmt.Errorf("%w: unknown status %q", models.ErrValidation, f.Status)
	}
	if f.Limit > 100 {
		f.Limit = 100
	}
	var list []*models.Pool
	var total int
	err := s.Retry.Do(ctx, "list pools", func(ctx context.Context) error {
		var err error
		list, total, err = s.Pools.List(ctx, f)
		return err
	})
	return list, total, err
}

// Participants returns the most recent entries of a pool.
func (s *PoolService) Participants(ctx context.Context, poolID uuid.UUID, limit int) ([]*models.Entry, error) {
	if _, err := s.Get(ctx, poolID); err != nil {
		return nil, err
	}
	var list []*models.Entry
	err := s.Retry.Do(ctx, "list participants", func(ctx context.Context) error {
		var err error
		list, err = s.Entries.ListByPool(ctx, poolID, limit)
		return err
	})
	return list, err
}

// mutate runs fn with the pool row locked and returns the refreshed pool.
func (s *PoolService) mutate(ctx context.Context, op string, poolID uuid.UUID, fn func(ctx context.Context, tx pgx.Tx, pool *models.Pool) error) (*models.Pool, error) {
	err := s.Retry.Do(ctx, op, func(ctx context.Context) error {
		return inTx(ctx, s.DB, func(tx pgx.Tx) error {
			pool, err := s.Pools.GetForUpdate(ctx, tx, poolID)
			if err != nil {
				return err
			}
			return fn(ctx, tx, pool)
		})
	})
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, poolID)
}

func requireOpen(pool *models.Pool, action string) error {
	if pool.Status != models.PoolStatusOpen {
		return fmt.Errorf("%w: cannot %s pool %s in status %s", models.ErrInvalidState, action, pool.ID, pool.Status)
	}
	return nil
}

func (s *PoolService) AddOption(ctx context.Context, p models.Principal, poolID uuid.UUID, title string) (*models.Pool, error) {
	if err := requireAdmin(p); err != nil {
		return nil, err
	}
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, fmt.Errorf("%w: option title is required", models.ErrValidation)
	}
	return s.mutate(ctx, "add option", poolID, func(ctx context.Context, tx pgx.Tx, pool *models.Pool) error {
		if err := requireOpen(pool, "add an option to"); err != nil {
			return err
		}
		for _, o := range pool.Options {
			if strings.EqualFold(o.Title, title) {
				return fmt.Errorf("%w: duplicate option %q", models.ErrValidation, title)
			}
		}
		return s.Pools.AddOptionTx(ctx, tx, &models.Option{PoolID: poolID, Title: title})
	})
}

func (s *PoolService) EditOption(ctx context.Context, p models.Principal, poolID, optionID uuid.UUID, title string) (*models.Pool, error) {
	if err := requireAdmin(p); err != nil {
		return nil, err
	}
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, fmt.Errorf("%w: option title is required", models.ErrValidation)
	}
	return s.mutate(ctx, "edit option", poolID, func(ctx context.Context, tx pgx.Tx, pool *models.Pool) error {
		if err := requireOpen(pool, "edit an option of"); err != nil {
			return err
		}
		if pool.Option(optionID) == nil {
			return fmt.Errorf("%w: option %s not in pool %s", models.ErrInvalidOption, optionID, poolID)
		}
		return s.Pools.RenameOptionTx(ctx, tx, poolID, optionID, title)
	})
}

type PlaceEntryInput struct {
	OptionID uuid.UUID
	UserID   uuid.UUID
	Amount   int64
}

// PlaceEntry stakes amount from the user's wallet on an option of an open pool.
func (s *PoolService) PlaceEntry(ctx context.Context, p models.Principal, poolID uuid.UUID, in PlaceEntryInput) (*models.Entry, error) {
	if err := requireAdmin(p); err != nil {
		return nil, err
	}
	if in.UserID == uuid.Nil {
		return nil, fmt.Errorf("%w: user_id is required", models.ErrValidation)
	}
	entryID := uuid.New()
	var entry *models.Entry
	_, err := s.mutate(ctx, "place entry", poolID, func(ctx context.Context, tx pgx.Tx, pool *models.Pool) error {
		if err := requireOpen(pool, "stake on"); err != nil {
			return err
		}
		if in.Amount < pool.MinEntry {
			return fmt.Errorf("%w: amount %d below minimum entry %d", models.ErrValidation, in.Amount, pool.MinEntry)
		}
		opt := pool.Option(in.OptionID)
		if opt == nil || opt.Eliminated {
			return fmt.Errorf("%w: option %s not available in pool %s", models.ErrInvalidOption, in.OptionID, poolID)
		}
		key := "stake:" + entryID.String()
		if _, err := s.Wallet.Debit(ctx, tx, in.UserID, in.Amount, models.WalletTxStake, "stake on "+pool.Title, key); err != nil {
			if isInsufficient(err) {
				return fmt.Errorf("%w: %v", models.ErrValidation, err)
			}
			return err
		}
		entry = &models.Entry{ID: entryID, PoolID: poolID, OptionID: in.OptionID, UserID: in.UserID, Amount: in.Amount}
		return s.Entries.CreateTx(ctx, tx, entry)
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

func (s *PoolService) Lock(ctx context.Context, p models.Principal, poolID uuid.UUID) (*models.Pool, error) {
	if err := requireAdmin(p); err != nil {
		return nil, err
	}
	cmd := CommandLock{}
	pool, err := s.mutate(ctx, "lock pool", poolID, func(ctx context.Context, tx pgx.Tx, pool *models.Pool) error {
		if err := checkTransition(cmd, poolID, pool.Status); err != nil {
			return err
		}
		return s.Pools.UpdateStatusTx(ctx, tx, poolID, transitions[cmd.Name()].to, nil)
	})
	if err != nil {
		return nil, err
	}
	s.Metrics.PoolTransition(cmd.Name())
	s.Logger.Info("pool locked", "pool_id", poolID, "admin_id", p.AdminID)
	return pool, nil
}

func (s *PoolService) EliminateOption(ctx context.Context, p models.Principal, poolID, optionID uuid.UUID) (*models.Pool, error) {
	if err := requireAdmin(p); err != nil {
		return nil, err
	}
	cmd := CommandEliminate{OptionID: optionID}
	pool, err := s.mutate(ctx, "eliminate option", poolID, func(ctx context.Context, tx pgx.Tx, pool *models.Pool) error {
		if err := checkTransition(cmd, poolID, pool.Status); err != nil {
			return err
		}
		opt := pool.Option(optionID)
		if opt == nil {
			return fmt.Errorf("%w: option %s not in pool %s", models.ErrInvalidOption, optionID, poolID)
		}
		if opt.Eliminated {
			return fmt.Errorf("%w: option %s already eliminated", models.ErrInvalidOption, optionID)
		}
		if pool.EligibleOptions() <= 1 {
			return fmt.Errorf("%w: option %s", models.ErrLastOption, optionID)
		}
		return s.Pools.EliminateOptionTx(ctx, tx, poolID, optionID, s.Now())
	})
	if err != nil {
		return nil, err
	}
	s.Metrics.PoolTransition(cmd.Name())
	s.Logger.Info("option eliminated", "pool_id", poolID, "option_id", optionID, "admin_id", p.AdminID)
	return pool, nil
}

// Refund returns every stake on a non-eliminated option to its owner and
// closes the pool. Stakes on eliminated options are lost to the rollover
// balance, as is any rollover bonus the pool carried.
func (s *PoolService) Refund(ctx context.Context, p models.Principal, poolID uuid.UUID, reason string) (*models.Pool, error) {
	if err := requireAdmin(p); err != nil {
		return nil, err
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, fmt.Errorf("%w: refund reason is required", models.ErrValidation)
	}
	cmd := CommandRefund{Reason: reason}
	var refunded, forfeited int64
	pool, err := s.mutate(ctx, "refund pool", poolID, func(ctx context.Context, tx pgx.Tx, pool *models.Pool) error {
		refunded, forfeited = 0, 0
		if _, err := s.Settlements.GetByPoolTx(ctx, tx, poolID); err == nil {
			return fmt.Errorf("%w: pool %s already has a settlement", models.ErrInvalidState, poolID)
		} else if !isNotFound(err) {
			return err
		}
		if err := checkTransition(cmd, poolID, pool.Status); err != nil {
			return err
		}

		eliminated := make(map[uuid.UUID]bool)
		for _, o := range pool.Options {
			eliminated[o.ID] = o.Eliminated
		}
		entries, err := s.Entries.ListByPoolTx(ctx, tx, poolID)
		if err != nil {
			return err
		}
		for _, e := range entries {
			if e.Status != models.EntryStatusActive {
				continue
			}
			if eliminated[e.OptionID] {
				forfeited += e.Amount
				var zero int64
				if err := s.Entries.SetStatusTx(ctx, tx, e.ID, models.EntryStatusLost, &zero); err != nil {
					return err
				}
				continue
			}
			key := fmt.Sprintf("refund:%s:%s", poolID, e.ID)
			if _, err := s.Wallet.Credit(ctx, tx, e.UserID, e.Amount, models.WalletTxRefund, "refund: "+reason, key); err != nil {
				return walletError(err, e.UserID, key)
			}
			if err := s.Entries.SetStatusTx(ctx, tx, e.ID, models.EntryStatusRefunded, nil); err != nil {
				return err
			}
			refunded += e.Amount
		}
		if err := s.Ledger.Forfeit(ctx, tx, poolID, forfeited, models.RolloverReasonEliminatedStake); err != nil {
			return err
		}
		if err := s.Ledger.Forfeit(ctx, tx, poolID, pool.RolloverBonus, models.RolloverReasonRefundedBonus); err != nil {
			return err
		}
		return s.Pools.UpdateStatusTx(ctx, tx, poolID, transitions[cmd.Name()].to, &reason)
	})
	if err != nil {
		return nil, err
	}
	s.Metrics.PoolTransition(cmd.Name())
	s.Metrics.RolloverMoved("in", forfeited+pool.RolloverBonus)
	s.Logger.Info("pool refunded", "pool_id", poolID, "admin_id", p.AdminID, "refunded", refunded, "forfeited", forfeited)
	return pool, nil
}
