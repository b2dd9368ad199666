package services

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/poolstake/backend/internal/models"
	"github.com/poolstake/backend/internal/repository"
)

// TxBeginner is satisfied by *pgxpool.Pool.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// PoolStore is the pool/option persistence used by the services.
type PoolStore interface {
	CreateTx(ctx context.Context, tx pgx.Tx, p *models.Pool) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Pool, error)
	GetForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Pool, error)
	List(ctx context.Context, f models.PoolFilter) ([]*models.Pool, int, error)
	UpdateStatusTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, status models.PoolStatus, refundReason *string) error
	SetRolloverBonusTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, amount int64) error
	AddOptionTx(ctx context.Context, tx pgx.Tx, o *models.Option) error
	RenameOptionTx(ctx context.Context, tx pgx.Tx, poolID, optionID uuid.UUID, title string) error
	EliminateOptionTx(ctx context.Context, tx pgx.Tx, poolID, optionID uuid.UUID, at time.Time) error
}

type EntryStore interface {
	CreateTx(ctx context.Context, tx pgx.Tx, e *models.Entry) error
	ListByPoolTx(ctx context.Context, tx pgx.Tx, poolID uuid.UUID) ([]*models.Entry, error)
	ListByPool(ctx context.Context, poolID uuid.UUID, limit int) ([]*models.Entry, error)
	CountByPoolTx(ctx context.Context, tx pgx.Tx, poolID uuid.UUID) (int, error)
	SetStatusTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, status models.EntryStatus, payout *int64) error
}

type SettlementStore interface {
	GetByPool(ctx context.Context, poolID uuid.UUID) (*models.SettlementLedger, error)
	GetByPoolTx(ctx context.Context, tx pgx.Tx, poolID uuid.UUID) (*models.SettlementLedger, error)
	CreateTx(ctx context.Context, tx pgx.Tx, l *models.SettlementLedger, payouts []models.SettlementPayout) error
	ListPayoutsTx(ctx context.Context, tx pgx.Tx, settlementID uuid.UUID) ([]models.SettlementPayout, error)
	MarkPayoutCreditedTx(ctx context.Context, tx pgx.Tx, settlementID, entryID, walletTxID uuid.UUID) error
	MarkDoneTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, at time.Time) error
}

// Wallet credits and debits participant wallets. Calls with the same
// idempotency key after the first are no-ops returning the original id.
type Wallet interface {
	Credit(ctx context.Context, tx pgx.Tx, userID uuid.UUID, amount int64, kind, memo, idempotencyKey string) (uuid.UUID, error)
	Debit(ctx context.Context, tx pgx.Tx, userID uuid.UUID, amount int64, kind, memo, idempotencyKey string) (uuid.UUID, error)
}

// RolloverLedger is implemented by *ledger.Service.
type RolloverLedger interface {
	LockBalance(ctx context.Context, tx pgx.Tx) (int64, error)
	HasApplication(ctx context.Context, tx pgx.Tx, poolID uuid.UUID) (bool, error)
	Forfeit(ctx context.Context, tx pgx.Tx, poolID uuid.UUID, amount int64, reason models.RolloverReason) error
	Apply(ctx context.Context, tx pgx.Tx, poolID, adminID uuid.UUID, amount int64) (*models.RolloverApplication, error)
	Balance(ctx context.Context) (models.RolloverBalance, error)
	History(ctx context.Context, pageSize int) iter.Seq2[models.RolloverApplication, error]
}

// SettingsStore holds the admin-editable runtime settings.
type SettingsStore interface {
	Get(ctx context.Context) (models.Settings, error)
	GetTx(ctx context.Context, tx pgx.Tx) (models.Settings, error)
	UpdateTx(ctx context.Context, tx pgx.Tx, s *models.Settings) error
}

// Metrics receives business events. *metrics.Registry implements it.
type Metrics interface {
	PoolTransition(command string)
	SettlementFinalized(status models.PoolStatus, totalPayout int64)
	SettlementFailed(reason string)
	RolloverMoved(direction string, amount int64)
	StoreRetry(op string)
}

type noopMetrics struct{}

func (noopMetrics) PoolTransition(string)                        {}
func (noopMetrics) SettlementFinalized(models.PoolStatus, int64) {}
func (noopMetrics) SettlementFailed(string)                      {}
func (noopMetrics) RolloverMoved(string, int64)                  {}
func (noopMetrics) StoreRetry(string)                            {}

// Deps are the collaborators shared by the pool services.
type Deps struct {
	DB          TxBeginner
	Pools       PoolStore
	Entries     EntryStore
	Settlements SettlementStore
	Wallet      Wallet
	Ledger      RolloverLedger
	Retry       RetryPolicy
	Metrics     Metrics
	Logger      *slog.Logger
	Now         func() time.Time

	// Settings is optional; without it the configured cut applies and
	// rollover stays enabled.
	Settings SettingsStore
}

func (d Deps) withDefaults() Deps {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Metrics == nil {
		d.Metrics = noopMetrics{}
	}
	if d.Now == nil {
		d.Now = func() time.Time { return time.Now().UTC() }
	}
	return d
}

// inTx runs fn in a transaction, committing only if fn succeeds.
func inTx(ctx context.Context, db TxBeginner, fn func(tx pgx.Tx) error) error {
	tx, err := db.Begin(ctx)
	if err != nil {
		return repository.Classify(err, "begin transaction")
	}
	defer tx.Rollback(ctx)
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return repository.Classify(err, "commit transaction")
	}
	return nil
}

// settingsTx reads the runtime settings inside tx, or returns nil when no
// store is wired.
func (d Deps) settingsTx(ctx context.Context, tx pgx.Tx) (*models.Settings, error) {
	if d.Settings == nil {
		return nil, nil
	}
	s, err := d.Settings.GetTx(ctx, tx)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// requireRolloverEnabled fails with ErrInvalidState while admins have
// switched rollover off.
func (d Deps) requireRolloverEnabled(ctx context.Context, tx pgx.Tx) error {
	s, err := d.settingsTx(ctx, tx)
	if err != nil {
		return err
	}
	if s != nil && !s.RolloverEnabled {
		return fmt.Errorf("%w: rollover is disabled in system settings", models.ErrInvalidState)
	}
	return nil
}

func requireAdmin(p models.Principal) error {
	if !p.IsAdmin() {
		return models.ErrForbidden
	}
	return nil
}

// walletError wraps a failed credit so it aborts the unit as ErrWallet, unless
// the failure is transient and worth retrying as a whole.
func walletError(err error, userID uuid.UUID, key string) error {
	if repository.IsTransient(err) || errors.Is(err, models.ErrWallet) {
		return err
	}
	return fmt.Errorf("%w: user %s key %s: %v", models.ErrWallet, userID, key, err)
}

func isNotFound(err error) bool {
	return errors.Is(err, models.ErrNotFound)
}

func isInsufficient(err error) bool {
	return errors.Is(err, models.ErrInsufficientFunds)
}
