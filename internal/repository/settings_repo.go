package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/poolstake/backend/internal/models"
)

// SettingsRepo stores the single system_settings row.
type SettingsRepo struct {
	pool *pgxpool.Pool
}

func NewSettingsRepo(pool *pgxpool.Pool) *SettingsRepo {
	return &SettingsRepo{pool: pool}
}

// EnsureDefaults seeds the row on first boot. An existing row is left alone,
// so values saved by an admin survive restarts.
func (r *SettingsRepo) EnsureDefaults(ctx context.Context, cut decimal.Decimal) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO system_settings (id, company_cut_percent, rollover_enabled)
		VALUES (1, $1, TRUE)
		ON CONFLICT (id) DO NOTHING
	`, cut)
	return classify(err, "seed system settings")
}

const settingsQuery = `SELECT company_cut_percent, rollover_enabled, updated_by, updated_at FROM system_settings WHERE id = 1`

func scanSettings(row pgx.Row) (models.Settings, error) {
	var s models.Settings
	err := row.Scan(&s.CompanyCutPercent, &s.RolloverEnabled, &s.UpdatedBy, &s.UpdatedAt)
	return s, err
}

func (r *SettingsRepo) Get(ctx context.Context) (models.Settings, error) {
	s, err := scanSettings(r.pool.QueryRow(ctx, settingsQuery))
	return s, classify(err, "system settings")
}

func (r *SettingsRepo) GetTx(ctx context.Context, tx pgx.Tx) (models.Settings, error) {
	s, err := scanSettings(tx.QueryRow(ctx, settingsQuery))
	return s, classify(err, "system settings")
}

// UpdateTx overwrites the row and fills s.UpdatedAt.
func (r *SettingsRepo) UpdateTx(ctx context.Context, tx pgx.Tx, s *models.Settings) error {
	err := tx.QueryRow(ctx, `
		UPDATE system_settings
		SET company_cut_percent = $1, rollover_enabled = $2, updated_by = $3, updated_at = now()
		WHERE id = 1
		RETURNING updated_at
	`, s.CompanyCutPercent, s.RolloverEnabled, s.UpdatedBy).Scan(&s.UpdatedAt)
	return classify(err, "update system settings")
}
