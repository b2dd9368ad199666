package services

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/poolstake/backend/internal/models"
)

// SettingsService reads and updates the runtime settings row.
type SettingsService struct {
	Deps
}

func NewSettingsService(d Deps) *SettingsService {
	return &SettingsService{Deps: d.withDefaults()}
}

var errNoSettingsStore = errors.New("settings store not configured")

type UpdateSettingsInput struct {
	CompanyCutPercent decimal.Decimal
	RolloverEnabled   bool
}

func (s *SettingsService) Get(ctx context.Context) (models.Settings, error) {
	if s.Settings == nil {
		return models.Settings{}, errNoSettingsStore
	}
	var out models.Settings
	err := s.Retry.Do(ctx, "get settings", func(ctx context.Context) error {
		var err error
		out, err = s.Settings.Get(ctx)
		return err
	})
	return out, err
}

// Update replaces both settings. A new cut applies to settlements written
// afterwards; existing ledgers keep the cut they were computed with.
func (s *SettingsService) Update(ctx context.Context, p models.Principal, in UpdateSettingsInput) (models.Settings, error) {
	if err := requireAdmin(p); err != nil {
		return models.Settings{}, err
	}
	if err := models.ValidateCutPercent(in.CompanyCutPercent); err != nil {
		return models.Settings{}, err
	}
	if s.Settings == nil {
		return models.Settings{}, errNoSettingsStore
	}
	adminID := p.AdminID
	next := models.Settings{
		CompanyCutPercent: in.CompanyCutPercent,
		RolloverEnabled:   in.RolloverEnabled,
		UpdatedBy:         &adminID,
	}
	var prev models.Settings
	err := s.Retry.Do(ctx, "update settings", func(ctx context.Context) error {
		return inTx(ctx, s.DB, func(tx pgx.Tx) error {
			var err error
			if prev, err = s.Settings.GetTx(ctx, tx); err != nil {
				return err
			}
			return s.Settings.UpdateTx(ctx, tx, &next)
		})
	})
	if err != nil {
		return models.Settings{}, err
	}
	s.Logger.Info("settings updated", "admin_id", p.AdminID,
		"company_cut_percent", next.CompanyCutPercent.String(), "previous_cut_percent", prev.CompanyCutPercent.String(),
		"rollover_enabled", next.RolloverEnabled, "previous_rollover_enabled", prev.RolloverEnabled)
	return next, nil
}
