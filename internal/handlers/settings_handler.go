package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/poolstake/backend/internal/middleware"
	"github.com/poolstake/backend/internal/models"
	"github.com/poolstake/backend/internal/services"
)

// SettingsService is implemented by *services.SettingsService.
type SettingsService interface {
	Get(ctx context.Context) (models.Settings, error)
	Update(ctx context.Context, p models.Principal, in services.UpdateSettingsInput) (models.Settings, error)
}

// SettingsHandler serves /settings.
type SettingsHandler struct {
	Settings SettingsService
	Logger   *slog.Logger
}

type updateSettingsRequest struct {
	CompanyCutPercent decimal.Decimal `json:"company_cut_percent"`
	RolloverEnabled   bool            `json:"rollover_enabled"`
}

func (h *SettingsHandler) logger() *slog.Logger {
	if h.Logger == nil {
		return slog.Default()
	}
	return h.Logger
}

// Get handles GET /settings.
func (h *SettingsHandler) Get(w http.ResponseWriter, r *http.Request) {
	s, err := h.Settings.Get(r.Context())
	if err != nil {
		writeError(w, h.logger(), err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

// Update handles PUT /settings.
func (h *SettingsHandler) Update(w http.ResponseWriter, r *http.Request) {
	p, ok := middleware.PrincipalFromCtx(r.Context())
	if !ok {
		http.Error(w, `{"error":"unauthorized","code":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	var req updateSettingsRequest
	if err := decode(r, &req); err != nil {
		writeError(w, h.logger(), err)
		return
	}
	s, err := h.Settings.Update(r.Context(), p, services.UpdateSettingsInput{
		CompanyCutPercent: req.CompanyCutPercent,
		RolloverEnabled:   req.RolloverEnabled,
	})
	if err != nil {
		writeError(w, h.logger(), err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}
