package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/poolstake/backend/internal/middleware"
	"github.com/poolstake/backend/internal/models"
)

// RolloverService is implemented by *services.RolloverService.
type RolloverService interface {
	Apply(ctx context.Context, p models.Principal, poolID uuid.UUID) (*models.RolloverApplication, error)
	Balance(ctx context.Context) (models.RolloverBalance, error)
	History(ctx context.Context, limit int) ([]models.RolloverApplication, error)
}

// RolloverHandler serves /rollover endpoints.
type RolloverHandler struct {
	Rollover RolloverService
	Logger   *slog.Logger
}

type applyRolloverRequest struct {
	PoolID string `json:"pool_id"`
}

func (h *RolloverHandler) logger() *slog.Logger {
	if h.Logger == nil {
		return slog.Default()
	}
	return h.Logger
}

// Apply handles POST /rollover/apply.
func (h *RolloverHandler) Apply(w http.ResponseWriter, r *http.Request) {
	p, ok := middleware.PrincipalFromCtx(r.Context())
	if !ok {
		http.Error(w, `{"error":"unauthorized","code":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	var req applyRolloverRequest
	if err := decode(r, &req); err != nil {
		writeError(w, h.logger(), err)
		return
	}
	poolID, err := parseUUID(req.PoolID, "pool_id")
	if err != nil {
		writeError(w, h.logger(), err)
		return
	}
	app, err := h.Rollover.Apply(r.Context(), p, poolID)
	if err != nil {
		writeError(w, h.logger(), err)
		return
	}
	writeJSON(w, http.StatusOK, app)
}

// Balance handles GET /rollover.
func (h *RolloverHandler) Balance(w http.ResponseWriter, r *http.Request) {
	b, err := h.Rollover.Balance(r.Context())
	if err != nil {
		writeError(w, h.logger(), err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

// History handles GET /rollover/history.
func (h *RolloverHandler) History(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 50)
	if err != nil {
		writeError(w, h.logger(), err)
		return
	}
	if limit > 500 {
		limit = 500
	}
	list, err := h.Rollover.History(r.Context(), limit)
	if err != nil {
		writeError(w, h.logger(), err)
		return
	}
	if list == nil {
		list = []models.RolloverApplication{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"applications": list})
}
