package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/poolstake/backend/internal/middleware"
	"github.com/poolstake/backend/internal/models"
	"github.com/poolstake/backend/internal/services"
)

// PoolService is implemented by *services.PoolService.
type PoolService interface {
	Create(ctx context.Context, p models.Principal, in services.CreatePoolInput) (*models.Pool, *models.RolloverApplication, error)
	Get(ctx context.Context, poolID uuid.UUID) (*models.Pool, error)
	List(ctx context.Context, f models.PoolFilter) ([]*models.Pool, int, error)
	Participants(ctx context.Context, poolID uuid.UUID, limit int) ([]*models.Entry, error)
	AddOption(ctx context.Context, p models.Principal, poolID uuid.UUID, title string) (*models.Pool, error)
	EditOption(ctx context.Context, p models.Principal, poolID, optionID uuid.UUID, title string) (*models.Pool, error)
	PlaceEntry(ctx context.Context, p models.Principal, poolID uuid.UUID, in services.PlaceEntryInput) (*models.Entry, error)
}

// CommandDispatcher is implemented by *services.PoolMachine.
type CommandDispatcher interface {
	Dispatch(ctx context.Context, p models.Principal, poolID uuid.UUID, cmd services.Command) (*services.Outcome, error)
}

// LedgerReader is implemented by *services.SettlementEngine.
type LedgerReader interface {
	Ledger(ctx context.Context, poolID uuid.UUID) (*models.SettlementLedger, error)
}

// PoolHandler serves /pools endpoints.
type PoolHandler struct {
	Pools   PoolService
	Machine CommandDispatcher
	Ledgers LedgerReader
	Logger  *slog.Logger
}

func (h *PoolHandler) logger() *slog.Logger {
	if h.Logger == nil {
		return slog.Default()
	}
	return h.Logger
}

// principal is set by RequireAdmin; its absence means the route was mounted
// without auth.
func (h *PoolHandler) principal(w http.ResponseWriter, r *http.Request) (models.Principal, bool) {
	p, ok := middleware.PrincipalFromCtx(r.Context())
	if !ok {
		http.Error(w, `{"error":"unauthorized","code":"unauthorized"}`, http.StatusUnauthorized)
	}
	return p, ok
}

// --- POST /pools ---

type createPoolRequest struct {
	Title           string     `json:"title"`
	Description     string     `json:"description"`
	Kind            string     `json:"type"`
	MinEntry        int64      `json:"min_entry"`
	ClosingDate     *time.Time `json:"closing_date"`
	Options         []string   `json:"options"`
	IncludeRollover bool       `json:"include_rollover"`
}

type createPoolResponse struct {
	Pool                *models.Pool                `json:"pool"`
	RolloverApplication *models.RolloverApplication `json:"rollover_application,omitempty"`
}

func (h *PoolHandler) Create(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	var req createPoolRequest
	if err := decode(r, &req); err != nil {
		writeError(w, h.logger(), err)
		return
	}
	pool, app, err := h.Pools.Create(r.Context(), p, services.CreatePoolInput{
		Title:           req.Title,
		Description:     req.Description,
		Kind:            models.PoolKind(req.Kind),
		MinEntry:        req.MinEntry,
		ClosingDate:     req.ClosingDate,
		Options:         req.Options,
		IncludeRollover: req.IncludeRollover,
	})
	if err != nil {
		writeError(w, h.logger(), err)
		return
	}
	writeJSON(w, http.StatusCreated, createPoolResponse{Pool: pool, RolloverApplication: app})
}

// --- GET /pools ---

type listPoolsResponse struct {
	Pools []*models.Pool `json:"pools"`
	Total int            `json:"total"`
	Page  int            `json:"page"`
	Limit int            `json:"limit"`
}

func (h *PoolHandler) List(w http.ResponseWriter, r *http.Request) {
	page, err := queryInt(r, "page", 1)
	if err != nil {
		writeError(w, h.logger(), err)
		return
	}
	limit, err := queryInt(r, "limit", 20)
	if err != nil {
		writeError(w, h.logger(), err)
		return
	}
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 20
	}
	q := r.URL.Query()
	f := models.PoolFilter{
		Kind:   models.PoolKind(q.Get("type")),
		Status: models.PoolStatus(q.Get("status")),
		Page:   page,
		Limit:  limit,
	}
	pools, total, err := h.Pools.List(r.Context(), f)
	if err != nil {
		writeError(w, h.logger(), err)
		return
	}
	if pools == nil {
		pools = []*models.Pool{}
	}
	writeJSON(w, http.StatusOK, listPoolsResponse{Pools: pools, Total: total, Page: page, Limit: limit})
}

// --- GET /pools/{id} ---

func (h *PoolHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, h.logger(), err)
		return
	}
	pool, err := h.Pools.Get(r.Context(), id)
	if err != nil {
		writeError(w, h.logger(), err)
		return
	}
	writeJSON(w, http.StatusOK, pool)
}

// --- GET /pools/{id}/participants ---

func (h *PoolHandler) Participants(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, h.logger(), err)
		return
	}
	limit, err := queryInt(r, "limit", 100)
	if err != nil {
		writeError(w, h.logger(), err)
		return
	}
	entries, err := h.Pools.Participants(r.Context(), id, limit)
	if err != nil {
		writeError(w, h.logger(), err)
		return
	}
	if entries == nil {
		entries = []*models.Entry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

// --- POST /pools/{id}/options, PUT /pools/{id}/options/{optionId} ---

type optionRequest struct {
	Title string `json:"title"`
}

func (h *PoolHandler) AddOption(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	id, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, h.logger(), err)
		return
	}
	var req optionRequest
	if err := decode(r, &req); err != nil {
		writeError(w, h.logger(), err)
		return
	}
	pool, err := h.Pools.AddOption(r.Context(), p, id, req.Title)
	if err != nil {
		writeError(w, h.logger(), err)
		return
	}
	writeJSON(w, http.StatusCreated, pool)
}

func (h *PoolHandler) EditOption(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	id, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, h.logger(), err)
		return
	}
	optionID, err := pathUUID(r, "optionId")
	if err != nil {
		writeError(w, h.logger(), err)
		return
	}
	var req optionRequest
	if err := decode(r, &req); err != nil {
		writeError(w, h.logger(), err)
		return
	}
	pool, err := h.Pools.EditOption(r.Context(), p, id, optionID, req.Title)
	if err != nil {
		writeError(w, h.logger(), err)
		return
	}
	writeJSON(w, http.StatusOK, pool)
}

// --- POST /pools/{id}/entries ---

type entryRequest struct {
	OptionID string `json:"option_id"`
	UserID   string `json:"user_id"`
	Amount   int64  `json:"amount"`
}

func (h *PoolHandler) PlaceEntry(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	id, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, h.logger(), err)
		return
	}
	var req entryRequest
	if err := decode(r, &req); err != nil {
		writeError(w, h.logger(), err)
		return
	}
	optionID, err := parseUUID(req.OptionID, "option_id")
	if err != nil {
		writeError(w, h.logger(), err)
		return
	}
	userID, err := parseUUID(req.UserID, "user_id")
	if err != nil {
		writeError(w, h.logger(), err)
		return
	}
	entry, err := h.Pools.PlaceEntry(r.Context(), p, id, services.PlaceEntryInput{OptionID: optionID, UserID: userID, Amount: req.Amount})
	if err != nil {
		writeError(w, h.logger(), err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

// --- state machine commands ---

func (h *PoolHandler) dispatch(w http.ResponseWriter, r *http.Request, p models.Principal, poolID uuid.UUID, cmd services.Command) {
	out, err := h.Machine.Dispatch(r.Context(), p, poolID, cmd)
	if err != nil {
		writeError(w, h.logger(), err)
		return
	}
	if out.Settlement != nil {
		writeJSON(w, http.StatusOK, out.Settlement)
		return
	}
	writeJSON(w, http.StatusOK, out.Pool)
}

// Lock handles POST /pools/{id}/lock.
func (h *PoolHandler) Lock(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	id, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, h.logger(), err)
		return
	}
	h.dispatch(w, r, p, id, services.CommandLock{})
}

// Eliminate handles POST /pools/{id}/options/{optionId}/eliminate.
func (h *PoolHandler) Eliminate(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	id, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, h.logger(), err)
		return
	}
	optionID, err := pathUUID(r, "optionId")
	if err != nil {
		writeError(w, h.logger(), err)
		return
	}
	h.dispatch(w, r, p, id, services.CommandEliminate{OptionID: optionID})
}

type settleRequest struct {
	WinningOptionID string `json:"winning_option_id"`
}

// Settle handles POST /pools/{id}/settle.
func (h *PoolHandler) Settle(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	id, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, h.logger(), err)
		return
	}
	var req settleRequest
	if err := decode(r, &req); err != nil {
		writeError(w, h.logger(), err)
		return
	}
	winner, err := parseUUID(req.WinningOptionID, "winning_option_id")
	if err != nil {
		writeError(w, h.logger(), err)
		return
	}
	h.dispatch(w, r, p, id, services.CommandSettle{WinningOptionID: winner})
}

type refundRequest struct {
	Reason string `json:"reason"`
}

// Refund handles POST /pools/{id}/refund.
func (h *PoolHandler) Refund(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	id, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, h.logger(), err)
		return
	}
	var req refundRequest
	if err := decode(r, &req); err != nil {
		writeError(w, h.logger(), err)
		return
	}
	h.dispatch(w, r, p, id, services.CommandRefund{Reason: req.Reason})
}

// Ledger handles GET /pools/{id}/ledger.
func (h *PoolHandler) Ledger(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, h.logger(), err)
		return
	}
	l, err := h.Ledgers.Ledger(r.Context(), id)
	if err != nil {
		writeError(w, h.logger(), err)
		return
	}
	writeJSON(w, http.StatusOK, l)
}
