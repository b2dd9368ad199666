package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/poolstake/backend/internal/models"
)

// WalletReader is implemented by *repository.WalletRepo.
type WalletReader interface {
	Balance(ctx context.Context, userID uuid.UUID) (int64, error)
	Transactions(ctx context.Context, userID uuid.UUID, limit int) ([]models.WalletTransaction, error)
}

// WalletHandler lets operators audit stakes, payouts and refunds per user.
type WalletHandler struct {
	Wallets WalletReader
	Logger  *slog.Logger
}

type walletResponse struct {
	UserID       uuid.UUID                  `json:"user_id"`
	Balance      int64                      `json:"balance"`
	Transactions []models.WalletTransaction `json:"transactions"`
}

// Get handles GET /wallets/{userId}.
func (h *WalletHandler) Get(w http.ResponseWriter, r *http.Request) {
	logger := h.Logger
	if logger == nil {
		logger = slog.Default()
	}
	userID, err := pathUUID(r, "userId")
	if err != nil {
		writeError(w, logger, err)
		return
	}
	limit, err := queryInt(r, "limit", 50)
	if err != nil {
		writeError(w, logger, err)
		return
	}
	balance, err := h.Wallets.Balance(r.Context(), userID)
	if err != nil {
		writeError(w, logger, err)
		return
	}
	txs, err := h.Wallets.Transactions(r.Context(), userID, limit)
	if err != nil {
		writeError(w, logger, err)
		return
	}
	if txs == nil {
		txs = []models.WalletTransaction{}
	}
	writeJSON(w, http.StatusOK, walletResponse{UserID: userID, Balance: balance, Transactions: txs})
}
