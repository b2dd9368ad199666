package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/poolstake/backend/internal/models"
)

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// writeError maps domain errors to status codes. Anything unrecognized is a
// 500 and is logged.
func writeError(w http.ResponseWriter, logger *slog.Logger, err error) {
	status, code := http.StatusInternalServerError, "internal"
	switch {
	case errors.Is(err, models.ErrValidation):
		status, code = http.StatusBadRequest, "validation"
	case errors.Is(err, models.ErrForbidden):
		status, code = http.StatusForbidden, "forbidden"
	case errors.Is(err, models.ErrNotFound):
		status, code = http.StatusNotFound, "not_found"
	case errors.Is(err, models.ErrInvalidState):
		status, code = http.StatusConflict, "invalid_state"
	case errors.Is(err, models.ErrLastOption):
		status, code = http.StatusConflict, "last_option"
	case errors.Is(err, models.ErrInvalidOption):
		status, code = http.StatusUnprocessableEntity, "invalid_option"
	case errors.Is(err, models.ErrWallet):
		status, code = http.StatusBadGateway, "wallet"
	case errors.Is(err, models.ErrRepositoryUnavailable):
		status, code = http.StatusServiceUnavailable, "unavailable"
	}
	msg := err.Error()
	if status == http.StatusInternalServerError {
		logger.Error("request failed", "error", err)
		msg = "internal error"
	}
	writeJSON(w, status, errorResponse{Error: msg, Code: code})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return wrapValidation("invalid JSON body")
	}
	return nil
}

func pathUUID(r *http.Request, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(r.PathValue(name))
	if err != nil {
		return uuid.Nil, wrapValidation("invalid " + name)
	}
	return id, nil
}

func parseUUID(s, field string) (uuid.UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, wrapValidation("invalid " + field)
	}
	return id, nil
}

// queryInt returns the query parameter as an int, def when absent.
func queryInt(r *http.Request, name string, def int) (int, error) {
	s := r.URL.Query().Get(name)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, wrapValidation("invalid " + name)
	}
	return n, nil
}

func wrapValidation(msg string) error {
	return fmt.Errorf("%w: %s", models.ErrValidation, msg)
}
