package router

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/poolstake/backend/internal/auth"
	"github.com/poolstake/backend/internal/handlers"
	"github.com/poolstake/backend/internal/middleware"
	"github.com/poolstake/backend/internal/services"
)

// Pinger reports whether a backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps holds everything the HTTP surface is built from. Wallets, Settings,
// Metrics and Health are optional.
type Deps struct {
	Auth      *auth.Handler
	Tokens    middleware.TokenValidator
	Validator middleware.SchemaValidator
	Pools     *handlers.PoolHandler
	Rollover  *handlers.RolloverHandler
	Wallets   *handlers.WalletHandler
	Settings  *handlers.SettingsHandler
	Metrics   http.Handler
	Observer  middleware.RequestObserver
	Health    Pinger
	Logger    *slog.Logger
}

// New returns the API handler.
func New(d Deps) http.Handler {
	mux := http.NewServeMux()
	admin := middleware.RequireAdmin(d.Tokens)
	body := func(schema string, h http.HandlerFunc) http.Handler {
		return middleware.ValidateBody(d.Validator, schema)(h)
	}

	mux.Handle("POST /auth/login", body(services.SchemaLogin, d.Auth.Login))

	mux.Handle("POST /pools", admin(body(services.SchemaCreatePool, d.Pools.Create)))
	mux.Handle("GET /pools", admin(http.HandlerFunc(d.Pools.List)))
	mux.Handle("GET /pools/{id}", admin(http.HandlerFunc(d.Pools.Get)))
	mux.Handle("GET /pools/{id}/participants", admin(http.HandlerFunc(d.Pools.Participants)))
	mux.Handle("POST /pools/{id}/options", admin(body(services.SchemaOption, d.Pools.AddOption)))
	mux.Handle("PUT /pools/{id}/options/{optionId}", admin(body(services.SchemaOption, d.Pools.EditOption)))
	mux.Handle("POST /pools/{id}/options/{optionId}/eliminate", admin(http.HandlerFunc(d.Pools.Eliminate)))
	mux.Handle("POST /pools/{id}/entries", admin(body(services.SchemaEntry, d.Pools.PlaceEntry)))
	mux.Handle("POST /pools/{id}/lock", admin(http.HandlerFunc(d.Pools.Lock)))
	mux.Handle("POST /pools/{id}/settle", admin(body(services.SchemaSettle, d.Pools.Settle)))
	mux.Handle("POST /pools/{id}/refund", admin(body(services.SchemaRefund, d.Pools.Refund)))
	mux.Handle("GET /pools/{id}/ledger", admin(http.HandlerFunc(d.Pools.Ledger)))

	mux.Handle("POST /rollover/apply", admin(body(services.SchemaApplyRollover, d.Rollover.Apply)))
	mux.Handle("GET /rollover", admin(http.HandlerFunc(d.Rollover.Balance)))
	mux.Handle("GET /rollover/history", admin(http.HandlerFunc(d.Rollover.History)))

	if d.Wallets != nil {
		mux.Handle("GET /wallets/{userId}", admin(http.HandlerFunc(d.Wallets.Get)))
	}
	if d.Settings != nil {
		mux.Handle("GET /settings", admin(http.HandlerFunc(d.Settings.Get)))
		mux.Handle("PUT /settings", admin(body(services.SchemaSettings, d.Settings.Update)))
	}

	mux.HandleFunc("GET /healthz", healthz(d.Health))
	if d.Metrics != nil {
		mux.Handle("GET /metrics", d.Metrics)
	}

	return middleware.Logging(d.Logger, d.Observer)(mux)
}

func healthz(p Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if p != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := p.Ping(ctx); err != nil {
				http.Error(w, `{"status":"unavailable"}`, http.StatusServiceUnavailable)
				return
			}
		}
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}
}
