// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyward Contributors

// Package httpapi exposes the handshake and account lifecycle operations as
// JSON over HTTP.
package httpapi

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/keyward/keyward/internal/account"
	"github.com/keyward/keyward/internal/handshake"
	"github.com/keyward/keyward/internal/identity"
	"github.com/keyward/keyward/internal/ratelimit"
)

// Rate limit scopes.
const (
	ScopeRecovery   = "recover"
	ScopeActivation = "activation"
)

// Handshakes runs the two-step OPAQUE exchanges.
type Handshakes interface {
	RegisterStart(ctx context.Context, req handshake.RegisterStartRequest) (*handshake.StartResult, error)
	RegisterFinish(ctx context.Context, req handshake.RegisterFinishRequest) (*handshake.RegisterFinishResult, error)
	RecoverFinish(ctx context.Context, code string, request []byte, wallet, salt string) (*handshake.StartResult, error)
	LoginStart(ctx context.Context, rawIdentity string, request []byte) (*handshake.StartResult, error)
	LoginFinish(ctx context.Context, token string, finish []byte) (*handshake.LoginResult, error)
}

// Accounts is the part of the lifecycle manager reachable without a
// handshake.
type Accounts interface {
	ConsumeActivationCode(ctx context.Context, code string) (*account.Account, error)
	ResendActivation(ctx context.Context, id identity.Identity) error
	IssueRecoveryCode(ctx context.Context, id identity.Identity) (string, error)
}

// Observer receives one call per completed request.
type Observer interface {
	ObserveHTTPRequest(route, status string)
}

// API holds the request handlers.
type API struct {
	handshakes Handshakes
	accounts   Accounts
	limiter    ratelimit.Limiter
	trigger    handshake.SyncTrigger
	observer   Observer
	logger     *slog.Logger
}

// Option configures an API.
type Option func(*API)

// WithSyncTrigger nudges the CRM sweeper after activations.
func WithSyncTrigger(t handshake.SyncTrigger) Option {
	return func(a *API) { a.trigger = t }
}

// WithObserver reports request outcomes.
func WithObserver(o Observer) Option {
	return func(a *API) { a.observer = o }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *API) { a.logger = l }
}

// New creates an API. A nil limiter admits every request.
func New(handshakes Handshakes, accounts Accounts, limiter ratelimit.Limiter, opts ...Option) *API {
	if limiter == nil {
		limiter = ratelimit.Unlimited{}
	}
	a := &API{
		handshakes: handshakes,
		accounts:   accounts,
		limiter:    limiter,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Routes returns the router with middleware applied.
func (a *API) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(accessLog(a.logger, a.observer))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", RequestIDHeader},
		ExposedHeaders: []string{RequestIDHeader},
		MaxAge:         300,
	}))
	r.Use(limitBody)

	r.Get("/test", a.handleTest)

	r.Post("/register-start", a.handleRegisterStart)
	r.Post("/register-finish/{token}", a.handleRegisterFinish)
	r.Post("/login-start", a.handleLoginStart)
	r.Post("/login-finish/{token}", a.handleLoginFinish)
	r.Post("/recover-start", a.handleRecoverStart)
	r.Post("/recover-finish/{code}", a.handleRecoverFinish)
	r.Get("/activate/{code}", a.handleActivate)
	r.Post("/resend-activation", a.handleResendActivation)

	// Paths used by clients predating the start/finish names.
	r.Post("/register", a.handleRegisterStart)
	r.Post("/register/{token}", a.handleRegisterFinish)
	r.Post("/login", a.handleLoginStart)
	r.Post("/login/{token}", a.handleLoginFinish)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, a.logger, http.StatusNotFound, errorBody{Error: "Not Found"})
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, a.logger, http.StatusMethodNotAllowed, errorBody{Error: "Method Not Allowed"})
	})
	return r
}
