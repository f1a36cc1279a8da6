// Package httpapi mounts the gateway's HTTP surface: the websocket endpoint,
// the user directory, raw push, room history, stats and health.
package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/scigal/im-gateway/internal/handler/ws"
	"github.com/scigal/im-gateway/internal/service"
	"github.com/scigal/im-gateway/internal/storage"
	"github.com/scigal/im-gateway/internal/user"
)

const maxPushBody = 1 << 20

type API struct {
	logger  *slog.Logger
	gateway *service.Gateway
	users   *user.Service
	breaker *storage.BreakerStore
}

func New(logger *slog.Logger, gw *service.Gateway, users *user.Service, breaker *storage.BreakerStore) *API {
	return &API{logger: logger, gateway: gw, users: users, breaker: breaker}
}

func (a *API) Router(wsHandler *ws.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Handle("/ws", wsHandler)

	r.Post("/raw/push", a.rawPush)
	r.Post("/users", a.createUser)
	r.Get("/users", a.listUsers)
	r.Get("/users/lookup", a.lookupUser)
	r.Get("/users/{userID}/status", a.userStatus)
	r.Get("/rooms/{room}/messages", a.roomHistory)
	r.Get("/stats", a.stats)
	r.Get("/healthz", a.healthz)

	return r
}

// rawPush lets backend services inject a frame without holding a websocket.
// An envelope-shaped body is routed to its room; anything else fans out to
// every connection.
func (a *API) rawPush(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxPushBody))
	if err != nil || len(body) == 0 {
		http.Error(w, "empty body", http.StatusBadRequest)
		return
	}
	a.gateway.RawBroadcast(body)
	w.WriteHeader(http.StatusAccepted)
}

func (a *API) createUser(w http.ResponseWriter, r *http.Request) {
	var u user.User
	if err := json.NewDecoder(r.Body).Decode(&u); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	err := a.users.Create(r.Context(), &u)
	switch {
	case errors.Is(err, user.ErrInvalid):
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	case errors.Is(err, user.ErrDuplicateEmail):
		http.Error(w, err.Error(), http.StatusConflict)
		return
	case err != nil:
		a.logger.Error("create user failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	a.respond(w, http.StatusCreated, &u)
}

func (a *API) listUsers(w http.ResponseWriter, r *http.Request) {
	users, err := a.users.List(r.Context())
	if err != nil {
		a.logger.Error("list users failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if users == nil {
		users = []*user.User{}
	}
	a.respond(w, http.StatusOK, users)
}

// lookupUser resolves a user by email. Hot path for frame enrichment, served
// from the profile cache after the first hit.
func (a *API) lookupUser(w http.ResponseWriter, r *http.Request) {
	email := r.URL.Query().Get("email")
	if email == "" {
		http.Error(w, "missing email", http.StatusBadRequest)
		return
	}

	u, err := a.users.GetByEmail(r.Context(), email)
	if errors.Is(err, user.ErrNotFound) {
		http.Error(w, "unknown user", http.StatusNotFound)
		return
	}
	if err != nil {
		a.logger.Error("user lookup failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	a.respond(w, http.StatusOK, u)
}

func (a *API) userStatus(w http.ResponseWriter, r *http.Request) {
	entry, err := a.users.StatusOf(r.Context(), chi.URLParam(r, "userID"))
	if errors.Is(err, user.ErrNotFound) {
		http.Error(w, "unknown user", http.StatusNotFound)
		return
	}
	if err != nil {
		a.logger.Error("user status failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	a.respond(w, http.StatusOK, entry)
}

func (a *API) roomHistory(w http.ResponseWriter, r *http.Request) {
	frames, err := a.gateway.History(r.Context(), chi.URLParam(r, "room"))
	if err != nil {
		a.logger.Error("room history failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if frames == nil {
		frames = []json.RawMessage{}
	}
	a.respond(w, http.StatusOK, frames)
}

func (a *API) stats(w http.ResponseWriter, _ *http.Request) {
	a.respond(w, http.StatusOK, a.gateway.Stats())
}

type healthReport struct {
	Status string `json:"status"`
	Relay  bool   `json:"relay"`
	Store  bool   `json:"store"`
}

// healthz reports degraded dependencies without failing the probe: the
// gateway keeps delivering locally even when the relay or store is down.
func (a *API) healthz(w http.ResponseWriter, _ *http.Request) {
	report := &healthReport{Status: "ok", Relay: a.gateway.Stats().RelayConnected}
	if a.breaker != nil {
		report.Store = a.breaker.Healthy()
	}
	if !report.Relay || !report.Store {
		report.Status = "degraded"
	}
	a.respond(w, http.StatusOK, report)
}

func (a *API) respond(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.logger.Warn("response encode failed", "error", err)
	}
}
