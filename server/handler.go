// Package server exposes the registry as an HTTP decision service.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/grantry/grantry"
)

type CheckRequest struct {
	Action   string         `json:"action"`
	Argument string         `json:"argument,omitempty"`
	Needs    []grantry.Need `json:"needs"`
}

type CheckResponse struct {
	Permitted bool `json:"permitted"`
}

// A Pinger reports whether the component behind it is reachable. The
// networked storage backends and the Redis cache expose one.
type Pinger interface {
	Ping(ctx context.Context) error
}

// NewHandler assembles the HTTP surface of the decision service. registry
// may be nil to accept any action name; pingers may be empty when every
// dependency is in-process.
func NewHandler(log *slog.Logger, resolver *grantry.Resolver, registry grantry.Registry, pingers ...Pinger) http.Handler {
	h := &handler{log, resolver, registry, pingers}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Post("/v1/check", h.check)
	r.Get("/healthz", h.healthz)
	return r
}

type handler struct {
	log      *slog.Logger
	resolver *grantry.Resolver
	registry grantry.Registry
	pingers  []Pinger
}

func (h *handler) check(w http.ResponseWriter, r *http.Request) {
	req := CheckRequest{}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if req.Action == "" {
		writeError(w, http.StatusBadRequest, "missing action")
		return
	}
	if h.registry != nil && !h.registry.IsValid(req.Action, req.Argument) {
		writeError(w, http.StatusBadRequest, "unregistered action")
		return
	}

	permitted, err := h.resolver.Check(r.Context(), req.Action, req.Argument, grantry.NewNeeds(req.Needs...))
	if errors.Is(err, grantry.ErrUnavailable) {
		h.log.Error("storage unavailable during check", slog.String("action", req.Action), slog.Any("error", err))
		writeError(w, http.StatusServiceUnavailable, "try again later")
		return
	} else if err != nil {
		h.log.Error("failed to check action", slog.String("action", req.Action), slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "failed to check action")
		return
	}

	writeJSON(w, http.StatusOK, CheckResponse{Permitted: permitted})
}

func (h *handler) healthz(w http.ResponseWriter, r *http.Request) {
	for _, p := range h.pingers {
		if err := p.Ping(r.Context()); err != nil {
			h.log.Error("healthcheck failed", slog.Any("error", err))
			writeError(w, http.StatusServiceUnavailable, "unhealthy")
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
