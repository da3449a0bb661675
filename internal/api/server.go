package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/SafeSignal-Labs/beacon/internal/capture"
	"github.com/SafeSignal-Labs/beacon/internal/store"
)

// Server is the read-only HTTP surface: health plus artifact lookups. The
// capture pipeline itself runs over the gateway's persistent connections,
// not HTTP.
type Server struct {
	store    store.DataStore
	registry *capture.Registry
	router   chi.Router
	port     int
}

func NewServer(s store.DataStore, registry *capture.Registry, port int) *Server {
	srv := &Server{
		store:    s,
		registry: registry,
		port:     port,
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", srv.handleHealth)
		r.Get("/artifacts", srv.handleListArtifacts)
		r.Get("/artifacts/{artifactID}", srv.handleGetArtifact)
	})

	srv.router = r
	return srv
}

func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.port)
	slog.Info("starting HTTP API", "addr", addr)
	return http.ListenAndServe(addr, s.router)
}

// Router exposes the chi router (for tests).
func (s *Server) Router() http.Handler {
	return s.router
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":          "ok",
		"service":         "beacon",
		"active_sessions": s.registry.ActiveSessions(),
	})
}

func (s *Server) handleListArtifacts(w http.ResponseWriter, r *http.Request) {
	userStr := r.URL.Query().Get("user_id")
	if userStr == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "user_id is required"})
		return
	}
	userID, err := strconv.ParseInt(userStr, 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "user_id must be an integer"})
		return
	}

	limit := 50
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 {
			limit = n
		}
	}

	artifacts, err := s.store.QueryArtifacts(r.Context(), userID, limit)
	if err != nil {
		slog.Error("query artifacts failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}

	writeJSON(w, http.StatusOK, artifacts)
}

func (s *Server) handleGetArtifact(w http.ResponseWriter, r *http.Request) {
	artifactID := chi.URLParam(r, "artifactID")

	a, err := s.store.GetArtifact(r.Context(), artifactID)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "artifact not found"})
		return
	}

	writeJSON(w, http.StatusOK, a)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
