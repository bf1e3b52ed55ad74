package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/telemyapp/aegis-meeting-bot/internal/auth"
	"github.com/telemyapp/aegis-meeting-bot/internal/config"
	"github.com/telemyapp/aegis-meeting-bot/internal/metrics"
)

type Server struct {
	cfg     config.Config
	manager *Manager
}

func NewRouter(cfg config.Config, manager *Manager) http.Handler {
	s := &Server{cfg: cfg, manager: manager}
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
	})
	r.Get("/metrics", metrics.Default().Handler().ServeHTTP)

	r.Route("/api/v1", func(v1 chi.Router) {
		v1.With(auth.Middleware(cfg.JWTSecret)).Group(func(authed chi.Router) {
			// The events route upgrades to a websocket and outlives any
			// request timeout, so the timeout wraps only the plain routes.
			authed.With(middleware.Timeout(30 * time.Second)).Group(func(plain chi.Router) {
				plain.Post("/bots", s.handleStartBot)
				plain.Get("/bots", s.handleListBots)
				plain.Get("/bots/{sessionID}", s.handleGetBot)
				plain.Delete("/bots/{sessionID}", s.handleAbortBot)
			})
			authed.Get("/bots/{sessionID}/events", s.handleBotEvents)
		})
	})

	return r
}

func pathSessionID(r *http.Request) string {
	return chi.URLParam(r, "sessionID")
}

type apiError struct {
	Error struct {
		Code      string `json:"code"`
		Message   string `json:"message"`
		RequestID string `json:"request_id,omitempty"`
	} `json:"error"`
}

func writeAPIError(w http.ResponseWriter, status int, code, message string) {
	var payload apiError
	payload.Error.Code = code
	payload.Error.Message = message
	writeJSON(w, status, payload)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func parseIdempotencyKey(h string) (uuid.UUID, error) {
	return uuid.Parse(h)
}
