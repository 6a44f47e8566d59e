// Package api exposes the simulation runner, progress, run history and the
// farm over HTTP for the browser UI.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/explant/explant/internal/config"
	"github.com/explant/explant/internal/farm"
	"github.com/explant/explant/internal/runner"
	"github.com/explant/explant/internal/simclient"
	"github.com/explant/explant/internal/store"
	"github.com/explant/explant/internal/telemetry"
)

// budgetSlack is added on top of the worst-case client retry budget.
const budgetSlack = 15 * time.Second

// Deps are the components the server routes to. Config, Runner and Farm
// are required; Runs and Hub enable history and the event stream.
type Deps struct {
	Config *config.Config
	Runner *runner.Runner
	Runs   store.RunStore
	Farm   *farm.Farm
	Hub    *telemetry.Hub
	Logger *slog.Logger
}

// Server represents the API server
type Server struct {
	cfg       *config.Config
	runner    *runner.Runner
	runs      store.RunStore
	farm      *farm.Farm
	hub       *telemetry.Hub
	logger    *slog.Logger
	startTime time.Time
	timeout   time.Duration
}

// NewServer creates a new API server instance
func NewServer(d Deps) *Server {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:       d.Config,
		runner:    d.Runner,
		runs:      d.Runs,
		farm:      d.Farm,
		hub:       d.Hub,
		logger:    logger,
		startTime: time.Now(),
		timeout:   RequestBudget(d.Config.SimClient()),
	}
}

// RequestBudget is the longest a simulation request may take: the client's
// worst case under its effective settings, with some slack.
func RequestBudget(c simclient.Config) time.Duration {
	return c.WorstCase() + budgetSlack
}

// Routes sets up the HTTP routes for the API server
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(s.recoverer)
	r.Use(s.cors)

	r.Get("/health", s.handleHealth)
	r.Get("/version", s.handleVersion)

	// The event stream is long-lived and stays outside the request timeout.
	r.Get("/ws/events", s.handleEvents)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Timeout(s.timeout))

		r.Get("/catalog", s.handleCatalog)
		r.Post("/simulations", s.handleSimulate)

		r.Get("/progress", s.handleGetProgress)
		r.Delete("/progress", s.handleResetProgress)

		r.Get("/runs", s.handleListRuns)
		r.Get("/runs/export.csv", s.handleExportRuns)

		r.Get("/farm", s.handleGetFarm)
		r.Post("/farm/next-day", s.handleNextDay)
		r.Post("/farm/{action}", s.handleFarmAction)
	})

	return r
}

// writeJSON writes a JSON response with the given status code
func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Explant-Version", Version)
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("encode response", "error", err)
	}
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Info("request",
			"request_id", middleware.GetReqID(r.Context()),
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

// cors allows the configured browser origins. "*" allows any origin.
func (s *Server) cors(next http.Handler) http.Handler {
	origins := s.cfg.Server.AllowedOrigins
	wildcard := slices.Contains(origins, "*")
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && (wildcard || slices.ContainsFunc(origins, func(o string) bool {
			return strings.EqualFold(o, origin)
		})) {
			h := w.Header()
			if wildcard {
				h.Set("Access-Control-Allow-Origin", "*")
			} else {
				h.Set("Access-Control-Allow-Origin", origin)
				h.Add("Vary", "Origin")
			}
			h.Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-Id")
			h.Set("Access-Control-Max-Age", "600")
		}
		if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
