// Package ops exposes the service's operational HTTP surface: a liveness
// check that pings the database and a status endpoint reporting the last
// reconciliation run per business date. This is plumbing for dashboards
// and alerting, not a data API.
package ops

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"milkrun/internal/types"
)

// Pinger checks database connectivity. *pgxpool.Pool satisfies it.
type Pinger interface {
	Ping(ctx context.Context) error
}

// SummarySource reports the last successful run per business date.
type SummarySource interface {
	LastSummaries() []types.RunSummary
}

// ServerConfig holds the configuration for creating a Server.
type ServerConfig struct {
	DB     Pinger
	Runs   SummarySource
	Logger *slog.Logger
}

// Server is the ops HTTP handler set mounted on a chi router.
type Server struct {
	db     Pinger
	runs   SummarySource
	logger *slog.Logger
	router chi.Router
}

func NewServer(cfg ServerConfig) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		db:     cfg.DB,
		runs:   cfg.Runs,
		logger: logger,
		router: chi.NewRouter(),
	}
	s.router.Use(requestIDMiddleware)
	s.router.Get("/healthz", s.handleHealth)
	s.router.Get("/status", s.handleStatus)
	return s
}

// Handler returns the mounted router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// requestIDMiddleware propagates or generates a request ID so ops calls
// correlate with the engine's outbound trace headers.
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-Id")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set("X-Request-Id", requestID)
		next.ServeHTTP(w, r.WithContext(types.WithRequestID(r.Context(), requestID)))
	})
}

type healthResponse struct {
	Status   string `json:"status"`
	Database string `json:"database"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	resp := healthResponse{Status: "healthy", Database: "ok"}
	code := http.StatusOK
	if err := s.db.Ping(ctx); err != nil {
		s.logger.WarnContext(r.Context(), "health check database ping failed", "error", err)
		resp = healthResponse{Status: "degraded", Database: "unreachable"}
		code = http.StatusServiceUnavailable
	}
	s.writeJSON(w, r, code, resp)
}

type runStatus struct {
	BusinessDate      string    `json:"business_date"`
	StartedAt         time.Time `json:"started_at"`
	FinishedAt        time.Time `json:"finished_at"`
	Scheduled         int       `json:"scheduled"`
	EnRoute           int       `json:"en_route"`
	AtPickup          int       `json:"at_pickup"`
	Completed         int       `json:"completed"`
	Total             int       `json:"total"`
	LogisticsDegraded bool      `json:"logistics_degraded"`
	TelemetryDegraded bool      `json:"telemetry_degraded"`
}

type statusResponse struct {
	Runs []runStatus `json:"runs"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	summaries := s.runs.LastSummaries()
	resp := statusResponse{Runs: make([]runStatus, 0, len(summaries))}
	for _, sum := range summaries {
		resp.Runs = append(resp.Runs, runStatus{
			BusinessDate:      sum.BusinessDate.String(),
			StartedAt:         sum.StartedAt,
			FinishedAt:        sum.FinishedAt,
			Scheduled:         sum.Scheduled,
			EnRoute:           sum.EnRoute,
			AtPickup:          sum.AtPickup,
			Completed:         sum.Completed,
			Total:             sum.Total(),
			LogisticsDegraded: sum.LogisticsDegraded,
			TelemetryDegraded: sum.TelemetryDegraded,
		})
	}
	s.writeJSON(w, r, http.StatusOK, resp)
}

func (s *Server) writeJSON(w http.ResponseWriter, r *http.Request, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.ErrorContext(r.Context(), "failed to encode ops response", "error", err)
	}
}
