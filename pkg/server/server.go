// Package server exposes the prediction gateway over HTTP to the chat
// and API layer.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/predyx-ai/predyx/pkg/cache"
	"github.com/predyx-ai/predyx/pkg/gateway"
	"github.com/predyx-ai/predyx/pkg/metrics"
	"github.com/predyx-ai/predyx/pkg/models"
	"github.com/predyx-ai/predyx/pkg/router"
	"github.com/predyx-ai/predyx/pkg/validate"
)

// Server is the Predyx HTTP front end.
type Server struct {
	listen    string
	gateway   *gateway.Gateway
	cache     *cache.Tiered
	router    *router.Router
	evaluator *validate.Evaluator
	metrics   *metrics.Metrics
	logger    *zap.Logger
	mux       *http.ServeMux
}

// New creates a Server wired with all dependencies.
func New(listen string, g *gateway.Gateway, c *cache.Tiered, r *router.Router, e *validate.Evaluator, m *metrics.Metrics, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		listen:    listen,
		gateway:   g,
		cache:     c,
		router:    r,
		evaluator: e,
		metrics:   m,
		logger:    logger,
		mux:       http.NewServeMux(),
	}
	s.mux.HandleFunc("/v1/predict", s.handlePredict)
	s.mux.HandleFunc("/v1/stats", s.handleStats)
	s.mux.HandleFunc("/healthz", s.handleHealthz)
	s.mux.Handle("/metrics", m.Handler())
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// ListenAndServe starts the server and shuts down gracefully when ctx is
// cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:    s.listen,
		Handler: s,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("predyx gateway listening", zap.String("addr", s.listen))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	case err := <-errCh:
		return err
	}
}

func (s *Server) handlePredict(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req models.PredictionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	result, err := s.gateway.Request(r.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, gateway.ErrInvalidRequest), errors.Is(err, router.ErrNoRoute):
			writeJSONError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, router.ErrAllBackendsExhausted):
			writeJSONError(w, http.StatusBadGateway, err.Error())
		case errors.Is(err, context.Canceled):
			// Client went away; nothing useful to write.
		default:
			s.logger.Error("prediction failed", zap.Error(err))
			writeJSONError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// statsResponse is the /v1/stats payload.
type statsResponse struct {
	CacheTiers      []models.TierStats `json:"cache_tiers"`
	Breakers        map[string]string  `json:"breakers"`
	InFlight        int                `json:"in_flight"`
	BudgetRemaining int                `json:"validation_budget_remaining"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	resp := statsResponse{
		Breakers: s.router.BreakerStates(),
		InFlight: s.gateway.InFlight(),
	}
	if s.cache != nil {
		resp.CacheTiers = s.cache.Stats(r.Context())
	}
	if s.evaluator != nil {
		resp.BudgetRemaining = s.evaluator.BudgetRemaining()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
