package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/kartoza/renewal-predictor/internal/codec"
	"github.com/kartoza/renewal-predictor/internal/config"
	"github.com/kartoza/renewal-predictor/internal/journal"
	"github.com/kartoza/renewal-predictor/internal/metrics"
	"github.com/kartoza/renewal-predictor/internal/models"
	"github.com/kartoza/renewal-predictor/internal/scheduler"
)

// DefaultMaxPartBytes bounds a single uploaded part when the config does not
const DefaultMaxPartBytes = 32 << 20

// Scorer turns one uploaded part into its scored counterpart. A non-nil
// error should be a *pipeline.PartError.
type Scorer interface {
	Process(raw []byte, contentType string) ([]byte, error)
}

// ModelInfo describes the loaded model for the info endpoint
type ModelInfo interface {
	Kind() string
	IDColumn() string
	Features() []string
}

// OutcomeStore persists part outcomes
type OutcomeStore interface {
	Record(e journal.Entry)
	Recent(ctx context.Context, limit int) ([]journal.Entry, error)
}

// Handler provides HTTP API endpoints
type Handler struct {
	cfg     config.Config
	scorer  Scorer
	pool    *scheduler.Pool
	logger  zerolog.Logger
	model   ModelInfo
	journal OutcomeStore
	metrics *metrics.Recorder
}

// Option customises a Handler
type Option func(*Handler)

// WithModelInfo exposes model details on /info
func WithModelInfo(m ModelInfo) Option {
	return func(h *Handler) { h.model = m }
}

// WithJournal records every part outcome in store
func WithJournal(store OutcomeStore) Option {
	return func(h *Handler) { h.journal = store }
}

// WithMetrics reports part outcomes and latencies
func WithMetrics(r *metrics.Recorder) Option {
	return func(h *Handler) { h.metrics = r }
}

// NewHandler creates a new API handler
func NewHandler(cfg config.Config, scorer Scorer, pool *scheduler.Pool, logger zerolog.Logger, opts ...Option) *Handler {
	h := &Handler{
		cfg:    cfg,
		scorer: scorer,
		pool:   pool,
		logger: logger,
	}
	if h.cfg.Server.MaxPartBytes <= 0 {
		h.cfg.Server.MaxPartBytes = DefaultMaxPartBytes
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// RegisterRoutes sets up the auxiliary API routes
func (h *Handler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/health", h.handleHealth).Methods("GET")
	r.HandleFunc("/info", h.handleInfo).Methods("GET")
	r.HandleFunc("/outcomes", h.handleOutcomes).Methods("GET")
}

// RegisterPredictRoute mounts the scoring endpoint at the configured route
func (h *Handler) RegisterPredictRoute(r *mux.Router) {
	r.HandleFunc(h.cfg.Server.Route, h.handlePredict).Methods("POST")
}

// respondJSON sends a JSON response
func (h *Handler) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Warn().Err(err).Msg("error encoding response")
	}
}

// respondError sends a JSON error response
func (h *Handler) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, models.ErrorResponse{Error: message})
}

// handleHealth returns server health status
func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleInfo returns server information
func (h *Handler) handleInfo(w http.ResponseWriter, r *http.Request) {
	info := models.InfoResponse{
		Version:        h.cfg.Version,
		Route:          h.cfg.Server.Route,
		ContentTypes:   codec.SupportedContentTypes(),
		Pool:           h.pool.Stats(),
		JournalEnabled: h.journal != nil,
		Features:       []string{},
	}
	if h.model != nil {
		info.ModelKind = h.model.Kind()
		info.IDColumn = h.model.IDColumn()
		info.Features = h.model.Features()
	}
	h.respondJSON(w, http.StatusOK, info)
}

// handleOutcomes returns the most recent part outcomes
func (h *Handler) handleOutcomes(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 1000 {
			h.respondError(w, http.StatusBadRequest, "limit must be an integer between 1 and 1000")
			return
		}
		limit = n
	}

	if h.journal == nil {
		h.respondJSON(w, http.StatusOK, models.OutcomesResponse{Outcomes: []journal.Entry{}})
		return
	}

	entries, err := h.journal.Recent(r.Context(), limit)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to read journal")
		h.respondError(w, http.StatusInternalServerError, "failed to read outcomes")
		return
	}
	h.respondJSON(w, http.StatusOK, models.OutcomesResponse{Outcomes: entries})
}
