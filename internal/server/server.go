package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/kartoza/renewal-predictor/internal/api"
	"github.com/kartoza/renewal-predictor/internal/codec"
	"github.com/kartoza/renewal-predictor/internal/config"
	"github.com/kartoza/renewal-predictor/internal/journal"
	"github.com/kartoza/renewal-predictor/internal/metrics"
	"github.com/kartoza/renewal-predictor/internal/model"
	"github.com/kartoza/renewal-predictor/internal/pipeline"
	"github.com/kartoza/renewal-predictor/internal/scheduler"
)

// Server holds all the components for the web application
type Server struct {
	cfg        config.Config
	logger     zerolog.Logger
	httpServer *http.Server
	router     *mux.Router
	pool       *scheduler.Pool
	metrics    *metrics.Recorder
	journal    *journal.Journal
}

// New creates a new Server with all components initialized. The bundle
// must already be loaded; the server never starts without one.
func New(cfg config.Config, bundle *model.Bundle, logger zerolog.Logger) (*Server, error) {
	if bundle == nil {
		return nil, errors.New("server requires a loaded model bundle")
	}
	for _, name := range []string{cfg.Model.LabelColumn, cfg.Model.ProbabilityColumn} {
		if name == bundle.IDColumn() {
			return nil, fmt.Errorf("prediction column %q collides with identifier column: %w", name, config.ErrInvalidConfig)
		}
	}

	s := &Server{
		cfg:    cfg,
		logger: logger,
		router: mux.NewRouter(),
		pool:   scheduler.New(cfg.Workers.Size, cfg.Workers.Queue),
	}
	logger.Info().Int("workers", s.pool.Size()).Int("queue", cfg.Workers.Queue).Msg("worker pool started")

	recorder, err := metrics.New(cfg.Metrics, logger)
	if err != nil {
		logger.Warn().Err(err).Str("address", cfg.Metrics.Address).Msg("metrics not available")
		recorder, _ = metrics.New(config.MetricsConfig{}, logger)
	}
	s.metrics = recorder

	opts := []api.Option{api.WithModelInfo(bundle), api.WithMetrics(recorder)}
	if cfg.Journal.Path != "" {
		j, err := journal.Open(cfg.Journal.Path, cfg.Journal.Buffer, logger)
		if err != nil {
			logger.Warn().Err(err).Str("path", cfg.Journal.Path).Msg("outcome journal not available")
		} else {
			s.journal = j
			opts = append(opts, api.WithJournal(j))
		}
	}

	codecs := codec.NewRegistry(codec.Options{CSVDelimiter: cfg.CSVDelimiter()})
	scorer := pipeline.New(codecs, bundle,
		pipeline.WithPredictionColumns(cfg.Model.LabelColumn, cfg.Model.ProbabilityColumn))

	handler := api.NewHandler(cfg, scorer, s.pool, logger, opts...)
	s.setupRoutes(handler)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      s.router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	return s, nil
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes(handler *api.Handler) {
	// scoring route first so an /api/... route is not shadowed by the subrouter
	handler.RegisterPredictRoute(s.router)

	apiRouter := s.router.PathPrefix("/api").Subrouter()
	handler.RegisterRoutes(apiRouter)
}

// Handler exposes the router, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start begins listening for HTTP connections. After Stop it returns
// http.ErrServerClosed.
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.httpServer.Addr).Str("route", s.cfg.Server.Route).Msg("server listening")
	return s.httpServer.ListenAndServe()
}

// Stop gracefully shuts down the server, then drains the worker pool
func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err := s.httpServer.Shutdown(ctx)

	s.pool.Close()
	if s.journal != nil {
		if jerr := s.journal.Close(); jerr != nil {
			s.logger.Warn().Err(jerr).Msg("error closing journal")
		}
	}
	if merr := s.metrics.Close(); merr != nil {
		s.logger.Warn().Err(merr).Msg("error closing metrics client")
	}

	return err
}
