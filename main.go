package main

import (
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	_ "go.uber.org/automaxprocs"

	"github.com/kartoza/renewal-predictor/internal/config"
	"github.com/kartoza/renewal-predictor/internal/logging"
	"github.com/kartoza/renewal-predictor/internal/model"
	"github.com/kartoza/renewal-predictor/internal/server"
)

var version = "dev"

func main() {
	// Parse command-line flags
	configPath := flag.String("config", "config.yaml", "Path to the YAML configuration file")
	showVersion := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("Renewal Predictor v%s\n", version)
		os.Exit(0)
	}

	// Graceful shutdown on SIGINT/SIGTERM
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	if err := run(*configPath, stop); err != nil {
		log.Fatal().Err(err).Str("config", *configPath).Msg("renewal predictor stopped")
	}
}

// run loads everything the service needs and serves until stop fires or the
// listener fails. Configuration and model problems are returned before
// anything is served; the log file is closed on every return path.
func run(configPath string, stop <-chan os.Signal) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	cfg.Version = version

	logger, logFile, err := logging.New(cfg.Log, version)
	if err != nil {
		return fmt.Errorf("failed to initialise logging: %w", err)
	}
	defer logFile.Close()

	bundle, err := model.Load(cfg.Model.Path)
	if err != nil {
		logger.Error().Err(err).Str("path", cfg.Model.Path).Msg("failed to load model artifact")
		return fmt.Errorf("failed to load model artifact %s: %w", cfg.Model.Path, err)
	}
	logger.Info().
		Str("path", cfg.Model.Path).
		Str("kind", bundle.Kind()).
		Strs("features", bundle.Features()).
		Msg("model loaded")

	srv, err := server.New(*cfg, bundle, logger)
	if err != nil {
		logger.Error().Err(err).Msg("failed to create server")
		return fmt.Errorf("failed to create server: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	var serveErr error
	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("server error")
			serveErr = err
		}
	case sig := <-stop:
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
	}

	if err := srv.Stop(); err != nil {
		logger.Error().Err(err).Msg("error during shutdown")
	}
	return serveErr
}
