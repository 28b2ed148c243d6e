package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/aigoflow/detection-service/internal/artifacts"
	"github.com/aigoflow/detection-service/internal/config"
	"github.com/aigoflow/detection-service/internal/detector"
	"github.com/aigoflow/detection-service/internal/repository"
	"github.com/aigoflow/detection-service/internal/services"
	"github.com/aigoflow/detection-service/internal/store"
	"github.com/aigoflow/detection-service/internal/tracking"
	"github.com/aigoflow/detection-service/pkg/server"
)

func main() {
	var envFile = flag.String("env", "", "Optional .env file to load")
	flag.Parse()

	// Setup structured logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// Load configuration
	cfg, err := config.Load(*envFile)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	// Initialize database
	_ = os.MkdirAll(filepath.Dir(cfg.DBPath), 0755)
	db, err := store.Open(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	// Log startup event
	db.Event("info", "startup", "Server starting", map[string]interface{}{
		"model_name": cfg.ModelName,
		"model_path": cfg.ModelPath,
		"http_addr":  cfg.HTTPAddr,
		"db_path":    cfg.DBPath,
	})

	// Initialize repository
	repo := repository.NewSQLiteRepository(db)

	// Initialize model wrapper
	det := detector.New(detector.Config{
		ModelPath:    cfg.ModelPath,
		OrtSharedLib: cfg.OrtSharedLib,
		LabelsPath:   cfg.LabelsPath,
		InputSize:    cfg.InputSize,
		Workers:      cfg.Workers,
	})
	defer det.Close()

	if cfg.ModelEagerLoad {
		db.Event("info", "model.loading", "Model loading started", map[string]interface{}{
			"model_path": cfg.ModelPath,
			"input_size": cfg.InputSize,
			"workers":    cfg.Workers,
		})
		if err := det.Load(); err != nil {
			db.Event("error", "model.failed", "Model loading failed", map[string]interface{}{
				"model_path": cfg.ModelPath,
				"error":      err.Error(),
			})
			slog.Error("Failed to load model", "error", err)
			os.Exit(1)
		}
		db.Event("info", "model.loaded", "Model loaded successfully", map[string]interface{}{
			"model_path": cfg.ModelPath,
			"classes":    len(det.Labels()),
		})
	} else {
		slog.Info("Eager load disabled, model loads on /warmup")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize tracking client
	tracker := tracking.New(cfg.TrackingURI, cfg.ExperimentName, cfg.TrackQueueSize)
	tracker.Start(ctx)

	// Initialize artifact log
	_ = os.MkdirAll(cfg.ArtifactDir, 0755)
	artifactLog := artifacts.NewWriter(cfg.PredLogPath)
	defer artifactLog.Close()

	// Initialize services
	inferenceService := services.NewInferenceService(det, repo, tracker, artifactLog, cfg)

	// Optional NATS telemetry
	if cfg.NatsURL != "" {
		telemetry, err := services.NewTelemetryService(cfg, det.Ready)
		if err != nil {
			db.Event("error", "telemetry.failed", "Telemetry initialization failed", map[string]interface{}{
				"nats_url": cfg.NatsURL,
				"error":    err.Error(),
			})
			slog.Warn("Telemetry disabled", "error", err)
		} else {
			if err := telemetry.Start(ctx); err != nil {
				slog.Warn("Telemetry start failed", "error", err)
			} else {
				inferenceService.SetTelemetry(telemetry)
			}
		}
	}

	// Start HTTP server
	httpServer := server.NewServer(cfg, inferenceService)

	db.Event("info", "server.ready", "Server ready to accept requests", map[string]interface{}{
		"http_addr":  cfg.HTTPAddr,
		"model_name": cfg.ModelName,
		"ready":      det.Ready(),
	})

	go func() {
		if err := httpServer.Start(ctx); err != nil {
			db.Event("error", "http.failed", "HTTP server failed", map[string]interface{}{
				"error": err.Error(),
			})
			slog.Error("HTTP server failed", "error", err)
		}
	}()

	// Graceful shutdown
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	db.Event("info", "shutdown", "Server shutting down", nil)
	slog.Info("Shutting down server")
}
