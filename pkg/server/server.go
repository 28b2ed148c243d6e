package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/aigoflow/detection-service/internal/config"
	"github.com/aigoflow/detection-service/internal/handlers"
	"github.com/aigoflow/detection-service/internal/metrics"
	"github.com/aigoflow/detection-service/internal/services"
)

type Server struct {
	cfg              *config.Config
	inferenceService *services.InferenceService
}

func NewServer(cfg *config.Config, inferenceService *services.InferenceService) *Server {
	return &Server{
		cfg:              cfg,
		inferenceService: inferenceService,
	}
}

func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()

	predictHandler := handlers.NewPredictHandler(s.inferenceService, s.cfg)
	predictHandler.RegisterRoutes(mux)
	mux.Handle("/metrics", metrics.Handler())

	slog.Info("HTTP server starting",
		"addr", s.cfg.HTTPAddr,
		"endpoints", []string{"/predict", "/predict_batch", "/healthz", "/warmup", "/metrics", "/info", "/logs"})

	srv := &http.Server{
		Addr:         s.cfg.HTTPAddr,
		Handler:      mux,
		ReadTimeout:  s.cfg.RequestTimeout,
		WriteTimeout: s.cfg.RequestTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
