package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/aigoflow/detection-service/internal/config"
	"github.com/aigoflow/detection-service/internal/detector"
	"github.com/aigoflow/detection-service/internal/metrics"
	"github.com/aigoflow/detection-service/internal/services"
)

const (
	maxUploadBytes = 64 << 20
	maxLogRows     = 500
)

type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type HealthResponse struct {
	Status string `json:"status"`
	Ready  bool   `json:"ready"`
}

type WarmupResponse struct {
	Ready bool   `json:"ready"`
	Error string `json:"error,omitempty"`
}

type PredictHandler struct {
	inferenceService *services.InferenceService
	cfg              *config.Config
}

func NewPredictHandler(inferenceService *services.InferenceService, cfg *config.Config) *PredictHandler {
	return &PredictHandler{
		inferenceService: inferenceService,
		cfg:              cfg,
	}
}

func (h *PredictHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/predict", h.instrument("predict", h.handlePredict))
	mux.HandleFunc("/predict_batch", h.instrument("predict_batch", h.handlePredictBatch))
	mux.HandleFunc("/healthz", h.handleHealth)
	mux.HandleFunc("/warmup", h.instrument("warmup", h.handleWarmup))
	mux.HandleFunc("/info", h.handleInfo)
	mux.HandleFunc("/logs", h.handleLogs)
}

// instrument wraps a handler with request count and duration metrics.
func (h *PredictHandler) instrument(name string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next(rec, r)
		metrics.RequestDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
		metrics.RequestsTotal.WithLabelValues(name, strconv.Itoa(rec.status)).Inc()
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (h *PredictHandler) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "ok", Ready: h.inferenceService.Ready()}
	if !resp.Ready {
		resp.Status = "starting"
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *PredictHandler) handleWarmup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST only", http.StatusMethodNotAllowed)
		return
	}
	if err := h.inferenceService.Warmup(r.Context()); err != nil {
		writeJSON(w, http.StatusInternalServerError, WarmupResponse{Ready: false, Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, WarmupResponse{Ready: true})
}

func (h *PredictHandler) handleInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"name":    "detection-service",
		"version": "1.0.0",
		"workers": h.cfg.Workers,
		"model":   h.cfg.ModelName,
	})
}

func (h *PredictHandler) handlePredict(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST only", http.StatusMethodNotAllowed)
		return
	}

	conf, err := h.parseConf(r)
	if err != nil {
		writeError(w, "invalid_conf", err.Error(), http.StatusBadRequest)
		return
	}

	file, data, err := readImagePayload(r)
	if err != nil {
		writeError(w, "invalid_request", err.Error(), http.StatusBadRequest)
		return
	}

	reqID := ulid.Make().String()
	traceID := r.Header.Get("X-Trace-ID")
	if traceID == "" {
		traceID = reqID
	}

	ctx, cancel := h.requestContext(r)
	defer cancel()

	result, err := h.inferenceService.Predict(ctx, traceID, reqID, "http.predict", file, data, conf)
	if err != nil {
		h.writePredictError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (h *PredictHandler) handlePredictBatch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST only", http.StatusMethodNotAllowed)
		return
	}

	conf, err := h.parseConf(r)
	if err != nil {
		writeError(w, "invalid_conf", err.Error(), http.StatusBadRequest)
		return
	}

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, "invalid_request", "expected multipart form upload", http.StatusBadRequest)
		return
	}
	files := r.MultipartForm.File["files"]
	if len(files) == 0 {
		writeError(w, "invalid_request", "no image files in field 'files'", http.StatusBadRequest)
		return
	}
	if len(files) > h.cfg.MaxBatchSize {
		writeError(w, "batch_too_large",
			fmt.Sprintf("batch of %d exceeds limit of %d", len(files), h.cfg.MaxBatchSize),
			http.StatusBadRequest)
		return
	}

	items := make([]services.BatchInput, 0, len(files))
	for _, fh := range files {
		data, err := readFormFile(fh)
		if err != nil {
			writeError(w, "invalid_request", fmt.Sprintf("read %s: %v", fh.Filename, err), http.StatusBadRequest)
			return
		}
		items = append(items, services.BatchInput{Name: fh.Filename, Data: data})
	}

	reqID := ulid.Make().String()
	traceID := r.Header.Get("X-Trace-ID")
	if traceID == "" {
		traceID = reqID
	}

	ctx, cancel := h.requestContext(r)
	defer cancel()

	result, err := h.inferenceService.PredictBatch(ctx, traceID, reqID, "http.predict_batch", items, conf)
	if err != nil {
		h.writePredictError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (h *PredictHandler) handleLogs(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if s := r.URL.Query().Get("limit"); s != "" {
		if n, err := strconv.Atoi(s); err == nil {
			limit = n
		}
	}
	if limit < 1 {
		limit = 1
	}
	if limit > maxLogRows {
		limit = maxLogRows
	}

	logs, err := h.inferenceService.RecentPredictions(r.Context(), limit)
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to get logs: %v", err), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, logs)
}

func (h *PredictHandler) parseConf(r *http.Request) (float64, error) {
	raw := r.URL.Query().Get("conf")
	if raw == "" {
		return h.cfg.DefaultConf, nil
	}
	conf, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("conf must be a number, got %q", raw)
	}
	if math.IsNaN(conf) || math.IsInf(conf, 0) || conf < 0 || conf > 1 {
		return 0, fmt.Errorf("conf must be within [0,1], got %q", raw)
	}
	return conf, nil
}

func (h *PredictHandler) requestContext(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), h.cfg.RequestTimeout)
}

func (h *PredictHandler) writePredictError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrBadImage):
		writeError(w, "invalid_image", "failed to decode image", http.StatusBadRequest)
	case errors.Is(err, detector.ErrNotReady):
		writeError(w, "not_ready", "model not loaded, call /warmup", http.StatusServiceUnavailable)
	default:
		slog.Error("Prediction failed", "error", err)
		writeError(w, "inference_failed", "prediction failed", http.StatusInternalServerError)
	}
}

// readImagePayload extracts the image bytes from a multipart form field
// named "file", falling back to the raw request body.
func readImagePayload(r *http.Request) (string, []byte, error) {
	contentType := r.Header.Get("Content-Type")
	if contentType != "" && hasMultipartPrefix(contentType) {
		if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
			return "", nil, err
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			return "", nil, fmt.Errorf("missing form field 'file': %w", err)
		}
		defer file.Close()
		data, err := io.ReadAll(file)
		return header.Filename, data, err
	}

	data, err := io.ReadAll(io.LimitReader(r.Body, maxUploadBytes))
	if err != nil {
		return "", nil, err
	}
	if len(data) == 0 {
		return "", nil, fmt.Errorf("empty request body")
	}
	return "upload", data, nil
}

func readFormFile(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

func hasMultipartPrefix(contentType string) bool {
	return strings.HasPrefix(contentType, "multipart/")
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code, message string, status int) {
	writeJSON(w, status, ErrorResponse{Code: code, Message: message})
}
