package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"strconv"
	"time"

	"github.com/aigoflow/detection-service/internal/artifacts"
	"github.com/aigoflow/detection-service/internal/config"
	"github.com/aigoflow/detection-service/internal/detector"
	"github.com/aigoflow/detection-service/internal/metrics"
	"github.com/aigoflow/detection-service/internal/models"
	"github.com/aigoflow/detection-service/internal/repository"
	"github.com/aigoflow/detection-service/internal/tracking"
)

// ErrBadImage marks payloads that could not be decoded as an image.
var ErrBadImage = errors.New("could not decode image")

// Detector is the model wrapper surface the service depends on.
type Detector interface {
	Load() error
	Ready() bool
	Detect(ctx context.Context, img image.Image, conf float64) ([]models.Detection, error)
}

// BatchInput is one image payload within a batch request.
type BatchInput struct {
	Name string
	Data []byte
}

type InferenceService struct {
	detector  Detector
	repo      repository.Repository
	tracker   *tracking.Client
	artifacts *artifacts.Writer
	telemetry *TelemetryService
	cfg       *config.Config
}

func NewInferenceService(det Detector, repo repository.Repository, tracker *tracking.Client, artifactLog *artifacts.Writer, cfg *config.Config) *InferenceService {
	return &InferenceService{
		detector:  det,
		repo:      repo,
		tracker:   tracker,
		artifacts: artifactLog,
		cfg:       cfg,
	}
}

// SetTelemetry attaches the optional NATS fan-out.
func (s *InferenceService) SetTelemetry(t *TelemetryService) {
	s.telemetry = t
}

// Ready reports whether the model is loaded and predict requests can
// be served.
func (s *InferenceService) Ready() bool {
	return s.detector.Ready()
}

// Warmup forces the model load. Idempotent: once the detector is ready
// this is a no-op.
func (s *InferenceService) Warmup(ctx context.Context) error {
	if s.detector.Ready() {
		return nil
	}
	start := time.Now()
	if err := s.detector.Load(); err != nil {
		s.repo.Event().LogEvent(ctx, "error", "model.failed", "Model loading failed", map[string]interface{}{
			"error": err.Error(),
		})
		return err
	}
	s.repo.Event().LogEvent(ctx, "info", "model.loaded", "Model loaded successfully", map[string]interface{}{
		"dur_ms": time.Since(start).Milliseconds(),
	})
	return nil
}

// Predict runs single-image detection. The wall clock around the
// detector call is the reported latency; a metric event is dispatched
// asynchronously on success.
func (s *InferenceService) Predict(ctx context.Context, traceID, reqID, source, file string, data []byte, conf float64) (*models.PredictionResult, error) {
	result, err := s.predictOne(ctx, traceID, reqID, source, file, data, conf)
	if err != nil {
		return nil, err
	}

	if s.artifacts != nil {
		if err := s.artifacts.Append(file, result); err != nil {
			slog.Warn("Artifact log append failed", "error", err)
		}
	}

	s.emitEvent("inference", result)

	return result, nil
}

func (s *InferenceService) predictOne(ctx context.Context, traceID, reqID, source, file string, data []byte, conf float64) (result *models.PredictionResult, err error) {
	start := time.Now()

	// Service-level crash recovery: a panic below becomes an error
	// response, never a dead worker.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("service panic: %v", r)
			s.logPrediction(ctx, start, traceID, reqID, source, file, conf, nil, time.Since(start), "panic", err.Error())
			result = nil
		}
	}()

	img, _, decodeErr := image.Decode(bytes.NewReader(data))
	if decodeErr != nil {
		metrics.ErrorsTotal.WithLabelValues("validation").Inc()
		return nil, fmt.Errorf("%w: %v", ErrBadImage, decodeErr)
	}

	detections, err := s.detector.Detect(ctx, img, conf)
	duration := time.Since(start)

	if err != nil {
		status := "error"
		kind := "inference"
		if errors.Is(err, detector.ErrNotReady) {
			status = "not_ready"
			kind = "not_ready"
		}
		metrics.ErrorsTotal.WithLabelValues(kind).Inc()
		s.logPrediction(ctx, start, traceID, reqID, source, file, conf, nil, duration, status, err.Error())
		return nil, err
	}

	result = &models.PredictionResult{
		RequestID:     reqID,
		File:          file,
		ConfThreshold: conf,
		Detections:    detections,
		NBoxes:        len(detections),
		ClassCounts:   countClasses(detections),
		LatencyMs:     float64(duration.Microseconds()) / 1000.0,
	}

	metrics.InferenceLatency.Observe(duration.Seconds())
	metrics.BoxesPerRequest.Observe(float64(result.NBoxes))

	s.logPrediction(ctx, start, traceID, reqID, source, file, conf, result.ClassCounts, duration, "ok", "")

	return result, nil
}

// PredictBatch applies the single-image path across a bounded list,
// preserving input order. One bad image marks its own slot and leaves
// the rest of the batch alone.
func (s *InferenceService) PredictBatch(ctx context.Context, traceID, reqID, source string, items []BatchInput, conf float64) (*models.BatchResult, error) {
	if !s.detector.Ready() {
		return nil, detector.ErrNotReady
	}

	start := time.Now()
	results := make([]models.BatchItemResult, len(items))

	totalCounts := make(map[string]int)
	totalBoxes := 0

	for i, item := range items {
		res, err := s.predictOne(ctx, traceID, fmt.Sprintf("%s-%d", reqID, i), source, item.Name, item.Data, conf)
		if err != nil {
			results[i] = models.BatchItemResult{File: item.Name, Error: err.Error()}
			continue
		}
		results[i] = models.BatchItemResult{
			File:       item.Name,
			Detections: res.Detections,
			NBoxes:     res.NBoxes,
			LatencyMs:  res.LatencyMs,
		}
		totalBoxes += res.NBoxes
		for k, v := range res.ClassCounts {
			totalCounts[k] += v
		}
	}

	elapsed := float64(time.Since(start).Microseconds()) / 1000.0
	batch := &models.BatchResult{
		RequestID:      reqID,
		BatchSize:      len(items),
		Results:        results,
		BatchLatencyMs: elapsed,
		AvgLatencyMs:   elapsed / float64(max(1, len(items))),
	}

	eventMetrics := map[string]float64{
		"batch_latency_ms": batch.BatchLatencyMs,
		"avg_latency_ms":   batch.AvgLatencyMs,
		"batch_size":       float64(batch.BatchSize),
		"n_boxes_total":    float64(totalBoxes),
	}
	for k, v := range totalCounts {
		eventMetrics["class_"+k+"_count"] = float64(v)
	}
	s.dispatch(models.MetricEvent{
		Timestamp: time.Now(),
		RunName:   "batch_inference",
		Metrics:   eventMetrics,
		Params:    s.eventParams(conf),
	})

	return batch, nil
}

// RecentPredictions returns the latest prediction log rows.
func (s *InferenceService) RecentPredictions(ctx context.Context, limit int) ([]*models.PredictionLog, error) {
	return s.repo.Prediction().GetPredictionLogs(ctx, limit)
}

func (s *InferenceService) emitEvent(runName string, result *models.PredictionResult) {
	eventMetrics := map[string]float64{
		"latency_ms": result.LatencyMs,
		"n_boxes":    float64(result.NBoxes),
	}
	for k, v := range result.ClassCounts {
		eventMetrics["class_"+k+"_count"] = float64(v)
	}
	s.dispatch(models.MetricEvent{
		Timestamp: time.Now(),
		RunName:   runName,
		Metrics:   eventMetrics,
		Params:    s.eventParams(result.ConfThreshold),
	})
}

func (s *InferenceService) dispatch(ev models.MetricEvent) {
	s.tracker.Record(ev)
	if s.telemetry != nil {
		s.telemetry.PublishEvent(ev)
	}
}

func (s *InferenceService) eventParams(conf float64) map[string]string {
	return map[string]string{
		"conf":        strconv.FormatFloat(conf, 'f', -1, 64),
		"imgsz":       strconv.Itoa(s.cfg.InputSize),
		"api_workers": strconv.Itoa(s.cfg.Workers),
	}
}

func (s *InferenceService) logPrediction(ctx context.Context, start time.Time, traceID, reqID, source, file string,
	conf float64, classCounts map[string]int, dur time.Duration, status, errStr string) {
	if classCounts == nil {
		classCounts = map[string]int{}
	}
	nBoxes := 0
	for _, v := range classCounts {
		nBoxes += v
	}
	s.repo.Prediction().LogPrediction(ctx, &models.PredictionLog{
		Timestamp:   start,
		TraceID:     traceID,
		ReqID:       reqID,
		Source:      source,
		File:        file,
		Conf:        conf,
		NBoxes:      nBoxes,
		ClassCounts: toJSON(classCounts),
		DurationMs:  float64(dur.Milliseconds()),
		Status:      status,
		Error:       errStr,
	})
}

func countClasses(detections []models.Detection) map[string]int {
	counts := make(map[string]int)
	for _, d := range detections {
		counts[d.Class]++
	}
	return counts
}

func toJSON(v interface{}) string {
	if v == nil {
		return "{}"
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(b)
}
