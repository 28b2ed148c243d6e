package services

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aigoflow/detection-service/internal/config"
	"github.com/aigoflow/detection-service/internal/detector"
	"github.com/aigoflow/detection-service/internal/models"
	"github.com/aigoflow/detection-service/internal/repository"
	"github.com/aigoflow/detection-service/internal/tracking"
)

type memoryRepo struct {
	mu    sync.Mutex
	preds []*models.PredictionLog
}

func (r *memoryRepo) Prediction() repository.PredictionRepositoryInterface { return r }
func (r *memoryRepo) Event() repository.EventRepositoryInterface          { return r }

func (r *memoryRepo) LogPrediction(ctx context.Context, p *models.PredictionLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.preds = append(r.preds, p)
	return nil
}

func (r *memoryRepo) GetPredictionLogs(ctx context.Context, limit int) ([]*models.PredictionLog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.preds, nil
}

func (r *memoryRepo) LogEvent(ctx context.Context, level, code, msg string, meta map[string]interface{}) error {
	return nil
}

func (r *memoryRepo) last() *models.PredictionLog {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.preds) == 0 {
		return nil
	}
	return r.preds[len(r.preds)-1]
}

type fakeDetector struct {
	ready      bool
	detections []models.Detection
	panicMsg   string
}

func (f *fakeDetector) Load() error {
	f.ready = true
	return nil
}

func (f *fakeDetector) Ready() bool { return f.ready }

func (f *fakeDetector) Detect(ctx context.Context, img image.Image, conf float64) ([]models.Detection, error) {
	if f.panicMsg != "" {
		panic(f.panicMsg)
	}
	if !f.ready {
		return nil, detector.ErrNotReady
	}
	var out []models.Detection
	for _, d := range f.detections {
		if d.Score >= conf {
			out = append(out, d)
		}
	}
	return out, nil
}

func newService(det Detector, repo repository.Repository) *InferenceService {
	cfg := &config.Config{
		DefaultConf:    0.25,
		MaxBatchSize:   8,
		Workers:        1,
		InputSize:      640,
		ModelName:      "test",
		RequestTimeout: time.Second,
	}
	return NewInferenceService(det, repo, tracking.New("", "default", 10), nil, cfg)
}

func encodePNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 4, 4))
	img.Set(0, 0, color.NRGBA{R: 128, G: 128, B: 128, A: 255})
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode: %v", err)
	}
	return buf.Bytes()
}

func TestPredictPanicRecovered(t *testing.T) {
	repo := &memoryRepo{}
	svc := newService(&fakeDetector{ready: true, panicMsg: "tensor shape mismatch"}, repo)

	result, err := svc.Predict(context.Background(), "t", "r", "test", "a.png", encodePNG(t), 0.25)
	if err == nil {
		t.Fatal("expected an error from a panicking detector")
	}
	if result != nil {
		t.Error("expected nil result on panic")
	}
	if !strings.Contains(err.Error(), "service panic") {
		t.Errorf("expected panic to be converted to error, got %v", err)
	}

	last := repo.last()
	if last == nil || last.Status != "panic" {
		t.Errorf("expected panic status in prediction log, got %+v", last)
	}
}

func TestPredictClassCounts(t *testing.T) {
	repo := &memoryRepo{}
	svc := newService(&fakeDetector{ready: true, detections: []models.Detection{
		{Box: [4]int{0, 0, 10, 10}, Class: "Stop", Score: 0.9},
		{Box: [4]int{20, 20, 30, 30}, Class: "Stop", Score: 0.8},
		{Box: [4]int{40, 40, 50, 50}, Class: "Yield", Score: 0.7},
	}}, repo)

	result, err := svc.Predict(context.Background(), "t", "r", "test", "a.png", encodePNG(t), 0.25)
	if err != nil {
		t.Fatalf("predict failed: %v", err)
	}
	if result.ClassCounts["Stop"] != 2 || result.ClassCounts["Yield"] != 1 {
		t.Errorf("unexpected class counts %v", result.ClassCounts)
	}
	if result.NBoxes != 3 {
		t.Errorf("expected 3 boxes, got %d", result.NBoxes)
	}

	last := repo.last()
	if last == nil || last.Status != "ok" || last.NBoxes != 3 {
		t.Errorf("unexpected prediction log %+v", last)
	}
}

func TestPredictNotReadyPassthrough(t *testing.T) {
	svc := newService(&fakeDetector{}, &memoryRepo{})

	_, err := svc.Predict(context.Background(), "t", "r", "test", "a.png", encodePNG(t), 0.25)
	if err == nil {
		t.Fatal("expected not-ready error")
	}
	if !strings.Contains(err.Error(), "not loaded") {
		t.Errorf("expected not-ready error, got %v", err)
	}
}

func TestPredictBadImage(t *testing.T) {
	svc := newService(&fakeDetector{ready: true}, &memoryRepo{})

	_, err := svc.Predict(context.Background(), "t", "r", "test", "bad", []byte("nope"), 0.25)
	if err == nil {
		t.Fatal("expected decode error")
	}
}

func TestPredictBatchAggregation(t *testing.T) {
	svc := newService(&fakeDetector{ready: true, detections: []models.Detection{
		{Box: [4]int{0, 0, 10, 10}, Class: "Stop", Score: 0.9},
	}}, &memoryRepo{})

	items := []BatchInput{
		{Name: "a.png", Data: encodePNG(t)},
		{Name: "broken.png", Data: []byte("garbage")},
		{Name: "b.png", Data: encodePNG(t)},
	}

	batch, err := svc.PredictBatch(context.Background(), "t", "r", "test", items, 0.25)
	if err != nil {
		t.Fatalf("batch failed: %v", err)
	}
	if batch.BatchSize != 3 {
		t.Errorf("expected batch size 3, got %d", batch.BatchSize)
	}
	if batch.Results[1].Error == "" {
		t.Error("expected error in corrupted slot")
	}
	if batch.Results[0].NBoxes != 1 || batch.Results[2].NBoxes != 1 {
		t.Error("expected detections in healthy slots")
	}
	if batch.AvgLatencyMs > batch.BatchLatencyMs {
		t.Errorf("avg latency %v should not exceed batch latency %v",
			batch.AvgLatencyMs, batch.BatchLatencyMs)
	}
}

func TestWarmupIdempotent(t *testing.T) {
	det := &fakeDetector{}
	svc := newService(det, &memoryRepo{})

	if svc.Ready() {
		t.Fatal("service should start not-ready")
	}
	if err := svc.Warmup(context.Background()); err != nil {
		t.Fatalf("warmup failed: %v", err)
	}
	if !svc.Ready() {
		t.Fatal("service should be ready after warmup")
	}
	if err := svc.Warmup(context.Background()); err != nil {
		t.Fatalf("second warmup failed: %v", err)
	}
	if !svc.Ready() {
		t.Error("readiness must be monotonic")
	}
}
