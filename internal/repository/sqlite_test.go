package repository

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/aigoflow/detection-service/internal/models"
	"github.com/aigoflow/detection-service/internal/store"
)

func openTestRepo(t *testing.T) Repository {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.sqlite"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewSQLiteRepository(db)
}

func TestPredictionRoundTrip(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()

	p := &models.PredictionLog{
		Timestamp:   time.Now(),
		TraceID:     "trace-1",
		ReqID:       "req-1",
		Source:      "http.predict",
		File:        "a.png",
		Conf:        0.25,
		NBoxes:      2,
		ClassCounts: `{"Stop":2}`,
		DurationMs:  12,
		Status:      "ok",
	}
	if err := repo.Prediction().LogPrediction(ctx, p); err != nil {
		t.Fatalf("log prediction: %v", err)
	}

	logs, err := repo.Prediction().GetPredictionLogs(ctx, 10)
	if err != nil {
		t.Fatalf("get logs: %v", err)
	}
	if len(logs) != 1 {
		t.Fatalf("expected 1 row, got %d", len(logs))
	}

	got := logs[0]
	if got.ReqID != "req-1" || got.File != "a.png" || got.NBoxes != 2 {
		t.Errorf("round trip mismatch: %+v", got)
	}
	if got.Status != "ok" || got.ClassCounts != `{"Stop":2}` {
		t.Errorf("round trip mismatch: %+v", got)
	}
	if got.Conf != 0.25 {
		t.Errorf("expected conf 0.25, got %v", got.Conf)
	}
}

func TestGetPredictionLogsOrderAndLimit(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		repo.Prediction().LogPrediction(ctx, &models.PredictionLog{
			Timestamp: time.Now(),
			ReqID:     string(rune('a' + i)),
			Status:    "ok",
		})
	}

	logs, err := repo.Prediction().GetPredictionLogs(ctx, 3)
	if err != nil {
		t.Fatalf("get logs: %v", err)
	}
	if len(logs) != 3 {
		t.Fatalf("expected limit of 3 rows, got %d", len(logs))
	}
	if logs[0].ReqID != "e" {
		t.Errorf("expected newest row first, got %s", logs[0].ReqID)
	}
}

func TestEventLogging(t *testing.T) {
	repo := openTestRepo(t)

	err := repo.Event().LogEvent(context.Background(), "info", "model.loaded", "Model loaded", map[string]interface{}{
		"classes": 10,
	})
	if err != nil {
		t.Fatalf("log event: %v", err)
	}
}
