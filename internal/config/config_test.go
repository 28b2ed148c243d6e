package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.HTTPAddr != ":8000" {
		t.Errorf("expected default addr :8000, got %s", cfg.HTTPAddr)
	}
	if cfg.DefaultConf != 0.25 {
		t.Errorf("expected default conf 0.25, got %v", cfg.DefaultConf)
	}
	if cfg.MaxBatchSize != 16 {
		t.Errorf("expected default batch size 16, got %d", cfg.MaxBatchSize)
	}
	if cfg.RequestTimeout != 30*time.Second {
		t.Errorf("expected default timeout 30s, got %v", cfg.RequestTimeout)
	}
	if !cfg.ModelEagerLoad {
		t.Error("expected eager load enabled by default")
	}
	if cfg.TrackingURI != "" {
		t.Error("tracking should be disabled by default")
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("HTTP_ADDR", ":9999")
	t.Setenv("DEFAULT_CONF", "0.5")
	t.Setenv("MAX_BATCH_SIZE", "4")
	t.Setenv("MODEL_EAGER_LOAD", "false")
	t.Setenv("REQUEST_TIMEOUT", "5s")
	t.Setenv("MLFLOW_TRACKING_URI", "http://tracking:5000")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.HTTPAddr != ":9999" {
		t.Errorf("expected :9999, got %s", cfg.HTTPAddr)
	}
	if cfg.DefaultConf != 0.5 {
		t.Errorf("expected conf 0.5, got %v", cfg.DefaultConf)
	}
	if cfg.MaxBatchSize != 4 {
		t.Errorf("expected batch size 4, got %d", cfg.MaxBatchSize)
	}
	if cfg.ModelEagerLoad {
		t.Error("expected eager load disabled")
	}
	if cfg.RequestTimeout != 5*time.Second {
		t.Errorf("expected timeout 5s, got %v", cfg.RequestTimeout)
	}
	if cfg.TrackingURI != "http://tracking:5000" {
		t.Errorf("unexpected tracking URI %s", cfg.TrackingURI)
	}
}

func TestLoadDotEnvFile(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, "test.env")
	content := "# comment line\nMODEL_NAME=env-file-model\n\nAPI_WORKERS = 2\n"
	if err := os.WriteFile(envFile, []byte(content), 0644); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	t.Setenv("MODEL_NAME", "")
	t.Setenv("API_WORKERS", "")

	cfg, err := Load(envFile)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.ModelName != "env-file-model" {
		t.Errorf("expected model name from env file, got %s", cfg.ModelName)
	}
	if cfg.Workers != 2 {
		t.Errorf("expected 2 workers from env file, got %d", cfg.Workers)
	}
}

func TestInvalidValuesFallBack(t *testing.T) {
	t.Setenv("MAX_BATCH_SIZE", "not-a-number")
	t.Setenv("DEFAULT_CONF", "nan-ish")
	t.Setenv("REQUEST_TIMEOUT", "eleventy")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.MaxBatchSize != 16 {
		t.Errorf("expected fallback batch size 16, got %d", cfg.MaxBatchSize)
	}
	if cfg.DefaultConf != 0.25 {
		t.Errorf("expected fallback conf 0.25, got %v", cfg.DefaultConf)
	}
	if cfg.RequestTimeout != 30*time.Second {
		t.Errorf("expected fallback timeout 30s, got %v", cfg.RequestTimeout)
	}
}
