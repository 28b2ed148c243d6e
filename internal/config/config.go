package config

import (
	"bufio"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	// HTTP Configuration
	HTTPAddr       string
	RequestTimeout time.Duration

	// Model Configuration
	ModelName      string
	ModelPath      string
	ModelEagerLoad bool
	InputSize      int
	OrtSharedLib   string
	LabelsPath     string
	Workers        int
	DefaultConf    float64
	MaxBatchSize   int

	// Artifact Configuration
	ArtifactDir string
	PredLogPath string

	// Database Configuration
	DBPath string

	// Tracking Configuration
	TrackingURI    string
	ExperimentName string
	TrackQueueSize int

	// Telemetry Configuration
	NatsURL string
}

func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := loadDotEnv(envFile); err != nil {
			slog.Warn("Could not load env file", "file", envFile, "error", err)
		} else {
			slog.Info("Environment loaded", "file", envFile)
		}
	}

	return &Config{
		HTTPAddr:       getEnv("HTTP_ADDR", ":8000"),
		RequestTimeout: getEnvDuration("REQUEST_TIMEOUT", "30s"),
		ModelName:      getEnv("MODEL_NAME", "traffic-signs"),
		ModelPath:      getEnv("MODEL_PATH", "data/models/best.onnx"),
		ModelEagerLoad: getEnvBool("MODEL_EAGER_LOAD", true),
		InputSize:      getEnvInt("MODEL_INPUT_SIZE", 640),
		OrtSharedLib:   getEnv("ORT_SHARED_LIB", ""),
		LabelsPath:     getEnv("LABELS_PATH", ""),
		Workers:        getEnvInt("API_WORKERS", 4),
		DefaultConf:    getEnvFloat("DEFAULT_CONF", 0.25),
		MaxBatchSize:   getEnvInt("MAX_BATCH_SIZE", 16),
		ArtifactDir:    getEnv("ARTIFACT_DIR", "artifacts"),
		PredLogPath:    getEnv("PRED_LOG", "artifacts/predict_log.csv"),
		DBPath:         getEnv("DB_PATH", "data/detections.sqlite"),
		TrackingURI:    getEnv("MLFLOW_TRACKING_URI", ""),
		ExperimentName: getEnv("MLFLOW_EXPERIMENT_NAME", "default"),
		TrackQueueSize: getEnvInt("TRACK_QUEUE_SIZE", 10000),
		NatsURL:        getEnv("NATS_URL", ""),
	}, nil
}

func loadDotEnv(filename string) error {
	file, err := os.Open(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.SplitN(line, "=", 2)
		if len(parts) == 2 {
			key := strings.TrimSpace(parts[0])
			value := strings.TrimSpace(parts[1])
			os.Setenv(key, value)
		}
	}
	return scanner.Err()
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

func getEnvDuration(key, defaultVal string) time.Duration {
	val := getEnv(key, defaultVal)
	if d, err := time.ParseDuration(val); err == nil {
		return d
	}
	d, _ := time.ParseDuration(defaultVal)
	return d
}
