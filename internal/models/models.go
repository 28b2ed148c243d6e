package models

import "time"

// Detection is one recognized object instance in source pixel coordinates.
type Detection struct {
	Box   [4]int  `json:"box"` // x1, y1, x2, y2
	Class string  `json:"class"`
	Score float64 `json:"score"`
}

// PredictionResult is the outcome of detecting objects in a single image.
type PredictionResult struct {
	RequestID     string         `json:"request_id,omitempty"`
	File          string         `json:"file,omitempty"`
	ConfThreshold float64        `json:"conf_threshold"`
	Detections    []Detection    `json:"detections"`
	NBoxes        int            `json:"n_boxes"`
	ClassCounts   map[string]int `json:"class_counts,omitempty"`
	LatencyMs     float64        `json:"latency_ms"`
}

// BatchItemResult holds one slot of a batch response. Exactly one of
// the detection fields or Error is populated, in input order.
type BatchItemResult struct {
	File       string      `json:"file,omitempty"`
	Detections []Detection `json:"detections,omitempty"`
	NBoxes     int         `json:"n_boxes"`
	LatencyMs  float64     `json:"latency_ms"`
	Error      string      `json:"error,omitempty"`
}

// BatchResult aggregates per-image results with batch-level timing.
type BatchResult struct {
	RequestID      string            `json:"request_id,omitempty"`
	BatchSize      int               `json:"batch_size"`
	Results        []BatchItemResult `json:"results"`
	AvgLatencyMs   float64           `json:"avg_latency_ms"`
	BatchLatencyMs float64           `json:"batch_latency_ms"`
}

// MetricEvent is the per-request telemetry record handed to the async
// tracking client. Durability past that point is the tracking server's
// problem.
type MetricEvent struct {
	Timestamp time.Time          `json:"ts"`
	RunName   string             `json:"run_name"`
	Metrics   map[string]float64 `json:"metrics"`
	Params    map[string]string  `json:"params,omitempty"`
}

// PredictionLog is one completed prediction as persisted in SQLite.
type PredictionLog struct {
	Timestamp   time.Time `json:"ts"`
	TraceID     string    `json:"trace_id"`
	ReqID       string    `json:"req_id"`
	Source      string    `json:"source"`
	File        string    `json:"file"`
	Conf        float64   `json:"conf"`
	NBoxes      int       `json:"n_boxes"`
	ClassCounts string    `json:"class_counts"`
	DurationMs  float64   `json:"dur_ms"`
	Status      string    `json:"status"`
	Error       string    `json:"error"`
}
