package tracking

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/aigoflow/detection-service/internal/models"
)

// Client forwards metric events to an MLflow tracking server without
// ever blocking the caller. Events go through a bounded queue consumed
// by a single worker; when the queue is full events are dropped, and a
// delivery gets exactly one attempt. Tracking-server failures are
// logged and swallowed.
type Client struct {
	uri        string
	experiment string
	queue      chan models.MetricEvent
	http       *http.Client

	expID   string
	dropped atomic.Int64
}

func New(uri, experiment string, queueSize int) *Client {
	if queueSize <= 0 {
		queueSize = 10000
	}
	return &Client{
		uri:        uri,
		experiment: experiment,
		queue:      make(chan models.MetricEvent, queueSize),
		http:       &http.Client{Timeout: 5 * time.Second},
	}
}

// Enabled reports whether a tracking server is configured.
func (c *Client) Enabled() bool {
	return c.uri != ""
}

// Start launches the delivery worker. No-op when tracking is disabled.
func (c *Client) Start(ctx context.Context) {
	if !c.Enabled() {
		slog.Info("Tracking disabled, no MLFLOW_TRACKING_URI configured")
		return
	}
	go c.worker(ctx)
}

// Record enqueues one event. It returns immediately: if the queue is
// full the event is dropped rather than delaying the response path.
func (c *Client) Record(ev models.MetricEvent) {
	if !c.Enabled() {
		return
	}
	select {
	case c.queue <- ev:
	default:
		c.dropped.Add(1)
	}
}

// Dropped returns the number of events discarded due to a full queue.
func (c *Client) Dropped() int64 {
	return c.dropped.Load()
}

func (c *Client) worker(ctx context.Context) {
	slog.Info("Tracking worker started", "uri", c.uri, "experiment", c.experiment)
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-c.queue:
			if err := c.deliver(ev); err != nil {
				slog.Warn("Tracking delivery failed", "run_name", ev.RunName, "error", err)
			}
		}
	}
}

func (c *Client) deliver(ev models.MetricEvent) error {
	if c.expID == "" {
		id, err := c.resolveExperiment()
		if err != nil {
			return fmt.Errorf("resolve experiment: %w", err)
		}
		c.expID = id
	}

	runID, err := c.createRun(ev)
	if err != nil {
		return fmt.Errorf("create run: %w", err)
	}
	if err := c.logBatch(runID, ev); err != nil {
		return fmt.Errorf("log batch: %w", err)
	}
	return c.finishRun(runID)
}

func (c *Client) resolveExperiment() (string, error) {
	var got struct {
		Experiment struct {
			ExperimentID string `json:"experiment_id"`
		} `json:"experiment"`
	}
	err := c.call(http.MethodGet,
		"/api/2.0/mlflow/experiments/get-by-name?experiment_name="+c.experiment, nil, &got)
	if err == nil && got.Experiment.ExperimentID != "" {
		return got.Experiment.ExperimentID, nil
	}

	var created struct {
		ExperimentID string `json:"experiment_id"`
	}
	err = c.call(http.MethodPost, "/api/2.0/mlflow/experiments/create",
		map[string]string{"name": c.experiment}, &created)
	if err != nil {
		return "", err
	}
	return created.ExperimentID, nil
}

func (c *Client) createRun(ev models.MetricEvent) (string, error) {
	body := map[string]interface{}{
		"experiment_id": c.expID,
		"run_name":      ev.RunName,
		"start_time":    ev.Timestamp.UnixMilli(),
	}
	var got struct {
		Run struct {
			Info struct {
				RunID string `json:"run_id"`
			} `json:"info"`
		} `json:"run"`
	}
	if err := c.call(http.MethodPost, "/api/2.0/mlflow/runs/create", body, &got); err != nil {
		return "", err
	}
	if got.Run.Info.RunID == "" {
		return "", fmt.Errorf("tracking server returned no run id")
	}
	return got.Run.Info.RunID, nil
}

func (c *Client) logBatch(runID string, ev models.MetricEvent) error {
	ts := ev.Timestamp.UnixMilli()

	type metric struct {
		Key       string  `json:"key"`
		Value     float64 `json:"value"`
		Timestamp int64   `json:"timestamp"`
	}
	type param struct {
		Key   string `json:"key"`
		Value string `json:"value"`
	}

	body := struct {
		RunID   string   `json:"run_id"`
		Metrics []metric `json:"metrics"`
		Params  []param  `json:"params"`
	}{RunID: runID}

	for k, v := range ev.Metrics {
		body.Metrics = append(body.Metrics, metric{Key: k, Value: v, Timestamp: ts})
	}
	for k, v := range ev.Params {
		body.Params = append(body.Params, param{Key: k, Value: v})
	}

	return c.call(http.MethodPost, "/api/2.0/mlflow/runs/log-batch", body, nil)
}

func (c *Client) finishRun(runID string) error {
	body := map[string]interface{}{
		"run_id":   runID,
		"status":   "FINISHED",
		"end_time": time.Now().UnixMilli(),
	}
	return c.call(http.MethodPost, "/api/2.0/mlflow/runs/update", body, nil)
}

func (c *Client) call(method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequest(method, c.uri+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("tracking server status %d: %s", resp.StatusCode, string(data))
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}
