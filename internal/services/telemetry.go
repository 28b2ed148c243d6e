package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/aigoflow/detection-service/internal/config"
	"github.com/aigoflow/detection-service/internal/models"
)

// TelemetryService publishes service health and per-request metric
// events over NATS. Everything here is best-effort: publish failures
// are logged and dropped, never surfaced to the request path.
type TelemetryService struct {
	nats   *nats.Conn
	config *config.Config
	ready  func() bool
}

type HealthStatus struct {
	ModelName    string    `json:"model_name"`
	Status       string    `json:"status"` // online, starting
	Ready        bool      `json:"ready"`
	LastActivity time.Time `json:"last_activity"`
	Endpoint     string    `json:"endpoint"`
	Version      string    `json:"version"`
}

func NewTelemetryService(cfg *config.Config, ready func() bool) (*TelemetryService, error) {
	conn, err := nats.Connect(cfg.NatsURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	return &TelemetryService{
		nats:   conn,
		config: cfg,
		ready:  ready,
	}, nil
}

func (t *TelemetryService) Start(ctx context.Context) error {
	// Answer health probes for this model
	healthTopic := fmt.Sprintf("models.%s.health", t.config.ModelName)

	_, err := t.nats.Subscribe(healthTopic, func(msg *nats.Msg) {
		statusData, err := json.Marshal(t.healthStatus())
		if err != nil {
			slog.Error("Failed to marshal health status", "error", err)
			return
		}
		if err := msg.Respond(statusData); err != nil {
			slog.Error("Failed to respond to health check", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to health topic: %w", err)
	}

	slog.Info("Telemetry service started", "topic", healthTopic)

	go t.publishHeartbeats(ctx)

	return nil
}

// PublishEvent forwards one metric event to the telemetry subject.
func (t *TelemetryService) PublishEvent(ev models.MetricEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	topic := fmt.Sprintf("detections.metrics.%s", t.config.ModelName)
	if err := t.nats.Publish(topic, data); err != nil {
		slog.Warn("Failed to publish metric event", "error", err)
	}
}

func (t *TelemetryService) publishHeartbeats(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	heartbeatTopic := fmt.Sprintf("models.%s.heartbeat", t.config.ModelName)

	for {
		select {
		case <-ctx.Done():
			t.nats.Close()
			return
		case <-ticker.C:
			statusData, err := json.Marshal(t.healthStatus())
			if err != nil {
				continue
			}
			if err := t.nats.Publish(heartbeatTopic, statusData); err != nil {
				slog.Warn("Failed to publish heartbeat", "error", err)
			}
		}
	}
}

func (t *TelemetryService) healthStatus() HealthStatus {
	status := "online"
	if !t.ready() {
		status = "starting"
	}
	return HealthStatus{
		ModelName:    t.config.ModelName,
		Status:       status,
		Ready:        t.ready(),
		LastActivity: time.Now(),
		Endpoint:     fmt.Sprintf("http://localhost%s", t.config.HTTPAddr),
		Version:      "1.0.0",
	}
}
