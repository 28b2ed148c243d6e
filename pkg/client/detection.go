package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/aigoflow/detection-service/internal/models"
)

// DetectionClient provides a client interface for the detection service
type DetectionClient interface {
	Predict(ctx context.Context, filename string, image []byte, conf float64) (*models.PredictionResult, error)
	PredictBatch(ctx context.Context, images map[string][]byte, conf float64) (*models.BatchResult, error)
	Warmup(ctx context.Context) error
	Health(ctx context.Context) (*Health, error)
	Info(ctx context.Context) (map[string]interface{}, error)
}

type Health struct {
	Status string `json:"status"`
	Ready  bool   `json:"ready"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// HTTPDetectionClient implements DetectionClient against the public
// HTTP surface.
type HTTPDetectionClient struct {
	baseURL string
	http    *http.Client
}

func NewHTTPClient(baseURL string) DetectionClient {
	return &HTTPDetectionClient{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 60 * time.Second},
	}
}

func (c *HTTPDetectionClient) Predict(ctx context.Context, filename string, image []byte, conf float64) (*models.PredictionResult, error) {
	body, contentType, err := multipartBody(map[string][]byte{filename: image}, "file")
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/predict?conf=%v", c.baseURL, conf)
	var result models.PredictionResult
	if err := c.post(ctx, url, contentType, body, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *HTTPDetectionClient) PredictBatch(ctx context.Context, images map[string][]byte, conf float64) (*models.BatchResult, error) {
	body, contentType, err := multipartBody(images, "files")
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/predict_batch?conf=%v", c.baseURL, conf)
	var result models.BatchResult
	if err := c.post(ctx, url, contentType, body, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *HTTPDetectionClient) Warmup(ctx context.Context) error {
	var resp struct {
		Ready bool   `json:"ready"`
		Error string `json:"error"`
	}
	if err := c.post(ctx, c.baseURL+"/warmup", "", nil, &resp); err != nil {
		return err
	}
	if !resp.Ready {
		return fmt.Errorf("warmup failed: %s", resp.Error)
	}
	return nil
}

func (c *HTTPDetectionClient) Health(ctx context.Context) (*Health, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/healthz", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var health Health
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return nil, err
	}
	return &health, nil
}

func (c *HTTPDetectionClient) Info(ctx context.Context) (map[string]interface{}, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/info", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var info map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, err
	}
	return info, nil
}

func (c *HTTPDetectionClient) post(ctx context.Context, url, contentType string, body io.Reader, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("X-Trace-ID", ulid.Make().String())

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var apiErr apiError
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err == nil && apiErr.Code != "" {
			return fmt.Errorf("%s: %s (status %d)", apiErr.Code, apiErr.Message, resp.StatusCode)
		}
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func multipartBody(images map[string][]byte, field string) (io.Reader, string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for name, data := range images {
		part, err := mw.CreateFormFile(field, name)
		if err != nil {
			return nil, "", err
		}
		if _, err := part.Write(data); err != nil {
			return nil, "", err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, "", err
	}
	return &buf, mw.FormDataContentType(), nil
}
