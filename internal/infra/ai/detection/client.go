// Package detection calls a hosted skin-lesion detection endpoint that
// accepts a multipart image upload and answers with class predictions.
package detection

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/bryanwahyu/dermascan/internal/domain/ai"
	"github.com/bryanwahyu/dermascan/internal/domain/analysis"
)

const (
	Name             = "detection"
	defaultUserAgent = "dermascan/1.0"
	maxResponseBytes = 1 << 20
)

type Config struct {
	URL        string
	APIKey     string
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Client is the primary image classifier.
type Client struct {
	url        string
	apiKey     string
	httpClient *http.Client
	logger     *slog.Logger
}

func New(cfg Config) (*Client, error) {
	u := strings.TrimSpace(cfg.URL)
	if u == "" {
		return nil, errors.New("detection: endpoint URL is required")
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{url: u, apiKey: cfg.APIKey, httpClient: httpClient, logger: logger}, nil
}

type prediction struct {
	Class      string  `json:"class"`
	Confidence float64 `json:"confidence"`
}

type response struct {
	Predictions *[]prediction `json:"predictions"`
}

func (c *Client) Name() string { return Name }

func (c *Client) Supports(kind analysis.InputKind) bool { return kind == analysis.InputImage }

func (c *Client) Classify(ctx context.Context, in analysis.Input) (analysis.Inference, error) {
	if in.Kind() != analysis.InputImage {
		return analysis.Inference{}, ai.Fail(Name, 0, ai.ErrUnsupportedInput)
	}

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("file", "image.jpg")
	if err != nil {
		return analysis.Inference{}, ai.Fail(Name, 0, fmt.Errorf("create form file: %w", err))
	}
	if _, err := part.Write(in.Image); err != nil {
		return analysis.Inference{}, ai.Fail(Name, 0, fmt.Errorf("write image: %w", err))
	}
	if err := writer.Close(); err != nil {
		return analysis.Inference{}, ai.Fail(Name, 0, fmt.Errorf("close multipart writer: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, &buf)
	if err != nil {
		return analysis.Inference{}, ai.Fail(Name, 0, fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", defaultUserAgent)
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return analysis.Inference{}, ai.Fail(Name, 0, fmt.Errorf("http error: %w", err))
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return analysis.Inference{}, ai.Fail(Name, resp.StatusCode, fmt.Errorf("read response: %w", err))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return analysis.Inference{}, ai.Fail(Name, resp.StatusCode, fmt.Errorf("unexpected status: %s", snippet(data)))
	}

	var out response
	if err := json.Unmarshal(data, &out); err != nil {
		return analysis.Inference{}, ai.Fail(Name, resp.StatusCode, fmt.Errorf("decode predictions: %w", err))
	}
	if out.Predictions == nil {
		return analysis.Inference{}, ai.Fail(Name, resp.StatusCode, errors.New("response has no predictions field"))
	}

	preds := make(analysis.PredictionList, 0, len(*out.Predictions))
	for _, p := range *out.Predictions {
		preds = append(preds, analysis.Prediction{Label: p.Class, Score: p.Confidence})
	}
	c.logger.Debug("detection endpoint answered", "predictions", len(preds))
	return analysis.Inference{Provider: Name, Predictions: preds}, nil
}

func snippet(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > 200 {
		return s[:200] + "..."
	}
	return s
}
