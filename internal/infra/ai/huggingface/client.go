// Package huggingface classifies images with a Hugging Face
// image-classification model, trying a dedicated endpoint before the
// hosted model served through the go-huggingface inference client.
package huggingface

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/bryanwahyu/dermascan/internal/domain/ai"
	"github.com/bryanwahyu/dermascan/internal/domain/analysis"
)

const (
	Name = "huggingface"

	DefaultModel = "loonister/Skin-Lesion-Detection-CNN"
	DefaultTopN  = 5

	maxResponseBytes = 1 << 20
)

type Config struct {
	APIKey string
	// EndpointURL is a dedicated inference endpoint; empty skips straight to the hosted API.
	EndpointURL string
	Model       string
	TopN        int
	Timeout     time.Duration
	HTTPClient  *http.Client
	// Hosted serves the named model when the endpoint is unset or fails.
	// Nil uses the hosted inference API with APIKey.
	Hosted Hosted
	Logger *slog.Logger
}

type Client struct {
	apiKey     string
	endpoint   string
	model      string
	hosted     Hosted
	topN       int
	httpClient *http.Client
	logger     *slog.Logger
}

func New(cfg Config) *Client {
	model := strings.Trim(strings.TrimSpace(cfg.Model), "/")
	if model == "" {
		model = DefaultModel
	}
	topN := cfg.TopN
	if topN <= 0 {
		topN = DefaultTopN
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
	hosted := cfg.Hosted
	if hosted == nil {
		hosted = NewInferenceAPI(cfg.APIKey)
	}
	return &Client{
		apiKey:     cfg.APIKey,
		endpoint:   strings.TrimSpace(cfg.EndpointURL),
		model:      model,
		hosted:     hosted,
		topN:       topN,
		httpClient: httpClient,
		logger:     logger,
	}
}

// Label is one class score as returned by image-classification models.
type Label struct {
	Label string  `json:"label"`
	Score float64 `json:"score"`
}

func (c *Client) Name() string { return Name }

func (c *Client) Supports(kind analysis.InputKind) bool { return kind == analysis.InputImage }

func (c *Client) Classify(ctx context.Context, in analysis.Input) (analysis.Inference, error) {
	if in.Kind() != analysis.InputImage {
		return analysis.Inference{}, ai.Fail(Name, 0, ai.ErrUnsupportedInput)
	}

	if c.endpoint != "" {
		labels, status, err := c.post(ctx, c.endpoint, in)
		if err == nil {
			return c.inference(labels), nil
		}
		if ctx.Err() != nil {
			return analysis.Inference{}, ai.Fail(Name, status, err)
		}
		c.logger.Warn("dedicated endpoint failed, using hosted model",
			"provider", Name,
			"status", status,
			"error", err,
		)
	}

	labels, err := c.hosted.Classify(ctx, c.model, in.Image)
	if err != nil {
		return analysis.Inference{}, ai.Fail(Name, hostedStatus(err), err)
	}
	if labels == nil {
		return analysis.Inference{}, ai.Fail(Name, 0, errors.New("hosted model returned no labels"))
	}
	return c.inference(labels), nil
}

func (c *Client) post(ctx context.Context, url string, in analysis.Input) ([]Label, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(in.Image))
	if err != nil {
		return nil, 0, fmt.Errorf("build request: %w", err)
	}
	ct := in.MIMEType
	if ct == "" {
		ct = "image/jpeg"
	}
	req.Header.Set("Content-Type", ct)
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("http error: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, resp.StatusCode, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var labels []Label
	if err := json.Unmarshal(data, &labels); err != nil {
		// dedicated endpoints sometimes nest the list one level deeper
		var nested [][]Label
		if nerr := json.Unmarshal(data, &nested); nerr != nil || len(nested) == 0 {
			return nil, resp.StatusCode, fmt.Errorf("decode labels: %w", err)
		}
		labels = nested[0]
	}
	if labels == nil {
		return nil, resp.StatusCode, errors.New("decode labels: null body")
	}
	return labels, resp.StatusCode, nil
}

func (c *Client) inference(labels []Label) analysis.Inference {
	sort.SliceStable(labels, func(i, j int) bool { return labels[i].Score > labels[j].Score })
	if len(labels) > c.topN {
		labels = labels[:c.topN]
	}
	preds := make(analysis.PredictionList, 0, len(labels))
	for _, l := range labels {
		preds = append(preds, analysis.Prediction{Label: l.Label, Score: l.Score})
	}
	return analysis.Inference{Provider: Name, Predictions: preds}
}
