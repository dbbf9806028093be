package openai

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/bryanwahyu/dermascan/internal/domain/ai"
	"github.com/bryanwahyu/dermascan/internal/domain/analysis"
	"github.com/bryanwahyu/dermascan/internal/infra/ai/prompt"
)

const (
	maxTokens = 1024

	VisionName = "openai-vision"
	TextName   = "openai-text"

	defaultVisionModel = "gpt-4o"
	defaultTextModel   = "gpt-4o-mini"
)

type Config struct {
	APIKey      string
	BaseURL     string
	VisionModel string
	TextModel   string
}

// Client is a chat-completions classifier for a single input kind.
type Client struct {
	*openai.Client
	Model  string
	name   string
	kind   analysis.InputKind
	logger *slog.Logger
}

func newAPI(cfg Config) *openai.Client {
	c := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		c.BaseURL = cfg.BaseURL
	}
	return openai.NewClientWithConfig(c)
}

// NewVisionClient classifies images sent as base64 data URIs.
func NewVisionClient(cfg Config, logger *slog.Logger) *Client {
	model := cfg.VisionModel
	if model == "" {
		model = defaultVisionModel
	}
	return newClient(cfg, model, VisionName, analysis.InputImage, logger)
}

// NewTextClient classifies free-text symptom descriptions.
func NewTextClient(cfg Config, logger *slog.Logger) *Client {
	model := cfg.TextModel
	if model == "" {
		model = defaultTextModel
	}
	return newClient(cfg, model, TextName, analysis.InputText, logger)
}

func newClient(cfg Config, model, name string, kind analysis.InputKind, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{Client: newAPI(cfg), Model: model, name: name, kind: kind, logger: logger}
}

func (c *Client) Name() string { return c.name }

func (c *Client) Supports(kind analysis.InputKind) bool { return kind == c.kind }

func (c *Client) Classify(ctx context.Context, in analysis.Input) (analysis.Inference, error) {
	if in.Kind() != c.kind {
		return analysis.Inference{}, ai.Fail(c.name, 0, ai.ErrUnsupportedInput)
	}

	req := openai.ChatCompletionRequest{
		Model: c.Model,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	}
	if c.kind == analysis.InputImage {
		req.Messages = visionMessages(in)
	} else {
		req.Messages = []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: prompt.GetTextSystemPrompt()},
			{Role: openai.ChatMessageRoleUser, Content: prompt.GetTextUserPrompt(in.Prompt)},
		}
	}
	// reasoning models (o1/o3/o4/gpt-5*) reject MaxTokens
	if isReasoningModel(c.Model) {
		req.MaxCompletionTokens = maxTokens
	} else {
		req.MaxTokens = maxTokens
	}

	resp, err := c.CreateChatCompletion(ctx, req)
	if err != nil {
		return analysis.Inference{}, ai.Fail(c.name, statusOf(err), fmt.Errorf("chat completion: %w", err))
	}
	if len(resp.Choices) == 0 {
		return analysis.Inference{}, ai.Fail(c.name, 0, errors.New("chat completion returned no choices"))
	}

	raw := resp.Choices[0].Message.Content
	var inf analysis.Inference
	if c.kind == analysis.InputImage {
		inf, err = prompt.ParseVision(c.name, raw)
	} else {
		inf, err = prompt.ParseText(c.name, raw)
	}
	if err != nil {
		c.logger.Warn("provider reply unreadable, returning degraded result",
			"provider", c.name,
			"error", err,
		)
		return prompt.Degraded(c.name), nil
	}
	return inf, nil
}

func visionMessages(in analysis.Input) []openai.ChatCompletionMessage {
	mime := in.MIMEType
	if mime == "" {
		mime = "image/jpeg"
	}
	uri := "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(in.Image)
	return []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: prompt.GetVisionSystemPrompt()},
		{
			Role: openai.ChatMessageRoleUser,
			MultiContent: []openai.ChatMessagePart{
				{Type: openai.ChatMessagePartTypeText, Text: prompt.GetVisionUserPrompt(in.Prompt)},
				{
					Type:     openai.ChatMessagePartTypeImageURL,
					ImageURL: &openai.ChatMessageImageURL{URL: uri, Detail: openai.ImageURLDetailAuto},
				},
			},
		},
	}
}

func isReasoningModel(model string) bool {
	for _, p := range []string{"o1", "o3", "o4", "gpt-5"} {
		if strings.HasPrefix(model, p) {
			return true
		}
	}
	return false
}

func statusOf(err error) int {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode
	}
	return 0
}
