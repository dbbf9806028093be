package gemini

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/bryanwahyu/dermascan/internal/domain/ai"
	"github.com/bryanwahyu/dermascan/internal/domain/analysis"
	"github.com/bryanwahyu/dermascan/internal/infra/ai/prompt"
)

const (
	VisionName   = "gemini-vision"
	TextName     = "gemini-text"
	DefaultModel = "gemini-2.5-flash"

	maxOutputTokens = 1024
)

// Dial opens the shared Gemini client. Callers close it on shutdown.
func Dial(ctx context.Context, apiKey string) (*genai.Client, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("gemini: api key is required")
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("gemini: failed to create client: %w", err)
	}
	return client, nil
}

type contentGenerator interface {
	GenerateContent(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error)
}

// Classifier runs one Gemini model for a single input kind.
type Classifier struct {
	model  contentGenerator
	name   string
	kind   analysis.InputKind
	logger *slog.Logger
}

func NewVision(client *genai.Client, modelID string, logger *slog.Logger) *Classifier {
	return &Classifier{
		model:  configure(client, modelID, prompt.GetVisionSystemPrompt()),
		name:   VisionName,
		kind:   analysis.InputImage,
		logger: orDefault(logger),
	}
}

func NewText(client *genai.Client, modelID string, logger *slog.Logger) *Classifier {
	return &Classifier{
		model:  configure(client, modelID, prompt.GetTextSystemPrompt()),
		name:   TextName,
		kind:   analysis.InputText,
		logger: orDefault(logger),
	}
}

func configure(client *genai.Client, modelID, system string) *genai.GenerativeModel {
	if strings.TrimSpace(modelID) == "" {
		modelID = DefaultModel
	}
	model := client.GenerativeModel(modelID)
	model.SystemInstruction = genai.NewUserContent(genai.Text(system))
	model.ResponseMIMEType = "application/json"
	model.SetMaxOutputTokens(maxOutputTokens)
	model.SetTemperature(0)
	return model
}

func orDefault(l *slog.Logger) *slog.Logger {
	if l == nil {
		return slog.Default()
	}
	return l
}

func (c *Classifier) Name() string { return c.name }

func (c *Classifier) Supports(kind analysis.InputKind) bool { return kind == c.kind }

func (c *Classifier) Classify(ctx context.Context, in analysis.Input) (analysis.Inference, error) {
	if in.Kind() != c.kind {
		return analysis.Inference{}, ai.Fail(c.name, 0, ai.ErrUnsupportedInput)
	}

	var parts []genai.Part
	if c.kind == analysis.InputImage {
		parts = []genai.Part{
			genai.ImageData(imageFormat(in.MIMEType), in.Image),
			genai.Text(prompt.GetVisionUserPrompt(in.Prompt)),
		}
	} else {
		parts = []genai.Part{genai.Text(prompt.GetTextUserPrompt(in.Prompt))}
	}

	resp, err := c.model.GenerateContent(ctx, parts...)
	if err != nil {
		return analysis.Inference{}, ai.Fail(c.name, statusOf(err), fmt.Errorf("generate content: %w", err))
	}
	raw, err := text(resp)
	if err != nil {
		return analysis.Inference{}, ai.Fail(c.name, 0, err)
	}

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

func text(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		return "", errors.New("gemini returned no candidates")
	}
	candidate := resp.Candidates[0]
	if candidate.Content == nil || len(candidate.Content.Parts) == 0 {
		return "", errors.New("gemini returned empty content")
	}
	var b strings.Builder
	for _, part := range candidate.Content.Parts {
		if t, ok := part.(genai.Text); ok {
			b.WriteString(string(t))
		}
	}
	return b.String(), nil
}

// imageFormat turns "image/png" into "png" as genai.ImageData expects.
func imageFormat(mime string) string {
	if f, ok := strings.CutPrefix(mime, "image/"); ok && f != "" {
		return f
	}
	return "jpeg"
}

func statusOf(err error) int {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return gerr.Code
	}
	return 0
}
