package bedrock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/bryanwahyu/dermascan/internal/domain/ai"
	"github.com/bryanwahyu/dermascan/internal/domain/analysis"
	"github.com/bryanwahyu/dermascan/internal/infra/ai/prompt"
)

const (
	Name           = "bedrock-vision"
	DefaultModelID = "anthropic.claude-3-5-sonnet-20240620-v1:0"

	maxTokens = 1024
)

type ConverseAPI interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
}

// Client is a vision classifier on the Bedrock Converse API.
type Client struct {
	api     ConverseAPI
	modelID string
	logger  *slog.Logger
}

func New(api ConverseAPI, modelID string, logger *slog.Logger) *Client {
	if api == nil {
		panic("bedrock: converse client cannot be nil")
	}
	if strings.TrimSpace(modelID) == "" {
		modelID = DefaultModelID
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{api: api, modelID: modelID, logger: logger}
}

// NewFromConfig builds the runtime client from a loaded AWS config.
func NewFromConfig(cfg aws.Config, modelID string, logger *slog.Logger) *Client {
	return New(bedrockruntime.NewFromConfig(cfg), modelID, logger)
}

func (c *Client) Name() string { return Name }

func (c *Client) Supports(kind analysis.InputKind) bool { return kind == analysis.InputImage }

func (c *Client) Classify(ctx context.Context, in analysis.Input) (analysis.Inference, error) {
	if in.Kind() != analysis.InputImage {
		return analysis.Inference{}, ai.Fail(Name, 0, ai.ErrUnsupportedInput)
	}

	out, err := c.api.Converse(ctx, &bedrockruntime.ConverseInput{
		ModelId: aws.String(c.modelID),
		System: []brtypes.SystemContentBlock{
			&brtypes.SystemContentBlockMemberText{Value: prompt.GetVisionSystemPrompt()},
		},
		Messages: []brtypes.Message{{
			Role: brtypes.ConversationRoleUser,
			Content: []brtypes.ContentBlock{
				&brtypes.ContentBlockMemberImage{Value: brtypes.ImageBlock{
					Format: imageFormat(in.MIMEType),
					Source: &brtypes.ImageSourceMemberBytes{Value: in.Image},
				}},
				&brtypes.ContentBlockMemberText{Value: prompt.GetVisionUserPrompt(in.Prompt)},
			},
		}},
		InferenceConfig: &brtypes.InferenceConfiguration{
			MaxTokens:   aws.Int32(maxTokens),
			Temperature: aws.Float32(0),
		},
	})
	if err != nil {
		return analysis.Inference{}, ai.Fail(Name, statusOf(err), fmt.Errorf("converse: %w", err))
	}

	raw, err := outputText(out)
	if err != nil {
		return analysis.Inference{}, ai.Fail(Name, 0, err)
	}
	inf, err := prompt.ParseVision(Name, raw)
	if err != nil {
		c.logger.Warn("provider reply unreadable, returning degraded result",
			"provider", Name,
			"error", err,
		)
		return prompt.Degraded(Name), nil
	}
	return inf, nil
}

func outputText(out *bedrockruntime.ConverseOutput) (string, error) {
	if out == nil {
		return "", errors.New("bedrock response is nil")
	}
	msg, ok := out.Output.(*brtypes.ConverseOutputMemberMessage)
	if !ok {
		return "", errors.New("bedrock response did not include a message output")
	}
	var b strings.Builder
	for _, block := range msg.Value.Content {
		if t, ok := block.(*brtypes.ContentBlockMemberText); ok {
			b.WriteString(t.Value)
		}
	}
	return b.String(), nil
}

func imageFormat(mime string) brtypes.ImageFormat {
	switch mime {
	case "image/png":
		return brtypes.ImageFormatPng
	case "image/gif":
		return brtypes.ImageFormatGif
	case "image/webp":
		return brtypes.ImageFormatWebp
	default:
		return brtypes.ImageFormatJpeg
	}
}

func statusOf(err error) int {
	var throttled *brtypes.ThrottlingException
	if errors.As(err, &throttled) {
		return 429
	}
	var withStatus interface{ HTTPStatusCode() int }
	if errors.As(err, &withStatus) {
		return withStatus.HTTPStatusCode()
	}
	return 0
}
