package huggingface

import (
	"bytes"
	"context"
	"net/http"
	"strings"

	hf "github.com/hupe1980/go-huggingface"
)

// Hosted classifies an image with a named model on Hugging Face's side.
type Hosted interface {
	Classify(ctx context.Context, model string, image []byte) ([]Label, error)
}

// InferenceAPI is the Hosted implementation backed by the hosted inference API.
type InferenceAPI struct {
	client *hf.InferenceClient
}

func NewInferenceAPI(token string) *InferenceAPI {
	return &InferenceAPI{client: hf.NewInferenceClient(token)}
}

func (a *InferenceAPI) Classify(ctx context.Context, model string, image []byte) ([]Label, error) {
	res, err := a.client.ImageClassification(ctx, &hf.ImageClassificationRequest{
		Image: bytes.NewReader(image),
		Model: model,
	})
	if err != nil {
		return nil, err
	}
	out := make([]Label, 0, len(res))
	for _, r := range res {
		out = append(out, Label{Label: r.Label, Score: r.Score})
	}
	return out, nil
}

// hostedStatus recovers an HTTP status from a client error so quota and
// model-loading failures are classified like the endpoint's.
func hostedStatus(err error) int {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "rate limit"), strings.Contains(msg, "429"), strings.Contains(msg, "too many requests"):
		return http.StatusTooManyRequests
	case strings.Contains(msg, "currently loading"), strings.Contains(msg, "503"):
		return http.StatusServiceUnavailable
	default:
		return 0
	}
}
