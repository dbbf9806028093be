package ai

import (
	"context"

	"github.com/bryanwahyu/dermascan/internal/domain/analysis"
)

// Classifier is one inference provider. Implementations return a *ProviderError on failure.
type Classifier interface {
	Name() string
	Supports(kind analysis.InputKind) bool
	Classify(ctx context.Context, in analysis.Input) (analysis.Inference, error)
}
