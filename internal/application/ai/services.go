package ai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bryanwahyu/dermascan/internal/domain/ai"
	"github.com/bryanwahyu/dermascan/internal/domain/analysis"
)

// Observer receives one call per adapter attempt. May be nil.
type Observer interface {
	ObserveProvider(provider, outcome string, seconds float64)
}

// Service runs an ordered fallback chain of classifiers.
// At most one provider call is in flight per Run.
type Service struct {
	classifiers []ai.Classifier
	logger      *slog.Logger
	observer    Observer
	timeout     time.Duration
}

func NewService(logger *slog.Logger, observer Observer, classifiers ...ai.Classifier) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{classifiers: classifiers, logger: logger, observer: observer}
}

// WithTimeout bounds every single attempt; an attempt that runs out is a
// provider failure and the chain moves on. Zero means no per-attempt bound.
func (s *Service) WithTimeout(d time.Duration) *Service {
	s.timeout = d
	return s
}

// Providers lists the chain in priority order.
func (s *Service) Providers() []string {
	out := make([]string, 0, len(s.classifiers))
	for _, c := range s.classifiers {
		out = append(out, c.Name())
	}
	return out
}

// Run tries each classifier in order and returns the first success.
// When every classifier fails it returns *ai.AllProvidersFailedError with the last cause.
func (s *Service) Run(ctx context.Context, in analysis.Input) (analysis.Inference, error) {
	var last error
	attempts := 0
	for _, c := range s.classifiers {
		if !c.Supports(in.Kind()) {
			continue
		}
		if err := ctx.Err(); err != nil {
			last = err
			break
		}
		attempts++
		start := time.Now()
		res, err := s.classify(ctx, c, in)
		elapsed := time.Since(start).Seconds()
		if err != nil {
			last = err
			s.observe(c.Name(), outcome(err), elapsed)
			s.logger.Warn("provider failed, trying next",
				"provider", c.Name(),
				"attempt", attempts,
				"error", err,
			)
			continue
		}
		if res.Provider == "" {
			res.Provider = c.Name()
		}
		if res.Degraded {
			s.observe(c.Name(), "degraded", elapsed)
		} else {
			s.observe(c.Name(), "success", elapsed)
		}
		return res, nil
	}
	if last == nil {
		last = fmt.Errorf("%w: %s", ai.ErrUnsupportedInput, in.Kind())
	}
	return analysis.Inference{}, &ai.AllProvidersFailedError{Attempts: attempts, Last: last}
}

func (s *Service) classify(ctx context.Context, c ai.Classifier, in analysis.Input) (analysis.Inference, error) {
	if s.timeout <= 0 {
		return c.Classify(ctx, in)
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return c.Classify(ctx, in)
}

func (s *Service) observe(provider, result string, seconds float64) {
	if s.observer != nil {
		s.observer.ObserveProvider(provider, result, seconds)
	}
}

func outcome(err error) string {
	switch {
	case errors.Is(err, ai.ErrQuotaExceeded):
		return "quota"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "error"
	}
}
