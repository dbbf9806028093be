package analysis

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/bryanwahyu/dermascan/internal/application"
	domain "github.com/bryanwahyu/dermascan/internal/domain/analysis"
	"github.com/bryanwahyu/dermascan/internal/domain/risk"
)

const DefaultBatchConcurrency = 4

// Chain runs an ordered list of providers for one input (see application/ai).
type Chain interface {
	Run(ctx context.Context, in domain.Input) (domain.Inference, error)
}

type Downloader interface {
	Fetch(ctx context.Context, rawURL string) ([]byte, error)
}

// Recorder receives pipeline metrics. May be nil.
type Recorder interface {
	ObserveAnalysis(kind, outcome string, seconds float64)
	ObserveRisk(level string)
	ObserveBatch(total, failed int)
}

// Service implements the analysis use-cases.
// Service is designed to be used concurrently and is thread-safe
type Service struct {
	Repo       domain.Repository
	Blobs      domain.BlobStore
	Normalizer domain.Normalizer
	ImageChain Chain
	TextChain  Chain
	Risk       risk.Classifier
	Downloader Downloader
	Clock      application.Clock
	Logger     *slog.Logger
	Metrics    Recorder

	BatchConcurrency int
}

//
// ==== USE CASES ====
//

type AnalyzeImageCommand struct {
	UserID   string
	Image    []byte
	Symptoms string
	Consent  bool
}

type AnalyzeTextCommand struct {
	UserID  string
	Prompt  string
	Consent bool
}

type AnalyzeURLCommand struct {
	UserID   string
	ImageURL string
	Symptoms string
	Consent  bool
}

type BatchItem struct {
	Name     string
	Image    []byte
	Symptoms string
}

type AnalyzeBatchCommand struct {
	UserID  string
	Items   []BatchItem
	Consent bool
}

// Result is the assessment plus where it was stored, if it was.
type Result struct {
	domain.Assessment
	RecordID string `json:"record_id,omitempty"`
	ImageRef string `json:"image_ref,omitempty"`
	Stored   bool   `json:"stored"`
}

type BatchItemResult struct {
	Index  int     `json:"index"`
	Name   string  `json:"name,omitempty"`
	OK     bool    `json:"success"`
	Result *Result `json:"result,omitempty"`
	Error  string  `json:"error,omitempty"`
}

type BatchResult struct {
	Total      int               `json:"total"`
	Successful int               `json:"successful"`
	Failed     int               `json:"failed"`
	Results    []BatchItemResult `json:"results"`
}

type HistoryQuery struct {
	UserID   string
	Page     int
	PageSize int
}

// AnalyzeImage normalizes → classifies with fallback → assesses risk → stores on consent
func (s *Service) AnalyzeImage(ctx context.Context, cmd AnalyzeImageCommand) (Result, error) {
	return s.analyzeImage(ctx, cmd, -1)
}

func (s *Service) analyzeImage(ctx context.Context, cmd AnalyzeImageCommand, batchIndex int) (Result, error) {
	start := time.Now()
	if len(cmd.Image) == 0 {
		err := &domain.InvalidImageError{Cause: fmt.Errorf("no image data")}
		s.observe("image", "invalid", start)
		return Result{}, err
	}

	img, err := s.Normalizer.Normalize(cmd.Image)
	if err != nil {
		s.observe("image", "invalid", start)
		return Result{}, err
	}

	symptoms := strings.TrimSpace(cmd.Symptoms)
	inf, err := s.ImageChain.Run(ctx, domain.Input{Image: img.Data, MIMEType: img.MIMEType, Prompt: symptoms})
	if err != nil {
		s.observe("image", "failed", start)
		s.logger().Error("image analysis failed", "user_id", cmd.UserID, "error", err)
		return Result{}, err
	}

	a := s.Risk.Assess(inf, symptoms)
	res := Result{Assessment: a}
	if cmd.Consent {
		now := s.now()
		name := domain.BlobName(now, cmd.UserID)
		if batchIndex >= 0 {
			name = domain.BatchBlobName(now, cmd.UserID, batchIndex)
		}
		ref, err := s.Blobs.Write(ctx, img.Data, name)
		if err != nil {
			s.observe("image", "failed", start)
			return Result{}, fmt.Errorf("store image: %w", err)
		}
		if res, err = s.store(ctx, a, cmd.UserID, ref, symptoms); err != nil {
			// the record never landed, so the image must not outlive the request
			if derr := s.Blobs.Delete(context.WithoutCancel(ctx), name); derr != nil {
				s.logger().Error("failed to remove orphaned image", "file", name, "error", derr)
			}
			s.observe("image", "failed", start)
			return Result{}, err
		}
	}

	s.observe("image", "success", start)
	s.observeRisk(a.Risk)
	s.logger().Info("image analysis completed",
		"user_id", cmd.UserID,
		"provider", a.Provider,
		"risk", a.Risk,
		"degraded", a.Degraded,
		"stored", res.Stored,
	)
	return res, nil
}

// AnalyzeText classifies a free-text symptom description
func (s *Service) AnalyzeText(ctx context.Context, cmd AnalyzeTextCommand) (Result, error) {
	start := time.Now()
	prompt := strings.TrimSpace(cmd.Prompt)
	if prompt == "" {
		s.observe("text", "invalid", start)
		return Result{}, fmt.Errorf("%w: prompt is required", domain.ErrInvalidInput)
	}

	inf, err := s.TextChain.Run(ctx, domain.Input{Prompt: prompt})
	if err != nil {
		s.observe("text", "failed", start)
		s.logger().Error("text analysis failed", "user_id", cmd.UserID, "error", err)
		return Result{}, err
	}

	a := s.Risk.Assess(inf, prompt)
	res := Result{Assessment: a}
	if cmd.Consent {
		if res, err = s.store(ctx, a, cmd.UserID, "", prompt); err != nil {
			s.observe("text", "failed", start)
			return Result{}, err
		}
	}

	s.observe("text", "success", start)
	s.observeRisk(a.Risk)
	s.logger().Info("text analysis completed",
		"user_id", cmd.UserID,
		"provider", a.Provider,
		"risk", a.Risk,
		"stored", res.Stored,
	)
	return res, nil
}

// AnalyzeURL downloads the image then runs the image pipeline
func (s *Service) AnalyzeURL(ctx context.Context, cmd AnalyzeURLCommand) (Result, error) {
	if s.Downloader == nil {
		return Result{}, fmt.Errorf("%w: url analysis is not configured", domain.ErrInvalidInput)
	}
	data, err := s.Downloader.Fetch(ctx, cmd.ImageURL)
	if err != nil {
		s.observe("url", "invalid", time.Now())
		return Result{}, err
	}
	return s.AnalyzeImage(ctx, AnalyzeImageCommand{
		UserID:   cmd.UserID,
		Image:    data,
		Symptoms: cmd.Symptoms,
		Consent:  cmd.Consent,
	})
}

// AnalyzeBatch runs every item's full pipeline concurrently. One item failing
// never cancels or fails the others.
func (s *Service) AnalyzeBatch(ctx context.Context, cmd AnalyzeBatchCommand) (BatchResult, error) {
	if len(cmd.Items) == 0 {
		return BatchResult{}, fmt.Errorf("%w: batch has no images", domain.ErrInvalidInput)
	}

	results := make([]BatchItemResult, len(cmd.Items))
	var g errgroup.Group
	g.SetLimit(s.batchLimit())
	for i, item := range cmd.Items {
		g.Go(func() error {
			defer func() {
				if p := recover(); p != nil {
					s.logger().Error("batch item panicked", "user_id", cmd.UserID, "index", i, "panic", p)
					results[i] = BatchItemResult{Index: i, Name: item.Name, Error: fmt.Sprint("panic: ", p)}
				}
			}()
			r := BatchItemResult{Index: i, Name: item.Name}
			res, err := s.analyzeImage(ctx, AnalyzeImageCommand{
				UserID:   cmd.UserID,
				Image:    item.Image,
				Symptoms: item.Symptoms,
				Consent:  cmd.Consent,
			}, i)
			if err != nil {
				r.Error = err.Error()
			} else {
				r.OK = true
				r.Result = &res
			}
			results[i] = r
			return nil
		})
	}
	_ = g.Wait()

	out := BatchResult{Total: len(results), Results: results}
	for _, r := range results {
		if r.OK {
			out.Successful++
		} else {
			out.Failed++
		}
	}
	if s.Metrics != nil {
		s.Metrics.ObserveBatch(out.Total, out.Failed)
	}
	s.logger().Info("batch analysis completed",
		"user_id", cmd.UserID,
		"total", out.Total,
		"successful", out.Successful,
		"failed", out.Failed,
	)
	return out, nil
}

// History lists stored analyses, newest first. An empty UserID lists everyone's.
func (s *Service) History(ctx context.Context, q HistoryQuery) ([]*domain.Record, error) {
	return s.Repo.ListHistory(ctx, domain.HistoryFilter{UserID: q.UserID, Page: q.Page, PageSize: q.PageSize})
}

func (s *Service) store(ctx context.Context, a domain.Assessment, userID, imageRef, symptoms string) (Result, error) {
	id := domain.ID(uuid.New().String())
	rec := domain.BuildRecord(id, a, userID, imageRef, true, symptoms)
	if err := s.Repo.Save(ctx, rec); err != nil {
		s.logger().Error("failed to save analysis", "id", id, "user_id", userID, "error", err)
		return Result{}, fmt.Errorf("save analysis: %w", err)
	}
	return Result{Assessment: a, RecordID: string(id), ImageRef: rec.ImageRef, Stored: true}, nil
}

func (s *Service) batchLimit() int {
	if s.BatchConcurrency > 0 {
		return s.BatchConcurrency
	}
	return DefaultBatchConcurrency
}

func (s *Service) now() time.Time {
	if s.Clock != nil {
		return s.Clock.Now()
	}
	return time.Now()
}

func (s *Service) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

func (s *Service) observe(kind, outcome string, start time.Time) {
	if s.Metrics != nil {
		s.Metrics.ObserveAnalysis(kind, outcome, time.Since(start).Seconds())
	}
}

func (s *Service) observeRisk(level domain.RiskLevel) {
	if s.Metrics != nil {
		s.Metrics.ObserveRisk(string(level))
	}
}
