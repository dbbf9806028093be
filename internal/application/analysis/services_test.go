package analysis

import (
	"bytes"
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domai "github.com/bryanwahyu/dermascan/internal/domain/ai"
	domain "github.com/bryanwahyu/dermascan/internal/domain/analysis"
	"github.com/bryanwahyu/dermascan/internal/domain/risk"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

type fakeRepo struct {
	mu      sync.Mutex
	saved   []*domain.Record
	err     error
	filters []domain.HistoryFilter
}

func (r *fakeRepo) Save(_ context.Context, rec *domain.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.saved = append(r.saved, rec)
	return nil
}

func (r *fakeRepo) ListHistory(_ context.Context, f domain.HistoryFilter) ([]*domain.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.filters = append(r.filters, f)
	return r.saved, nil
}

type fakeBlobs struct {
	mu    sync.Mutex
	names []string
}

func (b *fakeBlobs) Write(_ context.Context, _ []byte, name string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.names = append(b.names, name)
	return "uploads/" + name, nil
}

func (b *fakeBlobs) Delete(_ context.Context, name string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, n := range b.names {
		if n == name {
			b.names = append(b.names[:i], b.names[i+1:]...)
			break
		}
	}
	return nil
}

// passNormalizer rejects the bytes "bad" and passes everything else through.
type passNormalizer struct{}

func (passNormalizer) Normalize(data []byte) (domain.NormalizedImage, error) {
	if bytes.Equal(data, []byte("bad")) {
		return domain.NormalizedImage{}, &domain.InvalidImageError{Cause: errors.New("unknown format")}
	}
	return domain.NormalizedImage{Data: data, MIMEType: "image/jpeg"}, nil
}

// explodingNormalizer panics on the bytes "boom", the way a broken decoder would.
type explodingNormalizer struct{ passNormalizer }

func (n explodingNormalizer) Normalize(data []byte) (domain.NormalizedImage, error) {
	if bytes.Equal(data, []byte("boom")) {
		panic("decoder exploded")
	}
	return n.passNormalizer.Normalize(data)
}

type fakeChain struct {
	mu     sync.Mutex
	res    domain.Inference
	err    error
	inputs []domain.Input
}

func (c *fakeChain) Run(_ context.Context, in domain.Input) (domain.Inference, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inputs = append(c.inputs, in)
	return c.res, c.err
}

type fakeDownloader struct {
	data []byte
	err  error
}

func (d fakeDownloader) Fetch(context.Context, string) ([]byte, error) { return d.data, d.err }

type recordingMetrics struct {
	mu       sync.Mutex
	analyses []string
	risks    []string
	batches  [][2]int
}

func (m *recordingMetrics) ObserveAnalysis(kind, outcome string, _ float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.analyses = append(m.analyses, kind+":"+outcome)
}

func (m *recordingMetrics) ObserveRisk(level string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.risks = append(m.risks, level)
}

func (m *recordingMetrics) ObserveBatch(total, failed int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.batches = append(m.batches, [2]int{total, failed})
}

var now = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func newService() (*Service, *fakeRepo, *fakeBlobs, *fakeChain, *fakeChain) {
	repo := &fakeRepo{}
	blobs := &fakeBlobs{}
	img := &fakeChain{res: domain.Inference{
		Provider:    "detection",
		Predictions: domain.PredictionList{{Label: "Melanoma", Score: 0.92}},
	}}
	txt := &fakeChain{res: domain.Inference{
		Provider:    "openai-text",
		Predictions: domain.PredictionList{{Label: "Eczema", Score: 0.6}},
		RiskHint:    domain.RiskMedium,
	}}
	svc := &Service{
		Repo:       repo,
		Blobs:      blobs,
		Normalizer: passNormalizer{},
		ImageChain: img,
		TextChain:  txt,
		Risk:       risk.Classifier{Now: func() time.Time { return now }},
		Clock:      fixedClock{now},
	}
	return svc, repo, blobs, img, txt
}

func TestAnalyzeImageWithoutConsentStoresNothing(t *testing.T) {
	svc, repo, blobs, img, _ := newService()

	res, err := svc.AnalyzeImage(context.Background(), AnalyzeImageCommand{
		UserID:   "u-1",
		Image:    []byte("jpeg"),
		Symptoms: "  itching  ",
	})
	require.NoError(t, err)

	assert.False(t, res.Stored)
	assert.Empty(t, res.RecordID)
	assert.Equal(t, domain.RiskHigh, res.Risk)
	assert.Equal(t, []string{"melanoma"}, res.Conditions)
	assert.Empty(t, repo.saved)
	assert.Empty(t, blobs.names)
	require.Len(t, img.inputs, 1)
	assert.Equal(t, "itching", img.inputs[0].Prompt)
	assert.Equal(t, "image/jpeg", img.inputs[0].MIMEType)
}

func TestAnalyzeImageWithConsentPersists(t *testing.T) {
	svc, repo, blobs, _, _ := newService()

	res, err := svc.AnalyzeImage(context.Background(), AnalyzeImageCommand{
		UserID:   "u-1",
		Image:    []byte("jpeg"),
		Symptoms: "pain",
		Consent:  true,
	})
	require.NoError(t, err)

	assert.True(t, res.Stored)
	assert.NotEmpty(t, res.RecordID)
	assert.Equal(t, []string{"1709294400000-u-1.jpg"}, blobs.names)
	assert.Equal(t, "uploads/1709294400000-u-1.jpg", res.ImageRef)
	require.Len(t, repo.saved, 1)
	rec := repo.saved[0]
	assert.Equal(t, domain.ID(res.RecordID), rec.ID)
	assert.Equal(t, "u-1", rec.UserID)
	assert.Equal(t, "pain", rec.SymptomText)
	assert.True(t, rec.Consent)
	assert.Equal(t, now, rec.Assessment.Timestamp)
}

func TestAnalyzeImageRejectsEmptyAndUndecodable(t *testing.T) {
	svc, _, _, img, _ := newService()

	_, err := svc.AnalyzeImage(context.Background(), AnalyzeImageCommand{UserID: "u-1"})
	assert.ErrorIs(t, err, domain.ErrInvalidImage)

	_, err = svc.AnalyzeImage(context.Background(), AnalyzeImageCommand{UserID: "u-1", Image: []byte("bad")})
	assert.ErrorIs(t, err, domain.ErrInvalidImage)
	assert.Empty(t, img.inputs)
}

func TestAnalyzeImagePropagatesChainFailure(t *testing.T) {
	svc, repo, _, img, _ := newService()
	img.err = &domai.AllProvidersFailedError{Attempts: 2, Last: errors.New("quota")}
	m := &recordingMetrics{}
	svc.Metrics = m

	_, err := svc.AnalyzeImage(context.Background(), AnalyzeImageCommand{UserID: "u-1", Image: []byte("jpeg"), Consent: true})

	var all *domai.AllProvidersFailedError
	require.ErrorAs(t, err, &all)
	assert.Empty(t, repo.saved)
	assert.Equal(t, []string{"image:failed"}, m.analyses)
	assert.Empty(t, m.risks)
}

func TestAnalyzeImageSaveFailure(t *testing.T) {
	svc, repo, blobs, _, _ := newService()
	repo.err = errors.New("db down")

	_, err := svc.AnalyzeImage(context.Background(), AnalyzeImageCommand{UserID: "u-1", Image: []byte("jpeg"), Consent: true})
	assert.ErrorContains(t, err, "db down")
	assert.Empty(t, blobs.names, "image written before a failed save must be removed")
}

func TestAnalyzeTextUsesTextRef(t *testing.T) {
	svc, repo, blobs, img, txt := newService()
	m := &recordingMetrics{}
	svc.Metrics = m

	res, err := svc.AnalyzeText(context.Background(), AnalyzeTextCommand{
		UserID:  "u-2",
		Prompt:  "red itchy patches on elbows",
		Consent: true,
	})
	require.NoError(t, err)

	assert.Equal(t, domain.RiskMedium, res.Risk)
	assert.Equal(t, domain.TextAnalysisRef, res.ImageRef)
	assert.Empty(t, blobs.names)
	assert.Empty(t, img.inputs)
	require.Len(t, txt.inputs, 1)
	assert.Equal(t, domain.InputText, txt.inputs[0].Kind())
	require.Len(t, repo.saved, 1)
	assert.Equal(t, domain.TextAnalysisRef, repo.saved[0].ImageRef)
	assert.Equal(t, []string{"text:success"}, m.analyses)
	assert.Equal(t, []string{"MEDIUM"}, m.risks)
}

func TestAnalyzeTextRequiresPrompt(t *testing.T) {
	svc, _, _, _, txt := newService()

	_, err := svc.AnalyzeText(context.Background(), AnalyzeTextCommand{UserID: "u-2", Prompt: "   "})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	assert.Empty(t, txt.inputs)
}

func TestAnalyzeURL(t *testing.T) {
	svc, _, _, img, _ := newService()
	svc.Downloader = fakeDownloader{data: []byte("jpeg")}

	res, err := svc.AnalyzeURL(context.Background(), AnalyzeURLCommand{UserID: "u-3", ImageURL: "https://example.com/a.jpg"})
	require.NoError(t, err)
	assert.Equal(t, "detection", res.Provider)
	require.Len(t, img.inputs, 1)
	assert.Equal(t, []byte("jpeg"), img.inputs[0].Image)

	svc.Downloader = fakeDownloader{err: &domain.InvalidImageError{Cause: errors.New("404")}}
	_, err = svc.AnalyzeURL(context.Background(), AnalyzeURLCommand{UserID: "u-3", ImageURL: "https://example.com/b.jpg"})
	assert.ErrorIs(t, err, domain.ErrInvalidImage)
}

func TestAnalyzeURLNotConfigured(t *testing.T) {
	svc, _, _, _, _ := newService()
	_, err := svc.AnalyzeURL(context.Background(), AnalyzeURLCommand{ImageURL: "https://example.com/a.jpg"})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestAnalyzeBatchIsolatesFailures(t *testing.T) {
	svc, repo, blobs, _, _ := newService()
	svc.BatchConcurrency = 2
	m := &recordingMetrics{}
	svc.Metrics = m

	out, err := svc.AnalyzeBatch(context.Background(), AnalyzeBatchCommand{
		UserID:  "u-4",
		Consent: true,
		Items: []BatchItem{
			{Name: "a.jpg", Image: []byte("jpeg")},
			{Name: "b.jpg", Image: []byte("bad")},
			{Name: "c.jpg", Image: []byte("jpeg")},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, 3, out.Total)
	assert.Equal(t, 2, out.Successful)
	assert.Equal(t, 1, out.Failed)
	require.Len(t, out.Results, 3)
	for i, r := range out.Results {
		assert.Equal(t, i, r.Index)
	}
	assert.True(t, out.Results[0].OK)
	assert.False(t, out.Results[1].OK)
	assert.Equal(t, "b.jpg", out.Results[1].Name)
	assert.Contains(t, out.Results[1].Error, "invalid image")
	assert.True(t, out.Results[2].OK)

	names := append([]string(nil), blobs.names...)
	sort.Strings(names)
	assert.Equal(t, []string{"1709294400000-u-4-0.jpg", "1709294400000-u-4-2.jpg"}, names)
	assert.Len(t, repo.saved, 2)
	assert.Equal(t, [][2]int{{3, 1}}, m.batches)
}

func TestAnalyzeBatchSurvivesPanickingItem(t *testing.T) {
	svc, repo, _, _, _ := newService()
	svc.Normalizer = explodingNormalizer{}
	m := &recordingMetrics{}
	svc.Metrics = m

	out, err := svc.AnalyzeBatch(context.Background(), AnalyzeBatchCommand{
		UserID:  "u-5",
		Consent: true,
		Items: []BatchItem{
			{Name: "a.jpg", Image: []byte("jpeg")},
			{Name: "b.jpg", Image: []byte("boom")},
			{Name: "c.jpg", Image: []byte("jpeg")},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, 3, out.Total)
	assert.Equal(t, 2, out.Successful)
	assert.Equal(t, 1, out.Failed)
	require.Len(t, out.Results, 3)
	assert.True(t, out.Results[0].OK)
	assert.True(t, out.Results[2].OK)
	assert.False(t, out.Results[1].OK)
	assert.Equal(t, 1, out.Results[1].Index)
	assert.Equal(t, "b.jpg", out.Results[1].Name)
	assert.Equal(t, "panic: decoder exploded", out.Results[1].Error)
	assert.Len(t, repo.saved, 2)
	assert.Equal(t, [][2]int{{3, 1}}, m.batches)
}

func TestAnalyzeBatchEmpty(t *testing.T) {
	svc, _, _, _, _ := newService()
	_, err := svc.AnalyzeBatch(context.Background(), AnalyzeBatchCommand{UserID: "u-4"})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestHistoryPassesFilter(t *testing.T) {
	svc, repo, _, _, _ := newService()

	_, err := svc.History(context.Background(), HistoryQuery{UserID: "u-1", Page: 2, PageSize: 10})
	require.NoError(t, err)
	assert.Equal(t, []domain.HistoryFilter{{UserID: "u-1", Page: 2, PageSize: 10}}, repo.filters)
}
