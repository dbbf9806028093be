package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	appanalysis "github.com/bryanwahyu/dermascan/internal/application/analysis"
	domai "github.com/bryanwahyu/dermascan/internal/domain/ai"
	domain "github.com/bryanwahyu/dermascan/internal/domain/analysis"
	"github.com/bryanwahyu/dermascan/internal/middleware"
)

const (
	defaultMaxUpload = 20 << 20
	defaultMaxBatch  = 10
)

// Analyzer is the use-case surface the router needs (application/analysis.Service).
type Analyzer interface {
	AnalyzeImage(ctx context.Context, cmd appanalysis.AnalyzeImageCommand) (appanalysis.Result, error)
	AnalyzeText(ctx context.Context, cmd appanalysis.AnalyzeTextCommand) (appanalysis.Result, error)
	AnalyzeURL(ctx context.Context, cmd appanalysis.AnalyzeURLCommand) (appanalysis.Result, error)
	AnalyzeBatch(ctx context.Context, cmd appanalysis.AnalyzeBatchCommand) (appanalysis.BatchResult, error)
	History(ctx context.Context, q appanalysis.HistoryQuery) ([]*domain.Record, error)
}

type Options struct {
	Service Analyzer
	Logger  *slog.Logger

	JWTSecret []byte
	JWTIssuer string

	AllowedOrigins []string
	Limiter        *middleware.RateLimiter
	Metrics        middleware.RequestObserver
	MetricsHandler http.Handler
	Checkers       map[string]middleware.HealthChecker

	// UploadsDir is served under /uploads/ when set (local blob store).
	UploadsDir     string
	MaxUploadBytes int64
	MaxBatchFiles  int
}

type Router struct {
	svc       Analyzer
	logger    *slog.Logger
	maxUpload int64
	maxBatch  int
}

func NewRouter(opts Options) http.Handler {
	r := &Router{
		svc:       opts.Service,
		logger:    opts.Logger,
		maxUpload: opts.MaxUploadBytes,
		maxBatch:  opts.MaxBatchFiles,
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	if r.maxUpload <= 0 {
		r.maxUpload = defaultMaxUpload
	}
	if r.maxBatch <= 0 {
		r.maxBatch = defaultMaxBatch
	}

	mux := chi.NewRouter()
	mux.Use(chimw.RequestID)
	mux.Use(chimw.Recoverer)
	mux.Use(middleware.Metrics(opts.Metrics))
	mux.Use(middleware.Logging(r.logger))
	if len(opts.AllowedOrigins) > 0 {
		mux.Use(cors.Handler(cors.Options{
			AllowedOrigins:   opts.AllowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"Authorization", "Content-Type"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}

	mux.Get("/health", middleware.HealthHandler(opts.Checkers))
	mux.Get("/ready", middleware.ReadinessHandler(opts.Checkers))
	mux.Get("/live", middleware.LivenessHandler)
	if opts.MetricsHandler != nil {
		mux.Handle("/metrics", opts.MetricsHandler)
	}
	if opts.UploadsDir != "" {
		mux.Handle("/uploads/*", http.StripPrefix("/uploads/", http.FileServer(http.Dir(opts.UploadsDir))))
	}

	mux.Route("/v1", func(rt chi.Router) {
		rt.Use(middleware.JWTAuth(opts.JWTSecret, opts.JWTIssuer))
		if opts.Limiter != nil {
			rt.Use(middleware.RateLimit(opts.Limiter))
		}
		rt.Post("/analyses/image", r.wrap(r.handleAnalyzeImage))
		rt.Post("/analyses/text", r.wrap(r.handleAnalyzeText))
		rt.Post("/analyses/url", r.wrap(r.handleAnalyzeURL))
		rt.Post("/analyses/batch", r.wrap(r.handleAnalyzeBatch))
		rt.Get("/analyses", r.wrap(r.handleHistory))
	})

	return mux
}

type handlerFunc func(http.ResponseWriter, *http.Request) error

func (r *Router) wrap(h handlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if err := h(w, req); err != nil {
			status := statusFor(err)
			if status >= 500 {
				r.logger.Error("request failed", "path", req.URL.Path, "status", status, "error", err)
			}
			writeJSON(w, status, map[string]string{"error": err.Error()})
		}
	}
}

func statusFor(err error) int {
	var maxBytes *http.MaxBytesError
	switch {
	case errors.Is(err, domain.ErrInvalidImage), errors.Is(err, domain.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.As(err, &maxBytes):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, domai.ErrAllProvidersFailed):
		return http.StatusBadGateway
	case errors.Is(err, domai.ErrQuotaExceeded):
		return http.StatusTooManyRequests
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func badRequest(err error) error {
	return fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
}

func writeJSON(w http.ResponseWriter, status int, v any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(v)
}

// POST /v1/analyses/image
// Multipart: file, symptoms, consent
func (r *Router) handleAnalyzeImage(w http.ResponseWriter, req *http.Request) error {
	req.Body = http.MaxBytesReader(w, req.Body, r.maxUpload)
	if err := req.ParseMultipartForm(r.maxUpload); err != nil {
		return r.formError(err)
	}
	file, _, err := req.FormFile("file")
	if err != nil {
		return badRequest(errors.New("file is required"))
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		return err
	}

	symptoms, consent, err := symptomsAndConsent(req)
	if err != nil {
		return err
	}

	res, err := r.svc.AnalyzeImage(req.Context(), appanalysis.AnalyzeImageCommand{
		UserID:   middleware.UserIDFromContext(req.Context()),
		Image:    data,
		Symptoms: symptoms,
		Consent:  consent,
	})
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, res)
}

// POST /v1/analyses/text
// Body: {"prompt": "...", "consent": true}
func (r *Router) handleAnalyzeText(w http.ResponseWriter, req *http.Request) error {
	var body struct {
		Prompt  string `json:"prompt"`
		Consent bool   `json:"consent"`
	}
	if err := decodeJSON(w, req, &body); err != nil {
		return err
	}
	prompt := middleware.SanitizeString(body.Prompt)
	if err := middleware.ValidatePrompt(prompt); err != nil {
		return badRequest(err)
	}

	res, err := r.svc.AnalyzeText(req.Context(), appanalysis.AnalyzeTextCommand{
		UserID:  middleware.UserIDFromContext(req.Context()),
		Prompt:  prompt,
		Consent: body.Consent,
	})
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, res)
}

// POST /v1/analyses/url
// Body: {"image_url": "https://...", "symptoms": "...", "consent": true}
func (r *Router) handleAnalyzeURL(w http.ResponseWriter, req *http.Request) error {
	var body struct {
		ImageURL string `json:"image_url"`
		Symptoms string `json:"symptoms"`
		Consent  bool   `json:"consent"`
	}
	if err := decodeJSON(w, req, &body); err != nil {
		return err
	}
	if err := middleware.ValidateURL(body.ImageURL); err != nil {
		return badRequest(err)
	}
	symptoms := middleware.SanitizeString(body.Symptoms)
	if err := middleware.ValidateSymptoms(symptoms); err != nil {
		return badRequest(err)
	}

	res, err := r.svc.AnalyzeURL(req.Context(), appanalysis.AnalyzeURLCommand{
		UserID:   middleware.UserIDFromContext(req.Context()),
		ImageURL: body.ImageURL,
		Symptoms: symptoms,
		Consent:  body.Consent,
	})
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, res)
}

// POST /v1/analyses/batch
// Multipart: files (repeated), symptoms, consent
func (r *Router) handleAnalyzeBatch(w http.ResponseWriter, req *http.Request) error {
	limit := r.maxUpload * int64(r.maxBatch)
	req.Body = http.MaxBytesReader(w, req.Body, limit)
	if err := req.ParseMultipartForm(r.maxUpload); err != nil {
		return r.formError(err)
	}
	headers := append(req.MultipartForm.File["files"], req.MultipartForm.File["files[]"]...)
	if len(headers) == 0 {
		return badRequest(errors.New("at least one file is required"))
	}
	if len(headers) > r.maxBatch {
		return badRequest(fmt.Errorf("too many files (max %d)", r.maxBatch))
	}

	symptoms, consent, err := symptomsAndConsent(req)
	if err != nil {
		return err
	}

	items := make([]appanalysis.BatchItem, 0, len(headers))
	for _, fh := range headers {
		data, err := readPart(fh)
		if err != nil {
			return err
		}
		items = append(items, appanalysis.BatchItem{Name: fh.Filename, Image: data, Symptoms: symptoms})
	}

	out, err := r.svc.AnalyzeBatch(req.Context(), appanalysis.AnalyzeBatchCommand{
		UserID:  middleware.UserIDFromContext(req.Context()),
		Items:   items,
		Consent: consent,
	})
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, out)
}

// GET /v1/analyses?page=&page_size=&mine=
func (r *Router) handleHistory(w http.ResponseWriter, req *http.Request) error {
	q := req.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	size, _ := strconv.Atoi(q.Get("page_size"))
	mine, err := middleware.ParseConsent(q.Get("mine"))
	if err != nil {
		return badRequest(fmt.Errorf("invalid mine value: %q", q.Get("mine")))
	}

	hq := appanalysis.HistoryQuery{
		Page:     middleware.ValidatePage(page),
		PageSize: middleware.ValidateLimit(size),
	}
	if mine {
		hq.UserID = middleware.UserIDFromContext(req.Context())
	}
	list, err := r.svc.History(req.Context(), hq)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, map[string]any{
		"page":      hq.Page,
		"page_size": hq.PageSize,
		"items":     list,
	})
}

func (r *Router) formError(err error) error {
	var maxBytes *http.MaxBytesError
	if errors.As(err, &maxBytes) {
		return err
	}
	return badRequest(fmt.Errorf("invalid multipart form: %v", err))
}

func symptomsAndConsent(req *http.Request) (string, bool, error) {
	symptoms := middleware.SanitizeString(req.FormValue("symptoms"))
	if err := middleware.ValidateSymptoms(symptoms); err != nil {
		return "", false, badRequest(err)
	}
	consent, err := middleware.ParseConsent(req.FormValue("consent"))
	if err != nil {
		return "", false, badRequest(err)
	}
	return symptoms, consent, nil
}

func readPart(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", fh.Filename, err)
	}
	defer f.Close()
	return io.ReadAll(f)
}

func decodeJSON(w http.ResponseWriter, req *http.Request, v any) error {
	req.Body = http.MaxBytesReader(w, req.Body, 1<<20)
	dec := json.NewDecoder(req.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var maxBytes *http.MaxBytesError
		if errors.As(err, &maxBytes) {
			return err
		}
		return badRequest(fmt.Errorf("invalid JSON body: %v", strings.TrimPrefix(err.Error(), "json: ")))
	}
	return nil
}
