package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bryanwahyu/dermascan/internal/application"
	appai "github.com/bryanwahyu/dermascan/internal/application/ai"
	appanalysis "github.com/bryanwahyu/dermascan/internal/application/analysis"
	"github.com/bryanwahyu/dermascan/internal/config"
	domain "github.com/bryanwahyu/dermascan/internal/domain/analysis"
	"github.com/bryanwahyu/dermascan/internal/domain/risk"
	"github.com/bryanwahyu/dermascan/internal/infra/fetch"
	"github.com/bryanwahyu/dermascan/internal/infra/httpserver"
	"github.com/bryanwahyu/dermascan/internal/infra/imaging"
	"github.com/bryanwahyu/dermascan/internal/middleware"
	"github.com/bryanwahyu/dermascan/internal/observability/metrics"
	"github.com/bryanwahyu/dermascan/pkg/logging"
)

func main() {
	// .env opsional, untuk development
	_ = godotenv.Load()

	// path config.yaml
	path := "config.yaml"
	if v := os.Getenv("CONFIG_PATH"); v != "" {
		path = v
	}

	// load config
	cfg, err := config.Load(path)
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}

	logger := logging.New(cfg.Log.Level).Logger
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err = run(ctx, cfg, logger)
	stop()
	if err != nil {
		logger.Error("server exited", "error", err)
		os.Exit(1)
	}
}

// run wires the service and blocks until ctx is done or the listener fails.
// Every resource it opens is released before it returns.
func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := context.WithCancel(ctx)
	defer stop()

	// database
	db, repo, err := openDatabase(ctx, cfg)
	if err != nil {
		return fmt.Errorf("database connect (%s): %w", cfg.Database.Driver, err)
	}
	defer db.Close()

	d := &deps{cfg: cfg, logger: logger}
	defer d.Close()

	// blob store
	blobs, uploadsDir, err := d.openBlobStore(ctx)
	if err != nil {
		return fmt.Errorf("storage init (%s): %w", cfg.Storage.Driver, err)
	}

	// metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	// provider chains
	imageAdapters, err := d.classifiers(ctx, cfg.Providers.ImageChain, domain.InputImage)
	if err != nil {
		return fmt.Errorf("image providers: %w", err)
	}
	textAdapters, err := d.classifiers(ctx, cfg.Providers.TextChain, domain.InputText)
	if err != nil {
		return fmt.Errorf("text providers: %w", err)
	}
	imageChain := appai.NewService(logger, m, imageAdapters...).WithTimeout(cfg.Providers.Timeout)
	textChain := appai.NewService(logger, m, textAdapters...).WithTimeout(cfg.Providers.Timeout)
	logger.Info("provider chains ready",
		"image", imageChain.Providers(),
		"text", textChain.Providers(),
	)

	svc := &appanalysis.Service{
		Repo:  repo,
		Blobs: blobs,
		Normalizer: imaging.NewNormalizer(imaging.Options{
			MaxBytes:     cfg.Image.MaxBytes,
			Quality:      cfg.Image.Quality,
			RetryQuality: cfg.Image.RetryQuality,
			MaxDimension: cfg.Image.MaxDimension,
			MaxPixels:    cfg.Image.MaxPixels,
		}, logger),
		ImageChain: imageChain,
		TextChain:  textChain,
		Risk:       risk.Classifier{},
		Downloader: fetch.New(fetch.Config{
			Timeout:  cfg.Image.DownloadTimeout,
			MaxBytes: cfg.Image.DownloadMax,
			Validate: middleware.ValidateURL,
			Logger:   logger,
		}),
		Clock:            application.SystemClock{},
		Logger:           logger,
		Metrics:          m,
		BatchConcurrency: cfg.Batch.Concurrency,
	}

	limiter := middleware.NewRateLimiter(cfg.RateLimit.RequestsPerMinute, cfg.RateLimit.Burst)
	go limiter.Cleanup(ctx, 5*time.Minute, 10*time.Minute)

	handler := httpserver.NewRouter(httpserver.Options{
		Service:        svc,
		Logger:         logger,
		JWTSecret:      []byte(cfg.Auth.JWTSecret),
		JWTIssuer:      cfg.Auth.Issuer,
		AllowedOrigins: cfg.CORS.AllowedOrigins,
		Limiter:        limiter,
		Metrics:        m,
		MetricsHandler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}),
		Checkers: map[string]middleware.HealthChecker{
			"database":        &middleware.DatabaseHealthChecker{DB: db},
			"image_providers": middleware.ProvidersChecker{Providers: imageChain.Providers},
			"text_providers":  middleware.ProvidersChecker{Providers: textChain.Providers},
		},
		UploadsDir:     uploadsDir,
		MaxUploadBytes: cfg.Image.MaxUploadBytes,
		MaxBatchFiles:  cfg.Batch.MaxFiles,
	})

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	// run server
	serveErr := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	// graceful shutdown
	select {
	case err := <-serveErr:
		return fmt.Errorf("listen %s: %w", addr, err)
	case <-ctx.Done():
	}
	logger.Info("shutting down server")

	ctx2, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx2); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
