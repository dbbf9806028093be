// Package fetch downloads remote images for classification by URL.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/bryanwahyu/dermascan/internal/domain/analysis"
)

const (
	DefaultTimeout  = 30 * time.Second
	DefaultMaxBytes = 20 << 20
	maxRedirects    = 3
)

// ErrTooLarge is returned when the body exceeds MaxBytes.
var ErrTooLarge = errors.New("remote image exceeds size limit")

type Config struct {
	Timeout  time.Duration
	MaxBytes int64
	// Validate is applied to the initial URL and every redirect target.
	Validate   func(rawURL string) error
	HTTPClient *http.Client
	Logger     *slog.Logger
}

type Downloader struct {
	client   *http.Client
	maxBytes int64
	validate func(string) error
	logger   *slog.Logger
}

func New(cfg Config) *Downloader {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	maxBytes := cfg.MaxBytes
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	validate := cfg.Validate
	if validate == nil {
		validate = func(string) error { return nil }
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		if len(via) >= maxRedirects {
			return fmt.Errorf("stopped after %d redirects", maxRedirects)
		}
		return validate(req.URL.String())
	}

	return &Downloader{client: client, maxBytes: maxBytes, validate: validate, logger: logger}
}

// Fetch returns the body of rawURL. Any failure is reported as invalid image
// input since the caller supplied the URL.
func (d *Downloader) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	if err := d.validate(rawURL); err != nil {
		return nil, fmt.Errorf("%w: %v", analysis.ErrInvalidInput, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", analysis.ErrInvalidInput, err)
	}
	req.Header.Set("Accept", "image/*")

	start := time.Now()
	resp, err := d.client.Do(req)
	if err != nil {
		return nil, &analysis.InvalidImageError{Cause: fmt.Errorf("download: %w", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &analysis.InvalidImageError{Cause: fmt.Errorf("download: unexpected status %d", resp.StatusCode)}
	}
	if resp.ContentLength > d.maxBytes {
		return nil, &analysis.InvalidImageError{Cause: ErrTooLarge}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, d.maxBytes+1))
	if err != nil {
		return nil, &analysis.InvalidImageError{Cause: fmt.Errorf("download: %w", err)}
	}
	if int64(len(data)) > d.maxBytes {
		return nil, &analysis.InvalidImageError{Cause: ErrTooLarge}
	}

	d.logger.Debug("remote image downloaded",
		"bytes", len(data),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return data, nil
}
