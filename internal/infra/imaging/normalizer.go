package imaging

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"log/slog"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"

	"github.com/bryanwahyu/dermascan/internal/domain/analysis"
)

const (
	DefaultMaxBytes     = 5 << 20
	DefaultQuality      = 80
	DefaultRetryQuality = 70
	DefaultMaxPixels    = 40_000_000
)

// Options for Normalizer. Zero fields fall back to the defaults.
type Options struct {
	MaxBytes     int
	Quality      int
	RetryQuality int
	// MaxDimension caps the longest edge in pixels; 0 disables resizing.
	MaxDimension int
	// MaxPixels rejects images whose header declares more pixels, before decoding.
	MaxPixels int
}

// Normalizer re-encodes uploads as JPEG within a byte budget.
type Normalizer struct {
	opts   Options
	logger *slog.Logger
}

func NewNormalizer(opts Options, logger *slog.Logger) *Normalizer {
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = DefaultMaxBytes
	}
	if opts.Quality <= 0 {
		opts.Quality = DefaultQuality
	}
	if opts.RetryQuality <= 0 {
		opts.RetryQuality = DefaultRetryQuality
	}
	if opts.MaxPixels <= 0 {
		opts.MaxPixels = DefaultMaxPixels
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Normalizer{opts: opts, logger: logger}
}

// Normalize encodes at Quality and, if still above MaxBytes, re-encodes the
// compressed buffer once at RetryQuality. The retry is not a search, so the
// result can remain above MaxBytes for extreme inputs.
func (n *Normalizer) Normalize(data []byte) (analysis.NormalizedImage, error) {
	if len(data) == 0 {
		return analysis.NormalizedImage{}, &analysis.InvalidImageError{Cause: fmt.Errorf("empty buffer")}
	}
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return analysis.NormalizedImage{}, &analysis.InvalidImageError{Cause: err}
	}
	if px := int64(cfg.Width) * int64(cfg.Height); px > int64(n.opts.MaxPixels) {
		return analysis.NormalizedImage{}, &analysis.InvalidImageError{
			Cause: fmt.Errorf("%dx%d exceeds %d pixels", cfg.Width, cfg.Height, n.opts.MaxPixels),
		}
	}
	if format == "jpeg" && len(data) <= n.opts.MaxBytes && n.withinDimension(cfg.Width, cfg.Height) {
		// Fully decode anyway so truncated JPEGs are rejected here, not by a provider.
		if _, _, err := image.Decode(bytes.NewReader(data)); err != nil {
			return analysis.NormalizedImage{}, &analysis.InvalidImageError{Cause: err}
		}
		return analysis.NormalizedImage{Data: data, MIMEType: "image/jpeg", Width: cfg.Width, Height: cfg.Height}, nil
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return analysis.NormalizedImage{}, &analysis.InvalidImageError{Cause: err}
	}
	if format == "jpeg" {
		if o := Orientation(data); o != 1 {
			img = Orient(img, o)
		}
	}
	img = n.fit(img)

	out, err := encode(img, n.opts.Quality)
	if err != nil {
		return analysis.NormalizedImage{}, &analysis.InvalidImageError{Cause: err}
	}
	quality := n.opts.Quality
	if len(out) > n.opts.MaxBytes {
		second, _, err := image.Decode(bytes.NewReader(out))
		if err != nil {
			return analysis.NormalizedImage{}, &analysis.InvalidImageError{Cause: err}
		}
		if out, err = encode(second, n.opts.RetryQuality); err != nil {
			return analysis.NormalizedImage{}, &analysis.InvalidImageError{Cause: err}
		}
		quality = n.opts.RetryQuality
		if len(out) > n.opts.MaxBytes {
			n.logger.Warn("image still above size limit after retry",
				"bytes", len(out),
				"max_bytes", n.opts.MaxBytes,
			)
		}
	}

	b := img.Bounds()
	n.logger.Debug("image normalized",
		"format", format,
		"in_bytes", len(data),
		"out_bytes", len(out),
		"quality", quality,
		"width", b.Dx(),
		"height", b.Dy(),
	)
	return analysis.NormalizedImage{Data: out, MIMEType: "image/jpeg", Width: b.Dx(), Height: b.Dy()}, nil
}

func (n *Normalizer) withinDimension(w, h int) bool {
	return n.opts.MaxDimension <= 0 || (w <= n.opts.MaxDimension && h <= n.opts.MaxDimension)
}

// fit scales img down so its longest edge equals MaxDimension, keeping aspect ratio.
func (n *Normalizer) fit(img image.Image) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if n.withinDimension(w, h) {
		return img
	}
	scale := float64(n.opts.MaxDimension) / float64(w)
	if s := float64(n.opts.MaxDimension) / float64(h); s < scale {
		scale = s
	}
	nw, nh := int(float64(w)*scale), int(float64(h)*scale)
	if nw < 1 {
		nw = 1
	}
	if nh < 1 {
		nh = 1
	}
	dst := image.NewRGBA(image.Rect(0, 0, nw, nh))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, b, draw.Over, nil)
	return dst
}

func encode(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}
