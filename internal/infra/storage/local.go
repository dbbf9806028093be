package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"mime"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// ErrInvalidName rejects blob names that are not a single path element.
var ErrInvalidName = errors.New("storage: invalid blob name")

// LocalStore writes images under a directory served at /uploads/.
type LocalStore struct {
	dir    string
	prefix string
	logger *slog.Logger
}

// NewLocal creates dir if needed. Write returns paths relative to the server root,
// e.g. "uploads/1700000000000-user.jpg".
func NewLocal(dir, urlPrefix string, logger *slog.Logger) (*LocalStore, error) {
	if dir == "" {
		dir = "uploads"
	}
	if urlPrefix == "" {
		urlPrefix = "uploads"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("storage: create upload dir: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &LocalStore{dir: dir, prefix: strings.Trim(urlPrefix, "/"), logger: logger}, nil
}

func (s *LocalStore) Dir() string { return s.dir }

func (s *LocalStore) Write(ctx context.Context, data []byte, filename string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := checkName(filename); err != nil {
		return "", err
	}

	// write to a temp file first so a reader never sees a partial image
	tmp, err := os.CreateTemp(s.dir, ".upload-*")
	if err != nil {
		return "", fmt.Errorf("storage: create temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("storage: write %s: %w", filename, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("storage: close %s: %w", filename, err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(s.dir, filename)); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("storage: rename %s: %w", filename, err)
	}

	s.logger.Debug("image stored", "backend", "local", "file", filename, "bytes", len(data))
	return path.Join(s.prefix, filename), nil
}

// Delete removes filename from the upload directory; a missing file is ignored.
func (s *LocalStore) Delete(ctx context.Context, filename string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := checkName(filename); err != nil {
		return err
	}
	if err := os.Remove(filepath.Join(s.dir, filename)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("storage: remove %s: %w", filename, err)
	}
	s.logger.Debug("image removed", "backend", "local", "file", filename)
	return nil
}

func checkName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

func contentType(name string) string {
	if ct := mime.TypeByExtension(filepath.Ext(name)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
