package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
server:
  port: 9090
database:
  driver: postgres
  host: db
  port: 5432
  user: derma
  password: secret
  name: dermascan
storage:
  driver: minio
  minio:
    endpoint: minio:9000
    bucketName: scans
auth:
  jwtSecret: from-file
providers:
  imageChain: [huggingface, detection]
  timeout: 15s
batch:
  concurrency: 2
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadFromYAML(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, "minio", cfg.Storage.Driver)
	assert.Equal(t, []string{"huggingface", "detection"}, cfg.Providers.ImageChain)
	assert.Equal(t, []string{"openai", "gemini"}, cfg.Providers.TextChain)
	assert.Equal(t, 15*time.Second, cfg.Providers.Timeout)
	assert.Equal(t, 2, cfg.Batch.Concurrency)
	assert.Equal(t, 30*time.Second, cfg.Image.DownloadTimeout)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestEnvOverridesFile(t *testing.T) {
	t.Setenv("JWT_SECRET", "from-env")
	t.Setenv("PORT", "7070")
	t.Setenv("IMAGE_MAX_PIXELS", "1000000")
	t.Setenv("IMAGE_CHAIN", "openai, gemini ,")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example,https://b.example")

	cfg, err := Load(writeConfig(t, sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.Auth.JWTSecret)
	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, 1_000_000, cfg.Image.MaxPixels)
	assert.Equal(t, []string{"openai", "gemini"}, cfg.Providers.ImageChain)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORS.AllowedOrigins)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "s")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "mysql", cfg.Database.Driver)
	assert.Equal(t, "local", cfg.Storage.Driver)
	assert.Equal(t, "uploads", cfg.Storage.Local.Dir)
	assert.Equal(t, 60, cfg.RateLimit.RequestsPerMinute)
	assert.Equal(t, 40_000_000, cfg.Image.MaxPixels)
}

func TestValidate(t *testing.T) {
	t.Setenv("JWT_SECRET", "")

	_, err := Load(writeConfig(t, "database:\n  driver: sqlite\nauth:\n  jwtSecret: x\n"))
	assert.ErrorContains(t, err, "database.driver")

	_, err = Load(writeConfig(t, "storage:\n  driver: s3\nauth:\n  jwtSecret: x\n"))
	assert.ErrorContains(t, err, "storage.s3")

	_, err = Load(writeConfig(t, "server:\n  port: 1\n"))
	assert.ErrorContains(t, err, "JWT_SECRET")
}

func TestLoadRejectsBadYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "server: [unterminated"))
	assert.ErrorContains(t, err, "parse")
}

func TestDSNs(t *testing.T) {
	var cfg Config
	cfg.Database.User = "u"
	cfg.Database.Password = "p@ss"
	cfg.Database.Host = "h"
	cfg.Database.Port = 3306
	cfg.Database.Name = "d"
	cfg.Database.SSLMode = "disable"

	assert.Equal(t, "u:p@ss@tcp(h:3306)/d?parseTime=true&charset=utf8mb4&loc=UTC", cfg.MySQLDSN())
	assert.Equal(t, "postgres://u:p%40ss@h:3306/d?sslmode=disable", cfg.PostgresDSN())
}
