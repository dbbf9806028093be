package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Port            int           `yaml:"port"`
		ReadTimeout     time.Duration `yaml:"readTimeout"`
		WriteTimeout    time.Duration `yaml:"writeTimeout"`
		ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
	} `yaml:"server"`

	Log struct {
		Level string `yaml:"level"`
	} `yaml:"log"`

	Database struct {
		Driver   string `yaml:"driver"` // mysql | postgres
		Host     string `yaml:"host"`
		Port     int    `yaml:"port"`
		User     string `yaml:"user"`
		Password string `yaml:"password"`
		Name     string `yaml:"name"`
		SSLMode  string `yaml:"sslMode"`
		Migrate  bool   `yaml:"migrate"`
	} `yaml:"database"`

	Storage struct {
		Driver string `yaml:"driver"` // local | minio | s3
		Local  struct {
			Dir       string `yaml:"dir"`
			URLPrefix string `yaml:"urlPrefix"`
		} `yaml:"local"`
		Minio struct {
			Endpoint   string `yaml:"endpoint"`
			AccessKey  string `yaml:"accessKey"`
			SecretKey  string `yaml:"secretKey"`
			BucketName string `yaml:"bucketName"`
			Region     string `yaml:"region"`
			UseSSL     bool   `yaml:"useSSL"`
			Prefix     string `yaml:"prefix"`
		} `yaml:"minio"`
		S3 struct {
			Bucket        string `yaml:"bucket"`
			Prefix        string `yaml:"prefix"`
			Endpoint      string `yaml:"endpoint"`
			PublicBaseURL string `yaml:"publicBaseURL"`
		} `yaml:"s3"`
	} `yaml:"storage"`

	AWS struct {
		Region          string `yaml:"region"`
		AccessKeyID     string `yaml:"accessKeyId"`
		SecretAccessKey string `yaml:"secretAccessKey"`
		SessionToken    string `yaml:"sessionToken"`
	} `yaml:"aws"`

	Auth struct {
		JWTSecret string `yaml:"jwtSecret"`
		Issuer    string `yaml:"issuer"`
	} `yaml:"auth"`

	Image struct {
		MaxBytes        int           `yaml:"maxBytes"`
		Quality         int           `yaml:"quality"`
		RetryQuality    int           `yaml:"retryQuality"`
		MaxDimension    int           `yaml:"maxDimension"`
		MaxPixels       int           `yaml:"maxPixels"`
		MaxUploadBytes  int64         `yaml:"maxUploadBytes"`
		DownloadTimeout time.Duration `yaml:"downloadTimeout"`
		DownloadMax     int64         `yaml:"downloadMaxBytes"`
	} `yaml:"image"`

	Providers struct {
		ImageChain []string      `yaml:"imageChain"`
		TextChain  []string      `yaml:"textChain"`
		Timeout    time.Duration `yaml:"timeout"`

		Detection struct {
			URL    string `yaml:"url"`
			APIKey string `yaml:"apiKey"`
		} `yaml:"detection"`
		OpenAI struct {
			APIKey      string `yaml:"apiKey"`
			BaseURL     string `yaml:"baseURL"`
			VisionModel string `yaml:"visionModel"`
			TextModel   string `yaml:"textModel"`
		} `yaml:"openai"`
		Gemini struct {
			APIKey string `yaml:"apiKey"`
			Model  string `yaml:"model"`
		} `yaml:"gemini"`
		Bedrock struct {
			ModelID string `yaml:"modelId"`
		} `yaml:"bedrock"`
		HuggingFace struct {
			APIKey      string `yaml:"apiKey"`
			EndpointURL string `yaml:"endpointURL"`
			Model       string `yaml:"model"`
			TopN        int    `yaml:"topN"`
		} `yaml:"huggingface"`
	} `yaml:"providers"`

	Batch struct {
		Concurrency int `yaml:"concurrency"`
		MaxFiles    int `yaml:"maxFiles"`
	} `yaml:"batch"`

	RateLimit struct {
		RequestsPerMinute int `yaml:"requestsPerMinute"`
		Burst             int `yaml:"burst"`
	} `yaml:"ratelimit"`

	CORS struct {
		AllowedOrigins []string `yaml:"allowedOrigins"`
	} `yaml:"cors"`
}

// Load baca file config.yaml, lalu override dari env.
// A missing file is not an error: defaults plus env are enough to boot.
func Load(path string) (*Config, error) {
	var cfg Config
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, err
	}
	cfg.applyEnv()
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnv lets secrets and deploy-specific values come from the environment
func (c *Config) applyEnv() {
	c.Server.Port = getEnvAsInt("PORT", c.Server.Port)
	c.Log.Level = getEnv("LOG_LEVEL", c.Log.Level)

	c.Database.Driver = getEnv("DB_DRIVER", c.Database.Driver)
	c.Database.Host = getEnv("DB_HOST", c.Database.Host)
	c.Database.Port = getEnvAsInt("DB_PORT", c.Database.Port)
	c.Database.User = getEnv("DB_USER", c.Database.User)
	c.Database.Password = getEnv("DB_PASSWORD", c.Database.Password)
	c.Database.Name = getEnv("DB_NAME", c.Database.Name)
	c.Database.Migrate = getEnvAsBool("DB_MIGRATE", c.Database.Migrate)

	c.Storage.Driver = getEnv("STORAGE_DRIVER", c.Storage.Driver)
	c.Storage.Minio.AccessKey = getEnv("MINIO_ACCESS_KEY", c.Storage.Minio.AccessKey)
	c.Storage.Minio.SecretKey = getEnv("MINIO_SECRET_KEY", c.Storage.Minio.SecretKey)
	c.Storage.S3.Bucket = getEnv("S3_BUCKET", c.Storage.S3.Bucket)

	c.AWS.Region = getEnv("AWS_REGION", c.AWS.Region)
	c.AWS.AccessKeyID = getEnv("AWS_ACCESS_KEY_ID", c.AWS.AccessKeyID)
	c.AWS.SecretAccessKey = getEnv("AWS_SECRET_ACCESS_KEY", c.AWS.SecretAccessKey)
	c.AWS.SessionToken = getEnv("AWS_SESSION_TOKEN", c.AWS.SessionToken)

	c.Auth.JWTSecret = getEnv("JWT_SECRET", c.Auth.JWTSecret)

	c.Image.MaxPixels = getEnvAsInt("IMAGE_MAX_PIXELS", c.Image.MaxPixels)

	p := &c.Providers
	p.Detection.URL = getEnv("DETECTION_URL", p.Detection.URL)
	p.Detection.APIKey = getEnv("DETECTION_API_KEY", p.Detection.APIKey)
	p.OpenAI.APIKey = getEnv("OPENAI_API_KEY", p.OpenAI.APIKey)
	p.Gemini.APIKey = getEnv("GEMINI_API_KEY", p.Gemini.APIKey)
	p.Bedrock.ModelID = getEnv("BEDROCK_MODEL_ID", p.Bedrock.ModelID)
	p.HuggingFace.APIKey = getEnv("HUGGINGFACE_API_KEY", p.HuggingFace.APIKey)
	p.HuggingFace.EndpointURL = getEnv("HUGGINGFACE_ENDPOINT_URL", p.HuggingFace.EndpointURL)
	if v := getEnv("IMAGE_CHAIN", ""); v != "" {
		p.ImageChain = splitList(v)
	}
	if v := getEnv("TEXT_CHAIN", ""); v != "" {
		p.TextChain = splitList(v)
	}
	if v := getEnv("CORS_ALLOWED_ORIGINS", ""); v != "" {
		c.CORS.AllowedOrigins = splitList(v)
	}
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 30 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 120 * time.Second
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 10 * time.Second
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "mysql"
	}
	if c.Database.SSLMode == "" {
		c.Database.SSLMode = "disable"
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = "local"
	}
	if c.Storage.Local.Dir == "" {
		c.Storage.Local.Dir = "uploads"
	}
	if c.Image.MaxUploadBytes == 0 {
		c.Image.MaxUploadBytes = 20 << 20
	}
	if c.Image.MaxPixels <= 0 {
		c.Image.MaxPixels = 40_000_000
	}
	if c.Image.DownloadTimeout == 0 {
		c.Image.DownloadTimeout = 30 * time.Second
	}
	if c.Providers.Timeout == 0 {
		c.Providers.Timeout = 60 * time.Second
	}
	if len(c.Providers.ImageChain) == 0 {
		c.Providers.ImageChain = []string{"detection", "openai", "gemini", "bedrock", "huggingface"}
	}
	if len(c.Providers.TextChain) == 0 {
		c.Providers.TextChain = []string{"openai", "gemini"}
	}
	if c.Batch.Concurrency <= 0 {
		c.Batch.Concurrency = 4
	}
	if c.Batch.MaxFiles <= 0 {
		c.Batch.MaxFiles = 10
	}
	if c.RateLimit.RequestsPerMinute <= 0 {
		c.RateLimit.RequestsPerMinute = 60
	}
	if c.RateLimit.Burst <= 0 {
		c.RateLimit.Burst = c.RateLimit.RequestsPerMinute
	}
}

// Validate checks values that cannot be defaulted
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "mysql", "postgres":
	default:
		return fmt.Errorf("database.driver must be mysql or postgres, got %q", c.Database.Driver)
	}
	switch c.Storage.Driver {
	case "local":
	case "minio":
		if c.Storage.Minio.Endpoint == "" || c.Storage.Minio.BucketName == "" {
			return errors.New("storage.minio requires endpoint and bucketName")
		}
	case "s3":
		if c.Storage.S3.Bucket == "" {
			return errors.New("storage.s3 requires bucket")
		}
	default:
		return fmt.Errorf("storage.driver must be local, minio or s3, got %q", c.Storage.Driver)
	}
	if strings.TrimSpace(c.Auth.JWTSecret) == "" {
		return errors.New("auth.jwtSecret (JWT_SECRET) is required")
	}
	return nil
}

// Helper untuk build DSN MySQL
func (c *Config) MySQLDSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&charset=utf8mb4&loc=UTC",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Name,
	)
}

// PostgresDSN builds a lib/pq URL DSN
func (c *Config) PostgresDSN() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.Database.User, c.Database.Password),
		Host:     fmt.Sprintf("%s:%d", c.Database.Host, c.Database.Port),
		Path:     c.Database.Name,
		RawQuery: "sslmode=" + url.QueryEscape(c.Database.SSLMode),
	}
	return u.String()
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value, err := strconv.Atoi(getEnv(key, "")); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value, err := strconv.ParseBool(getEnv(key, "")); err == nil {
		return value
	}
	return defaultValue
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
