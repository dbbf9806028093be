package main

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/google/generative-ai-go/genai"

	"github.com/bryanwahyu/dermascan/internal/config"
	domai "github.com/bryanwahyu/dermascan/internal/domain/ai"
	domain "github.com/bryanwahyu/dermascan/internal/domain/analysis"
	"github.com/bryanwahyu/dermascan/internal/infra/ai/bedrock"
	"github.com/bryanwahyu/dermascan/internal/infra/ai/detection"
	"github.com/bryanwahyu/dermascan/internal/infra/ai/gemini"
	"github.com/bryanwahyu/dermascan/internal/infra/ai/huggingface"
	openaiclient "github.com/bryanwahyu/dermascan/internal/infra/ai/openai"
	"github.com/bryanwahyu/dermascan/internal/infra/awsconf"
	mysqlp "github.com/bryanwahyu/dermascan/internal/infra/db/mysql"
	pgp "github.com/bryanwahyu/dermascan/internal/infra/db/postgres"
	"github.com/bryanwahyu/dermascan/internal/infra/storage"
)

// deps holds lazily-created shared clients so each is built at most once.
type deps struct {
	cfg    *config.Config
	logger *slog.Logger

	awsOnce sync.Once
	awsCfg  aws.Config
	awsErr  error

	geminiOnce   sync.Once
	geminiClient *genai.Client
	geminiErr    error

	closers []io.Closer
}

func (d *deps) awsConfig(ctx context.Context) (aws.Config, error) {
	d.awsOnce.Do(func() {
		d.awsCfg, d.awsErr = awsconf.Load(ctx, awsconf.Options{
			Region:          d.cfg.AWS.Region,
			AccessKeyID:     d.cfg.AWS.AccessKeyID,
			SecretAccessKey: d.cfg.AWS.SecretAccessKey,
			SessionToken:    d.cfg.AWS.SessionToken,
		})
	})
	return d.awsCfg, d.awsErr
}

func (d *deps) gemini(ctx context.Context) (*genai.Client, error) {
	d.geminiOnce.Do(func() {
		d.geminiClient, d.geminiErr = gemini.Dial(ctx, d.cfg.Providers.Gemini.APIKey)
		if d.geminiErr == nil {
			d.closers = append(d.closers, d.geminiClient)
		}
	})
	return d.geminiClient, d.geminiErr
}

func (d *deps) Close() {
	for _, c := range d.closers {
		_ = c.Close()
	}
}

// openDatabase is swapped in tests.
var openDatabase = connectDatabase

// connectDatabase connects with the configured driver and returns its repository.
func connectDatabase(ctx context.Context, cfg *config.Config) (*sql.DB, domain.Repository, error) {
	switch cfg.Database.Driver {
	case "postgres":
		db, err := pgp.Connect(ctx, cfg.PostgresDSN())
		if err != nil {
			return nil, nil, err
		}
		if cfg.Database.Migrate {
			if err := pgp.Migrate(ctx, db); err != nil {
				db.Close()
				return nil, nil, err
			}
		}
		return db, pgp.NewAnalysisRepository(db), nil
	default:
		db, err := mysqlp.Connect(ctx, cfg.MySQLDSN())
		if err != nil {
			return nil, nil, err
		}
		if cfg.Database.Migrate {
			if err := mysqlp.Migrate(ctx, db); err != nil {
				db.Close()
				return nil, nil, err
			}
		}
		return db, mysqlp.NewAnalysisRepository(db), nil
	}
}

// openBlobStore returns the store plus the local directory to serve, if any.
func (d *deps) openBlobStore(ctx context.Context) (domain.BlobStore, string, error) {
	sc := d.cfg.Storage
	switch sc.Driver {
	case "minio":
		store, err := storage.NewMinio(ctx, storage.MinioConfig{
			Endpoint:  sc.Minio.Endpoint,
			Region:    sc.Minio.Region,
			Bucket:    sc.Minio.BucketName,
			AccessKey: sc.Minio.AccessKey,
			SecretKey: sc.Minio.SecretKey,
			UseSSL:    sc.Minio.UseSSL,
			Prefix:    sc.Minio.Prefix,
		}, d.logger)
		return store, "", err
	case "s3":
		awsCfg, err := d.awsConfig(ctx)
		if err != nil {
			return nil, "", err
		}
		store := storage.NewS3Store(storage.NewS3Client(awsCfg, sc.S3.Endpoint), storage.S3Config{
			Bucket:        sc.S3.Bucket,
			Prefix:        sc.S3.Prefix,
			Endpoint:      sc.S3.Endpoint,
			PublicBaseURL: sc.S3.PublicBaseURL,
		}, d.logger)
		return store, "", nil
	default:
		store, err := storage.NewLocal(sc.Local.Dir, sc.Local.URLPrefix, d.logger)
		if err != nil {
			return nil, "", err
		}
		return store, store.Dir(), nil
	}
}

// classifiers builds the adapters named in order for one input kind.
// Adapters without credentials are skipped with a warning.
func (d *deps) classifiers(ctx context.Context, order []string, kind domain.InputKind) ([]domai.Classifier, error) {
	p := d.cfg.Providers
	var out []domai.Classifier
	skip := func(name, why string) {
		d.logger.Warn("provider disabled", "provider", name, "kind", kind, "reason", why)
	}

	for _, name := range order {
		name = strings.ToLower(strings.TrimSpace(name))
		switch name {
		case "detection":
			if kind != domain.InputImage {
				continue
			}
			if p.Detection.URL == "" {
				skip(name, "no url")
				continue
			}
			c, err := detection.New(detection.Config{
				URL:     p.Detection.URL,
				APIKey:  p.Detection.APIKey,
				Timeout: p.Timeout,
				Logger:  d.logger,
			})
			if err != nil {
				return nil, err
			}
			out = append(out, c)
		case "openai":
			if p.OpenAI.APIKey == "" {
				skip(name, "no api key")
				continue
			}
			oc := openaiclient.Config{
				APIKey:      p.OpenAI.APIKey,
				BaseURL:     p.OpenAI.BaseURL,
				VisionModel: p.OpenAI.VisionModel,
				TextModel:   p.OpenAI.TextModel,
			}
			if kind == domain.InputImage {
				out = append(out, openaiclient.NewVisionClient(oc, d.logger))
			} else {
				out = append(out, openaiclient.NewTextClient(oc, d.logger))
			}
		case "gemini":
			if p.Gemini.APIKey == "" {
				skip(name, "no api key")
				continue
			}
			client, err := d.gemini(ctx)
			if err != nil {
				return nil, err
			}
			if kind == domain.InputImage {
				out = append(out, gemini.NewVision(client, p.Gemini.Model, d.logger))
			} else {
				out = append(out, gemini.NewText(client, p.Gemini.Model, d.logger))
			}
		case "bedrock":
			if kind != domain.InputImage {
				continue
			}
			if d.cfg.AWS.Region == "" {
				skip(name, "no aws region")
				continue
			}
			awsCfg, err := d.awsConfig(ctx)
			if err != nil {
				return nil, err
			}
			out = append(out, bedrock.NewFromConfig(awsCfg, p.Bedrock.ModelID, d.logger))
		case "huggingface":
			if kind != domain.InputImage {
				continue
			}
			if p.HuggingFace.APIKey == "" {
				skip(name, "no api key")
				continue
			}
			out = append(out, huggingface.New(huggingface.Config{
				APIKey:      p.HuggingFace.APIKey,
				EndpointURL: p.HuggingFace.EndpointURL,
				Model:       p.HuggingFace.Model,
				TopN:        p.HuggingFace.TopN,
				Timeout:     p.Timeout,
				Logger:      d.logger,
			}))
		default:
			return nil, fmt.Errorf("unknown provider %q", name)
		}
	}
	return out, nil
}
