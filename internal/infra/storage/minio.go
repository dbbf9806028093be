package storage

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"path"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

type MinioConfig struct {
	Endpoint  string
	Region    string
	Bucket    string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Prefix    string
}

// MinioStore writes analysis images to a MinIO bucket.
type MinioStore struct {
	client     *minio.Client
	bucketName string
	prefix     string
	logger     *slog.Logger
}

// NewMinio buat koneksi MinIO
func NewMinio(ctx context.Context, cfg MinioConfig, logger *slog.Logger) (*MinioStore, error) {
	cli, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("storage: minio client: %w", err)
	}

	// pastikan bucket ada
	exists, err := cli.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("storage: check bucket %s: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := cli.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{Region: cfg.Region}); err != nil {
			return nil, fmt.Errorf("storage: create bucket %s: %w", cfg.Bucket, err)
		}
	}

	if logger == nil {
		logger = slog.Default()
	}
	return &MinioStore{client: cli, bucketName: cfg.Bucket, prefix: cfg.Prefix, logger: logger}, nil
}

// Write uploads data under prefix/filename and returns its object URL.
func (s *MinioStore) Write(ctx context.Context, data []byte, filename string) (string, error) {
	if err := checkName(filename); err != nil {
		return "", err
	}
	key := path.Join(s.prefix, filename)

	_, err := s.client.PutObject(ctx, s.bucketName, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType(filename),
	})
	if err != nil {
		return "", fmt.Errorf("storage: minio put %s: %w", key, err)
	}

	// URL publik (jika bucket public), kalau private harus generate presigned URL
	u := *s.client.EndpointURL()
	u.Path = path.Join("/", s.bucketName, key)
	s.logger.Debug("image stored", "backend", "minio", "key", key, "bytes", len(data))
	return u.String(), nil
}

// Delete removes prefix/filename from the bucket. S3 semantics make a missing key a no-op.
func (s *MinioStore) Delete(ctx context.Context, filename string) error {
	if err := checkName(filename); err != nil {
		return err
	}
	key := path.Join(s.prefix, filename)
	if err := s.client.RemoveObject(ctx, s.bucketName, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("storage: minio remove %s: %w", key, err)
	}
	s.logger.Debug("image removed", "backend", "minio", "key", key)
	return nil
}
