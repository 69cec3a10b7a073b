package storage

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"path"
	"strings"
	"time"

	"github.com/loqalabs/studycast/internal/config"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinIO stores tracks in an S3 compatible bucket. URIs look like s3://bucket/key.
type MinIO struct {
	client *minio.Client
	bucket string
	prefix string
	logger *slog.Logger
}

func NewMinIO(ctx context.Context, cfg config.MinIOConfig, prefix string, logger *slog.Logger) (*MinIO, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket: %w", err)
		}
		logger.Info("bucket created", slog.String("bucket", cfg.Bucket))
	}
	return &MinIO{client: client, bucket: cfg.Bucket, prefix: strings.Trim(prefix, "/"), logger: logger}, nil
}

func (m *MinIO) Put(ctx context.Context, key, localPath string) (string, error) {
	object := path.Join(m.prefix, key)
	info, err := m.client.FPutObject(ctx, m.bucket, object, localPath, minio.PutObjectOptions{
		ContentType: ContentType(localPath),
	})
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", object, err)
	}
	os.Remove(localPath)
	uri := (&url.URL{Scheme: "s3", Host: m.bucket, Path: "/" + object}).String()
	m.logger.Info("object stored", slog.String("uri", uri), slog.Int64("size", info.Size))
	return uri, nil
}

func (m *MinIO) Open(ctx context.Context, uri string) (io.ReadCloser, int64, error) {
	object, err := m.objectFor(uri)
	if err != nil {
		return nil, 0, err
	}
	obj, err := m.client.GetObject(ctx, m.bucket, object, minio.GetObjectOptions{})
	if err != nil {
		return nil, 0, fmt.Errorf("get object: %w", err)
	}
	stat, err := obj.Stat()
	if err != nil {
		obj.Close()
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, 0, ErrNotFound
		}
		return nil, 0, fmt.Errorf("stat object: %w", err)
	}
	return obj, stat.Size, nil
}

func (m *MinIO) LocalPath(ctx context.Context, uri string) (string, func(), error) {
	object, err := m.objectFor(uri)
	if err != nil {
		return "", nil, err
	}
	f, err := os.CreateTemp("", "studycast-track-*"+path.Ext(object))
	if err != nil {
		return "", nil, err
	}
	f.Close()
	if err := m.client.FGetObject(ctx, m.bucket, object, f.Name(), minio.GetObjectOptions{}); err != nil {
		os.Remove(f.Name())
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return "", nil, ErrNotFound
		}
		return "", nil, fmt.Errorf("download object: %w", err)
	}
	name := f.Name()
	return name, func() { os.Remove(name) }, nil
}

func (m *MinIO) Delete(ctx context.Context, uri string) error {
	object, err := m.objectFor(uri)
	if err != nil {
		return err
	}
	if err := m.client.RemoveObject(ctx, m.bucket, object, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("remove object: %w", err)
	}
	m.logger.Info("object deleted", slog.String("uri", uri))
	return nil
}

func (m *MinIO) objectFor(uri string) (string, error) {
	u, err := url.Parse(uri)
	if err != nil || u.Scheme != "s3" || u.Host != m.bucket {
		return "", fmt.Errorf("not a uri for bucket %s: %q", m.bucket, uri)
	}
	return strings.TrimPrefix(u.Path, "/"), nil
}
