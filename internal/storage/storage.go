// Package storage keeps verified tracks once the pipeline hands them over.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"path/filepath"

	"github.com/loqalabs/studycast/internal/config"
)

var ErrNotFound = errors.New("object not found")

// Store persists track files and addresses them by URI.
type Store interface {
	// Put moves the file at localPath into the store under key.
	Put(ctx context.Context, key, localPath string) (string, error)
	Open(ctx context.Context, uri string) (io.ReadCloser, int64, error)
	// LocalPath returns a path on disk for uri. cleanup must be called when
	// the caller is done with it.
	LocalPath(ctx context.Context, uri string) (path string, cleanup func(), err error)
	Delete(ctx context.Context, uri string) error
}

// New builds the backend selected in cfg.
func New(ctx context.Context, cfg config.StorageConfig, logger *slog.Logger) (Store, error) {
	log := logger.With(slog.String("component", "storage"), slog.String("mode", cfg.Mode))
	switch cfg.Mode {
	case "", "local":
		return NewLocal(cfg.Directory, log)
	case "minio":
		return NewMinIO(ctx, cfg.MinIO, cfg.Prefix, log)
	default:
		return nil, fmt.Errorf("unknown storage mode %q", cfg.Mode)
	}
}

// ContentType guesses a MIME type from the file extension.
func ContentType(path string) string {
	switch filepath.Ext(path) {
	case ".wav":
		return "audio/wav"
	case ".mp3":
		return "audio/mpeg"
	}
	if t := mime.TypeByExtension(filepath.Ext(path)); t != "" {
		return t
	}
	return "application/octet-stream"
}
