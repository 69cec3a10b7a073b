package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

type Local struct {
	dir    string
	logger *slog.Logger
}

func NewLocal(dir string, logger *slog.Logger) (*Local, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve storage dir: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	return &Local{dir: abs, logger: logger}, nil
}

func (l *Local) Put(_ context.Context, key, localPath string) (string, error) {
	dst, err := l.resolveKey(key)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", fmt.Errorf("create object dir: %w", err)
	}
	if err := os.Rename(localPath, dst); err != nil {
		// cross-device moves fall back to copy
		if err := copyFile(localPath, dst); err != nil {
			return "", fmt.Errorf("store %s: %w", key, err)
		}
		os.Remove(localPath)
	}
	uri := (&url.URL{Scheme: "file", Path: dst}).String()
	l.logger.Info("object stored", slog.String("uri", uri))
	return uri, nil
}

func (l *Local) Open(_ context.Context, uri string) (io.ReadCloser, int64, error) {
	path, err := l.pathFor(uri)
	if err != nil {
		return nil, 0, err
	}
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, 0, ErrNotFound
		}
		return nil, 0, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, err
	}
	return f, info.Size(), nil
}

func (l *Local) LocalPath(_ context.Context, uri string) (string, func(), error) {
	path, err := l.pathFor(uri)
	if err != nil {
		return "", nil, err
	}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", nil, ErrNotFound
		}
		return "", nil, err
	}
	return path, func() {}, nil
}

func (l *Local) Delete(_ context.Context, uri string) error {
	path, err := l.pathFor(uri)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	l.logger.Info("object deleted", slog.String("uri", uri))
	return nil
}

func (l *Local) resolveKey(key string) (string, error) {
	dst := filepath.Join(l.dir, filepath.FromSlash(key))
	if !strings.HasPrefix(dst, l.dir+string(filepath.Separator)) {
		return "", fmt.Errorf("key %q escapes storage dir", key)
	}
	return dst, nil
}

func (l *Local) pathFor(uri string) (string, error) {
	u, err := url.Parse(uri)
	if err != nil || u.Scheme != "file" {
		return "", fmt.Errorf("not a local storage uri: %q", uri)
	}
	path := filepath.Clean(filepath.FromSlash(u.Path))
	if !strings.HasPrefix(path, l.dir+string(filepath.Separator)) {
		return "", fmt.Errorf("uri %q outside storage dir", uri)
	}
	return path, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	return out.Close()
}
