package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

const tmpPrefix = ".upload-"

// LocalStore keeps blobs as files in a single directory.
type LocalStore struct {
	dir    string
	logger *zap.Logger
}

func NewLocalStore(dir string, logger *zap.Logger) (*LocalStore, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	return &LocalStore{
		dir:    dir,
		logger: logger.With(zap.String("blob_store", "local")),
	}, nil
}

func (s *LocalStore) path(handle string) (string, error) {
	if !ValidHandle(handle) {
		return "", ErrBlobNotFound
	}
	return filepath.Join(s.dir, handle), nil
}

func (s *LocalStore) Put(ctx context.Context, r io.Reader, originalName, contentType string) (Object, error) {
	handle := NewHandle(originalName)
	final := filepath.Join(s.dir, handle)

	tmp, err := os.CreateTemp(s.dir, tmpPrefix+"*")
	if err != nil {
		return Object{}, fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() {
		tmp.Close()
		os.Remove(tmpName)
	}

	n, err := io.Copy(tmp, &ctxReader{ctx: ctx, r: r})
	if err != nil {
		cleanup()
		return Object{}, err
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return Object{}, fmt.Errorf("sync blob: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return Object{}, fmt.Errorf("close blob: %w", err)
	}
	if err := os.Rename(tmpName, final); err != nil {
		os.Remove(tmpName)
		return Object{}, fmt.Errorf("publish blob: %w", err)
	}

	s.logger.Debug("Blob stored", zap.String("handle", handle), zap.Int64("size", n))
	return Object{Handle: handle, Size: n}, nil
}

func (s *LocalStore) Open(_ context.Context, handle string) (io.ReadCloser, error) {
	p, err := s.path(handle)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrBlobNotFound
	}
	if err != nil {
		return nil, err
	}
	return f, nil
}

func (s *LocalStore) Delete(_ context.Context, handle string) error {
	p, err := s.path(handle)
	if err != nil {
		return err
	}
	err = os.Remove(p)
	if errors.Is(err, fs.ErrNotExist) {
		return ErrBlobNotFound
	}
	return err
}

// List returns every published blob; in-flight temp files are skipped.
func (s *LocalStore) List(_ context.Context) ([]ObjectInfo, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}
	out := make([]ObjectInfo, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), tmpPrefix) || !ValidHandle(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, ObjectInfo{
			Handle:       e.Name(),
			Size:         info.Size(),
			LastModified: info.ModTime(),
		})
	}
	return out, nil
}
