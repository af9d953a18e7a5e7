// Package storage keeps document bytes. Callers only ever see opaque handles
// generated here; a caller supplied filename never becomes a storage key.
package storage

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

var ErrBlobNotFound = errors.New("blob not found")

const maxExtLen = 10

type Object struct {
	Handle string
	Size   int64
}

type ObjectInfo struct {
	Handle       string
	Size         int64
	LastModified time.Time
}

type BlobStore interface {
	// Put stores r under a fresh handle derived from originalName's extension.
	// The blob becomes visible only once r has been read to the end.
	Put(ctx context.Context, r io.Reader, originalName, contentType string) (Object, error)
	Open(ctx context.Context, handle string) (io.ReadCloser, error)
	Delete(ctx context.Context, handle string) error
	List(ctx context.Context) ([]ObjectInfo, error)
}

// NewHandle returns a random 128-bit token in hex followed by the cleaned
// extension of originalName, e.g. "3f2c...e1.pdf".
func NewHandle(originalName string) string {
	id := uuid.New()
	return strings.ReplaceAll(id.String(), "-", "") + Extension(originalName)
}

// Extension returns the lower-cased extension of name including the dot, or
// "" when it is missing, too long or contains anything but [a-z0-9].
func Extension(name string) string {
	ext := strings.ToLower(filepath.Ext(filepath.Base(strings.ReplaceAll(name, "\\", "/"))))
	if len(ext) < 2 || len(ext) > maxExtLen+1 {
		return ""
	}
	for _, r := range ext[1:] {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return ""
		}
	}
	return ext
}

// ValidHandle reports whether h could have been produced by NewHandle.
func ValidHandle(h string) bool {
	if len(h) < 32 {
		return false
	}
	for _, r := range h[:32] {
		if (r < 'a' || r > 'f') && (r < '0' || r > '9') {
			return false
		}
	}
	return h[32:] == "" || Extension("x"+h[32:]) == h[32:]
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

// Read fails with the context error once ctx is done, so an aborted upload
// never completes its blob.
func (cr *ctxReader) Read(p []byte) (int, error) {
	if err := cr.ctx.Err(); err != nil {
		return 0, err
	}
	return cr.r.Read(p)
}
