package services

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/docflow/docflow/internal/config"
	"github.com/docflow/docflow/internal/db"
	"github.com/docflow/docflow/internal/db/models"
	"github.com/docflow/docflow/internal/storage"
	"github.com/docflow/docflow/pkg/metrics"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"
)

type testEnv struct {
	db        *gorm.DB
	uploadDir string
	blobs     *faultyStore
	metrics   *metrics.MetricsCollector
	docs      *DocumentService
	queries   *QueryService
	users     *UserService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := zaptest.NewLogger(t)
	dir := t.TempDir()

	database, err := db.Open(config.DatabaseConfig{
		Driver:   "sqlite",
		Path:     filepath.Join(dir, "docflow.db"),
		LogLevel: "silent",
	})
	require.NoError(t, err)
	require.NoError(t, db.Migrate(database, logger))
	t.Cleanup(func() { _ = db.Close(database) })

	uploadDir := filepath.Join(dir, "uploads")
	local, err := storage.NewLocalStore(uploadDir, logger)
	require.NoError(t, err)
	blobs := &faultyStore{LocalStore: local}

	mc := metrics.NewMetricsCollector(nil)
	return &testEnv{
		db:        database,
		uploadDir: uploadDir,
		blobs:     blobs,
		metrics:   mc,
		docs:      NewDocumentService(database, blobs, logger, mc, 1<<20),
		queries:   NewQueryService(database, blobs, logger),
		users: NewUserService(database, logger, config.SecurityConfig{
			PasswordMinLength: 8,
			PasswordMaxLength: 64,
		}),
	}
}

// faultyStore is a LocalStore whose Put and Delete can be made to fail.
type faultyStore struct {
	*storage.LocalStore
	mu        sync.Mutex
	putErr    error
	deleteErr error
	deleted   []string
}

func (f *faultyStore) failPut(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.putErr = err
}

func (f *faultyStore) failDelete(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleteErr = err
}

func (f *faultyStore) deleteCalls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.deleted...)
}

func (f *faultyStore) Put(ctx context.Context, r io.Reader, originalName, contentType string) (storage.Object, error) {
	f.mu.Lock()
	err := f.putErr
	f.mu.Unlock()
	if err != nil {
		return storage.Object{}, err
	}
	return f.LocalStore.Put(ctx, r, originalName, contentType)
}

func (f *faultyStore) Delete(ctx context.Context, handle string) error {
	f.mu.Lock()
	f.deleted = append(f.deleted, handle)
	err := f.deleteErr
	f.mu.Unlock()
	if err != nil {
		return err
	}
	return f.LocalStore.Delete(ctx, handle)
}

func (e *testEnv) user(t *testing.T, email string) uint {
	t.Helper()
	u, err := e.users.Register(context.Background(), RegisterInput{
		Email:    email,
		FullName: strings.Split(email, "@")[0],
		Password: "password123",
	})
	require.NoError(t, err)
	return u.ID
}

func (e *testEnv) upload(t *testing.T, ownerID uint, title, content string) *models.Document {
	t.Helper()
	doc, err := e.docs.Upload(context.Background(), ownerID, UploadInput{
		Title: title,
		File: &FileInput{
			Name:        title + ".pdf",
			ContentType: "application/pdf",
			Content:     strings.NewReader(content),
		},
	})
	require.NoError(t, err)
	return doc
}

func (e *testEnv) blobFiles(t *testing.T) []string {
	t.Helper()
	entries, err := os.ReadDir(e.uploadDir)
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, en := range entries {
		names = append(names, en.Name())
	}
	return names
}

func (e *testEnv) count(t *testing.T, model any, where string, args ...any) int64 {
	t.Helper()
	var n int64
	require.NoError(t, e.db.Model(model).Where(where, args...).Count(&n).Error)
	return n
}

func visibleIDs(t *testing.T, qs *QueryService, userID uint) []uint {
	t.Helper()
	docs, err := qs.VisibleDocuments(context.Background(), userID, OrderDefault)
	require.NoError(t, err)
	ids := make([]uint, 0, len(docs))
	for _, d := range docs {
		ids = append(ids, d.ID)
	}
	return ids
}
