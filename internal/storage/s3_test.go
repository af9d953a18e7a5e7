package storage

import (
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// Runs against a real MinIO, e.g.
// DOCFLOW_TEST_S3_ENDPOINT=localhost:9000 DOCFLOW_TEST_S3_ACCESS_KEY=minioadmin DOCFLOW_TEST_S3_SECRET_KEY=minioadmin
func newTestS3Store(t *testing.T) *S3Store {
	t.Helper()
	endpoint := os.Getenv("DOCFLOW_TEST_S3_ENDPOINT")
	if endpoint == "" {
		t.Skip("DOCFLOW_TEST_S3_ENDPOINT not set")
	}
	s, err := NewS3Store(context.Background(), S3Config{
		Endpoint:  endpoint,
		Bucket:    "docflow-test",
		AccessKey: os.Getenv("DOCFLOW_TEST_S3_ACCESS_KEY"),
		SecretKey: os.Getenv("DOCFLOW_TEST_S3_SECRET_KEY"),
		PathStyle: true,
		Prefix:    uuid.NewString(),
	}, zaptest.NewLogger(t))
	require.NoError(t, err)
	return s
}

func TestS3StoreRoundTrip(t *testing.T) {
	s := newTestS3Store(t)
	ctx := context.Background()

	obj, err := s.Put(ctx, strings.NewReader("hello s3"), "memo.txt", "text/plain")
	require.NoError(t, err)
	assert.Equal(t, int64(8), obj.Size)

	rc, err := s.Open(ctx, obj.Handle)
	require.NoError(t, err)
	body, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, "hello s3", string(body))

	list, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, obj.Handle, list[0].Handle)

	require.NoError(t, s.Delete(ctx, obj.Handle))
	_, err = s.Open(ctx, obj.Handle)
	assert.ErrorIs(t, err, ErrBlobNotFound)
}

func TestTranslateS3Error(t *testing.T) {
	assert.NoError(t, translateS3Error(nil))
	assert.ErrorIs(t, translateS3Error(minio.ErrorResponse{Code: "NoSuchKey"}), ErrBlobNotFound)

	other := errors.New("connection reset")
	assert.Equal(t, other, translateS3Error(other))
}

func TestPutOptionsBoundPartSize(t *testing.T) {
	opts := putOptions("")
	assert.Equal(t, uint64(s3PartSize), opts.PartSize)
	assert.Equal(t, "application/octet-stream", opts.ContentType)
	assert.Equal(t, "application/pdf", putOptions("application/pdf").ContentType)
}
