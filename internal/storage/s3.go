package storage

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"
)

// s3PartSize bounds the buffer minio allocates for a stream of unknown
// length. 10000 parts of this size cap an object at about 156 GiB.
const s3PartSize = 16 << 20

type S3Config struct {
	Endpoint  string
	Region    string
	Bucket    string
	AccessKey string
	SecretKey string
	UseSSL    bool
	PathStyle bool
	Prefix    string
}

// S3Store keeps blobs in an S3 compatible bucket (MinIO, AWS, ...).
type S3Store struct {
	cl     *minio.Client
	bucket string
	prefix string
	logger *zap.Logger
}

func NewS3Store(ctx context.Context, cfg S3Config, logger *zap.Logger) (*S3Store, error) {
	opts := &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	}
	if cfg.PathStyle {
		opts.BucketLookup = minio.BucketLookupPath
	}
	cl, err := minio.New(cfg.Endpoint, opts)
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}

	exists, err := cl.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket: %w", err)
	}
	if !exists {
		if err := cl.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{Region: cfg.Region}); err != nil {
			return nil, fmt.Errorf("create bucket: %w", err)
		}
	}

	return &S3Store{
		cl:     cl,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
		logger: logger.With(zap.String("blob_store", "s3"), zap.String("bucket", cfg.Bucket)),
	}, nil
}

func (s *S3Store) key(handle string) string {
	if s.prefix == "" {
		return handle
	}
	return s.prefix + "/" + handle
}

// Put relies on S3 semantics: an object only becomes readable once the whole
// upload has succeeded, so an aborted upload leaves nothing behind.
func (s *S3Store) Put(ctx context.Context, r io.Reader, originalName, contentType string) (Object, error) {
	handle := NewHandle(originalName)
	info, err := s.cl.PutObject(ctx, s.bucket, s.key(handle), &ctxReader{ctx: ctx, r: r}, -1, putOptions(contentType))
	if err != nil {
		return Object{}, err
	}
	s.logger.Debug("Blob stored", zap.String("handle", handle), zap.Int64("size", info.Size))
	return Object{Handle: handle, Size: info.Size}, nil
}

func putOptions(contentType string) minio.PutObjectOptions {
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return minio.PutObjectOptions{
		ContentType: contentType,
		PartSize:    s3PartSize,
	}
}

func (s *S3Store) Open(ctx context.Context, handle string) (io.ReadCloser, error) {
	if !ValidHandle(handle) {
		return nil, ErrBlobNotFound
	}
	// GetObject is lazy; stat first so a missing key is reported here.
	if _, err := s.cl.StatObject(ctx, s.bucket, s.key(handle), minio.StatObjectOptions{}); err != nil {
		return nil, translateS3Error(err)
	}
	obj, err := s.cl.GetObject(ctx, s.bucket, s.key(handle), minio.GetObjectOptions{})
	if err != nil {
		return nil, translateS3Error(err)
	}
	return obj, nil
}

func (s *S3Store) Delete(ctx context.Context, handle string) error {
	if !ValidHandle(handle) {
		return ErrBlobNotFound
	}
	return translateS3Error(s.cl.RemoveObject(ctx, s.bucket, s.key(handle), minio.RemoveObjectOptions{}))
}

func (s *S3Store) List(ctx context.Context) ([]ObjectInfo, error) {
	opts := minio.ListObjectsOptions{Recursive: true}
	if s.prefix != "" {
		opts.Prefix = s.prefix + "/"
	}
	var out []ObjectInfo
	for obj := range s.cl.ListObjects(ctx, s.bucket, opts) {
		if obj.Err != nil {
			return nil, obj.Err
		}
		handle := strings.TrimPrefix(obj.Key, opts.Prefix)
		if !ValidHandle(handle) {
			continue
		}
		out = append(out, ObjectInfo{
			Handle:       handle,
			Size:         obj.Size,
			LastModified: obj.LastModified,
		})
	}
	return out, nil
}

func translateS3Error(err error) error {
	if err == nil {
		return nil
	}
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey", "NotFound":
		return ErrBlobNotFound
	}
	return err
}
