package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"defect-inspection/internal/domain"
	"defect-inspection/internal/domain/ports/adapter"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

var _ adapter.ObjectStorage = (*MinioStorage)(nil)

// maxObjectSize bounds a single image read.
const maxObjectSize = 64 << 20

type MinioOpts func(c *minioConfig)

type minioConfig struct {
	endpoint        string
	bucket          string
	accessKey       string
	secretAccessKey string
	useSSL          bool
}

func WithEndpoint(endpoint string) MinioOpts {
	return func(c *minioConfig) { c.endpoint = endpoint }
}

func WithBucket(bucket string) MinioOpts {
	return func(c *minioConfig) { c.bucket = bucket }
}

func WithAccessKey(accessKey string) MinioOpts {
	return func(c *minioConfig) { c.accessKey = accessKey }
}

func WithSecretKey(secretKey string) MinioOpts {
	return func(c *minioConfig) { c.secretAccessKey = secretKey }
}

func WithSSL(useSSL bool) MinioOpts {
	return func(c *minioConfig) { c.useSSL = useSSL }
}

// MinioStorage reads staged uploads from an S3 compatible bucket. Source paths
// are object keys, optionally prefixed with "s3://<bucket>/".
type MinioStorage struct {
	cfg    *minioConfig
	client *minio.Client
}

func NewMinioStorage(opts ...MinioOpts) (*MinioStorage, error) {
	cfg := &minioConfig{}
	for _, o := range opts {
		o(cfg)
	}
	if cfg.endpoint == "" || cfg.bucket == "" {
		return nil, errors.New("minio endpoint and bucket are required")
	}

	client, err := minio.New(cfg.endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.accessKey, cfg.secretAccessKey, ""),
		Secure: cfg.useSSL,
	})
	if err != nil {
		return nil, err
	}
	return &MinioStorage{cfg: cfg, client: client}, nil
}

func (s *MinioStorage) Type() string { return "minio" }

// objectKey strips an optional s3://bucket/ prefix.
func (s *MinioStorage) objectKey(path string) string {
	key := strings.TrimPrefix(path, "s3://")
	if key != path {
		key = strings.TrimPrefix(key, s.cfg.bucket+"/")
	}
	return strings.TrimPrefix(key, "/")
}

func (s *MinioStorage) Read(ctx context.Context, path string) ([]byte, error) {
	const op = "minio read"
	key := s.objectKey(path)
	object, err := s.client.GetObject(ctx, s.cfg.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, classifyMinio(op, err)
	}
	defer object.Close()

	info, err := object.Stat()
	if err != nil {
		return nil, classifyMinio(op, err)
	}
	if info.Size == 0 {
		return nil, domain.PermanentFile(op, fmt.Errorf("object %s is empty", key))
	}
	if info.Size > maxObjectSize {
		return nil, domain.PermanentFile(op, fmt.Errorf("object %s is %d bytes, limit %d", key, info.Size, maxObjectSize))
	}

	b, err := io.ReadAll(object)
	if err != nil {
		return nil, classifyMinio(op, err)
	}
	if int64(len(b)) != info.Size {
		return nil, domain.TransientIO(op, fmt.Errorf("short read of %s: got %d of %d bytes", key, len(b), info.Size))
	}
	return b, nil
}

func classifyMinio(op string, err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	resp := minio.ToErrorResponse(err)
	switch {
	case resp.StatusCode == http.StatusNotFound, resp.Code == "NoSuchKey", resp.Code == "NoSuchBucket":
		return domain.PermanentFile(op, err)
	case resp.StatusCode == http.StatusForbidden, resp.Code == "AccessDenied":
		return domain.Infrastructure(op, err)
	}
	return domain.TransientIO(op, err)
}
