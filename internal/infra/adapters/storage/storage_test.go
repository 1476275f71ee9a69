//go:build !integration

package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"defect-inspection/internal/domain"

	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/require"
)

func TestLocalStorage_Read(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "batch"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "batch", "a.png"), []byte("img"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "empty.png"), nil, 0o644))

	s, err := NewLocalStorage(root)
	require.NoError(t, err)
	ctx := context.Background()

	b, err := s.Read(ctx, "batch/a.png")
	require.NoError(t, err)
	require.Equal(t, "img", string(b))

	_, err = s.Read(ctx, "batch/missing.png")
	require.ErrorIs(t, err, domain.ErrPermanentFile)

	_, err = s.Read(ctx, "empty.png")
	require.ErrorIs(t, err, domain.ErrPermanentFile)

	// Traversal is clamped to the root rather than escaping it.
	_, err = s.Read(ctx, "../../etc/passwd")
	require.ErrorIs(t, err, domain.ErrPermanentFile)

	cctx, cancel := context.WithCancel(ctx)
	cancel()
	_, err = s.Read(cctx, "batch/a.png")
	require.ErrorIs(t, err, context.Canceled)

	_, err = NewLocalStorage(filepath.Join(root, "batch", "a.png"))
	require.Error(t, err)
}

func TestMinioStorage_ObjectKeyAndClassification(t *testing.T) {
	s, err := NewMinioStorage(WithEndpoint("localhost:9000"), WithBucket("uploads"), WithAccessKey("a"), WithSecretKey("b"))
	require.NoError(t, err)
	require.Equal(t, "minio", s.Type())

	require.Equal(t, "batch/a.png", s.objectKey("s3://uploads/batch/a.png"))
	require.Equal(t, "batch/a.png", s.objectKey("/batch/a.png"))
	require.Equal(t, "batch/a.png", s.objectKey("batch/a.png"))

	notFound := minio.ErrorResponse{StatusCode: 404, Code: "NoSuchKey"}
	require.ErrorIs(t, classifyMinio("read", notFound), domain.ErrPermanentFile)
	denied := minio.ErrorResponse{StatusCode: 403, Code: "AccessDenied"}
	require.ErrorIs(t, classifyMinio("read", denied), domain.ErrInfrastructure)
	require.ErrorIs(t, classifyMinio("read", errors.New("connection reset")), domain.ErrTransientIO)
	require.ErrorIs(t, classifyMinio("read", context.Canceled), context.Canceled)

	_, err = NewMinioStorage(WithEndpoint("localhost:9000"))
	require.Error(t, err)
}
