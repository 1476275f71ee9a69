package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"defect-inspection/internal/domain"
	"defect-inspection/internal/domain/ports/adapter"
)

var _ adapter.ObjectStorage = (*LocalStorage)(nil)

// LocalStorage reads staged uploads from a directory on disk. Paths are
// resolved under root and may not escape it.
type LocalStorage struct {
	root string
}

func NewLocalStorage(root string) (*LocalStorage, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	st, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("storage root: %w", err)
	}
	if !st.IsDir() {
		return nil, fmt.Errorf("storage root %s is not a directory", abs)
	}
	return &LocalStorage{root: abs}, nil
}

func (s *LocalStorage) resolve(path string) (string, error) {
	full := filepath.Join(s.root, filepath.Clean("/"+path))
	if full != s.root && !strings.HasPrefix(full, s.root+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q escapes storage root", path)
	}
	return full, nil
}

func (s *LocalStorage) Read(ctx context.Context, path string) ([]byte, error) {
	const op = "local read"
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	full, err := s.resolve(path)
	if err != nil {
		return nil, domain.PermanentFile(op, err)
	}
	b, err := os.ReadFile(full)
	switch {
	case errors.Is(err, fs.ErrNotExist), errors.Is(err, fs.ErrPermission):
		return nil, domain.PermanentFile(op, err)
	case err != nil:
		return nil, domain.TransientIO(op, err)
	case len(b) == 0:
		return nil, domain.PermanentFile(op, fmt.Errorf("%s is empty", path))
	}
	return b, nil
}
