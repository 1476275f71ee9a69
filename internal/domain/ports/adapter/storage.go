package adapter

import "context"

// ObjectStorage reads staged uploads. A missing or empty object is a
// domain.ErrPermanentFile; timeouts and transport errors are domain.ErrTransientIO.
type ObjectStorage interface {
	Read(ctx context.Context, path string) ([]byte, error)
}
