package storage

import (
	"context"
	"io"
	"time"
)

// ImageStore persists uploaded listing images under exact names.
type ImageStore interface {
	Save(ctx context.Context, name string, r io.Reader, size int64, contentType string) error
	Open(ctx context.Context, name string) (io.ReadCloser, error)
	Delete(ctx context.Context, name string) error
}

// URLPresigner is an optional capability for stores that can hand out
// direct download URLs instead of streaming through the server.
type URLPresigner interface {
	PresignGet(ctx context.Context, name string, expiry time.Duration) (string, error)
}
