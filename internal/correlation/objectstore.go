package correlation

import (
	"context"
	"errors"
)

// ObjectStore is the physical layer behind the correlation cache: a
// coarse-grained durable key-value store with bucket semantics.
type ObjectStore interface {
	GetObject(ctx context.Context, bucket, key string) ([]byte, error)
	PutObject(ctx context.Context, bucket, key string, data []byte) error
}

// ErrObjectNotFound is the benign miss: the object simply does not exist.
var ErrObjectNotFound = errors.New("correlation: object not found")
