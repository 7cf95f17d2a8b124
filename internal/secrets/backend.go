package secrets

import (
	"context"
	"errors"
)

// Backend fetches a named secret as a flat map of key/value strings.
//
// Backends must classify failures:
// - ErrNotFound: the named secret does not exist.
// - ErrCorrupt: the secret exists but its document cannot be decoded.
// - anything else: transient infra failure, safe for callers to retry.
type Backend interface {
	GetSecret(ctx context.Context, name string) (map[string]string, error)
}

var (
	ErrNotFound = errors.New("secrets: secret not found")
	ErrCorrupt  = errors.New("secrets: secret document corrupt")
)
