package secrets

import (
	"context"
	"fmt"
	"sync"
)

// MemoryBackend is an in-memory secret backend useful for tests.
// It is not intended for production use.
type MemoryBackend struct {
	mu      sync.Mutex
	secrets map[string]map[string]string

	// FailWith, when set, is returned by every GetSecret call. Tests use it
	// to simulate a transient backend outage.
	FailWith error
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{secrets: map[string]map[string]string{}}
}

// Set stores a secret document, replacing any previous one.
func (b *MemoryBackend) Set(name string, values map[string]string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	copied := make(map[string]string, len(values))
	for k, v := range values {
		copied[k] = v
	}
	b.secrets[name] = copied
}

func (b *MemoryBackend) GetSecret(ctx context.Context, name string) (map[string]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.FailWith != nil {
		return nil, b.FailWith
	}
	values, ok := b.secrets[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	out := make(map[string]string, len(values))
	for k, v := range values {
		out[k] = v
	}
	return out, nil
}
