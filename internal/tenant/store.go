package tenant

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"voicebridge/internal/secrets"
)

var (
	// ErrNoTenantIdentifier means no candidate source supplied a tenant id.
	// Raised before the backend is ever contacted.
	ErrNoTenantIdentifier = errors.New("tenant: no tenant identifier")

	// ErrNotFound means the backend has no secret under the tenant id.
	ErrNotFound = errors.New("tenant: config not found")

	// ErrMalformed means the secret exists but required fields are missing
	// or unparseable. Not retryable.
	ErrMalformed = errors.New("tenant: config malformed")

	// ErrBackendUnavailable means a transient secret backend failure.
	// Safe for the caller to retry; never retried internally.
	ErrBackendUnavailable = errors.New("tenant: secret backend unavailable")
)

// ResolveTenantID picks the tenant identifier from candidate sources in
// fixed precedence: explicit request parameter, then event attribute,
// then configured default.
func ResolveTenantID(explicit, attribute, fallback string) (string, error) {
	for _, candidate := range []string{explicit, attribute, fallback} {
		if v := strings.TrimSpace(candidate); v != "" {
			return v, nil
		}
	}
	return "", ErrNoTenantIdentifier
}

// Store resolves tenant identifiers to full Configs.
//
// A Store memoizes resolved configs for its own lifetime only. Construct
// one Store per trigger invocation: a warm hit saves a backend read within
// that invocation, and nothing is ever assumed to survive across
// invocations or process restarts.
type Store struct {
	backend secrets.Backend

	mu   sync.Mutex
	memo map[string]Config
}

func NewStore(backend secrets.Backend) *Store {
	return &Store{backend: backend, memo: map[string]Config{}}
}

// Resolve fetches and validates the tenant's config. Failures classify as
// ErrNotFound, ErrMalformed, or ErrBackendUnavailable.
func (s *Store) Resolve(ctx context.Context, tenantID string) (Config, error) {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return Config{}, ErrNoTenantIdentifier
	}

	s.mu.Lock()
	cached, ok := s.memo[tenantID]
	s.mu.Unlock()
	if ok {
		return cached, nil
	}

	return s.load(ctx, tenantID)
}

// Reload drops any memoized entry and resolves fresh from the backend.
// REST flows use it after a 401 to pick up a rotated access token.
func (s *Store) Reload(ctx context.Context, tenantID string) (Config, error) {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return Config{}, ErrNoTenantIdentifier
	}
	s.mu.Lock()
	delete(s.memo, tenantID)
	s.mu.Unlock()
	return s.load(ctx, tenantID)
}

func (s *Store) load(ctx context.Context, tenantID string) (Config, error) {
	values, err := s.backend.GetSecret(ctx, tenantID)
	if err != nil {
		switch {
		case errors.Is(err, secrets.ErrNotFound):
			return Config{}, fmt.Errorf("%w: %s", ErrNotFound, tenantID)
		case errors.Is(err, secrets.ErrCorrupt):
			return Config{}, fmt.Errorf("%w: %s: %v", ErrMalformed, tenantID, err)
		default:
			return Config{}, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
		}
	}

	cfg, err := configFromSecret(tenantID, values)
	if err != nil {
		return Config{}, err
	}

	s.mu.Lock()
	s.memo[tenantID] = cfg
	s.mu.Unlock()
	return cfg, nil
}
