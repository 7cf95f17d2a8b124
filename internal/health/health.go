package health

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"voicebridge/internal/secrets"
	"voicebridge/internal/tenant"
)

// Check is one probe of a backing dependency. Critical checks gate
// overall health; non-critical failures only degrade it.
type Check struct {
	Name     string
	Critical bool
	Run      func(ctx context.Context) error
}

type Result struct {
	Name          string `json:"name"`
	Critical      bool   `json:"critical"`
	OK            bool   `json:"ok"`
	Error         string `json:"error,omitempty"`
	ElapsedMillis int64  `json:"elapsed_ms"`
}

type Status string

const (
	StatusOK       Status = "ok"
	StatusDegraded Status = "degraded"
	StatusFailed   Status = "failed"
)

type Report struct {
	Status  Status   `json:"status"`
	Results []Result `json:"checks"`
}

// Service runs all registered checks concurrently with a shared
// per-check timeout.
type Service struct {
	checks  []Check
	timeout time.Duration
	log     *slog.Logger
}

func NewService(timeout time.Duration, log *slog.Logger, checks ...Check) *Service {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	return &Service{checks: checks, timeout: timeout, log: log}
}

// RunAll probes every dependency in parallel and aggregates results.
// A critical failure marks the report failed; any other failure marks
// it degraded.
func (s *Service) RunAll(ctx context.Context) Report {
	results := make([]Result, len(s.checks))

	var wg sync.WaitGroup
	for i, check := range s.checks {
		wg.Add(1)
		go func(i int, check Check) {
			defer wg.Done()
			checkCtx, cancel := context.WithTimeout(ctx, s.timeout)
			defer cancel()

			start := time.Now()
			err := check.Run(checkCtx)
			res := Result{
				Name:          check.Name,
				Critical:      check.Critical,
				OK:            err == nil,
				ElapsedMillis: time.Since(start).Milliseconds(),
			}
			if err != nil {
				res.Error = err.Error()
				s.log.Warn("health check failed", "check", check.Name, "critical", check.Critical, "err", err)
			}
			results[i] = res
		}(i, check)
	}
	wg.Wait()

	status := StatusOK
	for _, res := range results {
		if res.OK {
			continue
		}
		if res.Critical {
			status = StatusFailed
			break
		}
		status = StatusDegraded
	}
	return Report{Status: status, Results: results}
}

// PostgresCheck pings the audit database.
func PostgresCheck(db *sql.DB) Check {
	return Check{
		Name:     "postgres",
		Critical: false,
		Run: func(ctx context.Context) error {
			return db.PingContext(ctx)
		},
	}
}

// RedisCheck pings the correlation store.
func RedisCheck(rdb *redis.Client) Check {
	return Check{
		Name:     "redis",
		Critical: true,
		Run: func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		},
	}
}

// SecretsCheck resolves a known tenant through the secret backend. A
// missing probe tenant still proves the backend answers, so ErrNotFound
// passes.
func SecretsCheck(backend secrets.Backend, probeTenant string) Check {
	return Check{
		Name:     "secrets",
		Critical: true,
		Run: func(ctx context.Context) error {
			_, err := tenant.NewStore(backend).Resolve(ctx, probeTenant)
			if err == nil ||
				errors.Is(err, tenant.ErrNotFound) ||
				errors.Is(err, tenant.ErrMalformed) ||
				errors.Is(err, tenant.ErrNoTenantIdentifier) {
				return nil
			}
			return err
		},
	}
}
