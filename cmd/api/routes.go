package main

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"voicebridge/internal/analytics"
	"voicebridge/internal/audit"
	"voicebridge/internal/calls"
	"voicebridge/internal/config"
	"voicebridge/internal/correlation"
	"voicebridge/internal/credential"
	"voicebridge/internal/dispatch"
	"voicebridge/internal/health"
	"voicebridge/internal/httpapi"
	"voicebridge/internal/routing"
	"voicebridge/internal/secrets"
	"voicebridge/internal/tenant"
	"voicebridge/internal/transcript"
	"voicebridge/internal/voicemail"
	"voicebridge/pkg/utils"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

// deps holds everything shared across trigger invocations. Per-trigger
// services are built fresh per request so that tenant config memoization
// stays invocation-scoped.
type deps struct {
	cfg config.Config
	log *slog.Logger

	backend      secrets.Backend
	cache        *correlation.Cache
	issuer       *credential.Issuer
	client       *dispatch.Client
	httpRetry    dispatch.Policy
	workflow     dispatch.Policy
	audits       *audit.Service
	controlPlane *routing.ControlPlane
	limiter      transcript.Limiter
	health       *health.Service
}

func buildDeps(cfg config.Config, log *slog.Logger, db *sql.DB, rdb *redis.Client) (deps, error) {
	loc, err := correlation.ParseLocation(cfg.Tenancy.CorrelationBucket)
	if err != nil {
		return deps{}, fmt.Errorf("CORRELATION_BUCKET: %w", err)
	}

	client := dispatch.NewClient(cfg.Dispatch.Timeout)
	if cfg.Dispatch.DebugLogging {
		client = client.WithDebugHook(func(method, url string, status int, elapsed time.Duration) {
			log.Debug("dispatch", "method", method, "url", url, "status", status, "elapsed_ms", elapsed.Milliseconds())
		})
	}

	backend := secrets.NewDirBackend(cfg.Tenancy.SecretsDir)
	store := correlation.NewRedisStore(rdb, cfg.Tenancy.CorrelationTTL)

	d := deps{
		cfg:          cfg,
		log:          log,
		backend:      backend,
		cache:        correlation.NewCache(store, loc, log),
		issuer:       credential.NewIssuer(),
		client:       client,
		httpRetry:    dispatch.Policy{MaxAttempts: cfg.Dispatch.MaxAttempts, BaseDelay: cfg.Dispatch.BaseDelay, Log: log},
		workflow:     dispatch.Policy{MaxAttempts: cfg.Dispatch.WorkflowMaxAttempts, BaseDelay: 2 * cfg.Dispatch.BaseDelay, Log: log},
		audits:       audit.NewService(audit.NewPostgresRepo(db), log),
		controlPlane: routing.NewControlPlane(cfg.Dispatch.ControlAPIBase, client, log),
	}
	if cfg.Dispatch.TenantCapLimit > 0 {
		d.limiter = utils.NewTenantCapLimiter(rdb, "dispatch:cap", cfg.Dispatch.TenantCapLimit, cfg.Dispatch.Timeout*2)
	}
	d.health = health.NewService(3*time.Second, log,
		health.RedisCheck(rdb),
		health.PostgresCheck(db),
		health.SecretsCheck(backend, cfg.Tenancy.DefaultTenantSecret),
	)
	return d, nil
}

// handlers builds the per-invocation service graph. The tenant store is
// the one piece deliberately constructed here rather than in buildDeps.
func (d deps) handlers() httpapi.Handlers {
	tenants := tenant.NewStore(d.backend)

	var router calls.Router
	var reporter transcript.AttributeReporter
	if d.controlPlane.Enabled() {
		router = d.controlPlane
		reporter = d.controlPlane
	}

	return httpapi.Handlers{
		Calls: calls.NewService(calls.ServiceDeps{
			Tenants:       tenants,
			Cache:         d.cache,
			Issuer:        d.issuer,
			Client:        d.client,
			HTTPRetry:     d.httpRetry,
			WorkflowRetry: d.workflow,
			Router:        router,
			Audits:        d.audits,
			Log:           d.log,
			DefaultTenant: d.cfg.Tenancy.DefaultTenantSecret,
		}),
		Transcript: transcript.NewService(transcript.ServiceDeps{
			Tenants:   tenants,
			Cache:     d.cache,
			Issuer:    d.issuer,
			Client:    d.client,
			Retry:     d.httpRetry,
			BatchSize: d.cfg.Dispatch.BatchSize,
			Reporter:  reporter,
			Limiter:   d.limiter,
			Audits:    d.audits,
			Log:       d.log,
		}),
		Analytics: analytics.NewService(analytics.ServiceDeps{
			Tenants: tenants,
			Cache:   d.cache,
			Client:  d.client,
			Retry:   d.httpRetry,
			Audits:  d.audits,
			Log:     d.log,
		}),
		Voicemails: voicemail.NewService(voicemail.ServiceDeps{
			Tenants: tenants,
			Cache:   d.cache,
			Issuer:  d.issuer,
			Client:  d.client,
			Retry:   d.httpRetry,
			Audits:  d.audits,
			Log:     d.log,
		}),
		Health: d.health,
	}
}

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, d deps) {
	r.GET("/healthz", func(c *gin.Context) { d.handlers().Healthz(c) })
	r.GET("/healthz/deep", func(c *gin.Context) { d.handlers().HealthzDeep(c) })

	triggers := r.Group("/triggers")
	{
		triggers.POST("/call-created", func(c *gin.Context) { d.handlers().CallCreated(c) })
		triggers.POST("/call-disconnected", func(c *gin.Context) { d.handlers().CallDisconnected(c) })
		triggers.POST("/transcript-segments", func(c *gin.Context) { d.handlers().TranscriptSegments(c) })
		triggers.POST("/post-call-analytics", func(c *gin.Context) { d.handlers().PostCallAnalytics(c) })
		triggers.POST("/voicemail", func(c *gin.Context) { d.handlers().Voicemail(c) })
	}
}
