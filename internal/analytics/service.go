package analytics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"voicebridge/internal/audit"
	"voicebridge/internal/correlation"
	"voicebridge/internal/dispatch"
	"voicebridge/internal/tenant"
)

// Event is the post-call analytics trigger input.
type Event struct {
	ContactID string `json:"contact_id" binding:"required"`

	Disposition      string `json:"disposition,omitempty"`
	QueueName        string `json:"queue_name,omitempty"`
	AgentID          string `json:"agent_id,omitempty"`
	HandleTimeMillis int64  `json:"handle_time_millis,omitempty"`

	// Attributes carries raw contact-flow attributes; only keys matching
	// the forwarded prefix table reach the CRM.
	Attributes map[string]string `json:"attributes,omitempty"`
}

// ErrNoAccessToken means the resolved tenant has no REST access token
// configured; the REST-API flow cannot authenticate.
var ErrNoAccessToken = errors.New("analytics: tenant has no access token")

// Service delivers post-call analytics over the REST-API flow: OAuth
// bearer auth with a single token refresh on 401, instead of the
// telephony JWT flow.
type Service struct {
	tenants *tenant.Store
	cache   *correlation.Cache
	client  *dispatch.Client
	retry   dispatch.Policy
	audits  *audit.Service
	log     *slog.Logger
}

type ServiceDeps struct {
	Tenants *tenant.Store
	Cache   *correlation.Cache
	Client  *dispatch.Client
	Retry   dispatch.Policy
	Audits  *audit.Service
	Log     *slog.Logger
}

func NewService(d ServiceDeps) *Service {
	log := d.Log
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		tenants: d.Tenants,
		cache:   d.Cache,
		client:  d.Client,
		retry:   d.Retry,
		audits:  d.Audits,
		log:     log,
	}
}

type analyticsPayload struct {
	VendorCallKey    string            `json:"vendorCallKey"`
	Disposition      string            `json:"disposition,omitempty"`
	QueueName        string            `json:"queueName,omitempty"`
	AgentID          string            `json:"agentId,omitempty"`
	HandleTimeMillis int64             `json:"handleTimeMillis,omitempty"`
	Attributes       map[string]string `json:"attributes,omitempty"`
}

// Deliver recovers the owning tenant from correlation and posts the
// analytics event. Retry exhaustion is logged and swallowed; config
// and credential errors still propagate.
func (s *Service) Deliver(ctx context.Context, event Event) error {
	rec, ok := s.cache.Lookup(ctx, event.ContactID)
	if !ok {
		// Tenant context is mandatory for this operation.
		return fmt.Errorf("%w: analytics for %s", tenant.ErrNoTenantIdentifier, event.ContactID)
	}

	// REST-API-only flows prefer the dedicated access tenant.
	tenantID := rec.AccessTenantID
	if tenantID == "" {
		tenantID = rec.TenantID
	}
	cfg, err := s.tenants.Resolve(ctx, tenantID)
	if err != nil {
		return err
	}
	if cfg.AccessToken == "" {
		return fmt.Errorf("%w: %s", ErrNoAccessToken, tenantID)
	}

	payload := analyticsPayload{
		VendorCallKey:    event.ContactID,
		Disposition:      event.Disposition,
		QueueName:        event.QueueName,
		AgentID:          event.AgentID,
		HandleTimeMillis: event.HandleTimeMillis,
		Attributes:       MapAttributes(event.Attributes),
	}

	const path = "/telephony/analytics"
	attempts := 0
	err = s.retry.Do(ctx, "analytics", func(ctx context.Context) error {
		attempts++
		_, err := s.client.Send(ctx, dispatch.Request{
			EndpointBase: cfg.EndpointBase,
			Method:       http.MethodPost,
			Path:         path,
			Bearer:       cfg.AccessToken,
			Body:         payload,
			RefreshToken: func(ctx context.Context) (string, error) {
				fresh, err := s.tenants.Reload(ctx, tenantID)
				if err != nil {
					return "", err
				}
				if fresh.AccessToken == "" {
					return "", ErrNoAccessToken
				}
				cfg = fresh
				return fresh.AccessToken, nil
			},
		})
		return err
	})

	entry := audit.Record{
		TenantID:  tenantID,
		ContactID: event.ContactID,
		Trigger:   audit.TriggerAnalytics,
		Method:    http.MethodPost,
		Path:      path,
		Attempts:  attempts,
		Outcome:   audit.OutcomeDelivered,
	}
	if err != nil {
		entry.Error = err.Error()
		entry.Outcome = audit.OutcomeFatal
		var de *dispatch.Error
		if errors.As(err, &de) {
			entry.StatusCode = de.StatusCode
		}
		var exhausted *dispatch.ExhaustedError
		if errors.As(err, &exhausted) {
			entry.Outcome = audit.OutcomeExhausted
			s.audits.Observe(ctx, entry)
			s.log.Error("analytics delivery exhausted", "contact_id", event.ContactID, "tenant_id", tenantID, "err", err)
			return nil
		}
	}
	s.audits.Observe(ctx, entry)
	if err != nil {
		return fmt.Errorf("analytics: deliver %s: %w", event.ContactID, err)
	}
	return nil
}
