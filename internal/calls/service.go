package calls

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"voicebridge/internal/audit"
	"voicebridge/internal/correlation"
	"voicebridge/internal/credential"
	"voicebridge/internal/dispatch"
	"voicebridge/internal/tenant"
)

// ErrNoTenantContext means a downstream trigger could not recover the
// owning tenant from correlation and the operation cannot proceed
// without one.
var ErrNoTenantContext = errors.New("calls: no tenant context for contact")

// Router re-triggers call routing through the telephony control plane.
// Transient failures should classify retryable (dispatch errors or
// timeouts); the workflow retry policy re-attempts the whole step.
type Router interface {
	RouteCall(ctx context.Context, contactID string) error
}

// Service implements the call-creation and disconnect/reroute triggers.
type Service struct {
	tenants *tenant.Store
	cache   *correlation.Cache
	issuer  *credential.Issuer
	client  *dispatch.Client

	httpRetry     dispatch.Policy
	workflowRetry dispatch.Policy

	router Router
	audits *audit.Service
	log    *slog.Logger

	// defaultTenant is the environment fallback, lowest precedence.
	defaultTenant string
}

type ServiceDeps struct {
	Tenants       *tenant.Store
	Cache         *correlation.Cache
	Issuer        *credential.Issuer
	Client        *dispatch.Client
	HTTPRetry     dispatch.Policy
	WorkflowRetry dispatch.Policy
	Router        Router
	Audits        *audit.Service
	Log           *slog.Logger
	DefaultTenant string
}

func NewService(d ServiceDeps) *Service {
	log := d.Log
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		tenants:       d.Tenants,
		cache:         d.Cache,
		issuer:        d.Issuer,
		client:        d.Client,
		httpRetry:     d.HTTPRetry,
		workflowRetry: d.WorkflowRetry,
		router:        d.Router,
		audits:        d.Audits,
		log:           log,
		defaultTenant: d.DefaultTenant,
	}
}

// Create dispatches the voice-call creation and, on success, writes the
// contact→tenant correlation record that every later trigger depends on.
// A creation dispatch failure propagates; a correlation write failure
// does not, since it only degrades future correlation.
func (s *Service) Create(ctx context.Context, req CreateRequest) (CreateResult, error) {
	tenantID, err := tenant.ResolveTenantID(req.TenantID, req.AttributeTenantID, s.defaultTenant)
	if err != nil {
		return CreateResult{}, err
	}
	cfg, err := s.tenants.Resolve(ctx, tenantID)
	if err != nil {
		return CreateResult{}, err
	}

	payload := voiceCallPayload{
		VendorCallKey:     req.ContactID,
		CallCenterAPIName: cfg.CallCenterAPIName,
		InitiationMethod:  req.InitiationMethod,
		From:              req.From,
		To:                req.To,
	}
	if !req.StartTime.IsZero() {
		payload.StartTime = req.StartTime.UTC().Format(time.RFC3339)
	}
	if req.From != "" {
		payload.Participants = []participant{{ParticipantKey: req.From, Type: "END_USER"}}
	}

	resp, attempts, err := s.dispatchJSON(ctx, cfg, http.MethodPost, "/voiceCalls", payload, s.httpRetry)
	s.observe(ctx, audit.TriggerCallCreated, tenantID, req.ContactID, http.MethodPost, "/voiceCalls", resp, attempts, err)
	if err != nil {
		return CreateResult{}, fmt.Errorf("calls: create %s: %w", req.ContactID, err)
	}

	result := CreateResult{TenantID: tenantID}
	var created voiceCallResponse
	if jsonErr := json.Unmarshal(resp.Body, &created); jsonErr == nil {
		result.VoiceCallID = created.VoiceCallID
	}

	// Correlation is best-effort: the current request already succeeded,
	// a write failure only hurts future triggers for this contact.
	rec := correlation.Record{
		ContactID:      req.ContactID,
		TenantID:       tenantID,
		AccessTenantID: req.AccessTenantID,
	}
	if err := s.cache.Put(ctx, rec); err != nil {
		s.log.Error("correlation write failed", "contact_id", req.ContactID, "tenant_id", tenantID, "err", err)
	} else if result.VoiceCallID != "" {
		if err := s.cache.Merge(ctx, req.ContactID, correlation.Fields{VoiceCallID: result.VoiceCallID}); err != nil {
			s.log.Warn("correlation enrichment failed", "contact_id", req.ContactID, "err", err)
		}
	}

	return result, nil
}

// Disconnect recovers the owning tenant from correlation and delivers the
// disconnect. Tenant context is mandatory here: without a correlation
// record the event cannot be attributed and the trigger fails.
func (s *Service) Disconnect(ctx context.Context, req DisconnectRequest) error {
	rec, ok := s.cache.Lookup(ctx, req.ContactID)
	if !ok || rec.TenantID == "" {
		return fmt.Errorf("%w: %s", ErrNoTenantContext, req.ContactID)
	}
	cfg, err := s.tenants.Resolve(ctx, rec.TenantID)
	if err != nil {
		return err
	}

	callKey := rec.VoiceCallID
	if callKey == "" {
		callKey = req.ContactID
	}
	path := "/voiceCalls/" + callKey + "/disconnect"

	payload := disconnectPayload{Reason: req.Reason}
	if !req.EndTime.IsZero() {
		payload.EndTime = req.EndTime.UTC().Format(time.RFC3339)
	}

	resp, attempts, err := s.dispatchJSON(ctx, cfg, http.MethodPatch, path, payload, s.httpRetry)
	s.observe(ctx, audit.TriggerDisconnect, rec.TenantID, req.ContactID, http.MethodPatch, path, resp, attempts, err)
	if err != nil {
		return fmt.Errorf("calls: disconnect %s: %w", req.ContactID, err)
	}

	if req.Reroute {
		return s.Reroute(ctx, req.ContactID)
	}
	return nil
}

// Reroute re-triggers call routing as a whole workflow step under the
// coarser workflow retry bound. This scope is distinct from the per-call
// HTTP retry: each attempt here may itself retry HTTP calls internally.
func (s *Service) Reroute(ctx context.Context, contactID string) error {
	if s.router == nil {
		return errors.New("calls: no router configured")
	}
	err := s.workflowRetry.Do(ctx, "reroute", func(ctx context.Context) error {
		return s.router.RouteCall(ctx, contactID)
	})
	if err != nil {
		return fmt.Errorf("calls: reroute %s: %w", contactID, err)
	}
	return nil
}

// dispatchJSON runs one authenticated dispatch under the given retry
// policy, minting a fresh assertion for every attempt.
func (s *Service) dispatchJSON(ctx context.Context, cfg tenant.Config, method, path string, body any, policy dispatch.Policy) (*dispatch.Response, int, error) {
	var resp *dispatch.Response
	attempts := 0
	err := policy.Do(ctx, method+" "+path, func(ctx context.Context) error {
		attempts++
		assertion, err := s.issuer.Issue(cfg)
		if err != nil {
			return err
		}
		r, err := s.client.Send(ctx, dispatch.Request{
			EndpointBase: cfg.EndpointBase,
			Method:       method,
			Path:         path,
			Bearer:       assertion.Token,
			Body:         body,
		})
		if err != nil {
			return err
		}
		resp = r
		return nil
	})
	return resp, attempts, err
}

func (s *Service) observe(ctx context.Context, trigger audit.Trigger, tenantID, contactID, method, path string, resp *dispatch.Response, attempts int, err error) {
	rec := audit.Record{
		TenantID:  tenantID,
		ContactID: contactID,
		Trigger:   trigger,
		Method:    method,
		Path:      path,
		Attempts:  attempts,
	}
	switch {
	case err == nil:
		rec.Outcome = audit.OutcomeDelivered
		if resp != nil {
			rec.StatusCode = resp.StatusCode
		}
	default:
		rec.Error = err.Error()
		var exhausted *dispatch.ExhaustedError
		if errors.As(err, &exhausted) {
			rec.Outcome = audit.OutcomeExhausted
		} else {
			rec.Outcome = audit.OutcomeFatal
		}
		var de *dispatch.Error
		if errors.As(err, &de) {
			rec.StatusCode = de.StatusCode
		}
	}
	s.audits.Observe(ctx, rec)
}
