package transcript

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"

	"voicebridge/internal/audit"
	"voicebridge/internal/correlation"
	"voicebridge/internal/credential"
	"voicebridge/internal/dispatch"
	"voicebridge/internal/tenant"
)

// Segment is one finalized real-time transcript message for a contact.
// Timestamps are epoch milliseconds, absolute (audio start offset already
// applied upstream).
type Segment struct {
	ContactID string `json:"contact_id" binding:"required"`

	MessageID string `json:"message_id" binding:"required"`
	Content   string `json:"content"`

	// SenderType is END_USER or VIRTUAL_AGENT.
	SenderType    string `json:"sender_type"`
	ParticipantID string `json:"participant_id"`

	StartTime int64 `json:"start_time"`
	EndTime   int64 `json:"end_time"`
}

// Report is the per-invocation delivery outcome. Batch failures never
// fail the invocation: the streaming pipeline must stay alive.
type Report struct {
	Batches   int `json:"batches"`
	Delivered int `json:"delivered"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`

	// RateLimited counts batches that exhausted on 429.
	RateLimited int `json:"rate_limited"`
}

// AttributeReporter pushes a transcription status back onto the contact
// in the telephony control plane, e.g. after transcript delivery hits
// the voice API's rate limits. Best-effort.
type AttributeReporter interface {
	ReportTranscriptionStatus(ctx context.Context, contactID, status string) error
}

// Limiter caps concurrent deliveries per tenant. Acquire reports false
// when the cap is reached; the batch is then counted as failed without
// dispatching.
type Limiter interface {
	Acquire(ctx context.Context, tenantID string) (bool, error)
	Release(ctx context.Context, tenantID string) error
}

// StatusLimitExceeded is the contact attribute value reported when the
// voice API keeps rate-limiting a transcript batch.
const StatusLimitExceeded = "Exceeded limits for creating transcript messages"

type resolvedSegment struct {
	Segment
	tenantID    string
	voiceCallID string
}

// Service delivers transcript segments in tenant-scoped batches with
// bounded fan-out.
type Service struct {
	tenants *tenant.Store
	cache   *correlation.Cache
	issuer  *credential.Issuer
	client  *dispatch.Client
	retry   dispatch.Policy

	batchSize int
	reporter  AttributeReporter
	limiter   Limiter
	audits    *audit.Service
	log       *slog.Logger
}

type ServiceDeps struct {
	Tenants   *tenant.Store
	Cache     *correlation.Cache
	Issuer    *credential.Issuer
	Client    *dispatch.Client
	Retry     dispatch.Policy
	BatchSize int
	Reporter  AttributeReporter
	Limiter   Limiter
	Audits    *audit.Service
	Log       *slog.Logger
}

func NewService(d ServiceDeps) *Service {
	log := d.Log
	if log == nil {
		log = slog.Default()
	}
	batchSize := d.BatchSize
	if batchSize <= 0 {
		batchSize = 25
	}
	return &Service{
		tenants:   d.Tenants,
		cache:     d.Cache,
		issuer:    d.Issuer,
		client:    d.Client,
		retry:     d.Retry,
		batchSize: batchSize,
		reporter:  d.Reporter,
		limiter:   d.Limiter,
		audits:    d.Audits,
		log:       log,
	}
}

// Deliver resolves each segment's owning tenant from correlation,
// partitions by tenant, and dispatches batches concurrently. One batch
// failing never cancels or corrupts its siblings, and exhaustion is
// swallowed: dropping the pipeline costs more than a lost batch.
func (s *Service) Deliver(ctx context.Context, segments []Segment) Report {
	report := Report{}

	// Per-invocation contact→record memo: many segments share a contact.
	records := map[string]*correlation.Record{}
	var resolved []resolvedSegment
	for _, seg := range segments {
		rec, seen := records[seg.ContactID]
		if !seen {
			if r, ok := s.cache.Lookup(ctx, seg.ContactID); ok {
				rec = &r
			}
			records[seg.ContactID] = rec
		}
		if rec == nil || rec.TenantID == "" {
			report.Skipped++
			continue
		}
		resolved = append(resolved, resolvedSegment{Segment: seg, tenantID: rec.TenantID, voiceCallID: rec.VoiceCallID})
	}

	batches := dispatch.PartitionByTenant(resolved, s.batchSize, func(r resolvedSegment) string {
		return r.tenantID
	})
	report.Batches = len(batches)
	if len(batches) == 0 {
		return report
	}

	// Fan out per batch; join with per-batch outcomes.
	outcomes := make([]error, len(batches))
	var wg sync.WaitGroup
	for i, batch := range batches {
		wg.Add(1)
		go func(i int, batch []resolvedSegment) {
			defer wg.Done()
			outcomes[i] = s.sendBatch(ctx, batch)
		}(i, batch)
	}
	wg.Wait()

	for i, err := range outcomes {
		if err == nil {
			report.Delivered += len(batches[i])
			continue
		}
		report.Failed += len(batches[i])

		var de *dispatch.Error
		if errors.As(err, &de) && de.StatusCode == http.StatusTooManyRequests {
			report.RateLimited++
			s.reportLimit(ctx, batches[i])
		}
		s.log.Error("transcript batch failed",
			"tenant_id", batches[i][0].tenantID,
			"segments", len(batches[i]),
			"err", err,
		)
	}
	return report
}

type messagesPayload struct {
	Messages []messageBody `json:"messages"`
}

type messageBody struct {
	CallKey       string `json:"vendorCallKey"`
	MessageID     string `json:"messageId"`
	ParticipantID string `json:"participantId"`
	Content       string `json:"content"`
	SenderType    string `json:"senderType"`
	StartTime     int64  `json:"startTime"`
	EndTime       int64  `json:"endTime"`
}

func (s *Service) sendBatch(ctx context.Context, batch []resolvedSegment) error {
	tenantID := batch[0].tenantID

	if s.limiter != nil {
		ok, err := s.limiter.Acquire(ctx, tenantID)
		if err != nil {
			return err
		}
		if !ok {
			return errors.New("transcript: tenant dispatch cap reached")
		}
		defer func() {
			if err := s.limiter.Release(ctx, tenantID); err != nil {
				s.log.Warn("dispatch cap release failed", "tenant_id", tenantID, "err", err)
			}
		}()
	}

	cfg, err := s.tenants.Resolve(ctx, tenantID)
	if err != nil {
		return err
	}

	payload := messagesPayload{Messages: make([]messageBody, 0, len(batch))}
	for _, seg := range batch {
		callKey := seg.voiceCallID
		if callKey == "" {
			callKey = seg.ContactID
		}
		payload.Messages = append(payload.Messages, messageBody{
			CallKey:       callKey,
			MessageID:     seg.MessageID,
			ParticipantID: seg.ParticipantID,
			Content:       seg.Content,
			SenderType:    seg.SenderType,
			StartTime:     seg.StartTime,
			EndTime:       seg.EndTime,
		})
	}

	attempts := 0
	err = s.retry.Do(ctx, "transcript batch", func(ctx context.Context) error {
		attempts++
		assertion, err := s.issuer.Issue(cfg)
		if err != nil {
			return err
		}
		_, err = s.client.Send(ctx, dispatch.Request{
			EndpointBase: cfg.EndpointBase,
			Method:       http.MethodPost,
			Path:         "/voiceCalls/messages",
			Bearer:       assertion.Token,
			Body:         payload,
		})
		return err
	})

	rec := audit.Record{
		TenantID:  tenantID,
		ContactID: batch[0].ContactID,
		Trigger:   audit.TriggerTranscript,
		Method:    http.MethodPost,
		Path:      "/voiceCalls/messages",
		Attempts:  attempts,
		Outcome:   audit.OutcomeDelivered,
	}
	if err != nil {
		rec.Error = err.Error()
		rec.Outcome = audit.OutcomeFatal
		var exhausted *dispatch.ExhaustedError
		if errors.As(err, &exhausted) {
			rec.Outcome = audit.OutcomeExhausted
		}
		var de *dispatch.Error
		if errors.As(err, &de) {
			rec.StatusCode = de.StatusCode
		}
	}
	s.audits.Observe(ctx, rec)
	return err
}

func (s *Service) reportLimit(ctx context.Context, batch []resolvedSegment) {
	if s.reporter == nil {
		return
	}
	seen := map[string]bool{}
	for _, seg := range batch {
		if seen[seg.ContactID] {
			continue
		}
		seen[seg.ContactID] = true
		if err := s.reporter.ReportTranscriptionStatus(ctx, seg.ContactID, StatusLimitExceeded); err != nil {
			s.log.Warn("transcription status report failed", "contact_id", seg.ContactID, "err", err)
		}
	}
}
