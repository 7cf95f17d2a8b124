package voicemail

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"voicebridge/internal/audit"
	"voicebridge/internal/correlation"
	"voicebridge/internal/credential"
	"voicebridge/internal/dispatch"
	"voicebridge/internal/tenant"
)

// ErrNoTenantContext means the contact has no correlation record, so the
// voicemail cannot be attributed to a tenant.
var ErrNoTenantContext = errors.New("voicemail: no tenant context for contact")

// ErrNoRecording means the request carried no audio bytes.
var ErrNoRecording = errors.New("voicemail: recording is empty")

// Package is one voicemail ready for upload: the recording plus its
// transcript and duration metadata.
type Package struct {
	ContactID string `json:"contact_id" binding:"required"`

	// Recording is the raw audio, typically WAV from the telephony side.
	Recording []byte `json:"recording" binding:"required"`

	FileName       string `json:"file_name,omitempty"`
	ContentType    string `json:"content_type,omitempty"`
	DurationMillis int64  `json:"duration_millis,omitempty"`
	Transcript     string `json:"transcript,omitempty"`
}

// Service uploads voicemail packages to the CRM voice call record.
type Service struct {
	tenants *tenant.Store
	cache   *correlation.Cache
	issuer  *credential.Issuer
	client  *dispatch.Client
	retry   dispatch.Policy
	audits  *audit.Service
	log     *slog.Logger
}

type ServiceDeps struct {
	Tenants *tenant.Store
	Cache   *correlation.Cache
	Issuer  *credential.Issuer
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
		issuer:  d.Issuer,
		client:  d.Client,
		retry:   d.Retry,
		audits:  d.Audits,
		log:     log,
	}
}

// Upload attaches the recording and transcript to the contact's CRM voice
// call. Unlike analytics, a failed upload propagates: the caller owns the
// recording and must not discard it on an undelivered voicemail.
func (s *Service) Upload(ctx context.Context, pkg Package) error {
	if len(pkg.Recording) == 0 {
		return fmt.Errorf("%w: %s", ErrNoRecording, pkg.ContactID)
	}

	rec, ok := s.cache.Lookup(ctx, pkg.ContactID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoTenantContext, pkg.ContactID)
	}
	cfg, err := s.tenants.Resolve(ctx, rec.TenantID)
	if err != nil {
		return err
	}

	callKey := rec.VoiceCallID
	if callKey == "" {
		callKey = pkg.ContactID
	}
	path := "/voiceCalls/" + callKey + "/audio"

	fileName := pkg.FileName
	if fileName == "" {
		fileName = pkg.ContactID + ".wav"
	}
	fields := map[string]string{}
	if pkg.DurationMillis > 0 {
		fields["durationMillis"] = strconv.FormatInt(pkg.DurationMillis, 10)
	}
	if pkg.Transcript != "" {
		fields["transcript"] = pkg.Transcript
	}

	attempts := 0
	err = s.retry.Do(ctx, "voicemail", func(ctx context.Context) error {
		attempts++
		assertion, err := s.issuer.Issue(cfg)
		if err != nil {
			return err
		}
		_, err = s.client.Send(ctx, dispatch.Request{
			EndpointBase: cfg.EndpointBase,
			Method:       http.MethodPost,
			Path:         path,
			Bearer:       assertion.Token,
			Multipart: &dispatch.MultipartBody{
				FieldName:   "audioFile",
				FileName:    fileName,
				ContentType: pkg.ContentType,
				Content:     pkg.Recording,
				Fields:      fields,
			},
		})
		return err
	})

	entry := audit.Record{
		TenantID:  rec.TenantID,
		ContactID: pkg.ContactID,
		Trigger:   audit.TriggerVoicemail,
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
		}
	}
	s.audits.Observe(ctx, entry)

	if err != nil {
		return fmt.Errorf("voicemail: upload %s: %w", pkg.ContactID, err)
	}
	s.log.Info("voicemail uploaded", "contact_id", pkg.ContactID, "tenant_id", rec.TenantID, "bytes", len(pkg.Recording))
	return nil
}
