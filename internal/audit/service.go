package audit

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Repository is the persistence contract for dispatch audit records.
//
// It MUST be append-only.
// No Update/Delete methods are provided by design.
type Repository interface {
	Append(ctx context.Context, r Record) error
}

var ErrInvalidRecord = errors.New("audit: invalid record")

// Service records dispatch outcomes.
//
// Audit is internal-only and best-effort: Observe never returns an error,
// it logs and moves on, because a side-store hiccup must not cost a live
// telephony event.
type Service struct {
	repo  Repository
	log   *slog.Logger
	clock func() time.Time
}

func NewService(repo Repository, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{repo: repo, log: log, clock: time.Now}
}

// Append validates and stores one record, returning any failure. Most
// callers want Observe instead.
func (s *Service) Append(ctx context.Context, r Record) error {
	if s.repo == nil {
		return errors.New("audit: repository not configured")
	}
	if r.TenantID == "" {
		return ErrInvalidRecord
	}
	if r.Trigger == "" || r.Outcome == "" {
		return ErrInvalidRecord
	}

	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = s.clock().UTC()
	}
	return s.repo.Append(ctx, r)
}

// Observe is the fire-and-forget append used on the dispatch path.
func (s *Service) Observe(ctx context.Context, r Record) {
	if s == nil {
		return
	}
	if err := s.Append(ctx, r); err != nil {
		s.log.Warn("dispatch audit append failed",
			"tenant_id", r.TenantID,
			"contact_id", r.ContactID,
			"trigger", r.Trigger,
			"err", err,
		)
	}
}
