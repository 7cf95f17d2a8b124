package audit

import (
	"context"
	"database/sql"
	"errors"
)

// PostgresRepo persists audit records via database/sql (pgx stdlib
// driver). Assumes the dispatch_audit table exists with an INSERT-only
// policy; see models.go.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

func (r *PostgresRepo) Append(ctx context.Context, rec Record) error {
	if r.db == nil {
		return errors.New("audit: db not configured")
	}
	const q = `
INSERT INTO dispatch_audit
  (id, tenant_id, contact_id, trigger, method, path, status_code, attempts, outcome, error, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
`
	_, err := r.db.ExecContext(ctx, q,
		rec.ID,
		rec.TenantID,
		rec.ContactID,
		string(rec.Trigger),
		rec.Method,
		rec.Path,
		rec.StatusCode,
		rec.Attempts,
		string(rec.Outcome),
		rec.Error,
		rec.CreatedAt,
	)
	return err
}
