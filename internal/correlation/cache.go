package correlation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Record is the durable mapping from a contact to its owning tenant.
//
// Invariants:
//   - Created once per contact by the call-creation trigger; later triggers
//     only read, except the best-effort enrichment in Merge.
//   - Last write wins. Concurrent writers for the same contact are expected
//     (duplicate trigger delivery, retried creation) and must stay harmless.
type Record struct {
	ContactID string `json:"contact_id"`
	TenantID  string `json:"tenant_id"`

	// AccessTenantID is the optional secondary tenant for REST-API-only
	// flows.
	AccessTenantID string `json:"access_tenant_id,omitempty"`

	// VoiceCallID is enriched after the CRM call record exists. Diagnostic
	// only; never required for tenant resolution.
	VoiceCallID string `json:"voice_call_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// Fields carries the enrichment values Merge may add to a record.
// Empty fields are left untouched.
type Fields struct {
	VoiceCallID    string
	AccessTenantID string
}

// ErrNotFound is the benign miss: no record was ever written for the
// contact. Distinguishable from a backend failure.
var ErrNotFound = errors.New("correlation: record not found")

// Location is the parsed "bucket[/prefix]" configuration string.
type Location struct {
	Bucket string
	Prefix string
}

func ParseLocation(s string) (Location, error) {
	s = strings.Trim(strings.TrimSpace(s), "/")
	if s == "" {
		return Location{}, errors.New("correlation: location is required")
	}
	bucket, prefix, _ := strings.Cut(s, "/")
	if bucket == "" {
		return Location{}, fmt.Errorf("correlation: bad location %q", s)
	}
	return Location{Bucket: bucket, Prefix: prefix}, nil
}

// Key derives the physical object key for a contact. Pure so tests can
// assert exact key strings.
func (l Location) Key(contactID string) string {
	if l.Prefix == "" {
		return contactID
	}
	return l.Prefix + "/" + contactID
}

// Cache maps contact identifiers to their owning tenant across trigger
// invocations. It is the only state shared between invocations and is
// eventually consistent, unordered, last-write-wins.
type Cache struct {
	store ObjectStore
	loc   Location
	log   *slog.Logger
	clock func() time.Time
}

func NewCache(store ObjectStore, loc Location, log *slog.Logger) *Cache {
	if log == nil {
		log = slog.Default()
	}
	return &Cache{store: store, loc: loc, log: log, clock: time.Now}
}

// Put writes the record, overwriting any previous one for the contact.
func (c *Cache) Put(ctx context.Context, rec Record) error {
	if rec.ContactID == "" {
		return errors.New("correlation: contact id is required")
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = c.clock().UTC()
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("correlation: marshal record: %w", err)
	}
	return c.store.PutObject(ctx, c.loc.Bucket, c.loc.Key(rec.ContactID), data)
}

// Get returns the record for the contact, or ErrNotFound on a miss.
func (c *Cache) Get(ctx context.Context, contactID string) (Record, error) {
	data, err := c.store.GetObject(ctx, c.loc.Bucket, c.loc.Key(contactID))
	if err != nil {
		if errors.Is(err, ErrObjectNotFound) {
			return Record{}, fmt.Errorf("%w: %s", ErrNotFound, contactID)
		}
		return Record{}, err
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return Record{}, fmt.Errorf("correlation: decode record %s: %w", contactID, err)
	}
	return rec, nil
}

// Merge enriches the record with the given fields, preserving everything
// else. Read-modify-write without locking: a concurrent enrichment may be
// lost (last write wins), which callers must tolerate.
func (c *Cache) Merge(ctx context.Context, contactID string, fields Fields) error {
	rec, err := c.Get(ctx, contactID)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			return err
		}
		rec = Record{ContactID: contactID, CreatedAt: c.clock().UTC()}
	}
	if fields.VoiceCallID != "" {
		rec.VoiceCallID = fields.VoiceCallID
	}
	if fields.AccessTenantID != "" {
		rec.AccessTenantID = fields.AccessTenantID
	}
	return c.Put(ctx, rec)
}

// Lookup is the degraded-continuation read used by downstream triggers.
// A miss logs a warning, a backend failure logs an error; both return
// ok=false so the caller can keep the telephony event alive and decide
// for itself whether tenant context is mandatory.
func (c *Cache) Lookup(ctx context.Context, contactID string) (Record, bool) {
	rec, err := c.Get(ctx, contactID)
	if err == nil {
		return rec, true
	}
	if errors.Is(err, ErrNotFound) {
		c.log.Warn("correlation record missing", "contact_id", contactID)
	} else {
		c.log.Error("correlation read failed", "contact_id", contactID, "err", err)
	}
	return Record{}, false
}
