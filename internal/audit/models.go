package audit

import "time"

// Record is an immutable, append-only log of one outbound dispatch
// outcome.
//
// Invariants:
// - Records are never updated or deleted.
// - tenant_id is required for tenancy isolation.
// - Appending is best-effort; a live telephony flow never blocks on it.
//
// Storage (Postgres): table dispatch_audit with an INSERT-only policy,
// optionally partitioned by time for retention.
type Record struct {
	ID       string `json:"id" db:"id"`
	TenantID string `json:"tenant_id" db:"tenant_id"`

	// ContactID ties the dispatch back to the telephony interaction.
	ContactID string `json:"contact_id" db:"contact_id"`

	// Trigger names the originating trigger (call_created, transcript, …).
	Trigger Trigger `json:"trigger" db:"trigger"`

	Method string `json:"method" db:"method"`
	Path   string `json:"path" db:"path"`

	// StatusCode is the final HTTP status, 0 when no response was received.
	StatusCode int `json:"status_code" db:"status_code"`

	// Attempts counts how many HTTP attempts the dispatch consumed.
	Attempts int `json:"attempts" db:"attempts"`

	Outcome Outcome `json:"outcome" db:"outcome"`

	// Error is the final failure message for non-delivered outcomes.
	Error string `json:"error,omitempty" db:"error"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type Trigger string

const (
	TriggerCallCreated Trigger = "call_created"
	TriggerDisconnect  Trigger = "call_disconnected"
	TriggerTranscript  Trigger = "transcript"
	TriggerAnalytics   Trigger = "post_call_analytics"
	TriggerVoicemail   Trigger = "voicemail"
)

type Outcome string

const (
	OutcomeDelivered Outcome = "delivered"
	OutcomeExhausted Outcome = "exhausted"
	OutcomeFatal     Outcome = "fatal"
)
