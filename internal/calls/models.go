package calls

import "time"

// CreateRequest is the call-creation trigger input: the first event for a
// contact, and the only one that carries explicit tenant context.
type CreateRequest struct {
	ContactID string `json:"contact_id" binding:"required"`

	// TenantID is the explicit request parameter; highest precedence.
	TenantID string `json:"tenant_id,omitempty"`

	// AttributeTenantID is the contact-attribute-supplied override; used
	// when no explicit tenant is given.
	AttributeTenantID string `json:"attribute_tenant_id,omitempty"`

	// AccessTenantID is the optional secondary tenant for REST-API-only
	// flows, stored on the correlation record for later triggers.
	AccessTenantID string `json:"access_tenant_id,omitempty"`

	From string `json:"from,omitempty"`
	To   string `json:"to,omitempty"`

	// InitiationMethod is the contact-flow initiation kind
	// (Inbound, Outbound, Transfer, Callback).
	InitiationMethod string `json:"initiation_method,omitempty"`

	StartTime time.Time `json:"start_time,omitempty"`
}

// CreateResult reports a successful creation dispatch.
type CreateResult struct {
	TenantID    string `json:"tenant_id"`
	VoiceCallID string `json:"voice_call_id,omitempty"`
}

// DisconnectRequest is the disconnect/reroute trigger input. It carries no
// tenant identifier: the owning tenant is recovered from correlation.
type DisconnectRequest struct {
	ContactID string `json:"contact_id" binding:"required"`

	Reason  string    `json:"reason,omitempty"`
	EndTime time.Time `json:"end_time,omitempty"`

	// Reroute asks for call routing to be re-triggered after the
	// disconnect is delivered.
	Reroute bool `json:"reroute,omitempty"`
}

// voiceCallPayload is the creation body sent to the voice API.
type voiceCallPayload struct {
	VendorCallKey     string `json:"vendorCallKey"`
	CallCenterAPIName string `json:"callCenterApiName"`
	InitiationMethod  string `json:"initiationMethod,omitempty"`
	From              string `json:"caller,omitempty"`
	To                string `json:"callee,omitempty"`
	StartTime         string `json:"startTime,omitempty"`

	Participants []participant `json:"participants,omitempty"`
}

type participant struct {
	ParticipantKey string `json:"participantKey"`
	Type           string `json:"type"`
}

// voiceCallResponse is the subset of the creation response we use.
type voiceCallResponse struct {
	VoiceCallID string `json:"voiceCallId"`
}

type disconnectPayload struct {
	Reason  string `json:"reason,omitempty"`
	EndTime string `json:"endTime,omitempty"`
}
