package routing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"voicebridge/internal/dispatch"
)

// ErrDisabled means no control-plane endpoint is configured; reroute and
// attribute updates are unavailable in this deployment.
var ErrDisabled = errors.New("routing: control plane not configured")

// ControlPlane talks to the telephony side: it re-triggers contact
// routing after an abnormal disconnect and pushes status attributes back
// onto a live contact. It is the inverse direction of the CRM dispatch
// path and shares its HTTP client.
type ControlPlane struct {
	base   string
	client *dispatch.Client
	log    *slog.Logger
}

func NewControlPlane(base string, client *dispatch.Client, log *slog.Logger) *ControlPlane {
	if log == nil {
		log = slog.Default()
	}
	return &ControlPlane{base: base, client: client, log: log}
}

// Enabled reports whether a control-plane endpoint is configured.
func (p *ControlPlane) Enabled() bool { return p != nil && p.base != "" }

type routePayload struct {
	Reason string `json:"reason"`
}

// RouteCall asks the telephony platform to re-run contact routing, e.g.
// to land the caller back in a queue after an agent-side drop.
func (p *ControlPlane) RouteCall(ctx context.Context, contactID string) error {
	if !p.Enabled() {
		return ErrDisabled
	}
	_, err := p.client.Send(ctx, dispatch.Request{
		EndpointBase: p.base,
		Method:       http.MethodPost,
		Path:         "/contacts/" + contactID + "/route",
		Body:         routePayload{Reason: "disconnect"},
	})
	if err != nil {
		return fmt.Errorf("routing: route contact %s: %w", contactID, err)
	}
	p.log.Info("contact rerouted", "contact_id", contactID)
	return nil
}

type attributesPayload struct {
	Attributes map[string]string `json:"attributes"`
}

// ReportTranscriptionStatus writes a transcription status attribute onto
// the contact so agents and flows can react to delivery problems.
func (p *ControlPlane) ReportTranscriptionStatus(ctx context.Context, contactID, status string) error {
	if !p.Enabled() {
		return ErrDisabled
	}
	_, err := p.client.Send(ctx, dispatch.Request{
		EndpointBase: p.base,
		Method:       http.MethodPost,
		Path:         "/contacts/" + contactID + "/attributes",
		Body:         attributesPayload{Attributes: map[string]string{"transcriptionStatus": status}},
	})
	if err != nil {
		return fmt.Errorf("routing: update attributes %s: %w", contactID, err)
	}
	return nil
}
