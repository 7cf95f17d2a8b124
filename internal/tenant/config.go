package tenant

import (
	"fmt"
	"strings"
	"time"
)

// Secret document keys shared by every tenant secret.
const (
	keyEndpointBase      = "SCRT_ENDPOINT_BASE"
	keyOrgID             = "SALESFORCE_ORG_ID"
	keyCallCenterAPIName = "CALL_CENTER_API_NAME"
	keyAudience          = "AUDIENCE"
	keyTokenTTL          = "TOKEN_TTL"
)

// Per-tenant material is namespaced by call center API name so several
// call centers can share one secret document.
const (
	signingKeySuffix  = "-scrt-jwt-auth-private-key"
	accessTokenSuffix = "-access-token"
)

// DefaultAudience is the CRM-side token audience used when the secret
// does not override it.
const DefaultAudience = "https://scrt.salesforce.com"

// DefaultTokenTTL keeps assertions short-lived; they are minted per call
// and never reused.
const DefaultTokenTTL = 5 * time.Minute

// Config is one tenant's complete integration profile, resolved from the
// secret backend. A Config with empty required fields is never returned
// by Store.Resolve.
type Config struct {
	// TenantID is the opaque secret name this config was resolved from.
	TenantID string

	OrgID             string
	CallCenterAPIName string
	EndpointBase      string
	Audience          string

	// SigningKey is PEM or bare base64 DER private key material.
	SigningKey string

	// AccessToken is the OAuth bearer used by REST-API-only flows.
	// Optional; telephony flows mint JWTs instead.
	AccessToken string

	TokenTTL time.Duration
}

// SigningKeyName returns the secret document key holding this call
// center's JWT signing key.
func SigningKeyName(callCenterAPIName string) string {
	return callCenterAPIName + signingKeySuffix
}

// AccessTokenName returns the secret document key holding this call
// center's REST access token.
func AccessTokenName(callCenterAPIName string) string {
	return callCenterAPIName + accessTokenSuffix
}

func configFromSecret(tenantID string, values map[string]string) (Config, error) {
	c := Config{
		TenantID:          tenantID,
		OrgID:             strings.TrimSpace(values[keyOrgID]),
		CallCenterAPIName: strings.TrimSpace(values[keyCallCenterAPIName]),
		EndpointBase:      strings.TrimSpace(values[keyEndpointBase]),
		Audience:          strings.TrimSpace(values[keyAudience]),
		TokenTTL:          DefaultTokenTTL,
	}
	if c.Audience == "" {
		c.Audience = DefaultAudience
	}
	if raw := strings.TrimSpace(values[keyTokenTTL]); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			return Config{}, fmt.Errorf("%w: %s: bad %s %q", ErrMalformed, tenantID, keyTokenTTL, raw)
		}
		c.TokenTTL = d
	}

	if c.CallCenterAPIName != "" {
		c.SigningKey = values[SigningKeyName(c.CallCenterAPIName)]
		c.AccessToken = values[AccessTokenName(c.CallCenterAPIName)]
	}

	var missing []string
	if c.OrgID == "" {
		missing = append(missing, keyOrgID)
	}
	if c.CallCenterAPIName == "" {
		missing = append(missing, keyCallCenterAPIName)
	}
	if c.EndpointBase == "" {
		missing = append(missing, keyEndpointBase)
	}
	if c.CallCenterAPIName != "" && c.SigningKey == "" {
		missing = append(missing, SigningKeyName(c.CallCenterAPIName))
	}
	if len(missing) > 0 {
		return Config{}, fmt.Errorf("%w: %s: missing %s", ErrMalformed, tenantID, strings.Join(missing, ", "))
	}
	return c, nil
}
