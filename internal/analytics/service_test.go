package analytics

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"voicebridge/internal/audit"
	"voicebridge/internal/correlation"
	"voicebridge/internal/dispatch"
	"voicebridge/internal/secrets"
	"voicebridge/internal/tenant"
)

func noSleep(context.Context, time.Duration) error { return nil }

func tenantSecret(endpoint, token string) map[string]string {
	return map[string]string{
		"SCRT_ENDPOINT_BASE":                endpoint,
		"SALESFORCE_ORG_ID":                 "00Dxx0000001",
		"CALL_CENTER_API_NAME":              "acme_cc",
		"acme_cc-scrt-jwt-auth-private-key": "unused-by-rest-flow",
		"acme_cc-access-token":              token,
	}
}

func newService(t *testing.T, backend *secrets.MemoryBackend) (*Service, *correlation.Cache) {
	t.Helper()
	loc, err := correlation.ParseLocation("bridge-correlation/contacts")
	if err != nil {
		t.Fatalf("parse location: %v", err)
	}
	cache := correlation.NewCache(correlation.NewMemoryStore(), loc, nil)

	retry := dispatch.HTTPPolicy(time.Millisecond, nil)
	retry.Sleep = noSleep

	svc := NewService(ServiceDeps{
		Tenants: tenant.NewStore(backend),
		Cache:   cache,
		Client:  dispatch.NewClient(2 * time.Second),
		Retry:   retry,
		Audits:  audit.NewService(audit.NewMemoryRepo(), nil),
	})
	return svc, cache
}

func seed(t *testing.T, cache *correlation.Cache, rec correlation.Record) {
	t.Helper()
	if err := cache.Put(context.Background(), rec); err != nil {
		t.Fatalf("seed correlation: %v", err)
	}
}

func TestDeliver_PostsWithAccessToken(t *testing.T) {
	var gotAuth, gotPath string
	var gotBody analyticsPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		data, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(data, &gotBody)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	backend := secrets.NewMemoryBackend()
	backend.Set("T1", tenantSecret(srv.URL, "tok-123"))
	svc, cache := newService(t, backend)
	seed(t, cache, correlation.Record{ContactID: "C1", TenantID: "T1"})

	err := svc.Deliver(context.Background(), Event{
		ContactID:   "C1",
		Disposition: "resolved",
		Attributes:  map[string]string{"crm_csat": "5", "internal_flag": "x"},
	})
	if err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if gotAuth != "Bearer tok-123" {
		t.Fatalf("authorization = %q", gotAuth)
	}
	if gotPath != "/telephony/analytics" {
		t.Fatalf("path = %q", gotPath)
	}
	if gotBody.VendorCallKey != "C1" || gotBody.Disposition != "resolved" {
		t.Fatalf("body = %+v", gotBody)
	}
	if gotBody.Attributes["csat"] != "5" || len(gotBody.Attributes) != 1 {
		t.Fatalf("attributes = %v", gotBody.Attributes)
	}
}

func TestDeliver_PrefersAccessTenant(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	backend := secrets.NewMemoryBackend()
	backend.Set("T1-access", tenantSecret(srv.URL, "tok-access"))
	svc, cache := newService(t, backend)
	seed(t, cache, correlation.Record{ContactID: "C1", TenantID: "T1", AccessTenantID: "T1-access"})

	if err := svc.Deliver(context.Background(), Event{ContactID: "C1"}); err != nil {
		t.Fatalf("deliver: %v", err)
	}
}

func TestDeliver_RefreshesRotatedTokenOnce(t *testing.T) {
	backend := secrets.NewMemoryBackend()
	var requests int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requests, 1)
		if r.Header.Get("Authorization") != "Bearer tok-fresh" {
			// Rotate the backing secret so the refresh picks up the new token.
			backend.Set("T1", tenantSecret("http://"+r.Host, "tok-fresh"))
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	backend.Set("T1", tenantSecret(srv.URL, "tok-stale"))
	svc, cache := newService(t, backend)
	seed(t, cache, correlation.Record{ContactID: "C1", TenantID: "T1"})

	if err := svc.Deliver(context.Background(), Event{ContactID: "C1"}); err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if n := atomic.LoadInt32(&requests); n != 2 {
		t.Fatalf("expected 2 requests, got %d", n)
	}
}

func TestDeliver_MissingCorrelationFails(t *testing.T) {
	backend := secrets.NewMemoryBackend()
	svc, _ := newService(t, backend)

	err := svc.Deliver(context.Background(), Event{ContactID: "never-seen"})
	if !errors.Is(err, tenant.ErrNoTenantIdentifier) {
		t.Fatalf("expected ErrNoTenantIdentifier, got %v", err)
	}
}

func TestDeliver_MissingAccessTokenFails(t *testing.T) {
	backend := secrets.NewMemoryBackend()
	sec := tenantSecret("http://crm.invalid", "")
	delete(sec, "acme_cc-access-token")
	backend.Set("T1", sec)

	svc, cache := newService(t, backend)
	seed(t, cache, correlation.Record{ContactID: "C1", TenantID: "T1"})

	err := svc.Deliver(context.Background(), Event{ContactID: "C1"})
	if !errors.Is(err, ErrNoAccessToken) {
		t.Fatalf("expected ErrNoAccessToken, got %v", err)
	}
}

func TestDeliver_ExhaustionIsSwallowed(t *testing.T) {
	var requests int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requests, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	backend := secrets.NewMemoryBackend()
	backend.Set("T1", tenantSecret(srv.URL, "tok-123"))
	svc, cache := newService(t, backend)
	seed(t, cache, correlation.Record{ContactID: "C1", TenantID: "T1"})

	if err := svc.Deliver(context.Background(), Event{ContactID: "C1"}); err != nil {
		t.Fatalf("expected exhaustion to be swallowed, got %v", err)
	}
	if n := atomic.LoadInt32(&requests); n != 4 {
		t.Fatalf("expected 4 attempts, got %d", n)
	}
}

func TestDeliver_FatalStatusPropagates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	backend := secrets.NewMemoryBackend()
	backend.Set("T1", tenantSecret(srv.URL, "tok-123"))
	svc, cache := newService(t, backend)
	seed(t, cache, correlation.Record{ContactID: "C1", TenantID: "T1"})

	err := svc.Deliver(context.Background(), Event{ContactID: "C1"})
	var de *dispatch.Error
	if !errors.As(err, &de) || de.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 dispatch error, got %v", err)
	}
}
