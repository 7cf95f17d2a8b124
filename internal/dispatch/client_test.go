package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func TestSend_SetsAuthAndProviderHeaders(t *testing.T) {
	var gotAuth, gotProvider, gotContentType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotProvider = r.Header.Get("Telephony-Provider-Name")
		gotContentType = r.Header.Get("Content-Type")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient(2 * time.Second)
	resp, err := c.Send(context.Background(), Request{
		EndpointBase: srv.URL,
		Method:       http.MethodPost,
		Path:         "/voiceCalls",
		Bearer:       "assertion-token",
		Body:         map[string]string{"vendorCallKey": "C1"},
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status: %d", resp.StatusCode)
	}
	if gotAuth != "Bearer assertion-token" {
		t.Fatalf("authorization: %q", gotAuth)
	}
	if gotProvider != "amazon-connect" {
		t.Fatalf("provider header: %q", gotProvider)
	}
	if gotContentType != "application/json" {
		t.Fatalf("content type: %q", gotContentType)
	}
}

func TestSend_NonSuccessIsStructuredError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"message":"rate limited"}`))
	}))
	defer srv.Close()

	c := NewClient(2 * time.Second)
	_, err := c.Send(context.Background(), Request{
		EndpointBase: srv.URL,
		Method:       http.MethodPost,
		Path:         "/voiceCalls",
	})

	var de *Error
	if !errors.As(err, &de) {
		t.Fatalf("expected *Error, got %v", err)
	}
	if de.StatusCode != http.StatusTooManyRequests || !de.Retryable() {
		t.Fatalf("unexpected error: %+v", de)
	}
	if !strings.Contains(de.Body, "rate limited") {
		t.Fatalf("body not captured: %q", de.Body)
	}
}

func TestSend_401RefreshesExactlyOnce(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		if r.Header.Get("Authorization") == "Bearer fresh-token" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	refreshes := 0
	c := NewClient(2 * time.Second)
	resp, err := c.Send(context.Background(), Request{
		EndpointBase: srv.URL,
		Method:       http.MethodPost,
		Path:         "/telephony/analytics",
		Bearer:       "stale-token",
		RefreshToken: func(context.Context) (string, error) {
			refreshes++
			return "fresh-token", nil
		},
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status: %d", resp.StatusCode)
	}
	if refreshes != 1 {
		t.Fatalf("expected one refresh, got %d", refreshes)
	}
	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Fatalf("expected 2 requests, got %d", got)
	}
}

func TestSend_Second401IsFatal(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	refreshes := 0
	c := NewClient(2 * time.Second)
	_, err := c.Send(context.Background(), Request{
		EndpointBase: srv.URL,
		Method:       http.MethodPost,
		Path:         "/telephony/analytics",
		Bearer:       "stale-token",
		RefreshToken: func(context.Context) (string, error) {
			refreshes++
			return "still-stale", nil
		},
	})

	var de *Error
	if !errors.As(err, &de) || de.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 error, got %v", err)
	}
	if de.Retryable() {
		t.Fatalf("second 401 must be fatal")
	}
	if refreshes != 1 {
		t.Fatalf("expected exactly one refresh, got %d", refreshes)
	}
	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Fatalf("expected 2 requests, got %d", got)
	}
}

func TestSend_No401RefreshWithoutTokenFunc(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := NewClient(2 * time.Second)
	_, err := c.Send(context.Background(), Request{
		EndpointBase: srv.URL,
		Method:       http.MethodGet,
		Path:         "/voiceCalls/C1",
	})
	var de *Error
	if !errors.As(err, &de) || de.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("expected single request, got %d", got)
	}
}

func TestSend_MultipartUpload(t *testing.T) {
	var gotContentType string
	var gotFile []byte
	var gotField string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotContentType = r.Header.Get("Content-Type")
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		f, _, err := r.FormFile("audioFile")
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		defer f.Close()
		buf := make([]byte, 16)
		n, _ := f.Read(buf)
		gotFile = buf[:n]
		gotField = r.FormValue("durationMillis")
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	c := NewClient(2 * time.Second)
	resp, err := c.Send(context.Background(), Request{
		EndpointBase: srv.URL,
		Method:       http.MethodPost,
		Path:         "/voiceCalls/C1/audio",
		Bearer:       "assertion-token",
		Multipart: &MultipartBody{
			FieldName: "audioFile",
			FileName:  "voicemail.wav",
			Content:   []byte("RIFFdata"),
			Fields:    map[string]string{"durationMillis": "8000"},
		},
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status: %d", resp.StatusCode)
	}
	if !strings.HasPrefix(gotContentType, "multipart/form-data") {
		t.Fatalf("content type: %q", gotContentType)
	}
	if string(gotFile) != "RIFFdata" {
		t.Fatalf("file content: %q", gotFile)
	}
	if gotField != "8000" {
		t.Fatalf("form field: %q", gotField)
	}
}

func TestSend_DebugHookObservesCalls(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"ok": "true"})
	}))
	defer srv.Close()

	var observed int
	c := NewClient(2 * time.Second).WithDebugHook(func(method, url string, status int, elapsed time.Duration) {
		observed++
		if method != http.MethodGet || status != http.StatusOK {
			t.Errorf("unexpected hook call: %s %d", method, status)
		}
	})

	if _, err := c.Send(context.Background(), Request{
		EndpointBase: srv.URL,
		Method:       http.MethodGet,
		Path:         "/voiceCalls/C1",
	}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if observed != 1 {
		t.Fatalf("expected one hook call, got %d", observed)
	}
}
