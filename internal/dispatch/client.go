package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/textproto"
	"strings"
	"time"
)

// Fixed provider identification carried on every outbound call.
const (
	providerHeader = "Telephony-Provider-Name"
	providerName   = "amazon-connect"
)

// Error is a structured dispatch failure carrying the HTTP status and
// response body.
type Error struct {
	StatusCode int
	Body       string
}

func (e *Error) Error() string {
	return fmt.Sprintf("dispatch: http %d: %s", e.StatusCode, e.Body)
}

// Retryable classifies the failure: 429 and 5xx are transient, every
// other status is fatal.
func (e *Error) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// IsRetryable reports whether a dispatch failure is worth re-attempting.
// Timeouts count as retryable, same as a 5xx; errors that never produced
// an HTTP response (bad request construction, signing failures) are fatal.
func IsRetryable(err error) bool {
	var de *Error
	if errors.As(err, &de) {
		return de.Retryable()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return false
}

// TokenFunc supplies a fresh bearer token after a 401. REST flows wire it
// to a secret reload; telephony JWT flows leave it nil.
type TokenFunc func(ctx context.Context) (string, error)

// MultipartBody describes a file-style upload: one file part plus
// ordinary form fields.
type MultipartBody struct {
	FieldName string
	FileName  string

	// ContentType overrides the file part's media type. Empty means
	// application/octet-stream.
	ContentType string

	Content []byte
	Fields  map[string]string
}

// Request is one authenticated call against a tenant endpoint.
type Request struct {
	// EndpointBase is the tenant's base URL.
	EndpointBase string

	Method string
	Path   string

	// Bearer goes out as "Authorization: Bearer …".
	Bearer string

	// Body is JSON-marshaled when non-nil. Mutually exclusive with
	// Multipart.
	Body any

	Multipart *MultipartBody

	Header http.Header

	// RefreshToken, when set, handles the 401 access-token-expired case:
	// exactly one refresh and one retry; a second 401 is fatal.
	RefreshToken TokenFunc
}

// Response is a successful (2xx) dispatch result.
type Response struct {
	StatusCode int
	Body       []byte
}

// DebugHook observes completed dispatch attempts when debug logging is
// enabled. Nil disables it with no other behavioral difference.
type DebugHook func(method, url string, status int, elapsed time.Duration)

// Client executes authenticated HTTP calls against tenant-specific
// endpoints. Purely network I/O; no local state mutation.
type Client struct {
	httpClient *http.Client
	debug      DebugHook
}

func NewClient(timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{httpClient: &http.Client{Timeout: timeout}}
}

// WithDebugHook sets the injected logging hook. Returns the client for
// wiring convenience.
func (c *Client) WithDebugHook(hook DebugHook) *Client {
	c.debug = hook
	return c
}

// Send performs the request. Non-2xx responses surface as *Error; network
// failures are wrapped verbatim so IsRetryable can classify timeouts.
func (c *Client) Send(ctx context.Context, req Request) (*Response, error) {
	resp, err := c.send(ctx, req, req.Bearer)
	if err == nil || req.RefreshToken == nil {
		return resp, err
	}

	var de *Error
	if !errors.As(err, &de) || de.StatusCode != http.StatusUnauthorized {
		return resp, err
	}

	// One refresh, one retry. A second 401 comes back fatal.
	fresh, refreshErr := req.RefreshToken(ctx)
	if refreshErr != nil {
		return nil, fmt.Errorf("dispatch: token refresh after 401: %w", refreshErr)
	}
	return c.send(ctx, req, fresh)
}

func (c *Client) send(ctx context.Context, req Request, bearer string) (*Response, error) {
	url := strings.TrimRight(req.EndpointBase, "/") + req.Path

	body, contentType, err := encodeBody(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, url, body)
	if err != nil {
		return nil, fmt.Errorf("dispatch: build request: %w", err)
	}

	if bearer != "" {
		httpReq.Header.Set("Authorization", "Bearer "+bearer)
	}
	httpReq.Header.Set(providerHeader, providerName)
	httpReq.Header.Set("Accept", "application/json")
	if contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}
	for k, values := range req.Header {
		for _, v := range values {
			httpReq.Header.Add(k, v)
		}
	}

	start := time.Now()
	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if c.debug != nil {
			c.debug(req.Method, url, 0, time.Since(start))
		}
		return nil, fmt.Errorf("dispatch: %s %s: %w", req.Method, url, err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(httpResp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("dispatch: read response: %w", err)
	}
	if c.debug != nil {
		c.debug(req.Method, url, httpResp.StatusCode, time.Since(start))
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		return nil, &Error{StatusCode: httpResp.StatusCode, Body: string(respBody)}
	}
	return &Response{StatusCode: httpResp.StatusCode, Body: respBody}, nil
}

func encodeBody(req Request) (io.Reader, string, error) {
	switch {
	case req.Multipart != nil:
		var buf bytes.Buffer
		w := multipart.NewWriter(&buf)
		part, err := createFilePart(w, req.Multipart)
		if err != nil {
			return nil, "", fmt.Errorf("dispatch: multipart file part: %w", err)
		}
		if _, err := part.Write(req.Multipart.Content); err != nil {
			return nil, "", fmt.Errorf("dispatch: multipart write: %w", err)
		}
		for k, v := range req.Multipart.Fields {
			if err := w.WriteField(k, v); err != nil {
				return nil, "", fmt.Errorf("dispatch: multipart field %s: %w", k, err)
			}
		}
		if err := w.Close(); err != nil {
			return nil, "", fmt.Errorf("dispatch: multipart close: %w", err)
		}
		return &buf, w.FormDataContentType(), nil

	case req.Body != nil:
		data, err := json.Marshal(req.Body)
		if err != nil {
			return nil, "", fmt.Errorf("dispatch: marshal body: %w", err)
		}
		return bytes.NewReader(data), "application/json", nil

	default:
		return nil, "", nil
	}
}

func createFilePart(w *multipart.Writer, m *MultipartBody) (io.Writer, error) {
	if m.ContentType == "" {
		return w.CreateFormFile(m.FieldName, m.FileName)
	}
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, m.FieldName, m.FileName))
	h.Set("Content-Type", m.ContentType)
	return w.CreatePart(h)
}
