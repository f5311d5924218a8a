// Package backend provides the HTTP client for the blood-bank API: session
// cookie and bearer authentication, CSRF handling, request tracing and the
// backend's {error, code} envelope.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// maxBodyBytes bounds how much of a response body is read.
const maxBodyBytes = 4 << 20

// csrfCookieName is the cookie the backend pairs with the X-CSRFToken header.
const csrfCookieName = "csrftoken"

// Options configures a Client.
type Options struct {
	BaseURL           string
	SessionCookie     string
	SessionCookieName string
	// AuthToken is sent as a bearer token when set.
	AuthToken string
	CSRFToken string
	Timeout   time.Duration
	// Debug logs every request and response at debug level.
	Debug bool
	// Transport overrides the base transport, mainly for tests.
	Transport http.RoundTripper
}

// Client talks to the backend API.
type Client struct {
	base       *url.URL
	httpClient *http.Client
	authToken  string

	mu        sync.RWMutex
	csrfToken string
}

// Response is a fully read backend response.
type Response struct {
	Status int
	Body   []byte
}

// OK reports a 2xx status.
func (r *Response) OK() bool {
	return r.Status >= 200 && r.Status < 300
}

// ErrorEnvelope is the error body the backend returns with non-2xx statuses.
type ErrorEnvelope struct {
	Error   string          `json:"error"`
	Code    string          `json:"code"`
	Details json.RawMessage `json:"details,omitempty"`
}

// Envelope decodes the error envelope, falling back to the status text.
func (r *Response) Envelope() ErrorEnvelope {
	var env ErrorEnvelope
	if err := json.Unmarshal(r.Body, &env); err != nil || env.Error == "" {
		env.Error = fmt.Sprintf("HTTP %d: %s", r.Status, http.StatusText(r.Status))
	}
	return env
}

// NewClient creates a backend client.
func NewClient(opts Options) (*Client, error) {
	base, err := url.Parse(opts.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid backend URL: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("invalid backend URL %q: scheme must be http or https", opts.BaseURL)
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}

	var cookies []*http.Cookie
	if opts.SessionCookie != "" {
		name := opts.SessionCookieName
		if name == "" {
			name = "sessionid"
		}
		cookies = append(cookies, &http.Cookie{Name: name, Value: opts.SessionCookie, Path: "/"})
	}
	if opts.CSRFToken != "" {
		cookies = append(cookies, &http.Cookie{Name: csrfCookieName, Value: opts.CSRFToken, Path: "/"})
	}
	jar.SetCookies(base, cookies)

	transport := opts.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	if opts.Debug {
		transport = &LoggingRoundTripper{Transport: transport}
	}
	transport = &RequestIDRoundTripper{Transport: transport}

	timeout := opts.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}

	return &Client{
		base: base,
		httpClient: &http.Client{
			Transport: otelhttp.NewTransport(transport),
			Jar:       jar,
			Timeout:   timeout,
		},
		authToken: opts.AuthToken,
		csrfToken: opts.CSRFToken,
	}, nil
}

// BaseURL returns the backend root.
func (c *Client) BaseURL() string {
	return c.base.String()
}

// CSRFToken returns the token sent on unsafe requests.
func (c *Client) CSRFToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.csrfToken
}

// SetCSRFToken replaces the token sent on unsafe requests.
func (c *Client) SetCSRFToken(token string) {
	c.mu.Lock()
	c.csrfToken = token
	c.mu.Unlock()
}

// Get issues a GET for path with the given query.
func (c *Client) Get(ctx context.Context, path string, query url.Values) (*Response, error) {
	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	if len(query) > 0 {
		req.URL.RawQuery = query.Encode()
	}
	return c.do(req)
}

// PostJSON issues a POST with body encoded as JSON and the CSRF header set.
func (c *Client) PostJSON(ctx context.Context, path string, body any) (*Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request body: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, path, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if token := c.CSRFToken(); token != "" {
		req.Header.Set("X-CSRFToken", token)
	}
	// The backend's CSRF check requires a same-origin referer over HTTPS
	req.Header.Set("Referer", c.referer())

	return c.do(req)
}

// referer is the base URL with exactly one trailing slash.
func (c *Client) referer() string {
	base := *c.base
	base.Path = strings.TrimRight(base.Path, "/") + "/"
	base.RawPath = ""
	base.RawQuery = ""
	base.Fragment = ""
	return base.String()
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	ref, err := url.Parse(strings.TrimLeft(path, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid path %q: %w", path, err)
	}

	base := *c.base
	if !strings.HasSuffix(base.Path, "/") {
		base.Path += "/"
	}

	req, err := http.NewRequestWithContext(ctx, method, base.ResolveReference(ref).String(), body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}
	return req, nil
}

func (c *Client) do(req *http.Request) (*Response, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer func() { _ = resp.Body.Close() }() // nolint:errcheck // Close in defer, error not actionable

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	return &Response{Status: resp.StatusCode, Body: body}, nil
}
