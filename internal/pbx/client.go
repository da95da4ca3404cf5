// Package pbx talks to a remote call-recording PBX over HTTPS.
//
// The PBX speaks a small session protocol: a JSON login that sets a session
// cookie, then authenticated GETs presenting that cookie. Appliances in the
// field almost always run self-signed certificates, so verification is off
// unless the connection opts into strict mode.
package pbx

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"
)

const (
	loginPath     = "/api/login"
	recordingPath = "/api/recording"
	statusPath    = "/api/status"

	maxDownloadAttempts = 3
)

// notReadyDelays is the backoff schedule for recordings the PBX has not
// finished writing yet.
var notReadyDelays = []time.Duration{5 * time.Second, 10 * time.Second, 20 * time.Second}

// Config identifies one PBX endpoint plus its credentials.
// Password arrives already decrypted; this package never sees envelopes.
type Config struct {
	Host      string
	Port      int
	Username  string
	Password  string
	VerifySSL bool

	AuthTimeout     time.Duration
	DownloadTimeout time.Duration
}

func (c Config) withDefaults() Config {
	out := c
	if out.Port <= 0 {
		out.Port = 8089
	}
	if out.AuthTimeout <= 0 {
		out.AuthTimeout = 10 * time.Second
	}
	if out.DownloadTimeout <= 0 {
		out.DownloadTimeout = 30 * time.Second
	}
	return out
}

func (c Config) baseURL() string {
	return fmt.Sprintf("https://%s:%d", c.Host, c.Port)
}

// TestResult reports the outcome of a connectivity check.
type TestResult struct {
	Success        bool   `json:"success"`
	Message        string `json:"message"`
	Error          string `json:"error,omitempty"`
	ResponseTimeMs int64  `json:"response_time_ms"`
}

// errorEnvelope is the PBX JSON error body: {"response":"error","message":...}
type errorEnvelope struct {
	Response string `json:"response"`
	Message  string `json:"message"`
}

// Client downloads recordings from one PBX. Safe for sequential reuse within
// a job; a Client is scoped to a single connection's credentials.
type Client struct {
	cfg  Config
	http *http.Client

	// sleep is swappable so tests can assert the backoff schedule
	// without waiting on wall time.
	sleep func(ctx context.Context, d time.Duration) error

	mu      sync.Mutex
	session string
}

// Option mutates client construction.
type Option func(*Client)

// WithSleep replaces the backoff sleeper (tests).
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Client) { c.sleep = fn }
}

// WithHTTPClient replaces the underlying HTTP client (tests).
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

func NewClient(cfg Config, opts ...Option) *Client {
	cfg = cfg.withDefaults()

	c := &Client{
		cfg: cfg,
		http: &http.Client{
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{
					// Field PBXs present self-signed certs; strict
					// verification is opt-in per connection.
					InsecureSkipVerify: !cfg.VerifySSL,
				},
			},
		},
		sleep: sleepCtx,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// authenticate logs in and caches the session cookie.
func (c *Client) authenticate(ctx context.Context) error {
	body, _ := json.Marshal(map[string]string{
		"username": c.cfg.Username,
		"password": c.cfg.Password,
	})

	authCtx, cancel := context.WithTimeout(ctx, c.cfg.AuthTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(authCtx, http.MethodPost, c.cfg.baseURL()+loginPath, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return Classify(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return ErrAuthFailed
	}
	if resp.StatusCode != http.StatusOK {
		return &StatusError{StatusCode: resp.StatusCode, Message: readErrorMessage(resp.Body)}
	}

	for _, ck := range resp.Cookies() {
		if ck.Name == "session" || ck.Name == "PHPSESSID" {
			c.mu.Lock()
			c.session = ck.Name + "=" + ck.Value
			c.mu.Unlock()
			return nil
		}
	}
	return fmt.Errorf("pbx: login succeeded but no session cookie in response")
}

func (c *Client) sessionCookie() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

func (c *Client) dropSession() {
	c.mu.Lock()
	c.session = ""
	c.mu.Unlock()
}

func (c *Client) ensureSession(ctx context.Context) error {
	if c.sessionCookie() != "" {
		return nil
	}
	return c.authenticate(ctx)
}

// DownloadRecording fetches one recording file by name.
//
// Retry policy, per attempt budget of 3:
//   - 404: the PBX has not finished writing the file; back off per
//     notReadyDelays and retry on the same session. Exhaustion surfaces
//     ErrRecordingNotReady, never a generic failure.
//   - 401: session expired; re-authenticate and spend the next attempt. A
//     401 on the last attempt surfaces ErrAuthFailed.
//   - any other non-2xx: terminal immediately.
//   - transport errors: terminal, classified for the operator.
func (c *Client) DownloadRecording(ctx context.Context, filename string) ([]byte, error) {
	if filename == "" {
		return nil, fmt.Errorf("pbx: filename is required")
	}
	if err := c.ensureSession(ctx); err != nil {
		return nil, err
	}

	for attempt := 1; attempt <= maxDownloadAttempts; attempt++ {
		data, status, err := c.fetchRecording(ctx, filename)
		if err != nil {
			return nil, err
		}

		switch {
		case status == http.StatusOK:
			return data, nil

		case status == http.StatusNotFound:
			if attempt == maxDownloadAttempts {
				return nil, ErrRecordingNotReady
			}
			if err := c.sleep(ctx, notReadyDelays[attempt-1]); err != nil {
				return nil, err
			}

		case status == http.StatusUnauthorized:
			// Session expired mid-run; refresh it and let the next
			// attempt proceed without extra backoff. A 401 on the
			// last attempt is an auth problem, not a slow recording.
			c.dropSession()
			if attempt == maxDownloadAttempts {
				return nil, ErrAuthFailed
			}
			if err := c.authenticate(ctx); err != nil {
				return nil, err
			}

		default:
			return nil, &StatusError{StatusCode: status, Message: errorMessageFromBody(data)}
		}
	}
	return nil, ErrRecordingNotReady
}

func (c *Client) fetchRecording(ctx context.Context, filename string) ([]byte, int, error) {
	dlCtx, cancel := context.WithTimeout(ctx, c.cfg.DownloadTimeout)
	defer cancel()

	u := c.cfg.baseURL() + recordingPath + "?filename=" + url.QueryEscape(filename)
	req, err := http.NewRequestWithContext(dlCtx, http.MethodGet, u, nil)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Cookie", c.sessionCookie())

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, Classify(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, Classify(err)
	}
	return data, resp.StatusCode, nil
}

// TestConnection authenticates and issues one authenticated read-only call.
// It reports success plus elapsed time and never retries.
func (c *Client) TestConnection(ctx context.Context) TestResult {
	start := time.Now()

	fail := func(err error) TestResult {
		return TestResult{
			Success:        false,
			Message:        "connection failed",
			Error:          err.Error(),
			ResponseTimeMs: time.Since(start).Milliseconds(),
		}
	}

	if err := c.authenticate(ctx); err != nil {
		return fail(err)
	}

	statusCtx, cancel := context.WithTimeout(ctx, c.cfg.AuthTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(statusCtx, http.MethodGet, c.cfg.baseURL()+statusPath, nil)
	if err != nil {
		return fail(err)
	}
	req.Header.Set("Cookie", c.sessionCookie())

	resp, err := c.http.Do(req)
	if err != nil {
		return fail(Classify(err))
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fail(&StatusError{StatusCode: resp.StatusCode})
	}

	return TestResult{
		Success:        true,
		Message:        "connection ok",
		ResponseTimeMs: time.Since(start).Milliseconds(),
	}
}

func readErrorMessage(r io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(r, 4096))
	if err != nil {
		return ""
	}
	return errorMessageFromBody(data)
}

func errorMessageFromBody(data []byte) string {
	var env errorEnvelope
	if err := json.Unmarshal(data, &env); err == nil && env.Response == "error" {
		return env.Message
	}
	return ""
}
