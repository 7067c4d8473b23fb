// Package api is the HTTP client for the server-side queue collaborator.
//
// Three endpoints are consumed, treated as a given boundary:
//
//	POST /api/pwa/queue          - register an action for server tracking
//	POST /api/pwa/queue/process  - batch-drain all outstanding actions
//	GET  /api/pwa/queue/status   - authoritative pending/processing counts
//
// The package also replays arbitrary queued mutations against their own
// endpoints; that is the local fallback path when batch draining fails.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/wingmanhq/offline-sync/internal/action"
)

// StatusTimeout bounds the queue-status call so a hung endpoint cannot
// block status reporting.
const StatusTimeout = 2 * time.Second

// ProcessResult is the server's batch-drain response.
type ProcessResult struct {
	Success   bool `json:"success"`
	Processed int  `json:"processed"`
	Failed    int  `json:"failed"`
}

// StatusResult is the server's authoritative queue status.
type StatusResult struct {
	Success    bool `json:"success"`
	Total      int  `json:"total"`
	Pending    int  `json:"pending"`
	Processing int  `json:"processing"`
}

// registerBody mirrors the server's queue-registration schema.
type registerBody struct {
	Action   string          `json:"action"`
	Endpoint string          `json:"endpoint"`
	Method   string          `json:"method"`
	Data     json.RawMessage `json:"data,omitempty"`
	UserID   string          `json:"userId,omitempty"`
}

// Client talks to the queue collaborator endpoints.
type Client struct {
	base          string
	http          *http.Client
	statusTimeout time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithStatusTimeout overrides the ceiling on the queue-status call.
func WithStatusTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.statusTimeout = d
		}
	}
}

// New creates a client for the given base URL, e.g. "http://localhost:5000".
// A nil httpClient uses a default with a 10-second timeout.
func New(base string, httpClient *http.Client, opts ...Option) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	c := &Client{
		base:          strings.TrimRight(base, "/"),
		http:          httpClient,
		statusTimeout: StatusTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Register reports a queued action to the server for tracking. Best-effort:
// callers treat failure as non-fatal since the action is already durable
// locally.
func (c *Client) Register(ctx context.Context, q action.Queued) error {
	body, err := json.Marshal(registerBody{
		Action:   q.Action,
		Endpoint: q.Endpoint,
		Method:   q.Method,
		Data:     q.Payload,
		UserID:   q.UserID,
	})
	if err != nil {
		return fmt.Errorf("register: marshal: %w", err)
	}

	resp, err := c.postJSON(ctx, c.base+"/api/pwa/queue", body)
	if err != nil {
		return fmt.Errorf("register: %w", err)
	}
	defer drain(resp)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("register: server returned %d", resp.StatusCode)
	}
	return nil
}

// ProcessAll asks the server to batch-drain every outstanding action for
// the caller. A successful response is authoritative: the caller may clear
// matching local entries.
func (c *Client) ProcessAll(ctx context.Context) (ProcessResult, error) {
	resp, err := c.postJSON(ctx, c.base+"/api/pwa/queue/process", []byte(`{"processAll":true}`))
	if err != nil {
		return ProcessResult{}, fmt.Errorf("process: %w", err)
	}
	defer drain(resp)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return ProcessResult{}, fmt.Errorf("process: server returned %d", resp.StatusCode)
	}

	var result ProcessResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return ProcessResult{}, fmt.Errorf("process: decode: %w", err)
	}
	if !result.Success {
		return result, fmt.Errorf("process: server reported failure")
	}
	return result, nil
}

// Status fetches the authoritative queue counts. The call is bounded by
// the client's status timeout, StatusTimeout unless overridden.
func (c *Client) Status(ctx context.Context) (StatusResult, error) {
	ctx, cancel := context.WithTimeout(ctx, c.statusTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/api/pwa/queue/status", nil)
	if err != nil {
		return StatusResult{}, fmt.Errorf("status: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return StatusResult{}, fmt.Errorf("status: %w", err)
	}
	defer drain(resp)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return StatusResult{}, fmt.Errorf("status: server returned %d", resp.StatusCode)
	}

	var result StatusResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return StatusResult{}, fmt.Errorf("status: decode: %w", err)
	}
	if !result.Success {
		return result, fmt.Errorf("status: server reported failure")
	}
	return result, nil
}

// Replay sends a queued mutation to its own endpoint. Returns the HTTP
// status code on any completed exchange; a transport-level failure returns
// an error and the caller treats it as a connectivity failure.
func (c *Client) Replay(ctx context.Context, q action.Queued) (int, error) {
	url := q.Endpoint
	if strings.HasPrefix(url, "/") {
		url = c.base + url
	}

	var body io.Reader
	if len(q.Payload) > 0 && q.Method != http.MethodGet {
		body = bytes.NewReader(q.Payload)
	}

	req, err := http.NewRequestWithContext(ctx, q.Method, url, body)
	if err != nil {
		return 0, fmt.Errorf("replay %s: %w", q.ID, err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range q.Headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("replay %s: %w", q.ID, err)
	}
	defer drain(resp)

	return resp.StatusCode, nil
}

func (c *Client) postJSON(ctx context.Context, url string, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.http.Do(req)
}

// drain discards and closes a response body so the connection can be
// reused by the transport.
func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<20))
	_ = resp.Body.Close()
}
