// Package remote is the HTTP client for the authoritative session store.
package remote

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	iriserrors "iris/internal/errors"
	"iris/internal/httpclient"
	"iris/internal/jsonx"
	"iris/internal/logging"
	"iris/internal/session"
)

const (
	DefaultTimeout = 5 * time.Second

	maxResponseBytes   = 8 << 20
	maxScreenshotBytes = 32 << 20
)

// Screenshot is the latest capture the remote store holds for a device.
type Screenshot struct {
	DeviceID   string    `json:"device_id"`
	MediaType  string    `json:"media_type"`
	Data       string    `json:"data"` // base64
	CapturedAt time.Time `json:"captured_at,omitempty"`
}

// Client talks to the remote store. Every call is bounded by the client
// timeout and guarded by a circuit breaker, so an unreachable backend fails
// fast instead of stalling turns.
type Client struct {
	baseURL string
	http    *http.Client
	timeout time.Duration
	logger  logging.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the breaker-guarded default client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.http = client
		}
	}
}

// New creates a client for baseURL.
func New(baseURL string, timeout time.Duration, opts ...Option) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("remote store: base url is required")
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("remote store: invalid base url: %w", err)
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	logger := logging.NewComponentLogger("remote-store")
	breaker := iriserrors.CircuitBreakerConfig{
		FailureThreshold: 5,
		SuccessThreshold: 1,
		Timeout:          15 * time.Second,
	}
	c := &Client{
		baseURL: baseURL,
		http:    httpclient.NewWithCircuitBreakerConfig(timeout, logger, "remote-store", breaker),
		timeout: timeout,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// BaseURL returns the configured store URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// GetSession fetches session metadata.
func (c *Client) GetSession(ctx context.Context, sessionID string) (session.RemoteSession, error) {
	var payload struct {
		session.RemoteSession
		Session *session.RemoteSession `json:"session"`
	}
	if err := c.do(ctx, http.MethodGet, "/sessions/"+url.PathEscape(sessionID), nil, &payload); err != nil {
		return session.RemoteSession{}, err
	}
	if payload.Session != nil {
		return *payload.Session, nil
	}
	if payload.ID == "" {
		payload.ID = sessionID
	}
	return payload.RemoteSession, nil
}

// CreateSession registers a new session.
func (c *Client) CreateSession(ctx context.Context, s session.RemoteSession) error {
	return c.do(ctx, http.MethodPost, "/sessions", s, nil)
}

// UpdateSessionAgent records the session's preferred agent.
func (c *Client) UpdateSessionAgent(ctx context.Context, sessionID, agent string) error {
	body := map[string]string{"agent": agent}
	return c.do(ctx, http.MethodPatch, "/sessions/"+url.PathEscape(sessionID), body, nil)
}

// ListMessages returns up to limit of the most recent messages, oldest first.
// Both a bare JSON array and {"messages": [...]} are accepted.
func (c *Client) ListMessages(ctx context.Context, sessionID string, limit int) ([]session.Message, error) {
	path := "/sessions/" + url.PathEscape(sessionID) + "/messages"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var raw jsonx.RawMessage
	if err := c.do(ctx, http.MethodGet, path, nil, &raw); err != nil {
		return nil, err
	}

	var messages []session.Message
	trimmed := bytes.TrimSpace(raw)
	switch {
	case len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")):
		return []session.Message{}, nil
	case trimmed[0] == '[':
		if err := jsonx.Unmarshal(trimmed, &messages); err != nil {
			return nil, fmt.Errorf("decode messages: %w", err)
		}
	default:
		var wrapped struct {
			Messages []session.Message `json:"messages"`
		}
		if err := jsonx.Unmarshal(trimmed, &wrapped); err != nil {
			return nil, fmt.Errorf("decode messages: %w", err)
		}
		messages = wrapped.Messages
	}
	if limit > 0 && len(messages) > limit {
		messages = messages[len(messages)-limit:]
	}
	if messages == nil {
		messages = []session.Message{}
	}
	return messages, nil
}

// AppendMessage writes one message through to the store.
func (c *Client) AppendMessage(ctx context.Context, sessionID string, msg session.Message) error {
	return c.do(ctx, http.MethodPost, "/sessions/"+url.PathEscape(sessionID)+"/messages", msg, nil)
}

// LatestScreenshot fetches the newest capture for a device. The store may
// answer with JSON or with the raw image bytes.
func (c *Client) LatestScreenshot(ctx context.Context, deviceID string) (Screenshot, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	endpoint := c.baseURL + "/devices/" + url.PathEscape(deviceID) + "/screenshots/latest"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Screenshot{}, fmt.Errorf("build request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return Screenshot{}, fmt.Errorf("get screenshot: %w", err)
	}
	defer resp.Body.Close()

	data, err := httpclient.ReadAllWithLimit(resp.Body, maxScreenshotBytes)
	if err != nil {
		return Screenshot{}, fmt.Errorf("read screenshot: %w", err)
	}
	if resp.StatusCode == http.StatusNotFound {
		return Screenshot{}, fmt.Errorf("no screenshot for device %s: %w", deviceID, session.ErrNotFound)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Screenshot{}, iriserrors.FromHTTPStatus(resp.StatusCode, fmt.Sprintf("screenshot request failed with status %d", resp.StatusCode))
	}

	contentType := resp.Header.Get("Content-Type")
	if strings.HasPrefix(contentType, "image/") {
		return Screenshot{
			DeviceID:  deviceID,
			MediaType: strings.TrimSpace(strings.Split(contentType, ";")[0]),
			Data:      base64.StdEncoding.EncodeToString(data),
		}, nil
	}

	var shot Screenshot
	if err := jsonx.Unmarshal(data, &shot); err != nil {
		return Screenshot{}, fmt.Errorf("decode screenshot: %w", err)
	}
	if shot.Data == "" {
		return Screenshot{}, fmt.Errorf("screenshot for device %s has no image data", deviceID)
	}
	if shot.MediaType == "" {
		shot.MediaType = "image/png"
	}
	shot.DeviceID = deviceID
	return shot, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		data, err := jsonx.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s %s: %w", method, path, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build %s %s: %w", method, path, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := httpclient.ReadAllWithLimit(resp.Body, maxResponseBytes)
	if err != nil {
		return fmt.Errorf("read %s %s: %w", method, path, err)
	}
	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%s %s: %w", method, path, session.ErrNotFound)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return iriserrors.FromHTTPStatus(resp.StatusCode,
			fmt.Sprintf("%s %s: status %d: %s", method, path, resp.StatusCode, preview(data)))
	}
	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := jsonx.Unmarshal(data, out); err != nil {
		c.logger.Warn("decode %s %s failed: %v (body=%s)", method, path, err, preview(data))
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

func preview(data []byte) string {
	const limit = 256
	text := strings.TrimSpace(string(data))
	if len(text) > limit {
		return text[:limit] + "..."
	}
	return text
}
