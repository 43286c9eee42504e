package main

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"iris/internal/agent/ports"
	"iris/internal/device"
	"iris/internal/httpclient"
	"iris/internal/jsonx"
	"iris/internal/logging"
)

const (
	maxFrameBytes = 4 << 20
	maxErrorBytes = 64 << 10
)

// gatewayClient talks to a running iris-server.
type gatewayClient struct {
	baseURL string
	// stream has no overall timeout; turns are bounded by the caller's ctx.
	stream *http.Client
	short  *http.Client
}

func newGatewayClient(baseURL string, timeout time.Duration) (*gatewayClient, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid server url %q", baseURL)
	}
	logger := logging.NewComponentLogger("iris-cli")
	return &gatewayClient{
		baseURL: baseURL,
		stream:  &http.Client{Transport: httpclient.Transport(logger)},
		short:   httpclient.New(timeout, logger),
	}, nil
}

type chatRequest struct {
	Agent    string `json:"agent,omitempty"`
	ChatID   string `json:"chat_id"`
	Message  string `json:"message"`
	DeviceID string `json:"device_id,omitempty"`
}

// StreamChat posts one message and hands every NDJSON event to fn in order.
func (c *gatewayClient) StreamChat(ctx context.Context, req chatRequest, fn func(ports.Event) error) error {
	body, err := jsonx.Marshal(req)
	if err != nil {
		return err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/stream?format=ndjson", bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/x-ndjson")

	resp, err := c.stream.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return responseError(resp)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64<<10), maxFrameBytes)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var event ports.Event
		if err := jsonx.Unmarshal(line, &event); err != nil {
			return fmt.Errorf("decode event: %w", err)
		}
		if err := fn(event); err != nil {
			return err
		}
		if event.Terminal() {
			return nil
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	return fmt.Errorf("stream ended without a final message")
}

func (c *gatewayClient) ListDevices(ctx context.Context) ([]device.Device, error) {
	var out struct {
		Devices []device.Device `json:"devices"`
	}
	if err := c.do(ctx, http.MethodGet, "/devices", nil, &out); err != nil {
		return nil, err
	}
	return out.Devices, nil
}

// RegisterDevice upserts d and reports whether it was new.
func (c *gatewayClient) RegisterDevice(ctx context.Context, d device.Device) (bool, error) {
	var out struct {
		Created bool `json:"created"`
	}
	err := c.do(ctx, http.MethodPost, "/devices", d, &out)
	return out.Created, err
}

func (c *gatewayClient) RemoveDevice(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/devices/"+url.PathEscape(id), nil, nil)
}

type healthReport struct {
	Status  string   `json:"status"`
	Devices int      `json:"devices"`
	Uptime  string   `json:"uptime"`
	Agents  []string `json:"agents"`
}

func (c *gatewayClient) Health(ctx context.Context) (healthReport, error) {
	var out healthReport
	err := c.do(ctx, http.MethodGet, "/health", nil, &out)
	return out, err
}

func (c *gatewayClient) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := jsonx.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.short.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return responseError(resp)
	}
	if out == nil {
		return nil
	}
	data, err := httpclient.ReadAllWithLimit(resp.Body, maxFrameBytes)
	if err != nil {
		return err
	}
	return jsonx.Unmarshal(data, out)
}

// responseError turns a non-2xx reply into an error carrying the server's
// {"error": ...} message when there is one.
func responseError(resp *http.Response) error {
	data, _ := httpclient.ReadAllWithLimit(resp.Body, maxErrorBytes)
	var payload struct {
		Error string `json:"error"`
	}
	if jsonx.Unmarshal(data, &payload) == nil && payload.Error != "" {
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, payload.Error)
	}
	detail := strings.TrimSpace(string(data))
	if detail == "" {
		detail = http.StatusText(resp.StatusCode)
	}
	return fmt.Errorf("server returned %d: %s", resp.StatusCode, detail)
}
