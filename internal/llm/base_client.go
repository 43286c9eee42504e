package llm

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"iris/internal/agent/ports"
	"iris/internal/httpclient"
	"iris/internal/id"
	"iris/internal/logging"
)

// Config carries provider settings for one client.
type Config struct {
	APIKey    string
	BaseURL   string
	Timeout   time.Duration
	MaxTokens int
	Headers   map[string]string
}

// maxResponseBytes bounds provider response bodies.
const maxResponseBytes = 8 << 20

// baseClient holds fields and helpers shared by the HTTP provider clients.
type baseClient struct {
	model      string
	apiKey     string
	baseURL    string
	maxTokens  int
	httpClient *http.Client
	logger     logging.Logger
	headers    map[string]string
}

type baseClientOpts struct {
	defaultBaseURL string
	defaultTimeout time.Duration
	logComponent   string
}

func newBaseClient(model string, config Config, opts baseClientOpts) baseClient {
	baseURL := strings.TrimRight(strings.TrimSpace(config.BaseURL), "/")
	if baseURL == "" {
		baseURL = opts.defaultBaseURL
	}
	timeout := opts.defaultTimeout
	if timeout == 0 {
		timeout = 120 * time.Second
	}
	if config.Timeout > 0 {
		timeout = config.Timeout
	}
	maxTokens := config.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	logger := logging.NewComponentLogger(opts.logComponent)
	return baseClient{
		model:      model,
		apiKey:     config.APIKey,
		baseURL:    baseURL,
		maxTokens:  maxTokens,
		httpClient: httpclient.New(timeout, logger),
		logger:     logger,
		headers:    config.Headers,
	}
}

// Model returns the model name used by this client.
func (c *baseClient) Model() string {
	return c.model
}

// buildLogPrefix picks the request id from metadata or context.
func (c *baseClient) buildLogPrefix(ctx context.Context, metadata map[string]any) (requestID, prefix string) {
	requestID = extractRequestID(metadata)
	if requestID == "" {
		requestID = id.RequestIDFromContext(ctx)
	}
	if requestID == "" {
		requestID = id.NewRequestID()
	}
	return requestID, fmt.Sprintf("[req:%s] ", requestID)
}

func (c *baseClient) applyHeaders(req *http.Request) {
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
}

func (c *baseClient) maxTokensFor(req ports.CompletionRequest) int {
	if req.MaxTokens > 0 {
		return req.MaxTokens
	}
	return c.maxTokens
}

func extractRequestID(metadata map[string]any) string {
	if metadata == nil {
		return ""
	}
	if value, ok := metadata["request_id"].(string); ok {
		return strings.TrimSpace(value)
	}
	return ""
}

func isValidToolName(name string) bool {
	if name == "" || len(name) > 64 {
		return false
	}
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
		default:
			return false
		}
	}
	return true
}
