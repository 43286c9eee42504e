package llm

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"iris/internal/agent/ports"
)

// EchoClient answers every request by echoing the last user message. It
// backs the "mock" provider for offline runs.
type EchoClient struct {
	model string
}

// NewEchoClient returns an EchoClient reporting model.
func NewEchoClient(model string) *EchoClient {
	if model == "" {
		model = "echo"
	}
	return &EchoClient{model: model}
}

func (c *EchoClient) Complete(ctx context.Context, req ports.CompletionRequest) (*ports.CompletionResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	last := ""
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == ports.RoleUser && strings.TrimSpace(req.Messages[i].Content) != "" {
			last = req.Messages[i].Content
			break
		}
	}
	return &ports.CompletionResponse{
		Content:    fmt.Sprintf("You said: %s", last),
		StopReason: "end_turn",
	}, nil
}

func (c *EchoClient) Model() string { return c.model }

// ScriptedClient replays a fixed list of responses, one per Complete call,
// and records every request it receives.
type ScriptedClient struct {
	mu        sync.Mutex
	responses []ScriptedResponse
	requests  []ports.CompletionRequest
}

// ScriptedResponse is one scripted reply; Err wins over Response.
type ScriptedResponse struct {
	Response *ports.CompletionResponse
	Err      error
}

// NewScriptedClient builds a client that replays responses in order. Once
// exhausted it keeps returning the last entry.
func NewScriptedClient(responses ...ScriptedResponse) *ScriptedClient {
	return &ScriptedClient{responses: responses}
}

func (c *ScriptedClient) Complete(ctx context.Context, req ports.CompletionRequest) (*ports.CompletionResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requests = append(c.requests, req)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(c.responses) == 0 {
		return &ports.CompletionResponse{Content: "ok", StopReason: "end_turn"}, nil
	}
	next := c.responses[0]
	if len(c.responses) > 1 {
		c.responses = c.responses[1:]
	}
	if next.Err != nil {
		return nil, next.Err
	}
	resp := *next.Response
	return &resp, nil
}

func (c *ScriptedClient) Model() string { return "scripted" }

// Requests returns a copy of every request seen so far.
func (c *ScriptedClient) Requests() []ports.CompletionRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]ports.CompletionRequest(nil), c.requests...)
}

// Text is a convenience ScriptedResponse ending the turn with content.
func Text(content string) ScriptedResponse {
	return ScriptedResponse{Response: &ports.CompletionResponse{Content: content, StopReason: "end_turn"}}
}

// ToolUse is a convenience ScriptedResponse requesting the given calls.
func ToolUse(content string, calls ...ports.ToolCall) ScriptedResponse {
	return ScriptedResponse{Response: &ports.CompletionResponse{Content: content, ToolCalls: calls, StopReason: "tool_use"}}
}

// Failure is a convenience ScriptedResponse returning err.
func Failure(err error) ScriptedResponse {
	return ScriptedResponse{Err: err}
}
