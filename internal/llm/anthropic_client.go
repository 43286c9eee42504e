package llm

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"

	"iris/internal/agent/ports"
	"iris/internal/httpclient"
	"iris/internal/jsonx"
)

const (
	anthropicAPIKeyHeader  = "x-api-key"
	anthropicVersionHeader = "anthropic-version"
	anthropicAPIVersion    = "2023-06-01"
	anthropicDefaultURL    = "https://api.anthropic.com/v1"
)

type anthropicClient struct {
	baseClient
}

// NewAnthropicClient constructs a client for the Anthropic messages API.
func NewAnthropicClient(model string, config Config) (ports.LLMClient, error) {
	if strings.TrimSpace(model) == "" {
		return nil, fmt.Errorf("anthropic: model is required")
	}
	return &anthropicClient{
		baseClient: newBaseClient(model, config, baseClientOpts{
			defaultBaseURL: anthropicDefaultURL,
			logComponent:   "llm-anthropic",
		}),
	}, nil
}

func (c *anthropicClient) Complete(ctx context.Context, req ports.CompletionRequest) (*ports.CompletionResponse, error) {
	requestID, prefix := c.buildLogPrefix(ctx, req.Metadata)

	messages, system := convertAnthropicMessages(req.Messages)
	payload := map[string]any{
		"model":      c.model,
		"max_tokens": c.maxTokensFor(req),
		"messages":   messages,
	}
	if system != "" {
		payload["system"] = system
	}
	if req.Temperature > 0 {
		payload["temperature"] = req.Temperature
	}
	if tools := convertAnthropicTools(req.Tools); len(tools) > 0 {
		payload["tools"] = tools
	}

	body, err := jsonx.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	endpoint := c.baseURL + "/messages"
	c.logger.Debug("%sPOST %s model=%s messages=%d tools=%d", prefix, endpoint, c.model, len(messages), len(req.Tools))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set(anthropicVersionHeader, anthropicAPIVersion)
	if c.apiKey != "" {
		httpReq.Header.Set(anthropicAPIKeyHeader, c.apiKey)
	}
	c.applyHeaders(httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("anthropic request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := httpclient.ReadAllWithLimit(resp.Body, maxResponseBytes)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Warn("%sstatus %d: %s", prefix, resp.StatusCode, truncate(string(respBody), 500))
		return nil, mapHTTPError(resp, respBody)
	}

	var apiResp anthropicResponse
	if err := jsonx.Unmarshal(respBody, &apiResp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if apiResp.Error != nil {
		return nil, fmt.Errorf("anthropic error: %s", apiResp.Error.Message)
	}

	content, toolCalls := parseAnthropicContent(apiResp.Content)
	result := &ports.CompletionResponse{
		Content:    content,
		ToolCalls:  toolCalls,
		StopReason: apiResp.StopReason,
		Usage: ports.TokenUsage{
			PromptTokens:     apiResp.Usage.InputTokens,
			CompletionTokens: apiResp.Usage.OutputTokens,
			TotalTokens:      apiResp.Usage.InputTokens + apiResp.Usage.OutputTokens,
		},
	}
	c.logger.Debug("%sstop=%s content=%d chars tool_calls=%d tokens=%d (request %s)",
		prefix, result.StopReason, len(result.Content), len(result.ToolCalls), result.Usage.TotalTokens, requestID)
	return result, nil
}

// convertAnthropicMessages maps the history onto the messages API. System
// messages are hoisted, tool rounds become user tool_result turns and
// consecutive same-role turns are merged so roles alternate.
func convertAnthropicMessages(msgs []ports.Message) ([]anthropicMessage, string) {
	messages := make([]anthropicMessage, 0, len(msgs))
	var systemParts []string

	appendBlocks := func(role string, blocks []anthropicContentBlock) {
		if len(blocks) == 0 {
			return
		}
		if n := len(messages); n > 0 && messages[n-1].Role == role {
			messages[n-1].Content = append(messages[n-1].Content, blocks...)
			return
		}
		messages = append(messages, anthropicMessage{Role: role, Content: blocks})
	}

	for _, msg := range msgs {
		switch strings.ToLower(strings.TrimSpace(msg.Role)) {
		case ports.RoleSystem:
			if strings.TrimSpace(msg.Content) != "" {
				systemParts = append(systemParts, msg.Content)
			}
		case ports.RoleTool:
			blocks := make([]anthropicContentBlock, 0, len(msg.ToolResults))
			for _, result := range msg.ToolResults {
				if strings.TrimSpace(result.CallID) == "" {
					continue
				}
				blocks = append(blocks, anthropicContentBlock{
					Type:      "tool_result",
					ToolUseID: result.CallID,
					Content:   anthropicToolResultContent(result.Output),
					IsError:   result.IsError,
				})
			}
			appendBlocks(ports.RoleUser, blocks)
		case ports.RoleAssistant:
			var blocks []anthropicContentBlock
			if strings.TrimSpace(msg.Content) != "" {
				blocks = append(blocks, anthropicContentBlock{Type: "text", Text: msg.Content})
			}
			for _, call := range msg.ToolCalls {
				args := call.Arguments
				if args == nil {
					args = map[string]any{}
				}
				blocks = append(blocks, anthropicContentBlock{
					Type:  "tool_use",
					ID:    call.ID,
					Name:  call.Name,
					Input: args,
				})
			}
			appendBlocks(ports.RoleAssistant, blocks)
		case ports.RoleUser:
			var blocks []anthropicContentBlock
			for _, att := range msg.Attachments {
				if block, ok := anthropicBlockFrom(att); ok {
					blocks = append(blocks, block)
				}
			}
			if strings.TrimSpace(msg.Content) != "" {
				blocks = append(blocks, anthropicContentBlock{Type: "text", Text: msg.Content})
			}
			appendBlocks(ports.RoleUser, blocks)
		}
	}

	return messages, strings.Join(systemParts, "\n\n")
}

// anthropicToolResultContent resolves the tool output union: text stays a
// string, blocks become typed content blocks.
func anthropicToolResultContent(output ports.ToolOutput) any {
	switch output.Kind {
	case ports.ToolOutputBlocks:
		blocks := make([]anthropicContentBlock, 0, len(output.Blocks))
		for _, block := range output.Blocks {
			if converted, ok := anthropicBlockFrom(block); ok {
				blocks = append(blocks, converted)
			}
		}
		return blocks
	default:
		return output.Text
	}
}

func anthropicBlockFrom(block ports.ContentBlock) (anthropicContentBlock, bool) {
	switch block.Type {
	case ports.BlockText:
		if block.Text == "" {
			return anthropicContentBlock{}, false
		}
		return anthropicContentBlock{Type: "text", Text: block.Text}, true
	case ports.BlockImage:
		if block.Data == "" {
			return anthropicContentBlock{}, false
		}
		mediaType := block.MediaType
		if mediaType == "" {
			mediaType = "image/png"
		}
		return anthropicContentBlock{
			Type: "image",
			Source: &anthropicImageSource{
				Type:      "base64",
				MediaType: mediaType,
				Data:      block.Data,
			},
		}, true
	}
	return anthropicContentBlock{}, false
}

func convertAnthropicTools(tools []ports.ToolDefinition) []map[string]any {
	result := make([]map[string]any, 0, len(tools))
	for _, tool := range tools {
		if !isValidToolName(tool.Name) {
			continue
		}
		result = append(result, map[string]any{
			"name":         tool.Name,
			"description":  tool.Description,
			"input_schema": tool.Parameters,
		})
	}
	return result
}

func parseAnthropicContent(blocks []anthropicContentBlock) (string, []ports.ToolCall) {
	var text strings.Builder
	var calls []ports.ToolCall
	for _, block := range blocks {
		switch block.Type {
		case "text":
			text.WriteString(block.Text)
		case "tool_use":
			args := block.Input
			if args == nil {
				args = map[string]any{}
			}
			calls = append(calls, ports.ToolCall{ID: block.ID, Name: block.Name, Arguments: args})
		}
	}
	return text.String(), calls
}

type anthropicMessage struct {
	Role    string                  `json:"role"`
	Content []anthropicContentBlock `json:"content"`
}

type anthropicContentBlock struct {
	Type      string                `json:"type"`
	Text      string                `json:"text,omitempty"`
	ID        string                `json:"id,omitempty"`
	Name      string                `json:"name,omitempty"`
	Input     map[string]any        `json:"input,omitempty"`
	ToolUseID string                `json:"tool_use_id,omitempty"`
	Content   any                   `json:"content,omitempty"`
	IsError   bool                  `json:"is_error,omitempty"`
	Source    *anthropicImageSource `json:"source,omitempty"`
}

type anthropicImageSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type,omitempty"`
	Data      string `json:"data,omitempty"`
}

type anthropicResponse struct {
	ID         string                  `json:"id"`
	Content    []anthropicContentBlock `json:"content"`
	StopReason string                  `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}
