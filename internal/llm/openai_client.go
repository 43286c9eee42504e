package llm

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/kaptinlin/jsonrepair"

	"iris/internal/agent/ports"
	"iris/internal/httpclient"
	"iris/internal/jsonx"
)

const openaiDefaultURL = "https://api.openai.com/v1"

// OpenAI API compatible client
type openaiClient struct {
	baseClient
}

// NewOpenAIClient constructs a client for OpenAI-compatible chat completions
// endpoints (OpenAI, OpenRouter, local gateways).
func NewOpenAIClient(model string, config Config) (ports.LLMClient, error) {
	if strings.TrimSpace(model) == "" {
		return nil, fmt.Errorf("openai: model is required")
	}
	return &openaiClient{
		baseClient: newBaseClient(model, config, baseClientOpts{
			defaultBaseURL: openaiDefaultURL,
			logComponent:   "llm-openai",
		}),
	}, nil
}

func (c *openaiClient) Complete(ctx context.Context, req ports.CompletionRequest) (*ports.CompletionResponse, error) {
	_, prefix := c.buildLogPrefix(ctx, req.Metadata)

	payload := map[string]any{
		"model":      c.model,
		"messages":   convertOpenAIMessages(req.Messages),
		"max_tokens": c.maxTokensFor(req),
		"stream":     false,
	}
	if req.Temperature > 0 {
		payload["temperature"] = req.Temperature
	}
	if tools := convertOpenAITools(req.Tools); len(tools) > 0 {
		payload["tools"] = tools
		payload["tool_choice"] = "auto"
	}

	body, err := jsonx.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	endpoint := c.baseURL + "/chat/completions"
	c.logger.Debug("%sPOST %s model=%s messages=%d", prefix, endpoint, c.model, len(req.Messages))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	c.applyHeaders(httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("openai request: %w", err)
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

	var oaiResp openaiResponse
	if err := jsonx.Unmarshal(respBody, &oaiResp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(oaiResp.Choices) == 0 {
		return nil, fmt.Errorf("openai: no choices in response")
	}

	choice := oaiResp.Choices[0]
	toolCalls := make([]ports.ToolCall, 0, len(choice.Message.ToolCalls))
	for _, tc := range choice.Message.ToolCalls {
		args, err := parseToolArguments(tc.Function.Arguments)
		if err != nil {
			c.logger.Warn("%sunparseable arguments for %s: %v", prefix, tc.Function.Name, err)
			args = map[string]any{}
		}
		toolCalls = append(toolCalls, ports.ToolCall{ID: tc.ID, Name: tc.Function.Name, Arguments: args})
	}

	stopReason := choice.FinishReason
	if stopReason == "tool_calls" {
		stopReason = "tool_use"
	}
	result := &ports.CompletionResponse{
		Content:    choice.Message.Content,
		ToolCalls:  toolCalls,
		StopReason: stopReason,
		Usage: ports.TokenUsage{
			PromptTokens:     oaiResp.Usage.PromptTokens,
			CompletionTokens: oaiResp.Usage.CompletionTokens,
			TotalTokens:      oaiResp.Usage.TotalTokens,
		},
	}
	c.logger.Debug("%sstop=%s content=%d chars tool_calls=%d", prefix, result.StopReason, len(result.Content), len(toolCalls))
	return result, nil
}

// parseToolArguments decodes the JSON-encoded arguments string, repairing
// truncated or sloppy JSON before giving up.
func parseToolArguments(raw string) (map[string]any, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return map[string]any{}, nil
	}
	args := map[string]any{}
	if err := jsonx.Unmarshal([]byte(raw), &args); err == nil {
		return args, nil
	}
	repaired, err := jsonrepair.JSONRepair(raw)
	if err != nil {
		return nil, fmt.Errorf("repair arguments: %w", err)
	}
	args = map[string]any{}
	if err := jsonx.Unmarshal([]byte(repaired), &args); err != nil {
		return nil, fmt.Errorf("decode repaired arguments: %w", err)
	}
	return args, nil
}

func convertOpenAIMessages(msgs []ports.Message) []map[string]any {
	result := make([]map[string]any, 0, len(msgs))
	for _, msg := range msgs {
		switch msg.Role {
		case ports.RoleTool:
			for _, tr := range msg.ToolResults {
				content := tr.Output.PlainText()
				if tr.IsError && content == "" {
					content = "tool failed"
				}
				result = append(result, map[string]any{
					"role":         "tool",
					"tool_call_id": tr.CallID,
					"content":      content,
				})
			}
		case ports.RoleAssistant:
			entry := map[string]any{"role": "assistant", "content": msg.Content}
			if len(msg.ToolCalls) > 0 {
				calls := make([]map[string]any, 0, len(msg.ToolCalls))
				for _, call := range msg.ToolCalls {
					args, err := jsonx.Marshal(call.Arguments)
					if err != nil || call.Arguments == nil {
						args = []byte("{}")
					}
					calls = append(calls, map[string]any{
						"id":   call.ID,
						"type": "function",
						"function": map[string]any{
							"name":      call.Name,
							"arguments": string(args),
						},
					})
				}
				entry["tool_calls"] = calls
			}
			result = append(result, entry)
		case ports.RoleUser:
			if len(msg.Attachments) == 0 {
				result = append(result, map[string]any{"role": "user", "content": msg.Content})
				continue
			}
			parts := []map[string]any{}
			if msg.Content != "" {
				parts = append(parts, map[string]any{"type": "text", "text": msg.Content})
			}
			for _, att := range msg.Attachments {
				if att.Type != ports.BlockImage || att.Data == "" {
					continue
				}
				mediaType := att.MediaType
				if mediaType == "" {
					mediaType = "image/png"
				}
				parts = append(parts, map[string]any{
					"type":      "image_url",
					"image_url": map[string]any{"url": "data:" + mediaType + ";base64," + att.Data},
				})
			}
			result = append(result, map[string]any{"role": "user", "content": parts})
		default:
			result = append(result, map[string]any{"role": msg.Role, "content": msg.Content})
		}
	}
	return result
}

func convertOpenAITools(tools []ports.ToolDefinition) []map[string]any {
	result := make([]map[string]any, 0, len(tools))
	for _, tool := range tools {
		if !isValidToolName(tool.Name) {
			continue
		}
		result = append(result, map[string]any{
			"type": "function",
			"function": map[string]any{
				"name":        tool.Name,
				"description": tool.Description,
				"parameters":  tool.Parameters,
			},
		})
	}
	return result
}

type openaiResponse struct {
	Choices []struct {
		Message struct {
			Content   string `json:"content"`
			ToolCalls []struct {
				ID       string `json:"id"`
				Function struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}
