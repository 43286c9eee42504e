package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"iris/internal/agent/ports"
	iriserrors "iris/internal/errors"
)

func TestOpenAIClientCompleteWithToolCalls(t *testing.T) {
	t.Parallel()

	var payload map[string]any
	var auth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			http.Error(w, "unexpected path", http.StatusNotFound)
			return
		}
		auth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		_, _ = w.Write([]byte(`{
			"choices": [{
				"message": {
					"content": "",
					"tool_calls": [{"id": "call_1", "type": "function", "function": {"name": "web_search", "arguments": "{\"query\": \"go generics\""}}]
				},
				"finish_reason": "tool_calls"
			}],
			"usage": {"prompt_tokens": 5, "completion_tokens": 3, "total_tokens": 8}
		}`))
	}))
	t.Cleanup(server.Close)

	client, err := NewOpenAIClient("gpt-test", Config{APIKey: "sk-test", BaseURL: server.URL + "/"})
	require.NoError(t, err)

	resp, err := client.Complete(context.Background(), ports.CompletionRequest{
		Messages: []ports.Message{
			{Role: ports.RoleSystem, Content: "be brief"},
			{Role: ports.RoleUser, Content: "search"},
			{Role: ports.RoleAssistant, ToolCalls: []ports.ToolCall{{ID: "c0", Name: "list_devices", Arguments: map[string]any{}}}},
			{Role: ports.RoleTool, ToolResults: []ports.ToolResult{{CallID: "c0", Output: ports.BlocksOutput(ports.ContentBlock{Type: ports.BlockText, Text: "none"})}}},
		},
		Tools: []ports.ToolDefinition{{Name: "web_search", Parameters: ports.ParameterSchema{Type: "object"}}},
	})
	require.NoError(t, err)

	require.Equal(t, "Bearer sk-test", auth)
	require.Equal(t, "auto", payload["tool_choice"])
	msgs := payload["messages"].([]any)
	require.Len(t, msgs, 4)
	toolMsg := msgs[3].(map[string]any)
	require.Equal(t, "tool", toolMsg["role"])
	require.Equal(t, "c0", toolMsg["tool_call_id"])
	require.Equal(t, "none", toolMsg["content"])

	require.Equal(t, "tool_use", resp.StopReason)
	require.Len(t, resp.ToolCalls, 1)
	require.Equal(t, "go generics", resp.ToolCalls[0].Arguments["query"])
	require.Equal(t, 8, resp.Usage.TotalTokens)
}

func TestOpenAIClientPermanentErrorOnBadRequest(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"bad model"}}`))
	}))
	t.Cleanup(server.Close)

	client, err := NewOpenAIClient("gpt-test", Config{BaseURL: server.URL})
	require.NoError(t, err)

	_, err = client.Complete(context.Background(), ports.CompletionRequest{Messages: []ports.Message{{Role: ports.RoleUser, Content: "hi"}}})
	require.Error(t, err)
	require.True(t, iriserrors.IsPermanent(err))
	require.Equal(t, http.StatusBadRequest, iriserrors.StatusCode(err))
}

func TestParseToolArguments(t *testing.T) {
	t.Parallel()

	args, err := parseToolArguments("")
	require.NoError(t, err)
	require.Empty(t, args)

	args, err = parseToolArguments(`{"target": "mac", "width": 400}`)
	require.NoError(t, err)
	require.Equal(t, "mac", args["target"])

	args, err = parseToolArguments(`{"target": 'ipad',}`)
	require.NoError(t, err)
	require.Equal(t, "ipad", args["target"])
}

func TestOpenAIUserAttachmentsBecomeImageParts(t *testing.T) {
	t.Parallel()

	msgs := convertOpenAIMessages([]ports.Message{{
		Role:        ports.RoleUser,
		Content:     "describe",
		Attachments: []ports.ContentBlock{{Type: ports.BlockImage, MediaType: "image/png", Data: "QUJD"}},
	}})
	require.Len(t, msgs, 1)
	parts := msgs[0]["content"].([]map[string]any)
	require.Len(t, parts, 2)
	require.Equal(t, "image_url", parts[1]["type"])
	require.Equal(t, "data:image/png;base64,QUJD", parts[1]["image_url"].(map[string]any)["url"])
}
