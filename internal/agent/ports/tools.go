package ports

import (
	"context"
	"strings"
)

// ToolExecutor executes a single tool call
type ToolExecutor interface {
	Execute(ctx context.Context, call ToolCall) (ToolOutput, error)
	Definition() ToolDefinition
}

// ToolCall represents a tool invocation requested by the model
type ToolCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// ToolResult is the execution result fed back to the model
type ToolResult struct {
	CallID  string     `json:"call_id"`
	Name    string     `json:"name"`
	Output  ToolOutput `json:"output"`
	IsError bool       `json:"is_error,omitempty"`
}

// ToolOutputKind discriminates ToolOutput.
type ToolOutputKind string

const (
	ToolOutputText   ToolOutputKind = "text"
	ToolOutputBlocks ToolOutputKind = "blocks"
)

// ToolOutput is either plain text or an ordered list of typed content blocks.
// Consumers switch on Kind; the unused field is empty.
type ToolOutput struct {
	Kind   ToolOutputKind `json:"kind"`
	Text   string         `json:"text,omitempty"`
	Blocks []ContentBlock `json:"blocks,omitempty"`
}

// ContentBlock is one typed piece of a Blocks output.
type ContentBlock struct {
	Type      string `json:"type"` // text, image
	Text      string `json:"text,omitempty"`
	MediaType string `json:"media_type,omitempty"`
	Data      string `json:"data,omitempty"` // base64 for images
}

const (
	BlockText  = "text"
	BlockImage = "image"
)

// TextOutput builds a Text tool output.
func TextOutput(text string) ToolOutput {
	return ToolOutput{Kind: ToolOutputText, Text: text}
}

// BlocksOutput builds a Blocks tool output.
func BlocksOutput(blocks ...ContentBlock) ToolOutput {
	return ToolOutput{Kind: ToolOutputBlocks, Blocks: blocks}
}

// PlainText flattens the output for consumers that only take text.
// Image blocks become a short placeholder.
func (o ToolOutput) PlainText() string {
	if o.Kind != ToolOutputBlocks {
		return o.Text
	}
	parts := make([]string, 0, len(o.Blocks))
	for _, block := range o.Blocks {
		switch block.Type {
		case BlockText:
			if block.Text != "" {
				parts = append(parts, block.Text)
			}
		case BlockImage:
			parts = append(parts, "[image "+block.MediaType+"]")
		}
	}
	return strings.Join(parts, "\n")
}

// ToolDefinition describes a tool for the LLM
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  ParameterSchema `json:"parameters"`
}

// ParameterSchema defines tool parameters (JSON Schema format)
type ParameterSchema struct {
	Type       string              `json:"type"`
	Properties map[string]Property `json:"properties"`
	Required   []string            `json:"required,omitempty"`
}

// Property defines a single parameter
type Property struct {
	Type        string    `json:"type"`
	Description string    `json:"description,omitempty"`
	Enum        []any     `json:"enum,omitempty"`
	Items       *Property `json:"items,omitempty"`
}
