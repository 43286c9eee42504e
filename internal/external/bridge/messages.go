package bridge

import (
	"strings"

	"iris/internal/jsonx"
)

// StreamMessage is one NDJSON line printed by a CLI agent.
type StreamMessage struct {
	Type string
	Raw  map[string]any
}

// ParseStreamMessage parses a JSON line into a StreamMessage.
func ParseStreamMessage(line []byte) (StreamMessage, error) {
	var raw map[string]any
	if err := jsonx.Unmarshal(line, &raw); err != nil {
		return StreamMessage{}, err
	}
	msgType, _ := raw["type"].(string)
	return StreamMessage{Type: strings.TrimSpace(msgType), Raw: raw}, nil
}

// String returns the string field key, or "".
func (m StreamMessage) String(key string) string {
	if m.Raw == nil {
		return ""
	}
	val, _ := m.Raw[key].(string)
	return strings.TrimSpace(val)
}

// Object returns the nested object at key.
func (m StreamMessage) Object(key string) StreamMessage {
	if m.Raw == nil {
		return StreamMessage{}
	}
	obj, _ := m.Raw[key].(map[string]any)
	msgType, _ := obj["type"].(string)
	return StreamMessage{Type: strings.TrimSpace(msgType), Raw: obj}
}

// ExtractText returns the message text from the common result shapes.
func (m StreamMessage) ExtractText() string {
	if m.Raw == nil {
		return ""
	}
	if val, ok := m.Raw["result"].(string); ok {
		return val
	}
	if val, ok := m.Raw["output"].(string); ok {
		return val
	}
	if val, ok := m.Raw["text"].(string); ok {
		return val
	}
	if msg, ok := m.Raw["message"].(map[string]any); ok {
		return extractContentText(msg["content"])
	}
	if content, ok := m.Raw["content"]; ok {
		return extractContentText(content)
	}
	return ""
}

// ToolUses lists tool_use blocks of an assistant message.
func (m StreamMessage) ToolUses() []ToolUse {
	msg, ok := m.Raw["message"].(map[string]any)
	if !ok {
		return nil
	}
	blocks, ok := msg["content"].([]any)
	if !ok {
		return nil
	}
	var out []ToolUse
	for _, item := range blocks {
		entry, ok := item.(map[string]any)
		if !ok {
			continue
		}
		if entryType, _ := entry["type"].(string); entryType != "tool_use" {
			continue
		}
		name, _ := entry["name"].(string)
		if strings.TrimSpace(name) == "" {
			continue
		}
		callID, _ := entry["id"].(string)
		input, _ := entry["input"].(map[string]any)
		out = append(out, ToolUse{CallID: callID, Name: name, Arguments: input})
	}
	return out
}

func extractContentText(content any) string {
	switch v := content.(type) {
	case string:
		return v
	case []any:
		var sb strings.Builder
		for _, item := range v {
			entry, ok := item.(map[string]any)
			if !ok {
				continue
			}
			if entryType, _ := entry["type"].(string); entryType == "text" {
				if text, ok := entry["text"].(string); ok {
					sb.WriteString(text)
				}
			}
		}
		return sb.String()
	default:
		return ""
	}
}
