package ports

import (
	"time"

	"iris/internal/widget"
)

// EventKind names one variant of a turn event.
type EventKind string

const (
	EventStatus       EventKind = "status"
	EventToolCall     EventKind = "tool.call"
	EventToolResult   EventKind = "tool.result"
	EventMessageDelta EventKind = "message.delta"
	EventMessageFinal EventKind = "message.final"
	EventWidgetOpen   EventKind = "widget.open"
	EventDraw         EventKind = "draw"
	EventError        EventKind = "error"
)

// Event is one entry in a turn's ordered event sequence. Only the fields that
// belong to Kind are populated.
type Event struct {
	Kind      EventKind       `json:"type" yaml:"type"`
	Seq       int             `json:"seq" yaml:"seq"`
	SessionID string          `json:"session_id,omitempty" yaml:"session_id,omitempty"`
	Agent     string          `json:"agent,omitempty" yaml:"agent,omitempty"`
	Message   string          `json:"message,omitempty" yaml:"message,omitempty"`
	Text      string          `json:"text,omitempty" yaml:"text,omitempty"`
	Tool      *ToolEvent      `json:"tool,omitempty" yaml:"tool,omitempty"`
	Widget    *widget.Record  `json:"widget,omitempty" yaml:"widget,omitempty"`
	Draw      *DrawPayload    `json:"draw,omitempty" yaml:"draw,omitempty"`
	Widgets   []widget.Record `json:"widgets,omitempty" yaml:"widgets,omitempty"`
	Timestamp time.Time       `json:"ts" yaml:"ts"`
}

// ToolEvent describes a tool.call or tool.result event.
type ToolEvent struct {
	CallID     string         `json:"call_id" yaml:"call_id"`
	Name       string         `json:"name" yaml:"name"`
	Arguments  map[string]any `json:"arguments,omitempty" yaml:"arguments,omitempty"`
	Output     string         `json:"output,omitempty" yaml:"output,omitempty"`
	IsError    bool           `json:"is_error,omitempty" yaml:"is_error,omitempty"`
	DurationMS int64          `json:"duration_ms,omitempty" yaml:"duration_ms,omitempty"`
}

// DrawPayload carries a vector overlay addressed to a device class.
type DrawPayload struct {
	Target   string `json:"target" yaml:"target"`
	WidgetID string `json:"widget_id,omitempty" yaml:"widget_id,omitempty"`
	Overlay  any    `json:"overlay" yaml:"overlay"`
}

// EventListener observes turn events outside the stream consumer.
type EventListener interface {
	OnEvent(event Event)
}

// Terminal reports whether the event ends a turn stream.
func (e Event) Terminal() bool {
	return e.Kind == EventMessageFinal
}
