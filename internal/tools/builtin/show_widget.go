package builtin

import (
	"context"
	"fmt"

	"iris/internal/agent/ports"
	"iris/internal/widget"
)

// WidgetDeliverer is the dispatcher surface show_widget needs.
type WidgetDeliverer interface {
	Deliver(ctx context.Context, req widget.Request) (string, widget.Record)
}

type showWidget struct {
	dispatcher WidgetDeliverer
}

// NewShowWidget returns the show_widget tool backed by dispatcher.
func NewShowWidget(dispatcher WidgetDeliverer) ports.ToolExecutor {
	return &showWidget{dispatcher: dispatcher}
}

func (t *showWidget) Definition() ports.ToolDefinition {
	return ports.ToolDefinition{
		Name: "show_widget",
		Description: `Render a small HTML widget on one of the user's devices.

Use target "ipad" for the tablet (pushed over the network) or "mac" for the
desktop (delivered on the event stream). Keep the HTML self-contained.`,
		Parameters: ports.ParameterSchema{
			Type: "object",
			Properties: map[string]ports.Property{
				"html":      {Type: "string", Description: "Self-contained HTML document or fragment"},
				"target":    {Type: "string", Description: "Device class", Enum: []any{widget.TargetIPad, widget.TargetMac}},
				"widget_id": {Type: "string", Description: "Stable id; reuse it to replace an existing widget"},
				"width":     {Type: "integer", Description: "Width in points (100-1600, default 320)"},
				"height":    {Type: "integer", Description: "Height in points (100-1600, default 220)"},
				"overlay":   {Type: "object", Description: "Optional vector overlay drawn above the widget"},
			},
			Required: []string{"html"},
		},
	}
}

func (t *showWidget) Execute(ctx context.Context, call ports.ToolCall) (ports.ToolOutput, error) {
	html := stringArg(call.Arguments, "html")
	if html == "" {
		return ports.TextOutput("Error: html is required"), fmt.Errorf("missing html")
	}

	message, record := t.dispatcher.Deliver(ctx, widget.Request{
		WidgetID: stringArg(call.Arguments, "widget_id"),
		Target:   stringArg(call.Arguments, "target"),
		HTML:     html,
		Overlay:  call.Arguments["overlay"],
		Width:    intArg(call.Arguments, "width"),
		Height:   intArg(call.Arguments, "height"),
	})
	ports.TurnSinkFromContext(ctx).AddWidget(record)
	return ports.TextOutput(message), nil
}
