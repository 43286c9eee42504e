package builtin

import (
	"context"
	"fmt"
	"time"

	"iris/internal/agent/ports"
	"iris/internal/widget"
)

type drawOverlay struct{}

// NewDrawOverlay returns the draw_overlay tool. Overlays travel on the turn's
// event stream as draw events.
func NewDrawOverlay() ports.ToolExecutor {
	return &drawOverlay{}
}

func (t *drawOverlay) Definition() ports.ToolDefinition {
	return ports.ToolDefinition{
		Name:        "draw_overlay",
		Description: "Draw vector shapes (lines, circles, labels) over the screen or an open widget on a device.",
		Parameters: ports.ParameterSchema{
			Type: "object",
			Properties: map[string]ports.Property{
				"target":    {Type: "string", Description: "Device class", Enum: []any{widget.TargetIPad, widget.TargetMac}},
				"widget_id": {Type: "string", Description: "Widget to draw over; empty draws over the screen"},
				"overlay":   {Type: "object", Description: "Overlay document: {shapes:[{kind, points, color, text}]}"},
			},
			Required: []string{"overlay"},
		},
	}
}

func (t *drawOverlay) Execute(ctx context.Context, call ports.ToolCall) (ports.ToolOutput, error) {
	overlay, ok := call.Arguments["overlay"]
	if !ok || overlay == nil {
		return ports.TextOutput("Error: overlay is required"), fmt.Errorf("missing overlay")
	}
	target := widget.NormalizeTarget(stringArg(call.Arguments, "target"))
	if !widget.ValidTarget(target) {
		return ports.TextOutput(fmt.Sprintf("Error: unknown target %q, use ipad or mac", target)), fmt.Errorf("unknown target %q", target)
	}
	payload := &ports.DrawPayload{
		Target:   target,
		WidgetID: stringArg(call.Arguments, "widget_id"),
		Overlay:  overlay,
	}
	ports.TurnSinkFromContext(ctx).Emit(ports.Event{
		Kind:      ports.EventDraw,
		Draw:      payload,
		Timestamp: time.Now(),
	})
	if payload.WidgetID != "" {
		return ports.TextOutput(fmt.Sprintf("Overlay drawn over widget %s on %s.", payload.WidgetID, payload.Target)), nil
	}
	return ports.TextOutput(fmt.Sprintf("Overlay drawn on %s.", payload.Target)), nil
}
