package builtin

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"iris/internal/agent/ports"
	"iris/internal/id"
	"iris/internal/session"
	"iris/internal/session/remote"
)

// ScreenshotSource fetches the latest capture for a device.
type ScreenshotSource interface {
	LatestScreenshot(ctx context.Context, deviceID string) (remote.Screenshot, error)
}

const describePrompt = "Describe what is visible on this screen. Be concrete: name apps, windows, visible text and anything that looks like an error."

type describeScreen struct {
	screenshots ScreenshotSource
	vision      ports.LLMClient
}

// NewDescribeScreen returns the describe_screen tool. With a vision client
// the screenshot is described by that model; without one the image itself is
// handed back to the calling model as a content block.
func NewDescribeScreen(screenshots ScreenshotSource, vision ports.LLMClient) ports.ToolExecutor {
	return &describeScreen{screenshots: screenshots, vision: vision}
}

func (t *describeScreen) Definition() ports.ToolDefinition {
	return ports.ToolDefinition{
		Name:        "describe_screen",
		Description: "Look at the most recent screenshot from a device and describe it.",
		Parameters: ports.ParameterSchema{
			Type: "object",
			Properties: map[string]ports.Property{
				"device_id": {Type: "string", Description: "Device to inspect; defaults to the device that sent the message"},
				"question":  {Type: "string", Description: "Optional focus question about the screen"},
			},
		},
	}
}

func (t *describeScreen) Execute(ctx context.Context, call ports.ToolCall) (ports.ToolOutput, error) {
	deviceID := stringArg(call.Arguments, "device_id")
	if deviceID == "" {
		deviceID = id.DeviceIDFromContext(ctx)
	}
	if deviceID == "" {
		return ports.TextOutput("Error: no device_id given and the message did not come from a known device"), fmt.Errorf("missing device id")
	}
	if t.screenshots == nil {
		return ports.TextOutput("Screenshots are not available: no remote store is configured."), nil
	}

	shot, err := t.screenshots.LatestScreenshot(ctx, deviceID)
	if errors.Is(err, session.ErrNotFound) {
		return ports.TextOutput(fmt.Sprintf("No screenshot has been captured for device %s yet.", deviceID)), nil
	}
	if err != nil {
		return ports.TextOutput(fmt.Sprintf("Could not fetch a screenshot for %s: %v", deviceID, err)), err
	}

	image := ports.ContentBlock{Type: ports.BlockImage, MediaType: shot.MediaType, Data: shot.Data}
	caption := fmt.Sprintf("Latest screenshot from %s", deviceID)
	if !shot.CapturedAt.IsZero() {
		caption += " captured at " + shot.CapturedAt.UTC().Format("2006-01-02 15:04:05Z")
	}

	if t.vision == nil {
		return ports.BlocksOutput(ports.ContentBlock{Type: ports.BlockText, Text: caption}, image), nil
	}

	prompt := describePrompt
	if question := stringArg(call.Arguments, "question"); question != "" {
		prompt += "\n\nFocus on: " + question
	}
	resp, err := t.vision.Complete(ctx, ports.CompletionRequest{
		Messages: []ports.Message{{
			Role:        ports.RoleUser,
			Content:     prompt,
			Attachments: []ports.ContentBlock{image},
		}},
		MaxTokens: 1024,
	})
	if err != nil {
		return ports.TextOutput(fmt.Sprintf("Vision model failed: %v", err)), err
	}
	return ports.TextOutput(caption + ":\n" + strings.TrimSpace(resp.Content)), nil
}
