package builtin

import (
	"context"
	"fmt"
	"strings"

	"iris/internal/agent/ports"
	"iris/internal/device"
)

// DeviceLister is the registry surface list_devices needs.
type DeviceLister interface {
	List() []device.Device
}

type listDevices struct {
	devices DeviceLister
}

func NewListDevices(devices DeviceLister) ports.ToolExecutor {
	return &listDevices{devices: devices}
}

func (t *listDevices) Definition() ports.ToolDefinition {
	return ports.ToolDefinition{
		Name:        "list_devices",
		Description: "List the devices currently registered with the gateway (id, name, platform, address).",
		Parameters:  ports.ParameterSchema{Type: "object", Properties: map[string]ports.Property{}},
	}
}

func (t *listDevices) Execute(_ context.Context, _ ports.ToolCall) (ports.ToolOutput, error) {
	devices := t.devices.List()
	if len(devices) == 0 {
		return ports.TextOutput("No devices are registered."), nil
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%d device(s) registered:\n", len(devices))
	for _, d := range devices {
		fmt.Fprintf(&b, "- %s (%s) platform=%s address=%s", d.ID, d.Name, d.Platform, d.Address())
		if d.Model != "" {
			fmt.Fprintf(&b, " model=%s", d.Model)
		}
		b.WriteString("\n")
	}
	return ports.TextOutput(strings.TrimRight(b.String(), "\n")), nil
}
