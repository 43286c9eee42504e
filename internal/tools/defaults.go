package tools

import (
	"net/http"

	"iris/internal/agent/ports"
	"iris/internal/tools/builtin"
)

// Dependencies are the services the built-in tools call into. Screenshots
// and Vision may be nil.
type Dependencies struct {
	Dispatcher     builtin.WidgetDeliverer
	Devices        builtin.DeviceLister
	Screenshots    builtin.ScreenshotSource
	Vision         ports.LLMClient
	SearchEndpoint string
	SearchClient   *http.Client
}

// NewDefaultRegistry registers the built-in tool set.
func NewDefaultRegistry(deps Dependencies, opts ...Option) (*Registry, error) {
	r := NewRegistry(opts...)
	for _, tool := range []ports.ToolExecutor{
		builtin.NewShowWidget(deps.Dispatcher),
		builtin.NewDrawOverlay(),
		builtin.NewListDevices(deps.Devices),
		builtin.NewWebSearch(deps.SearchEndpoint, deps.SearchClient),
		builtin.NewDescribeScreen(deps.Screenshots, deps.Vision),
	} {
		if err := r.Register(tool); err != nil {
			return nil, err
		}
	}
	return r, nil
}
