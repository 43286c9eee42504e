package tools

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"iris/internal/agent/ports"
	"iris/internal/logging"
	"iris/internal/observability"
)

// Registry holds the tools offered to the tool loop, in registration order.
type Registry struct {
	mu      sync.RWMutex
	tools   map[string]ports.ToolExecutor
	order   []string
	metrics *observability.MetricsCollector
	tracer  *observability.TracerProvider
	logger  logging.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithMetrics records per-tool execution counts and latency.
func WithMetrics(metrics *observability.MetricsCollector) Option {
	return func(r *Registry) { r.metrics = metrics }
}

// WithTracer wraps each execution in a span.
func WithTracer(tracer *observability.TracerProvider) Option {
	return func(r *Registry) { r.tracer = tracer }
}

func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		tools:  make(map[string]ports.ToolExecutor),
		logger: logging.NewComponentLogger("tools"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Registry) Register(tool ports.ToolExecutor) error {
	if tool == nil {
		return fmt.Errorf("tool is nil")
	}
	name := tool.Definition().Name
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("tool has no name")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("tool already exists: %s", name)
	}
	r.tools[name] = tool
	r.order = append(r.order, name)
	return nil
}

func (r *Registry) Get(name string) (ports.ToolExecutor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if tool, ok := r.tools[name]; ok {
		return tool, nil
	}
	return nil, fmt.Errorf("tool not found: %s", name)
}

// Definitions returns every tool schema in registration order.
func (r *Registry) Definitions() []ports.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]ports.ToolDefinition, 0, len(r.order))
	for _, name := range r.order {
		defs = append(defs, r.tools[name].Definition())
	}
	return defs
}

// Execute runs one call and always returns a result. Unknown tools, errors
// and panics come back as error text so the model can react to them.
func (r *Registry) Execute(ctx context.Context, call ports.ToolCall) (result ports.ToolResult) {
	result = ports.ToolResult{CallID: call.ID, Name: call.Name}

	tool, err := r.Get(call.Name)
	if err != nil {
		result.Output = ports.TextOutput(fmt.Sprintf("Error: %v", err))
		result.IsError = true
		return result
	}

	ctx, span := r.tracer.StartSpan(ctx, observability.SpanToolExecute,
		attribute.String(observability.AttrToolName, call.Name))
	defer span.End()

	start := time.Now()
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("tool %s panicked: %v\n%s", call.Name, rec, debug.Stack())
			result.Output = ports.TextOutput(fmt.Sprintf("Error: tool %s crashed: %v", call.Name, rec))
			result.IsError = true
		}
		status := "success"
		if result.IsError {
			status = "error"
		}
		span.SetAttributes(attribute.String(observability.AttrStatus, status))
		r.metrics.RecordToolExecution(ctx, call.Name, status, time.Since(start))
	}()

	output, err := tool.Execute(ctx, call)
	if err != nil {
		r.logger.Warn("tool %s failed: %v", call.Name, err)
		text := output.PlainText()
		if text == "" {
			text = fmt.Sprintf("Error: %v", err)
		}
		result.Output = ports.TextOutput(text)
		result.IsError = true
		return result
	}
	result.Output = output
	return result
}
