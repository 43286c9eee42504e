package observability

import (
	"context"
	"fmt"
	"net/http"
	"time"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// MetricsCollector records gateway metrics. A zero-value collector is a no-op,
// so callers never need to nil-check individual instruments.
type MetricsCollector struct {
	provider *sdkmetric.MeterProvider
	registry *promclient.Registry

	turns         metric.Int64Counter
	turnDuration  metric.Float64Histogram
	streamEvents  metric.Int64Counter
	llmRequests   metric.Int64Counter
	llmTokensIn   metric.Int64Counter
	llmTokensOut  metric.Int64Counter
	llmLatency    metric.Float64Histogram
	toolRuns      metric.Int64Counter
	toolDuration  metric.Float64Histogram
	widgets       metric.Int64Counter
	remoteFailure metric.Int64Counter
}

// MetricsConfig configures the metrics collector
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// NewMetricsCollector creates a new metrics collector backed by a private
// Prometheus registry.
func NewMetricsCollector(config MetricsConfig) (*MetricsCollector, error) {
	if !config.Enabled {
		return &MetricsCollector{}, nil
	}

	registry := promclient.NewRegistry()
	exporter, err := prometheus.New(prometheus.WithRegisterer(registry))
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	meter := provider.Meter("iris")

	m := &MetricsCollector{provider: provider, registry: registry}
	b := instrumentBuilder{meter: meter}
	m.turns = b.counter("iris.turns.total", "Agent turns by agent and outcome", "{turn}")
	m.turnDuration = b.histogram("iris.turn.duration", "Agent turn wall time in seconds", "s")
	m.streamEvents = b.counter("iris.stream.events.total", "Events emitted on turn streams", "{event}")
	m.llmRequests = b.counter("iris.llm.requests.total", "Total number of LLM requests", "{request}")
	m.llmTokensIn = b.counter("iris.llm.tokens.input", "Total input tokens sent to LLM", "{token}")
	m.llmTokensOut = b.counter("iris.llm.tokens.output", "Total output tokens from LLM", "{token}")
	m.llmLatency = b.histogram("iris.llm.latency", "LLM request latency in seconds", "s")
	m.toolRuns = b.counter("iris.tool.executions.total", "Total number of tool executions", "{execution}")
	m.toolDuration = b.histogram("iris.tool.duration", "Tool execution duration in seconds", "s")
	m.widgets = b.counter("iris.widget.deliveries.total", "Widget deliveries by target and outcome", "{widget}")
	m.remoteFailure = b.counter("iris.remote_store.failures.total", "Failed calls to the remote session store", "{call}")
	if b.err != nil {
		return nil, b.err
	}
	return m, nil
}

type instrumentBuilder struct {
	meter metric.Meter
	err   error
}

func (b *instrumentBuilder) counter(name, desc, unit string) metric.Int64Counter {
	c, err := b.meter.Int64Counter(name, metric.WithDescription(desc), metric.WithUnit(unit))
	if err != nil && b.err == nil {
		b.err = fmt.Errorf("failed to create %s: %w", name, err)
	}
	return c
}

func (b *instrumentBuilder) histogram(name, desc, unit string) metric.Float64Histogram {
	h, err := b.meter.Float64Histogram(name, metric.WithDescription(desc), metric.WithUnit(unit))
	if err != nil && b.err == nil {
		b.err = fmt.Errorf("failed to create %s: %w", name, err)
	}
	return h
}

// Enabled reports whether instruments are live.
func (m *MetricsCollector) Enabled() bool {
	return m != nil && m.registry != nil
}

// Handler exposes the Prometheus scrape endpoint.
func (m *MetricsCollector) Handler() http.Handler {
	if !m.Enabled() {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Shutdown flushes and stops the meter provider.
func (m *MetricsCollector) Shutdown(ctx context.Context) error {
	if m == nil || m.provider == nil {
		return nil
	}
	return m.provider.Shutdown(ctx)
}

// RecordTurn records a completed agent turn.
func (m *MetricsCollector) RecordTurn(ctx context.Context, agent, mode, outcome string, duration time.Duration) {
	if !m.Enabled() {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("agent", agent),
		attribute.String("mode", mode),
		attribute.String("outcome", outcome),
	)
	m.turns.Add(ctx, 1, attrs)
	m.turnDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attribute.String("agent", agent)))
}

// RecordStreamEvent counts one emitted event by kind.
func (m *MetricsCollector) RecordStreamEvent(ctx context.Context, kind string) {
	if !m.Enabled() {
		return
	}
	m.streamEvents.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// RecordLLMRequest records an LLM request
func (m *MetricsCollector) RecordLLMRequest(ctx context.Context, model, status string, latency time.Duration, inputTokens, outputTokens int) {
	if !m.Enabled() {
		return
	}
	attrs := []attribute.KeyValue{
		attribute.String("model", model),
		attribute.String("status", status),
	}
	m.llmRequests.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.llmTokensIn.Add(ctx, int64(inputTokens), metric.WithAttributes(attribute.String("model", model)))
	m.llmTokensOut.Add(ctx, int64(outputTokens), metric.WithAttributes(attribute.String("model", model)))
	m.llmLatency.Record(ctx, latency.Seconds(), metric.WithAttributes(attrs...))
}

// RecordToolExecution records a tool execution
func (m *MetricsCollector) RecordToolExecution(ctx context.Context, toolName, status string, duration time.Duration) {
	if !m.Enabled() {
		return
	}
	m.toolRuns.Add(ctx, 1, metric.WithAttributes(
		attribute.String("tool_name", toolName),
		attribute.String("status", status),
	))
	m.toolDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attribute.String("tool_name", toolName)))
}

// RecordWidgetDelivery records a widget dispatch outcome (delivered, stream, queued, failed).
func (m *MetricsCollector) RecordWidgetDelivery(ctx context.Context, target, outcome string) {
	if !m.Enabled() {
		return
	}
	m.widgets.Add(ctx, 1, metric.WithAttributes(
		attribute.String("target", target),
		attribute.String("outcome", outcome),
	))
}

// RecordRemoteFailure counts a failed remote-store call by operation.
func (m *MetricsCollector) RecordRemoteFailure(ctx context.Context, operation string) {
	if !m.Enabled() {
		return
	}
	m.remoteFailure.Add(ctx, 1, metric.WithAttributes(attribute.String("operation", operation)))
}
