package llm

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"iris/internal/agent/ports"
	iriserrors "iris/internal/errors"
	"iris/internal/logging"
	"iris/internal/observability"
)

// retryClient wraps an LLM client with retry logic and circuit breaker
type retryClient struct {
	underlying     ports.LLMClient
	retryConfig    iriserrors.RetryConfig
	circuitBreaker *iriserrors.CircuitBreaker
	metrics        *observability.MetricsCollector
	tracer         *observability.TracerProvider
	logger         logging.Logger
}

// RetryOption customises WrapWithRetry.
type RetryOption func(*retryClient)

// WithRetryMetrics records request counts, latency and tokens.
func WithRetryMetrics(metrics *observability.MetricsCollector) RetryOption {
	return func(c *retryClient) { c.metrics = metrics }
}

// WithRetryTracer wraps each completion in a span.
func WithRetryTracer(tracer *observability.TracerProvider) RetryOption {
	return func(c *retryClient) { c.tracer = tracer }
}

// WrapWithRetry wraps client with transient-error retries behind a circuit
// breaker named after the model.
func WrapWithRetry(client ports.LLMClient, retryConfig iriserrors.RetryConfig, breakerConfig iriserrors.CircuitBreakerConfig, opts ...RetryOption) ports.LLMClient {
	c := &retryClient{
		underlying:     client,
		retryConfig:    retryConfig,
		circuitBreaker: iriserrors.NewCircuitBreaker(fmt.Sprintf("llm-%s", client.Model()), breakerConfig),
		logger:         logging.NewComponentLogger("llm-retry"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Complete executes LLM completion with retry logic
func (c *retryClient) Complete(ctx context.Context, req ports.CompletionRequest) (*ports.CompletionResponse, error) {
	ctx, span := c.tracer.StartSpan(ctx, observability.SpanLLMGenerate,
		attribute.String(observability.AttrModel, c.underlying.Model()))
	defer span.End()

	startTime := time.Now()
	resp, err := iriserrors.RetryWithResultAndLog(ctx, c.retryConfig, func(ctx context.Context) (*ports.CompletionResponse, error) {
		return iriserrors.ExecuteFunc(c.circuitBreaker, ctx, func(ctx context.Context) (*ports.CompletionResponse, error) {
			return c.underlying.Complete(ctx, req)
		})
	}, c.logger)
	duration := time.Since(startTime)

	if err != nil {
		span.SetAttributes(observability.ErrorAttrs(err)...)
		c.metrics.RecordLLMRequest(ctx, c.underlying.Model(), "error", duration, 0, 0)
		c.logger.Warn("LLM request failed after %v: %v", duration.Round(time.Millisecond), err)
		if iriserrors.IsDegraded(err) {
			return nil, fmt.Errorf("llm unavailable: %w", err)
		}
		return nil, err
	}

	c.metrics.RecordLLMRequest(ctx, c.underlying.Model(), "success", duration, resp.Usage.PromptTokens, resp.Usage.CompletionTokens)
	if duration > 5*time.Second {
		c.logger.Debug("LLM request succeeded after %v", duration.Round(time.Millisecond))
	}
	return resp, nil
}

// Model returns the underlying model name
func (c *retryClient) Model() string {
	return c.underlying.Model()
}
