package llm

import (
	"fmt"
	"strings"

	"iris/internal/agent/ports"
	iriserrors "iris/internal/errors"
)

// Provider names accepted by NewClient.
const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
	ProviderMock      = "mock"
)

// NewClient builds the raw provider client for provider/model. Callers wrap
// it with WrapWithRetry.
func NewClient(provider, model string, config Config) (ports.LLMClient, error) {
	switch strings.ToLower(strings.TrimSpace(provider)) {
	case ProviderAnthropic, "claude":
		return NewAnthropicClient(model, config)
	case ProviderOpenAI, "openrouter", "openai-compatible":
		return NewOpenAIClient(model, config)
	case ProviderMock:
		return NewEchoClient(model), nil
	default:
		return nil, fmt.Errorf("unsupported llm provider %q", provider)
	}
}

// NewRetryingClient is NewClient wrapped with default retry and breaker
// settings plus the supplied options.
func NewRetryingClient(provider, model string, config Config, opts ...RetryOption) (ports.LLMClient, error) {
	client, err := NewClient(provider, model, config)
	if err != nil {
		return nil, err
	}
	if strings.EqualFold(strings.TrimSpace(provider), ProviderMock) {
		return client, nil
	}
	return WrapWithRetry(client, iriserrors.DefaultRetryConfig(), iriserrors.DefaultCircuitBreakerConfig(), opts...), nil
}
