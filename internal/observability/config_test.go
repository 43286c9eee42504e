package observability

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	assert.Equal(t, "info", config.Logging.Level)
	assert.True(t, config.Metrics.Enabled)
	assert.False(t, config.Tracing.Enabled)
	assert.Equal(t, "otlp", config.Tracing.Exporter)
	assert.Equal(t, 1.0, config.Tracing.SampleRate)
}

func TestLoadConfig_NonExistent(t *testing.T) {
	config, err := LoadConfig("/nonexistent/path/iris.yaml")
	require.NoError(t, err)
	assert.Equal(t, "info", config.Logging.Level)
}

func TestLoadConfig_ValidFile(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "iris.yaml")
	content := `
server:
  port: 8080
observability:
  logging:
    level: debug
    format: json
  metrics:
    enabled: false
  tracing:
    enabled: true
    exporter: zipkin
    sample_rate: 0.5
    service_name: iris-test
`
	require.NoError(t, os.WriteFile(configPath, []byte(content), 0o644))

	config, err := LoadConfig(configPath)
	require.NoError(t, err)

	assert.Equal(t, "debug", config.Logging.Level)
	assert.Equal(t, "json", config.Logging.Format)
	assert.False(t, config.Metrics.Enabled)
	assert.True(t, config.Tracing.Enabled)
	assert.Equal(t, "zipkin", config.Tracing.Exporter)
	assert.Equal(t, 0.5, config.Tracing.SampleRate)
	assert.Equal(t, "iris-test", config.Tracing.ServiceName)
}

func TestLoadConfig_PartialFileKeepsMetricsDefault(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "iris.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("observability:\n  logging:\n    level: warn\n"), 0o644))

	config, err := LoadConfig(configPath)
	require.NoError(t, err)
	assert.Equal(t, "warn", config.Logging.Level)
	assert.True(t, config.Metrics.Enabled)
	assert.Equal(t, "localhost:4318", config.Tracing.OTLPEndpoint)
}

func TestLoadConfig_InvalidYAML(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "iris.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("observability: [\n"), 0o644))

	_, err := LoadConfig(configPath)
	require.Error(t, err)
}
