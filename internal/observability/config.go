package observability

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"gopkg.in/yaml.v3"
)

// Config represents the complete observability configuration
type Config struct {
	Logging LogConfig     `yaml:"logging"`
	Metrics MetricsConfig `yaml:"metrics"`
	Tracing TracingConfig `yaml:"tracing"`
}

// DefaultConfig returns the default observability configuration
func DefaultConfig() Config {
	return Config{
		Logging: LogConfig{Level: "info", Format: "text"},
		Metrics: MetricsConfig{Enabled: true},
		Tracing: TracingConfig{
			Enabled:        false,
			Exporter:       "otlp",
			OTLPEndpoint:   "localhost:4318",
			SampleRate:     1.0,
			ServiceName:    "iris",
			ServiceVersion: "dev",
		},
	}
}

// LoadConfig reads the `observability:` section of a YAML file and merges it
// over the defaults. A missing file yields the defaults.
func LoadConfig(configPath string) (Config, error) {
	config := DefaultConfig()
	if configPath == "" {
		return config, nil
	}

	data, err := os.ReadFile(configPath)
	if errors.Is(err, fs.ErrNotExist) {
		return config, nil
	}
	if err != nil {
		return config, fmt.Errorf("failed to read config file: %w", err)
	}

	var fileConfig struct {
		Observability *struct {
			Logging LogConfig `yaml:"logging"`
			Metrics *struct {
				Enabled *bool `yaml:"enabled"`
			} `yaml:"metrics"`
			Tracing TracingConfig `yaml:"tracing"`
		} `yaml:"observability"`
	}
	if err := yaml.Unmarshal(data, &fileConfig); err != nil {
		return config, fmt.Errorf("failed to parse config file: %w", err)
	}
	file := fileConfig.Observability
	if file == nil {
		return config, nil
	}

	if file.Logging.Level != "" {
		config.Logging.Level = file.Logging.Level
	}
	if file.Logging.Format != "" {
		config.Logging.Format = file.Logging.Format
	}
	if file.Metrics != nil && file.Metrics.Enabled != nil {
		config.Metrics.Enabled = *file.Metrics.Enabled
	}

	config.Tracing.Enabled = file.Tracing.Enabled
	if file.Tracing.Exporter != "" {
		config.Tracing.Exporter = file.Tracing.Exporter
	}
	if file.Tracing.OTLPEndpoint != "" {
		config.Tracing.OTLPEndpoint = file.Tracing.OTLPEndpoint
	}
	if file.Tracing.ZipkinEndpoint != "" {
		config.Tracing.ZipkinEndpoint = file.Tracing.ZipkinEndpoint
	}
	// A sample rate of exactly 0 cannot be set here; disable tracing instead.
	if file.Tracing.SampleRate > 0 && file.Tracing.SampleRate <= 1.0 {
		config.Tracing.SampleRate = file.Tracing.SampleRate
	}
	if file.Tracing.ServiceName != "" {
		config.Tracing.ServiceName = file.Tracing.ServiceName
	}
	if file.Tracing.ServiceVersion != "" {
		config.Tracing.ServiceVersion = file.Tracing.ServiceVersion
	}
	return config, nil
}
