// Package config loads the gateway configuration from iris.yaml and IRIS_*
// environment variables.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/spf13/viper"

	"iris/internal/observability"
)

const (
	EnvPrefix      = "IRIS"
	ConfigName     = "iris"
	DefaultPort    = 8000
	DefaultModel   = "claude-sonnet-4-5"
	DefaultAgent   = "iris"
	defaultHomeDir = "~/.iris"
)

var (
	knownProviders = []string{"anthropic", "openai", "mock"}
	knownAgents    = []string{"iris", "claude_code", "codex"}
)

// Config is the full gateway configuration.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Backend BackendConfig `mapstructure:"backend"`
	LLM     LLMConfig     `mapstructure:"llm"`
	Vision  VisionConfig  `mapstructure:"vision"`
	Agents  AgentsConfig  `mapstructure:"agents"`
	Session SessionConfig `mapstructure:"session"`
	Widgets WidgetsConfig `mapstructure:"widgets"`
	Storage StorageConfig `mapstructure:"storage"`
	Search  SearchConfig  `mapstructure:"search"`

	Observability observability.Config `mapstructure:"-"`
	// File is the config file that was read; empty when none was found.
	File string `mapstructure:"-"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// BackendConfig points at the remote session store. An empty BaseURL runs
// the gateway with local sessions only.
type BackendConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type LLMConfig struct {
	Provider  string        `mapstructure:"provider"`
	Model     string        `mapstructure:"model"`
	APIKey    string        `mapstructure:"api_key"`
	BaseURL   string        `mapstructure:"base_url"`
	MaxTokens int           `mapstructure:"max_tokens"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

// VisionConfig selects the model behind describe_screen. An empty Provider
// hands the screenshot to the main model instead.
type VisionConfig struct {
	Provider string `mapstructure:"provider"`
	Model    string `mapstructure:"model"`
	APIKey   string `mapstructure:"api_key"`
	BaseURL  string `mapstructure:"base_url"`
}

type AgentsConfig struct {
	Default    string     `mapstructure:"default"`
	Iris       IrisConfig `mapstructure:"iris"`
	ClaudeCode CLIConfig  `mapstructure:"claude_code"`
	Codex      CLIConfig  `mapstructure:"codex"`
}

type IrisConfig struct {
	SystemPrompt   string  `mapstructure:"system_prompt"`
	BufferedRounds int     `mapstructure:"buffered_rounds"`
	StreamRounds   int     `mapstructure:"stream_rounds"`
	HistoryTokens  int     `mapstructure:"history_tokens"`
	Temperature    float64 `mapstructure:"temperature"`
}

// CLIConfig launches one subprocess-bridged agent.
type CLIConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	Binary     string        `mapstructure:"binary"`
	Model      string        `mapstructure:"model"`
	APIKey     string        `mapstructure:"api_key"`
	WorkingDir string        `mapstructure:"working_dir"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

type SessionConfig struct {
	HistoryLimit int `mapstructure:"history_limit"`
	Capacity     int `mapstructure:"capacity"`
}

type WidgetsConfig struct {
	PushTimeout time.Duration `mapstructure:"push_timeout"`
	FeedBuffer  int           `mapstructure:"feed_buffer"`
}

type StorageConfig struct {
	BindingsPath  string `mapstructure:"bindings_path"`
	TrajectoryDir string `mapstructure:"trajectory_dir"`
}

type SearchConfig struct {
	Endpoint string `mapstructure:"endpoint"`
}

// EnvLookup reads one environment variable.
type EnvLookup func(key string) (string, bool)

type loadOptions struct {
	file        string
	searchPaths []string
	envLookup   EnvLookup
	homeDir     func() (string, error)
}

// Option customises Load.
type Option func(*loadOptions)

// WithConfigFile reads exactly this file; a missing file is an error.
func WithConfigFile(path string) Option {
	return func(o *loadOptions) { o.file = strings.TrimSpace(path) }
}

// WithSearchPaths replaces the directories searched for iris.yaml.
func WithSearchPaths(paths ...string) Option {
	return func(o *loadOptions) { o.searchPaths = paths }
}

// WithEnv replaces the lookup used for provider key fallbacks.
func WithEnv(lookup EnvLookup) Option {
	return func(o *loadOptions) {
		if lookup != nil {
			o.envLookup = lookup
		}
	}
}

// Load resolves defaults, then the config file, then IRIS_* variables, and
// validates the result.
func Load(opts ...Option) (Config, error) {
	options := loadOptions{
		searchPaths: []string{".", filepath.Join("$HOME", ".iris")},
		envLookup:   os.LookupEnv,
		homeDir:     os.UserHomeDir,
	}
	for _, opt := range opts {
		opt(&options)
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigType("yaml")
	if options.file != "" {
		v.SetConfigFile(options.file)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", options.file, err)
		}
	} else {
		v.SetConfigName(ConfigName)
		for _, path := range options.searchPaths {
			v.AddConfigPath(path)
		}
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	cfg.File = v.ConfigFileUsed()

	obs, err := observability.LoadConfig(cfg.File)
	if err != nil {
		return Config{}, err
	}
	if level := strings.TrimSpace(v.GetString("log.level")); level != "" {
		obs.Logging.Level = level
	}
	if format := strings.TrimSpace(v.GetString("log.format")); format != "" {
		obs.Logging.Format = format
	}
	cfg.Observability = obs

	cfg.normalize(options)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", DefaultPort)
	v.SetDefault("server.allowed_origins", []string{})
	v.SetDefault("server.shutdown_timeout", 15*time.Second)

	v.SetDefault("backend.base_url", "")
	v.SetDefault("backend.timeout", 5*time.Second)

	v.SetDefault("llm.provider", "anthropic")
	v.SetDefault("llm.model", DefaultModel)
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.base_url", "")
	v.SetDefault("llm.max_tokens", 4096)
	v.SetDefault("llm.timeout", 120*time.Second)

	v.SetDefault("vision.provider", "")
	v.SetDefault("vision.model", "")
	v.SetDefault("vision.api_key", "")
	v.SetDefault("vision.base_url", "")

	v.SetDefault("agents.default", DefaultAgent)
	v.SetDefault("agents.iris.system_prompt", "")
	v.SetDefault("agents.iris.buffered_rounds", 6)
	v.SetDefault("agents.iris.stream_rounds", 0)
	v.SetDefault("agents.iris.history_tokens", 24000)
	v.SetDefault("agents.iris.temperature", 0.7)
	for name, binary := range map[string]string{"claude_code": "claude", "codex": "codex"} {
		prefix := "agents." + name + "."
		v.SetDefault(prefix+"enabled", true)
		v.SetDefault(prefix+"binary", binary)
		v.SetDefault(prefix+"model", "")
		v.SetDefault(prefix+"api_key", "")
		v.SetDefault(prefix+"working_dir", "")
		v.SetDefault(prefix+"timeout", 120*time.Second)
	}

	v.SetDefault("session.history_limit", 200)
	v.SetDefault("session.capacity", 4096)

	v.SetDefault("widgets.push_timeout", 10*time.Second)
	v.SetDefault("widgets.feed_buffer", 64)

	v.SetDefault("storage.bindings_path", filepath.Join(defaultHomeDir, "bindings.db"))
	v.SetDefault("storage.trajectory_dir", filepath.Join(defaultHomeDir, "trajectories"))

	v.SetDefault("search.endpoint", "")

	v.SetDefault("log.level", "")
	v.SetDefault("log.format", "")
}

func (c *Config) normalize(options loadOptions) {
	c.LLM.Provider = strings.ToLower(strings.TrimSpace(c.LLM.Provider))
	c.Vision.Provider = strings.ToLower(strings.TrimSpace(c.Vision.Provider))
	c.Agents.Default = strings.TrimSpace(c.Agents.Default)
	c.Backend.BaseURL = strings.TrimRight(strings.TrimSpace(c.Backend.BaseURL), "/")

	if c.LLM.APIKey == "" {
		c.LLM.APIKey = providerKey(c.LLM.Provider, options.envLookup)
	}
	if c.Vision.Provider != "" {
		if c.Vision.APIKey == "" {
			c.Vision.APIKey = providerKey(c.Vision.Provider, options.envLookup)
		}
		if c.Vision.Model == "" {
			c.Vision.Model = c.LLM.Model
		}
	}

	c.Storage.BindingsPath = expandHome(c.Storage.BindingsPath, options.homeDir)
	c.Storage.TrajectoryDir = expandHome(c.Storage.TrajectoryDir, options.homeDir)
	c.Agents.ClaudeCode.WorkingDir = expandHome(c.Agents.ClaudeCode.WorkingDir, options.homeDir)
	c.Agents.Codex.WorkingDir = expandHome(c.Agents.Codex.WorkingDir, options.homeDir)
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.Backend.BaseURL != "" {
		u, err := url.Parse(c.Backend.BaseURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("backend.base_url %q must be an http(s) url", c.Backend.BaseURL)
		}
	}
	if !slices.Contains(knownProviders, c.LLM.Provider) {
		return fmt.Errorf("llm.provider %q is not one of %s", c.LLM.Provider, strings.Join(knownProviders, ", "))
	}
	if strings.TrimSpace(c.LLM.Model) == "" {
		return fmt.Errorf("llm.model is required")
	}
	if c.LLM.Provider != "mock" && c.LLM.APIKey == "" {
		return fmt.Errorf("llm.api_key is required for provider %s", c.LLM.Provider)
	}
	if c.Vision.Provider != "" && !slices.Contains(knownProviders, c.Vision.Provider) {
		return fmt.Errorf("vision.provider %q is not one of %s", c.Vision.Provider, strings.Join(knownProviders, ", "))
	}
	if !slices.Contains(knownAgents, c.Agents.Default) {
		return fmt.Errorf("agents.default %q is not one of %s", c.Agents.Default, strings.Join(knownAgents, ", "))
	}
	if c.Agents.Default == "claude_code" && !c.Agents.ClaudeCode.Enabled ||
		c.Agents.Default == "codex" && !c.Agents.Codex.Enabled {
		return fmt.Errorf("agents.default %q is disabled", c.Agents.Default)
	}
	if c.Agents.Iris.BufferedRounds < 1 {
		return fmt.Errorf("agents.iris.buffered_rounds must be at least 1")
	}
	if c.Agents.Iris.StreamRounds < 0 {
		return fmt.Errorf("agents.iris.stream_rounds must not be negative")
	}
	for name, cli := range map[string]CLIConfig{"claude_code": c.Agents.ClaudeCode, "codex": c.Agents.Codex} {
		if !cli.Enabled {
			continue
		}
		if strings.TrimSpace(cli.Binary) == "" {
			return fmt.Errorf("agents.%s.binary is required", name)
		}
		if cli.Timeout <= 0 {
			return fmt.Errorf("agents.%s.timeout must be positive", name)
		}
	}
	if c.Session.HistoryLimit <= 0 {
		return fmt.Errorf("session.history_limit must be positive")
	}
	if c.Storage.BindingsPath == "" {
		return fmt.Errorf("storage.bindings_path is required")
	}
	return nil
}

// Addr is the listen address for the HTTP server.
func (c Config) Addr() string {
	return fmt.Sprintf(":%d", c.Server.Port)
}

// providerKey falls back to the provider's conventional variable.
func providerKey(provider string, lookup EnvLookup) string {
	var names []string
	switch provider {
	case "anthropic":
		names = []string{"ANTHROPIC_API_KEY"}
	case "openai":
		names = []string{"OPENAI_API_KEY", "OPENROUTER_API_KEY"}
	}
	for _, name := range names {
		if value, ok := lookup(name); ok && strings.TrimSpace(value) != "" {
			return strings.TrimSpace(value)
		}
	}
	return ""
}

func expandHome(path string, home func() (string, error)) string {
	path = strings.TrimSpace(path)
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	dir, err := home()
	if err != nil || dir == "" {
		return path
	}
	return filepath.Join(dir, strings.TrimPrefix(path, "~"))
}
