package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gin-gonic/gin"

	"iris/internal/agent"
	"iris/internal/agent/ports"
	"iris/internal/agent/toolloop"
	"iris/internal/config"
	"iris/internal/device"
	"iris/internal/external/bridge"
	"iris/internal/external/claudecode"
	"iris/internal/external/codex"
	"iris/internal/llm"
	"iris/internal/logging"
	"iris/internal/observability"
	"iris/internal/server/app"
	serverHTTP "iris/internal/server/http"
	"iris/internal/session"
	"iris/internal/session/bindingstore"
	"iris/internal/session/remote"
	"iris/internal/tokenutil"
	"iris/internal/tools"
	"iris/internal/trajectory"
	"iris/internal/widget"
)

// Container owns every long-lived service of the gateway.
type Container struct {
	Config config.Config

	Metrics *observability.MetricsCollector
	Tracer  *observability.TracerProvider

	// Remote is nil when the gateway runs with local sessions only.
	Remote       *remote.Client
	Sessions     *session.Cache
	Devices      *device.Registry
	Dispatcher   *widget.Dispatcher
	Tools        *tools.Registry
	Bindings     *bindingstore.Store
	Trajectories *trajectory.Store
	Hub          *app.WidgetHub
	Engine       *agent.Engine
	Resolver     *agent.Resolver

	Degraded  *DegradedComponents
	StartedAt time.Time

	llm    ports.LLMClient
	logger logging.Logger
}

// ContainerOption customises BuildContainer.
type ContainerOption func(*Container)

// WithLLMClient replaces the provider client built from config.
func WithLLMClient(client ports.LLMClient) ContainerOption {
	return func(c *Container) { c.llm = client }
}

// BuildContainer wires the services described by cfg.
func BuildContainer(cfg config.Config, opts ...ContainerOption) (*Container, error) {
	c := &Container{
		Config:    cfg,
		Degraded:  NewDegradedComponents(),
		StartedAt: time.Now(),
		logger:    logging.NewComponentLogger("bootstrap"),
	}
	for _, opt := range opts {
		opt(c)
	}

	stages := []Stage{
		{Name: "observability", Required: true, Init: c.initObservability},
		{Name: "llm", Required: true, Init: c.initLLM},
		{Name: "sessions", Required: true, Init: c.initSessions},
		{Name: "devices", Required: true, Init: c.initDevices},
		{Name: "bindings", Required: false, Init: c.initBindings},
		{Name: "trajectory", Required: false, Init: c.initTrajectory},
		{Name: "agents", Required: true, Init: c.initAgents},
	}
	if err := RunStages(stages, c.Degraded, c.logger); err != nil {
		_ = c.Shutdown(context.Background())
		return nil, err
	}
	if !c.Degraded.IsEmpty() {
		c.logger.Warn("[bootstrap] starting degraded: %v", c.Degraded.Map())
	}
	return c, nil
}

func (c *Container) initObservability() error {
	metrics, err := observability.NewMetricsCollector(c.Config.Observability.Metrics)
	if err != nil {
		c.logger.Warn("metrics disabled: %v", err)
		metrics = &observability.MetricsCollector{}
	}
	c.Metrics = metrics

	tracer, err := observability.NewTracerProvider(c.Config.Observability.Tracing)
	if err != nil {
		c.logger.Warn("tracing disabled: %v", err)
		tracer = observability.NoopTracer()
	}
	c.Tracer = tracer
	return nil
}

func (c *Container) initLLM() error {
	if c.llm != nil {
		return nil
	}
	cfg := c.Config.LLM
	client, err := llm.NewRetryingClient(cfg.Provider, cfg.Model, llm.Config{
		APIKey:    cfg.APIKey,
		BaseURL:   cfg.BaseURL,
		Timeout:   cfg.Timeout,
		MaxTokens: cfg.MaxTokens,
	}, llm.WithRetryMetrics(c.Metrics), llm.WithRetryTracer(c.Tracer))
	if err != nil {
		return fmt.Errorf("llm client: %w", err)
	}
	c.llm = client
	return nil
}

func (c *Container) initSessions() error {
	var store session.RemoteStore
	if base := c.Config.Backend.BaseURL; base != "" {
		client, err := remote.New(base, c.Config.Backend.Timeout)
		if err != nil {
			return err
		}
		c.Remote = client
		store = client
	} else {
		c.logger.Info("no backend configured; sessions are local to this process")
	}
	cache, err := session.NewCache(store, session.Config{
		DefaultAgent: c.Config.Agents.Default,
		HistoryLimit: c.Config.Session.HistoryLimit,
		Capacity:     c.Config.Session.Capacity,
	}, session.WithMetrics(c.Metrics))
	if err != nil {
		return err
	}
	c.Sessions = cache
	return nil
}

func (c *Container) initDevices() error {
	c.Devices = device.NewRegistry()
	c.Dispatcher = widget.NewDispatcher(c.Devices, c.Config.Widgets.PushTimeout, widget.WithMetrics(c.Metrics))
	c.Hub = app.NewWidgetHub(c.Config.Widgets.FeedBuffer)

	deps := tools.Dependencies{
		Dispatcher:     c.Dispatcher,
		Devices:        c.Devices,
		SearchEndpoint: c.Config.Search.Endpoint,
	}
	if c.Remote != nil {
		deps.Screenshots = c.Remote
	}
	if vision := c.Config.Vision; vision.Provider != "" {
		client, err := llm.NewRetryingClient(vision.Provider, vision.Model, llm.Config{
			APIKey:  vision.APIKey,
			BaseURL: vision.BaseURL,
		}, llm.WithRetryMetrics(c.Metrics), llm.WithRetryTracer(c.Tracer))
		if err != nil {
			return fmt.Errorf("vision client: %w", err)
		}
		deps.Vision = client
	}
	registry, err := tools.NewDefaultRegistry(deps, tools.WithMetrics(c.Metrics), tools.WithTracer(c.Tracer))
	if err != nil {
		return err
	}
	c.Tools = registry
	return nil
}

func (c *Container) initBindings() error {
	if !c.Config.Agents.ClaudeCode.Enabled && !c.Config.Agents.Codex.Enabled {
		return nil
	}
	path := c.Config.Storage.BindingsPath
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create bindings dir: %w", err)
	}
	store, err := bindingstore.Open(path)
	if err != nil {
		return err
	}
	c.Bindings = store
	return nil
}

func (c *Container) initTrajectory() error {
	dir := c.Config.Storage.TrajectoryDir
	if dir == "" {
		return nil
	}
	store, err := trajectory.NewStore(dir)
	if err != nil {
		return err
	}
	c.Trajectories = store
	return nil
}

func (c *Container) initAgents() error {
	agents := c.Config.Agents
	iris, err := toolloop.New(c.llm, c.Tools, toolloop.Config{
		SystemPrompt:   agents.Iris.SystemPrompt,
		BufferedRounds: agents.Iris.BufferedRounds,
		StreamRounds:   agents.Iris.StreamRounds,
		HistoryTokens:  agents.Iris.HistoryTokens,
		Temperature:    agents.Iris.Temperature,
		MaxTokens:      c.Config.LLM.MaxTokens,
	})
	if err != nil {
		return err
	}
	strategies := []ports.AgentStrategy{iris}
	tokenutil.Preload()

	if c.Bindings != nil {
		tracing := bridge.WithTracer(c.Tracer)
		if cli := agents.ClaudeCode; cli.Enabled {
			strategies = append(strategies, claudecode.New(claudecode.Config{
				BinaryPath: cli.Binary,
				APIKey:     cli.APIKey,
				Model:      cli.Model,
				WorkingDir: cli.WorkingDir,
				Timeout:    cli.Timeout,
			}, c.Bindings, tracing))
		}
		if cli := agents.Codex; cli.Enabled {
			strategies = append(strategies, codex.New(codex.Config{
				BinaryPath: cli.Binary,
				APIKey:     cli.APIKey,
				Model:      cli.Model,
				WorkingDir: cli.WorkingDir,
				Timeout:    cli.Timeout,
			}, c.Bindings, tracing))
		}
	}

	engineOpts := []agent.Option{
		agent.WithListener(c.Hub),
		agent.WithMetrics(c.Metrics),
		agent.WithTracer(c.Tracer),
	}
	if c.Trajectories != nil {
		engineOpts = append(engineOpts, agent.WithTrajectory(c.Trajectories))
	}
	engine, err := agent.NewEngine(c.Sessions, agents.Default, strategies, engineOpts...)
	if err != nil {
		return err
	}
	c.Engine = engine

	resolver, err := agent.NewResolver(c.Sessions, agents.Default, engine.Agents()...)
	if err != nil {
		return err
	}
	c.Resolver = resolver
	return nil
}

// Router builds the HTTP handler over the container's services.
func (c *Container) Router() *gin.Engine {
	deps := serverHTTP.RouterDeps{
		Turns:          c.Engine,
		Resolver:       c.Resolver,
		Devices:        c.Devices,
		Sessions:       c.Sessions,
		Hub:            c.Hub,
		Tracer:         c.Tracer,
		Agents:         c.Engine.Agents(),
		AllowedOrigins: c.Config.Server.AllowedOrigins,
		StartedAt:      c.StartedAt,
	}
	if c.Trajectories != nil {
		deps.Trajectories = c.Trajectories
	}
	if c.Metrics.Enabled() {
		deps.Metrics = c.Metrics.Handler()
	}
	return serverHTTP.NewRouter(deps)
}

// Shutdown waits for background persistence and releases resources.
func (c *Container) Shutdown(ctx context.Context) error {
	var errs []error
	if c.Engine != nil {
		if err := c.Engine.Drain(ctx); err != nil {
			errs = append(errs, fmt.Errorf("drain turns: %w", err))
		}
	}
	if c.Sessions != nil {
		if err := c.Sessions.Drain(ctx); err != nil {
			errs = append(errs, fmt.Errorf("drain sessions: %w", err))
		}
	}
	if c.Bindings != nil {
		if err := c.Bindings.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close bindings: %w", err))
		}
	}
	if c.Tracer != nil {
		if err := c.Tracer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("tracer: %w", err))
		}
	}
	if c.Metrics != nil {
		if err := c.Metrics.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("metrics: %w", err))
		}
	}
	return errors.Join(errs...)
}
