package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"iris/internal/async"
	"iris/internal/config"
	"iris/internal/logging"
	"iris/internal/observability"
)

// RunServer starts the gateway and blocks until SIGINT or SIGTERM.
func RunServer(cfg config.Config) error {
	logging.Configure(cfg.Observability.Logging)
	logger := logging.NewComponentLogger("main")
	logConfiguration(logger, cfg)

	container, err := BuildContainer(cfg)
	if err != nil {
		return fmt.Errorf("build container: %w", err)
	}

	server := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           container.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		// Streams stay open for the whole turn.
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	serveErr := serveUntilDone(ctx, server, cfg.Server.ShutdownTimeout, logger)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := container.Shutdown(shutdownCtx); err != nil {
		logger.Warn("container shutdown: %v", err)
	}
	logger.Info("server stopped")
	return serveErr
}

// serveUntilDone serves until ctx is cancelled or the listener fails, then
// shuts the server down gracefully.
func serveUntilDone(ctx context.Context, server *http.Server, timeout time.Duration, logger logging.Logger) error {
	logger = logging.OrNop(logger)
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	errCh := make(chan error, 1)
	async.Go(logger, "server.listen", func() {
		logger.Info("listening on %s", server.Addr)
		errCh <- server.ListenAndServe()
	})

	select {
	case err := <-errCh:
		if err == nil || errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		logger.Info("shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		shutdownErr := server.Shutdown(shutdownCtx)

		serveErr := <-errCh
		if errors.Is(serveErr, http.ErrServerClosed) {
			serveErr = nil
		}
		if shutdownErr != nil {
			return fmt.Errorf("shutdown: %w", shutdownErr)
		}
		if serveErr != nil {
			return fmt.Errorf("server error: %w", serveErr)
		}
		return nil
	}
}

func logConfiguration(logger logging.Logger, cfg config.Config) {
	backend := cfg.Backend.BaseURL
	if backend == "" {
		backend = "(local only)"
	}
	logger.Info("config file: %s", valueOr(cfg.File, "(none)"))
	logger.Info("port=%d backend=%s default_agent=%s", cfg.Server.Port, backend, cfg.Agents.Default)
	logger.Info("llm provider=%s model=%s key=%s", cfg.LLM.Provider, cfg.LLM.Model, maskKey(cfg.LLM.APIKey))
	if cfg.Vision.Provider != "" {
		logger.Info("vision provider=%s model=%s key=%s", cfg.Vision.Provider, cfg.Vision.Model, maskKey(cfg.Vision.APIKey))
	}
	logger.Info("claude_code enabled=%v binary=%s timeout=%s", cfg.Agents.ClaudeCode.Enabled, cfg.Agents.ClaudeCode.Binary, cfg.Agents.ClaudeCode.Timeout)
	logger.Info("codex enabled=%v binary=%s timeout=%s", cfg.Agents.Codex.Enabled, cfg.Agents.Codex.Binary, cfg.Agents.Codex.Timeout)
	logger.Info("bindings=%s trajectories=%s", cfg.Storage.BindingsPath, valueOr(cfg.Storage.TrajectoryDir, "(disabled)"))
}

func maskKey(key string) string {
	if key == "" {
		return "(unset)"
	}
	return observability.SanitizeAPIKey(key)
}

func valueOr(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}
