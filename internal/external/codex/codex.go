// Package codex drives the Codex CLI through `codex exec --json`.
package codex

import (
	"strings"
	"time"

	"iris/internal/external/bridge"
)

// Agent is the name this bridge registers under.
const Agent = "codex"

// Config configures the Codex bridge.
type Config struct {
	BinaryPath string
	APIKey     string
	Model      string
	WorkingDir string
	Timeout    time.Duration
	Env        map[string]string
}

// New returns the codex agent strategy.
func New(cfg Config, bindings bridge.BindingStore, opts ...bridge.Option) *bridge.Bridge {
	if strings.TrimSpace(cfg.BinaryPath) == "" {
		cfg.BinaryPath = "codex"
	}
	env := make(map[string]string, len(cfg.Env)+1)
	for k, v := range cfg.Env {
		env[k] = v
	}
	if cfg.APIKey != "" {
		env["OPENAI_API_KEY"] = cfg.APIKey
	}
	return bridge.New(dialect{model: strings.TrimSpace(cfg.Model)}, bridge.Config{
		BinaryPath: cfg.BinaryPath,
		WorkingDir: cfg.WorkingDir,
		Timeout:    cfg.Timeout,
		Env:        env,
	}, bindings, opts...)
}

type dialect struct {
	model string
}

func (dialect) Agent() string { return Agent }

func (d dialect) Args(prompt, resumeToken string) []string {
	args := []string{"exec", "--json", "--skip-git-repo-check"}
	if d.model != "" {
		args = append(args, "--model", d.model)
	}
	if resumeToken != "" {
		args = append(args, "resume", resumeToken)
	}
	return append(args, "--", prompt)
}

// Interpret maps codex exec events. The thread id is the session token; the
// last completed agent message is the answer.
func (dialect) Interpret(msg bridge.StreamMessage) bridge.Update {
	var update bridge.Update
	switch msg.Type {
	case "thread.started":
		update.SessionToken = msg.String("thread_id")
	case "session.created", "init":
		update.SessionToken = msg.String("session_id")
	case "result":
		update.Answer = msg.ExtractText()
	case "item.started":
		item := msg.Object("item")
		if tool, ok := toolFromItem(item); ok {
			update.Tools = []bridge.ToolUse{tool}
		}
	case "item.completed":
		item := msg.Object("item")
		if item.Type == "agent_message" {
			update.Answer = item.ExtractText()
		}
	}
	return update
}

func toolFromItem(item bridge.StreamMessage) (bridge.ToolUse, bool) {
	switch item.Type {
	case "command_execution":
		return bridge.ToolUse{
			CallID:    item.String("id"),
			Name:      "shell",
			Arguments: map[string]any{"command": item.String("command")},
		}, true
	case "mcp_tool_call":
		return bridge.ToolUse{
			CallID:    item.String("id"),
			Name:      item.String("server") + "." + item.String("tool"),
			Arguments: map[string]any{},
		}, true
	case "web_search":
		return bridge.ToolUse{
			CallID:    item.String("id"),
			Name:      "web_search",
			Arguments: map[string]any{"query": item.String("query")},
		}, true
	}
	return bridge.ToolUse{}, false
}
