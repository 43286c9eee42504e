// Package claudecode drives the Claude Code CLI in print mode with its
// stream-json output.
package claudecode

import (
	"strings"
	"time"

	"iris/internal/external/bridge"
)

// Agent is the name this bridge registers under.
const Agent = "claude_code"

// Config configures the Claude Code bridge.
type Config struct {
	BinaryPath string
	APIKey     string
	Model      string
	WorkingDir string
	Timeout    time.Duration
	Env        map[string]string
}

// New returns the claude_code agent strategy.
func New(cfg Config, bindings bridge.BindingStore, opts ...bridge.Option) *bridge.Bridge {
	if strings.TrimSpace(cfg.BinaryPath) == "" {
		cfg.BinaryPath = "claude"
	}
	env := cloneStringMap(cfg.Env)
	if cfg.APIKey != "" {
		env["ANTHROPIC_API_KEY"] = cfg.APIKey
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
	args := []string{"-p", "--output-format", "stream-json", "--verbose"}
	if d.model != "" {
		args = append(args, "--model", d.model)
	}
	if resumeToken != "" {
		args = append(args, "--resume", resumeToken)
	}
	return append(args, "--", prompt)
}

// Interpret reads the session id from the init line, tool_use blocks from
// assistant lines and the answer from the result line.
func (dialect) Interpret(msg bridge.StreamMessage) bridge.Update {
	var update bridge.Update
	switch msg.Type {
	case "init":
		update.SessionToken = msg.String("session_id")
	case "system":
		if msg.String("subtype") == "init" {
			update.SessionToken = msg.String("session_id")
		}
	case "assistant":
		update.Tools = msg.ToolUses()
	case "result":
		update.Answer = msg.ExtractText()
		update.SessionToken = msg.String("session_id")
	}
	return update
}

func cloneStringMap(in map[string]string) map[string]string {
	out := make(map[string]string, len(in)+1)
	for k, v := range in {
		out[k] = v
	}
	return out
}
