package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Agent names served by the gateway.
const (
	AgentIris       = "iris"
	AgentClaudeCode = "claude_code"
	AgentCodex      = "codex"
)

// KnownAgents lists every agent name in a stable order.
var KnownAgents = []string{AgentIris, AgentClaudeCode, AgentCodex}

// ErrUnknownAgent is returned when an explicit agent hint names no agent.
var ErrUnknownAgent = errors.New("unknown agent")

// AgentLookup reads the agent stored for a session without creating it.
type AgentLookup interface {
	StoredAgent(ctx context.Context, sessionID string) (string, bool)
}

// Resolution is the outcome of agent selection.
type Resolution struct {
	Agent string
	// Explicit is set when a request hint chose the agent.
	Explicit bool
	Source   string // hint, stored, default
}

// Resolver picks the agent for a turn.
type Resolver struct {
	lookup       AgentLookup
	known        map[string]bool
	defaultAgent string
}

// NewResolver builds a resolver over the known agent names.
func NewResolver(lookup AgentLookup, defaultAgent string, known ...string) (*Resolver, error) {
	if len(known) == 0 {
		known = KnownAgents
	}
	r := &Resolver{lookup: lookup, known: make(map[string]bool, len(known))}
	for _, name := range known {
		r.known[name] = true
	}
	defaultAgent = strings.TrimSpace(defaultAgent)
	if defaultAgent == "" {
		defaultAgent = AgentIris
	}
	if !r.known[defaultAgent] {
		return nil, fmt.Errorf("%w: default %q", ErrUnknownAgent, defaultAgent)
	}
	r.defaultAgent = defaultAgent
	return r, nil
}

// Known reports whether name is a served agent.
func (r *Resolver) Known(name string) bool {
	return r.known[strings.TrimSpace(name)]
}

// Default returns the fallback agent.
func (r *Resolver) Default() string {
	return r.defaultAgent
}

// Resolve picks the agent for sessionID. hints are given in priority order;
// the first non-blank one is the explicit hint and must name a known agent.
// Without a hint the session's stored agent wins when it is still known,
// otherwise the default.
func (r *Resolver) Resolve(ctx context.Context, sessionID string, hints ...string) (Resolution, error) {
	for _, hint := range hints {
		hint = strings.TrimSpace(hint)
		if hint == "" {
			continue
		}
		if !r.known[hint] {
			return Resolution{}, fmt.Errorf("%w: %q", ErrUnknownAgent, hint)
		}
		return Resolution{Agent: hint, Explicit: true, Source: "hint"}, nil
	}

	if r.lookup != nil && strings.TrimSpace(sessionID) != "" {
		if stored, ok := r.lookup.StoredAgent(ctx, sessionID); ok && r.known[stored] {
			return Resolution{Agent: stored, Source: "stored"}, nil
		}
	}
	return Resolution{Agent: r.defaultAgent, Source: "default"}, nil
}
