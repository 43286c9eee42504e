// Package toolloop implements the iris agent: a model that may call tools,
// have the results fed back, and call again until it answers.
package toolloop

import (
	"context"
	"fmt"
	"strings"
	"time"

	"iris/internal/agent/ports"
	"iris/internal/logging"
	"iris/internal/session"
	"iris/internal/tokenutil"
)

// ExhaustedMessage is the answer when a turn runs out of tool rounds.
const ExhaustedMessage = "tool loop exhausted"

const (
	DefaultBufferedRounds = 6
	DefaultHistoryTokens  = 24000

	defaultSystemPrompt = `You are Iris, an assistant that lives across the user's devices.
Answer conversationally and concisely. When something is easier to show than
to say, render it with show_widget (target "ipad" for the tablet, "mac" for the
desktop) and keep the spoken answer short. Use describe_screen before
commenting on what the user is looking at.`
)

// ToolRunner is the tool registry surface the loop needs.
type ToolRunner interface {
	Definitions() []ports.ToolDefinition
	Execute(ctx context.Context, call ports.ToolCall) ports.ToolResult
}

// Config tunes the loop.
type Config struct {
	SystemPrompt string
	// BufferedRounds caps model calls for aggregate turns.
	BufferedRounds int
	// StreamRounds caps model calls for streamed turns; 0 is unbounded.
	StreamRounds  int
	HistoryTokens int
	Temperature   float64
	MaxTokens     int
}

// Strategy is the iris agent.
type Strategy struct {
	llm    ports.LLMClient
	tools  ToolRunner
	cfg    Config
	logger logging.Logger
}

var _ ports.AgentStrategy = (*Strategy)(nil)

// New builds the iris strategy. tools may be nil for a tool-less model.
func New(llm ports.LLMClient, tools ToolRunner, cfg Config) (*Strategy, error) {
	if llm == nil {
		return nil, fmt.Errorf("toolloop: llm client is required")
	}
	if strings.TrimSpace(cfg.SystemPrompt) == "" {
		cfg.SystemPrompt = defaultSystemPrompt
	}
	if cfg.BufferedRounds <= 0 {
		cfg.BufferedRounds = DefaultBufferedRounds
	}
	if cfg.StreamRounds < 0 {
		cfg.StreamRounds = 0
	}
	if cfg.HistoryTokens <= 0 {
		cfg.HistoryTokens = DefaultHistoryTokens
	}
	return &Strategy{llm: llm, tools: tools, cfg: cfg, logger: logging.NewComponentLogger("toolloop")}, nil
}

func (s *Strategy) Name() string { return "iris" }

// RunTurn alternates model calls and tool rounds. Every tool requested in a
// round runs in order and all results go back to the model as one turn.
// Model errors are returned; tool failures are fed back as error results.
func (s *Strategy) RunTurn(ctx context.Context, in ports.TurnInput, sink ports.TurnSink) error {
	messages := s.buildMessages(in.History)
	var defs []ports.ToolDefinition
	if s.tools != nil {
		defs = s.tools.Definitions()
	}

	limit := s.cfg.StreamRounds
	if in.Buffered {
		limit = s.cfg.BufferedRounds
	}

	for round := 0; limit == 0 || round < limit; round++ {
		resp, err := s.llm.Complete(ctx, ports.CompletionRequest{
			Messages:    messages,
			Tools:       defs,
			Temperature: s.cfg.Temperature,
			MaxTokens:   s.cfg.MaxTokens,
			Metadata:    map[string]any{"session_id": in.SessionID},
		})
		if err != nil {
			return fmt.Errorf("model call failed: %w", err)
		}
		if text := strings.TrimSpace(resp.Content); text != "" {
			sink.Emit(ports.Event{Kind: ports.EventMessageDelta, Text: text})
		}
		if !resp.HasToolUse() || s.tools == nil {
			return nil
		}

		messages = append(messages, ports.Message{
			Role:      ports.RoleAssistant,
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})
		messages = append(messages, ports.Message{
			Role:        ports.RoleTool,
			ToolResults: s.runTools(ctx, resp.ToolCalls, sink),
		})
	}

	s.logger.Warn("session %s: tool loop stopped after %d rounds", in.SessionID, limit)
	sink.Emit(ports.Event{Kind: ports.EventMessageFinal, Text: ExhaustedMessage})
	return nil
}

func (s *Strategy) runTools(ctx context.Context, calls []ports.ToolCall, sink ports.TurnSink) []ports.ToolResult {
	results := make([]ports.ToolResult, 0, len(calls))
	for _, call := range calls {
		sink.Emit(ports.Event{
			Kind: ports.EventToolCall,
			Tool: &ports.ToolEvent{CallID: call.ID, Name: call.Name, Arguments: call.Arguments},
		})
		start := time.Now()
		result := s.tools.Execute(ctx, call)
		if result.CallID == "" {
			result.CallID = call.ID
		}
		sink.Emit(ports.Event{
			Kind: ports.EventToolResult,
			Tool: &ports.ToolEvent{
				CallID:     call.ID,
				Name:       call.Name,
				Output:     result.Output.PlainText(),
				IsError:    result.IsError,
				DurationMS: time.Since(start).Milliseconds(),
			},
		})
		results = append(results, result)
	}
	return results
}

// buildMessages converts the transcript, keeps the newest messages that fit
// the token budget and merges consecutive same-role entries.
func (s *Strategy) buildMessages(history []session.Message) []ports.Message {
	kept := trimToBudget(history, s.cfg.HistoryTokens-tokenutil.EstimateFast(s.cfg.SystemPrompt), tokenutil.CountTokens)

	messages := make([]ports.Message, 0, len(kept)+1)
	messages = append(messages, ports.Message{Role: ports.RoleSystem, Content: s.cfg.SystemPrompt})
	for _, msg := range kept {
		role := ports.RoleUser
		if msg.Role == session.RoleAssistant {
			role = ports.RoleAssistant
		}
		if strings.TrimSpace(msg.Content) == "" {
			continue
		}
		last := &messages[len(messages)-1]
		if last.Role == role {
			last.Content += "\n\n" + msg.Content
			continue
		}
		messages = append(messages, ports.Message{Role: role, Content: msg.Content})
	}
	// The provider expects the conversation to open with a user turn.
	if len(messages) > 1 && messages[1].Role == ports.RoleAssistant {
		messages = append(messages[:1], messages[2:]...)
	}
	return messages
}

// trimToBudget drops the oldest messages until the rest fit budget tokens.
// The newest message is always kept. Exact counting only runs when the cheap
// estimate is close to the budget.
func trimToBudget(history []session.Message, budget int, count func(string) int) []session.Message {
	if len(history) == 0 {
		return history
	}
	estimate := 0
	for _, msg := range history {
		estimate += tokenutil.EstimateFast(msg.Content)
	}
	if estimate*2 <= budget {
		return history
	}

	total := 0
	start := len(history)
	for i := len(history) - 1; i >= 0; i-- {
		cost := count(history[i].Content)
		if total+cost > budget && i < len(history)-1 {
			break
		}
		total += cost
		start = i
	}
	return history[start:]
}
