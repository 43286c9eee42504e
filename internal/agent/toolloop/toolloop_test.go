package toolloop

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"iris/internal/agent/ports"
	"iris/internal/llm"
	"iris/internal/session"
	"iris/internal/tokenutil"
	"iris/internal/widget"
)

type sinkRecorder struct {
	mu     sync.Mutex
	events []ports.Event
}

func (s *sinkRecorder) Emit(event ports.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
}

func (s *sinkRecorder) AddWidget(widget.Record) {}

type countingTools struct {
	calls []string
}

func (c *countingTools) Definitions() []ports.ToolDefinition {
	return []ports.ToolDefinition{{Name: "ping", Parameters: ports.ParameterSchema{Type: "object"}}}
}

func (c *countingTools) Execute(_ context.Context, call ports.ToolCall) ports.ToolResult {
	c.calls = append(c.calls, call.ID)
	return ports.ToolResult{CallID: call.ID, Name: call.Name, Output: ports.TextOutput("pong " + call.ID)}
}

func TestRunTurnFeedsAllResultsBackInOneTurn(t *testing.T) {
	client := llm.NewScriptedClient(
		llm.ToolUse("checking", ports.ToolCall{ID: "a", Name: "ping"}, ports.ToolCall{ID: "b", Name: "ping"}),
		llm.Text("both answered"),
	)
	tools := &countingTools{}
	s, err := New(client, tools, Config{})
	require.NoError(t, err)

	sink := &sinkRecorder{}
	err = s.RunTurn(context.Background(), ports.TurnInput{
		SessionID: "s1",
		History:   []session.Message{{Role: session.RoleUser, Content: "ping twice"}},
	}, sink)
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b"}, tools.calls)

	second := client.Requests()[1].Messages
	toolTurn := second[len(second)-1]
	require.Equal(t, ports.RoleTool, toolTurn.Role)
	require.Len(t, toolTurn.ToolResults, 2)
	require.Equal(t, "pong b", toolTurn.ToolResults[1].Output.Text)
	assistant := second[len(second)-2]
	require.Equal(t, "checking", assistant.Content)
	require.Len(t, assistant.ToolCalls, 2)

	var kinds []ports.EventKind
	var deltas []string
	for _, e := range sink.events {
		kinds = append(kinds, e.Kind)
		if e.Kind == ports.EventMessageDelta {
			deltas = append(deltas, e.Text)
		}
	}
	require.Equal(t, []ports.EventKind{
		ports.EventMessageDelta,
		ports.EventToolCall, ports.EventToolResult,
		ports.EventToolCall, ports.EventToolResult,
		ports.EventMessageDelta,
	}, kinds)
	require.Equal(t, []string{"checking", "both answered"}, deltas)
}

func TestStreamingTurnsAreNotCappedByDefault(t *testing.T) {
	responses := make([]llm.ScriptedResponse, 0, 9)
	for i := 0; i < 8; i++ {
		responses = append(responses, llm.ToolUse("", ports.ToolCall{ID: "x", Name: "ping"}))
	}
	responses = append(responses, llm.Text("done"))
	client := llm.NewScriptedClient(responses...)

	s, err := New(client, &countingTools{}, Config{})
	require.NoError(t, err)
	sink := &sinkRecorder{}
	require.NoError(t, s.RunTurn(context.Background(), ports.TurnInput{
		History: []session.Message{{Role: session.RoleUser, Content: "go"}},
	}, sink))
	require.Len(t, client.Requests(), 9)
	require.Equal(t, "done", sink.events[len(sink.events)-1].Text)
}

func TestStreamRoundsCapIsConfigurable(t *testing.T) {
	client := llm.NewScriptedClient(llm.ToolUse("", ports.ToolCall{ID: "x", Name: "ping"}))
	s, err := New(client, &countingTools{}, Config{StreamRounds: 2})
	require.NoError(t, err)
	sink := &sinkRecorder{}
	require.NoError(t, s.RunTurn(context.Background(), ports.TurnInput{
		History: []session.Message{{Role: session.RoleUser, Content: "go"}},
	}, sink))
	require.Len(t, client.Requests(), 2)
	require.Equal(t, ExhaustedMessage, sink.events[len(sink.events)-1].Text)
}

func TestBuildMessagesMergesAndDropsLeadingAssistant(t *testing.T) {
	s, err := New(llm.NewScriptedClient(), nil, Config{SystemPrompt: "sys"})
	require.NoError(t, err)

	msgs := s.buildMessages([]session.Message{
		{Role: session.RoleAssistant, Content: "welcome"},
		{Role: session.RoleUser, Content: "one"},
		{Role: session.RoleUser, Content: "two"},
		{Role: session.RoleAssistant, Content: ""},
		{Role: session.RoleAssistant, Content: "reply"},
	})
	require.Len(t, msgs, 3)
	require.Equal(t, ports.RoleSystem, msgs[0].Role)
	require.Equal(t, "one\n\ntwo", msgs[1].Content)
	require.Equal(t, ports.RoleAssistant, msgs[2].Role)
}

func TestTrimToBudgetKeepsNewest(t *testing.T) {
	history := []session.Message{
		{Role: session.RoleUser, Content: strings.Repeat("old words ", 200)},
		{Role: session.RoleAssistant, Content: "short"},
		{Role: session.RoleUser, Content: "latest"},
	}
	require.Len(t, trimToBudget(history, 100000, tokenutil.EstimateFast), 3)

	kept := trimToBudget(history, 50, tokenutil.EstimateFast)
	require.Len(t, kept, 2)
	require.Equal(t, "latest", kept[len(kept)-1].Content)
}
