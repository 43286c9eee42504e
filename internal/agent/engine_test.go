package agent_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"iris/internal/agent"
	"iris/internal/agent/ports"
	"iris/internal/agent/toolloop"
	"iris/internal/device"
	"iris/internal/llm"
	"iris/internal/session"
	"iris/internal/testutil"
	"iris/internal/tools"
	"iris/internal/widget"
)

type funcStrategy struct {
	name string
	run  func(ctx context.Context, in ports.TurnInput, sink ports.TurnSink) error
}

func (f funcStrategy) Name() string { return f.name }

func (f funcStrategy) RunTurn(ctx context.Context, in ports.TurnInput, sink ports.TurnSink) error {
	return f.run(ctx, in, sink)
}

func replying(name string, parts ...string) funcStrategy {
	return funcStrategy{name: name, run: func(_ context.Context, _ ports.TurnInput, sink ports.TurnSink) error {
		for _, part := range parts {
			sink.Emit(ports.Event{Kind: ports.EventMessageDelta, Text: part})
		}
		return nil
	}}
}

type memoryTrajectory struct {
	mu      sync.Mutex
	records []ports.TurnRecord
}

func (m *memoryTrajectory) WriteTurn(_ context.Context, record ports.TurnRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, record)
	return nil
}

func newCache(t *testing.T, remote session.RemoteStore) *session.Cache {
	t.Helper()
	cache, err := session.NewCache(remote, session.Config{DefaultAgent: agent.AgentIris})
	require.NoError(t, err)
	return cache
}

func newIris(t *testing.T, client ports.LLMClient, devices *device.Registry) ports.AgentStrategy {
	t.Helper()
	registry, err := tools.NewDefaultRegistry(tools.Dependencies{
		Dispatcher: widget.NewDispatcher(devices, 0),
		Devices:    devices,
	})
	require.NoError(t, err)
	strategy, err := toolloop.New(client, registry, toolloop.Config{})
	require.NoError(t, err)
	return strategy
}

func collect(t *testing.T, events <-chan ports.Event) []ports.Event {
	t.Helper()
	var out []ports.Event
	timeout := time.After(5 * time.Second)
	for {
		select {
		case event, ok := <-events:
			if !ok {
				return out
			}
			out = append(out, event)
		case <-timeout:
			t.Fatal("stream did not finish")
		}
	}
}

func TestStreamOrdersEventsAndEndsWithOneFinal(t *testing.T) {
	cache := newCache(t, nil)
	engine, err := agent.NewEngine(cache, agent.AgentIris, []ports.AgentStrategy{replying(agent.AgentIris, "Hello", "again")})
	require.NoError(t, err)

	events, err := engine.Stream(context.Background(), agent.TurnRequest{SessionID: "s1", Message: "hi"})
	require.NoError(t, err)
	got := collect(t, events)

	require.GreaterOrEqual(t, len(got), 2)
	require.Equal(t, ports.EventStatus, got[0].Kind)
	require.Contains(t, got[0].Message, agent.AgentIris)
	finals := 0
	for i, event := range got {
		require.Equal(t, i+1, event.Seq)
		require.Equal(t, "s1", event.SessionID)
		if event.Kind == ports.EventMessageFinal {
			finals++
		}
	}
	require.Equal(t, 1, finals)
	final := got[len(got)-1]
	require.True(t, final.Terminal())
	require.Equal(t, "Hello\n\nagain", final.Text)

	messages := cache.GetMessages(context.Background(), "s1")
	require.Len(t, messages, 2)
	require.Equal(t, session.RoleUser, messages[0].Role)
	require.Equal(t, "hi", messages[0].Content)
	require.Equal(t, session.RoleAssistant, messages[1].Role)
	require.Equal(t, "Hello\n\nagain", messages[1].Content)
}

func TestRunMacWidgetProducesOneWidgetOpen(t *testing.T) {
	cache := newCache(t, nil)
	client := llm.NewScriptedClient(
		llm.ToolUse("", ports.ToolCall{ID: "t1", Name: "show_widget", Arguments: map[string]any{"html": "<p>clock</p>", "target": "mac"}}),
		llm.Text("Here is your clock."),
	)
	engine, err := agent.NewEngine(cache, agent.AgentIris, []ports.AgentStrategy{newIris(t, client, device.NewRegistry())})
	require.NoError(t, err)

	result, err := engine.Run(context.Background(), agent.TurnRequest{SessionID: "s1", Message: "show a clock"})
	require.NoError(t, err)
	require.Equal(t, "Here is your clock.", result.Text)
	require.Len(t, result.Widgets, 1)
	require.True(t, result.Widgets[0].Delivered)

	opens := 0
	var kinds []ports.EventKind
	for _, event := range result.Events {
		kinds = append(kinds, event.Kind)
		if event.Kind == ports.EventWidgetOpen {
			opens++
			require.Equal(t, widget.TargetMac, event.Widget.Target)
		}
	}
	require.Equal(t, 1, opens)
	require.Equal(t, []ports.EventKind{
		ports.EventStatus,
		ports.EventToolCall,
		ports.EventWidgetOpen,
		ports.EventToolResult,
		ports.EventMessageDelta,
		ports.EventMessageFinal,
	}, kinds)

	requests := client.Requests()
	require.Len(t, requests, 2)
	last := requests[1].Messages[len(requests[1].Messages)-1]
	require.Equal(t, ports.RoleTool, last.Role)
	require.Contains(t, last.ToolResults[0].Output.Text, "sent to mac")
}

func TestRunIPadWithoutDevicesStillCompletes(t *testing.T) {
	cache := newCache(t, nil)
	client := llm.NewScriptedClient(
		llm.ToolUse("", ports.ToolCall{ID: "t1", Name: "show_widget", Arguments: map[string]any{"html": "<p>x</p>", "target": "ipad"}}),
		llm.Text("I queued it for your iPad."),
	)
	engine, err := agent.NewEngine(cache, agent.AgentIris, []ports.AgentStrategy{newIris(t, client, device.NewRegistry())})
	require.NoError(t, err)

	result, err := engine.Run(context.Background(), agent.TurnRequest{SessionID: "s1", Message: "show it"})
	require.NoError(t, err)
	require.Len(t, result.Widgets, 1)
	require.False(t, result.Widgets[0].Delivered)
	require.Equal(t, widget.ViaQueued, result.Widgets[0].Via)
	require.NotEmpty(t, result.Text)

	toolResult := client.Requests()[1].Messages
	output := toolResult[len(toolResult)-1].ToolResults[0].Output.Text
	require.Contains(t, output, "queued")
	require.Contains(t, output, "no ipad device")
}

func TestRunModelFailureEmitsErrorBeforeFinal(t *testing.T) {
	cache := newCache(t, nil)
	client := llm.NewScriptedClient(llm.Failure(errors.New("provider down")))
	engine, err := agent.NewEngine(cache, agent.AgentIris, []ports.AgentStrategy{newIris(t, client, device.NewRegistry())})
	require.NoError(t, err)

	result, err := engine.Run(context.Background(), agent.TurnRequest{SessionID: "s1", Message: "hi"})
	require.ErrorIs(t, err, agent.ErrTurnFailed)
	require.Contains(t, result.Error, "provider down")
	require.Empty(t, result.Text)

	n := len(result.Events)
	require.Equal(t, ports.EventError, result.Events[n-2].Kind)
	require.Equal(t, ports.EventMessageFinal, result.Events[n-1].Kind)
	require.Empty(t, result.Events[n-1].Text)

	messages := cache.GetMessages(context.Background(), "s1")
	require.Len(t, messages, 1)
	require.Equal(t, session.RoleUser, messages[0].Role)
}

func TestRunBufferedToolLoopIsCapped(t *testing.T) {
	cache := newCache(t, nil)
	client := llm.NewScriptedClient(
		llm.ToolUse("", ports.ToolCall{ID: "t", Name: "list_devices", Arguments: map[string]any{}}),
	)
	engine, err := agent.NewEngine(cache, agent.AgentIris, []ports.AgentStrategy{newIris(t, client, device.NewRegistry())})
	require.NoError(t, err)

	result, err := engine.Run(context.Background(), agent.TurnRequest{SessionID: "s1", Message: "loop"})
	require.NoError(t, err)
	require.Equal(t, toolloop.ExhaustedMessage, result.Text)
	require.Len(t, client.Requests(), toolloop.DefaultBufferedRounds)
}

func TestExhaustedLoopReplacesEarlierRoundText(t *testing.T) {
	cache := newCache(t, nil)
	client := llm.NewScriptedClient(
		llm.ToolUse("checking again", ports.ToolCall{ID: "t", Name: "list_devices", Arguments: map[string]any{}}),
	)
	engine, err := agent.NewEngine(cache, agent.AgentIris, []ports.AgentStrategy{newIris(t, client, device.NewRegistry())})
	require.NoError(t, err)

	result, err := engine.Run(context.Background(), agent.TurnRequest{SessionID: "s1", Message: "loop"})
	require.NoError(t, err)
	require.Equal(t, toolloop.ExhaustedMessage, result.Text)

	finals := 0
	for _, e := range result.Events {
		if e.Kind == ports.EventMessageFinal {
			finals++
			require.Equal(t, toolloop.ExhaustedMessage, e.Text)
		}
	}
	require.Equal(t, 1, finals)

	messages := cache.GetMessages(context.Background(), "s1")
	require.Equal(t, toolloop.ExhaustedMessage, messages[len(messages)-1].Content)
}

func TestSeedTurnsOnlyPrimeNewSessions(t *testing.T) {
	cache := newCache(t, nil)
	var seen [][]session.Message
	capture := funcStrategy{name: agent.AgentIris, run: func(_ context.Context, in ports.TurnInput, sink ports.TurnSink) error {
		seen = append(seen, in.History)
		sink.Emit(ports.Event{Kind: ports.EventMessageDelta, Text: "ok"})
		return nil
	}}
	engine, err := agent.NewEngine(cache, agent.AgentIris, []ports.AgentStrategy{capture})
	require.NoError(t, err)

	seeds := []session.Message{
		{Role: session.RoleUser, Content: "earlier question"},
		{Role: session.RoleAssistant, Content: "earlier answer"},
	}
	_, err = engine.Run(context.Background(), agent.TurnRequest{SessionID: "s1", Message: "now", SeedTurns: seeds})
	require.NoError(t, err)
	_, err = engine.Run(context.Background(), agent.TurnRequest{SessionID: "s1", Message: "again", SeedTurns: seeds})
	require.NoError(t, err)

	require.Len(t, seen, 2)
	require.Len(t, seen[0], 3)
	require.Equal(t, "earlier question", seen[0][0].Content)
	require.Equal(t, "now", seen[0][2].Content)
	// seeds, the first exchange and the new user message; no second seeding.
	require.Len(t, seen[1], 5)
	require.Equal(t, "again", seen[1][4].Content)
}

func TestValidationHappensBeforeAnyMutation(t *testing.T) {
	cache := newCache(t, nil)
	engine, err := agent.NewEngine(cache, agent.AgentIris, []ports.AgentStrategy{replying(agent.AgentIris, "x")})
	require.NoError(t, err)

	_, err = engine.Run(context.Background(), agent.TurnRequest{SessionID: "s1", Message: "hi", Agent: agent.AgentCodex})
	require.ErrorIs(t, err, agent.ErrUnknownAgent)
	_, err = engine.Stream(context.Background(), agent.TurnRequest{SessionID: "s2", Message: "   "})
	require.ErrorIs(t, err, agent.ErrEmptyMessage)
	_, err = engine.Run(context.Background(), agent.TurnRequest{Message: "hi"})
	require.ErrorIs(t, err, session.ErrEmptySessionID)

	require.Equal(t, 0, cache.Len())
}

func TestExplicitAgentIsPushedAndTrajectoryWritten(t *testing.T) {
	remote := testutil.NewRemoteStore()
	cache := newCache(t, remote)
	trajectory := &memoryTrajectory{}
	engine, err := agent.NewEngine(cache, agent.AgentIris,
		[]ports.AgentStrategy{replying(agent.AgentIris, "hi"), replying(agent.AgentCodex, "from codex")},
		agent.WithTrajectory(trajectory),
	)
	require.NoError(t, err)
	require.Equal(t, []string{agent.AgentIris, agent.AgentCodex}, engine.Agents())

	result, err := engine.Run(context.Background(), agent.TurnRequest{
		SessionID:     "s1",
		Message:       "switch",
		Agent:         agent.AgentCodex,
		ExplicitAgent: true,
		DeviceID:      "mac-1",
	})
	require.NoError(t, err)
	require.Equal(t, "from codex", result.Text)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, cache.Drain(ctx))
	require.NoError(t, engine.Drain(ctx))

	meta, stored, ok := remote.Stored("s1")
	require.True(t, ok)
	require.Equal(t, agent.AgentCodex, meta.Agent)
	require.Len(t, stored, 2)
	require.Equal(t, "mac-1", stored[0].DeviceID)

	trajectory.mu.Lock()
	defer trajectory.mu.Unlock()
	require.Len(t, trajectory.records, 1)
	record := trajectory.records[0]
	require.Equal(t, agent.AgentCodex, record.Agent)
	require.Equal(t, "switch", record.UserMessage)
	require.Equal(t, "from codex", record.Answer)
	require.NotEmpty(t, record.RequestID)
	require.True(t, strings.HasPrefix(string(record.Events[0].Kind), "status"))
}
