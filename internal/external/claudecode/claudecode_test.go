package claudecode

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"iris/internal/agent/ports"
	"iris/internal/external/bridge"
	"iris/internal/session/bindingstore"
	"iris/internal/widget"
)

func parse(t *testing.T, line string) bridge.StreamMessage {
	t.Helper()
	msg, err := bridge.ParseStreamMessage([]byte(line))
	require.NoError(t, err)
	return msg
}

func TestArgs(t *testing.T) {
	d := dialect{model: "sonnet"}
	require.Equal(t,
		[]string{"-p", "--output-format", "stream-json", "--verbose", "--model", "sonnet", "--", "-rf is not a flag"},
		d.Args("-rf is not a flag", ""))
	require.Equal(t,
		[]string{"-p", "--output-format", "stream-json", "--verbose", "--resume", "abc", "--", "hi"},
		dialect{}.Args("hi", "abc"))
}

func TestInterpret(t *testing.T) {
	d := dialect{}
	require.Equal(t, "s-1", d.Interpret(parse(t, `{"type":"system","subtype":"init","session_id":"s-1"}`)).SessionToken)
	require.Equal(t, "s-2", d.Interpret(parse(t, `{"type":"init","session_id":"s-2"}`)).SessionToken)
	require.Empty(t, d.Interpret(parse(t, `{"type":"system","subtype":"hook","session_id":"x"}`)).SessionToken)

	tools := d.Interpret(parse(t, `{"type":"assistant","message":{"content":[{"type":"text","text":"looking"},{"type":"tool_use","id":"tu","name":"Read","input":{"path":"a.go"}}]}}`)).Tools
	require.Len(t, tools, 1)
	require.Equal(t, "Read", tools[0].Name)
	require.Equal(t, "a.go", tools[0].Arguments["path"])

	update := d.Interpret(parse(t, `{"type":"result","subtype":"success","result":"It is 4.","session_id":"s-1"}`))
	require.Equal(t, "It is 4.", update.Answer)
}

type sinkRecorder struct{ events []ports.Event }

func (s *sinkRecorder) Emit(e ports.Event)      { s.events = append(s.events, e) }
func (s *sinkRecorder) AddWidget(widget.Record) {}

func TestBridgeRunsCLI(t *testing.T) {
	script := filepath.Join(t.TempDir(), "claude")
	require.NoError(t, os.WriteFile(script, []byte(`#!/bin/sh
[ "$ANTHROPIC_API_KEY" = "k" ] || { echo "missing key" 1>&2; exit 1; }
echo '{"type":"system","subtype":"init","session_id":"abc"}'
echo '{"type":"result","result":"done"}'
`), 0o755))

	store, err := bindingstore.Open(bindingstore.MemoryPath)
	require.NoError(t, err)
	defer store.Close()

	b := New(Config{BinaryPath: script, APIKey: "k", Timeout: 5 * time.Second}, store)
	require.Equal(t, Agent, b.Name())

	sink := &sinkRecorder{}
	require.NoError(t, b.RunTurn(context.Background(), ports.TurnInput{SessionID: "c1", Message: "hi"}, sink))
	require.Len(t, sink.events, 1)
	require.Equal(t, "done", sink.events[0].Text)

	binding, ok, err := store.Get(context.Background(), "c1", Agent)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "abc", binding.Token)
}
