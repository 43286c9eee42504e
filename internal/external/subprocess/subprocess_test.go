package subprocess

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestStderrTailCapturesOutput(t *testing.T) {
	proc := New(Config{
		Command: "sh",
		Args:    []string{"-c", "echo err 1>&2; exit 2"},
	})
	require.NoError(t, proc.Start(context.Background()))
	_, _ = io.Copy(io.Discard, proc.Stdout())
	require.Error(t, proc.Wait())

	require.Contains(t, proc.StderrTail(), "err")
	require.Equal(t, 2, proc.ExitCode())
	require.False(t, proc.TimedOut())
}

func TestStdoutStreamsUntilExit(t *testing.T) {
	proc := New(Config{
		Command: "sh",
		Args:    []string{"-c", "echo one; echo two"},
	})
	require.NoError(t, proc.Start(context.Background()))
	out, err := io.ReadAll(proc.Stdout())
	require.NoError(t, err)
	require.NoError(t, proc.Wait())
	require.Equal(t, "one\ntwo\n", string(out))
	require.Equal(t, 0, proc.ExitCode())
}

func TestTimeoutKillsProcessGroup(t *testing.T) {
	proc := New(Config{
		Command: "sh",
		Args:    []string{"-c", "sleep 30 & sleep 30; wait"},
		Timeout: 200 * time.Millisecond,
	})
	start := time.Now()
	require.NoError(t, proc.Start(context.Background()))
	_, _ = io.Copy(io.Discard, proc.Stdout())
	require.Error(t, proc.Wait())

	require.True(t, proc.TimedOut())
	require.Less(t, time.Since(start), 10*time.Second)
}

func TestCancelledContextStopsProcess(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	proc := New(Config{Command: "sleep", Args: []string{"30"}})
	require.NoError(t, proc.Start(ctx))

	cancel()
	_, _ = io.Copy(io.Discard, proc.Stdout())
	require.Error(t, proc.Wait())
	require.False(t, proc.TimedOut())
}

func TestStartRejectsDoubleStartAndEmptyCommand(t *testing.T) {
	require.Error(t, New(Config{}).Start(context.Background()))

	proc := New(Config{Command: "true"})
	require.NoError(t, proc.Start(context.Background()))
	err := proc.Start(context.Background())
	require.Error(t, err)
	require.True(t, strings.Contains(err.Error(), "already started"))
	_, _ = io.Copy(io.Discard, proc.Stdout())
	require.NoError(t, proc.Wait())
}

func TestTailBufferKeepsNewestBytes(t *testing.T) {
	tb := &tailBuffer{limit: 4}
	_, _ = tb.Write([]byte("abcdef"))
	_, _ = tb.Write([]byte("gh"))
	require.Equal(t, "efgh", tb.String())
}
