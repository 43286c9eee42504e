package logging

import (
	"bytes"
	"fmt"
	"testing"

	"iris/internal/observability"

	"github.com/stretchr/testify/require"
)

type recordingLogger struct {
	lines []string
}

func (r *recordingLogger) Debug(format string, args ...any) { r.add("DEBUG", format, args...) }
func (r *recordingLogger) Info(format string, args ...any)  { r.add("INFO", format, args...) }
func (r *recordingLogger) Warn(format string, args ...any)  { r.add("WARN", format, args...) }
func (r *recordingLogger) Error(format string, args ...any) { r.add("ERROR", format, args...) }

func (r *recordingLogger) add(level, format string, args ...any) {
	r.lines = append(r.lines, level+" "+fmt.Sprintf(format, args...))
}

func TestOrNopHandlesTypedNil(t *testing.T) {
	var typed *recordingLogger
	require.True(t, IsNil(typed))
	require.NotPanics(t, func() { OrNop(typed).Info("hello %s", "world") })
}

func TestMultiFansOutAndFlattens(t *testing.T) {
	a, b := &recordingLogger{}, &recordingLogger{}
	logger := Multi(Multi(a, nil), b)
	logger.Warn("value=%d", 3)

	require.Equal(t, []string{"WARN value=3"}, a.lines)
	require.Equal(t, []string{"WARN value=3"}, b.lines)
	require.Equal(t, Nop(), Multi())
}

func TestComponentLoggerFollowsConfigure(t *testing.T) {
	logger := NewComponentLogger("session")

	var buf bytes.Buffer
	Configure(observability.LogConfig{Level: "debug", Format: "json", Output: &buf})
	t.Cleanup(func() { Configure(observability.LogConfig{Level: "info"}) })

	logger.Debug("hydrated %s", "abc")
	require.Contains(t, buf.String(), `"component":"session"`)
	require.Contains(t, buf.String(), "hydrated abc")
}
