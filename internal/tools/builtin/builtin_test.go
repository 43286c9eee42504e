package builtin

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"iris/internal/agent/ports"
	"iris/internal/device"
	"iris/internal/id"
	"iris/internal/llm"
	"iris/internal/session"
	"iris/internal/session/remote"
	"iris/internal/widget"
)

type recordingSink struct {
	mu      sync.Mutex
	events  []ports.Event
	widgets []widget.Record
}

func (s *recordingSink) Emit(event ports.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
}

func (s *recordingSink) AddWidget(record widget.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.widgets = append(s.widgets, record)
}

func TestShowWidgetMacRecordsWidget(t *testing.T) {
	sink := &recordingSink{}
	ctx := ports.WithTurnSink(context.Background(), sink)
	tool := NewShowWidget(widget.NewDispatcher(device.NewRegistry(), 0))

	out, err := tool.Execute(ctx, ports.ToolCall{ID: "1", Name: "show_widget", Arguments: map[string]any{
		"html":   "<p>hi</p>",
		"target": "MAC",
		"width":  float64(50),
	}})
	require.NoError(t, err)
	require.Contains(t, out.Text, "sent to mac")

	require.Len(t, sink.widgets, 1)
	record := sink.widgets[0]
	require.True(t, record.Delivered)
	require.Equal(t, widget.TargetMac, record.Target)
	require.Equal(t, widget.MinDimension, record.Width)
	require.Equal(t, widget.DefaultHeight, record.Height)
}

func TestShowWidgetQueuesWithoutIPad(t *testing.T) {
	sink := &recordingSink{}
	ctx := ports.WithTurnSink(context.Background(), sink)
	tool := NewShowWidget(widget.NewDispatcher(device.NewRegistry(), 0))

	out, err := tool.Execute(ctx, ports.ToolCall{ID: "1", Arguments: map[string]any{"html": "<p>hi</p>"}})
	require.NoError(t, err)
	require.Contains(t, out.Text, "queued")
	require.Contains(t, out.Text, "no ipad device")
	require.Len(t, sink.widgets, 1)
	require.False(t, sink.widgets[0].Delivered)
}

func TestShowWidgetRequiresHTML(t *testing.T) {
	tool := NewShowWidget(widget.NewDispatcher(device.NewRegistry(), 0))
	_, err := tool.Execute(context.Background(), ports.ToolCall{Arguments: map[string]any{}})
	require.Error(t, err)
}

func TestDrawOverlayEmitsDrawEvent(t *testing.T) {
	sink := &recordingSink{}
	ctx := ports.WithTurnSink(context.Background(), sink)

	overlay := map[string]any{"shapes": []any{map[string]any{"kind": "circle"}}}
	out, err := NewDrawOverlay().Execute(ctx, ports.ToolCall{Arguments: map[string]any{
		"target":    "mac",
		"widget_id": "w1",
		"overlay":   overlay,
	}})
	require.NoError(t, err)
	require.Contains(t, out.Text, "w1")

	require.Len(t, sink.events, 1)
	event := sink.events[0]
	require.Equal(t, ports.EventDraw, event.Kind)
	require.Equal(t, "mac", event.Draw.Target)
	require.Equal(t, overlay, event.Draw.Overlay)
}

func TestDrawOverlayRejectsUnknownTarget(t *testing.T) {
	sink := &recordingSink{}
	ctx := ports.WithTurnSink(context.Background(), sink)

	out, err := NewDrawOverlay().Execute(ctx, ports.ToolCall{Arguments: map[string]any{
		"target":  "tv",
		"overlay": map[string]any{"shapes": []any{}},
	}})
	require.Error(t, err)
	require.Contains(t, out.Text, "unknown target")
	require.Empty(t, sink.events)
}

func TestListDevices(t *testing.T) {
	registry := device.NewRegistry()
	tool := NewListDevices(registry)

	out, err := tool.Execute(context.Background(), ports.ToolCall{})
	require.NoError(t, err)
	require.Equal(t, "No devices are registered.", out.Text)

	_, _, err = registry.Register(device.Device{ID: "ipad-1", Host: "10.0.0.5", Port: 8080, Platform: "iPadOS"})
	require.NoError(t, err)
	out, err = tool.Execute(context.Background(), ports.ToolCall{})
	require.NoError(t, err)
	require.Contains(t, out.Text, "ipad-1")
	require.Contains(t, out.Text, "10.0.0.5:8080")
}

const searchPage = `<html><body>
<div class="result result--ad"><a class="result__a" href="https://ads.example">Ad</a></div>
<div class="result">
  <a class="result__a" href="//duckduckgo.com/l/?uddg=https%3A%2F%2Fgo.dev%2Fdoc%2F&rut=x">Go <b>Documentation</b></a>
  <a class="result__snippet">The   official Go docs.</a>
</div>
<div class="result">
  <a class="result__a" href="https://pkg.go.dev">Go Packages</a>
</div>
<div class="result">
  <a class="result__a" href="https://go.dev/blog">Go Blog</a>
</div>
</body></html>`

func TestWebSearchParsesResults(t *testing.T) {
	var query string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query = r.URL.Query().Get("q")
		w.Header().Set("Content-Type", "text/html")
		_, _ = io.WriteString(w, searchPage)
	}))
	t.Cleanup(server.Close)

	tool := NewWebSearch(server.URL, server.Client())
	out, err := tool.Execute(context.Background(), ports.ToolCall{Arguments: map[string]any{
		"query":       "golang docs",
		"max_results": float64(2),
	}})
	require.NoError(t, err)
	require.Equal(t, "golang docs", query)
	require.Contains(t, out.Text, "1. Go Documentation")
	require.Contains(t, out.Text, "https://go.dev/doc/")
	require.Contains(t, out.Text, "The official Go docs.")
	require.Contains(t, out.Text, "2. Go Packages")
	require.NotContains(t, out.Text, "Go Blog")
	require.NotContains(t, out.Text, "Ad\n")
}

func TestWebSearchRequiresQuery(t *testing.T) {
	_, err := NewWebSearch("http://127.0.0.1:1", nil).Execute(context.Background(), ports.ToolCall{Arguments: map[string]any{}})
	require.Error(t, err)
}

type fakeScreens struct {
	shot remote.Screenshot
	err  error
}

func (f fakeScreens) LatestScreenshot(_ context.Context, deviceID string) (remote.Screenshot, error) {
	if f.err != nil {
		return remote.Screenshot{}, f.err
	}
	shot := f.shot
	shot.DeviceID = deviceID
	return shot, nil
}

func TestDescribeScreenWithoutVisionReturnsBlocks(t *testing.T) {
	screens := fakeScreens{shot: remote.Screenshot{MediaType: "image/png", Data: "QUJD", CapturedAt: time.Unix(0, 0)}}
	ctx := id.WithDeviceID(context.Background(), "mac-1")

	out, err := NewDescribeScreen(screens, nil).Execute(ctx, ports.ToolCall{})
	require.NoError(t, err)
	require.Equal(t, ports.ToolOutputBlocks, out.Kind)
	require.Len(t, out.Blocks, 2)
	require.Contains(t, out.Blocks[0].Text, "mac-1")
	require.Equal(t, ports.BlockImage, out.Blocks[1].Type)
	require.Equal(t, "QUJD", out.Blocks[1].Data)
}

func TestDescribeScreenUsesVisionClient(t *testing.T) {
	screens := fakeScreens{shot: remote.Screenshot{MediaType: "image/jpeg", Data: "QUJD"}}
	vision := llm.NewScriptedClient(llm.Text("A terminal running tests."))

	out, err := NewDescribeScreen(screens, vision).Execute(context.Background(), ports.ToolCall{Arguments: map[string]any{
		"device_id": "ipad-1",
		"question":  "any errors?",
	}})
	require.NoError(t, err)
	require.Equal(t, ports.ToolOutputText, out.Kind)
	require.Contains(t, out.Text, "A terminal running tests.")

	requests := vision.Requests()
	require.Len(t, requests, 1)
	msg := requests[0].Messages[0]
	require.Contains(t, msg.Content, "any errors?")
	require.Len(t, msg.Attachments, 1)
	require.Equal(t, "image/jpeg", msg.Attachments[0].MediaType)
}

func TestDescribeScreenHandlesMissingCapture(t *testing.T) {
	screens := fakeScreens{err: fmt.Errorf("no screenshot: %w", session.ErrNotFound)}
	out, err := NewDescribeScreen(screens, nil).Execute(context.Background(), ports.ToolCall{Arguments: map[string]any{"device_id": "ipad-1"}})
	require.NoError(t, err)
	require.Contains(t, out.Text, "No screenshot")

	_, err = NewDescribeScreen(fakeScreens{err: errors.New("boom")}, nil).Execute(context.Background(), ports.ToolCall{})
	require.Error(t, err)
}
