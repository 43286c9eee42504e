package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/stretchr/testify/require"

	"iris/internal/agent/ports"
	"iris/internal/device"
	"iris/internal/jsonx"
	"iris/internal/widget"
)

func ndjson(events ...ports.Event) string {
	var b strings.Builder
	for _, e := range events {
		data, _ := jsonx.Marshal(e)
		b.Write(data)
		b.WriteByte('\n')
	}
	return b.String()
}

func TestStreamChatDeliversEventsInOrder(t *testing.T) {
	var got chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/stream" || r.URL.Query().Get("format") != "ndjson" {
			http.NotFound(w, r)
			return
		}
		body, _ := io.ReadAll(r.Body)
		_ = jsonx.Unmarshal(body, &got)
		w.Header().Set("Content-Type", "application/x-ndjson")
		fmt.Fprint(w, ndjson(
			ports.Event{Kind: ports.EventStatus, Seq: 1, Agent: "iris", Message: "agent iris is working"},
			ports.Event{Kind: ports.EventMessageDelta, Seq: 2, Text: "hello"},
			ports.Event{Kind: ports.EventMessageFinal, Seq: 3, Text: "hello"},
		))
	}))
	defer srv.Close()

	client, err := newGatewayClient(srv.URL, time.Second)
	require.NoError(t, err)

	var kinds []ports.EventKind
	err = client.StreamChat(context.Background(), chatRequest{ChatID: "c1", Message: "hi"}, func(e ports.Event) error {
		kinds = append(kinds, e.Kind)
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, []ports.EventKind{ports.EventStatus, ports.EventMessageDelta, ports.EventMessageFinal}, kinds)
	require.Equal(t, "c1", got.ChatID)
	require.Equal(t, "hi", got.Message)
}

func TestStreamChatWithoutFinalIsAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, ndjson(ports.Event{Kind: ports.EventStatus}))
	}))
	defer srv.Close()

	client, err := newGatewayClient(srv.URL, time.Second)
	require.NoError(t, err)
	err = client.StreamChat(context.Background(), chatRequest{ChatID: "c1", Message: "hi"}, func(ports.Event) error { return nil })
	require.ErrorContains(t, err, "without a final message")
}

func TestServerErrorMessageIsSurfaced(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":"unknown agent: \"gpt\""}`)
	}))
	defer srv.Close()

	client, err := newGatewayClient(srv.URL, time.Second)
	require.NoError(t, err)
	err = client.StreamChat(context.Background(), chatRequest{Agent: "gpt", ChatID: "c1", Message: "hi"}, func(ports.Event) error { return nil })
	require.EqualError(t, err, `server returned 400: unknown agent: "gpt"`)
}

func TestDeviceCalls(t *testing.T) {
	devices := map[string]device.Device{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/devices":
			var d device.Device
			body, _ := io.ReadAll(r.Body)
			_ = jsonx.Unmarshal(body, &d)
			_, exists := devices[d.ID]
			devices[d.ID] = d
			fmt.Fprintf(w, `{"created":%v}`, !exists)
		case r.Method == http.MethodGet && r.URL.Path == "/devices":
			list := make([]device.Device, 0, len(devices))
			for _, d := range devices {
				list = append(list, d)
			}
			data, _ := jsonx.Marshal(map[string]any{"devices": list, "count": len(list)})
			_, _ = w.Write(data)
		case r.Method == http.MethodDelete && r.URL.Path == "/devices/ipad-1":
			if _, ok := devices["ipad-1"]; !ok {
				w.WriteHeader(http.StatusNotFound)
				fmt.Fprint(w, `{"error":"device not found"}`)
				return
			}
			delete(devices, "ipad-1")
			fmt.Fprint(w, `{"removed":"ipad-1"}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	client, err := newGatewayClient(srv.URL, time.Second)
	require.NoError(t, err)
	ctx := context.Background()

	ipad := device.Device{ID: "ipad-1", Name: "Kitchen", Host: "10.0.0.2", Port: 8080, Platform: "ipados"}
	created, err := client.RegisterDevice(ctx, ipad)
	require.NoError(t, err)
	require.True(t, created)
	created, err = client.RegisterDevice(ctx, ipad)
	require.NoError(t, err)
	require.False(t, created)

	list, err := client.ListDevices(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)

	var out bytes.Buffer
	printDevices(&out, list)
	require.Contains(t, out.String(), "10.0.0.2:8080")

	require.NoError(t, client.RemoveDevice(ctx, "ipad-1"))
	require.ErrorContains(t, client.RemoveDevice(ctx, "ipad-1"), "device not found")
}

func TestInvalidServerURL(t *testing.T) {
	_, err := newGatewayClient("localhost", time.Second)
	require.Error(t, err)
}

func TestPlainPrinterStreamsDeltas(t *testing.T) {
	color.NoColor = true
	var out bytes.Buffer
	p := newEventPrinter(&out, true)
	p.Print(ports.Event{Kind: ports.EventStatus, Message: "agent iris is working"})
	p.Print(ports.Event{Kind: ports.EventToolCall, Tool: &ports.ToolEvent{Name: "show_widget", Arguments: map[string]any{"target": "mac"}}})
	p.Print(ports.Event{Kind: ports.EventWidgetOpen, Widget: &widget.Record{WidgetID: "w-1", Target: "mac", Width: 320, Height: 220, Delivered: true, Via: "stream"}})
	p.Print(ports.Event{Kind: ports.EventMessageDelta, Text: "done"})
	p.Print(ports.Event{Kind: ports.EventMessageFinal, Text: "done"})

	text := out.String()
	require.Contains(t, text, "agent iris is working")
	require.Contains(t, text, "show_widget(target=mac)")
	require.Contains(t, text, "w-1")
	require.Equal(t, 1, strings.Count(text, "done"))
}

func TestTruncate(t *testing.T) {
	require.Equal(t, "a b", truncate("a\nb", 10))
	require.Equal(t, "héll…", truncate("héllo world", 4))
}
