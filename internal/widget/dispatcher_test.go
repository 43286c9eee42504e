package widget

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"iris/internal/device"
	"iris/internal/jsonx"

	"github.com/stretchr/testify/require"
)

func registerServer(t *testing.T, registry *device.Registry, id, platform string, srv *httptest.Server) {
	t.Helper()
	host, portStr, err := net.SplitHostPort(srv.Listener.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	_, _, err = registry.Register(device.Device{ID: id, Name: id, Host: host, Port: port, Platform: platform})
	require.NoError(t, err)
}

func TestMacIsDeliveredViaStreamWithoutPush(t *testing.T) {
	t.Parallel()

	registry := device.NewRegistry()
	d := NewDispatcher(registry, time.Second)

	msg, record := d.Deliver(context.Background(), Request{WidgetID: "w1", Target: " MAC ", HTML: "<b>hi</b>"})
	require.True(t, record.Delivered)
	require.Equal(t, ViaStream, record.Via)
	require.Equal(t, TargetMac, record.Target)
	require.Contains(t, msg, "w1")
}

func TestIPadWithEmptyRegistryIsQueued(t *testing.T) {
	t.Parallel()

	d := NewDispatcher(device.NewRegistry(), time.Second)
	msg, record := d.Deliver(context.Background(), Request{WidgetID: "w2", Target: "ipad", HTML: "<p/>"})

	require.False(t, record.Delivered)
	require.Equal(t, ViaQueued, record.Via)
	require.Contains(t, msg, "queued")
	require.Contains(t, msg, "no ipad device")
}

func TestUnknownTargetIsRejectedWithoutLookup(t *testing.T) {
	t.Parallel()

	registry := device.NewRegistry()
	_, _, err := registry.Register(device.Device{ID: "w", Host: "127.0.0.1", Port: 1, Platform: "watch"})
	require.NoError(t, err)
	d := NewDispatcher(registry, time.Second)
	msg, record := d.Deliver(context.Background(), Request{WidgetID: "w3", Target: "Watch", HTML: "<p/>"})

	require.False(t, record.Delivered)
	require.Equal(t, ViaRejected, record.Via)
	require.Empty(t, record.DeviceID)
	require.Contains(t, msg, `unknown target "watch"`)
}

func TestIPadPushSucceedsAndCapturesRemoteID(t *testing.T) {
	t.Parallel()

	var received pushPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/widgets" {
			http.NotFound(w, r)
			return
		}
		body, _ := io.ReadAll(r.Body)
		_ = jsonx.Unmarshal(body, &received)
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"remote-42"}`))
	}))
	defer srv.Close()

	registry := device.NewRegistry()
	registerServer(t, registry, "pad", "iPadOS", srv)

	d := NewDispatcher(registry, time.Second)
	msg, record := d.Deliver(context.Background(), Request{WidgetID: "w3", Target: "ipad", HTML: "<p/>", Width: 5000, Height: 10})

	require.True(t, record.Delivered)
	require.Equal(t, "remote-42", record.RemoteID)
	require.Equal(t, "pad", record.DeviceID)
	require.Contains(t, msg, "delivered")
	require.Equal(t, MaxDimension, received.Width)
	require.Equal(t, MinDimension, received.Height)
	require.Equal(t, "w3", received.WidgetID)
}

func TestIPadPushFailureIsRecorded(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "screen locked", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	registry := device.NewRegistry()
	registerServer(t, registry, "pad", "ios", srv)

	_, record := NewDispatcher(registry, time.Second).Deliver(context.Background(), Request{Target: "ipad", HTML: "x"})
	require.False(t, record.Delivered)
	require.Contains(t, record.Error, "503")
	require.Contains(t, record.Error, "screen locked")
	require.NotEmpty(t, record.WidgetID)
}

func TestClampDimension(t *testing.T) {
	require.Equal(t, DefaultWidth, ClampDimension(0, DefaultWidth))
	require.Equal(t, MinDimension, ClampDimension(1, DefaultWidth))
	require.Equal(t, 640, ClampDimension(640, DefaultWidth))
	require.Equal(t, MaxDimension, ClampDimension(1601, DefaultWidth))
}
