package app

import (
	"testing"

	"github.com/stretchr/testify/require"

	"iris/internal/agent/ports"
	"iris/internal/widget"
)

func TestHubFiltersByTarget(t *testing.T) {
	hub := NewWidgetHub(4)
	all, unsubAll := hub.Subscribe("")
	defer unsubAll()
	mac, unsubMac := hub.Subscribe("MAC")
	defer unsubMac()

	hub.OnEvent(ports.Event{Kind: ports.EventWidgetOpen, Widget: &widget.Record{WidgetID: "w1", Target: "ipad"}})
	hub.OnEvent(ports.Event{Kind: ports.EventDraw, Draw: &ports.DrawPayload{Target: "mac"}})
	hub.OnEvent(ports.Event{Kind: ports.EventMessageDelta, Text: "ignored"})

	require.Len(t, all, 2)
	require.Len(t, mac, 1)
	got := <-mac
	require.Equal(t, ports.EventDraw, got.Kind)
	require.Equal(t, int64(3), hub.Stats().Sent)
}

func TestHubDropsWhenReceiverIsSlow(t *testing.T) {
	hub := NewWidgetHub(1)
	_, unsub := hub.Subscribe("")
	defer unsub()

	for i := 0; i < 3; i++ {
		hub.OnEvent(ports.Event{Kind: ports.EventWidgetOpen, Widget: &widget.Record{Target: "mac"}})
	}
	stats := hub.Stats()
	require.Equal(t, int64(1), stats.Sent)
	require.Equal(t, int64(2), stats.Dropped)
}

func TestUnsubscribeClosesOnce(t *testing.T) {
	hub := NewWidgetHub(0)
	ch, unsub := hub.Subscribe("ipad")
	require.Equal(t, 1, hub.Stats().Clients)

	unsub()
	unsub()
	_, open := <-ch
	require.False(t, open)
	require.Equal(t, 0, hub.Stats().Clients)

	hub.OnEvent(ports.Event{Kind: ports.EventWidgetOpen, Widget: &widget.Record{Target: "ipad"}})
}
