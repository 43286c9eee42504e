// Package app holds server-side services shared by the transport handlers.
package app

import (
	"strings"
	"sync"
	"sync/atomic"

	"iris/internal/agent/ports"
	"iris/internal/logging"
)

const defaultClientBuffer = 64

// WidgetHub fans widget.open and draw events out to websocket receivers.
// It never blocks the turn that produced the event: a full client buffer
// drops the event for that client.
type WidgetHub struct {
	mu      sync.RWMutex
	clients map[chan ports.Event]string
	buffer  int
	logger  logging.Logger

	sent    atomic.Int64
	dropped atomic.Int64
}

var _ ports.EventListener = (*WidgetHub)(nil)

// HubStats counts fan-out outcomes since start.
type HubStats struct {
	Clients int   `json:"clients"`
	Sent    int64 `json:"sent"`
	Dropped int64 `json:"dropped"`
}

// NewWidgetHub creates a hub with the given per-client buffer.
func NewWidgetHub(buffer int) *WidgetHub {
	if buffer <= 0 {
		buffer = defaultClientBuffer
	}
	return &WidgetHub{
		clients: make(map[chan ports.Event]string),
		buffer:  buffer,
		logger:  logging.NewComponentLogger("widget-hub"),
	}
}

// OnEvent implements ports.EventListener.
func (h *WidgetHub) OnEvent(event ports.Event) {
	if event.Kind != ports.EventWidgetOpen && event.Kind != ports.EventDraw {
		return
	}
	target := eventTarget(event)

	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch, filter := range h.clients {
		if filter != "" && !strings.EqualFold(filter, target) {
			continue
		}
		select {
		case ch <- event:
			h.sent.Add(1)
		default:
			h.dropped.Add(1)
			h.logger.Warn("receiver buffer full, dropping %s for %s", event.Kind, target)
		}
	}
}

// Subscribe registers a receiver. An empty target receives every event.
// The returned func unregisters it and closes the channel.
func (h *WidgetHub) Subscribe(target string) (<-chan ports.Event, func()) {
	ch := make(chan ports.Event, h.buffer)
	target = strings.ToLower(strings.TrimSpace(target))

	h.mu.Lock()
	h.clients[ch] = target
	total := len(h.clients)
	h.mu.Unlock()
	h.logger.Info("receiver subscribed (target=%q, total=%d)", target, total)

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.clients, ch)
			close(ch)
			h.mu.Unlock()
		})
	}
}

// Stats returns a snapshot of fan-out counters.
func (h *WidgetHub) Stats() HubStats {
	h.mu.RLock()
	clients := len(h.clients)
	h.mu.RUnlock()
	return HubStats{Clients: clients, Sent: h.sent.Load(), Dropped: h.dropped.Load()}
}

func eventTarget(event ports.Event) string {
	switch {
	case event.Widget != nil:
		return event.Widget.Target
	case event.Draw != nil:
		return event.Draw.Target
	}
	return ""
}
