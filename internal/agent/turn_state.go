package agent

import (
	"context"
	"strings"
	"sync"
	"time"

	"iris/internal/agent/ports"
	"iris/internal/observability"
	"iris/internal/widget"
)

// deltaSeparator joins answer text produced by separate rounds.
const deltaSeparator = "\n\n"

// turnState is the TurnSink for one running turn. It stamps events, keeps the
// ordered log, accumulates the answer and forwards events to the consumer.
type turnState struct {
	ctx       context.Context
	sessionID string
	agent     string
	out       chan<- ports.Event
	listeners []ports.EventListener
	metrics   *observability.MetricsCollector

	mu       sync.Mutex
	seq      int
	events   []ports.Event
	widgets  []widget.Record
	answer   strings.Builder
	deltas   int
	failure  string
	finished bool
}

var _ ports.TurnSink = (*turnState)(nil)

func (t *turnState) Emit(event ports.Event) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.finished {
		return
	}
	if event.Kind == ports.EventMessageFinal {
		t.answer.Reset()
		t.answer.WriteString(event.Text)
		t.deltas = 1
		return
	}
	if event.Kind == ports.EventMessageDelta {
		if event.Text == "" {
			return
		}
		if t.deltas > 0 {
			event.Text = deltaSeparator + event.Text
		}
		t.deltas++
		t.answer.WriteString(event.Text)
	}
	if event.Kind == ports.EventError && t.failure == "" {
		t.failure = event.Message
	}
	t.publishLocked(event)
}

func (t *turnState) AddWidget(record widget.Record) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.finished {
		return
	}
	t.widgets = append(t.widgets, record)
	r := record
	t.publishLocked(ports.Event{Kind: ports.EventWidgetOpen, Widget: &r})
}

// finish emits the single message.final and closes the turn to further
// events.
func (t *turnState) finish() ports.Event {
	t.mu.Lock()
	defer t.mu.Unlock()
	final := ports.Event{
		Kind:    ports.EventMessageFinal,
		Text:    t.answer.String(),
		Widgets: append([]widget.Record{}, t.widgets...),
	}
	if t.failure != "" {
		final.Text = ""
	}
	final = t.publishLocked(final)
	t.finished = true
	return final
}

// publishLocked stamps and delivers one event. The send happens under the
// lock so channel order equals sequence order. A cancelled consumer only
// stops delivery; the log keeps growing.
func (t *turnState) publishLocked(event ports.Event) ports.Event {
	t.seq++
	event.Seq = t.seq
	event.SessionID = t.sessionID
	if event.Agent == "" {
		event.Agent = t.agent
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	t.events = append(t.events, event)
	t.metrics.RecordStreamEvent(t.ctx, string(event.Kind))

	for _, listener := range t.listeners {
		listener.OnEvent(event)
	}
	if t.out != nil {
		select {
		case t.out <- event:
		case <-t.ctx.Done():
		}
	}
	return event
}

func (t *turnState) snapshot() (answer, failure string, events []ports.Event, widgets []widget.Record) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.answer.String(), t.failure,
		append([]ports.Event(nil), t.events...),
		append([]widget.Record{}, t.widgets...)
}
