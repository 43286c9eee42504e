package ports

import (
	"context"

	"iris/internal/widget"
)

// TurnSink is how code running inside a turn (tools, CLI bridges) reports
// events and widget side effects back to the engine. A message.final emitted
// by a strategy is not forwarded: it replaces the answer accumulated from
// deltas, and the engine still closes the turn with its own final.
type TurnSink interface {
	Emit(event Event)
	AddWidget(record widget.Record)
}

type turnSinkKey struct{}

// WithTurnSink attaches sink to ctx.
func WithTurnSink(ctx context.Context, sink TurnSink) context.Context {
	if sink == nil {
		return ctx
	}
	return context.WithValue(ctx, turnSinkKey{}, sink)
}

// TurnSinkFromContext returns the sink for the running turn, or a sink that
// drops everything when called outside a turn.
func TurnSinkFromContext(ctx context.Context) TurnSink {
	if ctx != nil {
		if sink, ok := ctx.Value(turnSinkKey{}).(TurnSink); ok {
			return sink
		}
	}
	return nopSink{}
}

type nopSink struct{}

func (nopSink) Emit(Event)              {}
func (nopSink) AddWidget(widget.Record) {}
