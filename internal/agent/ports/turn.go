package ports

import (
	"context"
	"time"

	"iris/internal/session"
	"iris/internal/widget"
)

// TurnInput is what an agent strategy sees for one turn. History already
// ends with the user message being answered.
type TurnInput struct {
	SessionID string
	Agent     string
	Message   string
	DeviceID  string
	History   []session.Message
	// Buffered is set for aggregate (non-streaming) turns, which bound the
	// number of tool rounds.
	Buffered bool
}

// AgentStrategy produces the assistant side of a turn. Answer text is
// reported as message.delta events on sink. A returned error is turn-fatal;
// recoverable failures are expected to be reported as answer text instead.
type AgentStrategy interface {
	Name() string
	RunTurn(ctx context.Context, in TurnInput, sink TurnSink) error
}

// TurnRecord is the post-turn summary handed to the trajectory writer.
type TurnRecord struct {
	SessionID   string          `json:"session_id" yaml:"session_id"`
	RequestID   string          `json:"request_id,omitempty" yaml:"request_id,omitempty"`
	Agent       string          `json:"agent" yaml:"agent"`
	DeviceID    string          `json:"device_id,omitempty" yaml:"device_id,omitempty"`
	UserMessage string          `json:"user_message" yaml:"user_message"`
	Answer      string          `json:"answer" yaml:"answer"`
	Error       string          `json:"error,omitempty" yaml:"error,omitempty"`
	Widgets     []widget.Record `json:"widgets,omitempty" yaml:"widgets,omitempty"`
	Events      []Event         `json:"events" yaml:"events"`
	StartedAt   time.Time       `json:"started_at" yaml:"started_at"`
	FinishedAt  time.Time       `json:"finished_at" yaml:"finished_at"`
}

// TrajectoryWriter persists finished turns.
type TrajectoryWriter interface {
	WriteTurn(ctx context.Context, record TurnRecord) error
}
