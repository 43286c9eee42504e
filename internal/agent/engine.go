// Package agent runs agent turns: it records the user message, dispatches to
// the selected agent strategy and finalizes the answer into the session.
package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"iris/internal/agent/ports"
	"iris/internal/async"
	"iris/internal/id"
	"iris/internal/logging"
	"iris/internal/observability"
	"iris/internal/session"
	"iris/internal/widget"
)

// MaxSeedTurns bounds the context turns accepted from a request envelope.
const MaxSeedTurns = 20

const streamBuffer = 16

var (
	ErrEmptyMessage = errors.New("message is required")
	// ErrTurnFailed marks a buffered turn that ended with an error event.
	ErrTurnFailed = errors.New("turn failed")
)

// SessionStore is the session cache surface the engine needs.
type SessionStore interface {
	GetOrCreate(ctx context.Context, sessionID, agent string) (session.Session, error)
	AddMessage(ctx context.Context, sessionID string, msg session.Message) (session.Message, error)
	GetMessages(ctx context.Context, sessionID string) []session.Message
	SetAgent(ctx context.Context, sessionID, agent string)
}

// TurnRequest is one inbound user message.
type TurnRequest struct {
	SessionID string
	Message   string
	// Agent is the resolved agent; empty means the engine default.
	Agent string
	// ExplicitAgent records that a request hint chose Agent, which makes it
	// the session's sticky agent.
	ExplicitAgent bool
	DeviceID      string
	RequestID     string
	MessageID     string
	// SeedTurns prime a brand-new empty session with earlier context.
	SeedTurns []session.Message
}

// TurnResult is the aggregate outcome of a buffered turn.
type TurnResult struct {
	SessionID string
	RequestID string
	Agent     string
	Text      string
	Widgets   []widget.Record
	Events    []ports.Event
	Error     string
}

// Engine runs turns against registered agent strategies.
type Engine struct {
	sessions     SessionStore
	strategies   map[string]ports.AgentStrategy
	defaultAgent string
	listeners    []ports.EventListener
	trajectory   ports.TrajectoryWriter
	background   *async.Tracker
	metrics      *observability.MetricsCollector
	tracer       *observability.TracerProvider
	logger       logging.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithListener adds an observer that sees every event of every turn.
func WithListener(listener ports.EventListener) Option {
	return func(e *Engine) {
		if listener != nil {
			e.listeners = append(e.listeners, listener)
		}
	}
}

// WithTrajectory persists each finished turn. Failures are logged only.
func WithTrajectory(writer ports.TrajectoryWriter) Option {
	return func(e *Engine) { e.trajectory = writer }
}

// WithTracker runs post-turn persistence on a shared tracker.
func WithTracker(tracker *async.Tracker) Option {
	return func(e *Engine) {
		if tracker != nil {
			e.background = tracker
		}
	}
}

func WithMetrics(metrics *observability.MetricsCollector) Option {
	return func(e *Engine) { e.metrics = metrics }
}

func WithTracer(tracer *observability.TracerProvider) Option {
	return func(e *Engine) { e.tracer = tracer }
}

// NewEngine builds an engine. defaultAgent must have a strategy.
func NewEngine(sessions SessionStore, defaultAgent string, strategies []ports.AgentStrategy, opts ...Option) (*Engine, error) {
	if sessions == nil {
		return nil, fmt.Errorf("agent engine: session store is required")
	}
	e := &Engine{
		sessions:     sessions,
		strategies:   make(map[string]ports.AgentStrategy, len(strategies)),
		defaultAgent: strings.TrimSpace(defaultAgent),
		background:   &async.Tracker{},
		logger:       logging.NewComponentLogger("engine"),
	}
	for _, s := range strategies {
		if s == nil {
			continue
		}
		e.strategies[s.Name()] = s
	}
	if e.defaultAgent == "" {
		e.defaultAgent = AgentIris
	}
	if _, ok := e.strategies[e.defaultAgent]; !ok {
		return nil, fmt.Errorf("agent engine: no strategy for default agent %q", e.defaultAgent)
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Agents lists the agents with a registered strategy.
func (e *Engine) Agents() []string {
	names := make([]string, 0, len(e.strategies))
	for _, name := range KnownAgents {
		if _, ok := e.strategies[name]; ok {
			names = append(names, name)
		}
	}
	return names
}

// Drain waits for post-turn background work.
func (e *Engine) Drain(ctx context.Context) error {
	return e.background.Wait(ctx)
}

// Stream starts a turn and returns its events. The user message is recorded
// before Stream returns. The channel carries a status event first and is
// closed right after the single message.final.
func (e *Engine) Stream(ctx context.Context, req TurnRequest) (<-chan ports.Event, error) {
	out := make(chan ports.Event, streamBuffer)
	run, err := e.begin(ctx, req, false, out)
	if err != nil {
		return nil, err
	}
	go func() {
		defer close(out)
		run.execute()
	}()
	return out, nil
}

// Run executes a turn to completion and returns the aggregate. The returned
// error wraps ErrTurnFailed when the turn ended with an error event; the
// result is populated either way.
func (e *Engine) Run(ctx context.Context, req TurnRequest) (TurnResult, error) {
	run, err := e.begin(ctx, req, true, nil)
	if err != nil {
		return TurnResult{}, err
	}
	run.execute()

	answer, failure, events, widgets := run.state.snapshot()
	result := TurnResult{
		SessionID: run.req.SessionID,
		RequestID: run.req.RequestID,
		Agent:     run.req.Agent,
		Text:      answer,
		Widgets:   widgets,
		Events:    events,
		Error:     failure,
	}
	if failure != "" {
		result.Text = ""
		return result, fmt.Errorf("%w: %s", ErrTurnFailed, failure)
	}
	return result, nil
}

type turnRun struct {
	engine   *Engine
	ctx      context.Context
	req      TurnRequest
	strategy ports.AgentStrategy
	history  []session.Message
	buffered bool
	started  time.Time
	state    *turnState
}

// begin validates the request, hydrates the session and records the user
// message. Nothing is mutated when validation fails.
func (e *Engine) begin(ctx context.Context, req TurnRequest, buffered bool, out chan<- ports.Event) (*turnRun, error) {
	req.SessionID = strings.TrimSpace(req.SessionID)
	if req.SessionID == "" {
		return nil, session.ErrEmptySessionID
	}
	if strings.TrimSpace(req.Message) == "" {
		return nil, ErrEmptyMessage
	}
	req.Agent = strings.TrimSpace(req.Agent)
	if req.Agent == "" {
		req.Agent = e.defaultAgent
	}
	strategy, ok := e.strategies[req.Agent]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAgent, req.Agent)
	}

	ctx = id.WithSessionID(ctx, req.SessionID)
	ctx = id.WithDeviceID(ctx, req.DeviceID)
	if req.RequestID != "" {
		ctx = id.WithRequestID(ctx, req.RequestID)
	} else {
		ctx, req.RequestID = id.EnsureRequestID(ctx)
	}

	sess, err := e.sessions.GetOrCreate(ctx, req.SessionID, req.Agent)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if req.ExplicitAgent {
		e.sessions.SetAgent(ctx, req.SessionID, req.Agent)
	}
	if len(sess.Messages) == 0 && len(req.SeedTurns) > 0 {
		e.seed(ctx, req.SessionID, req.SeedTurns)
	}
	if _, err := e.sessions.AddMessage(ctx, req.SessionID, session.Message{
		ID:       req.MessageID,
		Role:     session.RoleUser,
		Content:  req.Message,
		DeviceID: req.DeviceID,
	}); err != nil {
		return nil, fmt.Errorf("record user message: %w", err)
	}

	run := &turnRun{
		engine:   e,
		ctx:      ctx,
		req:      req,
		strategy: strategy,
		history:  e.sessions.GetMessages(ctx, req.SessionID),
		buffered: buffered,
		started:  time.Now(),
	}
	run.state = &turnState{
		ctx:       ctx,
		sessionID: req.SessionID,
		agent:     req.Agent,
		out:       out,
		listeners: e.listeners,
		metrics:   e.metrics,
	}
	return run, nil
}

func (e *Engine) seed(ctx context.Context, sessionID string, turns []session.Message) {
	if len(turns) > MaxSeedTurns {
		turns = turns[len(turns)-MaxSeedTurns:]
	}
	for _, turn := range turns {
		if strings.TrimSpace(turn.Content) == "" {
			continue
		}
		if _, err := e.sessions.AddMessage(ctx, sessionID, session.Message{
			Role:    turn.Role,
			Content: turn.Content,
		}); err != nil {
			e.logger.Warn("skip seed turn for %s: %v", sessionID, err)
		}
	}
}

func (r *turnRun) execute() {
	e := r.engine
	mode := "stream"
	if r.buffered {
		mode = "buffered"
	}
	ctx, span := e.tracer.StartSpan(r.ctx, observability.SpanTurn,
		attribute.String(observability.AttrAgent, r.req.Agent))
	defer span.End()

	r.state.Emit(ports.Event{Kind: ports.EventStatus, Message: fmt.Sprintf("agent %s is working", r.req.Agent)})

	err := r.dispatch(ports.WithTurnSink(ctx, r.state))
	if err != nil {
		span.SetAttributes(observability.ErrorAttrs(err)...)
		e.logger.Warn("turn %s/%s failed: %v", r.req.SessionID, r.req.Agent, err)
		r.state.Emit(ports.Event{Kind: ports.EventError, Message: err.Error()})
	}

	answer, failure, _, _ := r.state.snapshot()
	persistCtx := context.WithoutCancel(ctx)
	if failure == "" && strings.TrimSpace(answer) != "" {
		if _, addErr := e.sessions.AddMessage(persistCtx, r.req.SessionID, session.Message{
			Role:     session.RoleAssistant,
			Content:  answer,
			DeviceID: r.req.DeviceID,
		}); addErr != nil {
			e.logger.Warn("record assistant message for %s: %v", r.req.SessionID, addErr)
		}
	}

	final := r.state.finish()
	outcome := "success"
	if failure != "" {
		outcome = "error"
	}
	e.metrics.RecordTurn(persistCtx, r.req.Agent, mode, outcome, time.Since(r.started))
	r.writeTrajectory(persistCtx, final)
}

// dispatch runs the strategy, converting a panic into a turn-fatal error.
func (r *turnRun) dispatch(ctx context.Context) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("agent %s crashed: %v", r.req.Agent, rec)
		}
	}()
	return r.strategy.RunTurn(ctx, ports.TurnInput{
		SessionID: r.req.SessionID,
		Agent:     r.req.Agent,
		Message:   r.req.Message,
		DeviceID:  r.req.DeviceID,
		History:   r.history,
		Buffered:  r.buffered,
	}, r.state)
}

func (r *turnRun) writeTrajectory(ctx context.Context, final ports.Event) {
	writer := r.engine.trajectory
	if writer == nil {
		return
	}
	_, failure, events, widgets := r.state.snapshot()
	record := ports.TurnRecord{
		SessionID:   r.req.SessionID,
		RequestID:   r.req.RequestID,
		Agent:       r.req.Agent,
		DeviceID:    r.req.DeviceID,
		UserMessage: r.req.Message,
		Answer:      final.Text,
		Error:       failure,
		Widgets:     widgets,
		Events:      events,
		StartedAt:   r.started.UTC(),
		FinishedAt:  time.Now().UTC(),
	}
	logger := r.engine.logger
	r.engine.background.Go(logger, "trajectory.write", func() {
		if err := writer.WriteTurn(ctx, record); err != nil {
			logger.Warn("trajectory for %s not written: %v", record.SessionID, err)
		}
	})
}
