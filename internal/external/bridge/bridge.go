// Package bridge runs a CLI coding agent as one turn: it launches the binary
// with the user message, reads its NDJSON stream and turns the outcome into
// answer text. Dialects describe how each CLI is invoked and what its stream
// lines mean.
package bridge

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"iris/internal/agent/ports"
	"iris/internal/external/subprocess"
	"iris/internal/logging"
	"iris/internal/observability"
	"iris/internal/session/bindingstore"
)

// DefaultTimeout bounds one CLI turn.
const DefaultTimeout = 120 * time.Second

const (
	maxLineBytes = 2 * 1024 * 1024
	maxRawBytes  = 64 * 1024
)

// ToolUse is a tool invocation reported by the CLI.
type ToolUse struct {
	CallID    string
	Name      string
	Arguments map[string]any
}

// Update is what a dialect extracted from one stream line.
type Update struct {
	SessionToken string
	Answer       string
	Tools        []ToolUse
}

// Dialect adapts one CLI.
type Dialect interface {
	Agent() string
	Args(prompt, resumeToken string) []string
	Interpret(msg StreamMessage) Update
}

// BindingStore remembers the CLI session token for a chat.
type BindingStore interface {
	Get(ctx context.Context, chatID, agent string) (bindingstore.Binding, bool, error)
	Put(ctx context.Context, b bindingstore.Binding) error
	Delete(ctx context.Context, chatID, agent string) error
}

// Config controls how the binary is launched.
type Config struct {
	BinaryPath string
	WorkingDir string
	Timeout    time.Duration
	Env        map[string]string
}

// Bridge is a ports.AgentStrategy backed by a CLI subprocess.
type Bridge struct {
	dialect  Dialect
	cfg      Config
	bindings BindingStore
	tracer   *observability.TracerProvider
	logger   logging.Logger
}

var _ ports.AgentStrategy = (*Bridge)(nil)

// Option configures a Bridge.
type Option func(*Bridge)

func WithTracer(tracer *observability.TracerProvider) Option {
	return func(b *Bridge) { b.tracer = tracer }
}

// New builds a bridge. bindings may be nil, which disables resume.
func New(dialect Dialect, cfg Config, bindings BindingStore, opts ...Option) *Bridge {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	b := &Bridge{
		dialect:  dialect,
		cfg:      cfg,
		bindings: bindings,
		logger:   logging.NewComponentLogger(dialect.Agent()),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Bridge) Name() string { return b.dialect.Agent() }

// TimeoutMessage is the answer of a turn whose CLI ran out of time.
func TimeoutMessage(agent string, timeout time.Duration) string {
	if timeout%time.Second == 0 {
		return fmt.Sprintf("%s timed out after %d seconds", agent, int(timeout/time.Second))
	}
	return fmt.Sprintf("%s timed out after %s", agent, timeout)
}

// RunTurn runs the CLI once. Launch failures, timeouts and non-zero exits
// all become answer text; only a cancelled request is returned as an error.
func (b *Bridge) RunTurn(ctx context.Context, in ports.TurnInput, sink ports.TurnSink) error {
	agent := b.dialect.Agent()
	ctx, span := b.tracer.StartSpan(ctx, observability.SpanCLIRun, attribute.String(observability.AttrAgent, agent))
	defer span.End()

	resume := b.lookupBinding(ctx, in.SessionID)
	proc := subprocess.New(subprocess.Config{
		Command:    b.cfg.BinaryPath,
		Args:       b.dialect.Args(in.Message, resume),
		Env:        b.cfg.Env,
		WorkingDir: b.cfg.WorkingDir,
		Timeout:    b.cfg.Timeout,
	})
	if err := proc.Start(ctx); err != nil {
		b.logger.Warn("launch %s: %v", b.cfg.BinaryPath, err)
		emitAnswer(sink, fmt.Sprintf("%s could not be started: %v", agent, err))
		return nil
	}

	out := b.consume(ctx, proc.Stdout(), in.SessionID, resume, sink)
	waitErr := proc.Wait()

	if proc.TimedOut() {
		b.logger.Warn("session %s: %s killed after %s", in.SessionID, agent, b.cfg.Timeout)
		span.SetAttributes(attribute.String(observability.AttrStatus, "timeout"))
		emitAnswer(sink, TimeoutMessage(agent, b.cfg.Timeout))
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	answer := out.answer
	if answer == "" {
		answer = out.raw
	}
	if answer == "" && waitErr != nil {
		span.SetAttributes(observability.ErrorAttrs(waitErr)...)
		if resume != "" && out.token == resume {
			b.forgetBinding(ctx, in.SessionID)
		}
		answer = proc.StderrTail()
		if answer == "" {
			answer = fmt.Sprintf("%s exited with status %d", agent, proc.ExitCode())
		}
	}
	if answer == "" {
		answer = fmt.Sprintf("%s returned no output", agent)
	}
	emitAnswer(sink, answer)
	return nil
}

type streamOutcome struct {
	answer string
	raw    string
	token  string
}

// consume reads stdout to EOF. Lines that are not JSON are kept as the raw
// fallback answer.
func (b *Bridge) consume(ctx context.Context, stdout io.Reader, chatID, resume string, sink ports.TurnSink) streamOutcome {
	var (
		out   streamOutcome
		raw   strings.Builder
		saved = resume
	)
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		msg, err := ParseStreamMessage([]byte(line))
		if err != nil {
			if raw.Len() < maxRawBytes {
				raw.WriteString(line)
				raw.WriteByte('\n')
			}
			continue
		}
		update := b.dialect.Interpret(msg)
		if token := update.SessionToken; token != "" && token != saved {
			b.saveBinding(ctx, chatID, token)
			saved = token
		}
		for _, tool := range update.Tools {
			sink.Emit(ports.Event{
				Kind: ports.EventToolCall,
				Tool: &ports.ToolEvent{CallID: tool.CallID, Name: tool.Name, Arguments: tool.Arguments},
			})
		}
		if text := strings.TrimSpace(update.Answer); text != "" {
			out.answer = text
		}
	}
	if err := scanner.Err(); err != nil {
		b.logger.Warn("read %s output: %v", b.dialect.Agent(), err)
	}
	// The process cannot exit while its stdout is full.
	_, _ = io.Copy(io.Discard, stdout)
	out.raw = strings.TrimSpace(raw.String())
	out.token = saved
	return out
}

func (b *Bridge) lookupBinding(ctx context.Context, chatID string) string {
	if b.bindings == nil || chatID == "" {
		return ""
	}
	binding, ok, err := b.bindings.Get(ctx, chatID, b.dialect.Agent())
	if err != nil {
		b.logger.Warn("load binding for %s: %v", chatID, err)
		return ""
	}
	if !ok || binding.Agent != b.dialect.Agent() {
		return ""
	}
	return binding.Token
}

func (b *Bridge) saveBinding(ctx context.Context, chatID, token string) {
	if b.bindings == nil || chatID == "" {
		return
	}
	err := b.bindings.Put(context.WithoutCancel(ctx), bindingstore.Binding{
		ChatID: chatID,
		Agent:  b.dialect.Agent(),
		Token:  token,
	})
	if err != nil {
		b.logger.Warn("save binding for %s: %v", chatID, err)
	}
}

func (b *Bridge) forgetBinding(ctx context.Context, chatID string) {
	if b.bindings == nil {
		return
	}
	if err := b.bindings.Delete(context.WithoutCancel(ctx), chatID, b.dialect.Agent()); err != nil {
		b.logger.Warn("drop binding for %s: %v", chatID, err)
	}
}

func emitAnswer(sink ports.TurnSink, text string) {
	sink.Emit(ports.Event{Kind: ports.EventMessageDelta, Text: text})
}
