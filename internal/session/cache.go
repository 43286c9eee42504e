// Package session mirrors chat transcripts locally while treating the remote
// store as the source of truth.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"iris/internal/async"
	"iris/internal/id"
	"iris/internal/logging"
	"iris/internal/observability"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"
)

const (
	defaultCapacity      = 4096
	backgroundCallBudget = 10 * time.Second
)

// Config tunes the cache.
type Config struct {
	DefaultAgent string
	HistoryLimit int
	Capacity     int
}

// Option configures a Cache.
type Option func(*Cache)

// WithMetrics counts remote-store failures.
func WithMetrics(metrics *observability.MetricsCollector) Option {
	return func(c *Cache) { c.metrics = metrics }
}

// WithTracker runs fire-and-forget remote writes on a shared tracker so
// shutdown can drain them.
func WithTracker(tracker *async.Tracker) Option {
	return func(c *Cache) {
		if tracker != nil {
			c.background = tracker
		}
	}
}

// Cache is a read-through, write-through mirror of remote sessions.
//
// Writers to the same session are not serialized against each other; the
// remote store's order wins at the next successful read.
type Cache struct {
	remote       RemoteStore
	entries      *lru.Cache[string, *entry]
	hydration    singleflight.Group
	background   *async.Tracker
	defaultAgent string
	historyLimit int
	metrics      *observability.MetricsCollector
	logger       logging.Logger
}

// NewCache builds a cache. remote may be nil, in which case every remote call
// is treated as unreachable.
func NewCache(remote RemoteStore, cfg Config, opts ...Option) (*Cache, error) {
	if cfg.Capacity <= 0 {
		cfg.Capacity = defaultCapacity
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = DefaultHistoryLimit
	}
	if strings.TrimSpace(cfg.DefaultAgent) == "" {
		return nil, fmt.Errorf("session cache: default agent is required")
	}
	entries, err := lru.New[string, *entry](cfg.Capacity)
	if err != nil {
		return nil, fmt.Errorf("session cache: %w", err)
	}
	c := &Cache{
		remote:       remote,
		entries:      entries,
		background:   &async.Tracker{},
		defaultAgent: cfg.DefaultAgent,
		historyLimit: cfg.HistoryLimit,
		logger:       logging.NewComponentLogger("session"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// GetOrCreate returns the session, hydrating it from the remote store or
// synthesizing an empty one on a local miss. A non-empty agent overrides the
// stored one.
func (c *Cache) GetOrCreate(ctx context.Context, sessionID, agent string) (Session, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return Session{}, ErrEmptySessionID
	}
	agent = strings.TrimSpace(agent)

	e := c.entryFor(ctx, sessionID, agent)
	if agent != "" {
		e.setAgent(agent)
	}
	return e.snapshot(sessionID), nil
}

// Peek returns the locally cached session without touching the remote store.
func (c *Cache) Peek(sessionID string) (Session, bool) {
	e, ok := c.entries.Peek(sessionID)
	if !ok {
		return Session{}, false
	}
	return e.snapshot(sessionID), true
}

// Len reports how many sessions are cached locally.
func (c *Cache) Len() int {
	return c.entries.Len()
}

// AddMessage appends msg locally, writes it through to the remote store and
// then replaces the local transcript with the remote one when that read
// succeeds. Remote failures never surface to the caller.
func (c *Cache) AddMessage(ctx context.Context, sessionID string, msg Message) (Message, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return Message{}, ErrEmptySessionID
	}
	if msg.Role != RoleUser && msg.Role != RoleAssistant {
		return Message{}, fmt.Errorf("%w: %q", ErrInvalidRole, msg.Role)
	}
	if msg.ID == "" {
		msg.ID = id.NewMessageID()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	e := c.entryFor(ctx, sessionID, "")
	e.append(msg)

	if c.remote == nil {
		return msg, nil
	}
	if err := c.remote.AppendMessage(ctx, sessionID, msg); err != nil {
		c.remoteFailed(ctx, "append_message", sessionID, err)
	}
	fresh, err := c.remote.ListMessages(ctx, sessionID, c.historyLimit)
	if err != nil {
		c.remoteFailed(ctx, "list_messages", sessionID, err)
		return msg, nil
	}
	e.replace(fresh)
	return msg, nil
}

// GetMessages prefers a fresh remote read, falls back to the local mirror,
// and returns an empty slice when neither exists.
func (c *Cache) GetMessages(ctx context.Context, sessionID string) []Message {
	sessionID = strings.TrimSpace(sessionID)
	if c.remote != nil && sessionID != "" {
		fresh, err := c.remote.ListMessages(ctx, sessionID, c.historyLimit)
		if err == nil {
			if e, ok := c.entries.Peek(sessionID); ok {
				e.replace(fresh)
			}
			return cloneMessages(fresh)
		}
		c.remoteFailed(ctx, "list_messages", sessionID, err)
	}
	if e, ok := c.entries.Get(sessionID); ok {
		return e.snapshot(sessionID).Messages
	}
	return []Message{}
}

// StoredAgent returns the agent recorded for a session without creating it.
// A reachable remote store wins and refreshes the local mirror, unless a local
// switch is still waiting to be pushed.
func (c *Cache) StoredAgent(ctx context.Context, sessionID string) (string, bool) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return "", false
	}
	local, cached := c.entries.Peek(sessionID)
	if cached && local.switchPending() {
		return local.agentName(), true
	}
	if c.remote != nil {
		meta, err := c.remote.GetSession(ctx, sessionID)
		switch {
		case err == nil && meta.Agent != "":
			if cached {
				local.setAgent(meta.Agent)
			}
			return meta.Agent, true
		case err != nil && !errors.Is(err, ErrNotFound):
			c.remoteFailed(ctx, "get_session", sessionID, err)
		}
	}
	if cached {
		if agent := local.agentName(); agent != "" {
			return agent, true
		}
	}
	return "", false
}

// SetAgent records an explicit agent switch locally and pushes it to the
// remote store in the background. Until the push lands the local value is
// what StoredAgent reports.
func (c *Cache) SetAgent(ctx context.Context, sessionID, agent string) {
	agent = strings.TrimSpace(agent)
	if agent == "" {
		return
	}
	e, cached := c.entries.Peek(sessionID)
	if cached {
		e.switchAgent(agent, c.remote != nil)
	}
	if c.remote == nil {
		return
	}
	c.background.Go(c.logger, "session.update_agent", func() {
		bctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), backgroundCallBudget)
		defer cancel()
		if err := c.remote.UpdateSessionAgent(bctx, sessionID, agent); err != nil {
			c.remoteFailed(bctx, "update_session", sessionID, err)
			return
		}
		if cached {
			e.switchPushed(agent)
		}
	})
}

// Drain waits for background remote writes to finish.
func (c *Cache) Drain(ctx context.Context) error {
	return c.background.Wait(ctx)
}

func (c *Cache) entryFor(ctx context.Context, sessionID, agent string) *entry {
	if e, ok := c.entries.Get(sessionID); ok {
		return e
	}
	// Hydration is shared by concurrent callers; one caller's cancellation
	// must not abort it.
	ctx = context.WithoutCancel(ctx)
	v, _, _ := c.hydration.Do(sessionID, func() (any, error) {
		if e, ok := c.entries.Get(sessionID); ok {
			return e, nil
		}
		e, created := c.load(ctx, sessionID, agent)
		if prev, ok, _ := c.entries.PeekOrAdd(sessionID, e); ok {
			return prev, nil
		}
		if created {
			c.createRemote(ctx, sessionID, e.agentName())
		}
		return e, nil
	})
	return v.(*entry)
}

// load hydrates from the remote store. created reports that a fresh local
// session was synthesized and still needs a remote counterpart.
func (c *Cache) load(ctx context.Context, sessionID, agent string) (*entry, bool) {
	requested := agent
	if requested == "" {
		requested = c.defaultAgent
	}
	if c.remote == nil {
		return newEntry(requested, nil), true
	}

	meta, err := c.remote.GetSession(ctx, sessionID)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			c.remoteFailed(ctx, "get_session", sessionID, err)
		}
		return newEntry(requested, nil), true
	}

	messages, err := c.remote.ListMessages(ctx, sessionID, c.historyLimit)
	if err != nil {
		c.remoteFailed(ctx, "list_messages", sessionID, err)
		messages = nil
	}

	resolved := meta.Agent
	if agent != "" || resolved == "" {
		resolved = requested
	}
	c.logger.Debug("hydrated session %s (agent=%s, messages=%d)", sessionID, resolved, len(messages))
	return newEntry(resolved, messages), false
}

func (c *Cache) createRemote(ctx context.Context, sessionID, agent string) {
	if c.remote == nil {
		return
	}
	c.background.Go(c.logger, "session.create", func() {
		bctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), backgroundCallBudget)
		defer cancel()
		now := time.Now().UTC()
		err := c.remote.CreateSession(bctx, RemoteSession{ID: sessionID, Agent: agent, CreatedAt: now, UpdatedAt: now})
		if err != nil {
			c.remoteFailed(bctx, "create_session", sessionID, err)
		}
	})
}

func (c *Cache) remoteFailed(ctx context.Context, op, sessionID string, err error) {
	c.metrics.RecordRemoteFailure(ctx, op)
	c.logger.Warn("remote %s for session %s failed: %v", op, sessionID, err)
}

type entry struct {
	mu       sync.Mutex
	agent    string
	pending  bool
	messages []Message
}

func newEntry(agent string, messages []Message) *entry {
	return &entry{agent: agent, messages: cloneMessages(messages)}
}

func (e *entry) agentName() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.agent
}

func (e *entry) setAgent(agent string) {
	e.mu.Lock()
	e.agent = agent
	e.mu.Unlock()
}

func (e *entry) switchAgent(agent string, pending bool) {
	e.mu.Lock()
	e.agent = agent
	e.pending = pending
	e.mu.Unlock()
}

// switchPushed clears the pending flag unless a newer switch replaced agent.
func (e *entry) switchPushed(agent string) {
	e.mu.Lock()
	if e.agent == agent {
		e.pending = false
	}
	e.mu.Unlock()
}

func (e *entry) switchPending() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pending
}

func (e *entry) append(msg Message) {
	e.mu.Lock()
	e.messages = append(e.messages, msg)
	e.mu.Unlock()
}

func (e *entry) replace(messages []Message) {
	fresh := cloneMessages(messages)
	e.mu.Lock()
	e.messages = fresh
	e.mu.Unlock()
}

func (e *entry) snapshot(sessionID string) Session {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Session{ID: sessionID, Agent: e.agent, Messages: cloneMessages(e.messages)}
}

func cloneMessages(messages []Message) []Message {
	out := make([]Message, len(messages))
	copy(out, messages)
	return out
}
