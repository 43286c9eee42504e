package session

import (
	"context"
	"errors"
	"time"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"

	// DefaultHistoryLimit is the remote read window used for hydration and
	// reconciliation.
	DefaultHistoryLimit = 200
)

var (
	// ErrNotFound is returned by a RemoteStore when the session does not exist.
	ErrNotFound = errors.New("session not found")

	ErrEmptySessionID = errors.New("session id is required")
	ErrInvalidRole    = errors.New("message role must be user or assistant")
)

// Message is one transcript entry.
type Message struct {
	ID        string    `json:"id,omitempty"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	DeviceID  string    `json:"device_id,omitempty"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}

// Session is a point-in-time copy of a cached session.
type Session struct {
	ID       string    `json:"id"`
	Agent    string    `json:"agent"`
	Messages []Message `json:"messages"`
}

// RemoteSession is the session metadata kept by the remote store.
type RemoteSession struct {
	ID        string    `json:"id"`
	Agent     string    `json:"agent"`
	CreatedAt time.Time `json:"created_at,omitempty"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// RemoteStore is the authoritative session backend.
type RemoteStore interface {
	GetSession(ctx context.Context, sessionID string) (RemoteSession, error)
	CreateSession(ctx context.Context, session RemoteSession) error
	UpdateSessionAgent(ctx context.Context, sessionID, agent string) error
	ListMessages(ctx context.Context, sessionID string, limit int) ([]Message, error)
	AppendMessage(ctx context.Context, sessionID string, msg Message) error
}
