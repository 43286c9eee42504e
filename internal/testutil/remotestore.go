// Package testutil provides in-memory fakes shared by package tests.
package testutil

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"iris/internal/jsonx"
	"iris/internal/session"
)

// ErrRemoteDown is returned by RemoteStore while it is marked down.
var ErrRemoteDown = errors.New("remote store unavailable")

// RemoteStore is an in-memory session backend. It satisfies
// session.RemoteStore directly and can also be served over HTTP with Handler.
type RemoteStore struct {
	mu       sync.Mutex
	down     bool
	sessions map[string]session.RemoteSession
	messages map[string][]session.Message
	creates  int
	appends  int
	patches  int
}

// NewRemoteStore creates an empty, reachable store.
func NewRemoteStore() *RemoteStore {
	return &RemoteStore{
		sessions: make(map[string]session.RemoteSession),
		messages: make(map[string][]session.Message),
	}
}

// SetDown toggles reachability.
func (s *RemoteStore) SetDown(down bool) {
	s.mu.Lock()
	s.down = down
	s.mu.Unlock()
}

// Seed installs a session with messages as if another device wrote them.
func (s *RemoteStore) Seed(sessionID, agent string, messages ...session.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sessionID] = session.RemoteSession{ID: sessionID, Agent: agent}
	s.messages[sessionID] = append(s.messages[sessionID], messages...)
}

// Inject appends a message without going through the API, simulating a
// concurrent writer.
func (s *RemoteStore) Inject(sessionID string, msg session.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages[sessionID] = append(s.messages[sessionID], msg)
}

// Stored returns the remote view of a session.
func (s *RemoteStore) Stored(sessionID string) (session.RemoteSession, []session.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	meta, ok := s.sessions[sessionID]
	msgs := append([]session.Message(nil), s.messages[sessionID]...)
	return meta, msgs, ok
}

// Counts returns how many create, append and patch calls succeeded.
func (s *RemoteStore) Counts() (creates, appends, patches int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.creates, s.appends, s.patches
}

func (s *RemoteStore) GetSession(_ context.Context, sessionID string) (session.RemoteSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.down {
		return session.RemoteSession{}, ErrRemoteDown
	}
	meta, ok := s.sessions[sessionID]
	if !ok {
		return session.RemoteSession{}, session.ErrNotFound
	}
	return meta, nil
}

func (s *RemoteStore) CreateSession(_ context.Context, meta session.RemoteSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.down {
		return ErrRemoteDown
	}
	// A message append may have created the session implicitly.
	existing, ok := s.sessions[meta.ID]
	switch {
	case !ok:
		s.sessions[meta.ID] = meta
	case existing.Agent == "":
		existing.Agent = meta.Agent
		s.sessions[meta.ID] = existing
	}
	s.creates++
	return nil
}

func (s *RemoteStore) UpdateSessionAgent(_ context.Context, sessionID, agent string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.down {
		return ErrRemoteDown
	}
	meta, ok := s.sessions[sessionID]
	if !ok {
		return session.ErrNotFound
	}
	meta.Agent = agent
	meta.UpdatedAt = time.Now().UTC()
	s.sessions[sessionID] = meta
	s.patches++
	return nil
}

func (s *RemoteStore) ListMessages(_ context.Context, sessionID string, limit int) ([]session.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.down {
		return nil, ErrRemoteDown
	}
	if _, ok := s.sessions[sessionID]; !ok {
		return nil, session.ErrNotFound
	}
	msgs := s.messages[sessionID]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return append([]session.Message{}, msgs...), nil
}

func (s *RemoteStore) AppendMessage(_ context.Context, sessionID string, msg session.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.down {
		return ErrRemoteDown
	}
	if _, ok := s.sessions[sessionID]; !ok {
		s.sessions[sessionID] = session.RemoteSession{ID: sessionID}
	}
	s.messages[sessionID] = append(s.messages[sessionID], msg)
	s.appends++
	return nil
}

// Handler serves the store's HTTP API. A down store answers 503.
func (s *RemoteStore) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /sessions/{id}", func(w http.ResponseWriter, r *http.Request) {
		meta, err := s.GetSession(r.Context(), r.PathValue("id"))
		s.reply(w, meta, err)
	})
	mux.HandleFunc("POST /sessions", func(w http.ResponseWriter, r *http.Request) {
		var meta session.RemoteSession
		if err := jsonx.NewDecoder(r.Body).Decode(&meta); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		s.reply(w, meta, s.CreateSession(r.Context(), meta))
	})
	mux.HandleFunc("PATCH /sessions/{id}", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Agent string `json:"agent"`
		}
		if err := jsonx.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		s.reply(w, map[string]string{"status": "ok"}, s.UpdateSessionAgent(r.Context(), r.PathValue("id"), body.Agent))
	})
	mux.HandleFunc("GET /sessions/{id}/messages", func(w http.ResponseWriter, r *http.Request) {
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		msgs, err := s.ListMessages(r.Context(), r.PathValue("id"), limit)
		s.reply(w, map[string]any{"messages": msgs}, err)
	})
	mux.HandleFunc("POST /sessions/{id}/messages", func(w http.ResponseWriter, r *http.Request) {
		var msg session.Message
		if err := jsonx.NewDecoder(r.Body).Decode(&msg); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		s.reply(w, msg, s.AppendMessage(r.Context(), r.PathValue("id"), msg))
	})
	return mux
}

func (s *RemoteStore) reply(w http.ResponseWriter, body any, err error) {
	switch {
	case errors.Is(err, session.ErrNotFound):
		http.Error(w, "not found", http.StatusNotFound)
		return
	case err != nil:
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = jsonx.NewEncoder(w).Encode(body)
}
