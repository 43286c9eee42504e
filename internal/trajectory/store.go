// Package trajectory records finished turns as one JSONL file per session.
package trajectory

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"iris/internal/agent/ports"
	"iris/internal/jsonx"
)

// ErrNotFound is returned when a session has no recorded turns.
var ErrNotFound = errors.New("trajectory not found")

// Store appends turn records under dir.
type Store struct {
	dir string

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

var _ ports.TrajectoryWriter = (*Store)(nil)

// NewStore instantiates a store rooted at dir.
func NewStore(dir string) (*Store, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("trajectory directory required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("ensure trajectory dir: %w", err)
	}
	return &Store{dir: dir, locks: make(map[string]*sync.Mutex)}, nil
}

// WriteTurn appends record to its session file.
func (s *Store) WriteTurn(ctx context.Context, record ports.TurnRecord) error {
	sessionID := strings.TrimSpace(record.SessionID)
	if sessionID == "" {
		return fmt.Errorf("session id required")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	line, err := jsonx.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode turn: %w", err)
	}
	line = append(line, '\n')

	lock := s.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	file, err := os.OpenFile(s.path(sessionID), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open trajectory file: %w", err)
	}
	if _, err := file.Write(line); err != nil {
		_ = file.Close()
		return fmt.Errorf("append turn: %w", err)
	}
	return file.Close()
}

// Stream walks the recorded turns of a session in order.
func (s *Store) Stream(ctx context.Context, sessionID string, fn func(ports.TurnRecord) error) error {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return fmt.Errorf("session id required")
	}
	file, err := os.Open(s.path(sessionID))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return ErrNotFound
		}
		return fmt.Errorf("open trajectory file: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), 8*1024*1024)
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if len(strings.TrimSpace(scanner.Text())) == 0 {
			continue
		}
		var record ports.TurnRecord
		if err := jsonx.Unmarshal(scanner.Bytes(), &record); err != nil {
			return fmt.Errorf("decode turn: %w", err)
		}
		if err := fn(record); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("scan trajectory file: %w", err)
	}
	return nil
}

// Load returns every recorded turn of a session.
func (s *Store) Load(ctx context.Context, sessionID string) ([]ports.TurnRecord, error) {
	records := []ports.TurnRecord{}
	if err := s.Stream(ctx, sessionID, func(record ports.TurnRecord) error {
		records = append(records, record)
		return nil
	}); err != nil {
		return nil, err
	}
	return records, nil
}

// ExportYAML writes the session's turns to w as a YAML sequence.
func (s *Store) ExportYAML(ctx context.Context, sessionID string, w io.Writer) error {
	records, err := s.Load(ctx, sessionID)
	if err != nil {
		return err
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(records); err != nil {
		return fmt.Errorf("encode yaml: %w", err)
	}
	return enc.Close()
}

func (s *Store) sessionLock(sessionID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[sessionID]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[sessionID] = lock
	}
	return lock
}

func (s *Store) path(sessionID string) string {
	return filepath.Join(s.dir, fileName(sessionID)+".jsonl")
}

// fileName maps a session id to a safe base name. Ids that needed rewriting
// get a hash suffix so distinct ids never share a file.
func fileName(sessionID string) string {
	var sb strings.Builder
	for _, r := range sessionID {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			sb.WriteRune(r)
		default:
			sb.WriteRune('_')
		}
	}
	name := sb.String()
	if name == sessionID {
		return name
	}
	sum := sha256.Sum256([]byte(sessionID))
	return name + "-" + hex.EncodeToString(sum[:4])
}
