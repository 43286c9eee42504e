package trajectory

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"iris/internal/agent/ports"
	"iris/internal/widget"
)

func sampleRecord(sessionID, answer string) ports.TurnRecord {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return ports.TurnRecord{
		SessionID:   sessionID,
		RequestID:   "req-1",
		Agent:       "iris",
		UserMessage: "show me",
		Answer:      answer,
		Widgets:     []widget.Record{{WidgetID: "w1", Target: "mac", Delivered: true, Via: "event_stream"}},
		Events: []ports.Event{
			{Kind: ports.EventStatus, Seq: 1, Message: "agent iris is working"},
			{Kind: ports.EventMessageFinal, Seq: 2, Text: answer},
		},
		StartedAt:  now,
		FinishedAt: now.Add(time.Second),
	}
}

func TestWriteAndLoadInOrder(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, store.WriteTurn(ctx, sampleRecord("c1", "first")))
	require.NoError(t, store.WriteTurn(ctx, sampleRecord("c1", "second")))
	require.NoError(t, store.WriteTurn(ctx, sampleRecord("c2", "other")))

	records, err := store.Load(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.Equal(t, "first", records[0].Answer)
	require.Equal(t, "second", records[1].Answer)
	require.Equal(t, ports.EventMessageFinal, records[1].Events[1].Kind)
	require.Equal(t, "w1", records[0].Widgets[0].WidgetID)
}

func TestLoadMissingSession(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)
	_, err = store.Load(context.Background(), "nobody")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestConcurrentWritesKeepLinesIntact(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = store.WriteTurn(context.Background(), sampleRecord("busy", "x"))
		}()
	}
	wg.Wait()

	records, err := store.Load(context.Background(), "busy")
	require.NoError(t, err)
	require.Len(t, records, 20)
}

func TestUnsafeSessionIDsStayInsideDir(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir)
	require.NoError(t, err)

	require.NoError(t, store.WriteTurn(context.Background(), sampleRecord("../escape", "a")))
	require.NoError(t, store.WriteTurn(context.Background(), sampleRecord("__escape", "b")))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	_, err = os.Stat(filepath.Join(filepath.Dir(dir), "escape.jsonl"))
	require.True(t, os.IsNotExist(err))

	records, err := store.Load(context.Background(), "../escape")
	require.NoError(t, err)
	require.Equal(t, "a", records[0].Answer)
}

func TestExportYAML(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, store.WriteTurn(context.Background(), sampleRecord("c1", "hello")))

	var buf bytes.Buffer
	require.NoError(t, store.ExportYAML(context.Background(), "c1", &buf))

	var decoded []map[string]any
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &decoded))
	require.Len(t, decoded, 1)
	require.Equal(t, "hello", decoded[0]["answer"])
	require.Equal(t, "iris", decoded[0]["agent"])
}

func TestWriteTurnRequiresSession(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)
	require.Error(t, store.WriteTurn(context.Background(), ports.TurnRecord{}))
	_, err = NewStore(" ")
	require.Error(t, err)
}
