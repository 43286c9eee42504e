package async

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type captureLogger struct {
	mu   sync.Mutex
	msgs []string
}

func (c *captureLogger) Error(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, fmt.Sprintf(format, args...))
}

func TestTrackerRecoversPanicsAndDrains(t *testing.T) {
	var (
		tracker Tracker
		logger  captureLogger
		ran     atomic.Int32
	)
	tracker.Go(&logger, "boom", func() { panic("kaboom") })
	tracker.Go(&logger, "ok", func() { ran.Add(1) })

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, tracker.Wait(ctx))
	require.Equal(t, int32(1), ran.Load())

	logger.mu.Lock()
	defer logger.mu.Unlock()
	require.Len(t, logger.msgs, 1)
	require.Contains(t, logger.msgs[0], "goroutine panic [boom]: kaboom")
}

func TestTrackerWaitHonoursContext(t *testing.T) {
	var tracker Tracker
	release := make(chan struct{})
	tracker.Go(nil, "slow", func() { <-release })
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, tracker.Wait(ctx), context.DeadlineExceeded)
}
