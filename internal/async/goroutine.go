package async

import (
	"context"
	"runtime/debug"
	"sync"
)

// PanicLogger captures panic reports from background goroutines.
type PanicLogger interface {
	Error(format string, args ...any)
}

// Go runs fn in a goroutine guarded by panic recovery.
func Go(logger PanicLogger, name string, fn func()) {
	go func() {
		defer Recover(logger, name)
		fn()
	}()
}

// Recover logs panic details without crashing the process.
func Recover(logger PanicLogger, name string) {
	if r := recover(); r != nil {
		if logger == nil {
			return
		}
		if name == "" {
			logger.Error("goroutine panic: %v, stack: %s", r, debug.Stack())
			return
		}
		logger.Error("goroutine panic [%s]: %v, stack: %s", name, r, debug.Stack())
	}
}

// Tracker runs fire-and-forget work and lets shutdown wait for it to drain.
// The zero value is ready to use.
type Tracker struct {
	wg sync.WaitGroup
}

// Go runs fn in a tracked, panic-guarded goroutine.
func (t *Tracker) Go(logger PanicLogger, name string, fn func()) {
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		defer Recover(logger, name)
		fn()
	}()
}

// Wait blocks until all tracked work finishes or ctx is done.
func (t *Tracker) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
