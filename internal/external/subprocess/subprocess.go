// Package subprocess runs one external CLI in its own process group so a
// timeout or a cancelled request takes down everything it spawned.
package subprocess

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"
)

const (
	stopGrace    = 5 * time.Second
	waitDelay    = 2 * time.Second
	stderrTailSz = 8 * 1024
)

// Config defines how to spawn and manage an external agent subprocess.
type Config struct {
	Command    string
	Args       []string
	Env        map[string]string
	WorkingDir string
	Timeout    time.Duration
}

// Subprocess manages the lifecycle of a single external agent process.
type Subprocess struct {
	cfg      Config
	cmd      *exec.Cmd
	stdout   *io.PipeReader
	stderr   *tailBuffer
	done     chan struct{}
	err      error
	pgid     int
	timedOut atomic.Bool
	mu       sync.Mutex
}

// New creates a new Subprocess from the given config.
func New(cfg Config) *Subprocess {
	return &Subprocess{cfg: cfg, stderr: &tailBuffer{limit: stderrTailSz}}
}

// Start launches the process. Cancelling ctx kills the whole process group.
func (s *Subprocess) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cmd != nil {
		return fmt.Errorf("subprocess already started")
	}
	if strings.TrimSpace(s.cfg.Command) == "" {
		return fmt.Errorf("subprocess command is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	cmd := exec.CommandContext(ctx, s.cfg.Command, s.cfg.Args...)
	if s.cfg.WorkingDir != "" {
		cmd.Dir = s.cfg.WorkingDir
	}
	if len(s.cfg.Env) > 0 {
		env := append([]string{}, os.Environ()...)
		for k, v := range s.cfg.Env {
			env = append(env, fmt.Sprintf("%s=%s", k, v))
		}
		cmd.Env = env
	}
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return killGroup(cmd.Process.Pid, syscall.SIGKILL)
	}
	cmd.WaitDelay = waitDelay

	stdoutR, stdoutW := io.Pipe()
	cmd.Stdout = stdoutW
	cmd.Stderr = s.stderr

	if err := cmd.Start(); err != nil {
		_ = stdoutW.Close()
		return fmt.Errorf("start %s: %w", s.cfg.Command, err)
	}
	s.cmd = cmd
	s.stdout = stdoutR
	s.done = make(chan struct{})
	s.pgid, _ = syscall.Getpgid(cmd.Process.Pid)

	go func() {
		err := cmd.Wait()
		_ = stdoutW.Close()
		s.mu.Lock()
		s.err = err
		close(s.done)
		s.mu.Unlock()
	}()

	if s.cfg.Timeout > 0 {
		done := s.done
		go func() {
			timer := time.NewTimer(s.cfg.Timeout)
			defer timer.Stop()
			select {
			case <-timer.C:
				s.timedOut.Store(true)
				_ = s.Stop()
			case <-done:
			}
		}()
	}

	return nil
}

// Stdout streams the process output; it reaches EOF once the process exits.
func (s *Subprocess) Stdout() io.Reader {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stdout == nil {
		return strings.NewReader("")
	}
	return s.stdout
}

// Wait blocks until the process exits.
func (s *Subprocess) Wait() error {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()
	if done == nil {
		return nil
	}
	<-done
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Stop sends SIGTERM to the process group and escalates to SIGKILL after a
// grace period.
func (s *Subprocess) Stop() error {
	s.mu.Lock()
	cmd := s.cmd
	done := s.done
	pgid := s.pgid
	s.mu.Unlock()

	if cmd == nil || cmd.Process == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	default:
	}
	if pgid == 0 {
		pgid = cmd.Process.Pid
	}
	_ = killGroup(pgid, syscall.SIGTERM)

	select {
	case <-done:
		return nil
	case <-time.After(stopGrace):
		_ = killGroup(pgid, syscall.SIGKILL)
		<-done
		return nil
	}
}

// TimedOut reports whether the configured timeout stopped the process.
func (s *Subprocess) TimedOut() bool {
	return s.timedOut.Load()
}

// ExitCode is the process exit status, -1 while running or when killed by a
// signal.
func (s *Subprocess) ExitCode() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cmd == nil || s.cmd.ProcessState == nil {
		return -1
	}
	return s.cmd.ProcessState.ExitCode()
}

// StderrTail returns the last few KB the process wrote to stderr.
func (s *Subprocess) StderrTail() string {
	return s.stderr.String()
}

func (s *Subprocess) PID() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cmd != nil && s.cmd.Process != nil {
		return s.cmd.Process.Pid
	}
	return 0
}

func killGroup(pgid int, sig syscall.Signal) error {
	err := syscall.Kill(-pgid, sig)
	if errors.Is(err, syscall.ESRCH) {
		return os.ErrProcessDone
	}
	return err
}

// tailBuffer keeps only the newest limit bytes written to it.
type tailBuffer struct {
	mu    sync.Mutex
	limit int
	buf   []byte
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.limit; over > 0 {
		t.buf = append(t.buf[:0], t.buf[over:]...)
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return strings.TrimSpace(string(t.buf))
}
