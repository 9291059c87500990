package run

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"studiocore/pkg/domain"
)

// DocumentWriter flushes the edited session and writes the configuration
// document the child process reads.
type DocumentWriter interface {
	WriteDocument(ctx context.Context, path string) error
}

// Logger matches the slog-style logger used across the service.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Request describes one run.
type Request struct {
	Executable string
	Document   string
	// OutputDir is removed and recreated before spawning when ResetOutput is set.
	OutputDir   string
	ResetOutput bool
}

// Option configures a Controller.
type Option func(*Controller)

// WithSink forwards child output to sink.
func WithSink(sink Sink) Option {
	return func(c *Controller) {
		if sink != nil {
			c.sink = sink
		}
	}
}

// WithLogger sets the controller logger.
func WithLogger(logger Logger) Option {
	return func(c *Controller) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// DefaultWaitDelay bounds how long output is drained after the child exits.
const DefaultWaitDelay = 2 * time.Second

// WithWaitDelay overrides DefaultWaitDelay.
func WithWaitDelay(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.waitDelay = d
		}
	}
}

// WithMetrics exports state transitions to m.
func WithMetrics(m *Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

// WithObserver registers fn to be called on every state transition, in order.
// fn runs with the controller locked and must not call back into it.
func WithObserver(fn func(from, to State)) Option {
	return func(c *Controller) {
		if fn != nil {
			c.observers = append(c.observers, fn)
		}
	}
}

// Controller owns at most one child process at a time.
type Controller struct {
	writer    DocumentWriter
	sink      Sink
	logger    Logger
	metrics   *Metrics
	observers []func(from, to State)
	waitDelay time.Duration

	mu        sync.Mutex
	state     State
	proc      *os.Process
	cancelled bool
	done      chan struct{}
	exit      ExitStatus
	hasExit   bool

	sinkMu sync.Mutex
}

// NewController returns an idle controller that writes documents through writer.
func NewController(writer DocumentWriter, opts ...Option) *Controller {
	c := &Controller{writer: writer, sink: discardSink{}, logger: noopLogger{}, waitDelay: DefaultWaitDelay}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Start writes the document and spawns `<executable> <document>`. It returns
// once the process is running; the process is not bound to ctx. A controller
// that is not Idle refuses before the executable is looked at.
func (c *Controller) Start(ctx context.Context, req Request) error {
	c.mu.Lock()
	if c.state != StateIdle {
		c.mu.Unlock()
		return domain.ErrAlreadyRunning
	}
	exe, err := resolveExecutable(req.Executable)
	if err != nil {
		c.mu.Unlock()
		return err
	}
	if req.Document == "" {
		c.mu.Unlock()
		return fmt.Errorf("run: document path required")
	}
	c.cancelled = false
	c.done = make(chan struct{})
	c.transitionLocked(StateStarting)
	c.mu.Unlock()

	if err := c.prepare(ctx, req); err != nil {
		c.finish(ExitStatus{State: StateFailed, Code: -1, Err: err})
		return err
	}

	cmd := exec.Command(exe, req.Document)
	cmd.Stdout = sinkWriter{c: c, stream: Stdout}
	cmd.Stderr = sinkWriter{c: c, stream: Stderr}
	cmd.WaitDelay = c.waitDelay
	setProcessGroup(cmd)
	if err := cmd.Start(); err != nil {
		c.finish(ExitStatus{State: StateFailed, Code: -1, Err: err})
		return fmt.Errorf("run: spawn %s: %w", exe, err)
	}

	c.mu.Lock()
	c.proc = cmd.Process
	cancelled := c.cancelled
	c.transitionLocked(StateRunning)
	c.mu.Unlock()
	c.logger.Info("run started", "executable", exe, "document", req.Document, "pid", cmd.Process.Pid)
	if cancelled {
		_ = killProcess(cmd.Process)
	}

	go c.supervise(cmd)
	return nil
}

func (c *Controller) prepare(ctx context.Context, req Request) error {
	if req.ResetOutput && req.OutputDir != "" {
		if err := resetDir(req.OutputDir); err != nil {
			return err
		}
	}
	if c.writer == nil {
		return nil
	}
	if err := c.writer.WriteDocument(ctx, req.Document); err != nil {
		return fmt.Errorf("run: write document: %w", err)
	}
	return nil
}

// supervise reaps the child. Output still held open by descendants after the
// child exits is abandoned once the wait delay passes.
func (c *Controller) supervise(cmd *exec.Cmd) {
	err := cmd.Wait()

	status := ExitStatus{State: StateFinished, Code: cmd.ProcessState.ExitCode()}
	if ws, ok := cmd.ProcessState.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		status.Signal = ws.Signal().String()
	}
	var exitErr *exec.ExitError
	switch {
	case err == nil, errors.As(err, &exitErr):
	case errors.Is(err, exec.ErrWaitDelay):
		c.logger.Warn("run output left open by descendant processes", "pid", cmd.Process.Pid)
	default:
		status.State = StateFailed
		status.Err = err
	}
	c.mu.Lock()
	if c.cancelled {
		status.State = StateCancelled
	}
	c.mu.Unlock()
	c.finish(status)
}

// sinkWriter hands each chunk read from one child stream to the sink.
type sinkWriter struct {
	c      *Controller
	stream Stream
}

func (w sinkWriter) Write(p []byte) (int, error) {
	chunk := append([]byte(nil), p...)
	w.c.sinkMu.Lock()
	defer w.c.sinkMu.Unlock()
	w.c.sink.Output(w.stream, chunk)
	return len(p), nil
}

func (c *Controller) finish(status ExitStatus) {
	c.mu.Lock()
	c.exit = status
	c.hasExit = true
	c.proc = nil
	c.transitionLocked(status.State)
	c.transitionLocked(StateIdle)
	done := c.done
	c.mu.Unlock()

	switch status.State {
	case StateFailed:
		c.logger.Error("run failed", "error", status.Err)
	default:
		c.logger.Info("run ended", "state", status.State.String(), "code", status.Code, "signal", status.Signal)
	}
	close(done)
}

// Cancel requests termination of the active child and every process it
// started in its group. The state becomes
// Cancelled once the process has exited; use Wait to observe it.
func (c *Controller) Cancel() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.state.Active() {
		return domain.ErrNotRunning
	}
	c.cancelled = true
	if c.proc == nil {
		return nil
	}
	c.logger.Info("run cancel requested", "pid", c.proc.Pid)
	if err := killProcess(c.proc); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("run: kill: %w", err)
	}
	return nil
}

// Wait blocks until the current (or last) run ends and returns its status.
func (c *Controller) Wait(ctx context.Context) (ExitStatus, error) {
	c.mu.Lock()
	done := c.done
	c.mu.Unlock()
	if done == nil {
		return ExitStatus{}, domain.ErrNotRunning
	}
	select {
	case <-done:
	case <-ctx.Done():
		return ExitStatus{}, ctx.Err()
	}
	status, _ := c.ExitStatus()
	return status, nil
}

// ExitStatus returns the status of the last completed run.
func (c *Controller) ExitStatus() (ExitStatus, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.exit, c.hasExit
}

func (c *Controller) transitionLocked(to State) {
	from := c.state
	c.state = to
	c.metrics.transition(to)
	c.logger.Debug("run state", "from", from.String(), "to", to.String())
	for _, fn := range c.observers {
		fn(from, to)
	}
}

func resolveExecutable(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("%w: empty path", domain.ErrExecutableNotFound)
	}
	if filepath.Base(path) == path {
		resolved, err := exec.LookPath(path)
		if err != nil {
			return "", fmt.Errorf("%w: %s", domain.ErrExecutableNotFound, path)
		}
		return resolved, nil
	}
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return "", fmt.Errorf("%w: %s", domain.ErrExecutableNotFound, path)
	}
	return path, nil
}

func resetDir(dir string) error {
	clean := filepath.Clean(dir)
	if clean == "." || clean == string(filepath.Separator) {
		return fmt.Errorf("run: refusing to reset output folder %q", dir)
	}
	if err := os.RemoveAll(clean); err != nil {
		return fmt.Errorf("run: reset output folder: %w", err)
	}
	if err := os.MkdirAll(clean, 0o755); err != nil {
		return fmt.Errorf("run: create output folder: %w", err)
	}
	return nil
}
