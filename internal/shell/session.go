package shell

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"maps"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
)

// Session is one spawned child process with its output pumps and stdin relay.
// A Session has a single consumer: Next and Lines must not be called from
// more than one goroutine at a time.
type Session struct {
	ID        string
	Argv      []string
	Dir       string
	Env       map[string]string
	Dialect   Dialect
	StartedAt time.Time

	opts   Options
	logger *log.Logger
	cmd    *exec.Cmd
	stdin  *stdinRelay
	stdout *os.File
	stderr *os.File

	queue     chan Chunk
	closing   chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	stopCtx   func() bool

	// consumer state
	assembler lineAssembler
	pending   []Line
	seq       uint64
	drained   bool

	mu        sync.Mutex
	exited    bool
	cancelled bool
	status    ExitStatus
	killTimer *time.Timer
}

// Open spawns argv and starts pumping its stdout and stderr. Cancelling ctx
// closes the session.
func Open(ctx context.Context, argv []string, opts Options) (*Session, error) {
	if len(argv) == 0 || strings.TrimSpace(argv[0]) == "" {
		return nil, errors.New("argv must not be empty")
	}
	dialect := DialectFor(argv[0])
	return open(ctx, argv, dialect, opts)
}

// OpenShell runs script through the shell dialect selected by opts.Shell.
func OpenShell(ctx context.Context, script string, opts Options) (*Session, error) {
	if strings.TrimSpace(script) == "" {
		return nil, errors.New("script must not be empty")
	}
	dialect := ResolveDialect(opts.Shell)
	return open(ctx, dialect.Argv(script), dialect, opts)
}

func open(ctx context.Context, argv []string, dialect Dialect, opts Options) (*Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	opts = opts.withDefaults()
	argv = append([]string(nil), argv...)

	path, err := exec.LookPath(argv[0])
	if err != nil {
		return nil, &SpawnError{Argv: argv, Err: err}
	}

	cmd := exec.Command(path, argv[1:]...)
	cmd.Dir = opts.Dir
	cmd.Env = opts.environ()
	configureProcess(cmd)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, &SpawnError{Argv: argv, Err: fmt.Errorf("stdin pipe: %w", err)}
	}
	stdout, stdoutW, err := os.Pipe()
	if err != nil {
		_ = stdin.Close()
		return nil, &SpawnError{Argv: argv, Err: fmt.Errorf("stdout pipe: %w", err)}
	}
	stderr, stderrW, err := os.Pipe()
	if err != nil {
		closeFiles(stdout, stdoutW)
		_ = stdin.Close()
		return nil, &SpawnError{Argv: argv, Err: fmt.Errorf("stderr pipe: %w", err)}
	}
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW
	err = cmd.Start()
	closeFiles(stdoutW, stderrW)
	if err != nil {
		closeFiles(stdout, stderr)
		_ = stdin.Close()
		return nil, &SpawnError{Argv: argv, Err: err}
	}

	s := &Session{
		ID:        uuid.NewString(),
		Argv:      argv,
		Dir:       opts.Dir,
		Env:       maps.Clone(opts.Env),
		Dialect:   dialect,
		StartedAt: time.Now().UTC(),
		opts:      opts,
		logger:    opts.Logger,
		cmd:       cmd,
		stdin:     newStdinRelay(stdin),
		stdout:    stdout,
		stderr:    stderr,
		queue:     make(chan Chunk, opts.QueueSize),
		closing:   make(chan struct{}),
		done:      make(chan struct{}),
		assembler: lineAssembler{stripANSI: opts.StripANSI},
	}
	s.logger.Debug("session opened", "session_id", s.ID, "pid", cmd.Process.Pid, "argv", formatArgv(argv))

	s.stopCtx = context.AfterFunc(ctx, func() { _ = s.Close() })
	go s.multiplex()
	return s, nil
}

func closeFiles(files ...*os.File) {
	for _, f := range files {
		_ = f.Close()
	}
}

// Next blocks until the next complete line is available. It returns io.EOF
// once the process has exited and its output is drained, or promptly after
// Close. Output still trickling in from background processes that inherited
// the pipes is read until it has been idle for DrainGrace.
func (s *Session) Next(ctx context.Context) (Line, error) {
	for {
		select {
		case <-s.closing:
			s.drained = true
			s.pending = nil
			return Line{}, io.EOF
		default:
		}
		if len(s.pending) > 0 {
			line := s.pending[0]
			s.pending = s.pending[1:]
			return line, nil
		}
		if s.drained {
			return Line{}, io.EOF
		}

		select {
		case chunk, ok := <-s.queue:
			if !ok {
				s.pending = append(s.pending, s.assembler.flush()...)
				s.drained = true
				continue
			}
			s.seq++
			chunk.Seq = s.seq
			s.pending = append(s.pending, s.assembler.feed(chunk)...)
		case <-s.closing:
			continue
		case <-ctx.Done():
			return Line{}, ctx.Err()
		}
	}
}

// Lines ranges over Next until the stream ends or ctx is cancelled.
func (s *Session) Lines(ctx context.Context) iter.Seq[Line] {
	return func(yield func(Line) bool) {
		for {
			line, err := s.Next(ctx)
			if err != nil {
				return
			}
			if !yield(line) {
				return
			}
		}
	}
}

// Send writes text plus the platform line terminator to the child's stdin.
func (s *Session) Send(text string) error {
	return s.stdin.send(text)
}

// CloseStdin sends EOF to the child.
func (s *Session) CloseStdin() error {
	return s.stdin.close()
}

// Close terminates the process if it is still running and stops all output.
// It is safe to call more than once.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		running := !s.exited
		if running {
			s.cancelled = true
		}
		s.mu.Unlock()

		if running {
			s.signalTermination()
		}
		close(s.closing)
		_ = s.stdout.Close()
		_ = s.stderr.Close()
		_ = s.stdin.close()
		s.logger.Debug("session closed", "session_id", s.ID, "running", running)
	})
	return nil
}

func (s *Session) signalTermination() {
	proc := s.cmd.Process
	if err := terminate(proc); err != nil {
		s.logger.Warn("terminate session process", "session_id", s.ID, "pid", proc.Pid, "err", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.killTimer = time.AfterFunc(s.opts.KillGrace, func() {
		s.mu.Lock()
		exited := s.exited
		s.mu.Unlock()
		if exited {
			return
		}
		if err := forceKill(proc); err != nil {
			s.logger.Warn("kill session process", "session_id", s.ID, "pid", proc.Pid, "err", err)
		}
	})
}

func (s *Session) recordExit(waitErr error) {
	status := exitStatusOf(s.cmd.ProcessState)
	var exitErr *exec.ExitError
	if waitErr != nil && !errors.As(waitErr, &exitErr) {
		s.logger.Debug("wait session process", "session_id", s.ID, "err", waitErr)
	}

	s.mu.Lock()
	if s.cancelled {
		status.Cancelled = true
	}
	s.status = status
	s.exited = true
	if s.killTimer != nil {
		s.killTimer.Stop()
	}
	s.mu.Unlock()

	s.stopCtx()
	s.logger.Debug("session exited", "session_id", s.ID, "status", status.String())
}

// ExitStatus returns the exit status once the process has been reaped.
func (s *Session) ExitStatus() (ExitStatus, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status, s.exited
}

// Wait blocks until the process has been reaped and both pumps finished.
// Output must be drained with Next, or the session closed, for the pumps to
// finish.
func (s *Session) Wait(ctx context.Context) (ExitStatus, error) {
	select {
	case <-s.done:
		status, _ := s.ExitStatus()
		return status, nil
	case <-ctx.Done():
		return ExitStatus{}, ctx.Err()
	}
}

// Done is closed once the exit status is recorded and both pumps finished.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Alive reports whether the process has not yet been reaped.
func (s *Session) Alive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.exited
}

// PID returns the operating system process id of the child.
func (s *Session) PID() int {
	return s.cmd.Process.Pid
}

// Closed reports whether Close has been called.
func (s *Session) Closed() bool {
	select {
	case <-s.closing:
		return true
	default:
		return false
	}
}
