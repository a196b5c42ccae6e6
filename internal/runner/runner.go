package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"al.essio.dev/pkg/shellescape"
	"github.com/charmbracelet/log"

	"github.com/ship-commander/livesh/internal/events"
	"github.com/ship-commander/livesh/internal/pager"
	"github.com/ship-commander/livesh/internal/shell"
	"github.com/ship-commander/livesh/internal/tracing"
)

const tailLines = 20

// Request describes one command to run into a sink. Exactly one of Command
// (a shell command string) or Argv must be set.
type Request struct {
	Command   string
	Argv      []string
	Dir       string
	Env       map[string]string
	StripANSI bool
	// Shell selects the dialect for Command; see shell.ResolveDialect.
	Shell     string
	Encoding  shell.Encoding
	Highlight string
}

// Plan is a Request resolved to what will be spawned and how it is shown.
type Plan struct {
	Argv      []string
	Display   string
	Dialect   shell.Dialect
	Highlight string
}

// Prepare resolves req without spawning anything.
func Prepare(req Request) (Plan, error) {
	var plan Plan
	switch {
	case len(req.Argv) > 0 && strings.TrimSpace(req.Command) != "":
		return Plan{}, errors.New("request must set either command or argv, not both")
	case len(req.Argv) > 0:
		if strings.TrimSpace(req.Argv[0]) == "" {
			return Plan{}, errors.New("argv must not be empty")
		}
		plan.Argv = append([]string(nil), req.Argv...)
		plan.Display = shellescape.QuoteCommand(req.Argv)
		plan.Dialect = shell.DialectFor(req.Argv[0])
	case strings.TrimSpace(req.Command) != "":
		plan.Dialect = shell.ResolveDialect(req.Shell)
		plan.Argv = plan.Dialect.Argv(req.Command)
		plan.Display = req.Command
	default:
		return Plan{}, errors.New("command must not be empty")
	}

	plan.Highlight = plan.Dialect.Highlight
	if !req.StripANSI {
		plan.Highlight = "ansi"
	}
	if highlight := strings.TrimSpace(req.Highlight); highlight != "" {
		plan.Highlight = highlight
	}
	return plan, nil
}

// Option customizes Start.
type Option func(*options)

type options struct {
	bus     events.Bus
	logger  *log.Logger
	session shell.Options
}

// WithBus publishes session lifecycle events to bus.
func WithBus(bus events.Bus) Option {
	return func(o *options) { o.bus = bus }
}

// WithLogger sets the logger for the job and its session.
func WithLogger(logger *log.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithSessionOptions sets base session options. Request fields override
// Dir, Env, StripANSI, Encoding and Shell.
func WithSessionOptions(opts shell.Options) Option {
	return func(o *options) { o.session = opts }
}

// Job is a running request: a session whose lines are streamed into a sink.
type Job struct {
	Plan Plan

	session *shell.Session
	sink    pager.Sink
	bus     events.Bus
	logger  *log.Logger
	span    *tracing.SessionSpan
	started time.Time

	done   chan struct{}
	mu     sync.Mutex
	status shell.ExitStatus
	lines  int
	tail   []string
}

// Start spawns the request and streams its output into sink until the
// process exits or the sink is closed. Closing the sink terminates the
// process; a natural exit finalizes the sink with the status line.
func Start(ctx context.Context, req Request, sink pager.Sink, opts ...Option) (*Job, error) {
	if sink == nil {
		return nil, errors.New("sink must not be nil")
	}
	plan, err := Prepare(req)
	if err != nil {
		return nil, err
	}

	resolved := options{logger: log.New(io.Discard)}
	for _, opt := range opts {
		if opt != nil {
			opt(&resolved)
		}
	}
	sessionOpts := resolved.session
	sessionOpts.Dir = req.Dir
	sessionOpts.Env = req.Env
	sessionOpts.StripANSI = req.StripANSI
	sessionOpts.Shell = req.Shell
	if req.Encoding != "" {
		sessionOpts.Encoding = req.Encoding
	}
	if sessionOpts.Logger == nil {
		sessionOpts.Logger = resolved.logger
	}

	spanCtx, span := tracing.StartSession(ctx, plan.Argv, req.Dir)
	var session *shell.Session
	if len(req.Argv) > 0 {
		session, err = shell.Open(spanCtx, plan.Argv, sessionOpts)
	} else {
		session, err = shell.OpenShell(spanCtx, req.Command, sessionOpts)
	}
	if err != nil {
		span.End(tracing.SessionResult{ExitCode: -1, Err: err})
		return nil, err
	}
	span.Opened(session.ID, session.PID())

	job := &Job{
		Plan:    plan,
		session: session,
		sink:    sink,
		bus:     resolved.bus,
		logger:  resolved.logger.With("session_id", session.ID, "trace_id", span.TraceID(), "span_id", span.SpanID()),
		span:    span,
		started: time.Now(),
		done:    make(chan struct{}),
	}
	job.logger.Info("session started", "pid", session.PID(), "command", plan.Display)
	job.publish(events.EventTypeSessionOpened, events.SessionOpenedPayload{
		Command: plan.Display,
		PID:     session.PID(),
		Dir:     req.Dir,
	})

	if notifier, ok := sink.(sealNotifier); ok && job.bus != nil {
		notifier.OnSeal(func(index int, page pager.Page) {
			job.publish(events.EventTypePageSealed, events.PageSealedPayload{Index: index, Lines: len(page.Lines)})
		})
	}
	sink.AddLine(fmt.Sprintf("%s %s", plan.Dialect.PS1, plan.Display))
	go job.pipe(spanCtx)
	return job, nil
}

// Run starts req and waits for it to finish.
func Run(ctx context.Context, req Request, sink pager.Sink, opts ...Option) (shell.ExitStatus, error) {
	job, err := Start(ctx, req, sink, opts...)
	if err != nil {
		return shell.ExitStatus{}, err
	}
	return job.Wait(ctx)
}

type doneSink interface {
	Done() <-chan struct{}
}

type sealNotifier interface {
	OnSeal(fn func(index int, page pager.Page))
}

func (j *Job) pipe(ctx context.Context) {
	defer close(j.done)

	readCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if d, ok := j.sink.(doneSink); ok {
		go func() {
			select {
			case <-d.Done():
				cancel()
			case <-readCtx.Done():
			}
		}()
	}

	for !j.sink.Closed() {
		line, err := j.session.Next(readCtx)
		if err != nil {
			break
		}
		j.sink.AddLine(line.Text)
		j.record(line.Text)
	}
	if j.sink.Closed() || readCtx.Err() != nil {
		_ = j.session.Close()
	}

	status, _ := j.session.Wait(context.Background())
	j.finish(status)
}

func (j *Job) record(text string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.lines++
	j.tail = append(j.tail, text)
	if len(j.tail) > tailLines {
		j.tail = j.tail[len(j.tail)-tailLines:]
	}
}

func (j *Job) finish(status shell.ExitStatus) {
	j.mu.Lock()
	j.status = status
	lines := j.lines
	tail := strings.Join(j.tail, "\n")
	j.mu.Unlock()

	j.span.End(tracing.SessionResult{
		ExitCode:  status.Code,
		Signal:    status.Signal,
		Cancelled: status.Cancelled,
		Lines:     lines,
		Tail:      tail,
	})

	if status.Cancelled {
		j.sink.Close()
		j.logger.Info("session cancelled", "lines", lines)
		j.publish(events.EventTypeSessionCancelled, events.SessionExitedPayload{
			Code:     status.Code,
			Signal:   status.Signal,
			Lines:    lines,
			Duration: time.Since(j.started),
		})
		return
	}

	j.sink.Finalize(StatusLine(status))
	j.logger.Info("session exited", "status", status.String(), "lines", lines)
	j.publish(events.EventTypeSessionExited, events.SessionExitedPayload{
		Code:     status.Code,
		Signal:   status.Signal,
		Lines:    lines,
		Duration: time.Since(j.started),
	})
}

// StatusLine is the final line appended to a sink after a natural exit.
func StatusLine(status shell.ExitStatus) string {
	if status.Abnormal() {
		return "[status] Terminated by signal " + status.Signal
	}
	return fmt.Sprintf("[status] Return code %d", status.Code)
}

// Send relays one line to the process's standard input.
func (j *Job) Send(text string) error {
	if err := j.session.Send(text); err != nil {
		j.logger.Warn("stdin relay failed", "err", err)
		j.publish(events.EventTypeStdinFailed, events.StdinPayload{Bytes: len(text), Err: err.Error()})
		return err
	}
	j.publish(events.EventTypeStdinSent, events.StdinPayload{Bytes: len(text)})
	return nil
}

// CloseStdin sends EOF to the process.
func (j *Job) CloseStdin() error {
	return j.session.CloseStdin()
}

// Cancel closes the sink and terminates the process.
func (j *Job) Cancel() {
	j.sink.Close()
	_ = j.session.Close()
}

// Wait blocks until the output is drained and the sink finalized or closed.
func (j *Job) Wait(ctx context.Context) (shell.ExitStatus, error) {
	select {
	case <-j.done:
		j.mu.Lock()
		defer j.mu.Unlock()
		return j.status, nil
	case <-ctx.Done():
		return shell.ExitStatus{}, ctx.Err()
	}
}

// Done is closed once the job has finished.
func (j *Job) Done() <-chan struct{} {
	return j.done
}

// Session exposes the underlying session.
func (j *Job) Session() *shell.Session {
	return j.session
}

// Lines is the number of output lines streamed so far, excluding the header.
func (j *Job) Lines() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.lines
}

func (j *Job) publish(eventType string, payload any) {
	if j.bus == nil {
		return
	}
	j.bus.Publish(events.SessionEvent(eventType, j.session.ID, payload))
}
