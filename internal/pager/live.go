package pager

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/time/rate"
)

// DefaultRefreshInterval bounds how often a Live sink repaints.
const DefaultRefreshInterval = time.Second

// Sink receives lines from a running session.
type Sink interface {
	AddLine(text string)
	Close()
	Closed() bool
	Finalize(status string)
}

// State is the lifecycle position of a Live sink.
type State int

const (
	StateOpen State = iota
	StateFinalized
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateFinalized:
		return "finalized"
	case StateCancelled:
		return "cancelled"
	default:
		return "open"
	}
}

// Snapshot is an immutable view of a Live sink handed to a Renderer.
type Snapshot struct {
	Pages  []Page
	Prefix string
	Suffix string
	State  State
	Status string
}

// Rendered returns each page wrapped in the snapshot's prefix and suffix.
func (s Snapshot) Rendered() []string {
	out := make([]string, 0, len(s.Pages))
	for _, page := range s.Pages {
		out = append(out, page.Render(s.Prefix, s.Suffix))
	}
	return out
}

// Renderer displays snapshots. Render is never called concurrently.
type Renderer interface {
	Render(snapshot Snapshot) error
}

// RendererFunc adapts a function to Renderer.
type RendererFunc func(Snapshot) error

func (f RendererFunc) Render(snapshot Snapshot) error {
	return f(snapshot)
}

// LiveOption customizes a Live sink.
type LiveOption func(*Live)

// WithPrefix sets the text written before every page.
func WithPrefix(prefix string) LiveOption {
	return func(l *Live) { l.prefix = prefix }
}

// WithSuffix sets the text written after every page.
func WithSuffix(suffix string) LiveOption {
	return func(l *Live) { l.suffix = suffix }
}

// WithMaxSize bounds the rendered size of a page.
func WithMaxSize(size int) LiveOption {
	return func(l *Live) { l.maxSize = size }
}

// WithRefreshInterval sets the minimum time between two repaints.
func WithRefreshInterval(interval time.Duration) LiveOption {
	return func(l *Live) { l.interval = interval }
}

// WithLogger sets the logger used for render failures.
func WithLogger(logger *log.Logger) LiveOption {
	return func(l *Live) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithOnSeal registers a callback invoked after a page fills up.
func WithOnSeal(fn func(index int, page Page)) LiveOption {
	return func(l *Live) { l.onSeal = fn }
}

// Live is a Sink that paginates lines and repaints a Renderer at a bounded
// rate. Close cancels it; Finalize completes it. Both are terminal.
type Live struct {
	prefix   string
	suffix   string
	maxSize  int
	interval time.Duration
	logger   *log.Logger
	onSeal   func(int, Page)
	renderer Renderer

	mu     sync.Mutex
	pager  *Paginator
	state  State
	status string

	renderMu sync.Mutex
	limiter  *rate.Limiter
	dirty    chan struct{}
	done     chan struct{}
	stop     context.CancelFunc
	stopped  chan struct{}
}

var _ Sink = (*Live)(nil)

// NewLive starts the refresh loop for renderer.
func NewLive(renderer Renderer, options ...LiveOption) (*Live, error) {
	l := &Live{
		prefix:   DefaultPrefix,
		suffix:   DefaultSuffix,
		maxSize:  DefaultMaxSize,
		interval: DefaultRefreshInterval,
		logger:   log.New(io.Discard),
		renderer: renderer,
		dirty:    make(chan struct{}, 1),
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
	for _, option := range options {
		if option != nil {
			option(l)
		}
	}
	pager, err := NewPaginator(l.prefix, l.suffix, l.maxSize)
	if err != nil {
		return nil, err
	}
	l.pager = pager
	if l.interval <= 0 {
		l.limiter = rate.NewLimiter(rate.Inf, 1)
	} else {
		l.limiter = rate.NewLimiter(rate.Every(l.interval), 1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	l.stop = cancel
	go l.refresh(ctx)
	return l, nil
}

// AddLine appends a line and schedules a repaint. Lines added after the sink
// closed are dropped.
func (l *Live) AddLine(text string) {
	l.mu.Lock()
	if l.state != StateOpen {
		l.mu.Unlock()
		return
	}
	before := l.pager.Sealed()
	_ = l.pager.AddLine(text)
	after := l.pager.Sealed()
	onSeal := l.onSeal
	var sealed []Page
	if after > before && onSeal != nil {
		sealed = l.pager.SealedRange(before, after)
	}
	l.mu.Unlock()

	for i, page := range sealed {
		onSeal(before+i, page)
	}
	select {
	case l.dirty <- struct{}{}:
	default:
	}
}

// Close cancels the sink. Done is closed and the refresh loop stops.
func (l *Live) Close() {
	if !l.transition(StateCancelled, "") {
		return
	}
	l.shutdown()
}

// Finalize appends status as the last line and forces a final repaint.
// It does nothing when the sink is already closed or finalized.
func (l *Live) Finalize(status string) {
	if !l.transition(StateFinalized, status) {
		return
	}
	l.shutdown()
}

// OnSeal replaces the callback invoked after a page fills up.
func (l *Live) OnSeal(fn func(index int, page Page)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onSeal = fn
}

// Closed reports whether the sink stopped accepting lines.
func (l *Live) Closed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state != StateOpen
}

// State returns the current lifecycle state.
func (l *Live) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Done is closed once the sink leaves the open state. It is the
// cancellation token for whatever is feeding the sink.
func (l *Live) Done() <-chan struct{} {
	return l.done
}

// Snapshot returns the current pages and state.
func (l *Live) Snapshot() Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	return Snapshot{
		Pages:  l.pager.Pages(),
		Prefix: l.prefix,
		Suffix: l.suffix,
		State:  l.state,
		Status: l.status,
	}
}

func (l *Live) transition(to State, status string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state != StateOpen {
		return false
	}
	if to == StateFinalized && status != "" {
		_ = l.pager.AddLine(status)
	}
	l.state = to
	l.status = status
	close(l.done)
	return true
}

func (l *Live) shutdown() {
	l.stop()
	<-l.stopped
	l.render()
}

func (l *Live) refresh(ctx context.Context) {
	defer close(l.stopped)
	for {
		select {
		case <-ctx.Done():
			return
		case <-l.dirty:
		}
		if err := l.limiter.Wait(ctx); err != nil {
			return
		}
		l.render()
	}
}

func (l *Live) render() {
	if l.renderer == nil {
		return
	}
	snapshot := l.Snapshot()

	l.renderMu.Lock()
	defer l.renderMu.Unlock()
	if err := l.renderer.Render(snapshot); err != nil {
		l.logger.Warn("render live output", "state", snapshot.State.String(), "err", err)
	}
}
