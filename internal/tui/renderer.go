package tui

import (
	"sync/atomic"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/ship-commander/livesh/internal/events"
	"github.com/ship-commander/livesh/internal/pager"
)

// Sender is satisfied by *tea.Program.
type Sender interface {
	Send(msg tea.Msg)
}

// Renderer repaints a Live sink by posting snapshots to a running program.
type Renderer struct {
	program Sender
	stopped atomic.Bool
}

var _ pager.Renderer = (*Renderer)(nil)

// NewRenderer returns a pager.Renderer backed by program.
func NewRenderer(program Sender) *Renderer {
	return &Renderer{program: program}
}

// Render satisfies pager.Renderer.
func (r *Renderer) Render(snapshot pager.Snapshot) error {
	if r.stopped.Load() {
		return nil
	}
	r.program.Send(SnapshotMsg{Snapshot: snapshot})
	return nil
}

// Stop drops every later repaint. Call it once the program has returned.
func (r *Renderer) Stop() {
	r.stopped.Store(true)
}

// ForwardEvents relays every event on bus into program for the status bar.
// The returned function unsubscribes.
func ForwardEvents(bus events.Bus, program Sender) func() {
	return bus.SubscribeAll(func(event events.Event) {
		program.Send(EventMsg{Event: event})
	})
}
