package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/ship-commander/livesh/internal/events"
	"github.com/ship-commander/livesh/internal/pager"
	"github.com/ship-commander/livesh/internal/tui/theme"
)

const (
	defaultWidth  = 100
	defaultHeight = 24
	minViewHeight = 3
)

// Job is the part of a running command the viewer drives.
type Job interface {
	Send(text string) error
	CloseStdin() error
	Cancel()
}

// SnapshotMsg delivers a Live sink snapshot to the program.
type SnapshotMsg struct {
	Snapshot pager.Snapshot
}

// EventMsg delivers a session event for the status bar.
type EventMsg struct {
	Event events.Event
}

type stdinResultMsg struct {
	bytes int
	err   error
}

type stdinClosedMsg struct {
	err error
}

type cancelledMsg struct{}

// Model is the Bubble Tea model for a live, paginated command view.
type Model struct {
	title string
	job   Job

	keys     keyMap
	help     help.Model
	viewport viewport.Model
	input    textinput.Model

	snapshot  pager.Snapshot
	page      int
	follow    bool
	prompting bool

	status string
	level  level

	width    int
	height   int
	quitting bool
}

// New builds a viewer titled with the command being run. Attach the job
// before starting the program.
func New(title string) *Model {
	input := textinput.New()
	input.Prompt = "stdin> "
	input.PromptStyle = theme.PromptStyle
	input.Placeholder = "line to send"

	m := &Model{
		title:    title,
		keys:     defaultKeyMap(),
		help:     help.New(),
		viewport: viewport.New(defaultWidth, defaultHeight),
		input:    input,
		follow:   true,
		status:   "starting",
		width:    defaultWidth,
		height:   defaultHeight,
	}
	m.layout()
	m.refreshContent()
	return m
}

// Attach sets the job that receives stdin and cancellation.
func (m *Model) Attach(job Job) {
	m.job = job
}

// Init satisfies tea.Model.
func (m *Model) Init() tea.Cmd {
	return nil
}

// Update handles snapshots, session events and keys.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch typed := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = typed.Width
		m.height = typed.Height
		m.layout()
		return m, nil
	case SnapshotMsg:
		m.applySnapshot(typed.Snapshot)
		return m, nil
	case EventMsg:
		m.setStatus(events.Summary(typed.Event), eventLevel(typed.Event))
		return m, nil
	case stdinResultMsg:
		if typed.err != nil {
			m.setStatus("stdin failed: "+typed.err.Error(), levelError)
		} else {
			m.setStatus(fmt.Sprintf("sent %d bytes", typed.bytes), levelInfo)
		}
		return m, nil
	case stdinClosedMsg:
		if typed.err != nil {
			m.setStatus("close stdin: "+typed.err.Error(), levelError)
		} else {
			m.setStatus("stdin closed", levelInfo)
		}
		return m, nil
	case cancelledMsg:
		return m, tea.Quit
	case tea.KeyMsg:
		if m.prompting {
			return m.handlePromptKey(typed)
		}
		return m.handleKey(typed)
	default:
		return m, nil
	}
}

func (m *Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		m.quitting = true
		if m.job == nil || m.snapshot.State != pager.StateOpen {
			return m, tea.Quit
		}
		job := m.job
		// Cancel blocks on a final repaint delivered through the program.
		return m, func() tea.Msg {
			job.Cancel()
			return cancelledMsg{}
		}
	case key.Matches(msg, m.keys.Prev):
		m.gotoPage(m.page - 1)
	case key.Matches(msg, m.keys.Next):
		m.gotoPage(m.page + 1)
	case key.Matches(msg, m.keys.First):
		m.gotoPage(0)
	case key.Matches(msg, m.keys.Last):
		m.gotoPage(m.pageCount() - 1)
	case key.Matches(msg, m.keys.Help):
		m.help.ShowAll = !m.help.ShowAll
		m.layout()
	case key.Matches(msg, m.keys.Input):
		if m.job == nil || m.snapshot.State != pager.StateOpen {
			m.setStatus("process is not running", levelWarn)
			return m, nil
		}
		m.prompting = true
		m.layout()
		return m, m.input.Focus()
	case key.Matches(msg, m.keys.EOF):
		if m.job == nil {
			return m, nil
		}
		job := m.job
		return m, func() tea.Msg { return stdinClosedMsg{err: job.CloseStdin()} }
	case key.Matches(msg, m.keys.Up), key.Matches(msg, m.keys.Down):
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m *Model) handlePromptKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Abort):
		m.endPrompt()
		return m, nil
	case key.Matches(msg, m.keys.Submit):
		text := m.input.Value()
		m.endPrompt()
		if m.job == nil {
			return m, nil
		}
		job := m.job
		return m, func() tea.Msg {
			return stdinResultMsg{bytes: len(text), err: job.Send(text)}
		}
	case msg.Type == tea.KeyCtrlC:
		m.endPrompt()
		return m.handleKey(msg)
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *Model) endPrompt() {
	m.prompting = false
	m.input.Blur()
	m.input.Reset()
	m.layout()
}

func (m *Model) applySnapshot(snapshot pager.Snapshot) {
	m.snapshot = snapshot
	switch snapshot.State {
	case pager.StateFinalized:
		if m.level == levelInfo {
			m.setStatus(strings.TrimPrefix(snapshot.Status, "[status] "), levelInfo)
		}
		m.endPromptIfOpen()
	case pager.StateCancelled:
		m.setStatus("cancelled", levelWarn)
		m.endPromptIfOpen()
	}

	if m.follow {
		m.page = max(0, m.pageCount()-1)
	}
	m.refreshContent()
}

func (m *Model) endPromptIfOpen() {
	if m.prompting {
		m.endPrompt()
	}
}

func (m *Model) gotoPage(page int) {
	last := m.pageCount() - 1
	page = min(max(page, 0), max(last, 0))
	m.page = page
	m.follow = page >= last
	m.refreshContent()
	if !m.follow {
		m.viewport.GotoTop()
	}
}

func (m *Model) refreshContent() {
	if len(m.snapshot.Pages) == 0 {
		m.viewport.SetContent(theme.HintStyle.Render("waiting for output"))
		return
	}
	m.viewport.SetContent(strings.Join(m.snapshot.Pages[m.page].Lines, "\n"))
	if m.follow {
		m.viewport.GotoBottom()
	}
}

func (m *Model) setStatus(text string, lvl level) {
	m.status = text
	m.level = lvl
}

func (m *Model) layout() {
	width := max(m.width, 20)
	chrome := 4 // header, status bar and the two border rows
	chrome += lipgloss.Height(m.help.View(m.keys))
	if m.prompting {
		chrome++
	}
	m.help.Width = width
	m.input.Width = max(width-len(m.input.Prompt)-2, 10)
	m.viewport.Width = width - 2
	m.viewport.Height = max(m.height-chrome, minViewHeight)
}

// View satisfies tea.Model.
func (m *Model) View() string {
	if m.quitting {
		return ""
	}

	header := lipgloss.JoinHorizontal(
		lipgloss.Left,
		theme.HeaderStyle.Render(m.title),
		"  ",
		theme.IndicatorStyle.Render(m.Indicator()),
	)
	if m.follow && m.snapshot.State == pager.StateOpen {
		header += " " + theme.HintStyle.Render("(following)")
	}

	border := theme.PageBorder
	if m.follow {
		border = theme.PageBorderFollowing
	}

	rows := []string{header, border.Render(m.viewport.View())}
	if m.prompting {
		rows = append(rows, m.input.View())
	}
	rows = append(rows,
		m.level.style().Render(m.statusIcon()+" "+m.status),
		m.help.View(m.keys),
	)
	return lipgloss.JoinVertical(lipgloss.Left, rows...)
}

// Indicator renders the "page i/n" counter.
func (m *Model) Indicator() string {
	return fmt.Sprintf("page %d/%d", m.page+1, max(m.pageCount(), 1))
}

// Page returns the zero-based index of the page on screen.
func (m *Model) Page() int {
	return m.page
}

// Following reports whether the view tracks the newest page.
func (m *Model) Following() bool {
	return m.follow
}

// Prompting reports whether the stdin prompt has focus.
func (m *Model) Prompting() bool {
	return m.prompting
}

// Status returns the status bar text.
func (m *Model) Status() string {
	return m.status
}

func (m *Model) pageCount() int {
	return len(m.snapshot.Pages)
}

func (m *Model) statusIcon() string {
	switch m.snapshot.State {
	case pager.StateCancelled:
		return theme.IconCancelled
	case pager.StateFinalized:
		if m.level == levelError {
			return theme.IconFailed
		}
		return theme.IconDone
	default:
		return theme.IconRunning
	}
}

type level int

const (
	levelInfo level = iota
	levelOK
	levelWarn
	levelError
)

func (l level) style() lipgloss.Style {
	switch l {
	case levelOK:
		return theme.SuccessStyle
	case levelWarn:
		return theme.WarningStyle
	case levelError:
		return theme.ErrorStyle
	default:
		return theme.InfoStyle
	}
}

func eventLevel(event events.Event) level {
	switch event.Type {
	case events.EventTypeStdinFailed:
		return levelError
	case events.EventTypeSessionCancelled:
		return levelWarn
	case events.EventTypeSessionExited:
		if payload, ok := event.Payload.(events.SessionExitedPayload); ok && payload.Code == 0 && payload.Signal == "" {
			return levelOK
		}
		return levelError
	default:
		return levelInfo
	}
}
