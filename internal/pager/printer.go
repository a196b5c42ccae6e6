package pager

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/glamour"
)

// PrinterOption customizes a Printer.
type PrinterOption func(*printerConfig)

type printerConfig struct {
	markdown bool
	style    string
	wrap     int
}

// WithMarkdown renders each sealed page as Markdown using the named glamour
// style. An empty style picks one from the terminal background.
func WithMarkdown(style string) PrinterOption {
	return func(c *printerConfig) {
		c.markdown = true
		c.style = style
	}
}

// WithWordWrap sets the glamour wrap width.
func WithWordWrap(width int) PrinterOption {
	return func(c *printerConfig) { c.wrap = width }
}

// Printer is a Renderer for non-interactive output. In plain mode it streams
// new lines as they arrive; in Markdown mode it prints whole pages once they
// are sealed, and the last page when the sink closes.
type Printer struct {
	mu       sync.Mutex
	w        io.Writer
	markdown *glamour.TermRenderer

	page int
	line int
}

var _ Renderer = (*Printer)(nil)

// NewPrinter writes rendered output to w.
func NewPrinter(w io.Writer, options ...PrinterOption) (*Printer, error) {
	cfg := printerConfig{wrap: 100}
	for _, option := range options {
		if option != nil {
			option(&cfg)
		}
	}
	p := &Printer{w: w}
	if !cfg.markdown {
		return p, nil
	}

	styleOption := glamour.WithAutoStyle()
	if cfg.style != "" {
		styleOption = glamour.WithStandardStyle(cfg.style)
	}
	renderer, err := glamour.NewTermRenderer(styleOption, glamour.WithWordWrap(cfg.wrap))
	if err != nil {
		return nil, fmt.Errorf("create markdown renderer: %w", err)
	}
	p.markdown = renderer
	return p, nil
}

func (p *Printer) Render(snapshot Snapshot) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.markdown != nil {
		return p.renderPages(snapshot)
	}
	return p.renderLines(snapshot)
}

func (p *Printer) renderLines(snapshot Snapshot) error {
	var b strings.Builder
	for ; p.page < len(snapshot.Pages); p.page++ {
		lines := snapshot.Pages[p.page].Lines
		for ; p.line < len(lines); p.line++ {
			b.WriteString(lines[p.line])
			b.WriteByte('\n')
		}
		if !snapshot.Pages[p.page].Sealed {
			break
		}
		p.line = 0
	}
	if b.Len() == 0 {
		return nil
	}
	_, err := io.WriteString(p.w, b.String())
	return err
}

func (p *Printer) renderPages(snapshot Snapshot) error {
	final := snapshot.State != StateOpen
	for ; p.page < len(snapshot.Pages); p.page++ {
		page := snapshot.Pages[p.page]
		if !page.Sealed && !final {
			return nil
		}
		out, err := p.markdown.Render(page.Render(snapshot.Prefix, snapshot.Suffix))
		if err != nil {
			return fmt.Errorf("render page %d: %w", p.page+1, err)
		}
		if _, err := io.WriteString(p.w, out); err != nil {
			return err
		}
	}
	return nil
}
