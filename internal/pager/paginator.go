package pager

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

const (
	// DefaultMaxSize keeps a rendered page inside a 2000 character message.
	DefaultMaxSize = 1975
	DefaultPrefix  = "```sh"
	DefaultSuffix  = "```"
)

// Page is an ordered run of lines whose rendered size never exceeds the
// paginator's MaxSize once sealed.
type Page struct {
	Lines  []string
	Sealed bool
}

// Render wraps the page lines in prefix and suffix, one line per row.
func (p Page) Render(prefix, suffix string) string {
	var b strings.Builder
	if prefix != "" {
		b.WriteString(prefix)
		b.WriteByte('\n')
	}
	for _, line := range p.Lines {
		b.WriteString(line)
		b.WriteByte('\n')
	}
	b.WriteString(suffix)
	return b.String()
}

// Paginator batches lines into size-bounded pages. Sizes are counted in
// characters and include the prefix, suffix and one separator per line.
type Paginator struct {
	Prefix  string
	Suffix  string
	MaxSize int

	pages []Page
	size  int
}

// NewPaginator validates that at least one character of content fits on a page.
func NewPaginator(prefix, suffix string, maxSize int) (*Paginator, error) {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	p := &Paginator{Prefix: prefix, Suffix: suffix, MaxSize: maxSize}
	if p.capacity() < 1 {
		return nil, fmt.Errorf("max size %d too small for prefix and suffix", maxSize)
	}
	p.pages = []Page{{}}
	p.size = p.overhead()
	return p, nil
}

func (p *Paginator) overhead() int {
	size := utf8.RuneCountInString(p.Suffix)
	if p.Prefix != "" {
		size += utf8.RuneCountInString(p.Prefix) + 1
	}
	return size
}

// capacity is the longest single line an empty page can hold.
func (p *Paginator) capacity() int {
	return p.MaxSize - p.overhead() - 1
}

// AddLine appends text, splitting embedded newlines into separate lines and
// wrapping anything longer than a page can hold.
func (p *Paginator) AddLine(text string) error {
	if len(p.pages) == 0 {
		return errors.New("paginator not initialised")
	}
	for _, line := range strings.Split(text, "\n") {
		for _, part := range wrapLine(line, p.capacity()) {
			p.add(part)
		}
	}
	return nil
}

func (p *Paginator) add(line string) {
	cost := utf8.RuneCountInString(line) + 1
	current := &p.pages[len(p.pages)-1]
	if len(current.Lines) > 0 && p.size+cost > p.MaxSize {
		current.Sealed = true
		p.pages = append(p.pages, Page{})
		current = &p.pages[len(p.pages)-1]
		p.size = p.overhead()
	}
	current.Lines = append(current.Lines, line)
	p.size += cost
}

// Pages returns a copy of every page, including the unsealed last one when
// it holds any lines.
func (p *Paginator) Pages() []Page {
	out := make([]Page, 0, len(p.pages))
	for _, page := range p.pages {
		if len(page.Lines) == 0 {
			continue
		}
		out = append(out, Page{Lines: append([]string(nil), page.Lines...), Sealed: page.Sealed})
	}
	return out
}

// Sealed is the number of full pages. Only the last page is ever open.
func (p *Paginator) Sealed() int {
	if len(p.pages) == 0 {
		return 0
	}
	return len(p.pages) - 1
}

// SealedRange copies the sealed pages with indexes in [from, to).
func (p *Paginator) SealedRange(from, to int) []Page {
	to = min(to, p.Sealed())
	if from < 0 || from >= to {
		return nil
	}
	out := make([]Page, 0, to-from)
	for _, page := range p.pages[from:to] {
		out = append(out, Page{Lines: append([]string(nil), page.Lines...), Sealed: true})
	}
	return out
}

// wrapLine splits line into pieces of at most limit characters, breaking
// after the last space inside the window or hard-splitting when none exists.
func wrapLine(line string, limit int) []string {
	runes := []rune(line)
	if len(runes) <= limit {
		return []string{line}
	}
	var parts []string
	for len(runes) > limit {
		cut := limit
		for i := limit - 1; i > 0; i-- {
			if runes[i] == ' ' {
				cut = i + 1
				break
			}
		}
		parts = append(parts, string(runes[:cut]))
		runes = runes[cut:]
	}
	return append(parts, string(runes))
}
