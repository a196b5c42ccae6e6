package theme

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

const (
	// Amber highlights the command header and the active page.
	Amber = "#FF9966"
	// Slate is the muted border and hint color.
	Slate = "#52526A"
	// Sky marks informational status text.
	Sky = "#99CCFF"
	// Mint marks a zero exit code.
	Mint = "#33FF33"
	// Crimson marks nonzero exits, signals and stdin failures.
	Crimson = "#FF3333"
	// Saffron marks cancellation.
	Saffron = "#FFCC00"
	// Paper is the primary text color.
	Paper = "#F5F6FA"
	// Violet marks the focused stdin prompt.
	Violet = "#9966FF"
)

const (
	// IconRunning prefixes the status bar while the process is alive.
	IconRunning = "▸"
	// IconDone marks a clean exit.
	IconDone = "✓"
	// IconFailed marks a nonzero exit or termination by signal.
	IconFailed = "✗"
	// IconCancelled marks a session closed before it exited.
	IconCancelled = "⊘"
)

var (
	AmberColor   = profileColor(Amber, "209", "11")
	SlateColor   = profileColor(Slate, "60", "8")
	SkyColor     = profileColor(Sky, "153", "14")
	MintColor    = profileColor(Mint, "46", "10")
	CrimsonColor = profileColor(Crimson, "203", "9")
	SaffronColor = profileColor(Saffron, "220", "11")
	PaperColor   = profileColor(Paper, "255", "15")
	VioletColor  = profileColor(Violet, "99", "5")
)

var (
	// HeaderStyle renders the command line above the page.
	HeaderStyle = lipgloss.NewStyle().Foreground(AmberColor).Bold(true)
	// IndicatorStyle renders the "page i/n" counter.
	IndicatorStyle = lipgloss.NewStyle().Foreground(SkyColor)
	// SuccessStyle renders a clean exit status.
	SuccessStyle = lipgloss.NewStyle().Foreground(MintColor).Bold(true)
	// ErrorStyle renders failures.
	ErrorStyle = lipgloss.NewStyle().Foreground(CrimsonColor).Bold(true)
	// WarningStyle renders cancellation and dropped input.
	WarningStyle = lipgloss.NewStyle().Foreground(SaffronColor).Bold(true)
	// InfoStyle renders transient status messages.
	InfoStyle = lipgloss.NewStyle().Foreground(SkyColor)
	// HintStyle renders dim secondary text.
	HintStyle = lipgloss.NewStyle().Foreground(SlateColor).Faint(true)
	// PromptStyle renders the stdin prompt label.
	PromptStyle = lipgloss.NewStyle().Foreground(VioletColor).Bold(true)

	// PageBorder frames the output viewport.
	PageBorder = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(SlateColor)

	// PageBorderFollowing frames the viewport while it tracks the newest page.
	PageBorderFollowing = lipgloss.NewStyle().
				Border(lipgloss.RoundedBorder()).
				BorderForeground(AmberColor)
)

var colorProfileFn = lipgloss.ColorProfile

func profileColor(hex string, ansi256 string, ansi string) lipgloss.TerminalColor {
	switch colorProfileFn() {
	case termenv.ANSI256, termenv.ANSI:
		complete := lipgloss.CompleteColor{TrueColor: hex, ANSI256: ansi256, ANSI: ansi}
		return lipgloss.CompleteAdaptiveColor{Light: complete, Dark: complete}
	default:
		return lipgloss.AdaptiveColor{Light: hex, Dark: hex}
	}
}
