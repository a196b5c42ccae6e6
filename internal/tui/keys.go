package tui

import "github.com/charmbracelet/bubbles/key"

type keyMap struct {
	Prev   key.Binding
	Next   key.Binding
	First  key.Binding
	Last   key.Binding
	Up     key.Binding
	Down   key.Binding
	Input  key.Binding
	EOF    key.Binding
	Help   key.Binding
	Quit   key.Binding
	Submit key.Binding
	Abort  key.Binding
}

func defaultKeyMap() keyMap {
	return keyMap{
		Prev:   key.NewBinding(key.WithKeys("left", "h"), key.WithHelp("←/h", "previous page")),
		Next:   key.NewBinding(key.WithKeys("right", "l"), key.WithHelp("→/l", "next page")),
		First:  key.NewBinding(key.WithKeys("home", "g"), key.WithHelp("g", "first page")),
		Last:   key.NewBinding(key.WithKeys("end", "G"), key.WithHelp("G", "last page, follow")),
		Up:     key.NewBinding(key.WithKeys("up", "k", "pgup"), key.WithHelp("↑/k", "scroll up")),
		Down:   key.NewBinding(key.WithKeys("down", "j", "pgdown"), key.WithHelp("↓/j", "scroll down")),
		Input:  key.NewBinding(key.WithKeys("i"), key.WithHelp("i", "send stdin")),
		EOF:    key.NewBinding(key.WithKeys("ctrl+d"), key.WithHelp("ctrl+d", "close stdin")),
		Help:   key.NewBinding(key.WithKeys("?"), key.WithHelp("?", "toggle help")),
		Quit:   key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "close")),
		Submit: key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "send line")),
		Abort:  key.NewBinding(key.WithKeys("esc"), key.WithHelp("esc", "cancel input")),
	}
}

func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Prev, k.Next, k.Input, k.Help, k.Quit}
}

func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Prev, k.Next, k.First, k.Last},
		{k.Up, k.Down},
		{k.Input, k.EOF, k.Submit, k.Abort},
		{k.Help, k.Quit},
	}
}
