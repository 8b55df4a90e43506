package tui

import "github.com/charmbracelet/bubbles/key"

type keyMap struct {
	Up     key.Binding
	Down   key.Binding
	Prev   key.Binding
	Next   key.Binding
	Today  key.Binding
	Toggle key.Binding
	Skip   key.Binding
	Reload key.Binding
	Help   key.Binding
	Quit   key.Binding
}

func defaultKeys() keyMap {
	return keyMap{
		Up:     key.NewBinding(key.WithKeys("k", "up"), key.WithHelp("↑/k", "up")),
		Down:   key.NewBinding(key.WithKeys("j", "down"), key.WithHelp("↓/j", "down")),
		Prev:   key.NewBinding(key.WithKeys("h", "left"), key.WithHelp("←/h", "prev day")),
		Next:   key.NewBinding(key.WithKeys("l", "right"), key.WithHelp("→/l", "next day")),
		Today:  key.NewBinding(key.WithKeys("t"), key.WithHelp("t", "today")),
		Toggle: key.NewBinding(key.WithKeys("x", " "), key.WithHelp("x", "done/undone")),
		Skip:   key.NewBinding(key.WithKeys("s"), key.WithHelp("s", "skip")),
		Reload: key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "reload")),
		Help:   key.NewBinding(key.WithKeys("?"), key.WithHelp("?", "help")),
		Quit:   key.NewBinding(key.WithKeys("q", "esc", "ctrl+c"), key.WithHelp("q", "quit")),
	}
}

// ShortHelp implements help.KeyMap.
func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Toggle, k.Prev, k.Next, k.Help, k.Quit}
}

// FullHelp implements help.KeyMap.
func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Up, k.Down, k.Prev, k.Next, k.Today},
		{k.Toggle, k.Skip, k.Reload, k.Help, k.Quit},
	}
}
