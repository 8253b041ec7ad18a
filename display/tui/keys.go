package tui

import "github.com/charmbracelet/bubbles/key"

// keyMap defines all key bindings for the dashboard.
// It implements the help.KeyMap interface for bubbles/help integration.
type keyMap struct {
	Quit      key.Binding
	PerCPU    key.Binding
	Processes key.Binding
	Compact   key.Binding
	Refresh   key.Binding
	Help      key.Binding
}

// ShortHelp returns the compact set of keybindings shown by default in the footer.
func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Help, k.Refresh, k.Quit}
}

// FullHelp returns the expanded keybinding groups shown when help is toggled.
func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.PerCPU, k.Processes, k.Compact},
		{k.Refresh, k.Help, k.Quit},
	}
}

// keys holds the default key bindings used by the application.
var keys = keyMap{
	Quit:      key.NewBinding(key.WithKeys("q", "ctrl+c", "esc"), key.WithHelp("q", "quit")),
	PerCPU:    key.NewBinding(key.WithKeys("p"), key.WithHelp("p", "per-cpu")),
	Processes: key.NewBinding(key.WithKeys("t"), key.WithHelp("t", "processes")),
	Compact:   key.NewBinding(key.WithKeys("c"), key.WithHelp("c", "compact")),
	Refresh:   key.NewBinding(key.WithKeys("r", "ctrl+r"), key.WithHelp("r", "refresh")),
	Help:      key.NewBinding(key.WithKeys("?"), key.WithHelp("?", "help")),
}

// KeyBindings returns every dashboard binding in help order.
func KeyBindings() []key.Binding {
	var out []key.Binding
	for _, group := range keys.FullHelp() {
		out = append(out, group...)
	}
	return out
}
