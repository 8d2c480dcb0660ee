package ui

import "github.com/charmbracelet/bubbles/key"

// keyMap defines the [key.Binding] mapping for the TUI.
type keyMap struct {
	up      key.Binding
	down    key.Binding
	play    key.Binding
	remove  key.Binding
	upload  key.Binding
	refresh key.Binding
	back    key.Binding
	yes     key.Binding
	no      key.Binding
	next    key.Binding
	submit  key.Binding
	clear   key.Binding
	quit    key.Binding
	abort   key.Binding
}

func newKeyMap() keyMap {
	return keyMap{
		up:      key.NewBinding(key.WithKeys("up", "k"), key.WithHelp("↑/k", "up")),
		down:    key.NewBinding(key.WithKeys("down", "j"), key.WithHelp("↓/j", "down")),
		play:    key.NewBinding(key.WithKeys("enter", "p"), key.WithHelp("enter", "play")),
		remove:  key.NewBinding(key.WithKeys("d", "delete"), key.WithHelp("d", "delete")),
		upload:  key.NewBinding(key.WithKeys("u"), key.WithHelp("u", "upload")),
		refresh: key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "refresh")),
		back:    key.NewBinding(key.WithKeys("esc"), key.WithHelp("esc", "back")),
		yes:     key.NewBinding(key.WithKeys("y"), key.WithHelp("y", "yes")),
		no:      key.NewBinding(key.WithKeys("n", "esc"), key.WithHelp("n", "no")),
		next:    key.NewBinding(key.WithKeys("tab", "shift+tab"), key.WithHelp("tab", "next field")),
		submit:  key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "upload")),
		clear:   key.NewBinding(key.WithKeys("ctrl+x"), key.WithHelp("ctrl+x", "remove file")),
		quit:    key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
		abort:   key.NewBinding(key.WithKeys("ctrl+c"), key.WithHelp("ctrl+c", "quit")),
	}
}

func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.quit}
}

func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.up, k.down, k.play},
		{k.remove, k.upload, k.refresh},
		{k.back, k.yes, k.no},
		{k.quit},
	}
}
