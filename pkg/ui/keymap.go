package ui

import (
	"github.com/charmbracelet/bubbles/key"
)

// keymap holds the grid viewer's bindings and feeds the help bar.
type keymap struct {
	pause   key.Binding
	step    key.Binding
	inject  key.Binding
	pattern key.Binding
	reset   key.Binding
	help    key.Binding
	quit    key.Binding
}

func newKeymap() keymap {
	return keymap{
		pause:   key.NewBinding(key.WithKeys(" "), key.WithHelp("space", "pause")),
		step:    key.NewBinding(key.WithKeys("s"), key.WithHelp("s", "step")),
		inject:  key.NewBinding(key.WithKeys("g"), key.WithHelp("g", "inject")),
		pattern: key.NewBinding(key.WithKeys("p"), key.WithHelp("p", "next pattern")),
		reset:   key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "reset")),
		help:    key.NewBinding(key.WithKeys("?"), key.WithHelp("?", "toggle help")),
		quit:    key.NewBinding(key.WithKeys("ctrl+c", "q", "esc"), key.WithHelp("q", "quit")),
	}
}

func (k keymap) ShortHelp() []key.Binding {
	return []key.Binding{k.pause, k.inject, k.help, k.quit}
}

func (k keymap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.pause, k.step, k.reset},
		{k.inject, k.pattern},
		{k.help, k.quit},
	}
}
