package tui

import "github.com/charmbracelet/bubbles/key"

// keyMap defines the keybindings for the progress view.
type keyMap struct {
	Quit key.Binding
}

var keys = keyMap{
	Quit: key.NewBinding(
		key.WithKeys("q", "ctrl+c"),
		key.WithHelp("q", "stop waiting"),
	),
}
