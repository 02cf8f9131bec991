package tui

import "charm.land/bubbles/v2/key"

// keyMap represents key map data used by this package.
type keyMap struct {
	quit         key.Binding
	reload       key.Binding
	toggleHelp   key.Binding
	moveUp       key.Binding
	moveDown     key.Binding
	advance      key.Binding
	toggleTable  key.Binding
	toggleRender key.Binding
	copyReport   key.Binding
}

// newKeyMap constructs key map.
func newKeyMap() keyMap {
	return keyMap{
		quit:         key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
		reload:       key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "reload")),
		toggleHelp:   key.NewBinding(key.WithKeys("?"), key.WithHelp("?", "toggle help")),
		moveUp:       key.NewBinding(key.WithKeys("k", "up"), key.WithHelp("k/↑", "vehicle up")),
		moveDown:     key.NewBinding(key.WithKeys("j", "down"), key.WithHelp("j/↓", "vehicle down")),
		advance:      key.NewBinding(key.WithKeys("enter", "n"), key.WithHelp("enter/n", "next status")),
		toggleTable:  key.NewBinding(key.WithKeys("tab"), key.WithHelp("tab", "active/completed")),
		toggleRender: key.NewBinding(key.WithKeys("m"), key.WithHelp("m", "markdown view")),
		copyReport:   key.NewBinding(key.WithKeys("y"), key.WithHelp("y", "copy report")),
	}
}

// ShortHelp handles short help.
func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{
		k.advance, k.toggleTable, k.toggleRender, k.copyReport, k.reload, k.quit,
	}
}

// FullHelp handles full help.
func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.moveUp, k.moveDown, k.advance},
		{k.toggleTable, k.toggleRender, k.copyReport},
		{k.reload, k.toggleHelp, k.quit},
	}
}
