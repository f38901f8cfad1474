package tui

import (
	tea "github.com/charmbracelet/bubbletea"
)

// Start runs the terminal UI until the user quits.
func Start(deps Deps, version string) error {
	Version = version

	m := initialModel(deps)
	m.sub = deps.Watcher.Subscribe()
	defer deps.Watcher.Unsubscribe(m.sub)

	p := tea.NewProgram(m, tea.WithAltScreen())
	_, err := p.Run()
	return err
}
