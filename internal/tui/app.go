package tui

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/Iron-Ham/relay/internal/orchestrator"
)

// Run shows ts until the turn finishes or the user quits, and returns the
// turn's result. Quitting early cancels the turn through cancel.
func Run(ts *orchestrator.TurnStream, query string, cancel context.CancelFunc, opts ...tea.ProgramOption) (*orchestrator.Result, error) {
	model := NewModel(query, ts.ThreadID, ts.Events(), ts.Wait, cancel)

	final, err := tea.NewProgram(model, opts...).Run()
	if err != nil {
		cancel()
		_, _ = ts.Wait()
		return nil, fmt.Errorf("run tui: %w", err)
	}

	if m, ok := final.(Model); ok {
		if res, done, err := m.Outcome(); done {
			return res, err
		}
	}
	// The user quit early; the turn was cancelled and finishes on its own.
	return ts.Wait()
}
