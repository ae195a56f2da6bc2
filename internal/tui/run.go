package tui

import (
	"context"
	"errors"

	tea "github.com/charmbracelet/bubbletea"
)

// Run shows view until the viewer quits, ctx ends, or the session changes.
// The view is unmounted on every exit path.
func Run(ctx context.Context, deps Deps, view string, opts ...tea.ProgramOption) error {
	m := New(ctx, deps, view)
	defer m.Unmount()
	opts = append([]tea.ProgramOption{tea.WithAltScreen(), tea.WithContext(ctx)}, opts...)
	_, err := tea.NewProgram(m, opts...).Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}
