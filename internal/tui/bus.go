package tui

import (
	"context"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/g960059/helpdesk/internal/ticketsync"
)

// Bus carries events from background goroutines into the program.
type Bus struct {
	ch chan tea.Msg
}

func NewBus() *Bus {
	return &Bus{ch: make(chan tea.Msg, 16)}
}

// OnReplace is a ticketsync.Options.OnReplace hook.
func (b *Bus) OnReplace(snap ticketsync.Snapshot) {
	b.send(snapshotMsg(snap))
}

// send never blocks. Use it only for events the view can afford to lose:
// snapshots (the view reads the synchronizer directly) and log lines.
func (b *Bus) send(msg tea.Msg) {
	select {
	case b.ch <- msg:
	default:
	}
}

// deliver blocks until the program takes msg or ctx is done. Session events
// go through here so a full buffer cannot hide a credential change.
func (b *Bus) deliver(ctx context.Context, msg tea.Msg) bool {
	select {
	case b.ch <- msg:
		return true
	case <-ctx.Done():
		return false
	}
}

func (b *Bus) wait() tea.Cmd {
	return func() tea.Msg {
		return <-b.ch
	}
}
