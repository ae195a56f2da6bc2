package tui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/g960059/helpdesk/internal/model"
)

type styles struct {
	title    lipgloss.Style
	card     lipgloss.Style
	tab      lipgloss.Style
	tabOn    lipgloss.Style
	selected lipgloss.Style
	muted    lipgloss.Style
	errLine  lipgloss.Style
	okLine   lipgloss.Style
	renderer *lipgloss.Renderer
}

func newStyles(r *lipgloss.Renderer) styles {
	return styles{
		title:    r.NewStyle().Bold(true).Foreground(lipgloss.Color("12")),
		card:     r.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1),
		tab:      r.NewStyle().Padding(0, 1).Foreground(lipgloss.Color("8")),
		tabOn:    r.NewStyle().Padding(0, 1).Bold(true).Underline(true),
		selected: r.NewStyle().Reverse(true),
		muted:    r.NewStyle().Foreground(lipgloss.Color("8")),
		errLine:  r.NewStyle().Foreground(lipgloss.Color("9")),
		okLine:   r.NewStyle().Foreground(lipgloss.Color("10")),
		renderer: r,
	}
}

// StatusBadge renders a ticket status the way the tables show it. Unknown
// values render plain.
func StatusBadge(r *lipgloss.Renderer, status model.TicketStatus) string {
	style := r.NewStyle()
	switch status {
	case model.StatusOpen:
		style = style.Foreground(lipgloss.Color("11"))
	case model.StatusInProgress:
		style = style.Foreground(lipgloss.Color("12"))
	case model.StatusResolved:
		style = style.Foreground(lipgloss.Color("10"))
	default:
		return status.Label()
	}
	return style.Render(status.Label())
}

func PriorityBadge(r *lipgloss.Renderer, priority model.Priority) string {
	style := r.NewStyle()
	switch priority {
	case model.PriorityHigh:
		style = style.Foreground(lipgloss.Color("9")).Bold(true)
	case model.PriorityMedium:
		style = style.Foreground(lipgloss.Color("11"))
	case model.PriorityLow:
		style = style.Foreground(lipgloss.Color("8"))
	default:
		return string(priority)
	}
	return style.Render(string(priority))
}
