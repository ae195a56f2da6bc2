package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/lipgloss"

	"github.com/g960059/helpdesk/internal/ticketsync"
)

var filterTabs = []struct {
	filter ticketsync.Filter
	label  string
}{
	{ticketsync.FilterAll, "All"},
	{ticketsync.FilterOpen, "Open"},
	{ticketsync.FilterInProgress, "In progress"},
	{ticketsync.FilterResolved, "Resolved"},
}

func (m Model) View() string {
	if m.quitting {
		return ""
	}
	var b strings.Builder
	heading := "My tickets"
	if m.admin {
		heading = "Admin dashboard"
	}
	name := m.deps.Credential.DisplayName
	if name == "" {
		name = string(m.deps.Credential.Role)
	}
	b.WriteString(m.styles.title.Render(heading))
	b.WriteString(m.styles.muted.Render("  " + name))
	b.WriteString("\n\n")

	if m.admin {
		b.WriteString(m.statsView())
		b.WriteString("\n")
	}
	b.WriteString(m.tabsView())
	b.WriteString("\n")
	if m.admin && (m.mode == modeSearch || m.search.Value() != "") {
		b.WriteString(m.search.View())
		b.WriteString("\n")
	}
	b.WriteString("\n")
	b.WriteString(m.tableView())

	switch m.mode {
	case modeConfirmDelete:
		b.WriteString("\n")
		b.WriteString(m.styles.errLine.Render(fmt.Sprintf("Delete ticket %s? [y/N]", m.pendingID)))
		b.WriteString("\n")
	case modeCompose:
		b.WriteString("\n")
		b.WriteString(m.formView())
	}

	b.WriteString("\n")
	b.WriteString(m.statusView())
	b.WriteString("\n")
	b.WriteString(m.helpView())
	return b.String()
}

func (m Model) statsView() string {
	stats := m.deps.Sync.Stats()
	cards := []string{
		m.styles.card.Render(fmt.Sprintf("Total\n%d", stats.Total)),
		m.styles.card.Render(fmt.Sprintf("Open\n%d", stats.Open)),
		m.styles.card.Render(fmt.Sprintf("In progress\n%d", stats.InProgress)),
		m.styles.card.Render(fmt.Sprintf("Resolved\n%d", stats.Resolved)),
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, cards...)
}

func (m Model) tabsView() string {
	parts := make([]string, 0, len(filterTabs))
	for _, tab := range filterTabs {
		style := m.styles.tab
		if tab.filter == m.filter {
			style = m.styles.tabOn
		}
		parts = append(parts, style.Render(tab.label))
	}
	return strings.Join(parts, " ")
}

func (m Model) tableView() string {
	tickets := m.visible()
	if len(tickets) == 0 {
		if m.deps.Sync.Loading() {
			return m.styles.muted.Render("Loading…") + "\n"
		}
		return m.styles.muted.Render("No tickets found") + "\n"
	}
	r := m.styles.renderer
	var b strings.Builder
	header := fmt.Sprintf("  %-6s %-12s %-8s %-32s", "ID", "STATUS", "PRIORITY", "TITLE")
	if m.admin {
		header += " OWNER"
	}
	b.WriteString(m.styles.muted.Render(header))
	b.WriteString("\n")
	for i, ticket := range tickets {
		status := padRight(StatusBadge(r, ticket.Status), 12)
		priority := padRight(PriorityBadge(r, ticket.Priority), 8)
		row := fmt.Sprintf("%-6s %s %s %-32s", ticket.ID, status, priority, truncate(ticket.Title, 32))
		if m.admin {
			row += " " + ticket.OwnerName
		}
		if i == m.cursor {
			b.WriteString(m.styles.selected.Render("> " + row))
		} else {
			b.WriteString("  " + row)
		}
		b.WriteString("\n")
	}
	return b.String()
}

func (m Model) formView() string {
	var b strings.Builder
	b.WriteString(m.styles.title.Render("New ticket"))
	b.WriteString("\n")
	for _, field := range m.fields {
		b.WriteString(field.View())
		b.WriteString("\n")
	}
	b.WriteString(fmt.Sprintf("Priority: %s", PriorityBadge(m.styles.renderer, m.priority)))
	b.WriteString(m.styles.muted.Render("  (tab next field, ctrl+p priority, enter submit, esc cancel)"))
	b.WriteString("\n")
	return b.String()
}

func (m Model) statusView() string {
	health := m.deps.Sync.Health().Current
	meta := fmt.Sprintf("sync %s", health)
	if !m.lastUpdate.IsZero() {
		meta += " · updated " + m.lastUpdate.Format("15:04:05")
	}
	if m.deps.Sync.Loading() {
		meta += " · refreshing"
	}
	line := m.styles.muted.Render(meta)
	if m.status == "" {
		return line
	}
	if m.statusErr {
		return m.styles.errLine.Render(m.status) + "  " + line
	}
	return m.styles.okLine.Render(m.status) + "  " + line
}

func (m Model) helpView() string {
	bindings := m.keys.help(m.admin)
	parts := make([]string, 0, len(bindings))
	for _, binding := range bindings {
		parts = append(parts, helpText(binding))
	}
	return m.styles.muted.Render(strings.Join(parts, " · "))
}

func helpText(binding key.Binding) string {
	h := binding.Help()
	return h.Key + " " + h.Desc
}

func padRight(s string, width int) string {
	if w := lipgloss.Width(s); w < width {
		return s + strings.Repeat(" ", width-w)
	}
	return s
}

func truncate(s string, width int) string {
	runes := []rune(s)
	if len(runes) <= width {
		return s
	}
	return string(runes[:width-1]) + "…"
}
