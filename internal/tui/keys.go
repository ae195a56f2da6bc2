package tui

import "github.com/charmbracelet/bubbles/key"

type KeyMap struct {
	Up   key.Binding
	Down key.Binding

	FilterAll        key.Binding
	FilterOpen       key.Binding
	FilterInProgress key.Binding
	FilterResolved   key.Binding

	Refresh key.Binding

	// admin
	SetOpen       key.Binding
	SetInProgress key.Binding
	SetResolved   key.Binding
	Delete        key.Binding
	Search        key.Binding

	// user
	NewTicket     key.Binding
	NextField     key.Binding
	CyclePriority key.Binding

	Confirm key.Binding
	Decline key.Binding
	Submit  key.Binding
	Cancel  key.Binding
	Quit    key.Binding
}

var DefaultKeyMap = KeyMap{
	Up:               key.NewBinding(key.WithKeys("k", "up"), key.WithHelp("k/↑", "up")),
	Down:             key.NewBinding(key.WithKeys("j", "down"), key.WithHelp("j/↓", "down")),
	FilterAll:        key.NewBinding(key.WithKeys("1"), key.WithHelp("1", "all")),
	FilterOpen:       key.NewBinding(key.WithKeys("2"), key.WithHelp("2", "open")),
	FilterInProgress: key.NewBinding(key.WithKeys("3"), key.WithHelp("3", "in progress")),
	FilterResolved:   key.NewBinding(key.WithKeys("4"), key.WithHelp("4", "resolved")),
	Refresh:          key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "refresh")),
	SetOpen:          key.NewBinding(key.WithKeys("o"), key.WithHelp("o", "open")),
	SetInProgress:    key.NewBinding(key.WithKeys("p"), key.WithHelp("p", "in progress")),
	SetResolved:      key.NewBinding(key.WithKeys("v"), key.WithHelp("v", "resolve")),
	Delete:           key.NewBinding(key.WithKeys("x"), key.WithHelp("x", "delete")),
	Search:           key.NewBinding(key.WithKeys("/"), key.WithHelp("/", "search")),
	NewTicket:        key.NewBinding(key.WithKeys("n"), key.WithHelp("n", "new ticket")),
	NextField:        key.NewBinding(key.WithKeys("tab"), key.WithHelp("tab", "next field")),
	CyclePriority:    key.NewBinding(key.WithKeys("ctrl+p"), key.WithHelp("C-p", "priority")),
	Confirm:          key.NewBinding(key.WithKeys("y"), key.WithHelp("y", "yes")),
	Decline:          key.NewBinding(key.WithKeys("n", "esc"), key.WithHelp("n", "no")),
	Submit:           key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "submit")),
	Cancel:           key.NewBinding(key.WithKeys("esc"), key.WithHelp("esc", "cancel")),
	Quit:             key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
}

func (k KeyMap) help(admin bool) []key.Binding {
	common := []key.Binding{k.Up, k.Down, k.FilterAll, k.FilterOpen, k.FilterInProgress, k.FilterResolved, k.Refresh}
	if admin {
		common = append(common, k.SetOpen, k.SetInProgress, k.SetResolved, k.Delete, k.Search)
	} else {
		common = append(common, k.NewTicket)
	}
	return append(common, k.Quit)
}
