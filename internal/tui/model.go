// Package tui is the interactive dashboard: the admin triage view and the
// user ticket view, both backed by an auto-refreshing synchronizer.
package tui

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/g960059/helpdesk/internal/apperr"
	"github.com/g960059/helpdesk/internal/lifecycle"
	"github.com/g960059/helpdesk/internal/model"
	"github.com/g960059/helpdesk/internal/routegate"
	"github.com/g960059/helpdesk/internal/ticketsync"
)

// Watcher reports credential changes until ctx is done.
type Watcher interface {
	Watch(ctx context.Context, onChange func(model.Credential, bool)) error
}

type Deps struct {
	Sync       *ticketsync.Synchronizer
	Lifecycle  *lifecycle.Controller
	Watcher    Watcher
	Bus        *Bus
	Credential model.Credential
	Interval   time.Duration
	Renderer   *lipgloss.Renderer
}

type (
	snapshotMsg   ticketsync.Snapshot
	refreshedMsg  struct{ err error }
	mountedMsg    struct{ err error }
	watchErrMsg   struct{ err error }
	credentialMsg struct {
		cred model.Credential
		ok   bool
	}
	mutatedMsg struct {
		action string
		result lifecycle.Result
		err    error
	}
)

type mode int

const (
	modeBrowse mode = iota
	modeConfirmDelete
	modeSearch
	modeCompose
)

// mount owns everything the view starts: the auto-refresh loop, the session
// watcher, and every refresh or mutation command. All of them run under ctx,
// so release also ends work that starts or lands late.
type mount struct {
	ctx    context.Context
	cancel context.CancelFunc
	sync   *ticketsync.Synchronizer

	mu       sync.Mutex
	released bool
}

func newMount(parent context.Context, s *ticketsync.Synchronizer) *mount {
	ctx, cancel := context.WithCancel(parent)
	return &mount{ctx: ctx, cancel: cancel, sync: s}
}

func (m *mount) begin() (context.Context, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.released {
		return nil, false
	}
	return m.ctx, true
}

// release cancels the mount context, then stops the loop. Once it returns
// no response started under the mount reaches the ticket cache.
func (m *mount) release() {
	m.mu.Lock()
	if m.released {
		m.mu.Unlock()
		return
	}
	m.released = true
	m.mu.Unlock()
	m.cancel()
	m.sync.StopAutoRefresh()
}

type Model struct {
	deps   Deps
	view   string
	admin  bool
	keys   KeyMap
	styles styles
	mount  *mount

	mode       mode
	filter     ticketsync.Filter
	cursor     int
	pendingID  string
	status     string
	statusErr  bool
	search     textinput.Model
	fields     []textinput.Model
	focus      int
	priority   model.Priority
	lastUpdate time.Time
	width      int
	quitting   bool
}

func New(ctx context.Context, deps Deps, view string) Model {
	renderer := deps.Renderer
	if renderer == nil {
		renderer = lipgloss.DefaultRenderer()
	}
	if deps.Bus == nil {
		deps.Bus = NewBus()
	}
	search := textinput.New()
	search.Placeholder = "search title, status or owner"
	search.Prompt = "/ "
	title := textinput.New()
	title.Placeholder = "title"
	title.Prompt = "Title: "
	description := textinput.New()
	description.Placeholder = "description"
	description.Prompt = "Description: "
	return Model{
		deps:     deps,
		view:     view,
		admin:    view == routegate.ViewAdmin,
		keys:     DefaultKeyMap,
		styles:   newStyles(renderer),
		mount:    newMount(ctx, deps.Sync),
		filter:   ticketsync.FilterAll,
		search:   search,
		fields:   []textinput.Model{title, description},
		priority: model.PriorityMedium,
	}
}

// Init mounts the view: auto-refresh, the session watcher and a first load.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.mountCmd(), m.refreshCmd(false), m.deps.Bus.wait())
}

func (m Model) mountCmd() tea.Cmd {
	mnt := m.mount
	deps := m.deps
	return func() tea.Msg {
		ctx, ok := mnt.begin()
		if !ok {
			return nil
		}
		if err := deps.Sync.StartAutoRefresh(ctx, deps.Interval); err != nil {
			return mountedMsg{err: err}
		}
		if deps.Watcher != nil {
			go func() {
				err := deps.Watcher.Watch(ctx, func(cred model.Credential, ok bool) {
					deps.Bus.deliver(ctx, credentialMsg{cred: cred, ok: ok})
				})
				if err != nil && !errors.Is(err, context.Canceled) {
					deps.Bus.deliver(ctx, watchErrMsg{err: err})
				}
			}()
		}
		return mountedMsg{}
	}
}

// Unmount stops auto-refresh and the watcher. Safe to call more than once.
func (m Model) Unmount() {
	m.mount.release()
}

func (m Model) refreshCmd(withSearch bool) tea.Cmd {
	s := m.deps.Sync
	ctx := m.mount.ctx
	text := strings.TrimSpace(m.search.Value())
	return func() tea.Msg {
		if withSearch {
			return refreshedMsg{err: s.Refresh(ctx, text)}
		}
		return refreshedMsg{err: s.Reload(ctx)}
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil
	case snapshotMsg:
		m.lastUpdate = msg.UpdatedAt
		m.clampCursor()
		return m, m.deps.Bus.wait()
	case credentialMsg:
		if !msg.ok || msg.cred.Token != m.deps.Credential.Token {
			m.setError("session changed; view closed")
			return m.quit()
		}
		return m, m.deps.Bus.wait()
	case mountedMsg:
		if msg.err != nil {
			m.setError(m.describe(msg.err, "Failed to start auto refresh"))
		}
		return m, nil
	case logMsg:
		// an error already on the status line outranks a warning
		if !m.statusErr || msg.level >= slog.LevelError {
			m.setError(msg.summary)
		}
		return m, m.deps.Bus.wait()
	case watchErrMsg:
		m.setError(m.describe(msg.err, "Session watch stopped"))
		return m, m.deps.Bus.wait()
	case refreshedMsg:
		if msg.err != nil && !errors.Is(msg.err, context.Canceled) {
			m.setError(m.describe(msg.err, "Failed to load tickets"))
		}
		m.clampCursor()
		return m, nil
	case mutatedMsg:
		return m.afterMutation(msg)
	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if msg.String() == "ctrl+c" {
		return m.quit()
	}
	switch m.mode {
	case modeConfirmDelete:
		return m.handleConfirm(msg)
	case modeSearch:
		return m.handleSearch(msg)
	case modeCompose:
		return m.handleCompose(msg)
	}

	switch {
	case key.Matches(msg, m.keys.Quit):
		return m.quit()
	case key.Matches(msg, m.keys.Up):
		if m.cursor > 0 {
			m.cursor--
		}
	case key.Matches(msg, m.keys.Down):
		if m.cursor < len(m.visible())-1 {
			m.cursor++
		}
	case key.Matches(msg, m.keys.FilterAll):
		m.setFilter(ticketsync.FilterAll)
	case key.Matches(msg, m.keys.FilterOpen):
		m.setFilter(ticketsync.FilterOpen)
	case key.Matches(msg, m.keys.FilterInProgress):
		m.setFilter(ticketsync.FilterInProgress)
	case key.Matches(msg, m.keys.FilterResolved):
		m.setFilter(ticketsync.FilterResolved)
	case key.Matches(msg, m.keys.Refresh):
		return m, m.refreshCmd(false)
	case m.admin && key.Matches(msg, m.keys.SetOpen):
		return m, m.statusCmd(model.StatusOpen)
	case m.admin && key.Matches(msg, m.keys.SetInProgress):
		return m, m.statusCmd(model.StatusInProgress)
	case m.admin && key.Matches(msg, m.keys.SetResolved):
		return m, m.statusCmd(model.StatusResolved)
	case m.admin && key.Matches(msg, m.keys.Delete):
		if ticket, ok := m.selected(); ok {
			m.pendingID = ticket.ID
			m.mode = modeConfirmDelete
		}
	case m.admin && key.Matches(msg, m.keys.Search):
		m.mode = modeSearch
		return m, m.search.Focus()
	case !m.admin && key.Matches(msg, m.keys.NewTicket):
		m.mode = modeCompose
		m.focus = 0
		return m, m.fields[0].Focus()
	}
	return m, nil
}

func (m Model) handleConfirm(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Confirm):
		id := m.pendingID
		m.mode = modeBrowse
		m.pendingID = ""
		return m, m.deleteCmd(id)
	case key.Matches(msg, m.keys.Decline):
		m.mode = modeBrowse
		m.pendingID = ""
		m.setInfo("Delete cancelled")
	}
	return m, nil
}

func (m Model) handleSearch(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Submit):
		m.mode = modeBrowse
		m.search.Blur()
		m.cursor = 0
		return m, m.refreshCmd(true)
	case key.Matches(msg, m.keys.Cancel):
		m.mode = modeBrowse
		m.search.Blur()
		m.search.SetValue(m.deps.Sync.FilterText())
		return m, nil
	}
	var cmd tea.Cmd
	m.search, cmd = m.search.Update(msg)
	return m, cmd
}

func (m Model) handleCompose(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Cancel):
		m.mode = modeBrowse
		m.blurFields()
		return m, nil
	case key.Matches(msg, m.keys.NextField):
		m.fields[m.focus].Blur()
		m.focus = (m.focus + 1) % len(m.fields)
		return m, m.fields[m.focus].Focus()
	case key.Matches(msg, m.keys.CyclePriority):
		form := lifecycle.TicketForm{Priority: m.priority}
		form.CyclePriority()
		m.priority = form.Priority
		return m, nil
	case key.Matches(msg, m.keys.Submit):
		form := &lifecycle.TicketForm{
			Title:       m.fields[0].Value(),
			Description: m.fields[1].Value(),
			Priority:    m.priority,
		}
		return m, m.createCmd(form)
	}
	var cmd tea.Cmd
	m.fields[m.focus], cmd = m.fields[m.focus].Update(msg)
	return m, cmd
}

func (m Model) statusCmd(status model.TicketStatus) tea.Cmd {
	ticket, ok := m.selected()
	if !ok {
		return nil
	}
	ctrl := m.deps.Lifecycle
	ctx := m.mount.ctx
	return func() tea.Msg {
		result, err := ctrl.SetStatus(ctx, ticket.ID, status)
		return mutatedMsg{action: "status", result: result, err: err}
	}
}

func (m Model) deleteCmd(id string) tea.Cmd {
	ctrl := m.deps.Lifecycle
	ctx := m.mount.ctx
	confirmed := lifecycle.ConfirmFunc(func(context.Context, string) (bool, error) { return true, nil })
	return func() tea.Msg {
		result, err := ctrl.DeleteTicket(ctx, id, confirmed)
		return mutatedMsg{action: "delete", result: result, err: err}
	}
}

func (m Model) createCmd(form *lifecycle.TicketForm) tea.Cmd {
	ctrl := m.deps.Lifecycle
	ctx := m.mount.ctx
	return func() tea.Msg {
		result, err := ctrl.CreateTicket(ctx, form)
		return mutatedMsg{action: "create", result: result, err: err}
	}
}

func (m Model) afterMutation(msg mutatedMsg) (tea.Model, tea.Cmd) {
	if msg.err != nil {
		m.setError(m.describe(msg.err, mutationFallback(msg.action)))
		return m, nil
	}
	if msg.action == "create" {
		m.mode = modeBrowse
		m.blurFields()
		for i := range m.fields {
			m.fields[i].SetValue("")
		}
		m.priority = model.PriorityMedium
	}
	m.setInfo(msg.result.Message)
	if msg.result.RefreshErr != nil {
		m.setError(msg.result.Message + "; " + m.describe(msg.result.RefreshErr, "refresh failed"))
	}
	m.clampCursor()
	return m, nil
}

func mutationFallback(action string) string {
	switch action {
	case "status":
		return "Failed to update status"
	case "delete":
		return "Failed to delete ticket"
	default:
		return "Failed to create ticket"
	}
}

func (m Model) quit() (tea.Model, tea.Cmd) {
	m.quitting = true
	m.Unmount()
	return m, tea.Quit
}

func (m *Model) blurFields() {
	for i := range m.fields {
		m.fields[i].Blur()
	}
}

func (m *Model) setFilter(filter ticketsync.Filter) {
	m.filter = filter
	m.cursor = 0
}

func (m *Model) setError(text string) {
	m.status = text
	m.statusErr = true
}

func (m *Model) setInfo(text string) {
	m.status = text
	m.statusErr = false
}

func (m *Model) clampCursor() {
	n := len(m.visible())
	if m.cursor >= n {
		m.cursor = n - 1
	}
	if m.cursor < 0 {
		m.cursor = 0
	}
}

func (m Model) visible() []model.Ticket {
	return m.deps.Sync.View(m.filter)
}

func (m Model) selected() (model.Ticket, bool) {
	tickets := m.visible()
	if m.cursor < 0 || m.cursor >= len(tickets) {
		return model.Ticket{}, false
	}
	return tickets[m.cursor], true
}

func (m Model) describe(err error, fallback string) string {
	switch {
	case errors.Is(err, ticketsync.ErrNotAuthenticated):
		return "not signed in"
	case apperr.IsKind(err, apperr.KindNetwork):
		return fallback + ": server unreachable"
	}
	if _, ok := apperr.KindOf(err); ok {
		return apperr.UserMessage(err, fallback)
	}
	return fmt.Sprintf("%s: %v", fallback, err)
}
