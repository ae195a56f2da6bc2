// Package ticketsync keeps the viewer's ticket list in step with the
// server by polling. Each successful fetch replaces the cached list.
package ticketsync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/g960059/helpdesk/internal/model"
)

const DefaultInterval = 5 * time.Second

var ErrNotAuthenticated = errors.New("not authenticated")

// Lister is the part of the API client the synchronizer needs.
type Lister interface {
	ListTickets(ctx context.Context, search string) ([]model.Ticket, error)
	ListMyTickets(ctx context.Context) ([]model.Ticket, error)
}

type CredentialSource interface {
	Current(ctx context.Context) (model.Credential, bool, error)
}

type Filter string

const (
	FilterAll        Filter = "all"
	FilterOpen       Filter = Filter(model.StatusOpen)
	FilterInProgress Filter = Filter(model.StatusInProgress)
	FilterResolved   Filter = Filter(model.StatusResolved)
	FilterUnknown    Filter = Filter(model.StatusUnknown)
)

var Filters = []Filter{FilterAll, FilterOpen, FilterInProgress, FilterResolved, FilterUnknown}

func ParseFilter(raw string) (Filter, error) {
	value := strings.ToLower(strings.TrimSpace(raw))
	value = strings.ReplaceAll(value, " ", "_")
	if value == "" {
		return FilterAll, nil
	}
	for _, f := range Filters {
		if string(f) == value {
			return f, nil
		}
	}
	return "", fmt.Errorf("unknown status filter %q", raw)
}

type Stats struct {
	Total      int
	Open       int
	InProgress int
	Resolved   int
	Unknown    int
}

// Snapshot is the cache as of one install. FilterText is the search the
// installed list was fetched with.
type Snapshot struct {
	Version    uint64
	Tickets    []model.Ticket
	FilterText string
	UpdatedAt  time.Time
}

type Options struct {
	Interval  time.Duration
	Logger    *slog.Logger
	OnReplace func(Snapshot)
	Health    HealthPolicy
	Now       func() time.Time
}

type Synchronizer struct {
	client Lister
	creds  CredentialSource
	opts   Options
	logger *slog.Logger

	mu            sync.Mutex
	tickets       []model.Ticket
	version       uint64
	updatedAt     time.Time
	filterText    string
	installedText string
	views         map[Filter][]model.Ticket
	viewVersion   uint64
	health        HealthState
	lastErr       error

	inflight atomic.Int32

	autoMu sync.Mutex
	auto   *autoRefresh
}

func New(client Lister, creds CredentialSource, opts Options) *Synchronizer {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Health == (HealthPolicy{}) {
		opts.Health = DefaultHealthPolicy()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Synchronizer{
		client: client,
		creds:  creds,
		opts:   opts,
		logger: logger,
		health: HealthState{Current: HealthOK},
	}
}

// Refresh fetches the viewer's tickets and replaces the cache. filterText
// is the admin server-side search; it is remembered for later timer and
// mutation driven refreshes. Users always fetch their own tickets.
func (s *Synchronizer) Refresh(ctx context.Context, filterText string) error {
	s.mu.Lock()
	s.filterText = filterText
	s.mu.Unlock()
	return s.refresh(ctx)
}

// Reload repeats the last refresh with the remembered filter text.
func (s *Synchronizer) Reload(ctx context.Context) error {
	return s.refresh(ctx)
}

func (s *Synchronizer) refresh(ctx context.Context) error {
	cred, ok, err := s.creds.Current(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotAuthenticated
	}
	return s.refreshAs(ctx, cred)
}

func (s *Synchronizer) refreshAs(ctx context.Context, cred model.Credential) error {
	s.inflight.Add(1)
	defer s.inflight.Add(-1)

	s.mu.Lock()
	filterText := s.filterText
	s.mu.Unlock()

	var (
		tickets []model.Ticket
		err     error
	)
	if cred.Role == model.RoleAdmin {
		tickets, err = s.client.ListTickets(ctx, filterText)
	} else {
		tickets, err = s.client.ListMyTickets(ctx)
	}
	if ctx.Err() != nil {
		// the caller is gone; whatever arrived is stale
		return ctx.Err()
	}
	if err != nil {
		s.recordOutcome(err)
		return err
	}
	if !s.install(ctx, tickets, filterText) {
		return ctx.Err()
	}
	return nil
}

func (s *Synchronizer) recordOutcome(err error) {
	s.mu.Lock()
	prev := s.health.Current
	s.health = NextHealth(s.opts.Health, s.health, err == nil, s.opts.Now())
	s.lastErr = err
	next := s.health.Current
	s.mu.Unlock()
	if prev != next {
		s.logger.Info("ticket sync health changed", "from", prev, "to", next)
	}
	if err != nil {
		s.logger.Warn("ticket refresh failed", "err", err)
	}
}

// install swaps the cache unless ctx was cancelled first. The check and the
// swap share one critical section, so a cancel followed by StopAutoRefresh
// leaves nothing to land later.
func (s *Synchronizer) install(ctx context.Context, tickets []model.Ticket, filterText string) bool {
	cached := make([]model.Ticket, len(tickets))
	copy(cached, tickets)

	s.mu.Lock()
	if ctx.Err() != nil {
		s.mu.Unlock()
		return false
	}
	s.tickets = cached
	s.version++
	s.updatedAt = s.opts.Now()
	s.installedText = filterText
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.recordOutcome(nil)
	s.logger.Debug("ticket cache replaced", "version", snap.Version, "count", len(snap.Tickets))
	if s.opts.OnReplace != nil {
		s.opts.OnReplace(snap)
	}
	return true
}

func (s *Synchronizer) snapshotLocked() Snapshot {
	return Snapshot{
		Version:    s.version,
		Tickets:    s.tickets,
		FilterText: s.installedText,
		UpdatedAt:  s.updatedAt,
	}
}

// Snapshot returns the current cache. The ticket slice is shared and must
// not be modified.
func (s *Synchronizer) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Synchronizer) Tickets() []model.Ticket {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Ticket, len(s.tickets))
	copy(out, s.tickets)
	return out
}

// View returns the cached tickets matching filter. Results are computed
// once per cache version; the returned slice must not be modified.
func (s *Synchronizer) View(filter Filter) []model.Ticket {
	if filter == "" {
		filter = FilterAll
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.views == nil || s.viewVersion != s.version {
		s.views = make(map[Filter][]model.Ticket, len(Filters))
		s.viewVersion = s.version
	}
	if view, ok := s.views[filter]; ok {
		return view
	}
	var view []model.Ticket
	if filter == FilterAll {
		view = s.tickets
	} else {
		view = make([]model.Ticket, 0, len(s.tickets))
		for _, ticket := range s.tickets {
			if Filter(ticket.Status) == filter {
				view = append(view, ticket)
			}
		}
	}
	s.views[filter] = view
	return view
}

func (s *Synchronizer) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	stats := Stats{Total: len(s.tickets)}
	for _, ticket := range s.tickets {
		switch ticket.Status {
		case model.StatusOpen:
			stats.Open++
		case model.StatusInProgress:
			stats.InProgress++
		case model.StatusResolved:
			stats.Resolved++
		default:
			stats.Unknown++
		}
	}
	return stats
}

// Loading reports whether any refresh is in flight.
func (s *Synchronizer) Loading() bool {
	return s.inflight.Load() > 0
}

func (s *Synchronizer) Health() HealthState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.health
}

// LastError is the error of the most recent refresh, nil after a success.
func (s *Synchronizer) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

func (s *Synchronizer) FilterText() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.filterText
}
