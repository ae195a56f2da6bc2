package model

import "strings"

// Role is the viewer role carried by a credential.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAdmin
}

// TicketStatus is the lifecycle state of a ticket. StatusUnknown is a
// display-only bucket for values the server sends that the client does not
// recognize; it is never sent back.
type TicketStatus string

const (
	StatusOpen       TicketStatus = "open"
	StatusInProgress TicketStatus = "in_progress"
	StatusResolved   TicketStatus = "resolved"
	StatusUnknown    TicketStatus = "unknown"
)

// TicketStatuses lists the settable statuses in display order.
var TicketStatuses = []TicketStatus{StatusOpen, StatusInProgress, StatusResolved}

func (s TicketStatus) Valid() bool {
	switch s {
	case StatusOpen, StatusInProgress, StatusResolved:
		return true
	default:
		return false
	}
}

// Label renders the status the way the ticket tables show it.
func (s TicketStatus) Label() string {
	return strings.ReplaceAll(string(s), "_", " ")
}

// CanonicalStatus maps a raw wire value onto the enum.
func CanonicalStatus(raw string) TicketStatus {
	s := TicketStatus(strings.ToLower(strings.TrimSpace(raw)))
	if s.Valid() {
		return s
	}
	return StatusUnknown
}

type Priority string

const (
	PriorityLow     Priority = "low"
	PriorityMedium  Priority = "medium"
	PriorityHigh    Priority = "high"
	PriorityUnknown Priority = "unknown"
)

var Priorities = []Priority{PriorityLow, PriorityMedium, PriorityHigh}

func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return true
	default:
		return false
	}
}

func CanonicalPriority(raw string) Priority {
	p := Priority(strings.ToLower(strings.TrimSpace(raw)))
	if p.Valid() {
		return p
	}
	return PriorityUnknown
}

// Credential is the authenticated viewer. A zero Token means the viewer is
// not authenticated.
type Credential struct {
	Token       string
	Role        Role
	DisplayName string
}

func (c Credential) Authenticated() bool {
	return strings.TrimSpace(c.Token) != ""
}

func (c Credential) IsAdmin() bool {
	return c.Authenticated() && c.Role == RoleAdmin
}

// Ticket is the client's cached mirror of a server ticket.
type Ticket struct {
	ID          string
	Title       string
	Description string
	Priority    Priority
	Status      TicketStatus
	OwnerName   string
	OwnerID     string
}
