// Package lifecycle performs the role-gated ticket mutations and refreshes
// the synchronizer after each one.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/g960059/helpdesk/internal/api"
	"github.com/g960059/helpdesk/internal/apperr"
	"github.com/g960059/helpdesk/internal/model"
)

var ErrCancelled = errors.New("cancelled")

type Client interface {
	UpdateTicketStatus(ctx context.Context, ticketID string, status model.TicketStatus) (string, error)
	DeleteTicket(ctx context.Context, ticketID string) (string, error)
	CreateTicket(ctx context.Context, req api.CreateTicketRequest) (model.Ticket, bool, error)
}

type CredentialSource interface {
	Current(ctx context.Context) (model.Credential, bool, error)
}

// Refresher re-fetches the ticket list with its remembered search.
type Refresher interface {
	Reload(ctx context.Context) error
}

// Confirmer asks the viewer before a destructive action.
type Confirmer interface {
	Confirm(ctx context.Context, prompt string) (bool, error)
}

type ConfirmFunc func(ctx context.Context, prompt string) (bool, error)

func (f ConfirmFunc) Confirm(ctx context.Context, prompt string) (bool, error) {
	return f(ctx, prompt)
}

// Result of a successful mutation. RefreshErr is the failure of the
// follow-up refresh, if any; it does not undo the mutation.
type Result struct {
	Message    string
	Ticket     *model.Ticket
	RefreshErr error
}

type Controller struct {
	client    Client
	creds     CredentialSource
	refresher Refresher
	logger    *slog.Logger
}

type Option func(*Controller)

func WithLogger(logger *slog.Logger) Option {
	return func(c *Controller) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func New(client Client, creds CredentialSource, refresher Refresher, opts ...Option) *Controller {
	c := &Controller{client: client, creds: creds, refresher: refresher, logger: slog.Default()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Controller) SetStatus(ctx context.Context, ticketID string, status model.TicketStatus) (Result, error) {
	if _, err := c.requireRole(ctx, "update ticket status", model.RoleAdmin); err != nil {
		return Result{}, err
	}
	if !status.Valid() {
		return Result{}, apperr.Validation("invalid status %q", status)
	}
	message, err := c.client.UpdateTicketStatus(ctx, ticketID, status)
	if err != nil {
		return Result{}, err
	}
	c.logger.Info("ticket status updated", "ticket_id", ticketID, "status", status)
	return c.after(ctx, fallback(message, "Status updated"), nil), nil
}

// DeleteTicket removes a ticket after confirm agrees. A declined prompt
// returns ErrCancelled and nothing is sent.
func (c *Controller) DeleteTicket(ctx context.Context, ticketID string, confirm Confirmer) (Result, error) {
	if _, err := c.requireRole(ctx, "delete tickets", model.RoleAdmin); err != nil {
		return Result{}, err
	}
	if strings.TrimSpace(ticketID) == "" {
		return Result{}, apperr.Validation("ticket id is required")
	}
	if confirm != nil {
		ok, err := confirm.Confirm(ctx, fmt.Sprintf("Delete ticket %s?", ticketID))
		if err != nil {
			return Result{}, err
		}
		if !ok {
			return Result{}, ErrCancelled
		}
	}
	message, err := c.client.DeleteTicket(ctx, ticketID)
	if err != nil {
		return Result{}, err
	}
	c.logger.Info("ticket deleted", "ticket_id", ticketID)
	return c.after(ctx, fallback(message, "Ticket deleted"), nil), nil
}

// CreateTicket submits form and resets it on success.
func (c *Controller) CreateTicket(ctx context.Context, form *TicketForm) (Result, error) {
	if _, err := c.requireRole(ctx, "create tickets", model.RoleUser); err != nil {
		return Result{}, err
	}
	req, err := form.request()
	if err != nil {
		return Result{}, err
	}
	ticket, echoed, err := c.client.CreateTicket(ctx, req)
	if err != nil {
		return Result{}, err
	}
	form.Reset()
	c.logger.Info("ticket created", "priority", req.Priority)
	var created *model.Ticket
	if echoed {
		created = &ticket
	}
	return c.after(ctx, "Ticket created", created), nil
}

// requireRole is the single role check for every mutation.
func (c *Controller) requireRole(ctx context.Context, action string, role model.Role) (model.Credential, error) {
	cred, ok, err := c.creds.Current(ctx)
	if err != nil {
		return model.Credential{}, err
	}
	if !ok {
		return model.Credential{}, apperr.Authorization("sign in to %s", action)
	}
	if cred.Role != role {
		return model.Credential{}, apperr.Authorization("only %s accounts may %s", role, action)
	}
	return cred, nil
}

func (c *Controller) after(ctx context.Context, message string, ticket *model.Ticket) Result {
	result := Result{Message: message, Ticket: ticket}
	if c.refresher == nil {
		return result
	}
	if err := c.refresher.Reload(ctx); err != nil {
		c.logger.Warn("refresh after mutation failed", "err", err)
		result.RefreshErr = err
	}
	return result
}

func fallback(message, def string) string {
	if strings.TrimSpace(message) == "" {
		return def
	}
	return message
}
