// Package routegate decides which dashboard view the current viewer may
// enter.
package routegate

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/g960059/helpdesk/internal/model"
)

const (
	ViewEntry   = "/"
	ViewTickets = "/tickets"
	ViewAdmin   = "/admin"
)

var ErrUnknownView = errors.New("unknown view")

type CredentialSource interface {
	Current(ctx context.Context) (model.Credential, bool, error)
}

type View struct {
	Path string
	// RequiredRole is empty for views anyone may enter.
	RequiredRole model.Role
}

type Decision struct {
	View     View
	Admitted bool
	Redirect string
}

type Gate struct {
	creds CredentialSource
	views map[string]View
}

func New(creds CredentialSource) *Gate {
	return &Gate{
		creds: creds,
		views: map[string]View{
			ViewEntry:   {Path: ViewEntry},
			ViewTickets: {Path: ViewTickets, RequiredRole: model.RoleUser},
			ViewAdmin:   {Path: ViewAdmin, RequiredRole: model.RoleAdmin},
		},
	}
}

// Admit reads the session on every call; nothing is cached.
func (g *Gate) Admit(ctx context.Context, path string) (Decision, error) {
	view, ok := g.views[path]
	if !ok {
		return Decision{}, fmt.Errorf("%w: %s", ErrUnknownView, path)
	}
	if view.RequiredRole == "" {
		return Decision{View: view, Admitted: true}, nil
	}
	cred, present, err := g.creds.Current(ctx)
	if err != nil {
		return Decision{}, err
	}
	if present && cred.Role == view.RequiredRole {
		return Decision{View: view, Admitted: true}, nil
	}
	return Decision{View: view, Redirect: ViewEntry}, nil
}

func (g *Gate) Views() []string {
	out := make([]string, 0, len(g.views))
	for path := range g.views {
		out = append(out, path)
	}
	sort.Strings(out)
	return out
}

// Landing is where a viewer goes after signing in.
func Landing(role model.Role) string {
	switch role {
	case model.RoleAdmin:
		return ViewAdmin
	case model.RoleUser:
		return ViewTickets
	default:
		return ViewEntry
	}
}
