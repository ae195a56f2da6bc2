// Package session owns the viewer's credential. All reads go to the
// persistence layer, so a login or logout made by another process is seen
// on the next call.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/g960059/helpdesk/internal/apperr"
	"github.com/g960059/helpdesk/internal/db"
	"github.com/g960059/helpdesk/internal/model"
)

// Backend persists the three session keys.
type Backend interface {
	SessionValues(ctx context.Context) (map[string]string, error)
	ReplaceSessionValues(ctx context.Context, values map[string]string) error
	DeleteSessionValues(ctx context.Context) error
}

type Store struct {
	backend Backend
	path    string
	logger  *slog.Logger
}

type Option func(*Store)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithWatchPath sets the database file Watch observes.
func WithWatchPath(path string) Option {
	return func(s *Store) {
		s.path = path
	}
}

func New(backend Backend, opts ...Option) *Store {
	s := &Store{backend: backend, logger: slog.Default()}
	if pathed, ok := backend.(interface{ Path() string }); ok {
		s.path = pathed.Path()
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Set stores the credential. Token, role and name are written in one
// transaction.
func (s *Store) Set(ctx context.Context, cred model.Credential) error {
	token := strings.TrimSpace(cred.Token)
	if token == "" {
		return apperr.Validation("credential token is required")
	}
	if !cred.Role.Valid() {
		return apperr.Validation("unsupported role %q", cred.Role)
	}
	err := s.backend.ReplaceSessionValues(ctx, map[string]string{
		db.KeyToken: token,
		db.KeyRole:  string(cred.Role),
		db.KeyName:  cred.DisplayName,
	})
	if err != nil {
		return fmt.Errorf("store credential: %w", err)
	}
	s.logger.Debug("session credential stored", "role", cred.Role, "name", cred.DisplayName)
	return nil
}

// Clear removes the credential. Clearing an empty session is not an error.
func (s *Store) Clear(ctx context.Context) error {
	if err := s.backend.DeleteSessionValues(ctx); err != nil {
		return fmt.Errorf("clear credential: %w", err)
	}
	s.logger.Debug("session credential cleared")
	return nil
}

// Current returns the stored credential, or ok=false when no token is
// stored.
func (s *Store) Current(ctx context.Context) (model.Credential, bool, error) {
	values, err := s.backend.SessionValues(ctx)
	if err != nil {
		return model.Credential{}, false, fmt.Errorf("load credential: %w", err)
	}
	token := strings.TrimSpace(values[db.KeyToken])
	if token == "" {
		return model.Credential{}, false, nil
	}
	return model.Credential{
		Token:       token,
		Role:        model.Role(values[db.KeyRole]),
		DisplayName: values[db.KeyName],
	}, true, nil
}
