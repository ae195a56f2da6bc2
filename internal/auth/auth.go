// Package auth implements registration, login and logout against the
// helpdesk API and the local session.
package auth

import (
	"context"
	"log/slog"
	"strings"

	"github.com/g960059/helpdesk/internal/api"
	"github.com/g960059/helpdesk/internal/apperr"
	"github.com/g960059/helpdesk/internal/model"
)

const minPasswordLength = 6

type Client interface {
	Register(ctx context.Context, req api.RegisterRequest) error
	Login(ctx context.Context, req api.LoginRequest) (api.LoginResponse, error)
}

type Session interface {
	Set(ctx context.Context, cred model.Credential) error
	Clear(ctx context.Context) error
}

type Service struct {
	client  Client
	session Session
	logger  *slog.Logger
}

func NewService(client Client, session Session, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{client: client, session: session, logger: logger}
}

func (s *Service) Register(ctx context.Context, name, email, password string) error {
	name = strings.TrimSpace(name)
	email = strings.TrimSpace(email)
	switch {
	case name == "":
		return apperr.Validation("name is required")
	case email == "":
		return apperr.Validation("email is required")
	case !strings.Contains(email, "@"):
		return apperr.Validation("email %q is not valid", email)
	case len(password) < minPasswordLength:
		return apperr.Validation("password must be at least %d characters", minPasswordLength)
	}
	if err := s.client.Register(ctx, api.RegisterRequest{Name: name, Email: email, Password: password}); err != nil {
		return apperr.AsAuth(err)
	}
	s.logger.Info("account registered", "name", name)
	return nil
}

// Login exchanges email and password for a credential and stores it.
func (s *Service) Login(ctx context.Context, email, password string) (model.Credential, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return model.Credential{}, apperr.Validation("email and password are required")
	}
	resp, err := s.client.Login(ctx, api.LoginRequest{Email: email, Password: password})
	if err != nil {
		return model.Credential{}, apperr.AsAuth(err)
	}
	cred := model.Credential{
		Token:       strings.TrimSpace(resp.Token),
		Role:        model.Role(strings.ToLower(strings.TrimSpace(resp.Role))),
		DisplayName: resp.Name,
	}
	if cred.Token == "" {
		return model.Credential{}, &apperr.Error{Kind: apperr.KindAuth, Message: "login response carried no token"}
	}
	if !cred.Role.Valid() {
		return model.Credential{}, &apperr.Error{Kind: apperr.KindAuth, Message: "login response carried an unsupported role"}
	}
	if err := s.session.Set(ctx, cred); err != nil {
		return model.Credential{}, err
	}
	s.logger.Info("signed in", "role", cred.Role, "name", cred.DisplayName)
	return cred, nil
}

func (s *Service) Logout(ctx context.Context) error {
	if err := s.session.Clear(ctx); err != nil {
		return err
	}
	s.logger.Info("signed out")
	return nil
}
