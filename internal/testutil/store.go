package testutil

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/g960059/helpdesk/internal/db"
	"github.com/g960059/helpdesk/internal/model"
	"github.com/g960059/helpdesk/internal/session"
)

func NewStore(t *testing.T) (*db.Store, context.Context) {
	t.Helper()
	ctx := context.Background()
	store, err := db.Open(ctx, filepath.Join(t.TempDir(), "helpdesk-test.db"))
	if err != nil {
		t.Fatalf("open test store: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	if err := db.ApplyMigrations(ctx, store.DB()); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	return store, ctx
}

func NewSession(t *testing.T) (*session.Store, context.Context) {
	t.Helper()
	store, ctx := NewStore(t)
	return session.New(store), ctx
}

// SignIn stores a credential directly, bypassing the login endpoint.
func SignIn(t *testing.T, sess *session.Store, token string, role model.Role, name string) model.Credential {
	t.Helper()
	cred := model.Credential{Token: token, Role: role, DisplayName: name}
	if err := sess.Set(context.Background(), cred); err != nil {
		t.Fatalf("seed credential: %v", err)
	}
	return cred
}
