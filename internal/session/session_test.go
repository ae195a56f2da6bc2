package session

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/g960059/helpdesk/internal/apperr"
	"github.com/g960059/helpdesk/internal/db"
	"github.com/g960059/helpdesk/internal/model"
)

func openBackend(t *testing.T, path string) *db.Store {
	t.Helper()
	ctx := context.Background()
	store, err := db.Open(ctx, path)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	if err := db.ApplyMigrations(ctx, store.DB()); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	return store
}

func TestSetCurrentClear(t *testing.T) {
	ctx := context.Background()
	s := New(openBackend(t, filepath.Join(t.TempDir(), "state.db")))

	if _, ok, err := s.Current(ctx); err != nil || ok {
		t.Fatalf("expected absent credential, got ok=%v err=%v", ok, err)
	}

	want := model.Credential{Token: "t1", Role: model.RoleUser, DisplayName: "A"}
	if err := s.Set(ctx, want); err != nil {
		t.Fatalf("set: %v", err)
	}
	got, ok, err := s.Current(ctx)
	if err != nil || !ok {
		t.Fatalf("expected credential, got ok=%v err=%v", ok, err)
	}
	if got != want {
		t.Fatalf("expected %+v, got %+v", want, got)
	}

	if err := s.Clear(ctx); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if err := s.Clear(ctx); err != nil {
		t.Fatalf("second clear should be a no-op: %v", err)
	}
	if _, ok, err := s.Current(ctx); err != nil || ok {
		t.Fatalf("expected absent credential after clear, got ok=%v err=%v", ok, err)
	}
}

func TestSetRejectsIncompleteCredential(t *testing.T) {
	ctx := context.Background()
	s := New(openBackend(t, filepath.Join(t.TempDir(), "state.db")))

	if err := s.Set(ctx, model.Credential{Token: " ", Role: model.RoleUser}); !apperr.IsKind(err, apperr.KindValidation) {
		t.Fatalf("expected validation error for blank token, got %v", err)
	}
	if err := s.Set(ctx, model.Credential{Token: "t1", Role: "owner"}); !apperr.IsKind(err, apperr.KindValidation) {
		t.Fatalf("expected validation error for unknown role, got %v", err)
	}
	if _, ok, _ := s.Current(ctx); ok {
		t.Fatalf("rejected credential must not be stored")
	}
}

func TestCredentialSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state.db")
	first := openBackend(t, path)
	if err := New(first).Set(ctx, model.Credential{Token: "t9", Role: model.RoleAdmin, DisplayName: "Root"}); err != nil {
		t.Fatalf("set: %v", err)
	}
	_ = first.Close()

	reopened := New(openBackend(t, path))
	cred, ok, err := reopened.Current(ctx)
	if err != nil || !ok {
		t.Fatalf("expected persisted credential, got ok=%v err=%v", ok, err)
	}
	if cred.Token != "t9" || cred.Role != model.RoleAdmin || cred.DisplayName != "Root" {
		t.Fatalf("unexpected credential after reopen: %+v", cred)
	}
}

func TestSetRollsBackOnInsertFailure(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error: %v", err)
	}
	defer sqlDB.Close() //nolint:errcheck

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM session_values").WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectExec("INSERT INTO session_values").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO session_values").WillReturnError(errors.New("disk I/O error"))
	mock.ExpectRollback()

	s := New(db.NewWithDB(sqlDB))
	err = s.Set(context.Background(), model.Credential{Token: "t1", Role: model.RoleUser, DisplayName: "A"})
	if err == nil {
		t.Fatalf("expected set to fail")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestCurrentPropagatesReadFailure(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error: %v", err)
	}
	defer sqlDB.Close() //nolint:errcheck

	mock.ExpectQuery("SELECT key, value FROM session_values").WillReturnError(errors.New("database is locked"))

	s := New(db.NewWithDB(sqlDB))
	if _, ok, err := s.Current(context.Background()); err == nil || ok {
		t.Fatalf("expected read failure, got ok=%v err=%v", ok, err)
	}
}

func TestWatchReportsChangesFromAnotherHandle(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")
	watched := New(openBackend(t, path))
	other := New(openBackend(t, path))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	changes := make(chan bool, 4)
	done := make(chan error, 1)
	go func() {
		done <- watched.Watch(ctx, func(_ model.Credential, ok bool) {
			changes <- ok
		})
	}()
	// let the watcher register before writing
	time.Sleep(100 * time.Millisecond)

	if err := other.Set(ctx, model.Credential{Token: "t2", Role: model.RoleUser, DisplayName: "B"}); err != nil {
		t.Fatalf("set from other handle: %v", err)
	}
	select {
	case ok := <-changes:
		if !ok {
			t.Fatalf("expected login to be observed as present credential")
		}
	case <-ctx.Done():
		t.Fatalf("timed out waiting for login notification")
	}

	if err := other.Clear(ctx); err != nil {
		t.Fatalf("clear from other handle: %v", err)
	}
	select {
	case ok := <-changes:
		if ok {
			t.Fatalf("expected logout to be observed as absent credential")
		}
	case <-ctx.Done():
		t.Fatalf("timed out waiting for logout notification")
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("watch returned error: %v", err)
	}
}

func TestWatchWithoutPath(t *testing.T) {
	sqlDB, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error: %v", err)
	}
	defer sqlDB.Close() //nolint:errcheck
	s := New(db.NewWithDB(sqlDB))
	if err := s.Watch(context.Background(), nil); !errors.Is(err, ErrNotWatchable) {
		t.Fatalf("expected ErrNotWatchable, got %v", err)
	}
}
