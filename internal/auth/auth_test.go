package auth_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/g960059/helpdesk/internal/appclient"
	"github.com/g960059/helpdesk/internal/apperr"
	"github.com/g960059/helpdesk/internal/auth"
	"github.com/g960059/helpdesk/internal/model"
	"github.com/g960059/helpdesk/internal/testutil"
)

func TestRegisterValidation(t *testing.T) {
	fake := testutil.NewFakeAPI(t)
	sess, ctx := testutil.NewSession(t)
	svc := auth.NewService(appclient.NewWithClient(fake.URL(), fake.HTTPClient(), sess), sess, nil)

	cases := []struct{ name, email, password string }{
		{"", "a@x.com", "secret1"},
		{"A", "", "secret1"},
		{"A", "ax.com", "secret1"},
		{"A", "a@x.com", "12345"},
	}
	for _, tc := range cases {
		err := svc.Register(ctx, tc.name, tc.email, tc.password)
		require.True(t, apperr.IsKind(err, apperr.KindValidation), "%+v: %v", tc, err)
	}
	require.Empty(t, fake.Requests())
}

func TestRegisterLoginLogout(t *testing.T) {
	fake := testutil.NewFakeAPI(t)
	sess, ctx := testutil.NewSession(t)
	svc := auth.NewService(appclient.NewWithClient(fake.URL(), fake.HTTPClient(), sess), sess, nil)

	require.NoError(t, svc.Register(ctx, "Ann", "ann@x.com", "secret1"))
	err := svc.Register(ctx, "Ann", "ann@x.com", "secret1")
	require.True(t, apperr.IsKind(err, apperr.KindAuth))
	require.Equal(t, "User already exists", apperr.UserMessage(err, "Registration failed"))

	_, err = svc.Login(ctx, "ann@x.com", "wrong-pass")
	require.True(t, apperr.IsKind(err, apperr.KindAuth))
	require.Equal(t, "Invalid credentials", apperr.UserMessage(err, "Login failed"))
	_, ok, err := sess.Current(ctx)
	require.NoError(t, err)
	require.False(t, ok)

	cred, err := svc.Login(ctx, "ann@x.com", "secret1")
	require.NoError(t, err)
	require.Equal(t, model.RoleUser, cred.Role)
	require.Equal(t, "Ann", cred.DisplayName)

	stored, ok, err := sess.Current(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, cred, stored)

	require.NoError(t, svc.Logout(ctx))
	require.NoError(t, svc.Logout(ctx))
	_, ok, err = sess.Current(ctx)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestLoginRejectsUnsupportedRole(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"token":"t1","role":"superuser","name":"X"}`)
	}))
	defer srv.Close()
	sess, ctx := testutil.NewSession(t)
	svc := auth.NewService(appclient.NewWithClient(srv.URL, srv.Client(), sess), sess, nil)

	_, err := svc.Login(ctx, "x@x.com", "secret1")
	require.True(t, apperr.IsKind(err, apperr.KindAuth))
	_, ok, _ := sess.Current(ctx)
	require.False(t, ok)
}

func TestLoginNetworkFailureKeepsKind(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()
	sess, _ := testutil.NewSession(t)
	svc := auth.NewService(appclient.NewWithClient(url, nil, sess), sess, nil)

	_, err := svc.Login(context.Background(), "x@x.com", "secret1")
	require.True(t, apperr.IsKind(err, apperr.KindNetwork))
}
