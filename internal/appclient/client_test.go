package appclient

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/g960059/helpdesk/internal/api"
	"github.com/g960059/helpdesk/internal/apperr"
	"github.com/g960059/helpdesk/internal/model"
	"github.com/g960059/helpdesk/internal/testutil"
)

type staticCreds struct {
	cred model.Credential
	ok   bool
	err  error
}

func (s staticCreds) Current(context.Context) (model.Credential, bool, error) {
	return s.cred, s.ok, s.err
}

func TestRequestAttachesBearerFromSessionAtDispatch(t *testing.T) {
	fake := testutil.NewFakeAPI(t)
	token := fake.AddUser("A", "a@x.com", "secret1", model.RoleUser)
	sess, ctx := testutil.NewSession(t)
	client := NewWithClient(fake.URL(), fake.HTTPClient(), sess)

	if _, err := client.ListMyTickets(ctx); !apperr.IsKind(err, apperr.KindAuthorization) {
		t.Fatalf("expected authorization error without credential, got %v", err)
	}

	testutil.SignIn(t, sess, token, model.RoleUser, "A")
	if _, err := client.ListMyTickets(ctx); err != nil {
		t.Fatalf("list my tickets: %v", err)
	}

	reqs := fake.Requests()
	if len(reqs) != 2 {
		t.Fatalf("expected 2 requests, got %d", len(reqs))
	}
	if reqs[0].Authorization != "" {
		t.Fatalf("expected unauthenticated first call, got %q", reqs[0].Authorization)
	}
	if reqs[1].Authorization != "Bearer "+token {
		t.Fatalf("expected bearer header on second call, got %q", reqs[1].Authorization)
	}
	if reqs[0].RequestID == "" || reqs[0].RequestID == reqs[1].RequestID {
		t.Fatalf("expected distinct request ids, got %q and %q", reqs[0].RequestID, reqs[1].RequestID)
	}
}

func TestListTicketsAlwaysSendsSearch(t *testing.T) {
	fake := testutil.NewFakeAPI(t)
	admin := fake.AddUser("Root", "root@x.com", "secret1", model.RoleAdmin)
	user := fake.AddUser("A", "a@x.com", "secret1", model.RoleUser)
	fake.AddTicket(user, "Printer jammed", "paper stuck", model.PriorityHigh, model.StatusOpen)
	fake.AddTicket(user, "VPN down", "cannot connect", model.PriorityMedium, model.StatusResolved)

	client := NewWithClient(fake.URL(), fake.HTTPClient(), staticCreds{cred: model.Credential{Token: admin, Role: model.RoleAdmin}, ok: true})
	ctx := context.Background()

	all, err := client.ListTickets(ctx, "")
	if err != nil {
		t.Fatalf("list tickets: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 tickets, got %d", len(all))
	}
	filtered, err := client.ListTickets(ctx, "vpn")
	if err != nil {
		t.Fatalf("list tickets with search: %v", err)
	}
	if len(filtered) != 1 || filtered[0].Title != "VPN down" || filtered[0].Status != model.StatusResolved {
		t.Fatalf("unexpected filtered tickets: %+v", filtered)
	}
	reqs := fake.Requests()
	if reqs[0].Query != "search=" || reqs[1].Query != "search=vpn" {
		t.Fatalf("unexpected queries: %q %q", reqs[0].Query, reqs[1].Query)
	}
}

func TestDecodeNumericIDsAndUnknownStatus(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/tickets/my", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `[{"id":42,"title":"t","description":"d","priority":"urgent","status":"escalated","user_name":"A","user_id":7}]`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	client := NewWithClient(srv.URL, srv.Client(), nil)
	tickets, err := client.ListMyTickets(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(tickets) != 1 {
		t.Fatalf("expected 1 ticket, got %d", len(tickets))
	}
	got := tickets[0]
	if got.ID != "42" || got.OwnerID != "7" {
		t.Fatalf("expected numeric ids as strings, got %+v", got)
	}
	if got.Status != model.StatusUnknown || got.Priority != model.PriorityUnknown {
		t.Fatalf("expected unknown buckets, got status=%q priority=%q", got.Status, got.Priority)
	}
}

func TestErrorMapping(t *testing.T) {
	cases := []struct {
		name    string
		status  int
		body    string
		kind    apperr.Kind
		message string
	}{
		{"server error field", http.StatusNotFound, `{"error":"Ticket not found"}`, apperr.KindServer, "Ticket not found"},
		{"message field", http.StatusBadRequest, `{"message":"Invalid status"}`, apperr.KindServer, "Invalid status"},
		{"forbidden", http.StatusForbidden, `{"error":"Access denied"}`, apperr.KindAuthorization, "Access denied"},
		{"plain text", http.StatusBadGateway, "upstream down\n", apperr.KindServer, "upstream down"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = io.WriteString(w, tc.body)
			}))
			defer srv.Close()

			client := NewWithClient(srv.URL, srv.Client(), nil)
			_, err := client.UpdateTicketStatus(context.Background(), "1", model.StatusResolved)
			var appErr *apperr.Error
			if !errors.As(err, &appErr) {
				t.Fatalf("expected *apperr.Error, got %T %v", err, err)
			}
			if appErr.Kind != tc.kind || appErr.StatusCode != tc.status || appErr.Message != tc.message {
				t.Fatalf("unexpected error: %+v", appErr)
			}
		})
	}
}

func TestNoRetryOnFailure(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = io.WriteString(w, `{"error":"try later"}`)
	}))
	defer srv.Close()

	client := NewWithClient(srv.URL, srv.Client(), nil)
	if _, err := client.DeleteTicket(context.Background(), "9"); err == nil {
		t.Fatalf("expected error")
	}
	if calls.Load() != 1 {
		t.Fatalf("expected a single attempt, got %d", calls.Load())
	}
}

func TestNetworkErrorAndCancellation(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	client := NewWithClient(url, nil, nil)
	_, err := client.ListMyTickets(context.Background())
	if !apperr.IsKind(err, apperr.KindNetwork) {
		t.Fatalf("expected network error, got %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = client.ListMyTickets(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled in chain, got %v", err)
	}
}

func TestCredentialReadFailureStopsDispatch(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()

	client := NewWithClient(srv.URL, srv.Client(), staticCreds{err: errors.New("database is locked")})
	if _, err := client.ListMyTickets(context.Background()); err == nil || !strings.Contains(err.Error(), "read credential") {
		t.Fatalf("expected credential read error, got %v", err)
	}
	if calls.Load() != 0 {
		t.Fatalf("expected no dispatch, got %d calls", calls.Load())
	}
}

func TestCreateTicketEchoAndAck(t *testing.T) {
	fake := testutil.NewFakeAPI(t)
	token := fake.AddUser("A", "a@x.com", "secret1", model.RoleUser)
	client := NewWithClient(fake.URL(), fake.HTTPClient(), staticCreds{cred: model.Credential{Token: token, Role: model.RoleUser}, ok: true})

	ticket, ok, err := client.CreateTicket(context.Background(), api.CreateTicketRequest{Title: "Mouse", Description: "broken", Priority: "low"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !ok || ticket.Title != "Mouse" || ticket.Status != model.StatusOpen || ticket.OwnerName != "A" {
		t.Fatalf("unexpected created ticket ok=%v %+v", ok, ticket)
	}

	ack := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, `{"message":"Ticket created"}`)
	}))
	defer ack.Close()
	_, ok, err = NewWithClient(ack.URL, ack.Client(), nil).CreateTicket(context.Background(), api.CreateTicketRequest{Title: "x", Description: "y", Priority: "low"})
	if err != nil || ok {
		t.Fatalf("expected bare acknowledgement, got ok=%v err=%v", ok, err)
	}
}

func TestLoginAndRegister(t *testing.T) {
	fake := testutil.NewFakeAPI(t)
	client := NewWithClient(fake.URL(), fake.HTTPClient(), nil)
	ctx := context.Background()

	if err := client.Register(ctx, api.RegisterRequest{Name: "A", Email: "a@x.com", Password: "secret1"}); err != nil {
		t.Fatalf("register: %v", err)
	}
	err := client.Register(ctx, api.RegisterRequest{Name: "A", Email: "a@x.com", Password: "secret1"})
	if apperr.UserMessage(err, "") != "User already exists" {
		t.Fatalf("expected duplicate registration message, got %v", err)
	}
	resp, err := client.Login(ctx, api.LoginRequest{Email: "a@x.com", Password: "secret1"})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if resp.Token == "" || resp.Role != "user" || resp.Name != "A" {
		t.Fatalf("unexpected login response: %+v", resp)
	}
	if _, err := client.Login(ctx, api.LoginRequest{Email: "a@x.com", Password: "wrong"}); !apperr.IsKind(err, apperr.KindAuthorization) {
		t.Fatalf("expected 401 mapped to authorization, got %v", err)
	}
}

func TestMutationsRequireTicketID(t *testing.T) {
	client := NewWithClient("http://127.0.0.1:1", nil, nil)
	if _, err := client.UpdateTicketStatus(context.Background(), " ", model.StatusOpen); !apperr.IsKind(err, apperr.KindValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, err := client.DeleteTicket(context.Background(), ""); !apperr.IsKind(err, apperr.KindValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}
