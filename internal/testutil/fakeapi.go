package testutil

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/g960059/helpdesk/internal/api"
	"github.com/g960059/helpdesk/internal/model"
)

// RecordedRequest is one call observed by FakeAPI.
type RecordedRequest struct {
	Method        string
	Path          string
	Query         string
	Authorization string
	RequestID     string
	Body          string
}

type fakeUser struct {
	id       string
	name     string
	email    string
	password string
	role     model.Role
	token    string
}

type fakeFailure struct {
	status int
	body   string
}

// FakeAPI is an in-memory helpdesk API served under /api. It follows the
// server's conventions: {"error": ...} bodies, 401 without a token, 403 for
// admin endpoints called by users.
type FakeAPI struct {
	t      *testing.T
	server *httptest.Server

	mu        sync.Mutex
	users     []*fakeUser
	tickets   []api.TicketItem
	nextID    int
	requests  []RecordedRequest
	failures  map[string]fakeFailure
	listCalls int
	onList    func(call int)
}

func NewFakeAPI(t *testing.T) *FakeAPI {
	t.Helper()
	f := &FakeAPI{t: t, nextID: 1, failures: make(map[string]fakeFailure)}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/auth/register", f.handleRegister)
	mux.HandleFunc("POST /api/auth/login", f.handleLogin)
	mux.HandleFunc("GET /api/tickets", f.handleListAll)
	mux.HandleFunc("GET /api/tickets/my", f.handleListMine)
	mux.HandleFunc("POST /api/tickets", f.handleCreate)
	mux.HandleFunc("PUT /api/tickets/{id}/status", f.handleStatus)
	mux.HandleFunc("DELETE /api/tickets/{id}", f.handleDelete)
	f.server = httptest.NewServer(f.record(mux))
	t.Cleanup(f.server.Close)
	return f
}

// URL is the API base address, including the /api prefix.
func (f *FakeAPI) URL() string {
	return f.server.URL + "/api"
}

func (f *FakeAPI) HTTPClient() *http.Client {
	return f.server.Client()
}

// AddUser registers an account and returns the token login will issue.
func (f *FakeAPI) AddUser(name, email, password string, role model.Role) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.addUserLocked(name, email, password, role).token
}

func (f *FakeAPI) addUserLocked(name, email, password string, role model.Role) *fakeUser {
	u := &fakeUser{
		id:       strconv.Itoa(len(f.users) + 1),
		name:     name,
		email:    email,
		password: password,
		role:     role,
		token:    "tok-" + uuid.NewString(),
	}
	f.users = append(f.users, u)
	return u
}

// AddTicket seeds a ticket owned by the user holding ownerToken and returns
// its id.
func (f *FakeAPI) AddTicket(ownerToken, title, description string, priority model.Priority, status model.TicketStatus) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	owner := f.userByTokenLocked(ownerToken)
	if owner == nil {
		f.t.Fatalf("fake api: unknown owner token %q", ownerToken)
	}
	return f.addTicketLocked(owner, title, description, string(priority), string(status))
}

// SetRawStatus stores a status value verbatim, bypassing validation.
func (f *FakeAPI) SetRawStatus(id, status string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.tickets {
		if string(f.tickets[i].ID) == id {
			f.tickets[i].Status = status
		}
	}
}

func (f *FakeAPI) addTicketLocked(owner *fakeUser, title, description, priority, status string) string {
	id := strconv.Itoa(f.nextID)
	f.nextID++
	f.tickets = append(f.tickets, api.TicketItem{
		ID:          api.ID(id),
		Title:       title,
		Description: description,
		Priority:    priority,
		Status:      status,
		UserName:    owner.name,
		UserID:      api.ID(owner.id),
	})
	return id
}

func (f *FakeAPI) Ticket(id string) (api.TicketItem, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, item := range f.tickets {
		if string(item.ID) == id {
			return item, true
		}
	}
	return api.TicketItem{}, false
}

func (f *FakeAPI) TicketCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.tickets)
}

// FailNext makes the next request matching method and path (without the
// /api prefix) answer with status and body.
func (f *FakeAPI) FailNext(method, path string, status int, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[method+" "+path] = fakeFailure{status: status, body: body}
}

// OnList installs a hook run by list endpoints after the response payload
// has been computed and before it is written. Tests block in it to control
// the order in which responses land.
func (f *FakeAPI) OnList(hook func(call int)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onList = hook
}

func (f *FakeAPI) Requests() []RecordedRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]RecordedRequest, len(f.requests))
	copy(out, f.requests)
	return out
}

// Count returns how many requests hit method and path (without /api).
func (f *FakeAPI) Count(method, path string) int {
	n := 0
	for _, r := range f.Requests() {
		if r.Method == method && r.Path == path {
			n++
		}
	}
	return n
}

func (f *FakeAPI) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		r.Body = io.NopCloser(strings.NewReader(string(body)))
		path := strings.TrimPrefix(r.URL.Path, "/api")
		f.mu.Lock()
		f.requests = append(f.requests, RecordedRequest{
			Method:        r.Method,
			Path:          path,
			Query:         r.URL.RawQuery,
			Authorization: r.Header.Get("Authorization"),
			RequestID:     r.Header.Get("X-Request-ID"),
			Body:          string(body),
		})
		key := r.Method + " " + path
		failure, failing := f.failures[key]
		if failing {
			delete(f.failures, key)
		}
		f.mu.Unlock()
		if failing {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(failure.status)
			_, _ = io.WriteString(w, failure.body)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (f *FakeAPI) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req api.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid request"})
		return
	}
	if len(req.Password) < 6 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Password must be at least 6 characters"})
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if strings.EqualFold(u.email, req.Email) {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "User already exists"})
			return
		}
	}
	f.addUserLocked(req.Name, req.Email, req.Password, model.RoleUser)
	writeJSON(w, http.StatusCreated, map[string]string{"message": "User registered"})
}

func (f *FakeAPI) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req api.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid request"})
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if strings.EqualFold(u.email, req.Email) && u.password == req.Password {
			writeJSON(w, http.StatusOK, api.LoginResponse{Token: u.token, Role: string(u.role), Name: u.name})
			return
		}
	}
	writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Invalid credentials"})
}

func (f *FakeAPI) handleListAll(w http.ResponseWriter, r *http.Request) {
	if _, ok := f.authorize(w, r, true); !ok {
		return
	}
	search := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("search")))
	f.mu.Lock()
	out := make([]api.TicketItem, 0, len(f.tickets))
	for _, item := range f.tickets {
		if search == "" ||
			strings.Contains(strings.ToLower(item.Title), search) ||
			strings.Contains(strings.ToLower(item.Status), search) ||
			strings.Contains(strings.ToLower(item.UserName), search) {
			out = append(out, item)
		}
	}
	f.mu.Unlock()
	f.respondList(w, out)
}

func (f *FakeAPI) handleListMine(w http.ResponseWriter, r *http.Request) {
	user, ok := f.authorize(w, r, false)
	if !ok {
		return
	}
	f.mu.Lock()
	out := make([]api.TicketItem, 0)
	for _, item := range f.tickets {
		if string(item.UserID) == user.id {
			out = append(out, item)
		}
	}
	f.mu.Unlock()
	f.respondList(w, out)
}

func (f *FakeAPI) respondList(w http.ResponseWriter, items []api.TicketItem) {
	f.mu.Lock()
	f.listCalls++
	call := f.listCalls
	hook := f.onList
	f.mu.Unlock()
	if hook != nil {
		hook(call)
	}
	writeJSON(w, http.StatusOK, items)
}

func (f *FakeAPI) handleCreate(w http.ResponseWriter, r *http.Request) {
	user, ok := f.authorize(w, r, false)
	if !ok {
		return
	}
	var req api.CreateTicketRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Title) == "" || strings.TrimSpace(req.Description) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Title and description are required"})
		return
	}
	priority := req.Priority
	if priority == "" {
		priority = string(model.PriorityMedium)
	}
	f.mu.Lock()
	f.addTicketLocked(user, req.Title, req.Description, priority, string(model.StatusOpen))
	item := f.tickets[len(f.tickets)-1]
	f.mu.Unlock()
	writeJSON(w, http.StatusCreated, item)
}

func (f *FakeAPI) handleStatus(w http.ResponseWriter, r *http.Request) {
	if _, ok := f.authorize(w, r, true); !ok {
		return
	}
	var req api.UpdateStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || !model.TicketStatus(req.Status).Valid() {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid status"})
		return
	}
	id := r.PathValue("id")
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.tickets {
		if string(f.tickets[i].ID) == id {
			f.tickets[i].Status = req.Status
			writeJSON(w, http.StatusOK, api.MessageResponse{Message: "Ticket status updated"})
			return
		}
	}
	writeJSON(w, http.StatusNotFound, map[string]string{"error": "Ticket not found"})
}

func (f *FakeAPI) handleDelete(w http.ResponseWriter, r *http.Request) {
	if _, ok := f.authorize(w, r, true); !ok {
		return
	}
	id := r.PathValue("id")
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.tickets {
		if string(f.tickets[i].ID) == id {
			f.tickets = append(f.tickets[:i], f.tickets[i+1:]...)
			writeJSON(w, http.StatusOK, api.MessageResponse{Message: "Ticket deleted"})
			return
		}
	}
	writeJSON(w, http.StatusNotFound, map[string]string{"error": "Ticket not found"})
}

func (f *FakeAPI) authorize(w http.ResponseWriter, r *http.Request, adminOnly bool) (*fakeUser, bool) {
	token := strings.TrimSpace(strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer "))
	f.mu.Lock()
	user := f.userByTokenLocked(token)
	f.mu.Unlock()
	if token == "" || user == nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "No token, authorization denied"})
		return nil, false
	}
	if adminOnly && user.role != model.RoleAdmin {
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "Access denied"})
		return nil, false
	}
	return user, true
}

func (f *FakeAPI) userByTokenLocked(token string) *fakeUser {
	if token == "" {
		return nil
	}
	for _, u := range f.users {
		if u.token == token {
			return u
		}
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
