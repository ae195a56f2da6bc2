package appclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/g960059/helpdesk/internal/api"
	"github.com/g960059/helpdesk/internal/apperr"
	"github.com/g960059/helpdesk/internal/model"
	"github.com/g960059/helpdesk/internal/security"
)

const (
	DefaultBaseURL  = "https://helpdeskpro-server.onrender.com/api"
	RequestIDHeader = "X-Request-ID"
	maxLoggedBody   = 512
)

// CredentialSource yields the credential to attach to the next request.
type CredentialSource interface {
	Current(ctx context.Context) (model.Credential, bool, error)
}

// Client is the only component that talks to the helpdesk API. Each call
// is a single attempt: no retries, no de-duplication and no client-side
// timeout beyond the caller's context.
type Client struct {
	baseURL   string
	client    *http.Client
	creds     CredentialSource
	logger    *slog.Logger
	requestID func() string
}

func New(baseURL string, creds CredentialSource) *Client {
	return NewWithClient(baseURL, &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}, creds)
}

func NewWithClient(baseURL string, client *http.Client, creds CredentialSource) *Client {
	if client == nil {
		client = &http.Client{}
	}
	if strings.TrimSpace(baseURL) == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		client:    client,
		creds:     creds,
		logger:    slog.Default(),
		requestID: uuid.NewString,
	}
}

func (c *Client) WithLogger(logger *slog.Logger) *Client {
	if c == nil {
		return nil
	}
	clone := *c
	if logger != nil {
		clone.logger = logger
	}
	return &clone
}

func (c *Client) BaseURL() string {
	return c.baseURL
}

func (c *Client) Get(ctx context.Context, path string, query url.Values, out any) error {
	return c.request(ctx, http.MethodGet, path, query, nil, out)
}

func (c *Client) Post(ctx context.Context, path string, body, out any) error {
	return c.request(ctx, http.MethodPost, path, nil, body, out)
}

func (c *Client) Put(ctx context.Context, path string, body, out any) error {
	return c.request(ctx, http.MethodPut, path, nil, body, out)
}

func (c *Client) Delete(ctx context.Context, path string, out any) error {
	return c.request(ctx, http.MethodDelete, path, nil, nil, out)
}

func (c *Client) Register(ctx context.Context, req api.RegisterRequest) error {
	return c.Post(ctx, "/auth/register", req, nil)
}

func (c *Client) Login(ctx context.Context, req api.LoginRequest) (api.LoginResponse, error) {
	var resp api.LoginResponse
	if err := c.Post(ctx, "/auth/login", req, &resp); err != nil {
		return api.LoginResponse{}, err
	}
	return resp, nil
}

// ListTickets is the admin collection. The search parameter is always
// sent, empty meaning "no filter".
func (c *Client) ListTickets(ctx context.Context, search string) ([]model.Ticket, error) {
	query := url.Values{}
	query.Set("search", search)
	var items []api.TicketItem
	if err := c.Get(ctx, "/tickets", query, &items); err != nil {
		return nil, err
	}
	return api.TicketsFromItems(items), nil
}

// ListMyTickets is the viewer-scoped collection.
func (c *Client) ListMyTickets(ctx context.Context) ([]model.Ticket, error) {
	var items []api.TicketItem
	if err := c.Get(ctx, "/tickets/my", nil, &items); err != nil {
		return nil, err
	}
	return api.TicketsFromItems(items), nil
}

// CreateTicket returns the created ticket when the server echoes it; ok is
// false for a bare acknowledgement.
func (c *Client) CreateTicket(ctx context.Context, req api.CreateTicketRequest) (model.Ticket, bool, error) {
	var raw json.RawMessage
	if err := c.Post(ctx, "/tickets", req, &raw); err != nil {
		return model.Ticket{}, false, err
	}
	var item api.TicketItem
	if len(raw) == 0 || json.Unmarshal(raw, &item) != nil || item.ID == "" {
		return model.Ticket{}, false, nil
	}
	return item.Model(), true, nil
}

func (c *Client) UpdateTicketStatus(ctx context.Context, ticketID string, status model.TicketStatus) (string, error) {
	id := strings.TrimSpace(ticketID)
	if id == "" {
		return "", apperr.Validation("ticket id is required")
	}
	var resp api.MessageResponse
	path := "/tickets/" + url.PathEscape(id) + "/status"
	if err := c.Put(ctx, path, api.UpdateStatusRequest{Status: string(status)}, &resp); err != nil {
		return "", err
	}
	return resp.Message, nil
}

func (c *Client) DeleteTicket(ctx context.Context, ticketID string) (string, error) {
	id := strings.TrimSpace(ticketID)
	if id == "" {
		return "", apperr.Validation("ticket id is required")
	}
	var resp api.MessageResponse
	if err := c.Delete(ctx, "/tickets/"+url.PathEscape(id), &resp); err != nil {
		return "", err
	}
	return resp.Message, nil
}

func (c *Client) request(ctx context.Context, method, path string, query url.Values, body, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	var reqBody io.Reader
	var logged []byte
	if body != nil {
		buf := &bytes.Buffer{}
		if err := json.NewEncoder(buf).Encode(body); err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		logged = buf.Bytes()
		reqBody = bytes.NewReader(buf.Bytes())
	}
	req, err := http.NewRequestWithContext(ctx, method, u, reqBody)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	requestID := c.requestID()
	req.Header.Set(RequestIDHeader, requestID)

	// The credential is read at dispatch time so a login or logout since
	// the previous call takes effect immediately.
	authenticated := false
	if c.creds != nil {
		cred, ok, err := c.creds.Current(ctx)
		if err != nil {
			return fmt.Errorf("read credential: %w", err)
		}
		if ok {
			req.Header.Set("Authorization", "Bearer "+cred.Token)
			authenticated = true
		}
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Debug("api request failed",
			"method", method, "path", path, "request_id", requestID, "err", security.RedactPayload(err.Error()))
		return apperr.Network(err)
	}
	defer resp.Body.Close() //nolint:errcheck

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return apperr.Network(fmt.Errorf("read response body: %w", err))
	}
	c.logger.Debug("api request",
		"method", method,
		"path", path,
		"status", resp.StatusCode,
		"authenticated", authenticated,
		"request_id", requestID,
		"duration_ms", time.Since(start).Milliseconds(),
		"request_body", truncate(security.RedactPayload(string(logged))),
	)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return responseError(resp.StatusCode, payload)
	}
	if out == nil || len(bytes.TrimSpace(payload)) == 0 {
		return nil
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("decode %s %s response: %w", method, path, err)
	}
	return nil
}

func responseError(status int, payload []byte) error {
	kind := apperr.KindServer
	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		kind = apperr.KindAuthorization
	}
	var er api.ErrorResponse
	message := ""
	if err := json.Unmarshal(payload, &er); err == nil {
		message = er.Text()
	} else {
		message = strings.TrimSpace(string(payload))
	}
	return &apperr.Error{Kind: kind, StatusCode: status, Message: message}
}

func truncate(s string) string {
	if len(s) <= maxLoggedBody {
		return s
	}
	return s[:maxLoggedBody] + "…"
}
