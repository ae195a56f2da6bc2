package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/g960059/helpdesk/internal/model"
)

// ErrorResponse is the error body of the helpdesk API. The server sends
// {"error": "..."}; some endpoints answer with {"message": "..."} instead.
type ErrorResponse struct {
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
}

func (e ErrorResponse) Text() string {
	if msg := strings.TrimSpace(e.Error); msg != "" {
		return msg
	}
	return strings.TrimSpace(e.Message)
}

type RegisterRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginResponse struct {
	Token string `json:"token"`
	Role  string `json:"role"`
	Name  string `json:"name"`
}

type MessageResponse struct {
	Message string `json:"message"`
}

type CreateTicketRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Priority    string `json:"priority"`
}

type UpdateStatusRequest struct {
	Status string `json:"status"`
}

// ID is an identifier the server may encode as a JSON number or string.
type ID string

func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("decode id: %w", err)
	}
	*id = ID(n.String())
	return nil
}

type TicketItem struct {
	ID          ID     `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Priority    string `json:"priority"`
	Status      string `json:"status"`
	UserName    string `json:"user_name,omitempty"`
	UserID      ID     `json:"user_id,omitempty"`
}

func (t TicketItem) Model() model.Ticket {
	return model.Ticket{
		ID:          string(t.ID),
		Title:       t.Title,
		Description: t.Description,
		Priority:    model.CanonicalPriority(t.Priority),
		Status:      model.CanonicalStatus(t.Status),
		OwnerName:   t.UserName,
		OwnerID:     string(t.UserID),
	}
}

func TicketsFromItems(items []TicketItem) []model.Ticket {
	out := make([]model.Ticket, 0, len(items))
	for _, item := range items {
		out = append(out, item.Model())
	}
	return out
}
