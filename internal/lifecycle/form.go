package lifecycle

import (
	"strings"

	"github.com/g960059/helpdesk/internal/api"
	"github.com/g960059/helpdesk/internal/apperr"
	"github.com/g960059/helpdesk/internal/model"
)

// TicketForm is the draft of a new ticket.
type TicketForm struct {
	Title       string
	Description string
	Priority    model.Priority
}

func NewTicketForm() *TicketForm {
	return &TicketForm{Priority: model.PriorityMedium}
}

func (f *TicketForm) Reset() {
	f.Title = ""
	f.Description = ""
	f.Priority = model.PriorityMedium
}

// CyclePriority advances low -> medium -> high -> low.
func (f *TicketForm) CyclePriority() {
	for i, p := range model.Priorities {
		if p == f.Priority {
			f.Priority = model.Priorities[(i+1)%len(model.Priorities)]
			return
		}
	}
	f.Priority = model.PriorityMedium
}

func (f *TicketForm) request() (api.CreateTicketRequest, error) {
	title := strings.TrimSpace(f.Title)
	description := strings.TrimSpace(f.Description)
	if title == "" {
		return api.CreateTicketRequest{}, apperr.Validation("title is required")
	}
	if description == "" {
		return api.CreateTicketRequest{}, apperr.Validation("description is required")
	}
	priority := f.Priority
	if priority == "" {
		priority = model.PriorityMedium
	}
	if !priority.Valid() {
		return api.CreateTicketRequest{}, apperr.Validation("invalid priority %q", f.Priority)
	}
	return api.CreateTicketRequest{Title: title, Description: description, Priority: string(priority)}, nil
}
