package models

import (
	"time"

	"github.com/google/uuid"
)

type TicketPriority string

const (
	PriorityLow    TicketPriority = "low"
	PriorityNormal TicketPriority = "normal"
	PriorityHigh   TicketPriority = "high"
	PriorityUrgent TicketPriority = "urgent"
)

type TicketStatus string

const (
	TicketOpen       TicketStatus = "open"
	TicketInProgress TicketStatus = "in_progress"
	TicketResolved   TicketStatus = "resolved"
	TicketClosed     TicketStatus = "closed"
)

var ticketFlow = map[TicketStatus]TicketStatus{
	TicketOpen:       TicketInProgress,
	TicketInProgress: TicketResolved,
	TicketResolved:   TicketClosed,
}

// CanMoveTo reports whether to is the next step after s.
func (s TicketStatus) CanMoveTo(to TicketStatus) bool {
	return ticketFlow[s] == to
}

type SupportTicket struct {
	ID              uuid.UUID      `json:"id"`
	Opener          ActorRef       `json:"opener"`
	Subject         string         `json:"subject"`
	Body            string         `json:"body"`
	Priority        TicketPriority `json:"priority"`
	Status          TicketStatus   `json:"status"`
	AssigneeAdminID *string        `json:"assignee_admin_id,omitempty"`
	ResolvedAt      *time.Time     `json:"resolved_at,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

type TicketFilter struct {
	Opener   *ActorRef
	Status   TicketStatus
	Priority TicketPriority
}
