package service

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kidoxdavid/eazyfoods-sub001/internal/apperr"
	"github.com/kidoxdavid/eazyfoods-sub001/internal/auth"
	"github.com/kidoxdavid/eazyfoods-sub001/internal/repositories"
	"github.com/kidoxdavid/eazyfoods-sub001/models"
	"github.com/kidoxdavid/eazyfoods-sub001/pkg/database"
	"github.com/kidoxdavid/eazyfoods-sub001/pkg/logger"
)

type CreateTicketRequest struct {
	Subject  string                `json:"subject" validate:"required,max=200"`
	Body     string                `json:"body" validate:"required,max=8000"`
	Priority models.TicketPriority `json:"priority" validate:"omitempty,oneof=low normal high urgent"`
}

type AssignTicketRequest struct {
	AdminID *uuid.UUID `json:"admin_id"`
}

type TicketStatusRequest struct {
	Status models.TicketStatus `json:"status" validate:"required,oneof=open in_progress resolved closed"`
}

type SupportServiceInterface interface {
	Open(ctx context.Context, p models.Principal, req CreateTicketRequest) (*models.SupportTicket, error)
	Mine(ctx context.Context, p models.Principal) ([]models.SupportTicket, error)
	AdminList(ctx context.Context, p models.Principal, status models.TicketStatus, priority models.TicketPriority) ([]models.SupportTicket, error)
	Assign(ctx context.Context, p models.Principal, id uuid.UUID, req AssignTicketRequest) (*models.SupportTicket, error)
	SetStatus(ctx context.Context, p models.Principal, id uuid.UUID, req TicketStatusRequest) (*models.SupportTicket, error)
}

// SupportService handles help-desk tickets. Tickets move strictly
// open, in_progress, resolved, closed.
type SupportService struct {
	tx      database.TxManager
	tickets repositories.TicketRepositoryInterface
	actors  auth.ActorDirectory
	now     Clock
	logger  *logger.Logger
}

func NewSupportService(tx database.TxManager, tickets repositories.TicketRepositoryInterface, actors auth.ActorDirectory, log *logger.Logger) *SupportService {
	return &SupportService{
		tx:      tx,
		tickets: tickets,
		actors:  actors,
		now:     time.Now,
		logger:  log.WithComponent("support_service"),
	}
}

func (s *SupportService) WithClock(c Clock) *SupportService {
	s.now = c
	return s
}

func (s *SupportService) Open(ctx context.Context, p models.Principal, req CreateTicketRequest) (*models.SupportTicket, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	t := &models.SupportTicket{
		Opener:   p.Ref(),
		Subject:  strings.TrimSpace(req.Subject),
		Body:     req.Body,
		Priority: req.Priority,
	}
	if err := s.tickets.Create(ctx, t); err != nil {
		return nil, classify(err, "open ticket")
	}
	return t, nil
}

func (s *SupportService) Mine(ctx context.Context, p models.Principal) ([]models.SupportTicket, error) {
	opener := p.Ref()
	list, err := s.tickets.List(ctx, models.TicketFilter{Opener: &opener})
	if err != nil {
		return nil, classify(err, "list tickets")
	}
	return list, nil
}

func supportAgent(p models.Principal) error {
	if err := requireKind(p, models.KindAdmin); err != nil {
		return err
	}
	return requireCapability(p, models.CapManageSupport)
}

func (s *SupportService) AdminList(ctx context.Context, p models.Principal, status models.TicketStatus, priority models.TicketPriority) ([]models.SupportTicket, error) {
	if err := supportAgent(p); err != nil {
		return nil, err
	}
	list, err := s.tickets.List(ctx, models.TicketFilter{Status: status, Priority: priority})
	if err != nil {
		s.logger.Error("Failed to list tickets", "error", err)
		return nil, classify(err, "list tickets")
	}
	return list, nil
}

// Assign hands the ticket to an admin, the caller when none is named.
func (s *SupportService) Assign(ctx context.Context, p models.Principal, id uuid.UUID, req AssignTicketRequest) (*models.SupportTicket, error) {
	if err := supportAgent(p); err != nil {
		return nil, err
	}
	assignee := p.ID
	if req.AdminID != nil {
		assignee = *req.AdminID
		st, err := s.actors.ActorStatus(ctx, models.KindAdmin, assignee)
		if err != nil {
			return nil, classify(err, "check assignee")
		}
		if !st.Exists || !st.IsActive {
			return nil, apperr.Validation("The assignee is not an active admin.").With("field", "admin_id")
		}
	}

	var out *models.SupportTicket
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		t, err := s.tickets.LockByID(ctx, id)
		if err != nil {
			return err
		}
		if t.Status == models.TicketClosed {
			return apperr.Conflict("Closed tickets cannot be reassigned.").WithCode("ticket_closed")
		}
		a := assignee.String()
		t.AssigneeAdminID = &a
		out = t
		return s.tickets.Save(ctx, t)
	})
	if err != nil {
		return nil, classify(err, "assign ticket")
	}
	s.logger.Info("Ticket assigned", "ticket_id", id, "assignee", assignee)
	return out, nil
}

func (s *SupportService) SetStatus(ctx context.Context, p models.Principal, id uuid.UUID, req TicketStatusRequest) (*models.SupportTicket, error) {
	if err := supportAgent(p); err != nil {
		return nil, err
	}
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	var out *models.SupportTicket
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		t, err := s.tickets.LockByID(ctx, id)
		if err != nil {
			return err
		}
		if !t.Status.CanMoveTo(req.Status) {
			return apperr.InvalidTransition("ticket", string(t.Status), "move to "+string(req.Status))
		}
		t.Status = req.Status
		if req.Status == models.TicketResolved {
			now := s.now()
			t.ResolvedAt = &now
		}
		out = t
		return s.tickets.Save(ctx, t)
	})
	if err != nil {
		s.logger.Warn("Ticket status change rejected", "ticket_id", id, "to", req.Status, "error", err)
		return nil, classify(err, "ticket status")
	}
	s.logger.Info("Ticket status changed", "ticket_id", id, "status", out.Status)
	return out, nil
}
