package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/kidoxdavid/eazyfoods-sub001/internal/apperr"
	"github.com/kidoxdavid/eazyfoods-sub001/models"
	"github.com/kidoxdavid/eazyfoods-sub001/pkg/database"
	"github.com/kidoxdavid/eazyfoods-sub001/pkg/logger"
)

type TicketRepositoryInterface interface {
	Create(ctx context.Context, t *models.SupportTicket) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.SupportTicket, error)
	LockByID(ctx context.Context, id uuid.UUID) (*models.SupportTicket, error)
	List(ctx context.Context, f models.TicketFilter) ([]models.SupportTicket, error)
	Save(ctx context.Context, t *models.SupportTicket) error
}

type TicketRepository struct {
	db     *database.DB
	logger *logger.Logger
}

func NewTicketRepository(db *database.DB, log *logger.Logger) *TicketRepository {
	return &TicketRepository{db: db, logger: log.WithComponent("ticket_repository")}
}

const ticketColumns = `id, opener_kind, opener_id, subject, body, priority, status, assignee_admin_id, resolved_at, created_at, updated_at`

func scanTicket(s rowScanner) (*models.SupportTicket, error) {
	var (
		t          models.SupportTicket
		openerKind string
		openerID   uuid.UUID
		resolvedAt sql.NullTime
	)
	err := s.Scan(&t.ID, &openerKind, &openerID, &t.Subject, &t.Body, &t.Priority, &t.Status,
		&t.AssigneeAdminID, &resolvedAt, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	t.Opener = models.ActorRef{Kind: models.ActorKind(openerKind), ID: &openerID}
	t.ResolvedAt = timePtr(resolvedAt)
	return &t, nil
}

func (r *TicketRepository) Create(ctx context.Context, t *models.SupportTicket) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	if t.Priority == "" {
		t.Priority = models.PriorityNormal
	}
	t.Status = models.TicketOpen

	err := r.db.Conn(ctx).QueryRowContext(ctx, `
		INSERT INTO support_tickets (id, opener_kind, opener_id, subject, body, priority, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at
	`, t.ID, t.Opener.Kind, t.Opener.ID, t.Subject, t.Body, t.Priority, t.Status).Scan(&t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if database.IsCheckViolation(err) {
			return apperr.Validation("Invalid ticket priority or opener.")
		}
		r.logger.Error("Failed to create ticket", "opener_kind", t.Opener.Kind, "error", err)
		return fmt.Errorf("failed to create ticket: %w", err)
	}
	r.logger.Info("Opened support ticket", "ticket_id", t.ID, "priority", t.Priority)
	return nil
}

func (r *TicketRepository) get(ctx context.Context, query string, id uuid.UUID) (*models.SupportTicket, error) {
	t, err := scanTicket(r.db.Conn(ctx).QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("Ticket")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve ticket: %w", err)
	}
	return t, nil
}

func (r *TicketRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.SupportTicket, error) {
	return r.get(ctx, `SELECT `+ticketColumns+` FROM support_tickets WHERE id = $1`, id)
}

func (r *TicketRepository) LockByID(ctx context.Context, id uuid.UUID) (*models.SupportTicket, error) {
	return r.get(ctx, `SELECT `+ticketColumns+` FROM support_tickets WHERE id = $1 FOR UPDATE`, id)
}

func (r *TicketRepository) List(ctx context.Context, f models.TicketFilter) ([]models.SupportTicket, error) {
	var (
		where []string
		args  []any
	)
	if f.Opener != nil {
		args = append(args, string(f.Opener.Kind), f.Opener.ID)
		where = append(where, fmt.Sprintf("opener_kind = $%d AND opener_id = $%d", len(args)-1, len(args)))
	}
	if f.Status != "" {
		args = append(args, f.Status)
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if f.Priority != "" {
		args = append(args, f.Priority)
		where = append(where, fmt.Sprintf("priority = $%d", len(args)))
	}

	query := `SELECT ` + ticketColumns + ` FROM support_tickets`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += ` ORDER BY CASE priority WHEN 'urgent' THEN 0 WHEN 'high' THEN 1 WHEN 'normal' THEN 2 ELSE 3 END, created_at, id`

	rows, err := r.db.Conn(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to query tickets", "error", err)
		return nil, fmt.Errorf("failed to query tickets: %w", err)
	}
	defer rows.Close()

	out := []models.SupportTicket{}
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan ticket: %w", err)
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

func (r *TicketRepository) Save(ctx context.Context, t *models.SupportTicket) error {
	err := r.db.Conn(ctx).QueryRowContext(ctx, `
		UPDATE support_tickets
		SET status = $2, assignee_admin_id = $3, resolved_at = $4, updated_at = now()
		WHERE id = $1
		RETURNING updated_at
	`, t.ID, t.Status, t.AssigneeAdminID, t.ResolvedAt).Scan(&t.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return apperr.NotFound("Ticket")
	}
	if err != nil {
		r.logger.Error("Failed to update ticket", "ticket_id", t.ID, "error", err)
		return fmt.Errorf("failed to update ticket: %w", err)
	}
	return nil
}
