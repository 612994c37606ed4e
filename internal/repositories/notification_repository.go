package repositories

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/kidoxdavid/eazyfoods-sub001/internal/apperr"
	"github.com/kidoxdavid/eazyfoods-sub001/models"
	"github.com/kidoxdavid/eazyfoods-sub001/pkg/database"
	"github.com/kidoxdavid/eazyfoods-sub001/pkg/logger"
)

type NotificationRepositoryInterface interface {
	Create(ctx context.Context, n *models.Notification) error
	List(ctx context.Context, viewer models.ActorRef, unreadOnly bool, limit int) ([]models.Notification, error)
	MarkRead(ctx context.Context, viewer models.ActorRef, id uuid.UUID) error
}

type NotificationRepository struct {
	db     *database.DB
	logger *logger.Logger
}

func NewNotificationRepository(db *database.DB, log *logger.Logger) *NotificationRepository {
	return &NotificationRepository{db: db, logger: log.WithComponent("notification_repository")}
}

// visibleTo matches rows addressed to the viewer. Admins also see rows
// addressed to the shared admin inbox.
const visibleTo = `recipient_kind = $1 AND (recipient_id = $2 OR ($1 = 'admin' AND recipient_id IS NULL))`

func (r *NotificationRepository) Create(ctx context.Context, n *models.Notification) error {
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	err := r.db.Conn(ctx).QueryRowContext(ctx, `
		INSERT INTO notifications (id, recipient_kind, recipient_id, title, body, order_id)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at
	`, n.ID, n.Recipient.Kind, n.Recipient.ID, n.Title, n.Body, n.OrderID).Scan(&n.CreatedAt)
	if err != nil {
		r.logger.Error("Failed to create notification", "recipient_kind", n.Recipient.Kind, "error", err)
		return fmt.Errorf("failed to create notification: %w", err)
	}
	return nil
}

func (r *NotificationRepository) List(ctx context.Context, viewer models.ActorRef, unreadOnly bool, limit int) ([]models.Notification, error) {
	query := `
		SELECT id, recipient_kind, recipient_id, title, body, order_id, is_read, created_at
		FROM notifications
		WHERE ` + visibleTo + ` AND (NOT $3 OR NOT is_read)
		ORDER BY created_at DESC, id
		LIMIT $4
	`
	rows, err := r.db.Conn(ctx).QueryContext(ctx, query, string(viewer.Kind), viewer.ID, unreadOnly, limitOrDefault(limit, 50, 200))
	if err != nil {
		return nil, fmt.Errorf("failed to query notifications: %w", err)
	}
	defer rows.Close()

	out := []models.Notification{}
	for rows.Next() {
		var (
			n          models.Notification
			kind       string
			rid, order uuid.NullUUID
		)
		if err := rows.Scan(&n.ID, &kind, &rid, &n.Title, &n.Body, &order, &n.IsRead, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan notification: %w", err)
		}
		n.Recipient = actorFrom(kind, rid)
		n.OrderID = uuidPtr(order)
		out = append(out, n)
	}
	return out, rows.Err()
}

func (r *NotificationRepository) MarkRead(ctx context.Context, viewer models.ActorRef, id uuid.UUID) error {
	res, err := r.db.Conn(ctx).ExecContext(ctx,
		`UPDATE notifications SET is_read = TRUE WHERE `+visibleTo+` AND id = $3`, string(viewer.Kind), viewer.ID, id)
	if err != nil {
		return fmt.Errorf("failed to mark notification read: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFound("Notification")
	}
	return nil
}
