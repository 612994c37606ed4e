package service

import (
	"context"

	"github.com/google/uuid"

	"github.com/kidoxdavid/eazyfoods-sub001/internal/repositories"
	"github.com/kidoxdavid/eazyfoods-sub001/models"
	"github.com/kidoxdavid/eazyfoods-sub001/pkg/logger"
)

type NotificationServiceInterface interface {
	List(ctx context.Context, p models.Principal, unreadOnly bool, limit int) ([]models.Notification, error)
	MarkRead(ctx context.Context, p models.Principal, id uuid.UUID) error
}

type NotificationService struct {
	notifications repositories.NotificationRepositoryInterface
	logger        *logger.Logger
}

func NewNotificationService(notifications repositories.NotificationRepositoryInterface, log *logger.Logger) *NotificationService {
	return &NotificationService{notifications: notifications, logger: log.WithComponent("notification_service")}
}

func (s *NotificationService) List(ctx context.Context, p models.Principal, unreadOnly bool, limit int) ([]models.Notification, error) {
	list, err := s.notifications.List(ctx, p.Ref(), unreadOnly, limit)
	if err != nil {
		s.logger.Error("Failed to list notifications", "actor_kind", p.Kind, "error", err)
		return nil, classify(err, "list notifications")
	}
	return list, nil
}

func (s *NotificationService) MarkRead(ctx context.Context, p models.Principal, id uuid.UUID) error {
	if err := s.notifications.MarkRead(ctx, p.Ref(), id); err != nil {
		return classify(err, "mark notification read")
	}
	return nil
}
