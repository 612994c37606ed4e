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
	"github.com/kidoxdavid/eazyfoods-sub001/pkg/logger"
)

type SendMessageRequest struct {
	RecipientKind models.ActorKind `json:"recipient_kind" validate:"required,oneof=customer vendor chef driver admin"`
	RecipientID   *uuid.UUID       `json:"recipient_id"`
	Body          string           `json:"body" validate:"required,max=4000"`
}

type UnreadCount struct {
	Unread int `json:"unread"`
}

type ChatServiceInterface interface {
	Send(ctx context.Context, p models.Principal, req SendMessageRequest) (*models.ChatMessage, error)
	Conversations(ctx context.Context, p models.Principal) ([]models.Conversation, error)
	Thread(ctx context.Context, p models.Principal, peer models.ActorRef, limit int) ([]models.ChatMessage, error)
	Unread(ctx context.Context, p models.Principal) (*UnreadCount, error)
}

// ChatService carries direct messages between actors. Messages to
// (admin, no id) land in the inbox every admin reads.
type ChatService struct {
	messages repositories.ChatRepositoryInterface
	actors   auth.ActorDirectory
	now      Clock
	logger   *logger.Logger
}

func NewChatService(messages repositories.ChatRepositoryInterface, actors auth.ActorDirectory, log *logger.Logger) *ChatService {
	return &ChatService{
		messages: messages,
		actors:   actors,
		now:      time.Now,
		logger:   log.WithComponent("chat_service"),
	}
}

func (s *ChatService) WithClock(c Clock) *ChatService {
	s.now = c
	return s
}

func (s *ChatService) Send(ctx context.Context, p models.Principal, req SendMessageRequest) (*models.ChatMessage, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	body := strings.TrimSpace(req.Body)
	if body == "" {
		return nil, apperr.Validation("Message body is empty.").With("field", "body").WithCode("invalid_required")
	}

	rcpt := models.ActorRef{Kind: req.RecipientKind, ID: req.RecipientID}
	switch {
	case rcpt.ID == nil && rcpt.Kind != models.KindAdmin:
		return nil, apperr.Validation("recipient_id is required.").With("field", "recipient_id").WithCode("invalid_required")
	case rcpt.Equal(p.Ref()):
		return nil, apperr.Validation("You cannot message yourself.").WithCode("self_message")
	case rcpt.ID != nil:
		st, err := s.actors.ActorStatus(ctx, rcpt.Kind, *rcpt.ID)
		if err != nil {
			return nil, classify(err, "check recipient")
		}
		if !st.Exists {
			return nil, apperr.NotFound("Recipient")
		}
	}

	m := &models.ChatMessage{Sender: p.Ref(), Recipient: rcpt, Body: body}
	if err := s.messages.Create(ctx, m); err != nil {
		s.logger.Error("Failed to store chat message", "sender_kind", p.Kind, "error", err)
		return nil, classify(err, "send message")
	}
	s.logger.Info("Chat message sent", "message_id", m.ID, "sender_kind", p.Kind, "recipient_kind", rcpt.Kind, "inbox", rcpt.IsAdminInbox())
	return m, nil
}

func (s *ChatService) Conversations(ctx context.Context, p models.Principal) ([]models.Conversation, error) {
	list, err := s.messages.Conversations(ctx, p.Ref())
	if err != nil {
		s.logger.Error("Failed to list conversations", "actor_kind", p.Kind, "error", err)
		return nil, classify(err, "list conversations")
	}
	return list, nil
}

// Thread returns the messages exchanged with peer and marks the ones
// received from peer as read. The admin inbox is a shared queue, so an admin
// reading it marks the messages read for all admins.
func (s *ChatService) Thread(ctx context.Context, p models.Principal, peer models.ActorRef, limit int) ([]models.ChatMessage, error) {
	if !peer.Kind.Valid() {
		return nil, apperr.Validation("Unknown peer kind.").With("field", "peer_kind")
	}
	viewer := p.Ref()

	msgs, err := s.messages.Thread(ctx, viewer, peer, limit)
	if err != nil {
		return nil, classify(err, "chat thread")
	}
	n, err := s.messages.MarkRead(ctx, viewer, peer, s.now())
	if err != nil {
		s.logger.Warn("Failed to mark messages read", "actor_kind", p.Kind, "error", err)
	} else if n > 0 {
		s.logger.Debug("Marked messages read", "count", n)
	}
	return msgs, nil
}

func (s *ChatService) Unread(ctx context.Context, p models.Principal) (*UnreadCount, error) {
	n, err := s.messages.Unread(ctx, p.Ref())
	if err != nil {
		return nil, classify(err, "unread messages")
	}
	return &UnreadCount{Unread: n}, nil
}
