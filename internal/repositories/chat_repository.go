package repositories

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/kidoxdavid/eazyfoods-sub001/internal/apperr"
	"github.com/kidoxdavid/eazyfoods-sub001/models"
	"github.com/kidoxdavid/eazyfoods-sub001/pkg/database"
	"github.com/kidoxdavid/eazyfoods-sub001/pkg/logger"
)

type ChatRepositoryInterface interface {
	Create(ctx context.Context, m *models.ChatMessage) error
	Conversations(ctx context.Context, viewer models.ActorRef) ([]models.Conversation, error)
	Thread(ctx context.Context, viewer, peer models.ActorRef, limit int) ([]models.ChatMessage, error)
	MarkRead(ctx context.Context, viewer, peer models.ActorRef, at time.Time) (int64, error)
	Unread(ctx context.Context, viewer models.ActorRef) (int, error)
}

type ChatRepository struct {
	db     *database.DB
	logger *logger.Logger
}

func NewChatRepository(db *database.DB, log *logger.Logger) *ChatRepository {
	return &ChatRepository{db: db, logger: log.WithComponent("chat_repository")}
}

// Viewer placeholders: $1 kind, $2 id. Admin viewers also receive messages
// addressed to the shared inbox.
const (
	chatOutbound = `(m.sender_kind = $1 AND m.sender_id = $2)`
	chatInbound  = `(m.recipient_kind = $1 AND (m.recipient_id = $2 OR ($1 = 'admin' AND m.recipient_id IS NULL)))`

	// Peer placeholders: $3 kind, $4 id. A non-admin talking to any admin
	// talks to the inbox, so admin ids are not compared on that side.
	chatThread = `(
		(` + chatOutbound + ` AND m.recipient_kind = $3
			AND (m.recipient_id IS NOT DISTINCT FROM $4 OR ($3 = 'admin' AND $1 <> 'admin')))
		OR
		(` + chatInbound + ` AND m.sender_kind = $3
			AND (m.sender_id = $4 OR ($3 = 'admin' AND $1 <> 'admin')))
	)`

	chatColumns = `m.id, m.sender_kind, m.sender_id, m.recipient_kind, m.recipient_id, m.body, m.is_read, m.read_at, m.created_at`
)

func scanChatMessage(s rowScanner, extra ...any) (*models.ChatMessage, error) {
	var (
		m                    models.ChatMessage
		senderKind, rcptKind string
		senderID             uuid.UUID
		rcptID               uuid.NullUUID
		readAt               sql.NullTime
	)
	dest := append([]any{&m.ID, &senderKind, &senderID, &rcptKind, &rcptID, &m.Body, &m.IsRead, &readAt, &m.CreatedAt}, extra...)
	if err := s.Scan(dest...); err != nil {
		return nil, err
	}
	m.Sender = models.ActorRef{Kind: models.ActorKind(senderKind), ID: &senderID}
	m.Recipient = actorFrom(rcptKind, rcptID)
	m.ReadAt = timePtr(readAt)
	return &m, nil
}

func (r *ChatRepository) Create(ctx context.Context, m *models.ChatMessage) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	err := r.db.Conn(ctx).QueryRowContext(ctx, `
		INSERT INTO chat_messages (id, sender_kind, sender_id, recipient_kind, recipient_id, body)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at
	`, m.ID, m.Sender.Kind, m.Sender.ID, m.Recipient.Kind, m.Recipient.ID, m.Body).Scan(&m.CreatedAt)
	if err != nil {
		switch {
		case database.IsCheckViolation(err, "chat_messages_not_self"):
			return apperr.Validation("Cannot send a message to yourself.")
		case database.IsCheckViolation(err):
			return apperr.Validation("The message is empty or has no valid recipient.")
		}
		r.logger.Error("Failed to create chat message", "sender_kind", m.Sender.Kind, "error", err)
		return fmt.Errorf("failed to create chat message: %w", err)
	}
	return nil
}

// Conversations returns one summary per peer, most recent first.
func (r *ChatRepository) Conversations(ctx context.Context, viewer models.ActorRef) ([]models.Conversation, error) {
	query := `
		WITH mine AS (
			SELECT ` + chatColumns + `, ` + chatOutbound + ` AS outbound
			FROM chat_messages m
			WHERE ` + chatOutbound + ` OR ` + chatInbound + `
		), keyed AS (
			SELECT mine.*,
				CASE WHEN outbound THEN recipient_kind ELSE sender_kind END AS peer_kind,
				CASE
					WHEN (CASE WHEN outbound THEN recipient_kind ELSE sender_kind END) = 'admin' AND $1 <> 'admin' THEN NULL
					WHEN outbound THEN recipient_id
					ELSE sender_id
				END AS peer_id
			FROM mine
		)
		SELECT DISTINCT ON (k.peer_kind, k.peer_id)
			k.id, k.sender_kind, k.sender_id, k.recipient_kind, k.recipient_id, k.body, k.is_read, k.read_at, k.created_at,
			k.peer_kind, k.peer_id,
			(SELECT COUNT(*) FROM keyed u
				WHERE u.peer_kind = k.peer_kind AND u.peer_id IS NOT DISTINCT FROM k.peer_id
					AND NOT u.outbound AND NOT u.is_read) AS unread
		FROM keyed k
		ORDER BY k.peer_kind, k.peer_id, k.created_at DESC, k.id DESC
	`
	rows, err := r.db.Conn(ctx).QueryContext(ctx, query, string(viewer.Kind), viewer.ID)
	if err != nil {
		r.logger.Error("Failed to query conversations", "viewer_kind", viewer.Kind, "error", err)
		return nil, fmt.Errorf("failed to query conversations: %w", err)
	}
	defer rows.Close()

	out := []models.Conversation{}
	for rows.Next() {
		var (
			peerKind string
			peerID   uuid.NullUUID
			unread   int
		)
		m, err := scanChatMessage(rows, &peerKind, &peerID, &unread)
		if err != nil {
			return nil, fmt.Errorf("failed to scan conversation: %w", err)
		}
		out = append(out, models.Conversation{Peer: actorFrom(peerKind, peerID), LastMessage: *m, Unread: unread})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].LastMessage.CreatedAt.After(out[j].LastMessage.CreatedAt)
	})
	return out, nil
}

// Thread returns the latest limit messages with peer in chronological order.
func (r *ChatRepository) Thread(ctx context.Context, viewer, peer models.ActorRef, limit int) ([]models.ChatMessage, error) {
	query := `
		SELECT * FROM (
			SELECT ` + chatColumns + ` FROM chat_messages m
			WHERE ` + chatThread + `
			ORDER BY m.created_at DESC, m.id DESC
			LIMIT $5
		) t ORDER BY created_at, id
	`
	rows, err := r.db.Conn(ctx).QueryContext(ctx, query,
		string(viewer.Kind), viewer.ID, string(peer.Kind), peer.ID, limitOrDefault(limit, 100, 500))
	if err != nil {
		r.logger.Error("Failed to query chat thread", "error", err)
		return nil, fmt.Errorf("failed to query chat thread: %w", err)
	}
	defer rows.Close()

	out := []models.ChatMessage{}
	for rows.Next() {
		m, err := scanChatMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan chat message: %w", err)
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

// MarkRead flags every unread message from peer to the viewer. Messages
// addressed to the admin inbox carry one read flag for the whole team: the
// first admin to open the thread clears it for every admin.
func (r *ChatRepository) MarkRead(ctx context.Context, viewer, peer models.ActorRef, at time.Time) (int64, error) {
	query := `
		UPDATE chat_messages m SET is_read = TRUE, read_at = $5
		WHERE ` + chatInbound + ` AND NOT m.is_read AND m.sender_kind = $3
			AND (m.sender_id = $4 OR ($3 = 'admin' AND $1 <> 'admin'))
	`
	res, err := r.db.Conn(ctx).ExecContext(ctx, query, string(viewer.Kind), viewer.ID, string(peer.Kind), peer.ID, at)
	if err != nil {
		return 0, fmt.Errorf("failed to mark messages read: %w", err)
	}
	return res.RowsAffected()
}

func (r *ChatRepository) Unread(ctx context.Context, viewer models.ActorRef) (int, error) {
	var n int
	err := r.db.Conn(ctx).QueryRowContext(ctx,
		`SELECT COUNT(*) FROM chat_messages m WHERE `+chatInbound+` AND NOT m.is_read`,
		string(viewer.Kind), viewer.ID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count unread messages: %w", err)
	}
	return n, nil
}
