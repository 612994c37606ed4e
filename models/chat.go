package models

import (
	"time"

	"github.com/google/uuid"
)

type ChatMessage struct {
	ID        uuid.UUID  `json:"id"`
	Sender    ActorRef   `json:"sender"`
	Recipient ActorRef   `json:"recipient"`
	Body      string     `json:"body"`
	IsRead    bool       `json:"is_read"`
	ReadAt    *time.Time `json:"read_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// Conversation summarises the thread with one peer.
type Conversation struct {
	Peer        ActorRef    `json:"peer"`
	LastMessage ChatMessage `json:"last_message"`
	Unread      int         `json:"unread"`
}
