package storage

import (
	"context"
	"time"
)

// Conversation roles / types as persisted by the CRUD side.
const (
	RoleAdmin  = "admin"
	RoleMember = "member"

	ConvDirect    = "direct"
	ConvGroup     = "group"
	ConvBroadcast = "broadcast" // only admins may post, everyone receives
)

type Attachment struct {
	URL  string `json:"url"`
	Name string `json:"name,omitempty"`
	Type string `json:"type,omitempty"`
	Size int64  `json:"size,omitempty"`
}

type Message struct {
	ID             string       `json:"id"`
	ConversationID string       `json:"conversationId"`
	SenderID       string       `json:"senderId"`
	Content        string       `json:"content,omitempty"`
	Attachments    []Attachment `json:"attachments,omitempty"`
	ReplyToID      string       `json:"replyToId,omitempty"`
	CreatedAt      time.Time    `json:"createdAt"`
	EditedAt       *time.Time   `json:"editedAt,omitempty"`
	ExpiresAt      *time.Time   `json:"expiresAt,omitempty"`
}

type CreateMessageInput struct {
	ConversationID string
	SenderID       string
	Content        string
	Attachments    []Attachment
	ReplyToID      string
}

type DeletedMessage struct {
	MessageID      string `json:"messageId"`
	ConversationID string `json:"conversationId"`
}

// Store is the persistence collaborator consumed by the event router. It is
// the sole source of truth for message content and durable conversation
// membership; the in-memory registry only tracks who is currently listening.
type Store interface {
	// CreateMessage durably creates a message. It validates that the sender
	// is a participant and, for broadcast conversations, holds the admin
	// role; validation failures surface as errs.ErrNotMember /
	// errs.ErrNoPermission before any write happens.
	CreateMessage(ctx context.Context, in CreateMessageInput) (*Message, error)

	// UpdateMessage edits message content; only the original sender may edit.
	UpdateMessage(ctx context.Context, conversationID, messageID, senderID, content string) (*Message, error)

	// DeleteMessage removes a message; only the original sender may delete.
	DeleteMessage(ctx context.Context, conversationID, messageID, senderID string) error

	AddReaction(ctx context.Context, conversationID, messageID, userID, emoji string) error

	// MarkMessagesAsRead marks all messages in the conversation read for the
	// user and returns how many were affected.
	MarkMessagesAsRead(ctx context.Context, conversationID, userID string) (int64, error)

	// UpdateSettings persists the disappearing-messages timer (seconds; 0
	// disables).
	UpdateSettings(ctx context.Context, conversationID, userID string, timerSeconds int64) error

	// AddEncryptionKey stores opaque client key material for the conversation.
	AddEncryptionKey(ctx context.Context, conversationID, userID, key string) error

	// DeleteExpiredMessages removes all messages whose disappearing timer has
	// elapsed and reports them so the gateway can emit message_deleted events.
	DeleteExpiredMessages(ctx context.Context) ([]DeletedMessage, error)

	// GetUserConversations lists conversation ids the user participates in.
	GetUserConversations(ctx context.Context, userID string) ([]string, error)

	// MemberRole returns the user's role in the conversation, "" if not a
	// participant.
	MemberRole(ctx context.Context, conversationID, userID string) (string, error)
}
