package chat

import (
	"encoding/json"
	"fmt"
	"time"

	"ChatRelay/service/storage"
)

// Wire format: every frame is a JSON object {kind, payload}. Unknown kinds
// are logged and dropped so old gateways tolerate newer clients.

// Inbound kinds.
const (
	KindAuth              = "auth"
	KindJoinConversations = "join_conversations"
	KindTyping            = "typing"
	KindSendMessage       = "send_message"
	KindMarkRead          = "mark_read"
	KindAddReaction       = "add_reaction"
	KindEditMessage       = "edit_message"
	KindDeleteMessage     = "delete_message"
	KindUpdateSettings    = "update_settings"
	KindAddEncryptionKey  = "add_encryption_key"
	KindCallInitiate      = "call_initiate"
	KindCallSignal        = "call_signal"
	KindCallEnd           = "call_end"
)

// Outbound kinds.
const (
	KindAuthAck            = "auth_ack"
	KindMessage            = "message"
	KindPresence           = "presence"
	KindStatusUpdate       = "status_update"
	KindReactionAdded      = "reaction_added"
	KindMessageEdited      = "message_edited"
	KindMessageDeleted     = "message_deleted"
	KindSettingsUpdated    = "settings_updated"
	KindEncryptionKeyAdded = "encryption_key_added"
	KindError              = "error"
)

// Frame is the envelope for every inbound and outbound event.
type Frame struct {
	Kind    string         `json:"kind"`
	Payload map[string]any `json:"payload,omitempty"`
	Ts      int64          `json:"ts,omitempty"`
}

// ParseFrame decodes a raw websocket message into a Frame.
func ParseFrame(raw []byte) (*Frame, error) {
	f := &Frame{}
	if err := json.Unmarshal(raw, f); err != nil {
		return nil, fmt.Errorf("unmarshal frame failed: %w", err)
	}
	if f.Kind == "" {
		return nil, fmt.Errorf("frame missing kind")
	}
	return f, nil
}

// EncodeFrame serializes an outbound frame once; the result is shared across
// every recipient of a broadcast.
func EncodeFrame(kind string, payload any) ([]byte, error) {
	var m map[string]any
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal payload: %w", err)
		}
		if err := json.Unmarshal(b, &m); err != nil {
			return nil, fmt.Errorf("payload not an object: %w", err)
		}
	}
	return json.Marshal(Frame{Kind: kind, Payload: m, Ts: time.Now().UnixMilli()})
}

// ---- inbound payload shapes, validated at the router boundary ----

type AuthPayload struct {
	Token string `json:"token"`
}

type JoinPayload struct {
	ConversationIDs []string `json:"conversationIds"`
}

type TypingPayload struct {
	ConversationID string `json:"conversationId"`
	UserName       string `json:"userName,omitempty"`
}

type SendMessagePayload struct {
	ConversationID string               `json:"conversationId"`
	Content        string               `json:"content,omitempty"`
	Attachments    []storage.Attachment `json:"attachments,omitempty"`
	ReplyToID      string               `json:"replyToId,omitempty"`
}

type MarkReadPayload struct {
	ConversationID string `json:"conversationId"`
}

type ReactionPayload struct {
	ConversationID string `json:"conversationId"`
	MessageID      string `json:"messageId"`
	Emoji          string `json:"emoji"`
}

type EditMessagePayload struct {
	ConversationID string `json:"conversationId"`
	MessageID      string `json:"messageId"`
	Content        string `json:"content"`
}

type DeleteMessagePayload struct {
	ConversationID string `json:"conversationId"`
	MessageID      string `json:"messageId"`
}

type SettingsPayload struct {
	ConversationID            string `json:"conversationId"`
	DisappearingMessagesTimer int64  `json:"disappearingMessagesTimer"`
}

type EncryptionKeyPayload struct {
	ConversationID string `json:"conversationId"`
	Key            string `json:"key"`
}

type CallInitiatePayload struct {
	ConversationID string `json:"conversationId"`
	CallType       string `json:"callType"` // "audio" | "video"
}

type CallSignalPayload struct {
	ConversationID string `json:"conversationId"`
	Signal         any    `json:"signal"` // opaque, relayed verbatim
}

type CallEndPayload struct {
	ConversationID string `json:"conversationId"`
}

// ---- outbound payload shapes ----

type AuthAckPayload struct {
	UserID string `json:"userId"`
	ConnID string `json:"connId"`
}

type PresencePayload struct {
	OnlineUserIDs []string `json:"onlineUserIds"`
}

type TypingEvent struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
	UserName       string `json:"userName,omitempty"`
	Typing         bool   `json:"typing"`
}

type StatusUpdatePayload struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
	Status         string `json:"status"` // e.g. "read"
}

type ReactionAddedPayload struct {
	ConversationID string `json:"conversationId"`
	MessageID      string `json:"messageId"`
	UserID         string `json:"userId"`
	Emoji          string `json:"emoji"`
}

type MessageDeletedPayload struct {
	MessageID      string `json:"messageId"`
	ConversationID string `json:"conversationId"`
}

type SettingsUpdatedPayload struct {
	ConversationID            string `json:"conversationId"`
	DisappearingMessagesTimer int64  `json:"disappearingMessagesTimer"`
}

type EncryptionKeyAddedPayload struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
	Key            string `json:"key"`
}

type CallEvent struct {
	ConversationID string `json:"conversationId"`
	FromUserID     string `json:"fromUserId"`
	CallType       string `json:"callType,omitempty"`
	Signal         any    `json:"signal,omitempty"`
}

type ErrorPayload struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
	Kind string `json:"kind,omitempty"` // inbound kind the error refers to
}
