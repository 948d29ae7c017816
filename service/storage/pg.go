package storage

import (
	"context"
	"encoding/json"
	"time"

	errs "ChatRelay/tools/errs"
	"ChatRelay/tools/ids"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
)

// PgStore implements Store over a pgxpool. The schema is owned by the CRUD
// side of the application; this component only runs simple queries against it.
type PgStore struct {
	pool *pgxpool.Pool
}

func NewPgStore(ctx context.Context, databaseURL string) (*PgStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, errors.Wrap(err, "pgxpool new")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "pg ping")
	}
	return &PgStore{pool: pool}, nil
}

func NewPgStoreFromPool(pool *pgxpool.Pool) *PgStore { return &PgStore{pool: pool} }

func (s *PgStore) Close() { s.pool.Close() }

func (s *PgStore) CreateMessage(ctx context.Context, in CreateMessageInput) (*Message, error) {
	if in.ConversationID == "" || in.SenderID == "" {
		return nil, errs.ErrArgs.WrapMsg("conversationId/senderId required")
	}
	if in.Content == "" && len(in.Attachments) == 0 {
		return nil, errs.ErrArgs.WrapMsg("empty message")
	}

	var convType, role string
	var timerSeconds int64
	err := s.pool.QueryRow(ctx, `
		SELECT c.type, COALESCE(p.role, ''), COALESCE(c.disappearing_timer, 0)
		FROM conversations c
		LEFT JOIN participants p ON p.conversation_id = c.id AND p.user_id = $2
		WHERE c.id = $1`,
		in.ConversationID, in.SenderID).Scan(&convType, &role, &timerSeconds)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errs.ErrNotMember.WrapMsg("conversation not found", "conv", in.ConversationID)
	}
	if err != nil {
		return nil, errs.ErrStorage.WrapMsg("lookup conversation", "err", err)
	}
	if role == "" {
		return nil, errs.ErrNotMember.WrapMsg("sender not a participant", "conv", in.ConversationID)
	}
	if convType == ConvBroadcast && role != RoleAdmin {
		return nil, errs.ErrNoPermission.WrapMsg("broadcast conversation", "conv", in.ConversationID)
	}

	now := time.Now()
	msg := &Message{
		ID:             ids.GenerateString(),
		ConversationID: in.ConversationID,
		SenderID:       in.SenderID,
		Content:        in.Content,
		Attachments:    in.Attachments,
		ReplyToID:      in.ReplyToID,
		CreatedAt:      now,
	}
	if timerSeconds > 0 {
		exp := now.Add(time.Duration(timerSeconds) * time.Second)
		msg.ExpiresAt = &exp
	}

	var attBytes []byte
	if len(in.Attachments) > 0 {
		attBytes, err = json.Marshal(in.Attachments)
		if err != nil {
			return nil, errs.ErrArgs.WrapMsg("marshal attachments", "err", err)
		}
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO messages (id, conversation_id, sender_id, content, attachments, reply_to_id, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7, $8)`,
		msg.ID, msg.ConversationID, msg.SenderID, msg.Content, attBytes, msg.ReplyToID, msg.CreatedAt, msg.ExpiresAt)
	if err != nil {
		return nil, errs.ErrStorage.WrapMsg("insert message", "err", err)
	}
	return msg, nil
}

func (s *PgStore) UpdateMessage(ctx context.Context, conversationID, messageID, senderID, content string) (*Message, error) {
	if conversationID == "" || messageID == "" || content == "" {
		return nil, errs.ErrArgs.WrapMsg("conversationId/messageId/content required")
	}
	now := time.Now()
	tag, err := s.pool.Exec(ctx, `
		UPDATE messages SET content = $4, edited_at = $5
		WHERE id = $1 AND conversation_id = $2 AND sender_id = $3`,
		messageID, conversationID, senderID, content, now)
	if err != nil {
		return nil, errs.ErrStorage.WrapMsg("update message", "err", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, errs.ErrNoPermission.WrapMsg("not message owner or message missing", "msg", messageID)
	}
	return &Message{
		ID:             messageID,
		ConversationID: conversationID,
		SenderID:       senderID,
		Content:        content,
		EditedAt:       &now,
	}, nil
}

func (s *PgStore) DeleteMessage(ctx context.Context, conversationID, messageID, senderID string) error {
	if conversationID == "" || messageID == "" {
		return errs.ErrArgs.WrapMsg("conversationId/messageId required")
	}
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM messages
		WHERE id = $1 AND conversation_id = $2 AND sender_id = $3`,
		messageID, conversationID, senderID)
	if err != nil {
		return errs.ErrStorage.WrapMsg("delete message", "err", err)
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNoPermission.WrapMsg("not message owner or message missing", "msg", messageID)
	}
	return nil
}

func (s *PgStore) AddReaction(ctx context.Context, conversationID, messageID, userID, emoji string) error {
	if conversationID == "" || messageID == "" || emoji == "" {
		return errs.ErrArgs.WrapMsg("conversationId/messageId/emoji required")
	}
	if err := s.requireMember(ctx, conversationID, userID); err != nil {
		return err
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO reactions (message_id, user_id, emoji, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (message_id, user_id, emoji) DO NOTHING`,
		messageID, userID, emoji, time.Now())
	if err != nil {
		return errs.ErrStorage.WrapMsg("insert reaction", "err", err)
	}
	return nil
}

func (s *PgStore) MarkMessagesAsRead(ctx context.Context, conversationID, userID string) (int64, error) {
	if conversationID == "" {
		return 0, errs.ErrArgs.WrapMsg("conversationId required")
	}
	if err := s.requireMember(ctx, conversationID, userID); err != nil {
		return 0, err
	}
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO message_reads (message_id, user_id, read_at)
		SELECT m.id, $2, $3 FROM messages m
		WHERE m.conversation_id = $1 AND m.sender_id <> $2
		ON CONFLICT (message_id, user_id) DO NOTHING`,
		conversationID, userID, time.Now())
	if err != nil {
		return 0, errs.ErrStorage.WrapMsg("mark read", "err", err)
	}
	return tag.RowsAffected(), nil
}

func (s *PgStore) UpdateSettings(ctx context.Context, conversationID, userID string, timerSeconds int64) error {
	if conversationID == "" || timerSeconds < 0 {
		return errs.ErrArgs.WrapMsg("conversationId required, timer >= 0")
	}
	role, err := s.MemberRole(ctx, conversationID, userID)
	if err != nil {
		return err
	}
	if role == "" {
		return errs.ErrNotMember.WrapMsg("not a participant", "conv", conversationID)
	}
	_, err = s.pool.Exec(ctx, `
		UPDATE conversations SET disappearing_timer = $2 WHERE id = $1`,
		conversationID, timerSeconds)
	if err != nil {
		return errs.ErrStorage.WrapMsg("update settings", "err", err)
	}
	return nil
}

func (s *PgStore) AddEncryptionKey(ctx context.Context, conversationID, userID, key string) error {
	if conversationID == "" || key == "" {
		return errs.ErrArgs.WrapMsg("conversationId/key required")
	}
	if err := s.requireMember(ctx, conversationID, userID); err != nil {
		return err
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO encryption_keys (conversation_id, user_id, key_material, created_at)
		VALUES ($1, $2, $3, $4)`,
		conversationID, userID, key, time.Now())
	if err != nil {
		return errs.ErrStorage.WrapMsg("insert encryption key", "err", err)
	}
	return nil
}

func (s *PgStore) DeleteExpiredMessages(ctx context.Context) ([]DeletedMessage, error) {
	rows, err := s.pool.Query(ctx, `
		DELETE FROM messages
		WHERE expires_at IS NOT NULL AND expires_at <= $1
		RETURNING id, conversation_id`, time.Now())
	if err != nil {
		return nil, errs.ErrStorage.WrapMsg("delete expired", "err", err)
	}
	defer rows.Close()

	var out []DeletedMessage
	for rows.Next() {
		var d DeletedMessage
		if err := rows.Scan(&d.MessageID, &d.ConversationID); err != nil {
			return nil, errs.ErrStorage.WrapMsg("scan expired", "err", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.ErrStorage.WrapMsg("iterate expired", "err", err)
	}
	return out, nil
}

func (s *PgStore) GetUserConversations(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT conversation_id FROM participants WHERE user_id = $1`, userID)
	if err != nil {
		return nil, errs.ErrStorage.WrapMsg("list conversations", "err", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, errs.ErrStorage.WrapMsg("scan conversation", "err", err)
		}
		out = append(out, id)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.ErrStorage.WrapMsg("iterate conversations", "err", err)
	}
	return out, nil
}

func (s *PgStore) MemberRole(ctx context.Context, conversationID, userID string) (string, error) {
	var role string
	err := s.pool.QueryRow(ctx, `
		SELECT role FROM participants WHERE conversation_id = $1 AND user_id = $2`,
		conversationID, userID).Scan(&role)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", errs.ErrStorage.WrapMsg("member role", "err", err)
	}
	return role, nil
}

func (s *PgStore) requireMember(ctx context.Context, conversationID, userID string) error {
	role, err := s.MemberRole(ctx, conversationID, userID)
	if err != nil {
		return err
	}
	if role == "" {
		return errs.ErrNotMember.WrapMsg("not a participant", "conv", conversationID)
	}
	return nil
}
