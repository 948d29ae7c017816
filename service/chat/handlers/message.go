package handlers

import (
	"context"
	"time"

	"ChatRelay/service/chat"
	"ChatRelay/service/storage"
	decode "ChatRelay/tools/decode"
	errs "ChatRelay/tools/errs"
)

const storeTimeout = 5 * time.Second

func storeCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), storeTimeout)
}

// SendMessageHandler persists first, broadcasts second. A message that fails
// to persist is reported to the sender only; no recipient ever observes a
// message missing from the durable store.
type SendMessageHandler struct{}

func NewSendMessageHandler() chat.Handler { return &SendMessageHandler{} }

func (h *SendMessageHandler) Kind() string { return chat.KindSendMessage }

func (h *SendMessageHandler) Handle(ctx *chat.Context, f *chat.Frame, c *chat.Client) error {
	p, err := decode.DecodeMap[chat.SendMessagePayload](f.Payload)
	if err != nil {
		return errs.ErrArgs.WrapMsg("send_message payload", "err", err)
	}
	if p.ConversationID == "" {
		return errs.ErrArgs.WrapMsg("conversationId required")
	}

	sctx, cancel := storeCtx()
	defer cancel()
	msg, err := ctx.S.Store().CreateMessage(sctx, storage.CreateMessageInput{
		ConversationID: p.ConversationID,
		SenderID:       c.UserID(),
		Content:        p.Content,
		Attachments:    p.Attachments,
		ReplyToID:      p.ReplyToID,
	})
	if err != nil {
		return err
	}

	// Everyone in the conversation, the sender included, sees the same
	// committed payload.
	ctx.S.BroadcastToConversation(p.ConversationID, chat.KindMessage, msg, nil)
	ctx.S.PublishToFeed(msg)
	return nil
}

// MarkReadHandler persists read state and announces it as a status update.
type MarkReadHandler struct{}

func NewMarkReadHandler() chat.Handler { return &MarkReadHandler{} }

func (h *MarkReadHandler) Kind() string { return chat.KindMarkRead }

func (h *MarkReadHandler) Handle(ctx *chat.Context, f *chat.Frame, c *chat.Client) error {
	p, err := decode.DecodeMap[chat.MarkReadPayload](f.Payload)
	if err != nil {
		return errs.ErrArgs.WrapMsg("mark_read payload", "err", err)
	}
	if p.ConversationID == "" {
		return errs.ErrArgs.WrapMsg("conversationId required")
	}

	sctx, cancel := storeCtx()
	defer cancel()
	if _, err := ctx.S.Store().MarkMessagesAsRead(sctx, p.ConversationID, c.UserID()); err != nil {
		return err
	}

	ctx.S.BroadcastToConversation(p.ConversationID, chat.KindStatusUpdate, chat.StatusUpdatePayload{
		ConversationID: p.ConversationID,
		UserID:         c.UserID(),
		Status:         "read",
	}, nil)
	return nil
}

type ReactionHandler struct{}

func NewReactionHandler() chat.Handler { return &ReactionHandler{} }

func (h *ReactionHandler) Kind() string { return chat.KindAddReaction }

func (h *ReactionHandler) Handle(ctx *chat.Context, f *chat.Frame, c *chat.Client) error {
	p, err := decode.DecodeMap[chat.ReactionPayload](f.Payload)
	if err != nil {
		return errs.ErrArgs.WrapMsg("add_reaction payload", "err", err)
	}
	if p.ConversationID == "" || p.MessageID == "" || p.Emoji == "" {
		return errs.ErrArgs.WrapMsg("conversationId/messageId/emoji required")
	}

	sctx, cancel := storeCtx()
	defer cancel()
	if err := ctx.S.Store().AddReaction(sctx, p.ConversationID, p.MessageID, c.UserID(), p.Emoji); err != nil {
		return err
	}

	ctx.S.BroadcastToConversation(p.ConversationID, chat.KindReactionAdded, chat.ReactionAddedPayload{
		ConversationID: p.ConversationID,
		MessageID:      p.MessageID,
		UserID:         c.UserID(),
		Emoji:          p.Emoji,
	}, nil)
	return nil
}

type EditMessageHandler struct{}

func NewEditMessageHandler() chat.Handler { return &EditMessageHandler{} }

func (h *EditMessageHandler) Kind() string { return chat.KindEditMessage }

func (h *EditMessageHandler) Handle(ctx *chat.Context, f *chat.Frame, c *chat.Client) error {
	p, err := decode.DecodeMap[chat.EditMessagePayload](f.Payload)
	if err != nil {
		return errs.ErrArgs.WrapMsg("edit_message payload", "err", err)
	}
	if p.ConversationID == "" || p.MessageID == "" || p.Content == "" {
		return errs.ErrArgs.WrapMsg("conversationId/messageId/content required")
	}

	sctx, cancel := storeCtx()
	defer cancel()
	msg, err := ctx.S.Store().UpdateMessage(sctx, p.ConversationID, p.MessageID, c.UserID(), p.Content)
	if err != nil {
		return err
	}

	ctx.S.BroadcastToConversation(p.ConversationID, chat.KindMessageEdited, msg, nil)
	return nil
}

type DeleteMessageHandler struct{}

func NewDeleteMessageHandler() chat.Handler { return &DeleteMessageHandler{} }

func (h *DeleteMessageHandler) Kind() string { return chat.KindDeleteMessage }

func (h *DeleteMessageHandler) Handle(ctx *chat.Context, f *chat.Frame, c *chat.Client) error {
	p, err := decode.DecodeMap[chat.DeleteMessagePayload](f.Payload)
	if err != nil {
		return errs.ErrArgs.WrapMsg("delete_message payload", "err", err)
	}
	if p.ConversationID == "" || p.MessageID == "" {
		return errs.ErrArgs.WrapMsg("conversationId/messageId required")
	}

	sctx, cancel := storeCtx()
	defer cancel()
	if err := ctx.S.Store().DeleteMessage(sctx, p.ConversationID, p.MessageID, c.UserID()); err != nil {
		return err
	}

	ctx.S.BroadcastToConversation(p.ConversationID, chat.KindMessageDeleted, chat.MessageDeletedPayload{
		MessageID:      p.MessageID,
		ConversationID: p.ConversationID,
	}, nil)
	return nil
}

type SettingsHandler struct{}

func NewSettingsHandler() chat.Handler { return &SettingsHandler{} }

func (h *SettingsHandler) Kind() string { return chat.KindUpdateSettings }

func (h *SettingsHandler) Handle(ctx *chat.Context, f *chat.Frame, c *chat.Client) error {
	p, err := decode.DecodeMap[chat.SettingsPayload](f.Payload)
	if err != nil {
		return errs.ErrArgs.WrapMsg("update_settings payload", "err", err)
	}
	if p.ConversationID == "" {
		return errs.ErrArgs.WrapMsg("conversationId required")
	}

	sctx, cancel := storeCtx()
	defer cancel()
	if err := ctx.S.Store().UpdateSettings(sctx, p.ConversationID, c.UserID(), p.DisappearingMessagesTimer); err != nil {
		return err
	}

	ctx.S.BroadcastToConversation(p.ConversationID, chat.KindSettingsUpdated, chat.SettingsUpdatedPayload{
		ConversationID:            p.ConversationID,
		DisappearingMessagesTimer: p.DisappearingMessagesTimer,
	}, nil)
	return nil
}

type EncryptionKeyHandler struct{}

func NewEncryptionKeyHandler() chat.Handler { return &EncryptionKeyHandler{} }

func (h *EncryptionKeyHandler) Kind() string { return chat.KindAddEncryptionKey }

func (h *EncryptionKeyHandler) Handle(ctx *chat.Context, f *chat.Frame, c *chat.Client) error {
	p, err := decode.DecodeMap[chat.EncryptionKeyPayload](f.Payload)
	if err != nil {
		return errs.ErrArgs.WrapMsg("add_encryption_key payload", "err", err)
	}
	if p.ConversationID == "" || p.Key == "" {
		return errs.ErrArgs.WrapMsg("conversationId/key required")
	}

	sctx, cancel := storeCtx()
	defer cancel()
	if err := ctx.S.Store().AddEncryptionKey(sctx, p.ConversationID, c.UserID(), p.Key); err != nil {
		return err
	}

	// Key material is opaque to the gateway; it is relayed, never used.
	ctx.S.BroadcastToConversation(p.ConversationID, chat.KindEncryptionKeyAdded, chat.EncryptionKeyAddedPayload{
		ConversationID: p.ConversationID,
		UserID:         c.UserID(),
		Key:            p.Key,
	}, nil)
	return nil
}
