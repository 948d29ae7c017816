package handlers

import (
	"ChatRelay/service/chat"
	decode "ChatRelay/tools/decode"
	errs "ChatRelay/tools/errs"
)

// TypingHandler refreshes the debounced typing indicator and relays it to
// the other members. The sender never sees its own typing echo; expiry is
// timer-driven, no cancel frame exists.
type TypingHandler struct{}

func NewTypingHandler() chat.Handler { return &TypingHandler{} }

func (h *TypingHandler) Kind() string { return chat.KindTyping }

func (h *TypingHandler) Handle(ctx *chat.Context, f *chat.Frame, c *chat.Client) error {
	p, err := decode.DecodeMap[chat.TypingPayload](f.Payload)
	if err != nil {
		return errs.ErrArgs.WrapMsg("typing payload", "err", err)
	}
	if p.ConversationID == "" {
		return errs.ErrArgs.WrapMsg("conversationId required")
	}

	user := c.UserID()
	ctx.S.Ephemeral().TouchTyping(p.ConversationID, user)
	ctx.S.BroadcastToConversation(p.ConversationID, chat.KindTyping, chat.TypingEvent{
		ConversationID: p.ConversationID,
		UserID:         user,
		UserName:       p.UserName,
		Typing:         true,
	}, c)
	return nil
}
