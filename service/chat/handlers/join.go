package handlers

import (
	"ChatRelay/logger"
	"ChatRelay/service/chat"
	decode "ChatRelay/tools/decode"
	errs "ChatRelay/tools/errs"
)

// JoinHandler subscribes the connection to its conversations. Membership
// here is purely live state: after a reconnect the client replays this frame
// to rebuild it, nothing is persisted.
type JoinHandler struct{}

func NewJoinHandler() chat.Handler { return &JoinHandler{} }

func (h *JoinHandler) Kind() string { return chat.KindJoinConversations }

func (h *JoinHandler) Handle(ctx *chat.Context, f *chat.Frame, c *chat.Client) error {
	p, err := decode.DecodeMap[chat.JoinPayload](f.Payload)
	if err != nil {
		return errs.ErrArgs.WrapMsg("join payload", "err", err)
	}
	if len(p.ConversationIDs) == 0 {
		return errs.ErrArgs.WrapMsg("conversationIds required")
	}

	for _, id := range p.ConversationIDs {
		ctx.S.Registry().Subscribe(c, id)
	}
	logger.Infof("[join] conn=%s user=%s convs=%d", c.ConnID, c.UserID(), len(p.ConversationIDs))

	// First join gets the current online set, sent to this connection only.
	if c.MarkJoined() {
		ctx.S.SendTo(c, chat.KindPresence, chat.PresencePayload{
			OnlineUserIDs: ctx.S.Presence().Snapshot(),
		})
	}
	return nil
}
