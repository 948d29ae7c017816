package handlers

import (
	"ChatRelay/service/chat"
	decode "ChatRelay/tools/decode"
	errs "ChatRelay/tools/errs"
)

// Call signaling is a pure relay: nothing is persisted, the latest signal is
// not retained, and a participant who reconnects mid-call has to restart it.

type CallInitiateHandler struct{}

func NewCallInitiateHandler() chat.Handler { return &CallInitiateHandler{} }

func (h *CallInitiateHandler) Kind() string { return chat.KindCallInitiate }

func (h *CallInitiateHandler) Handle(ctx *chat.Context, f *chat.Frame, c *chat.Client) error {
	p, err := decode.DecodeMap[chat.CallInitiatePayload](f.Payload)
	if err != nil {
		return errs.ErrArgs.WrapMsg("call_initiate payload", "err", err)
	}
	if p.ConversationID == "" {
		return errs.ErrArgs.WrapMsg("conversationId required")
	}
	if p.CallType != "audio" && p.CallType != "video" {
		return errs.ErrArgs.WrapMsg("callType must be audio|video", "got", p.CallType)
	}

	ctx.S.Ephemeral().StartCall(p.ConversationID, c.ConnID, c.UserID(), p.CallType)
	ctx.S.BroadcastToConversation(p.ConversationID, chat.KindCallInitiate, chat.CallEvent{
		ConversationID: p.ConversationID,
		FromUserID:     c.UserID(),
		CallType:       p.CallType,
	}, c)
	return nil
}

type CallSignalHandler struct{}

func NewCallSignalHandler() chat.Handler { return &CallSignalHandler{} }

func (h *CallSignalHandler) Kind() string { return chat.KindCallSignal }

func (h *CallSignalHandler) Handle(ctx *chat.Context, f *chat.Frame, c *chat.Client) error {
	p, err := decode.DecodeMap[chat.CallSignalPayload](f.Payload)
	if err != nil {
		return errs.ErrArgs.WrapMsg("call_signal payload", "err", err)
	}
	if p.ConversationID == "" {
		return errs.ErrArgs.WrapMsg("conversationId required")
	}

	ctx.S.BroadcastToConversation(p.ConversationID, chat.KindCallSignal, chat.CallEvent{
		ConversationID: p.ConversationID,
		FromUserID:     c.UserID(),
		Signal:         p.Signal,
	}, c)
	return nil
}

type CallEndHandler struct{}

func NewCallEndHandler() chat.Handler { return &CallEndHandler{} }

func (h *CallEndHandler) Kind() string { return chat.KindCallEnd }

func (h *CallEndHandler) Handle(ctx *chat.Context, f *chat.Frame, c *chat.Client) error {
	p, err := decode.DecodeMap[chat.CallEndPayload](f.Payload)
	if err != nil {
		return errs.ErrArgs.WrapMsg("call_end payload", "err", err)
	}
	if p.ConversationID == "" {
		return errs.ErrArgs.WrapMsg("conversationId required")
	}

	ctx.S.Ephemeral().EndCall(p.ConversationID)
	ctx.S.BroadcastToConversation(p.ConversationID, chat.KindCallEnd, chat.CallEvent{
		ConversationID: p.ConversationID,
		FromUserID:     c.UserID(),
	}, c)
	return nil
}
