package handlers

import (
	"ChatRelay/logger"
	"ChatRelay/service/chat"
	decode "ChatRelay/tools/decode"
	errs "ChatRelay/tools/errs"
	sec "ChatRelay/tools/security"
)

// AuthHandler binds a connection to a verified user identity. Until it runs,
// every other event kind is rejected and the unauth TTL keeps ticking.
type AuthHandler struct{}

func NewAuthHandler() chat.Handler { return &AuthHandler{} }

func (h *AuthHandler) Kind() string { return chat.KindAuth }

func (h *AuthHandler) Handle(ctx *chat.Context, f *chat.Frame, c *chat.Client) error {
	p, err := decode.DecodeMap[chat.AuthPayload](f.Payload)
	if err != nil {
		return errs.ErrArgs.WrapMsg("auth payload", "err", err)
	}
	if p.Token == "" {
		return errs.ErrArgs.WrapMsg("token required")
	}

	userID, err := sec.Verify(sec.DefaultOptions(ctx.S.Config().JWTSecret), p.Token)
	if err != nil {
		return err
	}

	if !c.Bind(userID) {
		// already authenticated; repeat auth frames are harmless
		logger.Infof("[auth] duplicate auth conn=%s user=%s", c.ConnID, c.UserID())
		ctx.S.SendTo(c, chat.KindAuthAck, chat.AuthAckPayload{UserID: c.UserID(), ConnID: c.ConnID})
		return nil
	}

	ctx.S.Presence().OnConnect(userID)
	ctx.S.SendTo(c, chat.KindAuthAck, chat.AuthAckPayload{UserID: userID, ConnID: c.ConnID})
	logger.Infof("[auth] conn=%s bound user=%s", c.ConnID, userID)
	return nil
}
