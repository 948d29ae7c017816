package chat

import (
	errs "ChatRelay/tools/errs"

	"ChatRelay/logger"
)

// Handler processes one inbound event kind.
type Handler interface {
	Kind() string
	Handle(ctx *Context, f *Frame, c *Client) error
}

// Context hands the server to handlers.
type Context struct {
	S *Server
}

// Router dispatches inbound frames to registered handlers. Dispatch runs on
// the connection's read goroutine, so events from a single connection are
// processed in arrival order; no ordering holds across connections.
type Router struct {
	handlers map[string]Handler
}

func NewRouter() *Router {
	return &Router{handlers: make(map[string]Handler)}
}

func (r *Router) Register(h Handler) { r.handlers[h.Kind()] = h }

// Dispatch routes the frame. Unknown kinds are logged and dropped, not
// fatal: the protocol stays forward-compatible with newer clients. Every
// event except auth requires an authenticated connection.
func (r *Router) Dispatch(ctx *Context, f *Frame, c *Client) error {
	h, ok := r.handlers[f.Kind]
	if !ok {
		logger.Infof("[router] no handler for kind=%q conn=%s, dropping", f.Kind, c.ConnID)
		return nil
	}
	if f.Kind != KindAuth && !c.Authorized() {
		return errs.ErrUnauthorized.WrapMsg("kind", "kind", f.Kind)
	}
	return h.Handle(ctx, f, c)
}
