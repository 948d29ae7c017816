package chat

import (
	"context"
	"net"
	"net/http"
	"time"

	"ChatRelay/logger"
	"ChatRelay/service/storage"
	errs "ChatRelay/tools/errs"
	"ChatRelay/tools/ids"
	"ChatRelay/tools/safe"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	errspkg "github.com/pkg/errors"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

const (
	writeWait      = 10 * time.Second
	pongWait       = 75 * time.Second
	pingPeriod     = 25 * time.Second
	maxMessageSize = 512 * 1024
)

// HandleWS upgrades the HTTP request and runs the connection until it drops.
// One goroutine reads, one writes; the read goroutine is also the dispatch
// goroutine, which is what keeps per-connection event order.
func (s *Server) HandleWS(c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Infof("[ws] upgrade error: %v", err)
		return
	}

	client := NewClient(ids.GenerateString(), ws, s.cfg.SendQueueSize)
	s.Attach(client)
	logger.Infof("[ws] conn=%s attached remote=%s", client.ConnID, ws.RemoteAddr())

	// Unauthenticated connections get a grace period, then the socket drops
	// without any presence or registry side effects.
	unauthTimer := time.AfterFunc(s.cfg.UnauthTTL, func() {
		if !client.Authorized() {
			logger.Infof("[ws] conn=%s unauth ttl elapsed, dropping", client.ConnID)
			s.Teardown(client)
		}
	})
	defer unauthTimer.Stop()

	done := make(chan struct{})
	safe.Go(func() {
		defer close(done)
		s.writePump(client)
	})

	s.readLoop(client)

	// Teardown must complete before the handle is discarded so broadcasts
	// can no longer reference this connection.
	s.Teardown(client)
	<-done
}

func (s *Server) readLoop(client *Client) {
	ws := client.WS
	ws.SetReadLimit(maxMessageSize)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	ctx := &Context{S: s}
	for {
		mt, data, rerr := ws.ReadMessage()
		if rerr != nil {
			if websocket.IsCloseError(rerr,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseNoStatusReceived,
			) {
				logger.Infof("[ws] peer closed conn=%s err=%v", client.ConnID, rerr)
			} else if ne, ok := rerr.(net.Error); ok && ne.Timeout() {
				logger.Infof("[ws] read timeout conn=%s err=%v", client.ConnID, rerr)
			} else {
				logger.Infof("[ws] read err conn=%s err=%v", client.ConnID, rerr)
			}
			return
		}
		if mt != websocket.TextMessage && mt != websocket.BinaryMessage {
			continue
		}

		frame, perr := ParseFrame(data)
		if perr != nil {
			sample := data
			if len(sample) > 256 {
				sample = sample[:256]
			}
			logger.Infof("[ws] bad frame conn=%s err=%v sample=%q", client.ConnID, perr, sample)
			continue
		}

		if err := s.router.Dispatch(ctx, frame, client); err != nil {
			// Failures go back to the offending connection only, never
			// broadcast; the connection stays open.
			var ce *errs.CodeError
			if errspkg.As(err, &ce) {
				s.SendError(client, frame.Kind, ce.Code, ce.Msg)
			} else {
				s.SendError(client, frame.Kind, errs.ErrInternal.Code, errs.ErrInternal.Msg)
			}
			logger.Infof("[ws] handle kind=%s conn=%s err=%v", frame.Kind, client.ConnID, err)
		}
	}
}

// writePump is the single writer for the socket: it drains the bounded send
// queue, emits pings and periodically renews the Redis presence mirror.
func (s *Server) writePump(client *Client) {
	ws := client.WS
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = ws.Close()
	}()

	for {
		select {
		case payload, ok := <-client.Send:
			if !ok {
				return
			}
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.TextMessage, payload); err != nil {
				logger.Infof("[ws] write err conn=%s err=%v", client.ConnID, err)
				s.dropConn(client)
				return
			}
		case <-ticker.C:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.dropConn(client)
				return
			}
			if user := client.UserID(); user != "" {
				safe.Go(func() { s.refreshPresenceMirror(user) })
			}
		case <-client.Done():
			// flush nothing; teardown already ran
			_ = ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return
		}
	}
}

func (s *Server) refreshPresenceMirror(user string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := storage.PresenceOnline(ctx, user, s.cfg.GatewayID, 2*time.Minute); err != nil {
		logger.Warnf("[ws] presence refresh user=%s: %v", user, err)
	}
}
