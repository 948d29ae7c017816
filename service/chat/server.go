package chat

import (
	"context"
	"sync"
	"time"

	config "ChatRelay/global/config"
	"ChatRelay/logger"
	"ChatRelay/service/storage"
	"ChatRelay/tools/safe"
)

// Relay fans broadcasts out to peer gateways; nil in single-node deployments.
type Relay interface {
	Publish(conversationID string, payload []byte) error
}

// Feed receives durably-committed message events for downstream consumers;
// nil when the feed is disabled.
type Feed interface {
	PublishMessage(msg *storage.Message) error
}

// Server owns the realtime core of one gateway node: the connection table,
// conversation registry, presence tracker, ephemeral state and the broadcast
// engine.
type Server struct {
	cfg      *config.AppConfig
	reg      *Registry
	presence *PresenceTracker
	eph      *Ephemeral
	fanout   *Fanout
	store    storage.Store
	router   *Router
	relay    Relay
	feed     Feed

	mu    sync.RWMutex
	conns map[string]*Client // every attached connection, authed or not
}

func NewServer(cfg *config.AppConfig, store storage.Store) *Server {
	s := &Server{
		cfg:   cfg,
		reg:   NewRegistry(),
		store: store,
		conns: make(map[string]*Client),
	}
	s.presence = NewPresenceTracker(s)
	s.eph = NewEphemeral(cfg.TypingTTL, s.onTypingExpired)
	s.fanout = NewFanout(cfg.FanoutWorkers, cfg.FanoutQueue, s.dropConn)
	s.router = NewRouter()
	return s
}

func (s *Server) Registry() *Registry        { return s.reg }
func (s *Server) Presence() *PresenceTracker { return s.presence }
func (s *Server) Ephemeral() *Ephemeral      { return s.eph }
func (s *Server) Store() storage.Store       { return s.store }
func (s *Server) Router() *Router            { return s.router }
func (s *Server) Config() *config.AppConfig  { return s.cfg }

func (s *Server) SetRelay(r Relay) { s.relay = r }
func (s *Server) SetFeed(f Feed)   { s.feed = f }

// Attach registers a fresh, not yet authenticated connection.
func (s *Server) Attach(c *Client) {
	s.mu.Lock()
	s.conns[c.ConnID] = c
	s.mu.Unlock()
}

// Teardown is the single disconnect path. It must complete before the
// connection handle is discarded so no broadcast can reference a dead
// connection: registry first, then presence, then ephemeral state.
func (s *Server) Teardown(c *Client) {
	if c == nil || !c.beginTeardown() {
		return
	}

	s.reg.UnsubscribeAll(c)

	user := c.UserID()
	if user != "" {
		s.presence.OnDisconnect(user)
		s.eph.ClearTypingBy(user)
	}
	// Calls this connection initiated die with it; no signaling replay.
	s.eph.EndCallsByConn(c.ConnID)

	s.mu.Lock()
	delete(s.conns, c.ConnID)
	s.mu.Unlock()

	c.Close()
}

// dropConn is the fanout's dead-connection callback. Teardown is done off
// the worker goroutine so one stuck teardown cannot stall deliveries.
func (s *Server) dropConn(c *Client) {
	safe.Go(func() { s.Teardown(c) })
}

// BroadcastToConversation serializes once and delivers to every live member
// of the conversation, optionally excluding one connection (used to avoid
// echoing typing/call frames to their sender). The payload is also relayed
// to peer gateways; relay errors never gate local delivery.
func (s *Server) BroadcastToConversation(conversationID, kind string, payload any, except *Client) {
	raw, err := EncodeFrame(kind, payload)
	if err != nil {
		logger.Errorf("[server] encode %s failed: %v", kind, err)
		return
	}
	s.deliverLocal(conversationID, raw, except)
	if s.relay != nil {
		if err := s.relay.Publish(conversationID, raw); err != nil {
			logger.Warnf("[server] relay publish conv=%s: %v", conversationID, err)
		}
	}
}

// DeliverLocal fans a pre-serialized frame out to local members only; the
// relay receiver uses it for frames originating on other gateways.
func (s *Server) DeliverLocal(conversationID string, raw []byte) {
	s.deliverLocal(conversationID, raw, nil)
}

func (s *Server) deliverLocal(conversationID string, raw []byte, except *Client) {
	members := s.reg.MembersOf(conversationID)
	if len(members) == 0 {
		return
	}
	s.fanout.Broadcast(conversationID, members, raw, except)
}

// BroadcastGlobal delivers to every attached, authenticated connection;
// presence transitions are global, not conversation-scoped.
func (s *Server) BroadcastGlobal(kind string, payload any) {
	raw, err := EncodeFrame(kind, payload)
	if err != nil {
		logger.Errorf("[server] encode %s failed: %v", kind, err)
		return
	}
	s.mu.RLock()
	conns := make([]*Client, 0, len(s.conns))
	for _, c := range s.conns {
		if c.Authorized() {
			conns = append(conns, c)
		}
	}
	s.mu.RUnlock()
	s.fanout.Broadcast("", conns, raw, nil)
}

// SendTo queues a frame for a single connection; a full queue drops the
// connection like any other failed delivery.
func (s *Server) SendTo(c *Client, kind string, payload any) {
	raw, err := EncodeFrame(kind, payload)
	if err != nil {
		logger.Errorf("[server] encode %s failed: %v", kind, err)
		return
	}
	if !c.Enqueue(raw) {
		logger.Warnf("[server] send queue full, dropping conn=%s", c.ConnID)
		s.dropConn(c)
	}
}

// SendError reports a failure to the offending connection only; errors are
// never broadcast.
func (s *Server) SendError(c *Client, inKind string, code int, msg string) {
	s.SendTo(c, KindError, ErrorPayload{Code: code, Msg: msg, Kind: inKind})
}

// ---- PresenceEvents ----

// UserOnline broadcasts the refreshed online set and mirrors the transition
// into Redis.
func (s *Server) UserOnline(userID string) {
	s.BroadcastGlobal(KindPresence, PresencePayload{OnlineUserIDs: s.presence.Snapshot()})
	safe.Go(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := storage.PresenceOnline(ctx, userID, s.cfg.GatewayID, 2*time.Minute); err != nil {
			logger.Warnf("[presence] redis online user=%s: %v", userID, err)
		}
	})
}

// UserOffline broadcasts the refreshed online set and records last-seen.
func (s *Server) UserOffline(userID string, lastSeen time.Time) {
	s.BroadcastGlobal(KindPresence, PresencePayload{OnlineUserIDs: s.presence.Snapshot()})
	safe.Go(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := storage.PresenceOffline(ctx, userID, lastSeen); err != nil {
			logger.Warnf("[presence] redis offline user=%s: %v", userID, err)
		}
	})
}

// onTypingExpired relays the implicit "stopped typing" once the debounced
// TTL elapses; no explicit cancel frame exists in the protocol.
func (s *Server) onTypingExpired(conversationID, userID string) {
	s.BroadcastToConversation(conversationID, KindTyping, TypingEvent{
		ConversationID: conversationID,
		UserID:         userID,
		Typing:         false,
	}, nil)
}

// PublishToFeed hands a committed message to the durable feed, if enabled.
func (s *Server) PublishToFeed(msg *storage.Message) {
	if s.feed == nil {
		return
	}
	if err := s.feed.PublishMessage(msg); err != nil {
		logger.Warnf("[server] feed publish msg=%s: %v", msg.ID, err)
	}
}

// Close shuts the core down; attached connections are torn down first so
// registries empty out before the fanout drains.
func (s *Server) Close() {
	s.mu.RLock()
	conns := make([]*Client, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.RUnlock()
	for _, c := range conns {
		s.Teardown(c)
	}
	s.eph.Stop()
	s.fanout.Close()
}
