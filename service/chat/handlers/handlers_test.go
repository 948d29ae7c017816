package handlers

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	config "ChatRelay/global/config"
	"ChatRelay/service/chat"
	"ChatRelay/service/storage"
	errs "ChatRelay/tools/errs"
	sec "ChatRelay/tools/security"
)

// memStore is an in-memory storage.Store for gateway tests; membership and
// roles are seeded per test.
type memStore struct {
	mu        sync.Mutex
	roles     map[string]map[string]string // conversation -> user -> role
	types     map[string]string            // conversation -> type
	msgs      map[string]*storage.Message
	nextID    int
	createErr error
	expired   []storage.DeletedMessage
}

func newMemStore() *memStore {
	return &memStore{
		roles: make(map[string]map[string]string),
		types: make(map[string]string),
		msgs:  make(map[string]*storage.Message),
	}
}

func (m *memStore) seed(conversationID, convType string, members map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.types[conversationID] = convType
	m.roles[conversationID] = members
}

func (m *memStore) role(conversationID, userID string) string {
	if members, ok := m.roles[conversationID]; ok {
		return members[userID]
	}
	return ""
}

func (m *memStore) CreateMessage(ctx context.Context, in storage.CreateMessageInput) (*storage.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return nil, m.createErr
	}
	role := m.role(in.ConversationID, in.SenderID)
	if role == "" {
		return nil, errs.ErrNotMember.WrapMsg("conv", "id", in.ConversationID)
	}
	if m.types[in.ConversationID] == storage.ConvBroadcast && role != storage.RoleAdmin {
		return nil, errs.ErrNoPermission.WrapMsg("broadcast requires admin")
	}
	m.nextID++
	msg := &storage.Message{
		ID:             fmt.Sprintf("m%d", m.nextID),
		ConversationID: in.ConversationID,
		SenderID:       in.SenderID,
		Content:        in.Content,
		Attachments:    in.Attachments,
		ReplyToID:      in.ReplyToID,
		CreatedAt:      time.Now(),
	}
	m.msgs[msg.ID] = msg
	return msg, nil
}

func (m *memStore) UpdateMessage(ctx context.Context, conversationID, messageID, senderID, content string) (*storage.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.msgs[messageID]
	if !ok || msg.SenderID != senderID {
		return nil, errs.ErrNoPermission.WrapMsg("edit", "id", messageID)
	}
	now := time.Now()
	msg.Content = content
	msg.EditedAt = &now
	return msg, nil
}

func (m *memStore) DeleteMessage(ctx context.Context, conversationID, messageID, senderID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.msgs[messageID]
	if !ok || msg.SenderID != senderID {
		return errs.ErrNoPermission.WrapMsg("delete", "id", messageID)
	}
	delete(m.msgs, messageID)
	return nil
}

func (m *memStore) AddReaction(ctx context.Context, conversationID, messageID, userID, emoji string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.role(conversationID, userID) == "" {
		return errs.ErrNotMember.WrapMsg("react")
	}
	return nil
}

func (m *memStore) MarkMessagesAsRead(ctx context.Context, conversationID, userID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.role(conversationID, userID) == "" {
		return 0, errs.ErrNotMember.WrapMsg("mark_read")
	}
	return 1, nil
}

func (m *memStore) UpdateSettings(ctx context.Context, conversationID, userID string, timerSeconds int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.role(conversationID, userID) == "" {
		return errs.ErrNotMember.WrapMsg("settings")
	}
	return nil
}

func (m *memStore) AddEncryptionKey(ctx context.Context, conversationID, userID, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.role(conversationID, userID) == "" {
		return errs.ErrNotMember.WrapMsg("key")
	}
	return nil
}

func (m *memStore) DeleteExpiredMessages(ctx context.Context) ([]storage.DeletedMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.expired
	m.expired = nil
	return out, nil
}

func (m *memStore) GetUserConversations(ctx context.Context, userID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for conv, members := range m.roles {
		if members[userID] != "" {
			out = append(out, conv)
		}
	}
	return out, nil
}

func (m *memStore) MemberRole(ctx context.Context, conversationID, userID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.role(conversationID, userID), nil
}

// ---- fixture ----

func testConfig() *config.AppConfig {
	return &config.AppConfig{
		GatewayID:     "gw-test",
		JWTSecret:     []byte("gateway-test-secret"),
		SendQueueSize: 32,
		UnauthTTL:     time.Second,
		TypingTTL:     60 * time.Millisecond,
		FanoutWorkers: 2,
		FanoutQueue:   32,
	}
}

func newTestServer(t *testing.T, st storage.Store) *chat.Server {
	t.Helper()
	srv := chat.NewServer(testConfig(), st)
	RegisterAll(srv)
	t.Cleanup(srv.Close)
	return srv
}

// connect attaches an authenticated connection subscribed to the given
// conversations, skipping the wire-level auth handshake.
func connect(srv *chat.Server, connID, userID string, convs ...string) *chat.Client {
	c := chat.NewClient(connID, nil, srv.Config().SendQueueSize)
	srv.Attach(c)
	c.Bind(userID)
	for _, conv := range convs {
		srv.Registry().Subscribe(c, conv)
	}
	return c
}

func dispatch(srv *chat.Server, c *chat.Client, kind string, payload map[string]any) error {
	return srv.Router().Dispatch(&chat.Context{S: srv}, &chat.Frame{Kind: kind, Payload: payload}, c)
}

// recvKind drains the connection's outbound queue until a frame of the kind
// arrives, skipping unrelated frames (presence churn etc).
func recvKind(t *testing.T, c *chat.Client, kind string) *chat.Frame {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case raw := <-c.Send:
			f, err := chat.ParseFrame(raw)
			if err != nil {
				t.Fatalf("conn %s received unparseable frame: %v", c.ConnID, err)
			}
			if f.Kind == kind {
				return f
			}
		case <-deadline:
			t.Fatalf("conn %s never received %q", c.ConnID, kind)
		}
	}
}

// expectNoKind asserts no frame of the kind shows up within the window.
func expectNoKind(t *testing.T, c *chat.Client, kind string, d time.Duration) {
	t.Helper()
	deadline := time.After(d)
	for {
		select {
		case raw := <-c.Send:
			f, err := chat.ParseFrame(raw)
			if err != nil {
				t.Fatalf("conn %s received unparseable frame: %v", c.ConnID, err)
			}
			if f.Kind == kind {
				t.Fatalf("conn %s unexpectedly received %q: %v", c.ConnID, kind, f.Payload)
			}
		case <-deadline:
			return
		}
	}
}

// ---- scenarios ----

func TestSendMessageReachesAllMembers(t *testing.T) {
	st := newMemStore()
	st.seed("c1", storage.ConvGroup, map[string]string{"alice": storage.RoleMember, "bob": storage.RoleMember})
	st.seed("c2", storage.ConvGroup, map[string]string{"carol": storage.RoleMember})
	srv := newTestServer(t, st)

	a := connect(srv, "conn-a", "alice", "c1")
	b := connect(srv, "conn-b", "bob", "c1")
	cx := connect(srv, "conn-c", "carol", "c2")

	if err := dispatch(srv, a, chat.KindSendMessage, map[string]any{
		"conversationId": "c1",
		"content":        "hello there",
	}); err != nil {
		t.Fatalf("send_message failed: %v", err)
	}

	// sender and the other member both see the committed payload
	for _, cl := range []*chat.Client{a, b} {
		f := recvKind(t, cl, chat.KindMessage)
		if f.Payload["content"] != "hello there" {
			t.Fatalf("conn %s got wrong content: %v", cl.ConnID, f.Payload)
		}
		if f.Payload["senderId"] != "alice" {
			t.Fatalf("conn %s got wrong sender: %v", cl.ConnID, f.Payload)
		}
	}
	// nothing leaks into an unrelated conversation
	expectNoKind(t, cx, chat.KindMessage, 150*time.Millisecond)
}

func TestSendMessagePersistFailureStaysWithSender(t *testing.T) {
	st := newMemStore()
	st.seed("c1", storage.ConvGroup, map[string]string{"alice": storage.RoleMember, "bob": storage.RoleMember})
	st.createErr = errs.ErrStorage.WrapMsg("insert failed")
	srv := newTestServer(t, st)

	a := connect(srv, "conn-a", "alice", "c1")
	b := connect(srv, "conn-b", "bob", "c1")

	err := dispatch(srv, a, chat.KindSendMessage, map[string]any{
		"conversationId": "c1",
		"content":        "doomed",
	})
	if err == nil {
		t.Fatal("expected persistence error")
	}
	if !errs.ErrStorage.Is(err) {
		t.Fatalf("unexpected error: %v", err)
	}

	// recipients never observe a message the store rejected
	expectNoKind(t, b, chat.KindMessage, 150*time.Millisecond)
	expectNoKind(t, a, chat.KindMessage, 50*time.Millisecond)
}

func TestBroadcastConversationAdminOnly(t *testing.T) {
	st := newMemStore()
	st.seed("bc", storage.ConvBroadcast, map[string]string{
		"admin":  storage.RoleAdmin,
		"viewer": storage.RoleMember,
	})
	srv := newTestServer(t, st)

	admin := connect(srv, "conn-admin", "admin", "bc")
	viewer := connect(srv, "conn-viewer", "viewer", "bc")

	err := dispatch(srv, viewer, chat.KindSendMessage, map[string]any{
		"conversationId": "bc",
		"content":        "not allowed",
	})
	if err == nil {
		t.Fatal("non-admin post to broadcast conversation was accepted")
	}
	if !errs.ErrNoPermission.Is(err) {
		t.Fatalf("expected no-permission error, got %v", err)
	}
	if len(st.msgs) != 0 {
		t.Fatal("rejected message was persisted")
	}

	if err := dispatch(srv, admin, chat.KindSendMessage, map[string]any{
		"conversationId": "bc",
		"content":        "announcement",
	}); err != nil {
		t.Fatalf("admin post failed: %v", err)
	}
	f := recvKind(t, viewer, chat.KindMessage)
	if f.Payload["content"] != "announcement" {
		t.Fatalf("viewer got %v", f.Payload)
	}
}

func TestNonMemberCannotSend(t *testing.T) {
	st := newMemStore()
	st.seed("c1", storage.ConvGroup, map[string]string{"alice": storage.RoleMember})
	srv := newTestServer(t, st)

	// mallory has a live subscription but no durable membership
	mallory := connect(srv, "conn-m", "mallory", "c1")

	err := dispatch(srv, mallory, chat.KindSendMessage, map[string]any{
		"conversationId": "c1",
		"content":        "hi",
	})
	if !errs.ErrNotMember.Is(err) {
		t.Fatalf("expected not-member error, got %v", err)
	}
}

func TestTypingNotEchoedAndExpires(t *testing.T) {
	st := newMemStore()
	srv := newTestServer(t, st)

	a := connect(srv, "conn-a", "alice", "c1")
	b := connect(srv, "conn-b", "bob", "c1")

	if err := dispatch(srv, a, chat.KindTyping, map[string]any{"conversationId": "c1"}); err != nil {
		t.Fatalf("typing failed: %v", err)
	}

	f := recvKind(t, b, chat.KindTyping)
	if f.Payload["userId"] != "alice" || f.Payload["typing"] != true {
		t.Fatalf("bob got %v", f.Payload)
	}
	// the sender must not see their own indicator
	expectNoKind(t, a, chat.KindTyping, 30*time.Millisecond)

	// after the TTL the implicit stop frame goes out
	f = recvKind(t, b, chat.KindTyping)
	if f.Payload["typing"] != false {
		t.Fatalf("expected typing=false after TTL, got %v", f.Payload)
	}
}

func TestAuthHandshake(t *testing.T) {
	st := newMemStore()
	srv := newTestServer(t, st)

	token, _, _, err := sec.Generate(sec.DefaultOptions(srv.Config().JWTSecret), "alice", nil)
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}

	c := chat.NewClient("conn-a", nil, srv.Config().SendQueueSize)
	srv.Attach(c)

	// anything but auth is rejected on an unauthenticated connection
	if err := dispatch(srv, c, chat.KindTyping, map[string]any{"conversationId": "c1"}); !errs.ErrUnauthorized.Is(err) {
		t.Fatalf("expected unauthorized, got %v", err)
	}

	if err := dispatch(srv, c, chat.KindAuth, map[string]any{"token": token}); err != nil {
		t.Fatalf("auth failed: %v", err)
	}
	ack := recvKind(t, c, chat.KindAuthAck)
	if ack.Payload["userId"] != "alice" {
		t.Fatalf("wrong ack %v", ack.Payload)
	}
	if !srv.Presence().Online("alice") {
		t.Fatal("alice not marked online after auth")
	}

	// a repeat auth frame is harmless and re-acked
	if err := dispatch(srv, c, chat.KindAuth, map[string]any{"token": token}); err != nil {
		t.Fatalf("duplicate auth failed: %v", err)
	}
	recvKind(t, c, chat.KindAuthAck)
}

func TestAuthRejectsBadToken(t *testing.T) {
	st := newMemStore()
	srv := newTestServer(t, st)

	c := chat.NewClient("conn-a", nil, srv.Config().SendQueueSize)
	srv.Attach(c)

	err := dispatch(srv, c, chat.KindAuth, map[string]any{"token": "not-a-jwt"})
	if !errs.ErrTokenInvalid.Is(err) {
		t.Fatalf("expected token-invalid, got %v", err)
	}
	if c.Authorized() {
		t.Fatal("connection bound with a bad token")
	}
}

func TestJoinSendsPresenceSnapshotOnce(t *testing.T) {
	st := newMemStore()
	srv := newTestServer(t, st)

	srv.Presence().OnConnect("bob")
	a := connect(srv, "conn-a", "alice")

	if err := dispatch(srv, a, chat.KindJoinConversations, map[string]any{
		"conversationIds": []any{"c1", "c2"},
	}); err != nil {
		t.Fatalf("join failed: %v", err)
	}
	f := recvKind(t, a, chat.KindPresence)
	online, _ := f.Payload["onlineUserIds"].([]any)
	found := false
	for _, u := range online {
		if u == "bob" {
			found = true
		}
	}
	if !found {
		t.Fatalf("snapshot missing bob: %v", f.Payload)
	}

	// later joins rebuild subscriptions without a second snapshot
	if err := dispatch(srv, a, chat.KindJoinConversations, map[string]any{
		"conversationIds": []any{"c3"},
	}); err != nil {
		t.Fatalf("second join failed: %v", err)
	}
	expectNoKind(t, a, chat.KindPresence, 80*time.Millisecond)

	if got := srv.Registry().Subscriptions(a); len(got) != 3 {
		t.Fatalf("expected 3 subscriptions, got %v", got)
	}
}

func TestTeardownClearsAllState(t *testing.T) {
	st := newMemStore()
	st.seed("c1", storage.ConvGroup, map[string]string{"alice": storage.RoleMember, "bob": storage.RoleMember})
	srv := newTestServer(t, st)

	a := connect(srv, "conn-a", "alice", "c1")
	srv.Presence().OnConnect("alice")
	srv.Ephemeral().TouchTyping("c1", "alice")
	srv.Ephemeral().StartCall("c1", a.ConnID, "alice", "video")

	srv.Teardown(a)

	if got := srv.Registry().MembersOf("c1"); len(got) != 0 {
		t.Fatalf("registry still holds the connection: %v", got)
	}
	if srv.Presence().Online("alice") {
		t.Fatal("alice still online after teardown")
	}
	if got := srv.Ephemeral().TypingIn("c1"); len(got) != 0 {
		t.Fatalf("typing state survived teardown: %v", got)
	}
	if _, ok := srv.Ephemeral().ActiveCall("c1"); ok {
		t.Fatal("call session survived initiator teardown")
	}

	// double teardown must be a no-op
	srv.Teardown(a)
}

func TestCallInitiateAndSignalRelay(t *testing.T) {
	st := newMemStore()
	srv := newTestServer(t, st)

	a := connect(srv, "conn-a", "alice", "c1")
	b := connect(srv, "conn-b", "bob", "c1")

	if err := dispatch(srv, a, chat.KindCallInitiate, map[string]any{
		"conversationId": "c1",
		"callType":       "video",
	}); err != nil {
		t.Fatalf("call_initiate failed: %v", err)
	}
	f := recvKind(t, b, chat.KindCallInitiate)
	if f.Payload["fromUserId"] != "alice" || f.Payload["callType"] != "video" {
		t.Fatalf("bob got %v", f.Payload)
	}
	expectNoKind(t, a, chat.KindCallInitiate, 50*time.Millisecond)

	if err := dispatch(srv, b, chat.KindCallSignal, map[string]any{
		"conversationId": "c1",
		"signal":         map[string]any{"sdp": "answer-blob"},
	}); err != nil {
		t.Fatalf("call_signal failed: %v", err)
	}
	f = recvKind(t, a, chat.KindCallSignal)
	sig, _ := f.Payload["signal"].(map[string]any)
	if sig["sdp"] != "answer-blob" {
		t.Fatalf("signal not relayed verbatim: %v", f.Payload)
	}
	expectNoKind(t, b, chat.KindCallSignal, 50*time.Millisecond)

	if err := dispatch(srv, a, chat.KindCallInitiate, map[string]any{
		"conversationId": "c1",
		"callType":       "screenshare",
	}); err == nil {
		t.Fatal("invalid callType accepted")
	}
}

func TestCallDiesWithInitiator(t *testing.T) {
	st := newMemStore()
	srv := newTestServer(t, st)

	a := connect(srv, "conn-a", "alice", "c1")
	b := connect(srv, "conn-b", "bob", "c1")

	if err := dispatch(srv, a, chat.KindCallInitiate, map[string]any{
		"conversationId": "c1",
		"callType":       "audio",
	}); err != nil {
		t.Fatalf("call_initiate failed: %v", err)
	}
	recvKind(t, b, chat.KindCallInitiate)

	srv.Teardown(a)

	if _, ok := srv.Ephemeral().ActiveCall("c1"); ok {
		t.Fatal("call session outlived its initiator")
	}
	// no signaling replay: a later signal reaches nobody from the dead side
	if err := dispatch(srv, b, chat.KindCallSignal, map[string]any{
		"conversationId": "c1",
		"signal":         map[string]any{"sdp": "late"},
	}); err != nil {
		t.Fatalf("call_signal failed: %v", err)
	}
	expectNoKind(t, b, chat.KindCallSignal, 80*time.Millisecond)
}

func TestReadEditDeleteFlow(t *testing.T) {
	st := newMemStore()
	st.seed("c1", storage.ConvGroup, map[string]string{"alice": storage.RoleMember, "bob": storage.RoleMember})
	srv := newTestServer(t, st)

	a := connect(srv, "conn-a", "alice", "c1")
	b := connect(srv, "conn-b", "bob", "c1")

	if err := dispatch(srv, a, chat.KindSendMessage, map[string]any{
		"conversationId": "c1", "content": "v1",
	}); err != nil {
		t.Fatalf("send failed: %v", err)
	}
	msgID, _ := recvKind(t, b, chat.KindMessage).Payload["id"].(string)
	if msgID == "" {
		t.Fatal("message frame missing id")
	}

	if err := dispatch(srv, b, chat.KindMarkRead, map[string]any{"conversationId": "c1"}); err != nil {
		t.Fatalf("mark_read failed: %v", err)
	}
	f := recvKind(t, a, chat.KindStatusUpdate)
	if f.Payload["userId"] != "bob" || f.Payload["status"] != "read" {
		t.Fatalf("alice got %v", f.Payload)
	}

	if err := dispatch(srv, b, chat.KindAddReaction, map[string]any{
		"conversationId": "c1", "messageId": msgID, "emoji": "👍",
	}); err != nil {
		t.Fatalf("add_reaction failed: %v", err)
	}
	f = recvKind(t, a, chat.KindReactionAdded)
	if f.Payload["emoji"] != "👍" {
		t.Fatalf("alice got %v", f.Payload)
	}

	// only the sender may edit
	if err := dispatch(srv, b, chat.KindEditMessage, map[string]any{
		"conversationId": "c1", "messageId": msgID, "content": "hijacked",
	}); !errs.ErrNoPermission.Is(err) {
		t.Fatalf("non-sender edit: %v", err)
	}
	if err := dispatch(srv, a, chat.KindEditMessage, map[string]any{
		"conversationId": "c1", "messageId": msgID, "content": "v2",
	}); err != nil {
		t.Fatalf("edit failed: %v", err)
	}
	f = recvKind(t, b, chat.KindMessageEdited)
	if f.Payload["content"] != "v2" || f.Payload["editedAt"] == nil {
		t.Fatalf("bob got %v", f.Payload)
	}

	if err := dispatch(srv, a, chat.KindDeleteMessage, map[string]any{
		"conversationId": "c1", "messageId": msgID,
	}); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	f = recvKind(t, b, chat.KindMessageDeleted)
	if f.Payload["messageId"] != msgID {
		t.Fatalf("bob got %v", f.Payload)
	}
}

func TestSettingsAndEncryptionKeyBroadcast(t *testing.T) {
	st := newMemStore()
	st.seed("c1", storage.ConvGroup, map[string]string{"alice": storage.RoleMember, "bob": storage.RoleMember})
	srv := newTestServer(t, st)

	a := connect(srv, "conn-a", "alice", "c1")
	b := connect(srv, "conn-b", "bob", "c1")

	if err := dispatch(srv, a, chat.KindUpdateSettings, map[string]any{
		"conversationId":            "c1",
		"disappearingMessagesTimer": 86400,
	}); err != nil {
		t.Fatalf("update_settings failed: %v", err)
	}
	f := recvKind(t, b, chat.KindSettingsUpdated)
	if f.Payload["disappearingMessagesTimer"] != float64(86400) {
		t.Fatalf("bob got %v", f.Payload)
	}

	if err := dispatch(srv, a, chat.KindAddEncryptionKey, map[string]any{
		"conversationId": "c1",
		"key":            "base64-public-key",
	}); err != nil {
		t.Fatalf("add_encryption_key failed: %v", err)
	}
	f = recvKind(t, b, chat.KindEncryptionKeyAdded)
	if f.Payload["key"] != "base64-public-key" || f.Payload["userId"] != "alice" {
		t.Fatalf("bob got %v", f.Payload)
	}
}

func TestExpirySweepBroadcastsDeletions(t *testing.T) {
	st := newMemStore()
	srv := newTestServer(t, st)

	b := connect(srv, "conn-b", "bob", "c1")
	st.mu.Lock()
	st.expired = []storage.DeletedMessage{{MessageID: "m42", ConversationID: "c1"}}
	st.mu.Unlock()

	chat.NewExpirySweeper(srv, time.Hour).SweepOnce()

	f := recvKind(t, b, chat.KindMessageDeleted)
	if f.Payload["messageId"] != "m42" {
		t.Fatalf("bob got %v", f.Payload)
	}

	// a second sweep finds nothing and emits nothing
	chat.NewExpirySweeper(srv, time.Hour).SweepOnce()
	expectNoKind(t, b, chat.KindMessageDeleted, 80*time.Millisecond)
}
