package chat

import (
	"sync"
	"time"
)

type typingKey struct {
	conversationID string
	userID         string
}

type typingEntry struct {
	timer *time.Timer
	gen   uint64 // guards against a stale timer firing after a refresh
}

type CallSession struct {
	ConversationID string
	InitiatorConn  string // conn id, used to clear the session on initiator disconnect
	InitiatorUser  string
	CallType       string // "audio" | "video"
	StartedAt      time.Time
}

// Ephemeral owns short-lived, never-persisted state: active typing
// indicators and in-flight call-signaling sessions. Typing entries expire on
// a debounced timer; repeat typing events within the TTL reset the clock so
// the indicator expires once, after the last event.
type Ephemeral struct {
	mu     sync.Mutex
	typing map[typingKey]*typingEntry
	calls  map[string]CallSession // conversation id -> active call

	ttl      time.Duration
	onExpire func(conversationID, userID string) // fired outside the lock
}

func NewEphemeral(typingTTL time.Duration, onExpire func(conversationID, userID string)) *Ephemeral {
	if typingTTL <= 0 {
		typingTTL = 3 * time.Second
	}
	return &Ephemeral{
		typing:   make(map[typingKey]*typingEntry),
		calls:    make(map[string]CallSession),
		ttl:      typingTTL,
		onExpire: onExpire,
	}
}

// TouchTyping upserts the typing indicator and refreshes its TTL. The prior
// pending expiry is cancelled so a burst of typing events expires exactly
// once, after the last event.
func (e *Ephemeral) TouchTyping(conversationID, userID string) {
	k := typingKey{conversationID: conversationID, userID: userID}

	e.mu.Lock()
	ent := e.typing[k]
	if ent == nil {
		ent = &typingEntry{}
		e.typing[k] = ent
	} else if ent.timer != nil {
		ent.timer.Stop()
	}
	ent.gen++
	gen := ent.gen
	ent.timer = time.AfterFunc(e.ttl, func() { e.expireTyping(k, gen) })
	e.mu.Unlock()
}

func (e *Ephemeral) expireTyping(k typingKey, gen uint64) {
	e.mu.Lock()
	ent := e.typing[k]
	if ent == nil || ent.gen != gen {
		// refreshed or cleared since this timer was armed
		e.mu.Unlock()
		return
	}
	delete(e.typing, k)
	cb := e.onExpire
	e.mu.Unlock()

	if cb != nil {
		cb(k.conversationID, k.userID)
	}
}

// ClearTypingBy drops all typing indicators owned by the user without firing
// expiry callbacks; used on disconnect.
func (e *Ephemeral) ClearTypingBy(userID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for k, ent := range e.typing {
		if k.userID != userID {
			continue
		}
		if ent.timer != nil {
			ent.timer.Stop()
		}
		delete(e.typing, k)
	}
}

// TypingIn returns the user ids currently marked typing in the conversation.
func (e *Ephemeral) TypingIn(conversationID string) []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []string
	for k := range e.typing {
		if k.conversationID == conversationID {
			out = append(out, k.userID)
		}
	}
	return out
}

// StartCall records the active call for a conversation. The gateway is a
// pure relay: no signaling payloads are retained for replay, so a
// reconnecting participant has to restart the call.
func (e *Ephemeral) StartCall(conversationID, initiatorConn, initiatorUser, callType string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls[conversationID] = CallSession{
		ConversationID: conversationID,
		InitiatorConn:  initiatorConn,
		InitiatorUser:  initiatorUser,
		CallType:       callType,
		StartedAt:      time.Now(),
	}
}

// EndCall clears the call session for the conversation, reporting whether
// one existed.
func (e *Ephemeral) EndCall(conversationID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.calls[conversationID]
	delete(e.calls, conversationID)
	return ok
}

// ActiveCall returns the call session for the conversation, if any.
func (e *Ephemeral) ActiveCall(conversationID string) (CallSession, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.calls[conversationID]
	return s, ok
}

// EndCallsByConn clears every call session initiated from the given
// connection and returns the affected conversation ids; used on disconnect.
func (e *Ephemeral) EndCallsByConn(connID string) []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []string
	for conv, s := range e.calls {
		if s.InitiatorConn == connID {
			delete(e.calls, conv)
			out = append(out, conv)
		}
	}
	return out
}

// Stop cancels all pending timers; used on shutdown and in tests.
func (e *Ephemeral) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for k, ent := range e.typing {
		if ent.timer != nil {
			ent.timer.Stop()
		}
		delete(e.typing, k)
	}
	for conv := range e.calls {
		delete(e.calls, conv)
	}
}
