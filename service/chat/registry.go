package chat

import (
	"sync"
)

// Registry tracks which live connections are subscribed to which
// conversation. It is a cache of "who is currently listening": membership is
// rebuilt from the client's join_conversations frames after every reconnect
// and is never persisted.
type Registry struct {
	mu     sync.RWMutex
	byConv map[string]map[string]*Client  // conversation -> conn_id -> client
	byConn map[string]map[string]struct{} // conn_id -> set of conversation ids
}

func NewRegistry() *Registry {
	return &Registry{
		byConv: make(map[string]map[string]*Client),
		byConn: make(map[string]map[string]struct{}),
	}
}

// Subscribe adds the connection to the conversation's membership set.
// Idempotent: re-joining a conversation is a no-op.
func (r *Registry) Subscribe(c *Client, conversationID string) {
	if c == nil || conversationID == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	m := r.byConv[conversationID]
	if m == nil {
		m = make(map[string]*Client)
		r.byConv[conversationID] = m
	}
	m[c.ConnID] = c

	set := r.byConn[c.ConnID]
	if set == nil {
		set = make(map[string]struct{})
		r.byConn[c.ConnID] = set
	}
	set[conversationID] = struct{}{}
}

// UnsubscribeAll removes the connection from every membership set it belongs
// to. Safe against double-disconnect races: unsubscribing a connection that
// is not present is a no-op.
func (r *Registry) UnsubscribeAll(c *Client) {
	if c == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	for convID := range r.byConn[c.ConnID] {
		if m := r.byConv[convID]; m != nil {
			delete(m, c.ConnID)
			if len(m) == 0 {
				delete(r.byConv, convID)
			}
		}
	}
	delete(r.byConn, c.ConnID)
}

// MembersOf returns a snapshot of the live membership set. The copy is safe
// to iterate while subscriptions mutate concurrently.
func (r *Registry) MembersOf(conversationID string) []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m := r.byConv[conversationID]
	if len(m) == 0 {
		return nil
	}
	out := make([]*Client, 0, len(m))
	for _, c := range m {
		out = append(out, c)
	}
	return out
}

// Subscriptions returns the conversation ids the connection is subscribed to.
func (r *Registry) Subscriptions(c *Client) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set := r.byConn[c.ConnID]
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	return out
}

// ListAll returns every registered connection (debugging/statistics only).
func (r *Registry) ListAll() []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[string]*Client)
	for _, m := range r.byConv {
		for id, c := range m {
			seen[id] = c
		}
	}
	out := make([]*Client, 0, len(seen))
	for _, c := range seen {
		out = append(out, c)
	}
	return out
}
