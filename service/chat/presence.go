package chat

import (
	"sync"
	"time"
)

// PresenceEvents receives online/offline transitions. Wired by the server to
// the global presence broadcast and the Redis mirror; tests plug in a stub.
type PresenceEvents interface {
	UserOnline(userID string)
	UserOffline(userID string, lastSeen time.Time)
}

// PresenceTracker reference-counts live connections per user. A user is
// online iff their connection count > 0; multiple tabs/devices keep the
// count above zero until the last one disconnects.
type PresenceTracker struct {
	mu     sync.Mutex
	counts map[string]int
	events PresenceEvents
	clock  func() time.Time
}

func NewPresenceTracker(events PresenceEvents) *PresenceTracker {
	return &PresenceTracker{
		counts: make(map[string]int),
		events: events,
		clock:  time.Now,
	}
}

// OnConnect increments the user's connection count. The 0→1 transition
// emits the online event.
func (p *PresenceTracker) OnConnect(userID string) {
	if userID == "" {
		return
	}
	p.mu.Lock()
	p.counts[userID]++
	first := p.counts[userID] == 1
	p.mu.Unlock()

	if first && p.events != nil {
		p.events.UserOnline(userID)
	}
}

// OnDisconnect decrements the count. The 1→0 transition emits the offline
// event with the last-seen stamp. Calling it for a user with no connections
// is a no-op; pairing with OnConnect is enforced by the caller through the
// Client entity (a connection that never authenticated never gets here).
func (p *PresenceTracker) OnDisconnect(userID string) {
	if userID == "" {
		return
	}
	p.mu.Lock()
	n, ok := p.counts[userID]
	if !ok {
		p.mu.Unlock()
		return
	}
	n--
	last := n == 0
	if last {
		delete(p.counts, userID)
	} else {
		p.counts[userID] = n
	}
	p.mu.Unlock()

	if last && p.events != nil {
		p.events.UserOffline(userID, p.clock())
	}
}

// Snapshot returns the set of currently online user ids.
func (p *PresenceTracker) Snapshot() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.counts))
	for u := range p.counts {
		out = append(out, u)
	}
	return out
}

// Online reports whether the user has at least one live connection.
func (p *PresenceTracker) Online(userID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.counts[userID] > 0
}
