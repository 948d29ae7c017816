package chat

import (
	"sync"

	"github.com/gorilla/websocket"
)

// Client represents one live connection to the gateway.
// A single user may have multiple devices/connections, each maintained
// separately; presence is reference-counted across them.
type Client struct {
	ConnID string          // unique connection id (unique within the local gateway)
	WS     *websocket.Conn // underlying WebSocket, written only by the writer goroutine
	Send   chan []byte     // bounded outbound queue (consumed by a single writer goroutine)

	mu     sync.Mutex
	userID string // set once auth succeeds; "" while unauthenticated
	joined bool   // whether a join_conversations frame was seen (first join gets the presence snapshot)

	closeOnce    sync.Once
	teardownOnce sync.Once
	done         chan struct{}
}

// NewClient creates a new client connection object.
func NewClient(connID string, ws *websocket.Conn, sendQueueSize int) *Client {
	return &Client{
		ConnID: connID,
		WS:     ws,
		Send:   make(chan []byte, sendQueueSize),
		done:   make(chan struct{}),
	}
}

// Bind records the authenticated identity. Returns false if the connection
// was already bound.
func (c *Client) Bind(userID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.userID != "" {
		return false
	}
	c.userID = userID
	return true
}

// UserID returns the authenticated user id, "" if the connection never
// completed auth.
func (c *Client) UserID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userID
}

func (c *Client) Authorized() bool { return c.UserID() != "" }

// MarkJoined flips the first-join flag; returns true on the first call only.
func (c *Client) MarkJoined() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.joined {
		return false
	}
	c.joined = true
	return true
}

// Close signals the writer goroutine to drain and shut the socket. Safe to
// call repeatedly from broadcast and teardown paths.
func (c *Client) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// Done is closed once the connection is being torn down.
func (c *Client) Done() <-chan struct{} { return c.done }

// beginTeardown reports true exactly once; teardown work must run a single
// time even when the read loop and the broadcaster race to drop the
// connection.
func (c *Client) beginTeardown() bool {
	first := false
	c.teardownOnce.Do(func() { first = true })
	return first
}

// Enqueue offers a payload to the outbound queue without blocking. It
// returns false when the queue is full or the client is closing; the caller
// is expected to drop the connection rather than wait.
func (c *Client) Enqueue(payload []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.Send <- payload:
		return true
	default:
		return false
	}
}
