package hub

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fathima-sithara/tiffin-realtime/internal/domain"
)

const DefaultSendBuffer = 256

// Client is one authenticated socket. The identity is fixed for its lifetime.
type Client struct {
	ID        string
	UserID    string
	Role      domain.Role
	Connected time.Time

	send   chan []byte
	mu     sync.Mutex
	closed bool
}

func NewClient(id domain.Identity, buffer int) *Client {
	if buffer <= 0 {
		buffer = DefaultSendBuffer
	}
	return &Client{
		ID:        uuid.NewString(),
		UserID:    id.UserID,
		Role:      id.Role,
		Connected: time.Now().UTC(),
		send:      make(chan []byte, buffer),
	}
}

func (c *Client) Identity() domain.Identity {
	return domain.Identity{UserID: c.UserID, Role: c.Role}
}

// Send is drained by the connection's writer goroutine. It is closed on disconnect.
func (c *Client) Send() <-chan []byte { return c.send }

// Deliver never blocks; false means the buffer was full or the client is gone.
func (c *Client) Deliver(payload []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

func (c *Client) Close() {
	c.mu.Lock()
	if !c.closed {
		close(c.send)
		c.closed = true
	}
	c.mu.Unlock()
}

func (c *Client) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
