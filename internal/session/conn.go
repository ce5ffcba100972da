// ABOUTME: One live WebSocket connection with serialized writes
// ABOUTME: Tracks in-flight frame handlers so close can wait for them

package session

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/2389/mcp-dispatch/internal/auth"
)

const writeTimeout = 10 * time.Second

// Conn is a connected WebSocket client.
type Conn struct {
	ID       string
	Identity *auth.Identity

	conn   *websocket.Conn
	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc

	// inflight counts frame handlers still running for this connection.
	inflight sync.WaitGroup
}

// Subject returns the authenticated subject, or "" for anonymous clients.
func (c *Conn) Subject() string {
	if c.Identity == nil {
		return ""
	}
	return c.Identity.Subject
}

// WriteJSON sends v as one text frame. Safe for concurrent use.
func (c *Conn) WriteJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteJSON(v)
}

// closeWith sends a close frame with code and reason, then closes the socket.
func (c *Conn) closeWith(code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	_ = c.conn.Close()
}
