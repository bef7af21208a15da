// Package ws carries the realtime protocol: one websocket per user
// session, an auth handshake, then JSON event frames in both directions.
package ws

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/driftlab/driftchat/internal/hub"
	"github.com/driftlab/driftchat/internal/model/chat"
)

const (
	sendBuffer   = 64
	writeTimeout = 10 * time.Second
	pongTimeout  = 60 * time.Second
	pingInterval = 54 * time.Second
)

// frame is the wire shape of every message after the handshake.
type frame struct {
	Type      string `json:"type"`
	Payload   any    `json:"payload,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// Client adapts one websocket connection to the hub's session contract.
// Deliveries funnel through a single writer goroutine, so a session
// observes events in the order they were enqueued.
type Client struct {
	id         string
	userID     string
	remoteAddr string
	userAgent  string
	conn       *websocket.Conn
	log        *zap.Logger

	mu        sync.Mutex
	closed    bool
	reason    string
	preempted bool

	send chan frame
	done chan struct{}
}

func newClient(id, userID string, conn *websocket.Conn, remoteAddr, userAgent string, log *zap.Logger) *Client {
	return &Client{
		id:         id,
		userID:     userID,
		remoteAddr: remoteAddr,
		userAgent:  userAgent,
		conn:       conn,
		log:        log,
		send:       make(chan frame, sendBuffer),
		done:       make(chan struct{}),
	}
}

func (c *Client) ID() string         { return c.id }
func (c *Client) UserID() string     { return c.userID }
func (c *Client) RemoteAddr() string { return c.remoteAddr }
func (c *Client) UserAgent() string  { return c.userAgent }

// Deliver enqueues an event for the writer. A full buffer drops the
// event rather than blocking the broadcaster.
func (c *Client) Deliver(ev chat.Event) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- frame{Type: ev.Name, Payload: ev.Payload, Timestamp: time.Now().Unix()}:
		return true
	default:
		c.log.Warn("send buffer full, dropping event",
			zap.String("userId", c.userID), zap.String("event", ev.Name))
		return false
	}
}

// Terminate ends the session server-side: session_ended goes out with
// the reason, then the writer flushes and closes the transport.
func (c *Client) Terminate(reason string) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.reason = reason
	if reason == hub.ReasonDuplicateLogin || reason == hub.ReasonForceLogout {
		c.preempted = true
	}
	select {
	case c.send <- frame{
		Type:      chat.EventSessionEnded,
		Payload:   chat.SessionEndedPayload{Reason: reason},
		Timestamp: time.Now().Unix(),
	}:
	default:
	}
	c.mu.Unlock()
	close(c.done)
}

// Connected reports whether the transport is still open.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed
}

// Preempted reports whether the session was ended by a newer login or a
// forced logout. The read loop uses it to skip the room-leave path: the
// replacement session still owns the user's room.
func (c *Client) Preempted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.preempted
}

// closeTransport marks the session closed without a session_ended frame.
// The read loop calls it when the peer disconnects on its own.
func (c *Client) closeTransport() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()
	close(c.done)
}

// writePump owns the connection's write side: queued frames, keepalive
// pings, and the closing handshake.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case f := <-c.send:
			if !c.writeFrame(f) {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			// Flush whatever is queued, session_ended included.
			for {
				select {
				case f := <-c.send:
					if !c.writeFrame(f) {
						return
					}
				default:
					c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
					c.conn.WriteMessage(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseNormalClosure, c.reason))
					return
				}
			}
		}
	}
}

func (c *Client) writeFrame(f frame) bool {
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := c.conn.WriteJSON(f); err != nil {
		c.log.Debug("frame write failed",
			zap.String("userId", c.userID), zap.String("type", f.Type), zap.Error(err))
		return false
	}
	return true
}
