// Package server manages individual WebSocket clients, handling read/write
// pumps, rate limiting, and lifecycle control for each connection.
package server

import (
	"context"
	"errors"
	"io"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/roomrelay/internal/room"
)

const leaveTimeout = 5 * time.Second

// Client is one WebSocket connection. It is the room.Sender of its session:
// the coordinator queues payloads with Send, the write pump drains them and
// the read pump feeds inbound frames back to the coordinator.
type Client struct {
	conn *websocket.Conn
	addr string

	mu     sync.Mutex
	send   chan []byte
	closed bool

	maxMessageSize int64
	pingInterval   time.Duration
	pongWait       time.Duration
	writeWait      time.Duration
	rateLimiter    *rateLimiter
	rateLimit      RateLimitConfig

	session *room.Session
	room    *room.Coordinator
}

// NewClient creates a Client for conn using the limits in cfg. The send queue
// holds cfg.SendBufferSize payloads, and never fewer than a join queues before
// the peer reads anything.
func NewClient(conn *websocket.Conn, addr string, cfg Config) *Client {
	if conn != nil {
		conn.SetReadLimit(cfg.MaxMessageSize)
	}
	size := sendQueueSize(cfg)

	return &Client{
		conn:           conn,
		addr:           addr,
		send:           make(chan []byte, size),
		maxMessageSize: cfg.MaxMessageSize,
		pingInterval:   cfg.PingInterval,
		pongWait:       cfg.PongWait,
		writeWait:      cfg.WriteWait,
		rateLimiter:    newRateLimiter(cfg.RateLimit),
		rateLimit:      cfg.RateLimit,
	}
}

// sendQueueSize is the larger of the configured buffer and the join burst:
// the identity assignment, the full history window and the presence update.
func sendQueueSize(cfg Config) int {
	def := defaultConfig()
	size := cfg.SendBufferSize
	if size <= 0 {
		size = def.SendBufferSize
	}
	limit := cfg.HistoryLimit
	if limit <= 0 {
		limit = def.HistoryLimit
	}
	return max(size, limit+2)
}

// attach binds the client to its session and room.
func (c *Client) attach(s *room.Session, coord *room.Coordinator) {
	c.session = s
	c.room = coord
}

// Send queues payload without blocking. A full queue means the peer is not
// keeping up; the connection is closed and ErrSendBufferFull returned.
func (c *Client) Send(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrSessionClosed
	}

	select {
	case c.send <- payload:
		return nil
	default:
		log.Printf("Send buffer full for %s; closing connection", c.addr)
		c.closeLocked()
		return ErrSendBufferFull
	}
}

// Close stops the write pump, which sends a close frame and closes the
// connection. The read pump then exits and leaves the room.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLocked()
	return nil
}

func (c *Client) closeLocked() {
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// isClosed reports whether Close has been called.
func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// setupReadConnection configures read deadlines and pong handler for the
// WebSocket connection. A zero pong wait leaves reads without a deadline.
func (c *Client) setupReadConnection() {
	if c.pongWait <= 0 {
		if err := c.conn.SetReadDeadline(time.Time{}); err != nil {
			log.Printf("Error clearing read deadline for %s: %v", c.addr, err)
		}
		return
	}

	if err := c.conn.SetReadDeadline(time.Now().Add(c.pongWait)); err != nil {
		log.Printf("Error setting initial read deadline for %s: %v", c.addr, err)
	}
	c.conn.SetPongHandler(func(string) error {
		if err := c.conn.SetReadDeadline(time.Now().Add(c.pongWait)); err != nil {
			log.Printf("Error setting read deadline in pong handler for %s: %v", c.addr, err)
		}
		return nil
	})
}

// handleReadError logs the read error by kind. Every read error ends the
// read loop.
func (c *Client) handleReadError(err error) {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		log.Printf("Message from %s exceeded maximum size of %d bytes", c.addr, c.maxMessageSize)
	case websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived,
		websocket.CloseAbnormalClosure):
		log.Printf("Client %s disconnected: %v", c.addr, err)
	case errors.Is(err, io.EOF) || isExpectedCloseError(err):
		log.Printf("Client %s connection closed: %v", c.addr, err)
	case websocket.IsUnexpectedCloseError(err,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure,
		websocket.CloseMessageTooBig):
		log.Printf("Unexpected WebSocket error from %s: %v", c.addr, err)
	default:
		log.Printf("WebSocket read error from %s: %v", c.addr, err)
	}
}

// checkRateLimit verifies if the client has exceeded rate limits
// and returns true if the message should be processed
func (c *Client) checkRateLimit() bool {
	if c.rateLimiter != nil && !c.rateLimiter.allow() {
		log.Printf("Rate limit exceeded for %s (%d messages per %s); discarding message", c.addr, c.rateLimit.Burst, c.rateLimit.RefillInterval)
		return false
	}
	return true
}

// readPump forwards inbound text frames to the room until the connection
// fails, then leaves the room.
func (c *Client) readPump(ctx context.Context) {
	defer func() {
		c.leave()
		if err := c.conn.Close(); err != nil {
			if !isExpectedCloseError(err) {
				log.Printf("Error closing connection in readPump: %v", err)
			}
		}
	}()

	c.setupReadConnection()

	for {
		messageType, rawMessage, err := c.conn.ReadMessage()
		if err != nil {
			c.handleReadError(err)
			return
		}

		if messageType != websocket.TextMessage {
			log.Printf("Ignoring non-text frame from %s", c.addr)
			continue
		}

		if !c.checkRateLimit() {
			continue
		}

		if err := c.room.Receive(ctx, c.session, rawMessage); err != nil {
			log.Printf("Dropping message from %s: %v", c.addr, err)
			if errors.Is(err, room.ErrCoordinatorStopped) || ctx.Err() != nil {
				return
			}
		}
	}
}

func (c *Client) leave() {
	ctx, cancel := context.WithTimeout(context.Background(), leaveTimeout)
	defer cancel()

	if err := c.room.Leave(ctx, c.session); err != nil && !errors.Is(err, room.ErrCoordinatorStopped) {
		log.Printf("Error leaving room %s for %s: %v", c.room.Name(), c.addr, err)
	}
	if err := c.Close(); err != nil {
		log.Printf("Error closing client %s: %v", c.addr, err)
	}
}

func (c *Client) writePump() {
	var tick <-chan time.Time
	if c.pingInterval > 0 {
		ticker := time.NewTicker(c.pingInterval)
		defer ticker.Stop()
		tick = ticker.C
	}
	defer c.closeConnection()

	for c.processWriteEvent(tick) {
	}
}

// processWriteEvent waits for the next write event and returns false when the
// pump should stop processing.
func (c *Client) processWriteEvent(tick <-chan time.Time) bool {
	select {
	case message, ok := <-c.send:
		return c.handleMessage(message, ok)
	case <-tick:
		return c.handlePing()
	}
}

// closeConnection safely closes the WebSocket connection with proper error handling
func (c *Client) closeConnection() {
	if err := c.conn.Close(); err != nil {
		if !isExpectedCloseError(err) {
			log.Printf("Error closing connection in writePump: %v", err)
		}
	}
}

// handleMessage writes one queued payload, or the close frame once the queue
// is closed. It returns false if the connection should be closed.
func (c *Client) handleMessage(message []byte, ok bool) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeWait)); err != nil {
		log.Printf("Error setting write deadline for %s: %v", c.addr, err)
		return false
	}

	if !ok {
		return c.writeCloseMessage()
	}

	if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
		if !isExpectedCloseError(err) {
			log.Printf("Error writing message to %s: %v", c.addr, err)
		}
		return false
	}
	return true
}

// writeCloseMessage sends a close message to the client
func (c *Client) writeCloseMessage() bool {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	if err := c.conn.WriteMessage(websocket.CloseMessage, msg); err != nil {
		if !isExpectedCloseError(err) {
			log.Printf("Error writing close message to %s: %v", c.addr, err)
		}
	}
	return false
}

// handlePing sends a ping message to keep the connection alive
func (c *Client) handlePing() bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeWait)); err != nil {
		log.Printf("Error setting write deadline for ping to %s: %v", c.addr, err)
		return false
	}
	if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
		log.Printf("Error writing ping message to %s: %v", c.addr, err)
		return false
	}
	return true
}
