package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// ConnectionOptions tunes a single connection's writer
type ConnectionOptions struct {
	SendBuffer   int           // queued frames before the connection is dropped
	WriteTimeout time.Duration // deadline for one frame or ping
	PingPeriod   time.Duration // <= 0 disables pings
}

// DefaultConnectionOptions returns the writer settings used when none are configured
func DefaultConnectionOptions() ConnectionOptions {
	return ConnectionOptions{
		SendBuffer:   100,
		WriteTimeout: 5 * time.Second,
		PingPeriod:   30 * time.Second,
	}
}

// Connection implements the interfaces.Connection interface
// ARCHITECTURAL DISCOVERY: WebSocket writes must be serialized to prevent race conditions
// Interface boundary maintained - no business logic in connection wrapper
type Connection struct {
	id        string
	conn      *websocket.Conn
	writeCh   chan []byte
	opts      ConnectionOptions
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// NewConnection wraps conn with a fresh server-assigned id and starts its writer
func NewConnection(conn *websocket.Conn, opts ConnectionOptions) *Connection {
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = DefaultConnectionOptions().SendBuffer
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = DefaultConnectionOptions().WriteTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		id:      uuid.New().String(),
		conn:    conn,
		writeCh: make(chan []byte, opts.SendBuffer),
		opts:    opts,
		ctx:     ctx,
		cancel:  cancel,
	}

	go c.writeLoop()
	return c
}

// ID returns the connection identity
func (c *Connection) ID() string {
	return c.id
}

// Done is closed once the connection is closed
func (c *Connection) Done() <-chan struct{} {
	return c.ctx.Done()
}

// ARCHITECTURAL DISCOVERY: Single writer goroutine owns every write to the
// socket, pings included, so gorilla's one-writer rule always holds
func (c *Connection) writeLoop() {
	defer func() { _ = c.Close() }()

	var ping <-chan time.Time
	if c.opts.PingPeriod > 0 {
		ticker := time.NewTicker(c.opts.PingPeriod)
		defer ticker.Stop()
		ping = ticker.C
	}

	for {
		select {
		case data := <-c.writeCh:
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ping:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.opts.WriteTimeout)); err != nil {
				return
			}

		case <-c.ctx.Done():
			return
		}
	}
}

// WriteJSON queues v for the client without blocking
// FUNCTIONAL DISCOVERY: A client that cannot keep up with its buffer is
// disconnected; stalling the caller would stall every other client
func (c *Connection) WriteJSON(v any) error {
	select {
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
	}

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}

	select {
	case c.writeCh <- data:
		return nil
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
		_ = c.Close()
		return ErrSendBufferFull
	}
}

// Close stops the writer and closes the socket; safe to call repeatedly
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		if c.conn != nil {
			err = c.conn.Close()
		}
	})
	return err
}
