// Package stream owns the streaming connection between one terminal
// session and its remote PTY endpoint. A Channel dials the endpoint,
// relays raw bytes in both directions, and reconnects with capped
// exponential backoff when the transport drops. Connection failures are
// never returned to callers; they are reported through the Events sink
// so the owning session can drive its state machine.
package stream

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"nhooyr.io/websocket"
)

const (
	sendBufferLen = 256
	pingInterval  = 30 * time.Second
	writeTimeout  = 10 * time.Second
)

// Conn is the subset of *websocket.Conn the channel uses. Tests install
// in-memory implementations.
type Conn interface {
	Read(ctx context.Context) (websocket.MessageType, []byte, error)
	Write(ctx context.Context, typ websocket.MessageType, p []byte) error
	Ping(ctx context.Context) error
	Close(code websocket.StatusCode, reason string) error
}

// Dialer establishes one connection attempt to the session endpoint.
type Dialer func(ctx context.Context) (Conn, error)

// Events receives connection lifecycle notifications. Implementations
// must not call back into the Channel while handling an event, except
// for Send and Resize which are always safe.
type Events interface {
	// ChannelConnecting fires when a dial attempt begins.
	ChannelConnecting()
	// ChannelOpened fires after a successful dial, once pending
	// geometry has been flushed to the remote side.
	ChannelOpened()
	// ChannelOutput delivers remote bytes in arrival order.
	ChannelOutput(p []byte)
	// ChannelDown fires when a dial fails or an open connection is
	// lost. retryIn is the delay until the next automatic attempt.
	ChannelDown(err error, retryIn time.Duration)
}

// controlResize is the only control message carried on the wire. It
// travels as a websocket text message; all terminal bytes are binary.
type controlResize struct {
	Type string `json:"type"`
	Cols int    `json:"cols"`
	Rows int    `json:"rows"`
}

type outFrame struct {
	typ  websocket.MessageType
	data []byte
}

// Channel is the streaming connection for one session.
type Channel struct {
	dial   Dialer
	events Events
	clock  Clock

	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.Mutex
	conn        Conn
	connCancel  context.CancelFunc
	closed      bool
	dialing     bool
	attempt     int
	lastErr     error
	retryTimer  Timer
	pendingCols int
	pendingRows int

	// outbound is allocated fresh for every connection, so frames queued
	// against a dead connection are never replayed into its successor.
	outbound chan outFrame
}

// New creates a Channel that will connect via dial and report to events.
// The channel does not connect until Open is called.
func New(dial Dialer, events Events, opts ...Option) *Channel {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Channel{
		dial:   dial,
		events: events,
		clock:  systemClock{},
		ctx:    ctx,
		cancel: cancel,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Option configures a Channel at construction.
type Option func(*Channel)

// WithClock substitutes the timer source, for tests.
func WithClock(clock Clock) Option {
	return func(c *Channel) { c.clock = clock }
}

// Open starts the first connection attempt. It returns immediately;
// the outcome arrives through the Events sink.
func (c *Channel) Open() {
	c.mu.Lock()
	if c.closed || c.dialing || c.conn != nil {
		c.mu.Unlock()
		return
	}
	c.dialing = true
	c.mu.Unlock()

	go c.connect()
}

// Send writes raw bytes to the open connection. Bytes sent while the
// connection is not open are dropped, matching the interactive-terminal
// semantic of not replaying stale input after a reconnect.
func (c *Channel) Send(p []byte) {
	c.mu.Lock()
	out := c.outbound
	open := c.conn != nil && !c.closed
	c.mu.Unlock()
	if !open || len(p) == 0 {
		return
	}

	buf := make([]byte, len(p))
	copy(buf, p)
	select {
	case out <- outFrame{typ: websocket.MessageBinary, data: buf}:
	default:
		// Outbound buffer full: the connection is stalled and the
		// read pump will notice shortly. Dropping keeps Send
		// non-blocking.
	}
}

// Resize records the session geometry and, if connected, notifies the
// remote side. Recorded geometry is re-applied on every successful open.
func (c *Channel) Resize(cols, rows int) {
	c.mu.Lock()
	c.pendingCols, c.pendingRows = cols, rows
	out := c.outbound
	open := c.conn != nil && !c.closed
	c.mu.Unlock()
	if !open {
		return
	}
	if frame, ok := resizeFrame(cols, rows); ok {
		select {
		case out <- frame:
		default:
		}
	}
}

// Retry forces an immediate reconnection attempt, resetting the backoff
// counter. No-op while connected or after Close.
func (c *Channel) Retry() {
	c.mu.Lock()
	if c.closed || c.dialing || c.conn != nil {
		c.mu.Unlock()
		return
	}
	if c.retryTimer != nil {
		c.retryTimer.Stop()
		c.retryTimer = nil
	}
	c.attempt = 0
	c.dialing = true
	c.mu.Unlock()

	go c.connect()
}

// Close cancels any pending retry and closes the connection. Idempotent;
// no events fire after Close returns.
func (c *Channel) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	if c.retryTimer != nil {
		c.retryTimer.Stop()
		c.retryTimer = nil
	}
	conn := c.conn
	c.conn = nil
	c.outbound = nil
	if c.connCancel != nil {
		c.connCancel()
		c.connCancel = nil
	}
	c.mu.Unlock()

	c.cancel()
	if conn != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "session closed")
	}
}

// LastError returns the most recent transport error, if any.
func (c *Channel) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Attempt returns the current backoff attempt counter.
func (c *Channel) Attempt() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempt
}

// IsOpen reports whether a connection is currently established.
func (c *Channel) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil && !c.closed
}

func (c *Channel) connect() {
	c.events.ChannelConnecting()

	conn, err := c.dial(c.ctx)

	c.mu.Lock()
	c.dialing = false
	if c.closed {
		c.mu.Unlock()
		if conn != nil {
			_ = conn.Close(websocket.StatusNormalClosure, "session closed")
		}
		return
	}
	if err != nil {
		c.lastErr = err
		delay := c.scheduleRetryLocked()
		c.mu.Unlock()
		c.events.ChannelDown(err, delay)
		return
	}

	c.attempt = 0
	c.lastErr = nil
	c.conn = conn
	c.outbound = make(chan outFrame, sendBufferLen)
	out := c.outbound
	connCtx, connCancel := context.WithCancel(c.ctx)
	c.connCancel = connCancel
	cols, rows := c.pendingCols, c.pendingRows
	c.mu.Unlock()

	// Apply recorded geometry before the session is told it is open, so
	// the first prompt renders at the right size.
	if frame, ok := resizeFrame(cols, rows); ok {
		_ = c.writeFrame(connCtx, conn, frame)
	}

	// Report the open before the pumps run, so a connection that dies
	// immediately still delivers ChannelOpened ahead of ChannelDown.
	c.events.ChannelOpened()

	go c.writePump(connCtx, conn, out)
	go c.readPump(connCtx, conn)
}

// readPump delivers remote bytes until the connection dies, then kicks
// off the reconnect cycle.
func (c *Channel) readPump(ctx context.Context, conn Conn) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			c.connectionLost(conn, err)
			return
		}
		c.mu.Lock()
		stale := c.closed || c.conn != conn
		c.mu.Unlock()
		if stale {
			return
		}
		if len(data) > 0 {
			c.events.ChannelOutput(data)
		}
	}
}

// writePump serializes all writes to one goroutine, with a keepalive
// ping between frames.
func (c *Channel) writePump(ctx context.Context, conn Conn, out <-chan outFrame) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.Ping(ctx); err != nil {
				return
			}
		case frame := <-out:
			if err := c.writeFrame(ctx, conn, frame); err != nil {
				return
			}
		}
	}
}

func (c *Channel) writeFrame(ctx context.Context, conn Conn, frame outFrame) error {
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return conn.Write(wctx, frame.typ, frame.data)
}

// connectionLost handles an unexpected closure of conn. Late callbacks
// from a superseded or closed connection are ignored.
func (c *Channel) connectionLost(conn Conn, err error) {
	c.mu.Lock()
	if c.closed || c.conn != conn {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.outbound = nil
	if c.connCancel != nil {
		c.connCancel()
		c.connCancel = nil
	}
	c.lastErr = err
	delay := c.scheduleRetryLocked()
	c.mu.Unlock()

	_ = conn.Close(websocket.StatusNormalClosure, "")
	c.events.ChannelDown(err, delay)
}

// scheduleRetryLocked arms the backoff timer and returns the delay.
// Caller holds c.mu.
func (c *Channel) scheduleRetryLocked() time.Duration {
	delay := backoffDelay(c.attempt)
	if c.attempt < maxBackoffAttempt {
		c.attempt++
	}
	c.retryTimer = c.clock.AfterFunc(delay, func() {
		c.mu.Lock()
		if c.closed || c.dialing || c.conn != nil {
			c.mu.Unlock()
			return
		}
		c.retryTimer = nil
		c.dialing = true
		c.mu.Unlock()
		c.connect()
	})
	return delay
}

func resizeFrame(cols, rows int) (outFrame, bool) {
	if cols <= 0 || rows <= 0 {
		return outFrame{}, false
	}
	data, err := json.Marshal(controlResize{Type: "resize", Cols: cols, Rows: rows})
	if err != nil {
		return outFrame{}, false
	}
	return outFrame{typ: websocket.MessageText, data: data}, true
}
