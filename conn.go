// Package msgsocket provides message-oriented communication over TCP.
// Messages travel as length-prefixed frames: a 4-byte big-endian length
// followed by the payload. A Conn turns the byte stream into whole messages,
// reconnects on failure and reports lifecycle events through registered
// handlers. A RequestChannel layers a single-flight request/response call on
// top of a Conn, and a Host accepts and tracks inbound connections.
package msgsocket

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/sync/semaphore"
)

// State is the lifecycle state of a Conn.
type State int32

const (
	// StateDisconnected means no socket is attached.
	StateDisconnected State = iota
	// StateConnecting means a dial sequence is in progress.
	StateConnecting
	// StateOpen means a socket is attached and its receive loop is running.
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// maxSendAttempts caps writes per Send: the first try plus one after reconnecting.
const maxSendAttempts = 2

// Conn is a framed-message connection over one TCP socket at a time.
//
// Handlers run on the receive loop goroutine, in registration order, and
// must not block it for long. A Conn created with NewConn re-dials its
// address when a send finds the socket broken; a Conn accepted by a Host
// cannot be re-dialed.
type Conn struct {
	id     string
	addr   string
	dialer dialer
	opts   options
	logger Logger

	// dialSem serializes the close-old, dial-new, start-loop sequence.
	dialSem *semaphore.Weighted

	mu    sync.Mutex
	raw   net.Conn
	gen   uint64 // socket generation; bumped whenever raw is detached
	state State

	writeMu sync.Mutex

	handlersMu  sync.RWMutex
	onConnected []func(*Conn)
	onReceive   []func(ReceiveContext)
	onError     []func(error)
}

// NewConn creates a disconnected client connection to addr ("host:port").
// Nothing is dialed until Connect or the first Send.
func NewConn(addr string, opt ...Option) (*Conn, error) {
	if _, _, err := net.SplitHostPort(addr); err != nil {
		return nil, errors.Wrapf(err, "invalid address %q", addr)
	}

	opts := newOptions(opt...)
	c := newConn(addr, opts)
	c.dialer = &net.Dialer{KeepAlive: 30 * time.Second}
	return c, nil
}

// Dial creates a client connection to addr and connects it.
func Dial(ctx context.Context, addr string, opt ...Option) (*Conn, error) {
	c, err := NewConn(addr, opt...)
	if err != nil {
		return nil, err
	}
	if err := c.ConnectContext(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// newAcceptedConn wraps an accepted socket. The connection starts open but
// its receive loop is not running until startReceiveLoop is called.
func newAcceptedConn(raw net.Conn, opts options) *Conn {
	c := newConn(raw.RemoteAddr().String(), opts)
	c.raw = raw
	c.gen = 1
	c.state = StateOpen
	return c
}

func newConn(addr string, opts options) *Conn {
	id := uuid.NewString()
	return &Conn{
		id:          id,
		addr:        addr,
		opts:        opts,
		logger:      withAttrs(opts.logger, "conn_id", id, "addr", addr),
		dialSem:     semaphore.NewWeighted(1),
		onConnected: append(([]func(*Conn))(nil), opts.onConnected...),
		onReceive:   append(([]func(ReceiveContext))(nil), opts.onReceive...),
		onError:     append(([]func(error))(nil), opts.onError...),
	}
}

// ID returns the connection's unique identifier.
func (c *Conn) ID() string {
	return c.id
}

// Addr returns the remote "host:port" this connection targets or was accepted from.
func (c *Conn) Addr() string {
	return c.addr
}

func (c *Conn) String() string {
	return c.addr
}

// RemoteAddr returns the remote address of the current socket, or nil if closed.
func (c *Conn) RemoteAddr() net.Addr {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.raw == nil {
		return nil
	}
	return c.raw.RemoteAddr()
}

// State returns the current lifecycle state.
func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// IsOpen returns true if a socket is attached.
func (c *Conn) IsOpen() bool {
	return c.State() == StateOpen
}

// OnConnected registers a handler fired after every successful connect or reconnect.
func (c *Conn) OnConnected(cb func(*Conn)) {
	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()
	c.onConnected = append(c.onConnected, cb)
}

// OnReceive registers a handler for every complete message.
func (c *Conn) OnReceive(cb func(ReceiveContext)) {
	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()
	c.onReceive = append(c.onReceive, cb)
}

// OnError registers a handler for connection errors (*ConnectionError).
func (c *Conn) OnError(cb func(error)) {
	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()
	c.onError = append(c.onError, cb)
}

// Connect is ConnectContext with a background context.
func (c *Conn) Connect() error {
	return c.ConnectContext(context.Background())
}

// ConnectContext dials the connection's address if it is not already open.
// Transient failures are retried ReconnectTryCount times with a fixed delay.
// When the budget is spent the returned error, also delivered to OnError
// handlers, matches ErrEstablishConnection and the connection stays disconnected.
func (c *Conn) ConnectContext(ctx context.Context) error {
	if c.IsOpen() {
		return nil
	}

	if err := c.dialSem.Acquire(ctx, 1); err != nil {
		return errors.Wrap(err, "wait for connect")
	}
	if c.IsOpen() {
		c.dialSem.Release(1)
		return nil
	}
	err := c.establish(ctx)
	c.dialSem.Release(1)

	// Handlers run without dialSem so they may connect or send themselves.
	if err != nil {
		cerr := newConnectionError(KindEstablishConnection, c.addr, err)
		c.logger.Warn("connect failed", "error", err)
		c.emitError(cerr)
		return cerr
	}
	c.emitConnected()
	return nil
}

// Send is SendContext with a background context. It returns the number of
// bytes written, 0 for an empty payload, or -1 on failure.
func (c *Conn) Send(payload []byte) int {
	n, _ := c.SendContext(context.Background(), payload)
	return n
}

// SendContext frames payload and writes it.
//
// Returns:
//   - 0, nil: payload was empty and nothing was sent
//   - n, nil: the whole frame (n bytes including the header) was written
//   - -1, ErrFrameTooLarge: payload exceeds the maximum frame size
//   - -1, error matching ErrSend: the write failed, and so did one
//     reconnect-and-retry; the error is also delivered to OnError handlers
func (c *Conn) SendContext(ctx context.Context, payload []byte) (int, error) {
	if len(payload) == 0 {
		return 0, nil
	}
	if err := checkFrameLength(uint64(len(payload)), c.opts.maxFrameSize); err != nil {
		return -1, err
	}

	var lastErr error
	for attempt := 1; attempt <= maxSendAttempts; attempt++ {
		raw, gen := c.current()
		if raw == nil {
			lastErr = ErrConnectionClosed
		} else {
			n, err := c.write(ctx, raw, payload)
			if err == nil {
				c.opts.metrics.frameSent(n)
				return n, nil
			}
			lastErr = err
			c.logger.Debug("write error", "attempt", attempt, "error", err)
		}

		if attempt == maxSendAttempts {
			break
		}
		dialed, err := c.reconnect(ctx, gen)
		if dialed {
			c.emitConnected()
		}
		if err != nil {
			lastErr = err
			break
		}
	}

	cerr := newConnectionError(KindSend, c.addr, lastErr)
	c.emitError(cerr)
	return -1, cerr
}

// Close shuts the socket down in both directions and releases it.
// It is safe to call multiple times and always returns nil. The receive
// loop of the closed socket exits without emitting events.
func (c *Conn) Close() error {
	c.mu.Lock()
	raw := c.raw
	c.raw = nil
	c.gen++
	c.state = StateDisconnected
	c.mu.Unlock()

	if raw != nil {
		shutdown(raw)
		c.logger.Info("connection closed")
	}
	return nil
}

// current returns the attached socket and its generation.
func (c *Conn) current() (net.Conn, uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.raw, c.gen
}

// write sends one frame; the write lock keeps concurrent frames whole.
func (c *Conn) write(ctx context.Context, raw net.Conn, payload []byte) (int, error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	deadline := time.Now().Add(c.opts.writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = raw.SetWriteDeadline(deadline)

	return WriteFrame(raw, payload, c.opts.maxFrameSize)
}

// reconnect replaces the socket of generation staleGen with a fresh one.
// If another sender already replaced it, the new socket is reused.
// dialed reports whether this call attached a new socket; the caller fires
// OnConnected handlers once dialSem is released.
func (c *Conn) reconnect(ctx context.Context, staleGen uint64) (dialed bool, err error) {
	if err := c.dialSem.Acquire(ctx, 1); err != nil {
		return false, errors.Wrap(err, "wait for reconnect")
	}
	defer c.dialSem.Release(1)

	c.mu.Lock()
	if c.state == StateOpen && c.gen != staleGen {
		c.mu.Unlock()
		return false, nil
	}

	if c.dialer == nil {
		// Leave teardown to the receive loop so the failure is reported once.
		raw := c.raw
		c.mu.Unlock()
		if raw != nil {
			shutdown(raw)
		}
		return false, ErrNotDialable
	}

	raw := c.raw
	c.raw = nil
	c.gen++
	c.state = StateDisconnected
	c.mu.Unlock()

	if raw != nil {
		shutdown(raw)
	}

	c.logger.Info("reconnecting")
	if err := c.establish(ctx); err != nil {
		return false, err
	}
	c.opts.metrics.reconnected()
	return true, nil
}

// establish dials with retry, attaches the socket as a new generation and
// starts its receive loop. The caller must hold dialSem and fires the
// connection events after releasing it.
func (c *Conn) establish(ctx context.Context) error {
	if c.dialer == nil {
		return ErrNotDialable
	}

	c.mu.Lock()
	c.state = StateConnecting
	startGen := c.gen
	c.mu.Unlock()

	policy := retryPolicy{tries: c.opts.reconnectTryCount, delay: c.opts.reconnectDelay}
	raw, err := dialWithRetry(ctx, c.dialer, c.addr, c.opts.dialTimeout, policy,
		func(attempt int, err error) {
			c.logger.Debug("dial failed, retrying", "attempt", attempt, "error", err)
		})
	if err != nil {
		c.mu.Lock()
		if c.gen == startGen {
			c.state = StateDisconnected
		}
		c.mu.Unlock()
		return err
	}

	if tcp, ok := raw.(*net.TCPConn); ok {
		_ = tcp.SetNoDelay(true)
	}

	c.mu.Lock()
	if c.gen != startGen {
		// Closed while dialing.
		c.mu.Unlock()
		shutdown(raw)
		return ErrConnectionClosed
	}
	c.gen++
	gen := c.gen
	c.raw = raw
	c.state = StateOpen
	c.mu.Unlock()

	go c.receiveLoop(raw, gen)

	c.logger.Info("connection established", "local_addr", raw.LocalAddr())
	return nil
}

// shutdown closes both directions of raw, ignoring errors.
func shutdown(raw net.Conn) {
	if tcp, ok := raw.(*net.TCPConn); ok {
		_ = tcp.CloseRead()
		_ = tcp.CloseWrite()
	}
	_ = raw.Close()
}

func (c *Conn) emitConnected() {
	c.handlersMu.RLock()
	handlers := c.onConnected
	c.handlersMu.RUnlock()

	for _, h := range handlers {
		c.safeCall("connected", func() { h(c) })
	}
}

func (c *Conn) emitError(err error) {
	var cerr *ConnectionError
	if errors.As(err, &cerr) {
		c.opts.metrics.failure(cerr.Kind)
	}

	c.handlersMu.RLock()
	handlers := c.onError
	c.handlersMu.RUnlock()

	for _, h := range handlers {
		c.safeCall("error", func() { h(err) })
	}
}

// safeCall runs a handler, logging instead of propagating a panic.
func (c *Conn) safeCall(event string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("handler panic", "event", event, "panic", r)
		}
	}()
	fn()
}
