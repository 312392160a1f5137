package msgsocket

import (
	"context"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/puzpuzpuz/xsync/v3"
	"golang.org/x/sync/errgroup"
)

// DefaultMaxIncomingConnections is the default listen backlog.
const DefaultMaxIncomingConnections = 10

// ErrHostStarted is returned when Start or Serve is called on a Host that
// is already listening or has been closed.
var ErrHostStarted = errors.New("host already started")

// Host accepts TCP connections and keeps every live one in a connection set.
//
// Each accepted socket becomes an open Conn. OnInboundConnection handlers run
// before its receive loop starts, so they can attach OnReceive handlers
// without missing a message. A connection is removed from the set and closed
// when it reports a receive or protocol error.
type Host struct {
	logger          Logger
	metrics         *Metrics
	backlog         int
	shutdownTimeout time.Duration
	connOptions     []Option
	connOpts        options

	conns *xsync.MapOf[string, *Conn]

	handlersMu sync.RWMutex
	onInbound  []func(*Conn)

	mu        sync.Mutex
	listener  *net.TCPListener
	shutdown  bool
	done      chan struct{} // closed by Close
	closeOnce sync.Once
}

// HostOption configures a Host.
type HostOption func(*Host)

// HostLoggerOption sets the logger for the host. Accepted connections use it
// too unless HostConnOptions sets another.
func HostLoggerOption(logger Logger) HostOption {
	return func(h *Host) {
		h.logger = logger
	}
}

// HostMetricsOption records host and connection activity in m.
func HostMetricsOption(m *Metrics) HostOption {
	return func(h *Host) {
		h.metrics = m
	}
}

// HostBacklogOption bounds the queue of connections waiting to be accepted.
func HostBacklogOption(backlog int) HostOption {
	return func(h *Host) {
		h.backlog = backlog
	}
}

// HostShutdownTimeoutOption sets the graceful shutdown delay.
// When the Serve context is canceled, the host keeps accepting for up to this
// duration before it stops. Close bypasses the remaining delay.
// Default is 0 (immediate shutdown).
func HostShutdownTimeoutOption(timeout time.Duration) HostOption {
	return func(h *Host) {
		h.shutdownTimeout = timeout
	}
}

// HostConnOptions sets the options applied to every accepted connection.
func HostConnOptions(opt ...Option) HostOption {
	return func(h *Host) {
		h.connOptions = append(h.connOptions, opt...)
	}
}

// NewHost creates a host. Nothing listens until Start or Serve.
func NewHost(opts ...HostOption) *Host {
	h := &Host{
		backlog: DefaultMaxIncomingConnections,
		conns:   xsync.NewMapOf[string, *Conn](),
		done:    make(chan struct{}),
	}

	for _, opt := range opts {
		opt(h)
	}

	if h.logger == nil {
		h.logger = defaultLogger()
	}
	if h.backlog <= 0 {
		h.backlog = DefaultMaxIncomingConnections
	}

	base := []Option{LoggerOption(h.logger), MetricsOption(h.metrics)}
	h.connOpts = newOptions(append(base, h.connOptions...)...)
	return h
}

// OnInboundConnection registers a handler called for every accepted
// connection, before the connection's receive loop starts.
//
// Handlers run on the accept goroutine, in registration order; a slow
// handler delays every later accept.
func (h *Host) OnInboundConnection(cb func(*Conn)) {
	h.handlersMu.Lock()
	defer h.handlersMu.Unlock()
	h.onInbound = append(h.onInbound, cb)
}

// Start listens on all interfaces at port and accepts in the background.
// Bind errors are returned; later accept errors are logged.
func (h *Host) Start(port int) error {
	ln, err := h.listen(net.JoinHostPort("", strconv.Itoa(port)))
	if err != nil {
		return err
	}

	go func() {
		if err := h.serve(context.Background(), ln); err != nil {
			h.logger.Error("host stopped", "error", err)
		}
	}()
	return nil
}

// Serve listens on addr and accepts connections until ctx is canceled or
// Close is called. It returns ctx.Err() after a cancellation, nil after
// Close, or the accept error that stopped it. Live connections are closed
// before it returns.
func (h *Host) Serve(ctx context.Context, addr string) error {
	ln, err := h.listen(addr)
	if err != nil {
		return err
	}
	return h.serve(ctx, ln)
}

// Addr returns the listener's network address, or nil before Start or Serve.
func (h *Host) Addr() net.Addr {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.listener == nil {
		return nil
	}
	return h.listener.Addr()
}

// Len returns the number of tracked connections.
func (h *Host) Len() int {
	return h.conns.Size()
}

// Range calls fn for every open connection until fn returns false.
// Connections closed locally are dropped from the set as they are found.
func (h *Host) Range(fn func(*Conn) bool) {
	h.conns.Range(func(id string, c *Conn) bool {
		if !c.IsOpen() {
			h.remove(c)
			return true
		}
		return fn(c)
	})
}

// Connections returns a snapshot of the open connections.
func (h *Host) Connections() []*Conn {
	conns := make([]*Conn, 0, h.conns.Size())
	h.Range(func(c *Conn) bool {
		conns = append(conns, c)
		return true
	})
	return conns
}

// Broadcast sends payload to every open connection and returns how many
// sends succeeded.
func (h *Host) Broadcast(ctx context.Context, payload []byte) int {
	sent := 0
	for _, c := range h.Connections() {
		if n, err := c.SendContext(ctx, payload); err == nil && n > 0 {
			sent++
		}
	}
	return sent
}

// Close stops the host by closing the listener and every live connection.
// If a shutdown timeout is running, Close bypasses it. Close is idempotent.
func (h *Host) Close() error {
	h.closeOnce.Do(func() { close(h.done) })

	h.mu.Lock()
	h.shutdown = true
	ln := h.listener
	h.mu.Unlock()

	h.closeAll()
	if ln == nil {
		return nil
	}
	if err := ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}

func (h *Host) listen(addr string) (*net.TCPListener, error) {
	tcpAddr, err := net.ResolveTCPAddr("tcp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "resolve %q", addr)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.listener != nil || h.shutdown {
		return nil, ErrHostStarted
	}

	ln, err := net.ListenTCP("tcp", tcpAddr)
	if err != nil {
		return nil, errors.Wrapf(err, "listen %s", addr)
	}
	if err := setListenBacklog(ln, h.backlog); err != nil {
		h.logger.Warn("keeping default listen backlog", "backlog", h.backlog, "error", err)
	}

	h.listener = ln
	return ln, nil
}

func (h *Host) serve(ctx context.Context, ln *net.TCPListener) error {
	h.logger.Info("host started", "addr", ln.Addr(), "backlog", h.backlog)
	defer h.closeAll()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		select {
		case <-gctx.Done():
		case <-h.done:
			return nil
		}

		// Wait for shutdown timeout if configured, but allow early exit via Close()
		if h.shutdownTimeout > 0 && ctx.Err() != nil {
			h.logger.Info("graceful shutdown initiated", "timeout", h.shutdownTimeout)
			select {
			case <-time.After(h.shutdownTimeout):
			case <-h.done:
				h.logger.Debug("shutdown timeout bypassed via Close()")
			}
		}

		h.mu.Lock()
		h.shutdown = true
		h.mu.Unlock()
		// Set a deadline to unblock Accept
		_ = ln.SetDeadline(time.Now())
		return nil
	})

	g.Go(func() error {
		for {
			raw, err := ln.AcceptTCP()
			if err != nil {
				h.mu.Lock()
				isShutdown := h.shutdown
				h.mu.Unlock()

				if isShutdown {
					h.logger.Info("host stopped", "addr", ln.Addr())
					_ = ln.Close()
					return ctx.Err()
				}

				var netErr net.Error
				if errors.As(err, &netErr) && netErr.Timeout() {
					continue
				}
				h.logger.Error("accept error", "error", err)
				return err
			}

			h.accept(raw)
		}
	})

	return g.Wait()
}

// accept registers raw as a connection. The receive loop starts only after
// inbound handlers have run.
func (h *Host) accept(raw *net.TCPConn) {
	_ = raw.SetNoDelay(true)

	c := newAcceptedConn(raw, h.connOpts)
	c.OnError(func(err error) {
		if errors.Is(err, ErrReceive) || errors.Is(err, ErrProtocol) {
			h.remove(c)
		}
	})

	h.conns.Store(c.ID(), c)
	h.metrics.connAccepted()
	c.logger.Debug("accepted connection")

	h.handlersMu.RLock()
	handlers := h.onInbound
	h.handlersMu.RUnlock()

	for _, cb := range handlers {
		c.safeCall("inbound", func() { cb(c) })
	}

	c.startReceiveLoop()
}

// remove drops c from the set and closes it.
func (h *Host) remove(c *Conn) {
	if _, ok := h.conns.LoadAndDelete(c.ID()); ok {
		h.metrics.connRemoved()
		c.logger.Debug("connection removed")
	}
	_ = c.Close()
}

func (h *Host) closeAll() {
	h.conns.Range(func(id string, c *Conn) bool {
		h.remove(c)
		return true
	})
}
