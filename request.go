package msgsocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/semaphore"
)

// reply is the outcome of one pending request.
type reply struct {
	payload []byte
	err     error
}

// RequestChannel turns a Conn into a synchronous request/response client.
// The next message received after a request is sent is taken as its reply;
// there is no request id on the wire. Only one request may be in flight at
// a time; overlapping calls fail with ErrRequestInFlight.
type RequestChannel struct {
	conn    *Conn
	timeout time.Duration
	logger  Logger

	inflight *semaphore.Weighted

	mu      sync.Mutex
	pending chan reply
}

// NewRequestChannel creates a request channel with its own connection to addr.
func NewRequestChannel(addr string, opt ...Option) (*RequestChannel, error) {
	conn, err := NewConn(addr, opt...)
	if err != nil {
		return nil, err
	}
	return NewRequestChannelFromConn(conn), nil
}

// NewRequestChannelFromConn wraps an existing connection. The channel
// registers receive and error handlers on conn; other handlers keep working.
func NewRequestChannelFromConn(conn *Conn) *RequestChannel {
	r := &RequestChannel{
		conn:     conn,
		timeout:  conn.opts.requestTimeout,
		logger:   conn.logger,
		inflight: semaphore.NewWeighted(1),
	}

	conn.OnReceive(r.onReceive)
	conn.OnError(r.onError)
	return r
}

// Conn returns the underlying connection.
func (r *RequestChannel) Conn() *Conn {
	return r.conn
}

// Request sends data and waits for the next message received on the
// connection, which it returns. It connects first if the connection is
// closed. A connection error while waiting fails the request.
func (r *RequestChannel) Request(ctx context.Context, data []byte) ([]byte, error) {
	if !r.inflight.TryAcquire(1) {
		return nil, ErrRequestInFlight
	}
	defer r.inflight.Release(1)

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	if !r.conn.IsOpen() {
		if err := r.conn.ConnectContext(ctx); err != nil {
			return nil, err
		}
	}

	slot := r.arm()
	defer r.disarm(slot)

	if _, err := r.conn.SendContext(ctx, data); err != nil {
		return nil, err
	}

	select {
	case res := <-slot:
		return res.payload, res.err
	case <-ctx.Done():
		return nil, errors.Wrap(ctx.Err(), "wait for reply")
	}
}

// Close closes the underlying connection.
func (r *RequestChannel) Close() error {
	return r.conn.Close()
}

// arm installs a fresh pending slot before the request is written, so a
// fast reply cannot be missed.
func (r *RequestChannel) arm() chan reply {
	slot := make(chan reply, 1)
	r.mu.Lock()
	r.pending = slot
	r.mu.Unlock()
	return slot
}

func (r *RequestChannel) disarm(slot chan reply) {
	r.mu.Lock()
	if r.pending == slot {
		r.pending = nil
	}
	r.mu.Unlock()
}

// resolve completes the pending slot, if any, with res.
func (r *RequestChannel) resolve(res reply) bool {
	r.mu.Lock()
	slot := r.pending
	r.pending = nil
	r.mu.Unlock()

	if slot == nil {
		return false
	}
	slot <- res
	return true
}

func (r *RequestChannel) onReceive(rc ReceiveContext) {
	if !r.resolve(reply{payload: rc.Payload}) {
		r.logger.Debug("dropping unsolicited message", "size", rc.Size())
	}
}

func (r *RequestChannel) onError(err error) {
	r.resolve(reply{err: err})
}

// RequestJSON marshals req as JSON, sends it over ch and unmarshals the
// reply into a Resp.
func RequestJSON[Req, Resp any](ctx context.Context, ch *RequestChannel, req Req) (Resp, error) {
	var resp Resp

	data, err := json.Marshal(req)
	if err != nil {
		return resp, errors.Wrap(err, "marshal request")
	}

	raw, err := ch.Request(ctx, data)
	if err != nil {
		return resp, err
	}

	if err := json.Unmarshal(raw, &resp); err != nil {
		return resp, errors.Wrap(err, "unmarshal reply")
	}
	return resp, nil
}
