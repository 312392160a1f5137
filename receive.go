package msgsocket

import (
	"io"
	"net"
	"time"

	"github.com/pkg/errors"
)

var (
	// errPeerClosed is reported when a read returns no data.
	errPeerClosed = errors.New("peer closed connection")
	// errEmptyFrame is reported for a zero-length frame, which peers send
	// only as a request to close.
	errEmptyFrame = errors.New("zero-length frame")
)

// frameReader assembles whole frames from a stream that may deliver them
// in arbitrarily small chunks.
type frameReader struct {
	r            io.Reader
	setDeadline  func(time.Time) error
	maxFrameSize int
	timeout      time.Duration
	now          func() time.Time

	header [HeaderSize]byte
}

func newFrameReader(r io.Reader, maxFrameSize int, timeout time.Duration) *frameReader {
	f := &frameReader{
		r:            r,
		maxFrameSize: maxFrameSize,
		timeout:      timeout,
		now:          time.Now,
	}
	if d, ok := r.(interface{ SetReadDeadline(time.Time) error }); ok {
		f.setDeadline = d.SetReadDeadline
	}
	return f
}

// next blocks until one complete frame has been read.
func (f *frameReader) next() (ReceiveContext, error) {
	// No deadline while idle between frames.
	f.deadline(time.Time{})

	var started time.Time
	if err := f.fill(f.header[:], &started, nil); err != nil {
		return ReceiveContext{}, err
	}

	length, _ := DecodeHeader(f.header[:])
	if length == 0 {
		return ReceiveContext{}, errEmptyFrame
	}
	if err := checkFrameLength(uint64(length), f.maxFrameSize); err != nil {
		return ReceiveContext{}, err
	}

	payload := make([]byte, length)
	var rate rateTracker
	if err := f.fill(payload, &started, &rate); err != nil {
		return ReceiveContext{}, err
	}

	return ReceiveContext{
		Payload:  payload,
		Rate:     rate.rate,
		Duration: f.now().Sub(started),
	}, nil
}

// fill reads until buf is full. Once a frame has started, every chunk
// pushes the read deadline out by the receive timeout.
func (f *frameReader) fill(buf []byte, started *time.Time, rate *rateTracker) error {
	read := 0
	for read < len(buf) {
		n, err := f.r.Read(buf[read:])
		if n > 0 {
			now := f.now()
			if started.IsZero() {
				*started = now
			}
			read += n
			if rate != nil {
				rate.observe(n, now)
			}
			f.deadline(now.Add(f.timeout))
		}

		if err != nil {
			if errors.Is(err, io.EOF) {
				if started.IsZero() {
					return errPeerClosed
				}
				return errors.Wrap(io.ErrUnexpectedEOF, "frame truncated")
			}
			return err
		}
		if n == 0 {
			return errPeerClosed
		}
	}
	return nil
}

func (f *frameReader) deadline(t time.Time) {
	if f.setDeadline != nil {
		_ = f.setDeadline(t)
	}
}

// startReceiveLoop starts the loop for the currently attached socket.
// The Host calls it once inbound handlers are registered.
func (c *Conn) startReceiveLoop() {
	raw, gen := c.current()
	if raw == nil {
		return
	}
	go c.receiveLoop(raw, gen)
}

// receiveLoop delivers messages from raw until it fails. It belongs to
// socket generation gen and stays silent once that generation is replaced.
func (c *Conn) receiveLoop(raw net.Conn, gen uint64) {
	reader := newFrameReader(raw, c.opts.maxFrameSize, c.opts.receiveTimeout)
	for {
		rc, err := reader.next()
		if err != nil {
			c.failGeneration(gen, err)
			return
		}

		rc.Conn = c
		c.opts.metrics.frameReceived(rc.Size(), rc.Duration)
		c.dispatch(rc)
	}
}

// failGeneration tears down the socket of generation gen after a read
// failure and reports it, unless the socket was already closed or replaced.
func (c *Conn) failGeneration(gen uint64, err error) {
	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		return
	}
	raw := c.raw
	c.raw = nil
	c.gen++
	c.state = StateDisconnected
	c.mu.Unlock()

	if raw != nil {
		shutdown(raw)
	}

	kind := KindReceive
	if errors.Is(err, ErrFrameTooLarge) {
		kind = KindProtocol
		c.logger.Warn("protocol error", "error", err)
	} else if errors.Is(err, errPeerClosed) || errors.Is(err, errEmptyFrame) {
		c.logger.Info("connection closed by peer")
	} else {
		c.logger.Info("receive failed", "error", err)
	}

	c.emitError(newConnectionError(kind, c.addr, err))
}

// dispatch hands rc to every receive handler in order.
func (c *Conn) dispatch(rc ReceiveContext) {
	c.handlersMu.RLock()
	handlers := c.onReceive
	c.handlersMu.RUnlock()

	for _, h := range handlers {
		c.safeCall("receive", func() { h(rc) })
	}
}
