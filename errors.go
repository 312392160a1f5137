package msgsocket

import (
	"fmt"

	"github.com/pkg/errors"
)

// Connection failure kinds. Use errors.Is against these to classify an error
// delivered to an OnError handler or returned from Connect/Send.
var (
	// ErrEstablishConnection reports that a dial failed after exhausting retries.
	ErrEstablishConnection = errors.New("establish connection failed")
	// ErrSend reports that a write failed after one reconnect-and-retry attempt.
	ErrSend = errors.New("send message failed")
	// ErrReceive reports that the peer closed the connection or a read failed.
	ErrReceive = errors.New("receive message failed")
	// ErrProtocol reports a malformed frame, such as an oversized length header.
	ErrProtocol = errors.New("protocol violation")
)

// Errors returned by connection operations.
var (
	// ErrConnectionClosed is returned when operating on a closed connection.
	ErrConnectionClosed = errors.New("connection closed")
	// ErrFrameTooLarge is returned when a frame exceeds the maximum frame size.
	ErrFrameTooLarge = errors.New("frame too large")
	// ErrNotDialable is returned when an accepted connection would need to be re-dialed.
	ErrNotDialable = errors.New("connection has no dial address")
	// ErrRequestInFlight is returned when Request is called while another request is pending.
	ErrRequestInFlight = errors.New("request already in flight")
)

// ErrorKind classifies a ConnectionError.
type ErrorKind int

const (
	// KindEstablishConnection is a connect failure after retries.
	KindEstablishConnection ErrorKind = iota
	// KindSend is a send failure after reconnect-and-retry.
	KindSend
	// KindReceive is a read failure or peer close.
	KindReceive
	// KindProtocol is a malformed frame.
	KindProtocol
)

func (k ErrorKind) String() string {
	switch k {
	case KindEstablishConnection:
		return "establish"
	case KindSend:
		return "send"
	case KindReceive:
		return "receive"
	case KindProtocol:
		return "protocol"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

func (k ErrorKind) sentinel() error {
	switch k {
	case KindEstablishConnection:
		return ErrEstablishConnection
	case KindSend:
		return ErrSend
	case KindReceive:
		return ErrReceive
	default:
		return ErrProtocol
	}
}

// ConnectionError is the error delivered to OnError handlers.
// It matches its kind sentinel with errors.Is and unwraps to the cause.
type ConnectionError struct {
	Kind ErrorKind
	Addr string
	Err  error
}

func newConnectionError(kind ErrorKind, addr string, cause error) *ConnectionError {
	return &ConnectionError{Kind: kind, Addr: addr, Err: cause}
}

func (e *ConnectionError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s %s", e.Addr, e.Kind.sentinel())
	}
	return fmt.Sprintf("%s %s: %v", e.Addr, e.Kind.sentinel(), e.Err)
}

// Unwrap returns the underlying cause.
func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// Is reports whether target is the sentinel for this error's kind.
func (e *ConnectionError) Is(target error) bool {
	return target == e.Kind.sentinel()
}
