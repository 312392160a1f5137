package msgsocket

import (
	"errors"
	"net"
	"strings"
	"syscall"
	"testing"
)

func errRefused() error {
	return &net.OpError{Op: "dial", Net: "tcp", Err: syscall.ECONNREFUSED}
}

func TestConnectionError_Is(t *testing.T) {
	kinds := map[ErrorKind]error{
		KindEstablishConnection: ErrEstablishConnection,
		KindSend:                ErrSend,
		KindReceive:             ErrReceive,
		KindProtocol:            ErrProtocol,
	}

	for kind, sentinel := range kinds {
		err := newConnectionError(kind, "127.0.0.1:1", errRefused())
		if !errors.Is(err, sentinel) {
			t.Errorf("%v error does not match its sentinel", kind)
		}
		for other, s := range kinds {
			if other != kind && errors.Is(err, s) {
				t.Errorf("%v error matches %v", kind, other)
			}
		}
		if !errors.Is(err, syscall.ECONNREFUSED) {
			t.Errorf("%v error does not unwrap to its cause", kind)
		}
	}
}

func TestConnectionError_As(t *testing.T) {
	var err error = newConnectionError(KindSend, "host:1", ErrConnectionClosed)

	var cerr *ConnectionError
	if !errors.As(err, &cerr) {
		t.Fatal("errors.As failed")
	}
	if cerr.Kind != KindSend || cerr.Addr != "host:1" {
		t.Errorf("unexpected fields: %+v", cerr)
	}
}

func TestConnectionError_Message(t *testing.T) {
	err := newConnectionError(KindReceive, "host:1", ErrConnectionClosed)
	if !strings.Contains(err.Error(), "host:1") || !strings.Contains(err.Error(), "connection closed") {
		t.Errorf("Error() = %q", err.Error())
	}

	bare := newConnectionError(KindProtocol, "host:1", nil)
	if bare.Error() != "host:1 protocol violation" {
		t.Errorf("Error() = %q", bare.Error())
	}
}

func TestErrorKind_String(t *testing.T) {
	if KindEstablishConnection.String() != "establish" || KindProtocol.String() != "protocol" {
		t.Error("unexpected kind names")
	}
	if ErrorKind(42).String() != "kind(42)" {
		t.Errorf("unknown kind = %q", ErrorKind(42).String())
	}
}
