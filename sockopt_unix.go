//go:build unix

package msgsocket

import (
	"net"
	"syscall"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// isTransientErrno reports errors a later dial or write may not hit again.
func isTransientErrno(err error) bool {
	var errno syscall.Errno
	if !errors.As(err, &errno) {
		return false
	}
	switch errno {
	case unix.ECONNREFUSED, unix.ECONNRESET, unix.ECONNABORTED,
		unix.EHOSTUNREACH, unix.ENETUNREACH, unix.ENETDOWN,
		unix.ETIMEDOUT, unix.EPIPE:
		return true
	}
	return false
}

// setListenBacklog re-issues listen(2) on the listener's socket so the
// pending-connection queue is bounded by backlog instead of somaxconn.
func setListenBacklog(l net.Listener, backlog int) error {
	sc, ok := l.(syscall.Conn)
	if !ok {
		return errors.New("listener does not expose its socket")
	}
	raw, err := sc.SyscallConn()
	if err != nil {
		return errors.Wrap(err, "syscall conn")
	}

	var listenErr error
	if err := raw.Control(func(fd uintptr) {
		listenErr = unix.Listen(int(fd), backlog)
	}); err != nil {
		return errors.Wrap(err, "control listener")
	}
	return errors.Wrap(listenErr, "listen backlog")
}
