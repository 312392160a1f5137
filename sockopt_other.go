//go:build !unix

package msgsocket

import (
	"net"

	"github.com/pkg/errors"
)

func isTransientErrno(err error) bool {
	var opErr *net.OpError
	return errors.As(err, &opErr)
}

// setListenBacklog is unsupported here; the OS default backlog applies.
func setListenBacklog(net.Listener, int) error {
	return errors.New("listen backlog not supported on this platform")
}
