package msgsocket

import (
	"context"
	"net"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
)

// dialer opens one socket to a fixed address.
type dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// retryPolicy performs up to tries+1 attempts with a fixed delay in between.
type retryPolicy struct {
	tries int
	delay time.Duration
}

// newBackOff builds the bounded constant backoff for one retry sequence.
func (p retryPolicy) newBackOff(ctx context.Context) backoff.BackOff {
	var b backoff.BackOff = backoff.NewConstantBackOff(p.delay)
	b = backoff.WithMaxRetries(b, uint64(p.tries))
	return backoff.WithContext(b, ctx)
}

// dialWithRetry dials addr until it succeeds, the error is not transient,
// the retry budget is spent or ctx is done. notify is called before each retry.
func dialWithRetry(ctx context.Context, d dialer, addr string, timeout time.Duration,
	policy retryPolicy, notify func(attempt int, err error)) (net.Conn, error) {
	var (
		conn    net.Conn
		attempt int
	)

	operation := func() error {
		attempt++
		dialCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		c, err := d.DialContext(dialCtx, "tcp", addr)
		if err != nil {
			if ctx.Err() != nil || !isTransient(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		conn = c
		return nil
	}

	onRetry := func(err error, wait time.Duration) {
		if notify != nil {
			notify(attempt, err)
		}
	}

	if err := backoff.RetryNotify(operation, policy.newBackOff(ctx), onRetry); err != nil {
		return nil, errors.Wrapf(err, "dial %s after %d attempts", addr, attempt)
	}
	return conn, nil
}

// isTransient reports whether a dial or write error is worth retrying.
func isTransient(err error) bool {
	if err == nil {
		return false
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return dnsErr.IsTemporary || dnsErr.IsTimeout
	}

	var addrErr *net.AddrError
	if errors.As(err, &addrErr) {
		return false
	}

	if isTransientErrno(err) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var opErr *net.OpError
	return errors.As(err, &opErr)
}
