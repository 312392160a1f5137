package msgsocket

import (
	"context"
	"errors"
	"net"
	"syscall"
	"testing"
	"time"
)

type timeoutError struct{}

func (timeoutError) Error() string   { return "i/o timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"refused", &net.OpError{Op: "dial", Err: syscall.ECONNREFUSED}, true},
		{"reset", &net.OpError{Op: "write", Err: syscall.ECONNRESET}, true},
		{"timeout", timeoutError{}, true},
		{"dns temporary", &net.DNSError{Err: "try again", IsTemporary: true}, true},
		{"dns not found", &net.DNSError{Err: "no such host", IsNotFound: true}, false},
		{"bad address", &net.AddrError{Err: "missing port", Addr: "x"}, false},
		{"plain", errors.New("boom"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isTransient(tt.err); got != tt.want {
				t.Errorf("isTransient(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

// flakyDialer fails the first failures dials, then connects to addr.
type flakyDialer struct {
	failures int
	calls    int
	notified []int
}

func (d *flakyDialer) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	d.calls++
	if d.calls <= d.failures {
		return nil, &net.OpError{Op: "dial", Net: network, Err: syscall.ECONNREFUSED}
	}
	var nd net.Dialer
	return nd.DialContext(ctx, network, addr)
}

func TestDialWithRetry_RecoversWithinBudget(t *testing.T) {
	server := newTestServer(t)
	d := &flakyDialer{failures: 2}

	conn, err := dialWithRetry(context.Background(), d, server.addr(), time.Second,
		retryPolicy{tries: 3, delay: time.Millisecond},
		func(attempt int, err error) { d.notified = append(d.notified, attempt) })
	if err != nil {
		t.Fatalf("dialWithRetry failed: %v", err)
	}
	defer conn.Close()

	if d.calls != 3 {
		t.Errorf("calls = %d, want 3", d.calls)
	}
	if len(d.notified) != 2 || d.notified[0] != 1 || d.notified[1] != 2 {
		t.Errorf("notified = %v, want [1 2]", d.notified)
	}
}

func TestDialWithRetry_BudgetSpent(t *testing.T) {
	d := &flakyDialer{failures: 10}

	_, err := dialWithRetry(context.Background(), d, "127.0.0.1:9", time.Second,
		retryPolicy{tries: 2, delay: time.Millisecond}, nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, syscall.ECONNREFUSED) {
		t.Errorf("expected the last dial error as cause, got %v", err)
	}
	if d.calls != 3 {
		t.Errorf("calls = %d, want 3", d.calls)
	}
}
