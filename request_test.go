package msgsocket

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// replyWith answers every frame on conn with fn(payload) until it closes.
func replyWith(conn net.Conn, fn func([]byte) []byte) {
	for {
		payload, err := ReadFrame(conn, DefaultMaxFrameSize)
		if err != nil {
			return
		}
		if _, err := WriteFrame(conn, fn(payload), DefaultMaxFrameSize); err != nil {
			return
		}
	}
}

func TestRequestChannel_Request(t *testing.T) {
	server := newTestServer(t)

	ch, err := NewRequestChannel(server.addr(), testOptions()...)
	require.NoError(t, err)
	defer ch.Close()

	go func() {
		conn := <-server.accepted
		defer conn.Close()
		replyWith(conn, func(req []byte) []byte {
			if string(req) == "hello" {
				return []byte("world")
			}
			return []byte("?")
		})
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	reply, err := ch.Request(ctx, []byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, "world", string(reply))
	assert.True(t, ch.Conn().IsOpen())

	reply, err = ch.Request(ctx, []byte("again"))
	require.NoError(t, err)
	assert.Equal(t, "?", string(reply))
}

func TestRequestChannel_InFlightGuard(t *testing.T) {
	server := newTestServer(t)

	ch, err := NewRequestChannel(server.addr(), testOptions()...)
	require.NoError(t, err)
	defer ch.Close()

	got := make(chan []byte, 1)
	go func() {
		conn := <-server.accepted
		defer conn.Close()
		payload, err := ReadFrame(conn, DefaultMaxFrameSize)
		if err == nil {
			got <- payload
		}
		// Never reply.
		_, _ = ReadFrame(conn, DefaultMaxFrameSize)
	}()

	ctx, cancel := context.WithCancel(context.Background())
	first := make(chan error, 1)
	go func() {
		_, err := ch.Request(ctx, []byte("slow"))
		first <- err
	}()

	select {
	case payload := <-got:
		require.Equal(t, "slow", string(payload))
	case <-time.After(5 * time.Second):
		t.Fatal("server never saw the first request")
	}

	_, err = ch.Request(context.Background(), []byte("second"))
	assert.ErrorIs(t, err, ErrRequestInFlight)

	cancel()
	select {
	case err := <-first:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("first request did not return after cancel")
	}
}

func TestRequestChannel_ConnectionErrorFailsRequest(t *testing.T) {
	server := newTestServer(t)

	ch, err := NewRequestChannel(server.addr(), testOptions()...)
	require.NoError(t, err)
	defer ch.Close()

	go func() {
		conn := <-server.accepted
		_, _ = ReadFrame(conn, DefaultMaxFrameSize)
		conn.Close()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err = ch.Request(ctx, []byte("doomed"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrReceive), "got %v", err)
}

func TestRequestChannel_Timeout(t *testing.T) {
	server := newTestServer(t)

	ch, err := NewRequestChannel(server.addr(), testOptions(RequestTimeoutOption(50*time.Millisecond))...)
	require.NoError(t, err)
	defer ch.Close()

	go func() {
		conn := <-server.accepted
		defer conn.Close()
		for {
			if _, err := ReadFrame(conn, DefaultMaxFrameSize); err != nil {
				return
			}
		}
	}()

	_, err = ch.Request(context.Background(), []byte("anyone?"))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRequestChannel_ConnectFailure(t *testing.T) {
	ch, err := NewRequestChannel("127.0.0.1:9", testOptions(ReconnectTryCountOption(0))...)
	require.NoError(t, err)
	ch.Conn().dialer = &countingDialer{err: &net.AddrError{Err: "unreachable", Addr: "127.0.0.1:9"}}

	_, err = ch.Request(context.Background(), []byte("x"))
	assert.ErrorIs(t, err, ErrEstablishConnection)
}

func TestRequestChannel_UnsolicitedMessageDropped(t *testing.T) {
	server := newTestServer(t)

	ch, err := NewRequestChannel(server.addr(), testOptions()...)
	require.NoError(t, err)
	defer ch.Close()
	require.NoError(t, ch.Conn().Connect())

	peer := server.accept(t)
	_, err = WriteFrame(peer, []byte("stray"), DefaultMaxFrameSize)
	require.NoError(t, err)
	time.Sleep(50 * time.Millisecond)

	go replyWith(peer, func(req []byte) []byte { return append([]byte("re:"), req...) })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	reply, err := ch.Request(ctx, []byte("q"))
	require.NoError(t, err)
	assert.Equal(t, "re:q", string(reply))
}

type sum struct {
	A, B int
}

type total struct {
	Sum int `json:"sum"`
}

func TestRequestJSON(t *testing.T) {
	server := newTestServer(t)

	ch, err := NewRequestChannel(server.addr(), testOptions()...)
	require.NoError(t, err)
	defer ch.Close()

	go func() {
		conn := <-server.accepted
		defer conn.Close()
		replyWith(conn, func(req []byte) []byte {
			if string(req) == `{"A":2,"B":3}` {
				return []byte(`{"sum":5}`)
			}
			return []byte(`not json`)
		})
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resp, err := RequestJSON[sum, total](ctx, ch, sum{A: 2, B: 3})
	require.NoError(t, err)
	assert.Equal(t, 5, resp.Sum)

	_, err = RequestJSON[sum, total](ctx, ch, sum{A: 1})
	assert.Error(t, err)
}
