package msgsocket

import (
	"bytes"
	"errors"
	"io"
	"testing"
	"time"
)

// chunkReader returns one chunk per Read, then io.EOF.
type chunkReader struct {
	chunks [][]byte
}

func (r *chunkReader) Read(p []byte) (int, error) {
	if len(r.chunks) == 0 {
		return 0, io.EOF
	}
	n := copy(p, r.chunks[0])
	if n < len(r.chunks[0]) {
		r.chunks[0] = r.chunks[0][n:]
	} else {
		r.chunks = r.chunks[1:]
	}
	return n, nil
}

// stepClock advances one second on every call.
func stepClock() func() time.Time {
	now := time.Unix(1_700_000_000, 0)
	return func() time.Time {
		now = now.Add(time.Second)
		return now
	}
}

func TestFrameReader_ChunkedDelivery(t *testing.T) {
	payload := bytes.Repeat([]byte("z"), 100)
	envelope := Encode(payload)
	r := &chunkReader{chunks: [][]byte{
		envelope[:HeaderSize],
		envelope[4:5],
		envelope[5:55],
		envelope[55:],
	}}

	f := newFrameReader(r, DefaultMaxFrameSize, time.Second)
	f.now = stepClock()

	rc, err := f.next()
	if err != nil {
		t.Fatalf("next failed: %v", err)
	}
	if !bytes.Equal(rc.Payload, payload) {
		t.Errorf("payload mismatch: got %d bytes", rc.Size())
	}

	// First payload chunk is skipped: 50/1s -> 25, then 49/1s -> (49+25)/2.
	if rc.Rate != 37 {
		t.Errorf("Rate = %v, want 37", rc.Rate)
	}
	if rc.Duration != 4*time.Second {
		t.Errorf("Duration = %v, want 4s", rc.Duration)
	}

	if _, err := f.next(); !errors.Is(err, errPeerClosed) {
		t.Errorf("expected errPeerClosed after the last frame, got %v", err)
	}
}

func TestFrameReader_SplitHeader(t *testing.T) {
	envelope := Encode([]byte("hi"))
	r := &chunkReader{chunks: [][]byte{envelope[:1], envelope[1:3], envelope[3:]}}

	f := newFrameReader(r, DefaultMaxFrameSize, time.Second)
	rc, err := f.next()
	if err != nil {
		t.Fatalf("next failed: %v", err)
	}
	if string(rc.Payload) != "hi" {
		t.Errorf("payload = %q, want %q", rc.Payload, "hi")
	}
	if rc.Rate != 0 {
		t.Errorf("Rate = %v for a single-chunk payload, want 0", rc.Rate)
	}
}

func TestFrameReader_BackToBackFrames(t *testing.T) {
	stream := append(Encode([]byte("one")), Encode([]byte("two"))...)
	f := newFrameReader(bytes.NewReader(stream), DefaultMaxFrameSize, time.Second)

	for _, want := range []string{"one", "two"} {
		rc, err := f.next()
		if err != nil {
			t.Fatalf("next failed: %v", err)
		}
		if string(rc.Payload) != want {
			t.Errorf("payload = %q, want %q", rc.Payload, want)
		}
	}
}

func TestFrameReader_ZeroLengthFrame(t *testing.T) {
	f := newFrameReader(bytes.NewReader(Encode(nil)), DefaultMaxFrameSize, time.Second)
	if _, err := f.next(); !errors.Is(err, errEmptyFrame) {
		t.Errorf("expected errEmptyFrame, got %v", err)
	}
}

func TestFrameReader_Oversize(t *testing.T) {
	f := newFrameReader(bytes.NewReader(Encode(make([]byte, 9))), 8, time.Second)
	if _, err := f.next(); !errors.Is(err, ErrFrameTooLarge) {
		t.Errorf("expected ErrFrameTooLarge, got %v", err)
	}
}

func TestFrameReader_TruncatedPayload(t *testing.T) {
	envelope := Encode([]byte("truncated"))
	f := newFrameReader(bytes.NewReader(envelope[:8]), DefaultMaxFrameSize, time.Second)
	if _, err := f.next(); !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Errorf("expected io.ErrUnexpectedEOF, got %v", err)
	}
}

func TestFrameReader_EmptyStream(t *testing.T) {
	f := newFrameReader(bytes.NewReader(nil), DefaultMaxFrameSize, time.Second)
	if _, err := f.next(); !errors.Is(err, errPeerClosed) {
		t.Errorf("expected errPeerClosed, got %v", err)
	}
}

func TestRateTracker(t *testing.T) {
	var rt rateTracker
	base := time.Unix(0, 0)

	rt.observe(1000, base)
	if rt.rate != 0 {
		t.Errorf("rate after first chunk = %v, want 0", rt.rate)
	}
	rt.observe(100, base.Add(time.Second))
	if rt.rate != 50 {
		t.Errorf("rate = %v, want 50", rt.rate)
	}
	rt.observe(150, base.Add(2*time.Second))
	if rt.rate != 100 {
		t.Errorf("rate = %v, want 100", rt.rate)
	}
}
