package msgsocket

import "time"

// ReceiveContext describes one complete message delivered to OnReceive handlers.
// Handlers may keep Payload; the connection does not reuse it.
type ReceiveContext struct {
	// Conn is the connection the message arrived on.
	Conn *Conn
	// Payload is the message body without the length header.
	Payload []byte
	// Rate is the smoothed throughput in bytes per second observed across
	// the chunks of this message. It is 0 when the payload arrived in one read.
	Rate float64
	// Duration is the time from the first byte of the frame to its last.
	Duration time.Duration
}

// Size returns the payload length.
func (rc ReceiveContext) Size() int {
	return len(rc.Payload)
}

// Reply sends payload back on the connection the message arrived on.
func (rc ReceiveContext) Reply(payload []byte) int {
	if rc.Conn == nil {
		return -1
	}
	return rc.Conn.Send(payload)
}

// rateTracker smooths per-chunk throughput: after every chunk but the first,
// rate = (chunk/elapsed + rate) / 2.
type rateTracker struct {
	last   time.Time
	chunks int
	rate   float64
}

func (t *rateTracker) observe(n int, now time.Time) {
	if t.chunks > 0 {
		if elapsed := now.Sub(t.last).Seconds(); elapsed > 0 {
			t.rate = (float64(n)/elapsed + t.rate) / 2
		}
	}
	t.chunks++
	t.last = now
}
