package msgsocket

import (
	"io"
	"sync/atomic"
	"time"

	"github.com/VictoriaMetrics/metrics"
)

// Metrics counts connection activity in a VictoriaMetrics set.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	set *metrics.Set

	framesSent       *metrics.Counter
	bytesSent        *metrics.Counter
	framesReceived   *metrics.Counter
	bytesReceived    *metrics.Counter
	reconnects       *metrics.Counter
	connectFailures  *metrics.Counter
	sendFailures     *metrics.Counter
	receiveFailures  *metrics.Counter
	protocolFailures *metrics.Counter
	accepted         *metrics.Counter
	receiveDuration  *metrics.Histogram

	live atomic.Int64
}

// NewMetrics registers the msgsocket metrics in a fresh set.
func NewMetrics() *Metrics {
	set := metrics.NewSet()
	m := &Metrics{
		set:              set,
		framesSent:       set.GetOrCreateCounter("msgsocket_frames_sent_total"),
		bytesSent:        set.GetOrCreateCounter("msgsocket_bytes_sent_total"),
		framesReceived:   set.GetOrCreateCounter("msgsocket_frames_received_total"),
		bytesReceived:    set.GetOrCreateCounter("msgsocket_bytes_received_total"),
		reconnects:       set.GetOrCreateCounter("msgsocket_reconnects_total"),
		connectFailures:  set.GetOrCreateCounter(`msgsocket_failures_total{kind="establish"}`),
		sendFailures:     set.GetOrCreateCounter(`msgsocket_failures_total{kind="send"}`),
		receiveFailures:  set.GetOrCreateCounter(`msgsocket_failures_total{kind="receive"}`),
		protocolFailures: set.GetOrCreateCounter(`msgsocket_failures_total{kind="protocol"}`),
		accepted:         set.GetOrCreateCounter("msgsocket_host_accepted_total"),
		receiveDuration:  set.GetOrCreateHistogram("msgsocket_receive_duration_seconds"),
	}
	set.GetOrCreateGauge("msgsocket_host_connections", func() float64 {
		return float64(m.live.Load())
	})
	return m
}

// WritePrometheus writes all metrics in Prometheus text exposition format.
func (m *Metrics) WritePrometheus(w io.Writer) {
	if m == nil {
		return
	}
	m.set.WritePrometheus(w)
}

func (m *Metrics) frameSent(n int) {
	if m == nil {
		return
	}
	m.framesSent.Inc()
	m.bytesSent.Add(n)
}

func (m *Metrics) frameReceived(size int, d time.Duration) {
	if m == nil {
		return
	}
	m.framesReceived.Inc()
	m.bytesReceived.Add(size + HeaderSize)
	m.receiveDuration.Update(d.Seconds())
}

func (m *Metrics) reconnected() {
	if m == nil {
		return
	}
	m.reconnects.Inc()
}

func (m *Metrics) failure(kind ErrorKind) {
	if m == nil {
		return
	}
	switch kind {
	case KindEstablishConnection:
		m.connectFailures.Inc()
	case KindSend:
		m.sendFailures.Inc()
	case KindReceive:
		m.receiveFailures.Inc()
	case KindProtocol:
		m.protocolFailures.Inc()
	}
}

func (m *Metrics) connAccepted() {
	if m == nil {
		return
	}
	m.accepted.Inc()
	m.live.Add(1)
}

func (m *Metrics) connRemoved() {
	if m == nil {
		return
	}
	m.live.Add(-1)
}
