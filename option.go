package msgsocket

import (
	"time"
)

// options holds the configuration for a connection.
type options struct {
	logger  Logger
	metrics *Metrics

	onConnected []func(*Conn)
	onReceive   []func(ReceiveContext)
	onError     []func(error)

	reconnectTryCount int           // retries after the first dial attempt
	reconnectDelay    time.Duration // fixed delay between dial attempts
	dialTimeout       time.Duration // bound on a single dial attempt
	receiveTimeout    time.Duration // bound on a stalled, partially received frame
	writeTimeout      time.Duration // bound on a single frame write
	requestTimeout    time.Duration // bound on a RequestChannel call; 0 means context only
	maxFrameSize      int           // largest payload accepted or sent
}

// Option is a function that configures connection options.
type Option func(*options)

// Default configuration values.
const (
	DefaultReconnectTryCount = 3
	DefaultReconnectDelay    = time.Second
	DefaultDialTimeout       = 5 * time.Second
	DefaultReceiveTimeout    = 20 * time.Second
	DefaultWriteTimeout      = 20 * time.Second
)

// checkOptions validates and sets default values for connection options.
func checkOptions(opts *options) {
	if opts.reconnectTryCount < 0 {
		opts.reconnectTryCount = DefaultReconnectTryCount
	}

	if opts.reconnectDelay < 0 {
		opts.reconnectDelay = DefaultReconnectDelay
	}

	if opts.dialTimeout <= 0 {
		opts.dialTimeout = DefaultDialTimeout
	}

	if opts.receiveTimeout <= 0 {
		opts.receiveTimeout = DefaultReceiveTimeout
	}

	if opts.writeTimeout <= 0 {
		opts.writeTimeout = DefaultWriteTimeout
	}

	if opts.maxFrameSize <= 0 {
		opts.maxFrameSize = DefaultMaxFrameSize
	}
	if opts.maxFrameSize > maxFrameLimit {
		opts.maxFrameSize = maxFrameLimit
	}

	if opts.logger == nil {
		opts.logger = defaultLogger()
	}
}

// newOptions applies opt over the defaults. Unset retry values use the
// package defaults; an explicit zero disables retries or delay.
func newOptions(opt ...Option) options {
	opts := options{
		reconnectTryCount: DefaultReconnectTryCount,
		reconnectDelay:    DefaultReconnectDelay,
	}
	for _, o := range opt {
		o(&opts)
	}
	checkOptions(&opts)
	return opts
}

// ReconnectTryCountOption sets how many times a failed dial is retried.
// A connect makes at most count+1 attempts.
func ReconnectTryCountOption(count int) Option {
	return func(o *options) {
		o.reconnectTryCount = count
	}
}

// ReconnectDelayOption sets the fixed delay between dial attempts.
func ReconnectDelayOption(delay time.Duration) Option {
	return func(o *options) {
		o.reconnectDelay = delay
	}
}

// DialTimeoutOption bounds each individual dial attempt.
func DialTimeoutOption(timeout time.Duration) Option {
	return func(o *options) {
		o.dialTimeout = timeout
	}
}

// ReceiveTimeoutOption bounds how long a frame may stall once its first
// bytes have arrived. Idle time between frames is not limited.
func ReceiveTimeoutOption(timeout time.Duration) Option {
	return func(o *options) {
		o.receiveTimeout = timeout
	}
}

// WriteTimeoutOption bounds each frame write.
func WriteTimeoutOption(timeout time.Duration) Option {
	return func(o *options) {
		o.writeTimeout = timeout
	}
}

// MaxFrameSizeOption sets the largest payload that may be sent or received.
// Incoming frames declaring more are a protocol error.
func MaxFrameSizeOption(size int) Option {
	return func(o *options) {
		o.maxFrameSize = size
	}
}

// RequestTimeoutOption bounds each RequestChannel.Request in addition to its
// context. Zero, the default, leaves the bound to the context alone.
func RequestTimeoutOption(timeout time.Duration) Option {
	return func(o *options) {
		o.requestTimeout = timeout
	}
}

// OnConnectedOption registers a handler fired after every successful connect.
func OnConnectedOption(cb func(*Conn)) Option {
	return func(o *options) {
		o.onConnected = append(o.onConnected, cb)
	}
}

// OnReceiveOption registers a handler for every complete message.
func OnReceiveOption(cb func(ReceiveContext)) Option {
	return func(o *options) {
		o.onReceive = append(o.onReceive, cb)
	}
}

// OnErrorOption registers a handler for connection errors.
// The error is a *ConnectionError; classify it with errors.Is.
func OnErrorOption(cb func(error)) Option {
	return func(o *options) {
		o.onError = append(o.onError, cb)
	}
}

// LoggerOption returns an Option that sets the logger.
// If not set, the default slog logger will be used.
func LoggerOption(logger Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// MetricsOption records connection activity in m.
func MetricsOption(m *Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}
