// Package config loads msgsocket settings from a TOML file.
package config

import (
	"net"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"

	"github.com/Zereker/msgsocket"
)

// Config is the resolved configuration shared by the serve and client commands.
type Config struct {
	Addr string

	ReconnectTryCount int
	ReconnectDelay    time.Duration
	DialTimeout       time.Duration
	ReceiveTimeout    time.Duration
	WriteTimeout      time.Duration
	RequestTimeout    time.Duration
	MaxFrameSize      int

	MaxIncomingConnections int
	ShutdownTimeout        time.Duration

	LogLevel    string
	MetricsAddr string
}

// fileConfig mirrors the TOML layout. Durations are strings such as "1s".
type fileConfig struct {
	Addr                   string `toml:"addr"`
	ReconnectTryCount      int    `toml:"reconnect_try_count"`
	ReconnectDelay         string `toml:"reconnect_delay"`
	DialTimeout            string `toml:"dial_timeout"`
	ReceiveTimeout         string `toml:"receive_timeout"`
	WriteTimeout           string `toml:"write_timeout"`
	RequestTimeout         string `toml:"request_timeout"`
	MaxFrameSize           int    `toml:"max_frame_size"`
	MaxIncomingConnections int    `toml:"max_incoming_connections"`
	ShutdownTimeout        string `toml:"shutdown_timeout"`
	LogLevel               string `toml:"log_level"`
	MetricsAddr            string `toml:"metrics_addr"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Addr:                   "127.0.0.1:12345",
		ReconnectTryCount:      msgsocket.DefaultReconnectTryCount,
		ReconnectDelay:         msgsocket.DefaultReconnectDelay,
		DialTimeout:            msgsocket.DefaultDialTimeout,
		ReceiveTimeout:         msgsocket.DefaultReceiveTimeout,
		WriteTimeout:           msgsocket.DefaultWriteTimeout,
		MaxFrameSize:           msgsocket.DefaultMaxFrameSize,
		MaxIncomingConnections: msgsocket.DefaultMaxIncomingConnections,
		LogLevel:               "info",
	}
}

// Load reads path over the defaults and validates the result.
// Keys missing from the file keep their default values.
func Load(path string) (Config, error) {
	cfg := Default()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, errors.Wrapf(err, "load config %s", path)
	}

	if meta.IsDefined("addr") {
		cfg.Addr = strings.TrimSpace(raw.Addr)
	}
	if meta.IsDefined("reconnect_try_count") {
		cfg.ReconnectTryCount = raw.ReconnectTryCount
	}
	if meta.IsDefined("max_frame_size") {
		cfg.MaxFrameSize = raw.MaxFrameSize
	}
	if meta.IsDefined("max_incoming_connections") {
		cfg.MaxIncomingConnections = raw.MaxIncomingConnections
	}
	if meta.IsDefined("log_level") {
		cfg.LogLevel = strings.TrimSpace(raw.LogLevel)
	}
	if meta.IsDefined("metrics_addr") {
		cfg.MetricsAddr = strings.TrimSpace(raw.MetricsAddr)
	}

	durations := []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"reconnect_delay", raw.ReconnectDelay, &cfg.ReconnectDelay},
		{"dial_timeout", raw.DialTimeout, &cfg.DialTimeout},
		{"receive_timeout", raw.ReceiveTimeout, &cfg.ReceiveTimeout},
		{"write_timeout", raw.WriteTimeout, &cfg.WriteTimeout},
		{"request_timeout", raw.RequestTimeout, &cfg.RequestTimeout},
		{"shutdown_timeout", raw.ShutdownTimeout, &cfg.ShutdownTimeout},
	}
	for _, d := range durations {
		if !meta.IsDefined(d.key) {
			continue
		}
		parsed, err := time.ParseDuration(strings.TrimSpace(d.raw))
		if err != nil {
			return Config{}, errors.Wrapf(err, "parse %s", d.key)
		}
		*d.dst = parsed
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, errors.Wrapf(err, "config %s", path)
	}
	return cfg, nil
}

// Validate checks value ranges.
func (c Config) Validate() error {
	if _, _, err := net.SplitHostPort(c.Addr); err != nil {
		return errors.Wrapf(err, "invalid addr %q", c.Addr)
	}
	if c.ReconnectTryCount < 0 {
		return errors.New("reconnect_try_count must not be negative")
	}
	if c.ReconnectDelay < 0 {
		return errors.New("reconnect_delay must not be negative")
	}
	if c.DialTimeout <= 0 || c.ReceiveTimeout <= 0 || c.WriteTimeout <= 0 {
		return errors.New("dial, receive and write timeouts must be positive")
	}
	if c.RequestTimeout < 0 || c.ShutdownTimeout < 0 {
		return errors.New("request and shutdown timeouts must not be negative")
	}
	if c.MaxFrameSize <= 0 {
		return errors.New("max_frame_size must be positive")
	}
	if c.MaxIncomingConnections <= 0 {
		return errors.New("max_incoming_connections must be positive")
	}
	if c.MetricsAddr != "" {
		if _, _, err := net.SplitHostPort(c.MetricsAddr); err != nil {
			return errors.Wrapf(err, "invalid metrics_addr %q", c.MetricsAddr)
		}
	}
	return nil
}

// ConnOptions converts the connection settings to msgsocket options.
func (c Config) ConnOptions(logger msgsocket.Logger, m *msgsocket.Metrics) []msgsocket.Option {
	opts := []msgsocket.Option{
		msgsocket.ReconnectTryCountOption(c.ReconnectTryCount),
		msgsocket.ReconnectDelayOption(c.ReconnectDelay),
		msgsocket.DialTimeoutOption(c.DialTimeout),
		msgsocket.ReceiveTimeoutOption(c.ReceiveTimeout),
		msgsocket.WriteTimeoutOption(c.WriteTimeout),
		msgsocket.RequestTimeoutOption(c.RequestTimeout),
		msgsocket.MaxFrameSizeOption(c.MaxFrameSize),
		msgsocket.MetricsOption(m),
	}
	if logger != nil {
		opts = append(opts, msgsocket.LoggerOption(logger))
	}
	return opts
}

// HostOptions converts the host settings to msgsocket host options.
// Accepted connections get ConnOptions.
func (c Config) HostOptions(logger msgsocket.Logger, m *msgsocket.Metrics) []msgsocket.HostOption {
	opts := []msgsocket.HostOption{
		msgsocket.HostBacklogOption(c.MaxIncomingConnections),
		msgsocket.HostShutdownTimeoutOption(c.ShutdownTimeout),
		msgsocket.HostMetricsOption(m),
		msgsocket.HostConnOptions(c.ConnOptions(logger, m)...),
	}
	if logger != nil {
		opts = append(opts, msgsocket.HostLoggerOption(logger))
	}
	return opts
}
