package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/Zereker/msgsocket"
)

func main() {
	host := msgsocket.NewHost(
		msgsocket.HostConnOptions(
			msgsocket.OnErrorOption(func(err error) {
				slog.Warn("connection error", "error", err)
			}),
		),
	)

	// Echo
	host.OnInboundConnection(func(conn *msgsocket.Conn) {
		slog.Info("add new conn", "id", conn.ID(), "addr", conn.Addr())
		conn.OnReceive(func(rc msgsocket.ReceiveContext) {
			rc.Reply(rc.Payload)
		})
	})

	// Handle graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	slog.Info("server start", "addr", "127.0.0.1:12345")
	if err := host.Serve(ctx, "127.0.0.1:12345"); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}
