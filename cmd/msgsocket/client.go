package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Zereker/msgsocket"
	"github.com/Zereker/msgsocket/internal/config"
	"github.com/Zereker/msgsocket/internal/observability"
)

var clientCmd = &cobra.Command{
	Use:   "client",
	Short: "Run a sample console client",
	Long: `Send each line typed on stdin to the server.

In request mode (--request) every line waits for its reply, which is printed.
Otherwise every message the server sends is printed as it arrives, together
with its size, transfer rate and duration.`,
	RunE: runClient,
}

func init() {
	clientCmd.Flags().Bool("request", false, "wait for a reply to each line")
}

func runClient(cmd *cobra.Command, _ []string) error {
	cfg, err := resolveConfig(cmd)
	if err != nil {
		return err
	}

	zl := observability.InitLogger("msgsocket-client", cfg.LogLevel)
	logger := observability.NewLogger(zl)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	out := cmd.OutOrStdout()
	if viper.GetBool("request") {
		return runRequestMode(ctx, cfg, logger, os.Stdin, out)
	}
	return runConnMode(ctx, cfg, logger, os.Stdin, out)
}

// runConnMode prints every received message and sends each input line.
func runConnMode(ctx context.Context, cfg config.Config, logger msgsocket.Logger, in io.Reader, out io.Writer) error {
	conn, err := msgsocket.NewConn(cfg.Addr, cfg.ConnOptions(logger, nil)...)
	if err != nil {
		return err
	}
	defer conn.Close()

	conn.OnReceive(func(rc msgsocket.ReceiveContext) {
		fmt.Fprintf(out, "< %s (%d bytes, %.0f B/s, %s)\n", rc.Payload, rc.Size(), rc.Rate, rc.Duration)
	})
	conn.OnError(func(err error) {
		fmt.Fprintf(out, "! %v\n", err)
	})

	if err := conn.ConnectContext(ctx); err != nil {
		return err
	}

	return scanLines(ctx, in, func(line []byte) error {
		if _, err := conn.SendContext(ctx, line); err != nil {
			return err
		}
		return nil
	})
}

// runRequestMode sends each input line as a request and prints the reply.
func runRequestMode(ctx context.Context, cfg config.Config, logger msgsocket.Logger, in io.Reader, out io.Writer) error {
	ch, err := msgsocket.NewRequestChannel(cfg.Addr, cfg.ConnOptions(logger, nil)...)
	if err != nil {
		return err
	}
	defer ch.Close()

	return scanLines(ctx, in, func(line []byte) error {
		reply, err := ch.Request(ctx, line)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return err
			}
			fmt.Fprintf(out, "! %v\n", err)
			return nil
		}
		fmt.Fprintf(out, "< %s\n", reply)
		return nil
	})
}

// scanLines calls fn for every non-empty line of in until EOF or ctx ends.
func scanLines(ctx context.Context, in io.Reader, fn func([]byte) error) error {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		if err := fn(append([]byte(nil), line...)); err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
	}
	return errors.Wrap(scanner.Err(), "read input")
}
