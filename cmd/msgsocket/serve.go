package main

import (
	"bufio"
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/Zereker/msgsocket"
	"github.com/Zereker/msgsocket/internal/observability"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run a sample server",
	Long: `Run a server that echoes every message back to its sender, or answers
with a fixed --reply. With --broadcast, each line typed on stdin is sent to
every connected client.`,
	RunE: runServe,
}

func init() {
	flags := serveCmd.Flags()
	flags.String("reply", "", "answer every message with this text instead of echoing it")
	flags.Bool("broadcast", false, "send each stdin line to all clients")
	flags.Int("max-incoming-connections", 0, "listen backlog")
	flags.Duration("shutdown-timeout", 0, "keep accepting this long after a shutdown signal")
	flags.String("metrics-addr", "", "serve Prometheus metrics on this address")
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := resolveConfig(cmd)
	if err != nil {
		return err
	}

	zl := observability.InitLogger("msgsocket-serve", cfg.LogLevel)
	metrics := msgsocket.NewMetrics()
	host := msgsocket.NewHost(cfg.HostOptions(observability.NewLogger(zl), metrics)...)

	reply := viper.GetString("reply")
	host.OnInboundConnection(func(c *msgsocket.Conn) {
		zl.Info().Str("conn_id", c.ID()).Str("addr", c.Addr()).Msg("client connected")
		c.OnReceive(func(rc msgsocket.ReceiveContext) {
			logReceived(zl, rc)
			if reply != "" {
				rc.Reply([]byte(reply))
				return
			}
			rc.Reply(rc.Payload)
		})
	})

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := host.Serve(gctx, cfg.Addr)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	if cfg.MetricsAddr != "" {
		srv := metricsServer(cfg.MetricsAddr, metrics)
		g.Go(func() error {
			zl.Info().Str("addr", cfg.MetricsAddr).Msg("metrics listening")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return errors.Wrap(err, "metrics server")
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	if viper.GetBool("broadcast") {
		// Stdin reads cannot be interrupted, so this goroutine is not awaited.
		go broadcastLines(host, zl)
	}

	return g.Wait()
}

func metricsServer(addr string, m *msgsocket.Metrics) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", func(w http.ResponseWriter, _ *http.Request) {
		m.WritePrometheus(w)
	})
	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

func broadcastLines(host *msgsocket.Host, zl zerolog.Logger) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		sent := host.Broadcast(context.Background(), line)
		zl.Info().Int("clients", sent).Msg("broadcast")
	}
}

func logReceived(zl zerolog.Logger, rc msgsocket.ReceiveContext) {
	zl.Info().
		Str("conn_id", rc.Conn.ID()).
		Int("size", rc.Size()).
		Float64("rate", rc.Rate).
		Dur("duration", rc.Duration).
		Msg("message received")
}
