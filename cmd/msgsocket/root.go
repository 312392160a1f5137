package main

import (
	"strings"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Zereker/msgsocket/internal/config"
)

var rootCmd = &cobra.Command{
	Use:   "msgsocket",
	Short: "Length-prefixed TCP messaging",
	Long: `msgsocket sends messages over TCP as length-prefixed frames.

Settings come from flags, MSGSOCKET_<FLAG> environment variables (for example
MSGSOCKET_RECEIVE_TIMEOUT=30s), .env files and an optional TOML file given
with --config, in that order of precedence.`,
	SilenceUsage: true,
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(clientCmd)

	flags := rootCmd.PersistentFlags()
	flags.String("config", "", "TOML configuration file")
	flags.String("addr", "", "address to listen on or connect to (host:port)")
	flags.Int("reconnect-try-count", 0, "dial retries after the first attempt")
	flags.Duration("reconnect-delay", 0, "delay between dial attempts")
	flags.Duration("dial-timeout", 0, "bound on a single dial attempt")
	flags.Duration("receive-timeout", 0, "bound on a stalled, partially received message")
	flags.Duration("write-timeout", 0, "bound on a single message write")
	flags.Duration("request-timeout", 0, "bound on a request/response exchange (0 = none)")
	flags.Int("max-frame-size", 0, "largest message accepted or sent, in bytes")
	flags.String("log-level", "", "log level (debug, info, warn, error)")
}

// initConfig loads env files and enables MSGSOCKET_* variables.
func initConfig() {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	viper.SetEnvPrefix("msgsocket")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

// resolveConfig layers flags and environment variables over the config file
// and built-in defaults.
func resolveConfig(cmd *cobra.Command) (config.Config, error) {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return config.Config{}, errors.Wrap(err, "bind flags")
	}

	cfg := config.Default()
	if path := viper.GetString("config"); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return config.Config{}, err
		}
		cfg = loaded
	}

	if viper.IsSet("addr") {
		cfg.Addr = viper.GetString("addr")
	}
	if viper.IsSet("reconnect-try-count") {
		cfg.ReconnectTryCount = viper.GetInt("reconnect-try-count")
	}
	if viper.IsSet("reconnect-delay") {
		cfg.ReconnectDelay = viper.GetDuration("reconnect-delay")
	}
	if viper.IsSet("dial-timeout") {
		cfg.DialTimeout = viper.GetDuration("dial-timeout")
	}
	if viper.IsSet("receive-timeout") {
		cfg.ReceiveTimeout = viper.GetDuration("receive-timeout")
	}
	if viper.IsSet("write-timeout") {
		cfg.WriteTimeout = viper.GetDuration("write-timeout")
	}
	if viper.IsSet("request-timeout") {
		cfg.RequestTimeout = viper.GetDuration("request-timeout")
	}
	if viper.IsSet("max-frame-size") {
		cfg.MaxFrameSize = viper.GetInt("max-frame-size")
	}
	if viper.IsSet("log-level") {
		cfg.LogLevel = viper.GetString("log-level")
	}
	if viper.IsSet("max-incoming-connections") {
		cfg.MaxIncomingConnections = viper.GetInt("max-incoming-connections")
	}
	if viper.IsSet("shutdown-timeout") {
		cfg.ShutdownTimeout = viper.GetDuration("shutdown-timeout")
	}
	if viper.IsSet("metrics-addr") {
		cfg.MetricsAddr = viper.GetString("metrics-addr")
	}

	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}
