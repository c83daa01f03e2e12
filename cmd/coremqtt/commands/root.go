package commands

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/vitalvas/coremqtt"
)

var (
	// Global flags
	cfgFile   string
	brokerURL string
	clientID  string
	username  string
	password  string
	keepAlive uint16
	logLevel  string
)

var rootCmd = &cobra.Command{
	Use:   "coremqtt",
	Short: "MQTT 3.1.1 command line client",
	Long: `coremqtt publishes and subscribes to an MQTT 3.1.1 broker.

Broker URLs may use the tcp, mqtt, tls, ssl, mqtts, ws, wss, quic and unix
schemes. Connection settings can be kept in a YAML file:

  url: tls://broker.example.com:8883
  client_id: sensor-1
  username: sensor
  password: secret
  keep_alive: 30
  tls:
    ca_file: ca.pem

Examples:
  coremqtt pub --url tcp://localhost:1883 --topic sensors/temp --message 21.5
  coremqtt sub --config broker.yaml --topic 'sensors/#' --qos 1
`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "YAML config file")
	flags.StringVar(&brokerURL, "url", "tcp://localhost:1883", "broker URL")
	flags.StringVar(&clientID, "client-id", "", "client identifier (generated when empty)")
	flags.StringVarP(&username, "username", "u", "", "user name")
	flags.StringVarP(&password, "password", "P", "", "password")
	flags.Uint16Var(&keepAlive, "keep-alive", 60, "keep-alive interval in seconds, 0 disables")
	flags.StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error or none")

	rootCmd.AddCommand(pubCmd)
	rootCmd.AddCommand(subCmd)
}

// resolveConfig loads the config file and applies the global flags.
func resolveConfig(cmd *cobra.Command) (*Config, coremqtt.Logger, error) {
	cfg, err := loadConfig(cfgFile)
	if err != nil {
		return nil, nil, err
	}
	cfg.applyFlags(cmd)

	logger, err := cfg.newLogger()
	if err != nil {
		return nil, nil, err
	}

	return cfg, logger, nil
}

// connect dials the broker described by cfg with extra options appended.
func connect(ctx context.Context, cfg *Config, logger coremqtt.Logger, extra ...coremqtt.Option) (*coremqtt.Client, error) {
	opts, err := cfg.clientOptions(logger)
	if err != nil {
		return nil, err
	}

	client, err := coremqtt.Dial(ctx, cfg.URL, append(opts, extra...)...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", cfg.URL, err)
	}

	return client, nil
}

// signalContext is canceled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
}

func parseQoS(value int) (coremqtt.QoS, error) {
	qos := coremqtt.QoS(value)
	if value < 0 || !qos.Valid() {
		return 0, fmt.Errorf("invalid QoS %d, must be 0, 1 or 2", value)
	}
	return qos, nil
}
