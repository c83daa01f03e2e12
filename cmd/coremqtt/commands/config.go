package commands

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/vitalvas/coremqtt"
)

// Config holds the connection settings shared by all commands.
type Config struct {
	URL          string `yaml:"url"`
	ClientID     string `yaml:"client_id"`
	Username     string `yaml:"username"`
	Password     string `yaml:"password"`
	KeepAlive    uint16 `yaml:"keep_alive"`
	CleanSession bool   `yaml:"clean_session"`
	LogLevel     string `yaml:"log_level"`

	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	Proxy          string        `yaml:"proxy"`

	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig configures TLS for tls://, mqtts://, wss:// and quic:// URLs.
type TLSConfig struct {
	CAFile             string `yaml:"ca_file"`
	CertFile           string `yaml:"cert_file"`
	KeyFile            string `yaml:"key_file"`
	ServerName         string `yaml:"server_name"`
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify"`
}

func defaultConfig() *Config {
	return &Config{
		URL:            "tcp://localhost:1883",
		KeepAlive:      60,
		CleanSession:   true,
		LogLevel:       "info",
		ConnectTimeout: 10 * time.Second,
	}
}

// loadConfig reads path over the defaults. An empty path returns the
// defaults.
func loadConfig(path string) (*Config, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	return cfg, nil
}

// applyFlags overrides cfg with the global flags set on the command line.
func (cfg *Config) applyFlags(cmd *cobra.Command) {
	flags := cmd.Flags()

	if flags.Changed("url") {
		cfg.URL = brokerURL
	}
	if flags.Changed("client-id") {
		cfg.ClientID = clientID
	}
	if flags.Changed("username") {
		cfg.Username = username
	}
	if flags.Changed("password") {
		cfg.Password = password
	}
	if flags.Changed("keep-alive") {
		cfg.KeepAlive = keepAlive
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = logLevel
	}
}

func (c *TLSConfig) build() (*tls.Config, error) {
	config := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		ServerName:         c.ServerName,
		InsecureSkipVerify: c.InsecureSkipVerify, //nolint:gosec // opt-in for test brokers
	}

	if c.CAFile != "" {
		pem, err := os.ReadFile(c.CAFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates found in %s", c.CAFile)
		}
		config.RootCAs = pool
	}

	if c.CertFile != "" || c.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(c.CertFile, c.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load client certificate: %w", err)
		}
		config.Certificates = []tls.Certificate{cert}
	}

	return config, nil
}

// newLogger returns a logrus backed logger writing to stderr.
func (cfg *Config) newLogger() (coremqtt.Logger, error) {
	level, err := coremqtt.ParseLogLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}

	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	logger := coremqtt.NewLogrusLogger(l)
	logger.SetLevel(level)

	return logger, nil
}

// clientOptions converts cfg to client options.
func (cfg *Config) clientOptions(logger coremqtt.Logger) ([]coremqtt.Option, error) {
	opts := []coremqtt.Option{
		coremqtt.WithKeepAlive(cfg.KeepAlive),
		coremqtt.WithCleanSession(cfg.CleanSession),
		coremqtt.WithClientLogger(logger),
		coremqtt.WithProxyFromEnvironment(true),
	}

	if cfg.ClientID != "" {
		opts = append(opts, coremqtt.WithClientID(cfg.ClientID))
	}
	if cfg.Username != "" {
		opts = append(opts, coremqtt.WithCredentials(cfg.Username, cfg.Password))
	}
	if cfg.ConnectTimeout > 0 {
		opts = append(opts, coremqtt.WithConnectTimeout(cfg.ConnectTimeout))
	}
	if cfg.Proxy != "" {
		opts = append(opts, coremqtt.WithProxy(cfg.Proxy))
	}

	if cfg.TLS != nil {
		tlsConfig, err := cfg.TLS.build()
		if err != nil {
			return nil, err
		}
		opts = append(opts, coremqtt.WithTLS(tlsConfig))
	}

	return opts, nil
}
