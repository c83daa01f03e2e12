package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/fatih/color"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/vitalvas/coremqtt"
	"github.com/vitalvas/coremqtt/extensions/router"
)

var subCmd = &cobra.Command{
	Use:   "sub",
	Short: "Subscribe to topic filters",
	Long: `Subscribe to one or more topic filters and print incoming messages
until interrupted.

With --metrics-addr the client's Prometheus metrics are served on /metrics.

Examples:
  coremqtt sub --topic 'sensors/#'
  coremqtt sub --topic 'a/+' --topic b --qos 1 --metrics-addr :9100`,
	Args: cobra.NoArgs,
	RunE: runSub,
}

func init() {
	subCmd.Flags().StringArrayP("topic", "t", nil, "topic filter, may be repeated (required)")
	subCmd.Flags().IntP("qos", "q", 0, "requested QoS level: 0, 1 or 2")
	subCmd.Flags().Bool("verbose-output", false, "print QoS, retain and packet identifier with each message")
	subCmd.Flags().String("metrics-addr", "", "serve Prometheus metrics on this address")

	_ = subCmd.MarkFlagRequired("topic")
}

// messagePrinter writes messages to out, colored when out is a terminal.
type messagePrinter struct {
	out     io.Writer
	verbose bool
}

func (p *messagePrinter) print(msg *coremqtt.Message) {
	line := color.GreenString(msg.Topic)

	if p.verbose {
		flags := fmt.Sprintf("qos=%d", msg.QoS)
		if msg.Retain {
			flags += " retain"
		}
		if msg.PacketID != 0 {
			flags += fmt.Sprintf(" id=%d", msg.PacketID)
		}
		line += " " + color.CyanString("[%s]", flags)
	}

	fmt.Fprintf(p.out, "%s %s\n", line, msg.Payload)
}

func serveMetrics(addr string, reg *prometheus.Registry, logger coremqtt.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", coremqtt.LogFields{coremqtt.LogFieldError: err})
		}
	}()

	return server
}

func runSub(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := resolveConfig(cmd)
	if err != nil {
		return err
	}

	topics, _ := cmd.Flags().GetStringArray("topic")
	qosValue, _ := cmd.Flags().GetInt("qos")
	verbose, _ := cmd.Flags().GetBool("verbose-output")
	metricsAddr, _ := cmd.Flags().GetString("metrics-addr")

	qos, err := parseQoS(qosValue)
	if err != nil {
		return err
	}

	printer := &messagePrinter{out: cmd.OutOrStdout(), verbose: verbose}

	r := router.New()
	for _, topic := range topics {
		if err := r.Handle(topic, printer.print, router.WithQoS(qos)); err != nil {
			return err
		}
	}
	r.Fallback(func(msg *coremqtt.Message) {
		logger.Debug("message outside subscribed filters", coremqtt.LogFields{coremqtt.LogFieldTopic: msg.Topic})
	})

	opts := []coremqtt.Option{
		coremqtt.WithMessageHandler(r.MessageHandler()),
		coremqtt.OnEvent(func(_ *coremqtt.Client, event error) {
			if coremqtt.IsConnectionLost(event) {
				logger.Warn("connection lost", coremqtt.LogFields{coremqtt.LogFieldError: event})
			}
		}),
	}

	if metricsAddr != "" {
		reg := prometheus.NewRegistry()
		opts = append(opts, coremqtt.WithClientMetrics(coremqtt.NewPrometheusMetrics(reg)))

		server := serveMetrics(metricsAddr, reg, logger)
		defer server.Shutdown(context.Background())
	}

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	client, err := connect(ctx, cfg, logger, opts...)
	if err != nil {
		return err
	}
	defer client.Close()

	codes, err := client.Subscribe(ctx, r.Subscriptions()...)
	if err != nil {
		var se *coremqtt.SubscribeError
		if !errors.As(err, &se) || len(se.Refused) == len(codes) {
			return fmt.Errorf("subscribe failed: %w", err)
		}
		logger.Warn("some subscriptions were refused", coremqtt.LogFields{"refused": se.Refused})
	}

	logger.Info("subscribed", coremqtt.LogFields{"filters": r.Filters()})

	select {
	case <-ctx.Done():
		return nil
	case <-client.Done():
		return client.Err()
	}
}
