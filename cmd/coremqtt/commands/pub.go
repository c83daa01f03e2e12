package commands

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/vitalvas/coremqtt"
)

var pubCmd = &cobra.Command{
	Use:   "pub",
	Short: "Publish a message",
	Long: `Publish a message to a topic.

The payload is taken from --message, or from --file (use - for stdin).
QoS 1 and QoS 2 publishes wait for the broker's acknowledgment.

Examples:
  coremqtt pub --topic sensors/temp --message 21.5
  coremqtt pub --topic firmware/blob --file image.bin --qos 1
  coremqtt pub --topic load/test --message x --count 1000 --rate 100`,
	Args: cobra.NoArgs,
	RunE: runPub,
}

func init() {
	pubCmd.Flags().StringP("topic", "t", "", "topic name (required)")
	pubCmd.Flags().StringP("message", "m", "", "message payload")
	pubCmd.Flags().StringP("file", "f", "", "read the payload from a file, - for stdin")
	pubCmd.Flags().IntP("qos", "q", 0, "QoS level: 0, 1 or 2")
	pubCmd.Flags().BoolP("retain", "r", false, "set the retain flag")
	pubCmd.Flags().Int("count", 1, "number of times to publish the message")
	pubCmd.Flags().Float64("rate", 0, "maximum publishes per second, 0 for unlimited")

	_ = pubCmd.MarkFlagRequired("topic")
	pubCmd.MarkFlagsMutuallyExclusive("message", "file")
}

func readPayload(cmd *cobra.Command) ([]byte, error) {
	file, err := cmd.Flags().GetString("file")
	if err != nil {
		return nil, fmt.Errorf("failed to read 'file' flag: %w", err)
	}

	switch file {
	case "":
		message, err := cmd.Flags().GetString("message")
		if err != nil {
			return nil, fmt.Errorf("failed to read 'message' flag: %w", err)
		}
		return []byte(message), nil
	case "-":
		return io.ReadAll(cmd.InOrStdin())
	default:
		return os.ReadFile(file)
	}
}

func runPub(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := resolveConfig(cmd)
	if err != nil {
		return err
	}

	topic, _ := cmd.Flags().GetString("topic")
	qosValue, _ := cmd.Flags().GetInt("qos")
	retain, _ := cmd.Flags().GetBool("retain")
	count, _ := cmd.Flags().GetInt("count")
	rate, _ := cmd.Flags().GetFloat64("rate")

	qos, err := parseQoS(qosValue)
	if err != nil {
		return err
	}
	if count < 1 {
		return fmt.Errorf("--count must be at least 1")
	}

	payload, err := readPayload(cmd)
	if err != nil {
		return fmt.Errorf("failed to read payload: %w", err)
	}

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	client, err := connect(ctx, cfg, logger, coremqtt.WithPublishRate(rate, 1))
	if err != nil {
		return err
	}
	defer client.Close()

	for i := range count {
		msg := &coremqtt.Message{
			Topic:   topic,
			Payload: payload,
			QoS:     qos,
			Retain:  retain,
		}
		if err := client.Publish(ctx, msg); err != nil {
			return fmt.Errorf("publish %d of %d failed: %w", i+1, count, err)
		}

		logger.Debug("message published", coremqtt.LogFields{
			coremqtt.LogFieldTopic:    topic,
			coremqtt.LogFieldPacketID: msg.PacketID,
		})
	}

	logger.Info("published", coremqtt.LogFields{
		coremqtt.LogFieldTopic: topic,
		"count":                count,
	})

	return nil
}
