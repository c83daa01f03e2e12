package coremqtt

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogLevelNames(t *testing.T) {
	levels := []LogLevel{LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError, LogLevelNone}
	names := []string{"DEBUG", "INFO", "WARN", "ERROR", "NONE"}

	for i, level := range levels {
		assert.Equal(t, names[i], level.String())
		if i > 0 {
			assert.Less(t, levels[i-1], level, "levels are ordered by severity")
		}
	}
	assert.Equal(t, "UNKNOWN", LogLevel(42).String())
}

func TestNoOpLoggerDiscards(t *testing.T) {
	var logger Logger = NewNoOpLogger()

	assert.NotPanics(t, func() {
		logger.Error("transport closed", LogFields{LogFieldError: io.EOF})
	})
	assert.Same(t, logger, logger.WithFields(LogFields{LogFieldClientID: "x"}))
	assert.Equal(t, LogLevelNone, logger.Level())

	logger.SetLevel(LogLevelWarn)
	assert.Equal(t, LogLevelWarn, logger.Level())
}

func TestStdLogger(t *testing.T) {
	t.Run("level filtering", func(t *testing.T) {
		tests := []struct {
			level  LogLevel
			logged []string
		}{
			{LogLevelDebug, []string{"[DEBUG] sizes", "[INFO] connected", "[WARN] refused", "[ERROR] timeout"}},
			{LogLevelInfo, []string{"[INFO] connected", "[WARN] refused", "[ERROR] timeout"}},
			{LogLevelWarn, []string{"[WARN] refused", "[ERROR] timeout"}},
			{LogLevelError, []string{"[ERROR] timeout"}},
			{LogLevelNone, nil},
		}

		for _, tt := range tests {
			t.Run(tt.level.String(), func(t *testing.T) {
				buf := &bytes.Buffer{}
				logger := NewStdLogger(buf, tt.level)

				logger.Debug("sizes", nil)
				logger.Info("connected", nil)
				logger.Warn("refused", nil)
				logger.Error("timeout", nil)

				output := buf.String()
				assert.Equal(t, len(tt.logged), strings.Count(output, "\n"))
				for _, line := range tt.logged {
					assert.Contains(t, output, line)
				}
			})
		}
	})

	t.Run("context fields are inherited and overridden", func(t *testing.T) {
		buf := &bytes.Buffer{}
		base := NewStdLogger(buf, LogLevelDebug).WithFields(LogFields{
			LogFieldClientID: "sensor-7",
			LogFieldTopic:    "old",
		})
		scoped := base.WithFields(LogFields{LogFieldTopic: "home/door"})

		scoped.Info("message delivered", LogFields{LogFieldPacketID: 12})
		base.Info("keep-alive sent", nil)

		lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
		require.Len(t, lines, 2)
		assert.Contains(t, lines[0], "message delivered client_id=sensor-7 packet_id=12 topic=home/door")
		assert.Contains(t, lines[1], "keep-alive sent client_id=sensor-7 topic=old")
	})

	t.Run("SetLevel applies to later calls", func(t *testing.T) {
		buf := &bytes.Buffer{}
		logger := NewStdLogger(buf, LogLevelError)

		logger.Info("dropped", nil)
		logger.SetLevel(LogLevelInfo)
		logger.Info("kept", nil)

		assert.NotContains(t, buf.String(), "dropped")
		assert.Contains(t, buf.String(), "[INFO] kept")
		assert.Equal(t, LogLevelInfo, logger.Level())
	})

	t.Run("nil writer", func(t *testing.T) {
		assert.NotNil(t, NewStdLogger(nil, LogLevelDebug).logger)
	})
}

func TestStdLoggerFormat(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := NewStdLogger(buf, LogLevelDebug)

	logger.Warn("subscription refused by broker", LogFields{"index": 1, LogFieldPacketID: 7})

	output := buf.String()
	assert.True(t, strings.HasPrefix(output, "coremqtt "))
	assert.Contains(t, output, "[WARN] subscription refused by broker index=1 packet_id=7")
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		name    string
		want    LogLevel
		wantErr bool
	}{
		{"debug", LogLevelDebug, false},
		{"INFO", LogLevelInfo, false},
		{"warn", LogLevelWarn, false},
		{"warning", LogLevelWarn, false},
		{"Error", LogLevelError, false},
		{"none", LogLevelNone, false},
		{"off", LogLevelNone, false},
		{"trace", LogLevelNone, true},
		{"", LogLevelNone, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			level, err := ParseLogLevel(tt.name)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, level)
		})
	}
}

func TestLogrusLogger(t *testing.T) {
	newLogger := func() (*LogrusLogger, *bytes.Buffer) {
		buf := &bytes.Buffer{}
		l := logrus.New()
		l.SetOutput(buf)
		l.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true, DisableColors: true})
		return NewLogrusLogger(l), buf
	}

	t.Run("writes fields", func(t *testing.T) {
		logger, buf := newLogger()
		logger.SetLevel(LogLevelDebug)

		logger.WithFields(LogFields{LogFieldClientID: "sensor-1"}).Debug("packet sent", LogFields{LogFieldBytes: 4})

		output := buf.String()
		assert.Contains(t, output, "level=debug")
		assert.Contains(t, output, `msg="packet sent"`)
		assert.Contains(t, output, "client_id=sensor-1")
		assert.Contains(t, output, "bytes=4")
	})

	t.Run("status fields by name", func(t *testing.T) {
		logger, buf := newLogger()

		logger.WithFields(LogFields{LogFieldStatus: StatusKeepAliveTimeout}).Error("exiting receive loop", nil)

		assert.Contains(t, buf.String(), "status=MQTTKeepAliveTimeout")
	})

	t.Run("level filtering", func(t *testing.T) {
		logger, buf := newLogger()
		logger.SetLevel(LogLevelWarn)

		logger.Info("hidden", nil)
		logger.Error("shown", nil)

		assert.NotContains(t, buf.String(), "hidden")
		assert.Contains(t, buf.String(), "shown")
	})

	t.Run("level mapping", func(t *testing.T) {
		logger, _ := newLogger()

		for _, level := range []LogLevel{LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError, LogLevelNone} {
			logger.SetLevel(level)
			assert.Equal(t, level, logger.Level())
		}
	})

	t.Run("nil uses the standard logger", func(t *testing.T) {
		logger := NewLogrusLogger(nil)
		assert.Same(t, logrus.StandardLogger(), logger.entry.Logger)
	})
}

var (
	_ Logger = (*NoOpLogger)(nil)
	_ Logger = (*StdLogger)(nil)
	_ Logger = (*LogrusLogger)(nil)
)

func BenchmarkStdLoggerFiltered(b *testing.B) {
	logger := NewStdLogger(&bytes.Buffer{}, LogLevelError)
	fields := LogFields{LogFieldPacketType: PacketPUBLISH, LogFieldBytes: 128}

	b.ReportAllocs()
	for b.Loop() {
		logger.Debug("packet sent", fields)
	}
}

func TestEngineLogging(t *testing.T) {
	buf := &bytes.Buffer{}
	c, transport, _, _ := newConnectedEngine(t, 0, WithLogger(NewStdLogger(buf, LogLevelDebug)))

	transport.feed(subackPacket(1, SubackFailure))
	require.NoError(t, c.ProcessLoop(0))

	output := buf.String()
	assert.Contains(t, output, "[INFO] MQTT connection established with the broker")
	assert.Contains(t, output, "client_id=test-client")
	assert.Contains(t, output, "[WARN]")

	buf.Reset()
	transport.recvErr = errScripted
	require.ErrorIs(t, c.ProcessLoop(0), ErrRecvFailed)
	assert.Contains(t, buf.String(), "[ERROR] exiting receive loop")
	assert.Contains(t, buf.String(), "status=MQTTRecvFailed")
	assert.NotContains(t, buf.String(), "status=coremqtt:")
}

func TestLoggerRealWorldUsage(t *testing.T) {
	t.Run("connection lifecycle logging", func(t *testing.T) {
		buf := &bytes.Buffer{}
		logger := NewStdLogger(buf, LogLevelDebug)

		connLogger := logger.WithFields(LogFields{
			LogFieldClientID:   "client-123",
			LogFieldRemoteAddr: "192.168.1.100:1883",
		})

		connLogger.Info("MQTT connection established with the broker", nil)
		connLogger.Debug("packet sent", LogFields{LogFieldPacketType: PacketSUBSCRIBE})
		connLogger.Info("disconnected from the broker", LogFields{LogFieldStatus: StatusSuccess})

		output := buf.String()
		lines := strings.Split(strings.TrimSpace(output), "\n")
		assert.Len(t, lines, 3)

		assert.Contains(t, lines[0], "MQTT connection established")
		assert.Contains(t, lines[1], "packet_type=SUBSCRIBE")
		assert.Contains(t, lines[2], "status=MQTTSuccess")
	})
}
