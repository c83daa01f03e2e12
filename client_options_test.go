package coremqtt

import (
	"bytes"
	"crypto/tls"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"golang.org/x/time/rate"
)

func TestDefaultOptions(t *testing.T) {
	opts := defaultOptions()

	assert.Equal(t, uint16(60), opts.keepAlive)
	assert.True(t, opts.cleanSession)
	assert.Equal(t, 10*time.Second, opts.connectTimeout)
	assert.Equal(t, 5*time.Second, opts.writeTimeout)
	assert.Equal(t, 10*time.Millisecond, opts.pollInterval)
	assert.Equal(t, 5*time.Second, opts.pingRespTimeout)
	assert.Equal(t, 5*time.Second, opts.packetTimeout)
	assert.Equal(t, DefaultBufferSize, opts.bufferSize)
	assert.Equal(t, DefaultStateCapacity, opts.stateCapacity)
	assert.Equal(t, rate.Inf, opts.publishRate)
	assert.IsType(t, &NoOpLogger{}, opts.logger)
	assert.IsType(t, &NoOpMetrics{}, opts.metrics)
	assert.Nil(t, opts.will)
	assert.False(t, opts.proxyFromEnv)
}

func TestWithClientID(t *testing.T) {
	opts := applyOptions(WithClientID("test-client"))
	assert.Equal(t, "test-client", opts.clientID)
}

func TestWithCredentials(t *testing.T) {
	opts := applyOptions(WithCredentials("user", "pass"))
	assert.Equal(t, "user", opts.username)
	assert.Equal(t, []byte("pass"), opts.password)
}

func TestWithKeepAlive(t *testing.T) {
	opts := applyOptions(WithKeepAlive(30))
	assert.Equal(t, uint16(30), opts.keepAlive)

	opts = applyOptions(WithKeepAlive(0))
	assert.Zero(t, opts.keepAlive)
}

func TestWithCleanSession(t *testing.T) {
	opts := applyOptions(WithCleanSession(false))
	assert.False(t, opts.cleanSession)
}

func TestWithWill(t *testing.T) {
	opts := applyOptions(WithWill("status/sensor-1", []byte("offline"), QoS1, true))

	if assert.NotNil(t, opts.will) {
		assert.Equal(t, "status/sensor-1", opts.will.TopicName)
		assert.Equal(t, []byte("offline"), opts.will.Payload)
		assert.Equal(t, QoS1, opts.will.QoS)
		assert.True(t, opts.will.Retain)
	}
}

func TestWithTLS(t *testing.T) {
	config := &tls.Config{ServerName: "broker.example.com"}
	opts := applyOptions(WithTLS(config))
	assert.Same(t, config, opts.tlsConfig)
}

func TestWithTimeouts(t *testing.T) {
	opts := applyOptions(
		WithConnectTimeout(3*time.Second),
		WithWriteTimeout(time.Second),
		WithPingTimeout(2*time.Second),
		WithPollInterval(50*time.Millisecond),
		WithPacketTimeout(750*time.Millisecond),
	)

	assert.Equal(t, 3*time.Second, opts.connectTimeout)
	assert.Equal(t, time.Second, opts.writeTimeout)
	assert.Equal(t, 2*time.Second, opts.pingRespTimeout)
	assert.Equal(t, 50*time.Millisecond, opts.pollInterval)
	assert.Equal(t, 750*time.Millisecond, opts.packetTimeout)

	opts = applyOptions(WithPacketTimeout(0))
	assert.Equal(t, 5*time.Second, opts.packetTimeout)
}

func TestWithBufferSize(t *testing.T) {
	opts := applyOptions(WithBufferSize(4096))
	assert.Equal(t, 4096, opts.bufferSize)

	opts = applyOptions(WithBufferSize(0))
	assert.Equal(t, DefaultBufferSize, opts.bufferSize)
}

func TestWithMaxInflight(t *testing.T) {
	opts := applyOptions(WithMaxInflight(32))
	assert.Equal(t, 32, opts.stateCapacity)
}

func TestWithPublishRate(t *testing.T) {
	opts := applyOptions(WithPublishRate(100, 10))
	assert.Equal(t, rate.Limit(100), opts.publishRate)
	assert.Equal(t, 10, opts.publishBurst)

	opts = applyOptions(WithPublishRate(5, 0))
	assert.Equal(t, 1, opts.publishBurst)

	opts = applyOptions(WithPublishRate(100, 10), WithPublishRate(0, 0))
	assert.Equal(t, rate.Inf, opts.publishRate)
}

func TestWithProxy(t *testing.T) {
	opts := applyOptions(WithProxy("socks5://127.0.0.1:1080"), WithProxyFromEnvironment(true))
	assert.Equal(t, "socks5://127.0.0.1:1080", opts.proxyURL)
	assert.True(t, opts.proxyFromEnv)
}

func TestWithClientLogger(t *testing.T) {
	logger := NewStdLogger(&bytes.Buffer{}, LogLevelInfo)
	opts := applyOptions(WithClientLogger(logger))
	assert.Same(t, logger, opts.logger)

	opts = applyOptions(WithClientLogger(nil))
	assert.IsType(t, &NoOpLogger{}, opts.logger)
}

func TestWithClientMetrics(t *testing.T) {
	metrics := NewMemoryMetrics()
	opts := applyOptions(WithClientMetrics(metrics))
	assert.Same(t, metrics, opts.metrics)

	opts = applyOptions(WithClientMetrics(nil))
	assert.IsType(t, &NoOpMetrics{}, opts.metrics)
}

func TestHandlerOptions(t *testing.T) {
	var messages, acks, events int

	opts := applyOptions(
		WithMessageHandler(func(*Message) { messages++ }),
		WithAckHandler(func(PacketType, uint16) { acks++ }),
		OnEvent(func(*Client, error) { events++ }),
	)

	opts.onMessage(&Message{})
	opts.onAck(PacketPUBACK, 1)
	opts.onEvent(nil, ErrConnected)

	assert.Equal(t, 1, messages)
	assert.Equal(t, 1, acks)
	assert.Equal(t, 1, events)
}
