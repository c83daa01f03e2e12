package coremqtt

import (
	"crypto/tls"
	"time"

	"golang.org/x/time/rate"
)

// clientOptions holds configuration for a Client.
type clientOptions struct {
	// Connection settings
	clientID     string
	username     string
	password     []byte
	keepAlive    uint16
	cleanSession bool

	tlsConfig    *tls.Config
	proxyURL     string
	proxyFromEnv bool

	// Timeouts
	connectTimeout  time.Duration
	writeTimeout    time.Duration
	pollInterval    time.Duration
	pingRespTimeout time.Duration
	packetTimeout   time.Duration

	will *PublishInfo

	bufferSize    int
	stateCapacity int

	// Publish pacing
	publishRate  rate.Limit
	publishBurst int

	logger  Logger
	metrics Metrics

	onMessage MessageHandler
	onAck     AckHandler
	onEvent   EventHandler
}

// defaultOptions returns options with sensible defaults.
func defaultOptions() *clientOptions {
	return &clientOptions{
		keepAlive:       60,
		cleanSession:    true,
		connectTimeout:  10 * time.Second,
		writeTimeout:    5 * time.Second,
		pollInterval:    10 * time.Millisecond,
		pingRespTimeout: 5 * time.Second,
		packetTimeout:   5 * time.Second,
		bufferSize:      DefaultBufferSize,
		stateCapacity:   DefaultStateCapacity,
		publishRate:     rate.Inf,
		publishBurst:    1,
		logger:          NewNoOpLogger(),
		metrics:         &NoOpMetrics{},
	}
}

// DefaultBufferSize is the default network buffer size of a Client.
const DefaultBufferSize = 64 * 1024

// Option configures a Client.
type Option func(*clientOptions)

// WithClientID sets the client identifier.
func WithClientID(id string) Option {
	return func(o *clientOptions) {
		o.clientID = id
	}
}

// WithCredentials sets the username and password for authentication.
func WithCredentials(username, password string) Option {
	return func(o *clientOptions) {
		o.username = username
		o.password = []byte(password)
	}
}

// WithKeepAlive sets the keep-alive interval in seconds. 0 disables it.
func WithKeepAlive(seconds uint16) Option {
	return func(o *clientOptions) {
		o.keepAlive = seconds
	}
}

// WithCleanSession sets whether the broker discards previous session state.
func WithCleanSession(clean bool) Option {
	return func(o *clientOptions) {
		o.cleanSession = clean
	}
}

// WithWill sets the message the broker publishes if the client disconnects
// without sending DISCONNECT.
func WithWill(topic string, payload []byte, qos QoS, retain bool) Option {
	return func(o *clientOptions) {
		o.will = &PublishInfo{
			TopicName: topic,
			Payload:   payload,
			QoS:       qos,
			Retain:    retain,
		}
	}
}

// WithTLS sets the TLS configuration used by the tls, mqtts, wss and quic
// schemes.
func WithTLS(config *tls.Config) Option {
	return func(o *clientOptions) {
		o.tlsConfig = config
	}
}

// WithConnectTimeout bounds dialing and the CONNECT/CONNACK exchange.
func WithConnectTimeout(d time.Duration) Option {
	return func(o *clientOptions) {
		o.connectTimeout = d
	}
}

// WithWriteTimeout bounds each transport write.
func WithWriteTimeout(d time.Duration) Option {
	return func(o *clientOptions) {
		o.writeTimeout = d
	}
}

// WithPingTimeout sets how long to wait for PINGRESP.
func WithPingTimeout(d time.Duration) Option {
	return func(o *clientOptions) {
		o.pingRespTimeout = d
	}
}

// WithPacketTimeout bounds how long the rest of an incoming packet may take
// to arrive after its fixed header. A slower packet drops the connection.
func WithPacketTimeout(d time.Duration) Option {
	return func(o *clientOptions) {
		if d > 0 {
			o.packetTimeout = d
		}
	}
}

// WithBufferSize sets the network buffer size. Incoming packets larger than
// the buffer are discarded.
func WithBufferSize(n int) Option {
	return func(o *clientOptions) {
		if n > 0 {
			o.bufferSize = n
		}
	}
}

// WithMaxInflight sets how many QoS 1 and QoS 2 publishes may be in flight
// per direction.
func WithMaxInflight(n int) Option {
	return func(o *clientOptions) {
		o.stateCapacity = n
	}
}

// WithPublishRate limits outgoing publishes to perSecond with the given
// burst. A non-positive rate removes the limit.
func WithPublishRate(perSecond float64, burst int) Option {
	return func(o *clientOptions) {
		if perSecond <= 0 {
			o.publishRate = rate.Inf
			return
		}
		o.publishRate = rate.Limit(perSecond)
		o.publishBurst = max(burst, 1)
	}
}

// WithPollInterval sets how long the receive loop waits for data before
// running the keep-alive check and yielding to other operations.
func WithPollInterval(d time.Duration) Option {
	return func(o *clientOptions) {
		o.pollInterval = d
	}
}

// WithProxy dials the broker through an HTTP CONNECT or SOCKS5 proxy.
// Only the tcp and tls based schemes can be proxied.
func WithProxy(proxyURL string) Option {
	return func(o *clientOptions) {
		o.proxyURL = proxyURL
	}
}

// WithProxyFromEnvironment resolves the proxy from HTTP_PROXY, HTTPS_PROXY
// and NO_PROXY when WithProxy is not set.
func WithProxyFromEnvironment(enabled bool) Option {
	return func(o *clientOptions) {
		o.proxyFromEnv = enabled
	}
}

// WithClientLogger sets the logger used by the client and its engine.
func WithClientLogger(l Logger) Option {
	return func(o *clientOptions) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithClientMetrics sets the metrics collector used by the client and its
// engine.
func WithClientMetrics(m Metrics) Option {
	return func(o *clientOptions) {
		if m != nil {
			o.metrics = m
		}
	}
}

// WithMessageHandler sets the handler for incoming publishes.
func WithMessageHandler(h MessageHandler) Option {
	return func(o *clientOptions) {
		o.onMessage = h
	}
}

// WithAckHandler sets the handler called for every acknowledgment received.
func WithAckHandler(h AckHandler) Option {
	return func(o *clientOptions) {
		o.onAck = h
	}
}

// OnEvent sets the handler for client lifecycle events.
func OnEvent(h EventHandler) Option {
	return func(o *clientOptions) {
		o.onEvent = h
	}
}

func applyOptions(opts ...Option) *clientOptions {
	options := defaultOptions()
	for _, opt := range opts {
		opt(options)
	}
	return options
}
