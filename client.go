package coremqtt

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// Message is an application message published or received by a Client.
type Message struct {
	Topic   string
	Payload []byte
	QoS     QoS
	Retain  bool
	Dup     bool

	// PacketID is set for QoS 1 and QoS 2 messages.
	PacketID uint16
}

// MessageHandler handles incoming MQTT messages.
type MessageHandler func(msg *Message)

// AckHandler is called for every acknowledgment the broker sends.
type AckHandler func(packetType PacketType, packetID uint16)

// ackResult completes an operation waiting for an acknowledgment.
type ackResult struct {
	packetType PacketType
	codes      []SubackReturnCode
	err        error
}

// Client is a concurrency safe MQTT 3.1.1 client.
//
// A Client owns one connection and runs the engine's receive loop on a
// background goroutine. Operations may be called from any goroutine; they
// are serialized on the engine and QoS 1 and QoS 2 operations block until
// the broker acknowledges them.
type Client struct {
	options   *clientOptions
	transport *NetTransport
	engine    *Context
	limiter   *rate.Limiter
	logger    Logger
	metrics   Metrics

	// mu serializes access to the engine.
	mu sync.Mutex

	// Operations awaiting an acknowledgment, by packet identifier.
	pending   map[uint16]chan ackResult
	pendingMu sync.Mutex

	sessionPresent bool
	closed         atomic.Bool

	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

// Dial connects to the broker at brokerURL, completes the CONNECT/CONNACK
// exchange and starts the receive loop.
//
// Supported schemes are tcp, mqtt, tls, ssl, mqtts, ws, wss, quic and unix.
func Dial(ctx context.Context, brokerURL string, opts ...Option) (*Client, error) {
	options := applyOptions(opts...)

	if options.clientID == "" {
		options.clientID = generateClientID()
	}

	c := &Client{
		options: options,
		limiter: rate.NewLimiter(options.publishRate, options.publishBurst),
		logger:  options.logger.WithFields(LogFields{LogFieldClientID: options.clientID}),
		metrics: options.metrics,
		pending: make(map[uint16]chan ackResult),
		done:    make(chan struct{}),
	}

	dialCtx, dialCancel := context.WithTimeout(ctx, options.connectTimeout)
	defer dialCancel()

	conn, err := c.dial(dialCtx, brokerURL)
	if err != nil {
		return nil, err
	}

	c.transport = NewNetTransport(conn, options.pollInterval, options.writeTimeout)

	engine, err := NewContext(c.transport, Callbacks{
		GetTime:     MonotonicClock(),
		AppCallback: c.onPacket,
	}, make([]byte, options.bufferSize),
		WithLogger(c.logger),
		WithMetrics(options.metrics),
		WithPingRespTimeout(options.pingRespTimeout),
		WithRecvTimeout(options.packetTimeout),
		WithStateCapacity(options.stateCapacity),
	)
	if err != nil {
		c.transport.Close()
		return nil, err
	}
	c.engine = engine

	connect := &ConnectInfo{
		CleanSession:         options.cleanSession,
		KeepAliveIntervalSec: options.keepAlive,
		ClientIdentifier:     options.clientID,
		UserName:             options.username,
		Password:             options.password,
	}

	sessionPresent, err := engine.Connect(connect, options.will, uint32(options.connectTimeout.Milliseconds()))
	if err != nil {
		c.transport.Close()
		return nil, fmt.Errorf("connect to %s: %w", brokerURL, err)
	}
	c.sessionPresent = sessionPresent

	c.logger.Info("connected to broker", LogFields{
		LogFieldRemoteAddr: conn.RemoteAddr().String(),
		"session_present":  sessionPresent,
	})

	c.start()
	c.emit(&ConnectedEvent{SessionPresent: sessionPresent})

	return c, nil
}

// dial opens the network connection for brokerURL, through a proxy when
// one is configured.
func (c *Client) dial(ctx context.Context, brokerURL string) (net.Conn, error) {
	u, err := url.Parse(brokerURL)
	if err != nil {
		return nil, fmt.Errorf("invalid broker URL: %w", err)
	}

	dialer, address, err := DialerForURL(brokerURL, c.options.tlsConfig, c.options.connectTimeout)
	if err != nil {
		return nil, err
	}

	proxyDialer, err := c.resolveProxy(brokerURL)
	if err != nil {
		return nil, fmt.Errorf("proxy configuration error: %w", err)
	}

	var conn net.Conn

	switch u.Scheme {
	case "tcp", "mqtt":
		if proxyDialer != nil {
			conn, err = proxyDialer.Dial(ctx, address)
		} else {
			conn, err = dialer.Dial(ctx, address)
		}

	case "tls", "ssl", "mqtts":
		if proxyDialer == nil {
			conn, err = dialer.Dial(ctx, address)
			break
		}

		// Tunnel through the proxy, then run TLS over the tunnel.
		conn, err = proxyDialer.Dial(ctx, address)
		if err != nil {
			break
		}
		tlsConfig := c.options.tlsConfig
		if tlsConfig == nil {
			tlsConfig = &tls.Config{MinVersion: tls.VersionTLS12}
		}
		if tlsConfig.ServerName == "" {
			tlsConfig = tlsConfig.Clone()
			tlsConfig.ServerName = u.Hostname()
		}
		tlsConn := tls.Client(conn, tlsConfig)
		if err = tlsConn.HandshakeContext(ctx); err != nil {
			conn.Close()
			return nil, fmt.Errorf("TLS handshake failed: %w", err)
		}
		conn = tlsConn

	case "ws", "wss":
		if ws, ok := dialer.(*WSDialer); ok && (proxyDialer != nil || c.options.proxyFromEnv) {
			if proxyDialer != nil {
				ws.Dialer.Proxy = func(*http.Request) (*url.URL, error) { return proxyDialer.proxyURL, nil }
			} else {
				ws.Dialer.Proxy = http.ProxyFromEnvironment
			}
		}
		conn, err = dialer.Dial(ctx, address)

	default:
		// QUIC runs over UDP and unix sockets are local; neither is proxied.
		conn, err = dialer.Dial(ctx, address)
	}

	if err != nil {
		return nil, fmt.Errorf("dial failed: %w", err)
	}

	return conn, nil
}

// resolveProxy returns a ProxyDialer based on client configuration.
// Returns nil if no proxy should be used.
func (c *Client) resolveProxy(brokerURL string) (*ProxyDialer, error) {
	if c.options.proxyURL != "" {
		return NewProxyDialer(c.options.proxyURL, "", "")
	}

	if c.options.proxyFromEnv {
		proxyURL, err := ProxyFromEnvironment(brokerURL)
		if err != nil {
			return nil, err
		}
		if proxyURL != nil {
			return NewProxyDialer(proxyURL.String(), "", "")
		}
	}

	return nil, nil
}

// start runs the receive loop until the connection fails or Close is
// called.
func (c *Client) start() {
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return c.receiveLoop(gctx)
	})

	// Unblocks the transport once either side stops.
	g.Go(func() error {
		<-gctx.Done()
		c.transport.Close()
		return nil
	})

	go func() {
		err := g.Wait()

		c.mu.Lock()
		c.engine.metrics.connected(false)
		c.mu.Unlock()

		if err == nil {
			err = ErrClientClosed
		} else {
			c.logger.Error("connection lost", LogFields{LogFieldError: err})
			c.emit(err)
		}
		c.err = err
		c.failPending(err)

		close(c.done)
	}()
}

func (c *Client) receiveLoop(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		c.mu.Lock()
		err := c.engine.ProcessLoop(0)
		c.mu.Unlock()

		if err != nil {
			if c.closed.Load() {
				return nil
			}
			return &ConnectionLostError{Err: err}
		}
	}
}

// onPacket is the engine's application callback. It runs on the receive
// loop with c.mu held.
func (c *Client) onPacket(_ *Context, pkt *PacketInfo, packetID uint16, publish *PublishInfo) {
	if publish != nil {
		c.deliver(packetID, publish)
		return
	}

	if c.options.onAck != nil {
		c.options.onAck(pkt.Type, packetID)
	}

	switch pkt.Type {
	case PacketPUBACK, PacketPUBCOMP, PacketUNSUBACK:
		c.resolve(packetID, ackResult{packetType: pkt.Type})

	case PacketSUBACK:
		_, codes, err := GetSubackStatusCodes(pkt)
		c.resolve(packetID, ackResult{packetType: pkt.Type, codes: codes, err: err})
	}
}

func (c *Client) deliver(packetID uint16, publish *PublishInfo) {
	if c.options.onMessage == nil {
		return
	}

	// The payload aliases the network buffer.
	payload := make([]byte, len(publish.Payload))
	copy(payload, publish.Payload)

	c.options.onMessage(&Message{
		Topic:    publish.TopicName,
		Payload:  payload,
		QoS:      publish.QoS,
		Retain:   publish.Retain,
		Dup:      publish.Dup,
		PacketID: packetID,
	})
}

func (c *Client) addPending(packetID uint16) chan ackResult {
	ch := make(chan ackResult, 1)

	c.pendingMu.Lock()
	c.pending[packetID] = ch
	c.pendingMu.Unlock()

	return ch
}

func (c *Client) removePending(packetID uint16) {
	c.pendingMu.Lock()
	delete(c.pending, packetID)
	c.pendingMu.Unlock()
}

func (c *Client) resolve(packetID uint16, res ackResult) {
	c.pendingMu.Lock()
	ch, ok := c.pending[packetID]
	delete(c.pending, packetID)
	c.pendingMu.Unlock()

	if ok {
		ch <- res
	}
}

func (c *Client) failPending(err error) {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()

	for id, ch := range c.pending {
		ch <- ackResult{err: err}
		delete(c.pending, id)
	}
}

func (c *Client) await(ctx context.Context, packetID uint16, ch chan ackResult) (ackResult, error) {
	select {
	case res := <-ch:
		return res, res.err
	case <-ctx.Done():
		c.removePending(packetID)
		return ackResult{}, ctx.Err()
	}
}

// Publish sends msg to the broker. For QoS 1 and QoS 2 it blocks until the
// PUBACK or PUBCOMP arrives, ctx is done or the connection is lost, and
// sets msg.PacketID.
func (c *Client) Publish(ctx context.Context, msg *Message) error {
	if c.closed.Load() {
		return ErrClientClosed
	}
	if msg == nil {
		return fmt.Errorf("%w: message is nil", ErrBadParameter)
	}

	start := time.Now()
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	info := &PublishInfo{
		QoS:       msg.QoS,
		Retain:    msg.Retain,
		Dup:       msg.Dup,
		TopicName: msg.Topic,
		Payload:   msg.Payload,
	}

	var (
		packetID uint16
		wait     chan ackResult
	)

	c.mu.Lock()
	if info.QoS > QoS0 {
		packetID = c.engine.GetPacketID()
		wait = c.addPending(packetID)
	}
	err := c.engine.Publish(info, packetID)
	c.mu.Unlock()

	c.metrics.Histogram(MetricPublishWait, nil).ObserveDuration(time.Since(start))

	if err != nil {
		c.removePending(packetID)
		return err
	}
	if wait == nil {
		return nil
	}

	msg.PacketID = packetID

	_, err = c.await(ctx, packetID, wait)
	return err
}

// Subscribe sends a SUBSCRIBE and waits for its SUBACK. It returns the
// return code of every subscription, and a *SubscribeError when the broker
// refused some of them.
func (c *Client) Subscribe(ctx context.Context, subscriptions ...SubscribeInfo) ([]SubackReturnCode, error) {
	if c.closed.Load() {
		return nil, ErrClientClosed
	}

	c.mu.Lock()
	packetID := c.engine.GetPacketID()
	wait := c.addPending(packetID)
	err := c.engine.Subscribe(subscriptions, packetID)
	c.mu.Unlock()

	if err != nil {
		c.removePending(packetID)
		return nil, err
	}

	res, err := c.await(ctx, packetID, wait)
	if err != nil {
		return nil, err
	}

	if len(res.codes) != len(subscriptions) {
		return res.codes, fmt.Errorf("%w: SUBACK has %d return codes for %d subscriptions",
			ErrBadResponse, len(res.codes), len(subscriptions))
	}

	var refused []string
	for i, code := range res.codes {
		if code == SubackFailure {
			refused = append(refused, subscriptions[i].TopicFilter)
		}
	}
	if len(refused) > 0 {
		return res.codes, &SubscribeError{PacketID: packetID, Refused: refused}
	}

	return res.codes, nil
}

// Unsubscribe sends an UNSUBSCRIBE for filters and waits for its UNSUBACK.
func (c *Client) Unsubscribe(ctx context.Context, filters ...string) error {
	if c.closed.Load() {
		return ErrClientClosed
	}

	subscriptions := make([]SubscribeInfo, len(filters))
	for i, f := range filters {
		subscriptions[i] = SubscribeInfo{TopicFilter: f}
	}

	c.mu.Lock()
	packetID := c.engine.GetPacketID()
	wait := c.addPending(packetID)
	err := c.engine.Unsubscribe(subscriptions, packetID)
	c.mu.Unlock()

	if err != nil {
		c.removePending(packetID)
		return err
	}

	_, err = c.await(ctx, packetID, wait)
	return err
}

// Close sends DISCONNECT, closes the connection and waits for the receive
// loop to stop.
func (c *Client) Close() error {
	if c.closed.Swap(true) {
		return nil
	}

	var err error

	select {
	case <-c.done:
	default:
		c.mu.Lock()
		if c.engine.ConnectStatus() == Connected {
			err = c.engine.Disconnect()
		}
		c.mu.Unlock()
	}

	c.cancel()
	<-c.done

	c.emit(ErrDisconnected)
	c.logger.Info("disconnected from broker", nil)

	return err
}

// IsConnected returns true if the client is connected.
func (c *Client) IsConnected() bool {
	select {
	case <-c.done:
		return false
	default:
		return !c.closed.Load()
	}
}

// ClientID returns the client identifier.
func (c *Client) ClientID() string {
	return c.options.clientID
}

// SessionPresent reports the session present flag of the CONNACK.
func (c *Client) SessionPresent() bool {
	return c.sessionPresent
}

// Done is closed once the receive loop has stopped.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Err returns the reason the receive loop stopped, once Done is closed.
// It is ErrClientClosed after Close and a *ConnectionLostError otherwise.
func (c *Client) Err() error {
	select {
	case <-c.done:
		return c.err
	default:
		return nil
	}
}

// emit sends an event to the event handler.
func (c *Client) emit(event error) {
	if c.options.onEvent != nil {
		c.options.onEvent(c, event)
	}
}

// generateClientID generates a client ID unique to this process.
func generateClientID() string {
	return fmt.Sprintf("coremqtt-%d", time.Now().UnixNano())
}

// IsConnectionLost reports whether err means the connection to the broker
// was lost.
func IsConnectionLost(err error) bool {
	return errors.Is(err, ErrConnectionLost)
}
