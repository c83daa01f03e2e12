package coremqtt

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/url"
	"sync"
	"time"
)

// Transport moves bytes between the engine and the broker.
//
// Send returns the number of bytes written, which may be fewer than len(p).
// Recv returns the number of bytes read; (0, nil) means no data is available
// yet and the engine will try again later. Any error is fatal to the
// operation in progress.
type Transport interface {
	Send(p []byte) (int, error)
	Recv(p []byte) (int, error)
}

// TransportFuncs adapts a pair of functions to Transport.
type TransportFuncs struct {
	SendFunc func(p []byte) (int, error)
	RecvFunc func(p []byte) (int, error)
}

// Send calls SendFunc.
func (t TransportFuncs) Send(p []byte) (int, error) { return t.SendFunc(p) }

// Recv calls RecvFunc.
func (t TransportFuncs) Recv(p []byte) (int, error) { return t.RecvFunc(p) }

// ErrTransportClosed is returned by NetTransport after Close.
var ErrTransportClosed = errors.New("coremqtt: transport closed")

const netTransportChunkSize = 4096

// NetTransport adapts a net.Conn to Transport.
//
// Reads are performed by a background goroutine, so Recv never leaves the
// connection with an expired read deadline. Recv waits at most PollInterval
// for data and reports (0, nil) when none arrived; a zero PollInterval makes
// Recv return immediately.
type NetTransport struct {
	conn         net.Conn
	pollInterval time.Duration
	writeTimeout time.Duration

	startOnce sync.Once
	chunks    chan []byte
	done      chan struct{}
	closeOnce sync.Once

	mu      sync.Mutex
	readErr error
	pending []byte
}

// NewNetTransport wraps conn. writeTimeout bounds each Send; zero means no
// write deadline.
func NewNetTransport(conn net.Conn, pollInterval, writeTimeout time.Duration) *NetTransport {
	return &NetTransport{
		conn:         conn,
		pollInterval: pollInterval,
		writeTimeout: writeTimeout,
		chunks:       make(chan []byte, 1),
		done:         make(chan struct{}),
	}
}

// Conn returns the wrapped connection.
func (t *NetTransport) Conn() net.Conn { return t.conn }

// Send writes p to the connection.
func (t *NetTransport) Send(p []byte) (int, error) {
	if t.writeTimeout > 0 {
		if err := t.conn.SetWriteDeadline(time.Now().Add(t.writeTimeout)); err != nil {
			return 0, err
		}
	}
	return t.conn.Write(p)
}

func (t *NetTransport) readLoop() {
	defer close(t.chunks)

	for {
		buf := make([]byte, netTransportChunkSize)

		n, err := t.conn.Read(buf)
		if n > 0 {
			select {
			case t.chunks <- buf[:n]:
			case <-t.done:
				return
			}
		}
		if err != nil {
			t.mu.Lock()
			t.readErr = err
			t.mu.Unlock()
			return
		}
	}
}

// Recv copies buffered or newly read bytes into p.
func (t *NetTransport) Recv(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	t.startOnce.Do(func() { go t.readLoop() })

	if len(t.pending) == 0 {
		chunk, ok, err := t.wait()
		if err != nil {
			return 0, err
		}
		if !ok {
			return 0, nil
		}
		t.pending = chunk
	}

	n := copy(p, t.pending)
	t.pending = t.pending[n:]

	return n, nil
}

// wait returns the next chunk, or ok=false when none arrived in time.
func (t *NetTransport) wait() ([]byte, bool, error) {
	var timeout <-chan time.Time
	if t.pollInterval > 0 {
		timer := time.NewTimer(t.pollInterval)
		defer timer.Stop()
		timeout = timer.C
	}

	if timeout == nil {
		select {
		case chunk, open := <-t.chunks:
			return t.received(chunk, open)
		case <-t.done:
			return nil, false, ErrTransportClosed
		default:
			return nil, false, nil
		}
	}

	select {
	case chunk, open := <-t.chunks:
		return t.received(chunk, open)
	case <-t.done:
		return nil, false, ErrTransportClosed
	case <-timeout:
		return nil, false, nil
	}
}

func (t *NetTransport) received(chunk []byte, open bool) ([]byte, bool, error) {
	if open {
		return chunk, true, nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.readErr != nil {
		return nil, false, t.readErr
	}
	return nil, false, ErrTransportClosed
}

// Close closes the connection and stops the reader.
func (t *NetTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.done)
		err = t.conn.Close()
	})
	return err
}

// Dialer establishes connections to a broker.
type Dialer interface {
	Dial(ctx context.Context, address string) (net.Conn, error)
}

// TCPDialer connects to MQTT brokers over TCP.
type TCPDialer struct {
	// Timeout is the maximum time to wait for a connection.
	// Zero means no timeout.
	Timeout time.Duration
}

// Dial connects to the address.
func (d *TCPDialer) Dial(ctx context.Context, address string) (net.Conn, error) {
	dialer := net.Dialer{Timeout: d.Timeout}
	return dialer.DialContext(ctx, "tcp", address)
}

// TLSDialer connects to MQTT brokers over TLS.
type TLSDialer struct {
	Config  *tls.Config
	Timeout time.Duration
}

// Dial connects to the address and completes the TLS handshake.
func (d *TLSDialer) Dial(ctx context.Context, address string) (net.Conn, error) {
	dialer := &tls.Dialer{
		NetDialer: &net.Dialer{Timeout: d.Timeout},
		Config:    d.Config,
	}
	return dialer.DialContext(ctx, "tcp", address)
}

// Default broker ports by scheme.
const (
	DefaultPortTCP  = "1883"
	DefaultPortTLS  = "8883"
	DefaultPortQUIC = "8883"
)

// hostPort returns the URL's host and port, bracketing IPv6 literals.
func hostPort(u *url.URL, defaultPort string) string {
	port := u.Port()
	if port == "" {
		port = defaultPort
	}
	return net.JoinHostPort(u.Hostname(), port)
}

// DialerForURL picks a Dialer for a broker URL and returns it with the
// address to pass to Dial.
//
// Supported schemes: tcp and mqtt; tls, ssl and mqtts; ws and wss; quic;
// unix (the socket path is the URL path). tlsConfig applies to the TLS
// based schemes and may be nil.
func DialerForURL(rawURL string, tlsConfig *tls.Config, timeout time.Duration) (Dialer, string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, "", fmt.Errorf("invalid broker URL %q: %w", rawURL, err)
	}

	switch u.Scheme {
	case "tcp", "mqtt":
		return &TCPDialer{Timeout: timeout}, hostPort(u, DefaultPortTCP), nil

	case "tls", "ssl", "mqtts":
		return &TLSDialer{Config: tlsConfig, Timeout: timeout}, hostPort(u, DefaultPortTLS), nil

	case "ws", "wss":
		d := NewWSDialer()
		d.Dialer.HandshakeTimeout = timeout
		if u.Scheme == "wss" {
			d.Dialer.TLSClientConfig = tlsConfig
		}
		return d, u.String(), nil

	case "quic":
		return NewQUICDialer(tlsConfig), hostPort(u, DefaultPortQUIC), nil

	case "unix":
		path := u.Path
		if path == "" {
			path = u.Opaque
		}
		return NewUnixDialer(), path, nil

	default:
		return nil, "", fmt.Errorf("unsupported broker URL scheme %q", u.Scheme)
	}
}
