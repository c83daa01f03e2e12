package coremqtt

import (
	"fmt"
	"time"
)

// DefaultPingRespTimeout is how long the engine waits for PINGRESP before
// reporting ErrKeepAliveTimeout.
const DefaultPingRespTimeout = 500 * time.Millisecond

// ConnectStatus is the MQTT connection state of a Context.
type ConnectStatus int

// Connection states.
const (
	NotConnected ConnectStatus = iota
	Connected
)

// String returns the string representation of the connection state.
func (s ConnectStatus) String() string {
	if s == Connected {
		return "connected"
	}
	return "not connected"
}

// EventCallback receives every incoming packet handed to the application.
// publish is nil for acknowledgments. The packet data and the publish
// payload alias the network buffer and are only valid during the call.
type EventCallback func(c *Context, pkt *PacketInfo, packetID uint16, publish *PublishInfo)

// Callbacks are the functions a Context calls into the application.
type Callbacks struct {
	GetTime     GetTimeFunc
	AppCallback EventCallback
}

// Context holds the state of one MQTT connection.
//
// A Context is not safe for concurrent use. Every operation runs to
// completion on the caller's goroutine, and callbacks run on the goroutine
// that called ProcessLoop. Client wraps a Context for concurrent use.
type Context struct {
	transport     Transport
	callbacks     Callbacks
	networkBuffer []byte

	connectStatus        ConnectStatus
	lastPacketTime       uint32
	nextPacketID         uint16
	keepAliveIntervalSec uint16
	pingReqSendTimeMs    uint32
	pingRespTimeoutMs    uint32
	recvTimeoutMs        uint32
	waitingForPingResp   bool
	controlPacketSent    bool

	state   *PublishStateTracker
	logger  Logger
	metrics engineMetrics
}

type contextOptions struct {
	logger          Logger
	metrics         Metrics
	pingRespTimeout time.Duration
	recvTimeout     time.Duration
	stateCapacity   int
}

// ContextOption configures a Context.
type ContextOption func(*contextOptions)

// WithLogger sets the logger used by the engine.
func WithLogger(l Logger) ContextOption {
	return func(o *contextOptions) {
		o.logger = l
	}
}

// WithMetrics sets the metrics collector used by the engine.
func WithMetrics(m Metrics) ContextOption {
	return func(o *contextOptions) {
		o.metrics = m
	}
}

// WithPingRespTimeout sets how long to wait for PINGRESP after PINGREQ.
// Durations are truncated to milliseconds.
func WithPingRespTimeout(d time.Duration) ContextOption {
	return func(o *contextOptions) {
		o.pingRespTimeout = d
	}
}

// WithRecvTimeout sets the minimum time ProcessLoop waits for the rest of a
// packet once its fixed header has arrived, whatever the loop timeout. The
// default of zero bounds the read by the loop timeout alone.
func WithRecvTimeout(d time.Duration) ContextOption {
	return func(o *contextOptions) {
		o.recvTimeout = d
	}
}

// WithStateCapacity sets how many in-flight publishes are tracked per
// direction.
func WithStateCapacity(n int) ContextOption {
	return func(o *contextOptions) {
		o.stateCapacity = n
	}
}

// NewContext creates a Context over transport. buf is the network buffer
// used for every packet sent and received; it bounds the largest incoming
// packet and every outgoing packet except PUBLISH payloads, which are sent
// from the caller's memory.
func NewContext(transport Transport, callbacks Callbacks, buf []byte, opts ...ContextOption) (*Context, error) {
	if transport == nil {
		return nil, fmt.Errorf("%w: transport is nil", ErrBadParameter)
	}
	if callbacks.GetTime == nil || callbacks.AppCallback == nil {
		return nil, fmt.Errorf("%w: GetTime and AppCallback are required", ErrBadParameter)
	}
	if len(buf) == 0 {
		return nil, fmt.Errorf("%w: network buffer is empty", ErrBadParameter)
	}

	o := &contextOptions{
		pingRespTimeout: DefaultPingRespTimeout,
		stateCapacity:   DefaultStateCapacity,
	}
	for _, opt := range opts {
		opt(o)
	}

	logger := o.logger
	if logger == nil {
		logger = NewNoOpLogger()
	}

	return &Context{
		transport:         transport,
		callbacks:         callbacks,
		networkBuffer:     buf,
		connectStatus:     NotConnected,
		nextPacketID:      1,
		pingRespTimeoutMs: uint32(o.pingRespTimeout.Milliseconds()),
		recvTimeoutMs:     uint32(o.recvTimeout.Milliseconds()),
		state:             NewPublishStateTracker(o.stateCapacity),
		logger:            logger,
		metrics:           newEngineMetrics(o.metrics),
	}, nil
}

// GetPacketID returns the next packet identifier. Identifiers increase by
// one and wrap from 65535 to 1, never returning 0.
func (c *Context) GetPacketID() uint16 {
	id := c.nextPacketID

	c.nextPacketID++
	if c.nextPacketID == 0 {
		c.nextPacketID = 1
	}

	return id
}

// ConnectStatus returns the connection state.
func (c *Context) ConnectStatus() ConnectStatus { return c.connectStatus }

// KeepAliveInterval returns the keep-alive interval in seconds. It is set by
// a successful Connect; 0 disables keep-alive.
func (c *Context) KeepAliveInterval() uint16 { return c.keepAliveIntervalSec }

// WaitingForPingResp reports whether a PINGREQ is awaiting its PINGRESP.
func (c *Context) WaitingForPingResp() bool { return c.waitingForPingResp }

// ControlPacketSent reports whether the last ProcessLoop call sent an
// acknowledgment.
func (c *Context) ControlPacketSent() bool { return c.controlPacketSent }

// LastPacketTime returns the clock reading of the last complete send.
func (c *Context) LastPacketTime() uint32 { return c.lastPacketTime }

// PublishState returns the state of an in-flight publish. StateSend
// selects publishes this client sent, StateReceive those it received.
func (c *Context) PublishState(packetID uint16, op StateOperation) PublishState {
	return c.state.State(packetID, op)
}

// InFlight returns the number of QoS 1 and QoS 2 publishes still tracked.
func (c *Context) InFlight() int { return c.state.Count() }
