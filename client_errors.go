package coremqtt

import (
	"errors"
	"fmt"
)

// EventHandler receives client lifecycle events.
type EventHandler func(client *Client, event error)

// Lifecycle events, check with errors.Is().
var (
	// ErrConnected is emitted when the client connects.
	ErrConnected = errors.New("coremqtt: connected")

	// ErrDisconnected is emitted when the client disconnects gracefully.
	ErrDisconnected = errors.New("coremqtt: disconnected")

	// ErrConnectionLost is emitted when the receive loop stops on an error.
	ErrConnectionLost = errors.New("coremqtt: connection lost")
)

// Client operation errors, check with errors.Is().
var (
	// ErrClientClosed is returned when an operation is attempted on a closed client.
	ErrClientClosed = errors.New("coremqtt: client closed")

	// ErrSubscribeFailed is returned when the broker refuses a subscription.
	ErrSubscribeFailed = errors.New("coremqtt: subscribe failed")
)

// ConnectedEvent contains details about a successful connection.
// Extract with errors.As().
type ConnectedEvent struct {
	SessionPresent bool
}

func (e *ConnectedEvent) Error() string { return ErrConnected.Error() }
func (e *ConnectedEvent) Unwrap() error { return ErrConnected }

// ConnectionLostError carries the error that stopped the receive loop.
type ConnectionLostError struct {
	Err error
}

func (e *ConnectionLostError) Error() string {
	return fmt.Sprintf("%s: %v", ErrConnectionLost, e.Err)
}

func (e *ConnectionLostError) Unwrap() []error { return []error{ErrConnectionLost, e.Err} }

// SubscribeError reports the filters a broker refused.
// Extract with errors.As().
type SubscribeError struct {
	PacketID uint16
	// Refused holds the topic filters whose return code was 0x80.
	Refused []string
}

func (e *SubscribeError) Error() string {
	return fmt.Sprintf("%s: packet %d refused %v", ErrSubscribeFailed, e.PacketID, e.Refused)
}

func (e *SubscribeError) Unwrap() error { return ErrSubscribeFailed }
