package coremqtt

import (
	"errors"
)

// Status is the result code of an engine operation.
//
// Status implements error so that operations can return it directly. The
// exported Err* values are the Status constants themselves; compare with
// errors.Is.
type Status int

const (
	// StatusSuccess means the operation completed.
	StatusSuccess Status = iota
	// StatusBadParameter means a caller contract violation detected at entry.
	StatusBadParameter
	// StatusNoMemory means a buffer or table was too small.
	StatusNoMemory
	// StatusSendFailed means the transport failed to send.
	StatusSendFailed
	// StatusRecvFailed means the transport failed to receive.
	StatusRecvFailed
	// StatusBadResponse means the peer sent bytes violating the protocol.
	StatusBadResponse
	// StatusServerRefused means the broker refused the connection or a subscription.
	StatusServerRefused
	// StatusNoDataAvailable means nothing is pending on the transport.
	StatusNoDataAvailable
	// StatusIllegalState means a publish state transition was not valid.
	StatusIllegalState
	// StatusStateCollision means a packet identifier is already in flight.
	StatusStateCollision
	// StatusKeepAliveTimeout means the broker did not answer PINGREQ in time.
	StatusKeepAliveTimeout
)

// Sentinel errors, check with errors.Is().
var (
	ErrBadParameter     error = StatusBadParameter
	ErrNoMemory         error = StatusNoMemory
	ErrSendFailed       error = StatusSendFailed
	ErrRecvFailed       error = StatusRecvFailed
	ErrBadResponse      error = StatusBadResponse
	ErrServerRefused    error = StatusServerRefused
	ErrNoDataAvailable  error = StatusNoDataAvailable
	ErrIllegalState     error = StatusIllegalState
	ErrStateCollision   error = StatusStateCollision
	ErrKeepAliveTimeout error = StatusKeepAliveTimeout
)

// String returns the human readable name of the status.
func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "MQTTSuccess"
	case StatusBadParameter:
		return "MQTTBadParameter"
	case StatusNoMemory:
		return "MQTTNoMemory"
	case StatusSendFailed:
		return "MQTTSendFailed"
	case StatusRecvFailed:
		return "MQTTRecvFailed"
	case StatusBadResponse:
		return "MQTTBadResponse"
	case StatusServerRefused:
		return "MQTTServerRefused"
	case StatusNoDataAvailable:
		return "MQTTNoDataAvailable"
	case StatusIllegalState:
		return "MQTTIllegalState"
	case StatusStateCollision:
		return "MQTTStateCollision"
	case StatusKeepAliveTimeout:
		return "MQTTKeepAliveTimeout"
	default:
		return "Invalid MQTT Status code"
	}
}

// Error implements the error interface.
func (s Status) Error() string {
	return "coremqtt: " + s.String()
}

// StatusOf extracts the Status carried by err.
// A nil error is StatusSuccess. An error that carries no Status yields -1,
// which String reports as an invalid code.
func StatusOf(err error) Status {
	if err == nil {
		return StatusSuccess
	}

	var s Status
	if errors.As(err, &s) {
		return s
	}

	return Status(-1)
}

// ConnackReturnCode is the return code carried in a CONNACK packet.
// MQTT v3.1.1 spec: Section 3.2.2.3
type ConnackReturnCode byte

// CONNACK return codes.
const (
	ConnackAccepted                    ConnackReturnCode = 0x00
	ConnackUnacceptableProtocolVersion ConnackReturnCode = 0x01
	ConnackIdentifierRejected          ConnackReturnCode = 0x02
	ConnackServerUnavailable           ConnackReturnCode = 0x03
	ConnackBadUserNameOrPassword       ConnackReturnCode = 0x04
	ConnackNotAuthorized               ConnackReturnCode = 0x05
)

// String returns the description of the return code.
func (c ConnackReturnCode) String() string {
	switch c {
	case ConnackAccepted:
		return "connection accepted"
	case ConnackUnacceptableProtocolVersion:
		return "unacceptable protocol version"
	case ConnackIdentifierRejected:
		return "identifier rejected"
	case ConnackServerUnavailable:
		return "server unavailable"
	case ConnackBadUserNameOrPassword:
		return "bad user name or password"
	case ConnackNotAuthorized:
		return "not authorized"
	default:
		return "unknown return code"
	}
}

// ConnackError contains details about a refused connection.
// Extract with errors.As().
type ConnackError struct {
	ReturnCode ConnackReturnCode
}

func (e *ConnackError) Error() string {
	return "coremqtt: connection refused: " + e.ReturnCode.String()
}

func (e *ConnackError) Unwrap() error { return ErrServerRefused }

// SubackReturnCode is a per-subscription return code carried in a SUBACK packet.
// MQTT v3.1.1 spec: Section 3.9.3
type SubackReturnCode byte

// SUBACK return codes.
const (
	SubackSuccessQoS0 SubackReturnCode = 0x00
	SubackSuccessQoS1 SubackReturnCode = 0x01
	SubackSuccessQoS2 SubackReturnCode = 0x02
	SubackFailure     SubackReturnCode = 0x80
)

// Valid returns true if the code is one the protocol allows.
func (c SubackReturnCode) Valid() bool {
	switch c {
	case SubackSuccessQoS0, SubackSuccessQoS1, SubackSuccessQoS2, SubackFailure:
		return true
	default:
		return false
	}
}

// String returns the description of the return code.
func (c SubackReturnCode) String() string {
	switch c {
	case SubackSuccessQoS0:
		return "granted QoS 0"
	case SubackSuccessQoS1:
		return "granted QoS 1"
	case SubackSuccessQoS2:
		return "granted QoS 2"
	case SubackFailure:
		return "failure"
	default:
		return "unknown return code"
	}
}
