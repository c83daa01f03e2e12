package coremqtt

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSentinelErrors(t *testing.T) {
	t.Run("lifecycle events are distinct", func(t *testing.T) {
		assert.NotEqual(t, ErrConnected, ErrDisconnected)
		assert.NotEqual(t, ErrDisconnected, ErrConnectionLost)
	})

	t.Run("operation errors are distinct", func(t *testing.T) {
		assert.NotEqual(t, ErrClientClosed, ErrSubscribeFailed)
	})
}

func TestConnectedEvent(t *testing.T) {
	t.Run("errors.Is matches ErrConnected", func(t *testing.T) {
		event := &ConnectedEvent{SessionPresent: true}
		assert.True(t, errors.Is(event, ErrConnected))
		assert.False(t, errors.Is(event, ErrDisconnected))
	})

	t.Run("errors.As extracts event details", func(t *testing.T) {
		var event error = &ConnectedEvent{SessionPresent: true}

		var ce *ConnectedEvent
		require.True(t, errors.As(event, &ce))
		assert.True(t, ce.SessionPresent)
	})

	t.Run("Error returns string", func(t *testing.T) {
		assert.Equal(t, "coremqtt: connected", (&ConnectedEvent{}).Error())
	})
}

func TestConnectionLostError(t *testing.T) {
	err := &ConnectionLostError{Err: StatusKeepAliveTimeout}

	assert.True(t, errors.Is(err, ErrConnectionLost))
	assert.True(t, errors.Is(err, ErrKeepAliveTimeout))
	assert.False(t, errors.Is(err, ErrDisconnected))
	assert.True(t, IsConnectionLost(err))
	assert.False(t, IsConnectionLost(ErrDisconnected))
	assert.Equal(t, StatusKeepAliveTimeout, StatusOf(err))
	assert.Equal(t, "coremqtt: connection lost: coremqtt: MQTTKeepAliveTimeout", err.Error())
}

func TestSubscribeError(t *testing.T) {
	var err error = &SubscribeError{PacketID: 4, Refused: []string{"private/#"}}

	assert.True(t, errors.Is(err, ErrSubscribeFailed))

	var se *SubscribeError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, uint16(4), se.PacketID)
	assert.Equal(t, []string{"private/#"}, se.Refused)
	assert.Contains(t, err.Error(), "private/#")
}

func TestStatus(t *testing.T) {
	tests := []struct {
		status Status
		name   string
	}{
		{StatusSuccess, "MQTTSuccess"},
		{StatusBadParameter, "MQTTBadParameter"},
		{StatusNoMemory, "MQTTNoMemory"},
		{StatusSendFailed, "MQTTSendFailed"},
		{StatusRecvFailed, "MQTTRecvFailed"},
		{StatusBadResponse, "MQTTBadResponse"},
		{StatusServerRefused, "MQTTServerRefused"},
		{StatusNoDataAvailable, "MQTTNoDataAvailable"},
		{StatusIllegalState, "MQTTIllegalState"},
		{StatusStateCollision, "MQTTStateCollision"},
		{StatusKeepAliveTimeout, "MQTTKeepAliveTimeout"},
		{Status(42), "Invalid MQTT Status code"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.name, tt.status.String())
			assert.Equal(t, "coremqtt: "+tt.name, tt.status.Error())
		})
	}
}

func TestStatusOf(t *testing.T) {
	assert.Equal(t, StatusSuccess, StatusOf(nil))
	assert.Equal(t, StatusBadParameter, StatusOf(badParameter("topic %q", "a/+")))
	assert.Equal(t, StatusServerRefused, StatusOf(&ConnackError{ReturnCode: ConnackNotAuthorized}))
	assert.Equal(t, Status(-1), StatusOf(errors.New("plain")))
	assert.Equal(t, "Invalid MQTT Status code", StatusOf(errors.New("plain")).String())
}

func TestConnackError(t *testing.T) {
	err := &ConnackError{ReturnCode: ConnackIdentifierRejected}

	assert.True(t, errors.Is(err, ErrServerRefused))
	assert.Equal(t, "coremqtt: connection refused: identifier rejected", err.Error())
	assert.Equal(t, "unknown return code", ConnackReturnCode(9).String())
}

func TestSubackReturnCode(t *testing.T) {
	assert.True(t, SubackSuccessQoS2.Valid())
	assert.True(t, SubackFailure.Valid())
	assert.False(t, SubackReturnCode(0x03).Valid())
	assert.Equal(t, "failure", SubackFailure.String())
	assert.Equal(t, "granted QoS 1", SubackSuccessQoS1.String())
}
