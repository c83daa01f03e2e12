package coremqtt

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewContext(t *testing.T) {
	transport := &scriptedTransport{}
	clock := &fakeClock{step: 1}
	noop := func(*Context, *PacketInfo, uint16, *PublishInfo) {}

	t.Run("valid", func(t *testing.T) {
		c, err := NewContext(transport, Callbacks{GetTime: clock.GetTime, AppCallback: noop}, make([]byte, 16))
		require.NoError(t, err)

		assert.Equal(t, NotConnected, c.ConnectStatus())
		assert.Equal(t, uint16(0), c.KeepAliveInterval())
		assert.False(t, c.WaitingForPingResp())
		assert.False(t, c.ControlPacketSent())
		assert.Equal(t, 0, c.InFlight())
		assert.Equal(t, uint32(DefaultPingRespTimeout.Milliseconds()), c.pingRespTimeoutMs)
	})

	t.Run("nil transport", func(t *testing.T) {
		_, err := NewContext(nil, Callbacks{GetTime: clock.GetTime, AppCallback: noop}, make([]byte, 16))
		assert.ErrorIs(t, err, ErrBadParameter)
	})

	t.Run("missing clock", func(t *testing.T) {
		_, err := NewContext(transport, Callbacks{AppCallback: noop}, make([]byte, 16))
		assert.ErrorIs(t, err, ErrBadParameter)
	})

	t.Run("missing callback", func(t *testing.T) {
		_, err := NewContext(transport, Callbacks{GetTime: clock.GetTime}, make([]byte, 16))
		assert.ErrorIs(t, err, ErrBadParameter)
	})

	t.Run("empty buffer", func(t *testing.T) {
		_, err := NewContext(transport, Callbacks{GetTime: clock.GetTime, AppCallback: noop}, nil)
		assert.ErrorIs(t, err, ErrBadParameter)
	})

	t.Run("options", func(t *testing.T) {
		logger := NewStdLogger(nil, LogLevelNone)
		c, err := NewContext(transport, Callbacks{GetTime: clock.GetTime, AppCallback: noop}, make([]byte, 16),
			WithLogger(logger),
			WithMetrics(NewMemoryMetrics()),
			WithPingRespTimeout(2*time.Second),
			WithStateCapacity(1),
		)
		require.NoError(t, err)

		assert.Equal(t, uint32(2000), c.pingRespTimeoutMs)
		assert.Same(t, logger, c.logger)
		assert.Equal(t, 1, c.state.capacity)
	})
}

func TestConnectStatusString(t *testing.T) {
	assert.Equal(t, "connected", Connected.String())
	assert.Equal(t, "not connected", NotConnected.String())
}

func TestGetPacketID(t *testing.T) {
	c, _ := newTestEngine(t, &scriptedTransport{}, &fakeClock{step: 1}, 16)

	t.Run("starts at one", func(t *testing.T) {
		assert.Equal(t, uint16(1), c.GetPacketID())
		assert.Equal(t, uint16(2), c.GetPacketID())
	})

	t.Run("wraps to one", func(t *testing.T) {
		c.nextPacketID = 65535

		assert.Equal(t, uint16(65535), c.GetPacketID())
		assert.Equal(t, uint16(1), c.GetPacketID())
	})

	t.Run("never zero", func(t *testing.T) {
		for range 70000 {
			require.NotZero(t, c.GetPacketID())
		}
	})
}
