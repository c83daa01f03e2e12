package coremqtt

import (
	"bytes"
	"encoding/binary"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

var errScripted = errors.New("scripted transport failure")

// scriptedTransport replays incoming bytes and records outgoing ones.
type scriptedTransport struct {
	mu sync.Mutex

	incoming []byte
	sent     bytes.Buffer

	sendCalls int
	recvCalls int

	// maxSend and maxRecv cap the bytes moved per call when positive.
	maxSend int
	maxRecv int

	// failSendAt makes the nth Send call (1-based) fail.
	failSendAt int
	// zeroSend makes every Send report 0 bytes written.
	zeroSend bool
	// recvErr is returned once incoming is exhausted.
	recvErr error
}

func (s *scriptedTransport) Send(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sendCalls++
	if s.failSendAt > 0 && s.sendCalls == s.failSendAt {
		return 0, errScripted
	}
	if s.zeroSend {
		return 0, nil
	}

	n := len(p)
	if s.maxSend > 0 && n > s.maxSend {
		n = s.maxSend
	}
	s.sent.Write(p[:n])

	return n, nil
}

func (s *scriptedTransport) Recv(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.recvCalls++
	if len(s.incoming) == 0 && s.recvErr != nil {
		return 0, s.recvErr
	}

	limit := len(p)
	if s.maxRecv > 0 && limit > s.maxRecv {
		limit = s.maxRecv
	}

	n := copy(p[:limit], s.incoming)
	s.incoming = s.incoming[n:]

	return n, nil
}

func (s *scriptedTransport) feed(packets ...[]byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range packets {
		s.incoming = append(s.incoming, p...)
	}
}

// takeSent returns the bytes sent so far and resets the record.
func (s *scriptedTransport) takeSent() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := bytes.Clone(s.sent.Bytes())
	s.sent.Reset()

	return out
}

func (s *scriptedTransport) pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.incoming)
}

// fakeClock advances by step milliseconds on every reading.
type fakeClock struct {
	now  uint32
	step uint32
}

func (c *fakeClock) GetTime() uint32 {
	now := c.now
	c.now += c.step
	return now
}

func (c *fakeClock) advance(ms uint32) { c.now += ms }

type callbackEvent struct {
	packetType PacketType
	packetID   uint16
	publish    *PublishInfo
}

// callbackRecorder copies every event handed to the application.
type callbackRecorder struct {
	events []callbackEvent
}

func (r *callbackRecorder) callback(_ *Context, pkt *PacketInfo, packetID uint16, publish *PublishInfo) {
	ev := callbackEvent{packetType: pkt.Type, packetID: packetID}
	if publish != nil {
		cp := *publish
		cp.Payload = bytes.Clone(publish.Payload)
		ev.publish = &cp
	}
	r.events = append(r.events, ev)
}

func newTestEngine(t *testing.T, transport Transport, clock *fakeClock, bufSize int, opts ...ContextOption) (*Context, *callbackRecorder) {
	t.Helper()

	rec := &callbackRecorder{}
	c, err := NewContext(transport, Callbacks{
		GetTime:     clock.GetTime,
		AppCallback: rec.callback,
	}, make([]byte, bufSize), opts...)
	require.NoError(t, err)

	return c, rec
}

// newConnectedEngine returns an engine that completed CONNECT with the
// given keep-alive interval. The CONNECT bytes are discarded.
func newConnectedEngine(t *testing.T, keepAliveSec uint16, opts ...ContextOption) (*Context, *scriptedTransport, *fakeClock, *callbackRecorder) {
	t.Helper()

	transport := &scriptedTransport{}
	clock := &fakeClock{now: 1000, step: 1}
	c, rec := newTestEngine(t, transport, clock, 256, opts...)

	transport.feed(connackPacket(false, ConnackAccepted))
	_, err := c.Connect(&ConnectInfo{
		ClientIdentifier:     "test-client",
		CleanSession:         true,
		KeepAliveIntervalSec: keepAliveSec,
	}, nil, 1000)
	require.NoError(t, err)

	transport.takeSent()

	return c, transport, clock, rec
}

func connackPacket(sessionPresent bool, code ConnackReturnCode) []byte {
	var flags byte
	if sessionPresent {
		flags = 0x01
	}
	return []byte{byte(PacketCONNACK), 2, flags, byte(code)}
}

func ackPacket(t PacketType, packetID uint16) []byte {
	b := []byte{byte(t), 2, 0, 0}
	binary.BigEndian.PutUint16(b[2:], packetID)
	return b
}

func subackPacket(packetID uint16, codes ...SubackReturnCode) []byte {
	b := []byte{byte(PacketSUBACK), byte(2 + len(codes)), 0, 0}
	binary.BigEndian.PutUint16(b[2:], packetID)
	for _, c := range codes {
		b = append(b, byte(c))
	}
	return b
}

func pingrespPacket() []byte {
	return []byte{byte(PacketPINGRESP), 0}
}

func publishPacket(t *testing.T, publish *PublishInfo, packetID uint16) []byte {
	t.Helper()

	remainingLength, packetSize, err := GetPublishPacketSize(publish)
	require.NoError(t, err)

	buf := make([]byte, packetSize)
	require.NoError(t, SerializePublish(publish, packetID, remainingLength, buf))

	return buf
}
