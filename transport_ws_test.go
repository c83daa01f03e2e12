package coremqtt

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testUpgrader = websocket.Upgrader{
	Subprotocols: []string{WebSocketSubprotocol},
	CheckOrigin:  func(*http.Request) bool { return true },
}

// newWSServer runs handler for every upgraded connection.
func newWSServer(t *testing.T, handler func(*websocket.Conn)) string {
	t.Helper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		handler(conn)
	}))
	t.Cleanup(server.Close)

	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func TestWSConnReadWrite(t *testing.T) {
	url := newWSServer(t, func(conn *websocket.Conn) {
		for {
			messageType, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if err := conn.WriteMessage(messageType, data); err != nil {
				return
			}
		}
	})

	conn, err := NewWSDialer().Dial(context.Background(), url)
	require.NoError(t, err)
	defer conn.Close()

	assert.NotNil(t, conn.LocalAddr())
	assert.NotNil(t, conn.RemoteAddr())

	n, err := conn.Write([]byte("hello mqtt"))
	require.NoError(t, err)
	assert.Equal(t, 10, n)

	// A short buffer drains one frame over several reads.
	buf := make([]byte, 4)
	var got []byte
	for len(got) < 10 {
		n, err := conn.Read(buf)
		require.NoError(t, err)
		got = append(got, buf[:n]...)
	}
	assert.Equal(t, "hello mqtt", string(got))
}

func TestWSConnPacketsAcrossFrames(t *testing.T) {
	url := newWSServer(t, func(conn *websocket.Conn) {
		// One SUBACK split over two frames, then two PINGRESPs in one.
		_ = conn.WriteMessage(websocket.BinaryMessage, []byte{0x90, 0x03})
		_ = conn.WriteMessage(websocket.BinaryMessage, []byte{0x00, 0x01, 0x00})
		_ = conn.WriteMessage(websocket.BinaryMessage, []byte{0xD0, 0x00, 0xD0, 0x00})
		_, _, _ = conn.ReadMessage()
	})

	conn, err := NewWSDialer().Dial(context.Background(), url)
	require.NoError(t, err)
	defer conn.Close()

	buf := make([]byte, 9)
	_, err = io.ReadFull(conn, buf)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x90, 0x03, 0x00, 0x01, 0x00, 0xD0, 0x00, 0xD0, 0x00}, buf)
}

func TestWSConnRejectsTextFrames(t *testing.T) {
	url := newWSServer(t, func(conn *websocket.Conn) {
		_ = conn.WriteMessage(websocket.TextMessage, []byte("not mqtt"))
		_, _, _ = conn.ReadMessage()
	})

	conn, err := NewWSDialer().Dial(context.Background(), url)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Read(make([]byte, 16))
	assert.ErrorIs(t, err, errWSTextFrame)
}

func TestWSConnDeadlines(t *testing.T) {
	url := newWSServer(t, func(conn *websocket.Conn) {
		_, _, _ = conn.ReadMessage()
	})

	conn, err := NewWSDialer().Dial(context.Background(), url)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.SetDeadline(time.Now().Add(20*time.Millisecond)))
	_, err = conn.Read(make([]byte, 4))
	assert.Error(t, err)

	assert.NoError(t, conn.SetWriteDeadline(time.Now().Add(time.Second)))
	assert.NoError(t, conn.SetReadDeadline(time.Time{}))
}

func TestWSDialer(t *testing.T) {
	t.Run("requests the mqtt subprotocol", func(t *testing.T) {
		d := NewWSDialer()
		assert.Equal(t, []string{WebSocketSubprotocol}, d.Dialer.Subprotocols)
		assert.Nil(t, d.Dialer.Proxy)
	})

	t.Run("sends handshake headers", func(t *testing.T) {
		headers := make(chan http.Header, 1)
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			headers <- r.Header.Clone()
			conn, err := testUpgrader.Upgrade(w, r, nil)
			if err == nil {
				conn.Close()
			}
		}))
		defer server.Close()

		d := NewWSDialer()
		d.Header = http.Header{"Authorization": {"Bearer token"}}

		conn, err := d.Dial(context.Background(), "ws"+strings.TrimPrefix(server.URL, "http"))
		require.NoError(t, err)
		conn.Close()

		h := <-headers
		assert.Equal(t, "Bearer token", h.Get("Authorization"))
		assert.Equal(t, WebSocketSubprotocol, h.Get("Sec-Websocket-Protocol"))
	})

	t.Run("nil dialer uses the default", func(t *testing.T) {
		url := newWSServer(t, func(conn *websocket.Conn) {})

		conn, err := (&WSDialer{}).Dial(context.Background(), url)
		require.NoError(t, err)
		conn.Close()
	})

	t.Run("not a websocket endpoint", func(t *testing.T) {
		server := httptest.NewServer(http.NotFoundHandler())
		defer server.Close()

		_, err := NewWSDialer().Dial(context.Background(), "ws"+strings.TrimPrefix(server.URL, "http"))
		assert.Error(t, err)
	})
}

func TestClientOverWebSocket(t *testing.T) {
	b := newBrokerState()
	served := make(chan struct{})

	url := newWSServer(t, func(conn *websocket.Conn) {
		defer close(served)
		b.serveConn(NewWSConn(conn))
	})

	messages := make(chan *Message, 1)
	client, err := Dial(context.Background(), url+"/mqtt",
		testClientOptions(WithMessageHandler(func(msg *Message) { messages <- msg }))...)
	require.NoError(t, err)

	_, err = client.Subscribe(context.Background(), SubscribeInfo{TopicFilter: "ws/#", QoS: QoS1})
	require.NoError(t, err)
	require.NoError(t, client.Publish(context.Background(), &Message{Topic: "ws/echo", Payload: []byte("frame"), QoS: QoS2}))

	select {
	case msg := <-messages:
		assert.Equal(t, "ws/echo", msg.Topic)
		assert.Equal(t, []byte("frame"), msg.Payload)
	case <-time.After(3 * time.Second):
		t.Fatal("message not delivered")
	}

	require.NoError(t, client.Close())
	b.expect(t, PacketDISCONNECT)

	select {
	case <-served:
	case <-time.After(3 * time.Second):
		t.Fatal("broker did not stop")
	}
}
