package relay

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// upstreamServer is a fake provider endpoint that counts dials and echoes
// every message back.
type upstreamServer struct {
	ts        *httptest.Server
	dialCount atomic.Int64

	// acceptDelay holds the handshake open to widen the AwaitingUpstream
	// window.
	acceptDelay time.Duration

	// closeAfterConnect drops the connection right after the handshake.
	closeAfterConnect bool
}

func newUpstreamServer(t *testing.T) *upstreamServer {
	t.Helper()

	us := &upstreamServer{}
	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}

	us.ts = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		us.dialCount.Add(1)
		if us.acceptDelay > 0 {
			time.Sleep(us.acceptDelay)
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		if us.closeAfterConnect {
			return
		}

		for {
			messageType, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if err := conn.WriteMessage(messageType, data); err != nil {
				return
			}
		}
	}))
	t.Cleanup(us.ts.Close)
	return us
}

func (us *upstreamServer) wsURL() string {
	return "ws" + strings.TrimPrefix(us.ts.URL, "http")
}

func newRelayClient(t *testing.T, cfg *Config) *websocket.Conn {
	t.Helper()

	server := NewServer(cfg)
	ts := httptest.NewServer(server)
	t.Cleanup(ts.Close)

	header := http.Header{}
	header.Set("Origin", "http://localhost:3000")
	conn, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http"), header)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readControl reads messages until a relay control message arrives.
func readControl(t *testing.T, conn *websocket.Conn, timeout time.Duration) ControlMessage {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(timeout)))
	for {
		messageType, data, err := conn.ReadMessage()
		require.NoError(t, err)
		if messageType != websocket.TextMessage {
			continue
		}
		if msg, ok := ParseControlMessage(data); ok {
			return msg
		}
	}
}

func TestLazyUpstreamConnectAndForwarding(t *testing.T) {
	upstream := newUpstreamServer(t)

	cfg := DefaultConfig()
	cfg.UpstreamURL = upstream.wsURL()
	client := newRelayClient(t, cfg)

	// The first binary frame triggers the lazy dial.
	frame := []byte{0x01, 0x02, 0x03, 0x04}
	require.NoError(t, client.WriteMessage(websocket.BinaryMessage, frame))

	msg := readControl(t, client, 2*time.Second)
	assert.Equal(t, TypeConnected, msg.Type)
	assert.Equal(t, int64(1), upstream.dialCount.Load())

	// A frame sent after the upstream is ready is forwarded verbatim and
	// echoed back through the relay.
	require.NoError(t, client.WriteMessage(websocket.BinaryMessage, frame))

	require.NoError(t, client.SetReadDeadline(time.Now().Add(2*time.Second)))
	messageType, data, err := client.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.BinaryMessage, messageType)
	assert.Equal(t, frame, data)
}

func TestSingleDialRegardlessOfPreReadyBurst(t *testing.T) {
	upstream := newUpstreamServer(t)
	upstream.acceptDelay = 300 * time.Millisecond

	cfg := DefaultConfig()
	cfg.UpstreamURL = upstream.wsURL()
	client := newRelayClient(t, cfg)

	// A burst of frames while the dial is still in flight must not spawn
	// additional upstream connections.
	for i := 0; i < 5; i++ {
		require.NoError(t, client.WriteMessage(websocket.BinaryMessage, []byte{byte(i)}))
	}

	msg := readControl(t, client, 2*time.Second)
	assert.Equal(t, TypeConnected, msg.Type)
	assert.Equal(t, int64(1), upstream.dialCount.Load())
}

func TestPendingQueueFlushesOnUpstreamOpen(t *testing.T) {
	upstream := newUpstreamServer(t)
	upstream.acceptDelay = 200 * time.Millisecond

	cfg := DefaultConfig()
	cfg.UpstreamURL = upstream.wsURL()
	cfg.PendingPolicy = PendingQueue
	client := newRelayClient(t, cfg)

	frames := [][]byte{{1}, {2}, {3}}
	for _, frame := range frames {
		require.NoError(t, client.WriteMessage(websocket.BinaryMessage, frame))
	}

	msg := readControl(t, client, 2*time.Second)
	require.Equal(t, TypeConnected, msg.Type)

	// All queued frames come back in order via the echo upstream.
	for _, want := range frames {
		require.NoError(t, client.SetReadDeadline(time.Now().Add(2*time.Second)))
		_, data, err := client.ReadMessage()
		require.NoError(t, err)
		assert.Equal(t, want, data)
	}
}

func TestIdleTimeoutClosesSession(t *testing.T) {
	upstream := newUpstreamServer(t)

	cfg := DefaultConfig()
	cfg.UpstreamURL = upstream.wsURL()
	cfg.IdleTimeout = 200 * time.Millisecond
	client := newRelayClient(t, cfg)

	require.NoError(t, client.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := client.ReadMessage()
	require.Error(t, err)

	closeErr, ok := err.(*websocket.CloseError)
	require.True(t, ok, "expected a close frame, got %v", err)
	assert.Equal(t, websocket.CloseNormalClosure, closeErr.Code)
	assert.Equal(t, "Idle timeout", closeErr.Text)
}

func TestTrafficResetsIdleTimer(t *testing.T) {
	upstream := newUpstreamServer(t)

	cfg := DefaultConfig()
	cfg.UpstreamURL = upstream.wsURL()
	cfg.IdleTimeout = 300 * time.Millisecond
	client := newRelayClient(t, cfg)

	require.NoError(t, client.WriteMessage(websocket.BinaryMessage, []byte{1}))
	msg := readControl(t, client, 2*time.Second)
	require.Equal(t, TypeConnected, msg.Type)

	// Keep traffic flowing for well past the idle window; each echo
	// round-trip restarts the countdown.
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		require.NoError(t, client.WriteMessage(websocket.BinaryMessage, []byte{2}))
		require.NoError(t, client.SetReadDeadline(time.Now().Add(2*time.Second)))
		_, _, err := client.ReadMessage()
		require.NoError(t, err, "session must stay open while traffic flows")
		time.Sleep(150 * time.Millisecond)
	}

	// Once traffic stops, the idle supervisor fires.
	require.NoError(t, client.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := client.ReadMessage()
	require.Error(t, err)
	closeErr, ok := err.(*websocket.CloseError)
	require.True(t, ok, "expected a close frame, got %v", err)
	assert.Equal(t, "Idle timeout", closeErr.Text)
}

func TestUpstreamCloseTerminatesSession(t *testing.T) {
	upstream := newUpstreamServer(t)
	upstream.closeAfterConnect = true

	cfg := DefaultConfig()
	cfg.UpstreamURL = upstream.wsURL()
	client := newRelayClient(t, cfg)

	require.NoError(t, client.WriteMessage(websocket.BinaryMessage, []byte{1}))

	// connected may or may not arrive before the upstream drops; the
	// error control message must arrive either way.
	var errMsg ControlMessage
	for {
		msg := readControl(t, client, 2*time.Second)
		if msg.Type == TypeError {
			errMsg = msg
			break
		}
	}
	assert.Equal(t, "ElevenLabs connection closed", errMsg.Message)

	require.NoError(t, client.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := client.ReadMessage()
	require.Error(t, err)
	closeErr, ok := err.(*websocket.CloseError)
	require.True(t, ok, "expected a close frame, got %v", err)
	assert.Equal(t, websocket.CloseNormalClosure, closeErr.Code)
}

func TestUpstreamDialFailureKeepsClientOpen(t *testing.T) {
	cfg := DefaultConfig()
	cfg.UpstreamURL = "ws://127.0.0.1:1/unreachable"
	cfg.HandshakeTimeout = 500 * time.Millisecond
	client := newRelayClient(t, cfg)

	require.NoError(t, client.WriteMessage(websocket.BinaryMessage, []byte{1}))

	msg := readControl(t, client, 3*time.Second)
	assert.Equal(t, TypeError, msg.Type)
	assert.Equal(t, "Failed to connect to ElevenLabs", msg.Message)

	// The client leg stays open; another message triggers a fresh dial
	// attempt, which fails the same way.
	require.NoError(t, client.WriteMessage(websocket.BinaryMessage, []byte{2}))
	msg = readControl(t, client, 3*time.Second)
	assert.Equal(t, TypeError, msg.Type)
	assert.Equal(t, "Failed to connect to ElevenLabs", msg.Message)
}

func TestControlMessagesAreValidJSON(t *testing.T) {
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(ControlMessage{Type: TypeConnected}.encode(), &decoded))
	assert.Equal(t, "connected", decoded["type"])
	_, hasMessage := decoded["message"]
	assert.False(t, hasMessage, "empty message must be omitted")
}
