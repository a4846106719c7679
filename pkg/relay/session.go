package relay

import (
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/voicebridge/voicebridge/pkg/trace"
)

// State is the relay session state. The upstream handle exists only in
// AwaitingUpstream (dial in flight) and Relaying (ready).
type State int

const (
	// StateIdle means no upstream connection exists yet.
	StateIdle State = iota
	// StateAwaitingUpstream means the upstream dial is in flight.
	StateAwaitingUpstream
	// StateRelaying means traffic is being forwarded in both directions.
	StateRelaying
	// StateClosed is terminal.
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingUpstream:
		return "awaiting_upstream"
	case StateRelaying:
		return "relaying"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

type clientMessage struct {
	messageType int
	data        []byte
}

// Session relays one client connection to one lazily-established upstream
// connection. It exclusively owns both connection handles and is the only
// component permitted to close either.
type Session struct {
	ID  string
	cfg *Config

	client   *websocket.Conn
	clientMu sync.Mutex // serializes client writes

	upstreamMu sync.Mutex // serializes upstream writes

	mu        sync.Mutex
	state     State
	upstream  *websocket.Conn
	pending   []clientMessage
	idleTimer *time.Timer

	span      oteltrace.Span
	closeOnce sync.Once
	wg        sync.WaitGroup
}

func newSession(id string, client *websocket.Conn, cfg *Config, span oteltrace.Span) *Session {
	return &Session{
		ID:     id,
		cfg:    cfg,
		client: client,
		state:  StateIdle,
		span:   span,
	}
}

// Run drives the session until either leg closes or the idle timer fires.
// It blocks until teardown is complete.
func (s *Session) Run() {
	s.mu.Lock()
	s.idleTimer = time.AfterFunc(s.cfg.IdleTimeout, s.onIdleTimeout)
	s.mu.Unlock()

	s.readClient()
	s.wg.Wait()
}

// State returns the current session state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// readClient is the client-to-upstream pump.
func (s *Session) readClient() {
	defer s.close("client closed")

	for {
		messageType, data, err := s.client.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("[relay %s] client read error: %v", s.ID, err)
			}
			return
		}

		s.resetIdle()
		s.handleClientMessage(messageType, data)
	}
}

// handleClientMessage forwards or triggers the lazy upstream connect.
// Messages are never queued behind an absent upstream: the first message is
// the trigger for creating the connection, and pre-ready traffic follows
// the configured PendingPolicy.
func (s *Session) handleClientMessage(messageType int, data []byte) {
	s.mu.Lock()
	switch s.state {
	case StateIdle:
		s.state = StateAwaitingUpstream
		s.bufferPendingLocked(messageType, data)
		s.mu.Unlock()

		s.wg.Add(1)
		go s.connectUpstream()

	case StateAwaitingUpstream:
		s.bufferPendingLocked(messageType, data)
		s.mu.Unlock()

	case StateRelaying:
		upstream := s.upstream
		s.mu.Unlock()
		s.forwardToUpstream(upstream, messageType, data)

	default:
		s.mu.Unlock()
	}
}

// bufferPendingLocked applies the pending policy to a pre-ready message.
// Caller holds s.mu.
func (s *Session) bufferPendingLocked(messageType int, data []byte) {
	if s.cfg.PendingPolicy != PendingQueue {
		log.Printf("[relay %s] upstream not ready, dropping %d bytes", s.ID, len(data))
		return
	}

	buf := make([]byte, len(data))
	copy(buf, data)
	s.pending = append(s.pending, clientMessage{messageType: messageType, data: buf})
	if len(s.pending) > s.cfg.PendingQueueSize {
		s.pending = s.pending[1:]
		log.Printf("[relay %s] pending queue full, dropping oldest", s.ID)
	}
}

// connectUpstream performs the single lazy dial for this session.
// The relay never retries a failed dial on its own; a later client message
// finds the session back in Idle and triggers a fresh attempt.
func (s *Session) connectUpstream() {
	defer s.wg.Done()

	log.Printf("[relay %s] connecting to upstream", s.ID)

	dialer := websocket.Dialer{HandshakeTimeout: s.cfg.HandshakeTimeout}
	header := http.Header{}
	if s.cfg.APIKey != "" {
		header.Set("xi-api-key", s.cfg.APIKey)
	}

	conn, resp, err := dialer.Dial(s.cfg.UpstreamURL, header)
	if resp != nil && resp.Body != nil && err != nil {
		resp.Body.Close()
	}
	trace.RecordUpstreamConnect(s.span, err)
	if err != nil {
		log.Printf("[relay %s] upstream dial failed: %v", s.ID, err)

		s.mu.Lock()
		if s.state == StateAwaitingUpstream {
			s.state = StateIdle
			s.pending = nil
		}
		s.mu.Unlock()

		s.sendControl(ControlMessage{Type: TypeError, Message: "Failed to connect to ElevenLabs"})
		return
	}

	s.mu.Lock()
	if s.state != StateAwaitingUpstream {
		// Session was torn down while dialing.
		s.mu.Unlock()
		conn.Close()
		return
	}
	s.upstream = conn
	s.state = StateRelaying
	pending := s.pending
	s.pending = nil
	s.mu.Unlock()

	log.Printf("[relay %s] upstream connected", s.ID)
	s.sendControl(ControlMessage{Type: TypeConnected})

	for _, msg := range pending {
		s.forwardToUpstream(conn, msg.messageType, msg.data)
	}

	s.wg.Add(1)
	go s.readUpstream(conn)
}

// readUpstream is the upstream-to-client pump. A closed upstream always
// terminates the session; it is never silently retried.
func (s *Session) readUpstream(conn *websocket.Conn) {
	defer s.wg.Done()

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}

		s.resetIdle()
		s.forwardToClient(messageType, data)
	}

	s.mu.Lock()
	alreadyClosed := s.state == StateClosed
	s.mu.Unlock()
	if alreadyClosed {
		return
	}

	log.Printf("[relay %s] upstream closed", s.ID)
	s.sendControl(ControlMessage{Type: TypeError, Message: "ElevenLabs connection closed"})
	s.writeClientClose(websocket.CloseNormalClosure, "")
	s.close("upstream closed")
}

func (s *Session) forwardToUpstream(conn *websocket.Conn, messageType int, data []byte) {
	if conn == nil {
		return
	}

	s.upstreamMu.Lock()
	err := conn.WriteMessage(messageType, data)
	s.upstreamMu.Unlock()
	if err != nil {
		log.Printf("[relay %s] upstream write error: %v", s.ID, err)
		s.sendControl(ControlMessage{Type: TypeError, Message: "Proxy error"})
	}
}

func (s *Session) forwardToClient(messageType int, data []byte) {
	s.clientMu.Lock()
	err := s.client.WriteMessage(messageType, data)
	s.clientMu.Unlock()
	if err != nil {
		log.Printf("[relay %s] client write error: %v", s.ID, err)
		s.close("client write failed")
	}
}

// sendControl sends a synthetic control message to the client, best-effort.
func (s *Session) sendControl(msg ControlMessage) {
	s.clientMu.Lock()
	err := s.client.WriteMessage(websocket.TextMessage, msg.encode())
	s.clientMu.Unlock()
	if err != nil {
		log.Printf("[relay %s] control write error: %v", s.ID, err)
	}
}

func (s *Session) writeClientClose(code int, reason string) {
	s.clientMu.Lock()
	s.client.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason))
	s.clientMu.Unlock()
}

// resetIdle restarts the inactivity window. Traffic in either direction
// counts; only monotonically later deadlines matter, so last-write-wins.
func (s *Session) resetIdle() {
	s.mu.Lock()
	if s.state != StateClosed && s.idleTimer != nil {
		s.idleTimer.Reset(s.cfg.IdleTimeout)
	}
	s.mu.Unlock()
}

func (s *Session) onIdleTimeout() {
	log.Printf("[relay %s] idle timeout", s.ID)
	s.writeClientClose(websocket.CloseNormalClosure, "Idle timeout")
	s.close("idle timeout")
}

// close tears the session down exactly once: stops the timer, closes the
// upstream if one exists, and closes the client connection.
func (s *Session) close(reason string) {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.state = StateClosed
		if s.idleTimer != nil {
			s.idleTimer.Stop()
		}
		upstream := s.upstream
		s.upstream = nil
		s.pending = nil
		s.mu.Unlock()

		if upstream != nil {
			upstream.Close()
		}
		s.client.Close()

		if s.span != nil {
			trace.RecordSessionClose(s.span, reason)
		}
		log.Printf("[relay %s] session closed: %s", s.ID, reason)
	})
}
