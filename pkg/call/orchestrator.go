// Package call orchestrates one voice call end to end: token acquisition,
// microphone setup, the websocket leg to the relay, transcript
// aggregation, and deterministic teardown.
package call

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/voicebridge/voicebridge/pkg/audio"
	"github.com/voicebridge/voicebridge/pkg/trace"
	"github.com/voicebridge/voicebridge/pkg/vad"
)

// DefaultConnectTimeout bounds the websocket connection attempt.
const DefaultConnectTimeout = 10 * time.Second

// storeTimeout bounds the fire-and-forget transcript hand-off.
const storeTimeout = 10 * time.Second

// CapturePipeline is the audio capture surface the orchestrator drives.
// *audio.Capture is the production implementation.
type CapturePipeline interface {
	Setup(ctx context.Context) error
	Teardown()
	SetStreaming(on bool)
	Frames() <-chan []byte
	Detector() vad.Detector
}

var _ CapturePipeline = (*audio.Capture)(nil)

// CallState is the orchestrator's lifecycle state.
type CallState int

const (
	// CallIdle means no call exists.
	CallIdle CallState = iota
	// CallConnecting means StartCall is in progress.
	CallConnecting
	// CallActive means the call is live.
	CallActive
	// CallEnding means EndCall is in progress.
	CallEnding
)

func (s CallState) String() string {
	switch s {
	case CallIdle:
		return "idle"
	case CallConnecting:
		return "connecting"
	case CallActive:
		return "active"
	case CallEnding:
		return "ending"
	default:
		return "unknown"
	}
}

// Config holds orchestrator configuration.
type Config struct {
	// UserID identifies the caller to the token collaborator.
	UserID string

	// ConnectTimeout bounds the voice connection attempt.
	ConnectTimeout time.Duration
}

// Orchestrator sequences token acquisition, audio setup, connection, the
// active call, and teardown. Every failure path returns the orchestrator
// to Idle with no partially-initialized resources behind.
type Orchestrator struct {
	cfg     Config
	tokens  *TokenClient
	capture CapturePipeline
	store   TranscriptStore
	handler EventHandler

	writeMu sync.Mutex // serializes connection writes

	mu         sync.Mutex
	state      CallState
	conn       *websocket.Conn
	startTime  time.Time
	agentID    string
	transcript []TranscriptEntry
	cancel     context.CancelFunc
	span       oteltrace.Span
}

// NewOrchestrator creates a call orchestrator. store may be nil to skip
// transcript persistence; handler may be nil.
func NewOrchestrator(cfg Config, tokens *TokenClient, capture CapturePipeline, store TranscriptStore, handler EventHandler) *Orchestrator {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}
	if handler == nil {
		handler = &NoOpEventHandler{}
	}
	return &Orchestrator{
		cfg:     cfg,
		tokens:  tokens,
		capture: capture,
		store:   store,
		handler: handler,
		state:   CallIdle,
	}
}

// State returns the current call state.
func (o *Orchestrator) State() CallState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Transcript returns a copy of the transcript collected so far.
func (o *Orchestrator) Transcript() []TranscriptEntry {
	o.mu.Lock()
	defer o.mu.Unlock()
	entries := make([]TranscriptEntry, len(o.transcript))
	copy(entries, o.transcript)
	return entries
}

// StartCall acquires a token, sets up capture, and connects to the voice
// endpoint. Returns ErrAlreadyActive if a call is already in progress.
func (o *Orchestrator) StartCall(ctx context.Context) error {
	o.mu.Lock()
	if o.state != CallIdle {
		o.mu.Unlock()
		return ErrAlreadyActive
	}
	o.state = CallConnecting
	o.mu.Unlock()

	_, span := trace.StartCallSpan(ctx, o.cfg.UserID)

	token, err := o.tokens.Mint(ctx, o.cfg.UserID)
	if err != nil {
		o.failStart(span, err)
		return err
	}

	if err := o.capture.Setup(ctx); err != nil {
		o.failStart(span, err)
		return err
	}

	conn, err := o.dialVoice(ctx, token.WSURL)
	if err != nil {
		// Tear down the partial state exactly as EndCall would.
		o.capture.Teardown()
		o.capture.Detector().Reset()
		o.failStart(span, err)
		return err
	}

	callCtx, cancel := context.WithCancel(context.Background())

	o.mu.Lock()
	o.conn = conn
	o.state = CallActive
	o.startTime = time.Now()
	o.agentID = token.AgentID
	o.transcript = nil
	o.cancel = cancel
	o.span = span
	o.mu.Unlock()

	o.capture.SetStreaming(true)
	go o.readLoop(callCtx, conn)
	go o.writeLoop(callCtx, conn)

	log.Printf("[call] started for user %s (agent %s)", o.cfg.UserID, token.AgentID)
	o.handler.OnConnect()
	return nil
}

func (o *Orchestrator) failStart(span oteltrace.Span, err error) {
	trace.RecordError(span, err)
	span.End()

	o.mu.Lock()
	o.state = CallIdle
	o.mu.Unlock()
}

func (o *Orchestrator) dialVoice(ctx context.Context, wsURL string) (*websocket.Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, o.cfg.ConnectTimeout)
	defer cancel()

	dialer := websocket.Dialer{HandshakeTimeout: o.cfg.ConnectTimeout}
	conn, resp, err := dialer.DialContext(dialCtx, wsURL, nil)
	if err != nil {
		if resp != nil && resp.Body != nil {
			resp.Body.Close()
		}
		if dialCtx.Err() != nil || isTimeout(err) {
			return nil, fmt.Errorf("%w: %v", ErrConnectTimeout, err)
		}
		return nil, fmt.Errorf("voice connect failed: %w", err)
	}
	return conn, nil
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// EndCall tears the call down. It is idempotent: calling it with no active
// session is a no-op.
func (o *Orchestrator) EndCall() {
	o.mu.Lock()
	if o.state != CallActive {
		o.mu.Unlock()
		return
	}
	o.state = CallEnding
	conn := o.conn
	o.conn = nil
	cancel := o.cancel
	o.cancel = nil
	entries := o.transcript
	o.transcript = nil
	startedAt := o.startTime
	agentID := o.agentID
	span := o.span
	o.span = nil
	o.mu.Unlock()

	// Detach event processing before closing anything so a straggler
	// event cannot revive the torn-down session.
	if cancel != nil {
		cancel()
	}

	if conn != nil {
		o.writeMu.Lock()
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		o.writeMu.Unlock()
		conn.Close()
	}

	o.capture.SetStreaming(false)
	o.capture.Teardown()
	o.capture.Detector().Reset()

	o.mu.Lock()
	o.state = CallIdle
	o.mu.Unlock()

	log.Printf("[call] ended for user %s (%d transcript entries)", o.cfg.UserID, len(entries))
	o.handler.OnDisconnect()

	if span != nil {
		span.End()
	}

	if len(entries) > 0 && o.store != nil {
		record := CallRecord{
			UserID:     o.cfg.UserID,
			AgentID:    agentID,
			StartedAt:  startedAt,
			EndedAt:    time.Now(),
			Transcript: FlattenTranscript(entries),
			Entries:    entries,
		}
		// Fire-and-forget: ending the call never fails on persistence.
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
			defer cancel()
			if err := o.store.SaveTranscript(ctx, record); err != nil {
				log.Printf("[call] transcript save failed: %v", err)
			}
		}()
	}
}

// readLoop processes messages from the voice connection until it closes or
// the call ends.
func (o *Orchestrator) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				log.Printf("[call] connection lost: %v", err)
				o.EndCall()
			}
			return
		}

		if ctx.Err() != nil {
			return
		}

		switch messageType {
		case websocket.BinaryMessage:
			o.handler.OnAgentAudio(data)
		case websocket.TextMessage:
			o.handleServerEvent(data)
		}
	}
}

func (o *Orchestrator) handleServerEvent(data []byte) {
	var event serverEvent
	if err := json.Unmarshal(data, &event); err != nil {
		log.Printf("[call] unparseable event: %v", err)
		return
	}

	switch event.Type {
	case "transcript":
		entry := TranscriptEntry{
			Speaker:   event.Role,
			Text:      event.Text,
			Timestamp: time.Now(),
		}
		o.mu.Lock()
		o.transcript = append(o.transcript, entry)
		o.mu.Unlock()
		o.handler.OnTranscript(entry)

	case "connected":
		log.Printf("[call] relay reports upstream connected")

	case "error":
		o.handler.OnError(errors.New(event.Message))

	default:
		log.Printf("[call] unknown event type: %s", event.Type)
	}
}

// writeLoop transmits encoded capture frames to the voice connection.
func (o *Orchestrator) writeLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		select {
		case <-ctx.Done():
			return
		case frame := <-o.capture.Frames():
			o.writeMu.Lock()
			err := conn.WriteMessage(websocket.BinaryMessage, frame)
			o.writeMu.Unlock()
			if err != nil {
				log.Printf("[call] frame write error: %v", err)
				return
			}
		}
	}
}
