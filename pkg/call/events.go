package call

import (
	"time"

	"github.com/voicebridge/voicebridge/pkg/audio"
)

// TranscriptEntry is one line of the call transcript.
type TranscriptEntry struct {
	Speaker   string    `json:"speaker"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// EventHandler receives call lifecycle and media events. Implementations
// must not block; they are invoked from the call's I/O goroutines.
type EventHandler interface {
	// OnConnect fires when the call becomes active.
	OnConnect()

	// OnDisconnect fires after the call is torn down.
	OnDisconnect()

	// OnTranscript fires for every transcript entry, user or agent.
	OnTranscript(entry TranscriptEntry)

	// OnAudioLevel fires per captured frame with the local loudness.
	OnAudioLevel(level audio.Level)

	// OnAgentAudio fires with raw playback audio from the agent.
	// Decoding and playback belong to the UI layer.
	OnAgentAudio(data []byte)

	// OnError fires for non-fatal errors surfaced during a call.
	OnError(err error)
}

// NoOpEventHandler is an empty implementation for callers that only need a
// subset of the events.
type NoOpEventHandler struct{}

func (h *NoOpEventHandler) OnConnect() {}

func (h *NoOpEventHandler) OnDisconnect() {}

func (h *NoOpEventHandler) OnTranscript(entry TranscriptEntry) {}

func (h *NoOpEventHandler) OnAudioLevel(level audio.Level) {}

func (h *NoOpEventHandler) OnAgentAudio(data []byte) {}

func (h *NoOpEventHandler) OnError(err error) {}

// serverEvent is the tagged shape of text frames arriving from the relay
// or provider.
type serverEvent struct {
	Type    string `json:"type"`
	Role    string `json:"role,omitempty"`
	Text    string `json:"text,omitempty"`
	Message string `json:"message,omitempty"`
}
