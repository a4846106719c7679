package relay

import "time"

// PendingPolicy decides what happens to client messages that arrive after
// the upstream dial has started but before the upstream is ready.
type PendingPolicy int

const (
	// PendingDrop discards pre-ready messages. This matches the observed
	// behavior of the original gateway: early audio is lost rather than
	// delayed.
	PendingDrop PendingPolicy = iota

	// PendingQueue holds up to PendingQueueSize messages and flushes them
	// in order once the upstream opens. Messages beyond the bound are
	// dropped oldest-first.
	PendingQueue
)

const (
	// DefaultIdleTimeout closes a session after this long with no traffic
	// in either direction.
	DefaultIdleTimeout = 15 * time.Second

	// DefaultHandshakeTimeout bounds the upstream websocket dial.
	DefaultHandshakeTimeout = 10 * time.Second

	// DefaultPendingQueueSize bounds the pre-ready queue under
	// PendingQueue.
	DefaultPendingQueueSize = 16
)

// Config holds the configuration for the relay gateway.
type Config struct {
	// AllowedOrigins is a comma-separated allow-list matched as
	// substrings against the Origin header. Empty allows any origin.
	AllowedOrigins string

	// UpstreamURL is the provider websocket endpoint, including any agent
	// parameters.
	UpstreamURL string

	// APIKey is sent as the xi-api-key header on the upstream dial.
	// If empty, no auth header is sent.
	APIKey string

	// IdleTimeout is the maximum quiet period before the session is
	// force-closed.
	IdleTimeout time.Duration

	// HandshakeTimeout bounds the upstream dial.
	HandshakeTimeout time.Duration

	// PendingPolicy selects drop or bounded-queue handling of pre-ready
	// client traffic.
	PendingPolicy PendingPolicy

	// PendingQueueSize is the queue bound under PendingQueue.
	PendingQueueSize int

	// ReadBufferSize is the WebSocket read buffer size.
	ReadBufferSize int

	// WriteBufferSize is the WebSocket write buffer size.
	WriteBufferSize int
}

// DefaultConfig returns the default gateway configuration.
func DefaultConfig() *Config {
	return &Config{
		IdleTimeout:      DefaultIdleTimeout,
		HandshakeTimeout: DefaultHandshakeTimeout,
		PendingPolicy:    PendingDrop,
		PendingQueueSize: DefaultPendingQueueSize,
		ReadBufferSize:   4096,
		WriteBufferSize:  4096,
	}
}
