// Package relay provides the websocket relay gateway between browser
// clients and the ElevenLabs conversational voice endpoint.
//
// Each accepted connection becomes one Session: the upstream leg is opened
// lazily on the first client message, traffic is forwarded verbatim in both
// directions, and an idle supervisor closes sessions with no traffic in
// either direction.
package relay

import (
	"log"
	"net/http"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/voicebridge/voicebridge/pkg/trace"
)

// Server accepts client websocket upgrades and runs one relay session per
// connection. It implements http.Handler.
type Server struct {
	cfg      *Config
	upgrader websocket.Upgrader

	sessions   map[string]*Session
	sessionsMu sync.RWMutex
}

// NewServer creates a relay gateway with the given configuration.
func NewServer(cfg *Config) *Server {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Server{
		cfg:      cfg,
		sessions: make(map[string]*Session),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  cfg.ReadBufferSize,
			WriteBufferSize: cfg.WriteBufferSize,
			// Origin is verified against the allow-list before upgrading.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// ServeHTTP verifies the upgrade request and relays the connection until it
// closes. Boundary failures are rejected before any session is created.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
		http.Error(w, "Upgrade Required", http.StatusUpgradeRequired)
		return
	}

	origin := r.Header.Get("Origin")
	if !s.originAllowed(origin) {
		log.Printf("[relay] rejected origin: %q", origin)
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[relay] upgrade failed: %v", err)
		return
	}

	sessionID := "rs_" + uuid.New().String()[:12]
	_, span := trace.StartRelaySession(r.Context(), sessionID, origin)
	defer span.End()

	session := newSession(sessionID, conn, s.cfg, span)
	s.register(session)
	defer s.unregister(session)

	log.Printf("[relay %s] client connected from %q", sessionID, origin)
	session.Run()
}

// originAllowed matches the Origin header against the comma-separated
// allow-list as substrings. An empty allow-list admits any origin.
func (s *Server) originAllowed(origin string) bool {
	if s.cfg.AllowedOrigins == "" {
		return true
	}
	for _, allowed := range strings.Split(s.cfg.AllowedOrigins, ",") {
		allowed = strings.TrimSpace(allowed)
		if allowed != "" && strings.Contains(origin, allowed) {
			return true
		}
	}
	return false
}

func (s *Server) register(session *Session) {
	s.sessionsMu.Lock()
	s.sessions[session.ID] = session
	s.sessionsMu.Unlock()
}

func (s *Server) unregister(session *Session) {
	s.sessionsMu.Lock()
	delete(s.sessions, session.ID)
	s.sessionsMu.Unlock()
}

// ActiveSessions returns the number of live relay sessions.
func (s *Server) ActiveSessions() int {
	s.sessionsMu.RLock()
	defer s.sessionsMu.RUnlock()
	return len(s.sessions)
}

// Close tears down every live session. Used on server shutdown.
func (s *Server) Close() {
	s.sessionsMu.RLock()
	sessions := make([]*Session, 0, len(s.sessions))
	for _, session := range s.sessions {
		sessions = append(sessions, session)
	}
	s.sessionsMu.RUnlock()

	for _, session := range sessions {
		session.close("server shutdown")
	}
}
