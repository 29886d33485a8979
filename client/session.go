package client

import (
	"sync"

	"taskpulse/domain"
)

// Session holds the credential and profile of the signed-in user together
// with the id of the currently open event stream. It is shared by the REST
// client, the stream and the board, and has an explicit Init/Clear lifecycle.
type Session struct {
	mu       sync.RWMutex
	token    string
	user     domain.Presence
	streamID string
}

func NewSession() *Session {
	return &Session{}
}

// Init stores the bearer token and profile for subsequent calls.
func (s *Session) Init(token string, user domain.Presence) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
	s.user = user
	s.streamID = ""
}

// Clear signs the user out.
func (s *Session) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = ""
	s.user = domain.Presence{}
	s.streamID = ""
}

func (s *Session) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

func (s *Session) User() domain.Presence {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.user
}

// Active reports whether a credential is present.
func (s *Session) Active() bool {
	return s.Token() != ""
}

// StreamID is the server-assigned id of the open event stream, empty while
// disconnected.
func (s *Session) StreamID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.streamID
}

func (s *Session) setStreamID(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.streamID = id
}
