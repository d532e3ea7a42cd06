package relay

import "sync"

// Session holds the bearer token for one client. It is injected into the
// pieces that need it rather than living as an ambient global, so tests can
// run isolated sessions side by side.
//
// The token is written only by Login, Logout and the expiry interceptor; all
// other components read it through Token.
type Session struct {
	mu        sync.RWMutex
	token     string
	onExpired []func()
}

// NewSession returns an empty session. An optional initial token may be
// supplied for hosts that persist tokens between runs.
func NewSession(token string) *Session {
	return &Session{token: token}
}

// Login stores a token, replacing any previous one.
func (s *Session) Login(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
}

// Logout clears the token without firing expiry callbacks.
func (s *Session) Logout() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = ""
}

// Token returns the current token and whether one is set.
func (s *Session) Token() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.token, s.token != ""
}

// OnExpired registers a callback fired when the session is invalidated by an
// unauthorized response. The host reacts (redirect, prompt, ...); the client
// performs no navigation itself.
func (s *Session) OnExpired(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onExpired = append(s.onExpired, fn)
}

// expire clears the token and fires callbacks. It is a no-op when no token is
// set, so a burst of 401 responses notifies the host exactly once.
func (s *Session) expire() {
	s.mu.Lock()

	if s.token == "" {
		s.mu.Unlock()

		return
	}

	s.token = ""
	callbacks := make([]func(), len(s.onExpired))
	copy(callbacks, s.onExpired)
	s.mu.Unlock()

	// Callbacks run outside the lock so they may call back into the session.
	for _, fn := range callbacks {
		fn()
	}
}
