package device

import (
	"net/http"
	"net/http/cookiejar"
	"sync"
)

// SessionStore hands out the cookie jar for one top-level request cycle.
// Begin is called before the first request of a cycle and End after the
// last one, successful or not.
type SessionStore interface {
	Begin() (http.CookieJar, error)
	End(jar http.CookieJar)
}

// DisposableSessions creates a fresh jar for every cycle, so no cookie
// outlives the operation that obtained it. This is the default.
type DisposableSessions struct{}

// Begin returns an empty jar
func (DisposableSessions) Begin() (http.CookieJar, error) {
	return cookiejar.New(nil)
}

// End drops the jar
func (DisposableSessions) End(http.CookieJar) {}

// PersistentSession keeps one jar across cycles so an established session is
// reused until the controller expires it.
type PersistentSession struct {
	mu  sync.Mutex
	jar http.CookieJar
}

// Begin returns the shared jar, creating it on first use
func (s *PersistentSession) Begin() (http.CookieJar, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.jar == nil {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, err
		}
		s.jar = jar
	}
	return s.jar, nil
}

// End keeps the jar for the next cycle
func (s *PersistentSession) End(http.CookieJar) {}

// Reset forgets the stored session
func (s *PersistentSession) Reset() {
	s.mu.Lock()
	s.jar = nil
	s.mu.Unlock()
}

// NewSessionStore returns the store for a configured session mode:
// "persistent" or anything else for disposable.
func NewSessionStore(mode string) SessionStore {
	if mode == "persistent" {
		return &PersistentSession{}
	}
	return DisposableSessions{}
}
