// Package session tracks the signed-in identity and notifies listeners when
// it changes.
package session

import (
	"sync"
)

// Identity is an authenticated user session. SessionID changes on every
// sign-in and on token refreshes that replace the prior session.
type Identity struct {
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`
}

// Source is the read side of an identity provider.
type Source interface {
	// Current returns the signed-in identity, if any.
	Current() (Identity, bool)
	// OnChange registers fn for login, logout and refresh notifications.
	// The returned func unregisters it.
	OnChange(fn func(id Identity, ok bool)) (cancel func())
}

// Store is an in-memory Source that callers drive explicitly.
// Listeners run synchronously on the goroutine that changed the identity,
// outside the store lock.
type Store struct {
	mu        sync.Mutex
	current   Identity
	signedIn  bool
	listeners map[int]func(Identity, bool)
	nextID    int
}

func NewStore() *Store {
	return &Store{listeners: make(map[int]func(Identity, bool))}
}

func (s *Store) Current() (Identity, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current, s.signedIn
}

func (s *Store) OnChange(fn func(Identity, bool)) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.listeners, id)
			s.mu.Unlock()
		})
	}
}

// SignIn replaces the current identity.
func (s *Store) SignIn(id Identity) {
	s.set(id, true)
}

// SignOut clears the current identity.
func (s *Store) SignOut() {
	s.set(Identity{}, false)
}

// Refresh reports the outcome of a token refresh. A refresh that yields no
// session is a logout.
func (s *Store) Refresh(id Identity, ok bool) {
	if !ok {
		s.SignOut()
		return
	}
	s.set(id, true)
}

func (s *Store) set(id Identity, ok bool) {
	s.mu.Lock()
	s.current = id
	s.signedIn = ok
	fns := make([]func(Identity, bool), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(id, ok)
	}
}

var _ Source = (*Store)(nil)
