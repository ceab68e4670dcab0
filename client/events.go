package client

import (
	"context"
	"sync"

	evbus "github.com/vardius/message-bus"
)

// AuthEvent names an identity provider session transition
type AuthEvent string

const (
	EventSignedIn       AuthEvent = "SIGNED_IN"
	EventTokenRefreshed AuthEvent = "TOKEN_REFRESHED"
	EventSignedOut      AuthEvent = "SIGNED_OUT"
)

const topicAuthStateChanged = "auth:state_changed"

// SessionUser is the part of the provider's user object the guard needs
type SessionUser struct {
	Email         string
	EmailVerified bool
}

// Session is the identity provider's current session
type Session struct {
	AccessToken string
	User        SessionUser
}

// AuthStateChange is published on every session transition. Session is nil
// for EventSignedOut.
type AuthStateChange struct {
	Event   AuthEvent
	Session *Session
}

// AuthEvents delivers session transitions to subscribers asynchronously.
// Each subscriber receives events in publish order.
type AuthEvents struct {
	bus evbus.MessageBus
}

// NewAuthEvents creates a bus; queueSize bounds the backlog per subscriber
func NewAuthEvents(queueSize int) *AuthEvents {
	return &AuthEvents{bus: evbus.New(queueSize)}
}

// Publish sends a transition to every subscriber
func (e *AuthEvents) Publish(change AuthStateChange) {
	e.bus.Publish(topicAuthStateChanged, change)
}

// Subscribe registers fn for every subsequent transition
func (e *AuthEvents) Subscribe(fn func(AuthStateChange)) error {
	return e.bus.Subscribe(topicAuthStateChanged, fn)
}

// Close stops delivery to all subscribers
func (e *AuthEvents) Close() {
	e.bus.Close(topicAuthStateChanged)
}

// SessionTracker keeps the latest session pushed through AuthEvents. It is
// the SessionProvider used when the provider SDK only offers callbacks.
type SessionTracker struct {
	mu      sync.RWMutex
	session *Session
}

// NewSessionTracker subscribes a tracker to events
func NewSessionTracker(events *AuthEvents) (*SessionTracker, error) {
	t := &SessionTracker{}
	if err := events.Subscribe(t.handleAuthStateChange); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *SessionTracker) handleAuthStateChange(change AuthStateChange) {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch change.Event {
	case EventSignedIn, EventTokenRefreshed:
		if change.Session != nil {
			s := *change.Session
			t.session = &s
		}
	case EventSignedOut:
		t.session = nil
	}
}

// CurrentSession returns a copy of the current session, or nil when signed out
func (t *SessionTracker) CurrentSession(_ context.Context) (*Session, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.session == nil {
		return nil, nil
	}
	s := *t.session
	return &s, nil
}
