package session

import (
	"errors"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/comigor/seijitalk-go/internal/chat"
	"github.com/comigor/seijitalk-go/internal/logger"
	"github.com/comigor/seijitalk-go/internal/resolver"
)

// ErrNotFound is returned for an unknown or discarded session id.
var ErrNotFound = errors.New("session not found")

// Registry tracks the live sessions of a process. When full, the least
// recently used session is evicted and closed.
type Registry struct {
	resolver resolver.Resolver
	sessions *lru.Cache[string, *Session]
}

// NewRegistry creates a registry holding at most max sessions.
func NewRegistry(r resolver.Resolver, max int) (*Registry, error) {
	cache, err := lru.NewWithEvict[string, *Session](max, func(id string, s *Session) {
		logger.L.Info("session discarded", "session_id", id)
		s.Close()
	})
	if err != nil {
		return nil, err
	}
	return &Registry{resolver: r, sessions: cache}, nil
}

// Create starts a new session.
func (r *Registry) Create(opts ...Option) *Session {
	s := New(chat.NewID(), r.resolver, opts...)
	r.sessions.Add(s.ID(), s)
	logger.L.Info("session created", "session_id", s.ID(), "live", r.sessions.Len())
	return s
}

// Get looks a session up and marks it as recently used.
func (r *Registry) Get(id string) (*Session, error) {
	s, ok := r.sessions.Get(id)
	if !ok {
		return nil, ErrNotFound
	}
	return s, nil
}

// Delete discards a session.
func (r *Registry) Delete(id string) error {
	s, ok := r.sessions.Peek(id)
	if !ok {
		return ErrNotFound
	}
	r.sessions.Remove(id)
	s.Close()
	return nil
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	return r.sessions.Len()
}

// Close discards every session.
func (r *Registry) Close() {
	for _, id := range r.sessions.Keys() {
		if s, ok := r.sessions.Peek(id); ok {
			s.Close()
		}
	}
	r.sessions.Purge()
}
