// Package store persists the authenticated session (bearer credential and
// user identity) across restarts. Everything else the SDK holds is memory
// only and rebuilt from the REST API.
package store

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/vovakirdan/alumnet-sdk-go/alumnet/rest"
)

// ErrNoSession is returned by Load when nothing has been saved.
var ErrNoSession = errors.New("store: no saved session")

// Session is the persisted login state.
type Session struct {
	Token   string
	User    rest.User
	SavedAt time.Time
}

// Store keeps at most one session.
type Store interface {
	Load(ctx context.Context) (*Session, error)
	Save(ctx context.Context, s Session) error
	Clear(ctx context.Context) error
	Close() error
}

// MemoryStore is a Store that forgets everything on exit.
type MemoryStore struct {
	mu      sync.Mutex
	session *Session
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) Load(context.Context) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return nil, ErrNoSession
	}
	s := *m.session
	return &s, nil
}

func (m *MemoryStore) Save(_ context.Context, s Session) error {
	if s.SavedAt.IsZero() {
		s.SavedAt = time.Now()
	}
	m.mu.Lock()
	m.session = &s
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Clear(context.Context) error {
	m.mu.Lock()
	m.session = nil
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Close() error { return nil }
