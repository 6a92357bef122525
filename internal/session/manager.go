package session

import (
	"context"
	"sync"

	"github.com/zapbuilder/zapbuild/internal/errors"
	"github.com/zapbuilder/zapbuild/internal/runtime"
)

// Manager runs sessions one at a time against a shared runtime. Starting
// a session aborts the previous one, which resets the runtime.
type Manager struct {
	mu      sync.Mutex
	rt      runtime.Adapter
	opts    Options
	current *Session
}

// NewManager returns a manager whose sessions use opts and execute on rt.
// The ID in opts is ignored; every session gets its own.
func NewManager(rt runtime.Adapter, opts Options) *Manager {
	opts.ID = ""
	return &Manager{rt: rt, opts: opts}
}

// Start aborts the current session, if any, and starts a new one with the
// runtime already attached.
func (m *Manager) Start(ctx context.Context) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current != nil {
		if err := m.current.Abort(ctx, "superseded by a new session"); err != nil {
			return nil, err
		}
		m.current = nil
	}

	s, err := New(m.opts)
	if err != nil {
		return nil, err
	}
	s.AttachRuntime(m.rt)
	m.current = s
	return s, nil
}

// Current returns the most recently started session.
func (m *Manager) Current() (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return nil, errors.ErrSessionNotStarted
	}
	return m.current, nil
}

// Close aborts the current session.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return nil
	}
	err := m.current.Abort(ctx, "manager closed")
	m.current = nil
	return err
}
