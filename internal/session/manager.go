package session

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
)

// Manager keeps one open session per enrollment.
type Manager struct {
	cfg Config

	mu       sync.Mutex
	sessions map[string]*Session
	pending  map[string]*opening
	closed   bool
}

// opening tracks an Open in progress so concurrent callers share its result.
type opening struct {
	done    chan struct{}
	session *Session
	err     error
}

// NewManager creates a manager opening sessions with cfg.
func NewManager(cfg Config) *Manager {
	return &Manager{
		cfg:      cfg,
		sessions: make(map[string]*Session),
		pending:  make(map[string]*opening),
	}
}

// Open returns the session of enrollmentID, opening it if needed.
func (m *Manager) Open(ctx context.Context, enrollmentID string) (*Session, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, fmt.Errorf("session manager closed")
	}
	if s, ok := m.sessions[enrollmentID]; ok {
		m.mu.Unlock()
		return s, nil
	}
	if op, ok := m.pending[enrollmentID]; ok {
		m.mu.Unlock()
		select {
		case <-op.done:
			return op.session, op.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	op := &opening{done: make(chan struct{})}
	m.pending[enrollmentID] = op
	m.mu.Unlock()

	op.session, op.err = Open(ctx, m.cfg, enrollmentID)

	m.mu.Lock()
	delete(m.pending, enrollmentID)
	if op.err == nil {
		if m.closed {
			m.mu.Unlock()
			op.session.Close()
			op.session, op.err = nil, fmt.Errorf("session manager closed")
			close(op.done)
			return nil, op.err
		}
		m.sessions[enrollmentID] = op.session
	}
	m.mu.Unlock()
	close(op.done)
	return op.session, op.err
}

// Get returns the open session of enrollmentID.
func (m *Manager) Get(enrollmentID string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[enrollmentID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEnrollment, enrollmentID)
	}
	return s, nil
}

// Close closes the session of enrollmentID, if open.
func (m *Manager) Close(enrollmentID string) bool {
	m.mu.Lock()
	s, ok := m.sessions[enrollmentID]
	delete(m.sessions, enrollmentID)
	m.mu.Unlock()

	if ok {
		s.Close()
	}
	return ok
}

// Enrollments returns the ids of open sessions in sorted order.
func (m *Manager) Enrollments() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// CloseAll closes every session and refuses new ones.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	m.closed = true
	sessions := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, s := range sessions {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Close()
		}()
	}
	wg.Wait()
	slog.Info("all sessions closed", "count", len(sessions))
}
