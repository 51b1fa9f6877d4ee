package progress

import (
	"log/slog"
	"sync"
)

// Subscriber is notified after every dispatched action with the resulting
// state. Subscribers run while the store is locked and must not dispatch.
type Subscriber func(s State, a Action)

// Store serializes the application of actions to a State.
type Store struct {
	mu          sync.Mutex
	state       State
	subscribers map[int]Subscriber
	nextSubID   int
}

// NewStore creates a store holding initial.
func NewStore(initial State) *Store {
	return &Store{
		state:       initial,
		subscribers: make(map[int]Subscriber),
	}
}

// Dispatch applies a to the current state. It returns false when the action
// was discarded. Subscribers are also notified for a discarded completion that
// settles the latest request of its operation.
func (s *Store) Dispatch(a Action) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	settles := settlesLatest(s.state, a)
	next, applied := Apply(s.state, a)
	s.state = next
	if !applied {
		attrs := []any{"action", a.Name()}
		if ra, ok := a.(RemoteAction); ok {
			attrs = append(attrs,
				"topic_key", ra.OpKey().Key.String(),
				"phase", ra.Result().Phase.String(),
				"seq", ra.Result().Seq,
			)
		}
		slog.Debug("action discarded", attrs...)
		if settles {
			s.notify(next, a)
		}
		return false
	}

	s.notify(next, a)
	return true
}

func (s *Store) notify(next State, a Action) {
	for _, fn := range s.subscribers {
		fn(next, a)
	}
}

// settlesLatest reports whether a is the completion of the latest request
// issued for its operation and topic.
func settlesLatest(s State, a Action) bool {
	ra, ok := a.(RemoteAction)
	if !ok || ra.Result().Phase == Requested {
		return false
	}
	seq, ok := s.InFlight[ra.OpKey()]
	return ok && seq == ra.Result().Seq
}

// State returns the current state. The returned value must be treated as
// read-only.
func (s *Store) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Subscribe registers fn and returns a function that removes it.
func (s *Store) Subscribe(fn Subscriber) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextSubID
	s.nextSubID++
	s.subscribers[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subscribers, id)
	}
}
