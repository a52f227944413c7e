package tree

import (
	"sync"
	"sync/atomic"

	"github.com/capitalize-ai/repochat/internal/model"
)

// Listener is called with every new snapshot, in commit order. Listeners run
// while the writer lock is held and must not call Store mutations.
type Listener func(*Tree)

// Store owns the live snapshot of one conversation. Readers take snapshots
// without locking; writers are serialized and each mutation is published as
// one new snapshot or not at all.
type Store struct {
	mu        sync.Mutex
	current   atomic.Pointer[Tree]
	version   atomic.Uint64
	listeners []Listener
}

// NewStore creates a store holding an empty tree.
func NewStore() *Store {
	s := &Store{}
	s.current.Store(Empty())
	return s
}

// Subscribe registers a listener for future snapshots.
func (s *Store) Subscribe(l Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, l)
}

// Snapshot returns the current tree.
func (s *Store) Snapshot() *Tree {
	return s.current.Load()
}

// Version counts committed mutations.
func (s *Store) Version() uint64 {
	return s.version.Load()
}

// Load replaces the entire tree. On MALFORMED_HISTORY the store is unchanged.
func (s *Store) Load(msgs []model.Message) error {
	return s.apply(func(*Tree) (*Tree, error) {
		return Build(msgs)
	})
}

// AppendPair optimistically inserts a user message under the active leaf and
// the assistant placeholder under it. It returns the user message's parent id.
func (s *Store) AppendPair(user, assistant model.Message) (*string, error) {
	var parent *string
	err := s.apply(func(t *Tree) (*Tree, error) {
		next, p, err := t.WithPair(user, assistant)
		parent = p
		return next, err
	})
	return parent, err
}

// AppendDelta concatenates fragment onto the content of id.
func (s *Store) AppendDelta(id, fragment string) error {
	return s.apply(func(t *Tree) (*Tree, error) {
		return t.WithDelta(id, fragment)
	})
}

// ReconcileID renames tmp to final together with every child reference.
func (s *Store) ReconcileID(tmp, final string) error {
	return s.apply(func(t *Tree) (*Tree, error) {
		return t.WithReconciledID(tmp, final)
	})
}

// SetStatus updates the status of id.
func (s *Store) SetStatus(id string, status model.Status) error {
	return s.apply(func(t *Tree) (*Tree, error) {
		return t.WithStatus(id, status)
	})
}

// ActivePath returns the active path of the current snapshot.
func (s *Store) ActivePath() []model.Message {
	return s.Snapshot().ActivePath()
}

// Get returns a message from the current snapshot.
func (s *Store) Get(id string) (model.Message, bool) {
	return s.Snapshot().Get(id)
}

func (s *Store) apply(op func(*Tree) (*Tree, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.current.Load()
	next, err := op(prev)
	if err != nil {
		return err
	}
	if next == prev {
		return nil
	}

	s.current.Store(next)
	s.version.Add(1)
	for _, l := range s.listeners {
		l(next)
	}
	return nil
}
