// Package formstate holds a live form value and publishes a field-change
// event for every mutation. The validation layer subscribes to those
// events instead of polling the form.
package formstate

import (
	"strings"
	"sync"
)

// WholeForm is the path published when the entire form is replaced.
const WholeForm = "*"

// Event describes one field mutation.
type Event struct {
	Path  string
	Value any
}

// Root returns the top-level key of the event path, e.g. "vitalSigns" for
// "vitalSigns.temperature".
func (e Event) Root() string {
	return RootOf(e.Path)
}

// RootOf returns the first segment of a dotted path.
func RootOf(path string) string {
	if i := strings.IndexByte(path, '.'); i >= 0 {
		return path[:i]
	}
	return path
}

// Listener receives field-change events.
type Listener func(Event)

// Bus is a minimal synchronous event emitter.
type Bus struct {
	mu        sync.RWMutex
	nextID    int
	listeners map[int]Listener
}

// Subscribe registers l and returns a function that removes it. The
// returned function is safe to call more than once.
func (b *Bus) Subscribe(l Listener) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.listeners == nil {
		b.listeners = make(map[int]Listener)
	}
	id := b.nextID
	b.nextID++
	b.listeners[id] = l
	return func() {
		b.mu.Lock()
		delete(b.listeners, id)
		b.mu.Unlock()
	}
}

// Publish delivers e to every listener registered at call time.
func (b *Bus) Publish(e Event) {
	b.mu.RLock()
	ls := make([]Listener, 0, len(b.listeners))
	for id := 0; id < b.nextID; id++ {
		if l, ok := b.listeners[id]; ok {
			ls = append(ls, l)
		}
	}
	b.mu.RUnlock()
	for _, l := range ls {
		l(e)
	}
}

// Len returns the number of active listeners.
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.listeners)
}

// Applier writes value at path into form.
type Applier[F any] func(form *F, path string, value any) error

// Store owns a form value of type F. Mutations go through Set, which applies
// the change and then publishes it.
type Store[F any] struct {
	mu    sync.RWMutex
	form  F
	apply Applier[F]
	clone func(F) F
	bus   Bus
}

// NewStore creates a store seeded with initial. clone must return a deep
// copy so snapshots handed to checkers never alias live state.
func NewStore[F any](initial F, apply Applier[F], clone func(F) F) *Store[F] {
	return &Store[F]{form: initial, apply: apply, clone: clone}
}

// Set applies value at path. Nothing is published when the applier rejects it.
func (s *Store[F]) Set(path string, value any) error {
	s.mu.Lock()
	err := s.apply(&s.form, path, value)
	s.mu.Unlock()
	if err != nil {
		return err
	}
	s.bus.Publish(Event{Path: path, Value: value})
	return nil
}

// Replace swaps the whole form and publishes a WholeForm event.
func (s *Store[F]) Replace(form F) {
	s.mu.Lock()
	s.form = s.clone(form)
	s.mu.Unlock()
	s.bus.Publish(Event{Path: WholeForm})
}

// Snapshot returns a deep copy of the current form.
func (s *Store[F]) Snapshot() F {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.clone(s.form)
}

// Subscribe registers a listener for field changes.
func (s *Store[F]) Subscribe(l Listener) func() {
	return s.bus.Subscribe(l)
}

// Subscribers returns the number of active listeners.
func (s *Store[F]) Subscribers() int {
	return s.bus.Len()
}
