// Package memory provides an ephemeral, memory-backed implementation of
// storage.CollectionStore. Instances may be safely shared by multiple
// goroutines.
package memory

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"

	"github.com/holdfast-db/holdfast/pkg/logger"
	"github.com/holdfast-db/holdfast/pkg/storage"
)

var tracer = otel.Tracer("holdfast/pkg/storage/memory")

// StoreOption configures a Store instance.
type StoreOption[E comparable] func(*Store[E])

// WithOrderMapping makes the store maintain explicit element order and permit
// duplicates, as a list-valued field requires.
func WithOrderMapping[E comparable](ordered bool) StoreOption[E] {
	return func(s *Store[E]) {
		s.ordered = ordered
	}
}

// WithLogger sets the logger used by the store.
func WithLogger[E comparable](l logger.Logger) StoreOption[E] {
	return func(s *Store[E]) {
		s.logger = l
	}
}

// Store is an in-memory CollectionStore keyed by owner identity. Without an
// order mapping it enforces element uniqueness per owner; with one it keeps
// insertion order and permits duplicates.
type Store[E comparable] struct {
	mu       sync.RWMutex
	elements map[string][]E
	ordered  bool
	logger   logger.Logger
}

var _ storage.CollectionStore[string] = (*Store[string])(nil)

// New creates an empty Store.
func New[E comparable](opts ...StoreOption[E]) *Store[E] {
	s := &Store[E]{
		elements: make(map[string][]E),
		logger:   logger.NewNoopLogger(),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Contains see storage.CollectionStore.
func (s *Store[E]) Contains(ctx context.Context, owner storage.Owner, element E) (bool, error) {
	_, span := tracer.Start(ctx, "memory.Contains")
	defer span.End()

	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, e := range s.elements[owner.ObjectID()] {
		if e == element {
			return true, nil
		}
	}

	return false, nil
}

// Size see storage.CollectionStore.
func (s *Store[E]) Size(ctx context.Context, owner storage.Owner) (int, error) {
	_, span := tracer.Start(ctx, "memory.Size")
	defer span.End()

	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.elements[owner.ObjectID()]), nil
}

// Iterator see storage.CollectionStore. The cursor iterates a snapshot taken
// at call time.
func (s *Store[E]) Iterator(ctx context.Context, owner storage.Owner) (storage.Iterator[E], error) {
	_, span := tracer.Start(ctx, "memory.Iterator")
	defer span.End()

	s.mu.RLock()
	defer s.mu.RUnlock()

	snapshot := make([]E, len(s.elements[owner.ObjectID()]))
	copy(snapshot, s.elements[owner.ObjectID()])

	return storage.NewStaticIterator(snapshot), nil
}

// Add see storage.CollectionStore.
func (s *Store[E]) Add(ctx context.Context, owner storage.Owner, element E, sizeHint int) (bool, error) {
	_, span := tracer.Start(ctx, "memory.Add")
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.add(owner.ObjectID(), element), nil
}

// AddAll see storage.CollectionStore.
func (s *Store[E]) AddAll(ctx context.Context, owner storage.Owner, elements []E, sizeHint int) (bool, error) {
	_, span := tracer.Start(ctx, "memory.AddAll")
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	changed := false
	for _, element := range elements {
		if s.add(owner.ObjectID(), element) {
			changed = true
		}
	}

	return changed, nil
}

// add appends element for key. Unordered stores reject duplicates.
func (s *Store[E]) add(key string, element E) bool {
	if !s.ordered {
		for _, e := range s.elements[key] {
			if e == element {
				return false
			}
		}
	}

	s.elements[key] = append(s.elements[key], element)

	return true
}

// Remove see storage.CollectionStore. Only the first occurrence is deleted.
// The store models no dependent records, so allowCascade has no effect.
func (s *Store[E]) Remove(ctx context.Context, owner storage.Owner, element E, sizeHint int, allowCascade bool) (bool, error) {
	_, span := tracer.Start(ctx, "memory.Remove")
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	key := owner.ObjectID()
	for i, e := range s.elements[key] {
		if e == element {
			s.elements[key] = append(s.elements[key][:i], s.elements[key][i+1:]...)
			return true, nil
		}
	}

	return false, nil
}

// RemoveAll see storage.CollectionStore. Every occurrence of each given
// element is deleted.
func (s *Store[E]) RemoveAll(ctx context.Context, owner storage.Owner, elements []E, sizeHint int) (bool, error) {
	_, span := tracer.Start(ctx, "memory.RemoveAll")
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	doomed := make(map[E]struct{}, len(elements))
	for _, element := range elements {
		doomed[element] = struct{}{}
	}

	key := owner.ObjectID()
	kept := s.elements[key][:0]
	changed := false
	for _, e := range s.elements[key] {
		if _, ok := doomed[e]; ok {
			changed = true
			continue
		}
		kept = append(kept, e)
	}
	s.elements[key] = kept

	return changed, nil
}

// Clear see storage.CollectionStore.
func (s *Store[E]) Clear(ctx context.Context, owner storage.Owner) error {
	_, span := tracer.Start(ctx, "memory.Clear")
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.elements, owner.ObjectID())

	return nil
}

// UpdateEmbeddedElement see storage.CollectionStore. The element is rewritten
// through a JSON round trip with the named field replaced.
func (s *Store[E]) UpdateEmbeddedElement(ctx context.Context, owner storage.Owner, element E, field string, value any) error {
	_, span := tracer.Start(ctx, "memory.UpdateEmbeddedElement")
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	key := owner.ObjectID()
	for i, e := range s.elements[key] {
		if e == element {
			updated, err := storage.RewriteEmbeddedField(e, field, value)
			if err != nil {
				return err
			}

			s.elements[key][i] = updated
			return nil
		}
	}

	return storage.ErrNotFound
}

// HasOrderMapping see storage.CollectionStore.
func (s *Store[E]) HasOrderMapping() bool {
	return s.ordered
}
