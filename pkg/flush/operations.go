// Package flush defines deferred store operations. A queued operation records
// the intent to mutate a backing store so the owning execution context can
// replay it later, in enqueue order, relative to other pending writes in the
// same unit of work.
package flush

import (
	"context"
	"fmt"

	"github.com/holdfast-db/holdfast/pkg/storage"
)

// Operation is a recorded store mutation replayed at flush time.
type Operation interface {
	// Perform replays the operation against its backing store.
	Perform(ctx context.Context) error

	fmt.Stringer
}

// CollectionAddOperation adds one element to a collection field at flush time.
type CollectionAddOperation[E comparable] struct {
	owner   storage.Owner
	store   storage.CollectionStore[E]
	element E
}

var _ Operation = (*CollectionAddOperation[string])(nil)

// NewCollectionAddOperation records the addition of element for owner.
func NewCollectionAddOperation[E comparable](owner storage.Owner, store storage.CollectionStore[E], element E) *CollectionAddOperation[E] {
	return &CollectionAddOperation[E]{owner: owner, store: store, element: element}
}

// Element returns the element carried by this operation.
func (op *CollectionAddOperation[E]) Element() E {
	return op.element
}

func (op *CollectionAddOperation[E]) Perform(ctx context.Context) error {
	_, err := op.store.Add(ctx, op.owner, op.element, storage.NoSizeHint)
	return err
}

func (op *CollectionAddOperation[E]) String() string {
	return fmt.Sprintf("COLLECTION ADD : owner=%s element=%v", op.owner.ObjectID(), op.element)
}

// CollectionRemoveOperation removes one element from a collection field at
// flush time.
type CollectionRemoveOperation[E comparable] struct {
	owner        storage.Owner
	store        storage.CollectionStore[E]
	element      E
	allowCascade bool
}

var _ Operation = (*CollectionRemoveOperation[string])(nil)

// NewCollectionRemoveOperation records the removal of element for owner.
// allowCascade is carried through to the store's Remove.
func NewCollectionRemoveOperation[E comparable](owner storage.Owner, store storage.CollectionStore[E], element E, allowCascade bool) *CollectionRemoveOperation[E] {
	return &CollectionRemoveOperation[E]{owner: owner, store: store, element: element, allowCascade: allowCascade}
}

// Element returns the element carried by this operation.
func (op *CollectionRemoveOperation[E]) Element() E {
	return op.element
}

func (op *CollectionRemoveOperation[E]) Perform(ctx context.Context) error {
	_, err := op.store.Remove(ctx, op.owner, op.element, storage.NoSizeHint, op.allowCascade)
	return err
}

func (op *CollectionRemoveOperation[E]) String() string {
	return fmt.Sprintf("COLLECTION REMOVE : owner=%s element=%v", op.owner.ObjectID(), op.element)
}

// CollectionClearOperation empties a collection field at flush time.
type CollectionClearOperation[E comparable] struct {
	owner storage.Owner
	store storage.CollectionStore[E]
}

var _ Operation = (*CollectionClearOperation[string])(nil)

// NewCollectionClearOperation records the clearing of owner's collection.
func NewCollectionClearOperation[E comparable](owner storage.Owner, store storage.CollectionStore[E]) *CollectionClearOperation[E] {
	return &CollectionClearOperation[E]{owner: owner, store: store}
}

func (op *CollectionClearOperation[E]) Perform(ctx context.Context) error {
	return op.store.Clear(ctx, op.owner)
}

func (op *CollectionClearOperation[E]) String() string {
	return fmt.Sprintf("COLLECTION CLEAR : owner=%s", op.owner.ObjectID())
}
