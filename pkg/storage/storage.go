// Package storage contains the backing store port consumed by backed
// collections, plus shared iterator and error definitions.
package storage

import (
	"context"
)

// NoSizeHint is passed to store writes when the caller has no view of the
// current collection size (pass-through mode).
const NoSizeHint = -1

// Owner identifies the owning entity instance of a backed field. Stores scope
// every read and write to one owner.
type Owner interface {
	// ObjectID returns the durable identity of the owning entity.
	ObjectID() string
}

// CollectionStore is the port onto the persistent store for a single
// collection-valued field. Implementations persist elements for many owners of
// the same field; every call is scoped to one owner.
//
// sizeHint carries the caller's view of the collection size before the write,
// or NoSizeHint when unknown. Stores may use it to place ordered elements
// without an extra count query.
type CollectionStore[E comparable] interface {
	// Contains reports whether element is persisted for owner.
	Contains(ctx context.Context, owner Owner, element E) (bool, error)

	// Size returns the number of elements persisted for owner.
	Size(ctx context.Context, owner Owner) (int, error)

	// Iterator opens a cursor over owner's elements. When HasOrderMapping
	// reports true the cursor yields elements in stored order. The caller must
	// drain the cursor or call Stop.
	Iterator(ctx context.Context, owner Owner) (Iterator[E], error)

	// Add persists one element. The returned bool reports whether the store
	// changed.
	Add(ctx context.Context, owner Owner, element E, sizeHint int) (bool, error)

	// AddAll persists a batch of elements in slice order.
	AddAll(ctx context.Context, owner Owner, elements []E, sizeHint int) (bool, error)

	// Remove deletes one occurrence of element. allowCascade permits the store
	// to cascade the delete to dependent records where it models any.
	Remove(ctx context.Context, owner Owner, element E, sizeHint int, allowCascade bool) (bool, error)

	// RemoveAll deletes every occurrence of each given element.
	RemoveAll(ctx context.Context, owner Owner, elements []E, sizeHint int) (bool, error)

	// Clear deletes all of owner's elements.
	Clear(ctx context.Context, owner Owner) error

	// UpdateEmbeddedElement rewrites a single named field of a persisted
	// embedded element in place. Returns ErrNotFound when the element is not
	// persisted for owner.
	UpdateEmbeddedElement(ctx context.Context, owner Owner, element E, field string, value any) error

	// HasOrderMapping reports whether the store maintains an explicit element
	// order for this field.
	HasOrderMapping() bool
}
