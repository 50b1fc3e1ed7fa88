package backed

import (
	"context"

	"github.com/holdfast-db/holdfast/pkg/storage"
)

// Iterator is a cursor over a backed collection that stays consistent with
// the backing store. In cached mode it walks a snapshot of the loaded
// delegate; in pass-through mode it streams elements from the store cursor.
// Remove deletes the current element through the full mutation pipeline, so
// delegate and store stay in lockstep even when the cache is not loaded.
type Iterator[E comparable] struct {
	coll *Collection[E]

	// snapshot iteration (cached mode, or no store)
	items []E
	pos   int

	// streaming iteration (pass-through mode with a store)
	storeIter storage.Iterator[E]

	current    E
	hasCurrent bool
}

// newIterator builds the cursor for the collection's current mode. In cached
// mode the caller has already forced a load.
func newIterator[E comparable](ctx context.Context, c *Collection[E]) (*Iterator[E], error) {
	if c.store != nil && !c.useCache {
		storeIter, err := c.store.Iterator(ctx, c.sm)
		if err != nil {
			return nil, err
		}

		return &Iterator[E]{coll: c, storeIter: storeIter}, nil
	}

	return &Iterator[E]{coll: c, items: c.delegate.values()}, nil
}

// Next returns the next element, or storage.ErrIteratorDone when exhausted.
func (it *Iterator[E]) Next(ctx context.Context) (E, error) {
	var zero E

	if it.storeIter != nil {
		element, err := it.storeIter.Next(ctx)
		if err != nil {
			it.hasCurrent = false
			return zero, err
		}

		it.current = element
		it.hasCurrent = true
		return element, nil
	}

	if err := ctx.Err(); err != nil {
		return zero, err
	}

	if it.pos >= len(it.items) {
		it.hasCurrent = false
		return zero, storage.ErrIteratorDone
	}

	it.current = it.items[it.pos]
	it.pos++
	it.hasCurrent = true

	return it.current, nil
}

// Stop releases the underlying store cursor, if any.
func (it *Iterator[E]) Stop() {
	if it.storeIter != nil {
		it.storeIter.Stop()
	}
}

// Remove deletes the element last returned by Next from the collection,
// including the backing store when one is present. Calling Remove before
// Next, or twice for the same element, returns ErrIteratorPosition.
func (it *Iterator[E]) Remove(ctx context.Context) error {
	if !it.hasCurrent {
		return ErrIteratorPosition
	}

	if _, err := it.coll.remove(ctx, it.current, true, directWrite); err != nil {
		return err
	}

	it.hasCurrent = false

	return nil
}
