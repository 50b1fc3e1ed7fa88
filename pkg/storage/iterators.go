package storage

import (
	"context"
	"errors"
)

// ErrIteratorDone is returned by Iterator.Next when iteration is exhausted.
var ErrIteratorDone = errors.New("iterator done")

// Iterator is a cursor over elements yielded by a store. It is closed by
// explicitly calling Stop or by calling Next until it returns ErrIteratorDone.
type Iterator[T any] interface {
	// Next returns the next available element. If the context is cancelled it
	// returns the context error; when exhausted it returns ErrIteratorDone.
	Next(ctx context.Context) (T, error)

	// Stop terminates iteration and releases underlying resources.
	Stop()
}

type staticIterator[T any] struct {
	items []T
}

func (s *staticIterator[T]) Next(ctx context.Context) (T, error) {
	var val T
	if err := ctx.Err(); err != nil {
		return val, err
	}

	if len(s.items) == 0 {
		return val, ErrIteratorDone
	}

	next, rest := s.items[0], s.items[1:]
	s.items = rest

	return next, nil
}

func (s *staticIterator[T]) Stop() {}

// NewStaticIterator returns an Iterator that yields the provided slice in
// order. The slice is not copied; callers must not mutate it afterwards.
func NewStaticIterator[T any](items []T) Iterator[T] {
	return &staticIterator[T]{items: items}
}

// Collect drains an iterator into a slice, stopping it afterwards.
func Collect[T any](ctx context.Context, iter Iterator[T]) ([]T, error) {
	defer iter.Stop()

	var items []T
	for {
		item, err := iter.Next(ctx)
		if err != nil {
			if errors.Is(err, ErrIteratorDone) {
				return items, nil
			}

			return nil, err
		}

		items = append(items, item)
	}
}
