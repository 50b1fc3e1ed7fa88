package backed

import (
	"errors"
)

var (
	// ErrNullElement is returned when a nil element is added to a collection
	// that does not admit nulls.
	ErrNullElement = errors.New("null element not allowed")

	// ErrNilArgument is returned when nil is passed where a collection of
	// elements is required.
	ErrNilArgument = errors.New("nil argument")

	// ErrStoreWrite wraps a backing store failure on an addition path. Such
	// failures are never swallowed; the store and cache may disagree until
	// the owner is refreshed.
	ErrStoreWrite = errors.New("backing store write failed")

	// ErrIteratorPosition is returned by Iterator.Remove when there is no
	// current element.
	ErrIteratorPosition = errors.New("iterator has no current element")
)
