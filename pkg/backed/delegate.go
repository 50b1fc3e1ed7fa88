package backed

import (
	"github.com/emirpasic/gods/lists/arraylist"
	"github.com/emirpasic/gods/sets/hashset"
)

// delegate is the capability surface the mutation pipeline needs from the
// in-memory mirror, independent of the ordered/unordered variant. The variant
// is chosen once at construction and only ever upgraded from set to list.
type delegate[E comparable] interface {
	add(element E) bool
	remove(element E) bool
	contains(element E) bool
	values() []E
	size() int
	clear()
	ordered() bool
}

// listDelegate mirrors an ordered field. Duplicates are permitted and
// insertion order is preserved.
type listDelegate[E comparable] struct {
	inner *arraylist.List
}

var _ delegate[string] = (*listDelegate[string])(nil)

func newListDelegate[E comparable]() *listDelegate[E] {
	return &listDelegate[E]{inner: arraylist.New()}
}

func (d *listDelegate[E]) add(element E) bool {
	d.inner.Add(element)
	return true
}

func (d *listDelegate[E]) remove(element E) bool {
	idx := d.inner.IndexOf(element)
	if idx < 0 {
		return false
	}

	d.inner.Remove(idx)
	return true
}

func (d *listDelegate[E]) contains(element E) bool {
	return d.inner.Contains(element)
}

func (d *listDelegate[E]) values() []E {
	raw := d.inner.Values()
	out := make([]E, 0, len(raw))
	for _, v := range raw {
		out = append(out, v.(E))
	}
	return out
}

func (d *listDelegate[E]) size() int {
	return d.inner.Size()
}

func (d *listDelegate[E]) clear() {
	d.inner.Clear()
}

func (d *listDelegate[E]) ordered() bool {
	return true
}

// setDelegate mirrors an unordered field. Elements are unique and traversal
// order is unspecified.
type setDelegate[E comparable] struct {
	inner *hashset.Set
}

var _ delegate[string] = (*setDelegate[string])(nil)

func newSetDelegate[E comparable]() *setDelegate[E] {
	return &setDelegate[E]{inner: hashset.New()}
}

func (d *setDelegate[E]) add(element E) bool {
	if d.inner.Contains(element) {
		return false
	}

	d.inner.Add(element)
	return true
}

func (d *setDelegate[E]) remove(element E) bool {
	if !d.inner.Contains(element) {
		return false
	}

	d.inner.Remove(element)
	return true
}

func (d *setDelegate[E]) contains(element E) bool {
	return d.inner.Contains(element)
}

func (d *setDelegate[E]) values() []E {
	raw := d.inner.Values()
	out := make([]E, 0, len(raw))
	for _, v := range raw {
		out = append(out, v.(E))
	}
	return out
}

func (d *setDelegate[E]) size() int {
	return d.inner.Size()
}

func (d *setDelegate[E]) clear() {
	d.inner.Clear()
}

func (d *setDelegate[E]) ordered() bool {
	return false
}
