// Package backed provides a mutable collection that mirrors a persistent
// backing store.
//
// The collection operates in one of two modes. In cached mode the in-memory
// delegate is lazily populated from the store on first need and queries are
// answered from it thereafter. In pass-through mode every query goes straight
// to the store. Mutations always reach both the delegate and, when one is
// present, the store, either immediately or as deferred operations replayed
// at flush time by the execution context.
//
// A collection is confined to one logical unit of work at a time and performs
// no internal locking.
package backed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/cespare/xxhash/v2"
	"go.uber.org/zap"

	"github.com/holdfast-db/holdfast/pkg/flush"
	"github.com/holdfast-db/holdfast/pkg/logger"
	"github.com/holdfast-db/holdfast/pkg/storage"
)

// writeMode distinguishes a caller mutation from one performed while bulk
// re-initialising the collection from an external value. Bulk replacement
// suppresses relationship notifications, since those adds and removes are
// really one "replace".
type writeMode struct {
	bulkReplace bool
}

var (
	directWrite      = writeMode{}
	bulkReplaceWrite = writeMode{bulkReplace: true}
)

// readSource identifies where a query is answered from at this moment.
type readSource int

const (
	srcDelegate readSource = iota
	srcStore
)

// Option configures a Collection at construction.
type Option[E comparable] func(*Collection[E])

// WithLogger sets the logger used by the collection.
func WithLogger[E comparable](l logger.Logger) Option[E] {
	return func(c *Collection[E]) {
		c.logger = l
	}
}

// Collection is a mutable collection backed by a persistent store.
type Collection[E comparable] struct {
	sm    StateManager
	field *Field
	store storage.CollectionStore[E]

	delegate delegate[E]
	logger   logger.Logger

	allowNulls  bool
	useCache    bool
	cacheLoaded bool
}

// New wraps the given field of the owner described by sm. The store is kept
// only when the field is persistent and not serialized as a blob; otherwise
// the collection is a plain in-memory mirror.
//
// The delegate variant is fixed here: a store with an order mapping gets an
// ordered, duplicate-permitting delegate, anything else a unique unordered
// one.
func New[E comparable](sm StateManager, field *Field, store storage.CollectionStore[E], opts ...Option[E]) *Collection[E] {
	c := &Collection[E]{
		sm:     sm,
		field:  field,
		logger: logger.NewNoopLogger(),
	}

	if field.usesBackingStore() && store != nil && sm != nil {
		c.store = store
	}

	c.allowNulls = field.AllowNulls
	c.useCache = !field.DisableCache
	if ec := c.execContext(); ec != nil {
		c.useCache = ec.CollectionCachingEnabled() && !field.DisableCache
	}

	if c.store != nil && c.store.HasOrderMapping() {
		c.delegate = newListDelegate[E]()
	} else {
		c.delegate = newSetDelegate[E]()
	}

	for _, opt := range opts {
		opt(c)
	}

	c.logger.Debug("wrapped collection field",
		zap.String("field", field.Name),
		zap.Bool("useCache", c.useCache),
		zap.Bool("allowNulls", c.allowNulls),
		zap.Bool("backed", c.store != nil))

	return c
}

func (c *Collection[E]) execContext() ExecutionContext {
	if c.sm == nil {
		return nil
	}
	return c.sm.ExecutionContext()
}

// relationshipManager returns the manager to notify for the given mode, or
// nil when no notification is due.
func (c *Collection[E]) relationshipManager(mode writeMode) RelationshipManager {
	if mode.bulkReplace {
		return nil
	}
	ec := c.execContext()
	if ec == nil || !ec.ManagesRelationships() {
		return nil
	}
	return ec.RelationshipManager(c.sm)
}

func (c *Collection[E]) makeDirty() {
	if c.sm != nil {
		c.sm.MakeDirty(c.field.Name)
	}
}

// nontransactionalUpdate makes the mutation durable right away when no
// transaction is open.
func (c *Collection[E]) nontransactionalUpdate(ctx context.Context) error {
	ec := c.execContext()
	if ec == nil || ec.TransactionActive() {
		return nil
	}
	return ec.ProcessNontransactionalUpdate(ctx)
}

// storeSizeHint is the size hint passed to store writes: the delegate size in
// cached mode, unknown otherwise.
func (c *Collection[E]) storeSizeHint() int {
	if c.useCache {
		return c.delegate.size()
	}
	return storage.NoSizeHint
}

// currentSource is the single place deciding whether queries consult the
// delegate or the store.
func (c *Collection[E]) currentSource() readSource {
	if c.useCache && c.cacheLoaded {
		return srcDelegate
	}
	if c.store != nil {
		return srcStore
	}
	return srcDelegate
}

// Load populates the delegate from the backing store now. It is effective
// only in cached mode.
func (c *Collection[E]) Load(ctx context.Context) error {
	if !c.useCache {
		return nil
	}
	return c.loadFromStore(ctx)
}

// IsLoaded reports whether the cached contents are loaded. Pass-through
// collections have no persistent notion of "loaded" and always report false.
func (c *Collection[E]) IsLoaded() bool {
	if !c.useCache {
		return false
	}
	return c.cacheLoaded
}

// loadFromStore loads the delegate from the backing store, once. For a
// bidirectional one-to-many field each loaded element gets its reverse
// reference back-filled with the owner identity, unless that field already
// holds a loaded value. A cursor failure mid-load leaves the collection in
// the "not loaded" state; the next access retries.
func (c *Collection[E]) loadFromStore(ctx context.Context) error {
	if c.store == nil || c.cacheLoaded {
		return nil
	}

	c.logger.Debug("loading collection from backing store",
		zap.String("field", c.field.Name),
		zap.String("owner", c.sm.ObjectID()))

	c.delegate.clear()

	relatedField := ""
	if c.field.Relation == RelationOneToManyBi {
		relatedField = c.field.RelatedField
	}

	iter, err := c.store.Iterator(ctx, c.sm)
	if err != nil {
		return err
	}
	defer iter.Stop()

	ec := c.execContext()
	for {
		element, err := iter.Next(ctx)
		if err != nil {
			if errors.Is(err, storage.ErrIteratorDone) {
				break
			}
			return err
		}

		if relatedField != "" && ec != nil {
			if elemSM := ec.FindStateManager(element); elemSM != nil && !elemSM.IsFieldLoaded(relatedField) {
				elemSM.StoreFieldValue(relatedField, c.sm.ObjectID())
			}
		}

		c.delegate.add(element)
	}

	c.cacheLoaded = true

	return nil
}

// BackingStore returns the store port, or nil for a plain mirror.
func (c *Collection[E]) BackingStore() storage.CollectionStore[E] {
	return c.store
}

// UnsetOwner detaches the collection from its owner. The backing store
// reference is dropped permanently; the collection degrades to a plain
// in-memory mirror of whatever the delegate held.
func (c *Collection[E]) UnsetOwner() {
	c.sm = nil
	c.store = nil
}

// UpdateEmbeddedElement rewrites one field of an embedded element directly in
// the backing store.
func (c *Collection[E]) UpdateEmbeddedElement(ctx context.Context, element E, field string, value any, markDirty bool) error {
	if c.store == nil {
		return nil
	}

	if err := c.store.UpdateEmbeddedElement(ctx, c.sm, element, field, value); err != nil {
		return err
	}

	if markDirty {
		c.makeDirty()
	}

	return nil
}

// Contains reports element membership from the current source of truth.
func (c *Collection[E]) Contains(ctx context.Context, element E) (bool, error) {
	if c.currentSource() == srcStore {
		return c.store.Contains(ctx, c.sm, element)
	}
	return c.delegate.contains(element), nil
}

// ContainsAll reports whether every given element is a member.
func (c *Collection[E]) ContainsAll(ctx context.Context, elements []E) (bool, error) {
	if c.useCache {
		if err := c.loadFromStore(ctx); err != nil {
			return false, err
		}
	} else if c.store != nil {
		// Single pass over the store cursor instead of one lookup per element.
		missing := make(map[E]struct{}, len(elements))
		for _, e := range elements {
			missing[e] = struct{}{}
		}

		iter, err := c.Iterator(ctx)
		if err != nil {
			return false, err
		}
		defer iter.Stop()

		for len(missing) > 0 {
			e, err := iter.Next(ctx)
			if err != nil {
				if errors.Is(err, storage.ErrIteratorDone) {
					break
				}
				return false, err
			}
			delete(missing, e)
		}

		return len(missing) == 0, nil
	}

	for _, e := range elements {
		if !c.delegate.contains(e) {
			return false, nil
		}
	}

	return true, nil
}

// Size returns the element count from the current source of truth.
func (c *Collection[E]) Size(ctx context.Context) (int, error) {
	if c.currentSource() == srcStore {
		return c.store.Size(ctx, c.sm)
	}
	return c.delegate.size(), nil
}

// IsEmpty reports whether the collection has no elements.
func (c *Collection[E]) IsEmpty(ctx context.Context) (bool, error) {
	size, err := c.Size(ctx)
	if err != nil {
		return false, err
	}
	return size == 0, nil
}

// Values returns a copy of the current elements. In cached mode the delegate
// is loaded first; in pass-through mode the store is read directly.
func (c *Collection[E]) Values(ctx context.Context) ([]E, error) {
	if c.useCache {
		if err := c.loadFromStore(ctx); err != nil {
			return nil, err
		}
	} else if c.store != nil {
		iter, err := c.store.Iterator(ctx, c.sm)
		if err != nil {
			return nil, err
		}
		return storage.Collect(ctx, iter)
	}

	return c.delegate.values(), nil
}

// Iterator opens a consistent cursor over the collection. In cached mode it
// walks a snapshot of the loaded delegate; in pass-through mode it streams
// from the store.
func (c *Collection[E]) Iterator(ctx context.Context) (*Iterator[E], error) {
	if c.useCache {
		if err := c.loadFromStore(ctx); err != nil {
			return nil, err
		}
	}
	return newIterator(ctx, c)
}

// Equal reports content equality with the given elements: same size and every
// given element contained.
func (c *Collection[E]) Equal(ctx context.Context, other []E) (bool, error) {
	size, err := c.Size(ctx)
	if err != nil {
		return false, err
	}
	if size != len(other) {
		return false, nil
	}
	return c.ContainsAll(ctx, other)
}

// Hash returns a content hash of the collection. Ordered collections hash the
// element sequence; unordered ones combine per-element hashes symmetrically so
// traversal order does not matter.
func (c *Collection[E]) Hash(ctx context.Context) (uint64, error) {
	values, err := c.Values(ctx)
	if err != nil {
		return 0, err
	}

	if c.delegate.ordered() {
		digest := xxhash.New()
		for _, v := range values {
			raw, err := json.Marshal(v)
			if err != nil {
				return 0, err
			}
			_, _ = digest.Write(raw)
			_, _ = digest.Write([]byte{0})
		}
		return digest.Sum64(), nil
	}

	var acc uint64
	for _, v := range values {
		raw, err := json.Marshal(v)
		if err != nil {
			return 0, err
		}
		acc ^= xxhash.Sum64(raw)
	}
	return acc, nil
}

// String renders the collection as "[e1,e2,...]", best effort.
func (c *Collection[E]) String() string {
	var b strings.Builder
	b.WriteByte('[')

	iter, err := c.Iterator(context.Background())
	if err == nil {
		defer iter.Stop()
		first := true
		for {
			e, err := iter.Next(context.Background())
			if err != nil {
				break
			}
			if !first {
				b.WriteByte(',')
			}
			fmt.Fprintf(&b, "%v", e)
			first = false
		}
	}

	b.WriteByte(']')
	return b.String()
}

// MarshalJSON serializes a plain, store-independent snapshot of the current
// elements, forcing a load first in cached mode. A pass-through collection is
// snapshotted from its in-memory delegate without a dedicated store read; the
// result may lag the store.
func (c *Collection[E]) MarshalJSON() ([]byte, error) {
	if c.useCache {
		if err := c.loadFromStore(context.Background()); err != nil {
			return nil, err
		}
	}

	return json.Marshal(c.delegate.values())
}

// Add appends an element.
func (c *Collection[E]) Add(ctx context.Context, element E) (bool, error) {
	return c.add(ctx, element, directWrite)
}

func (c *Collection[E]) add(ctx context.Context, element E, mode writeMode) (bool, error) {
	if !c.allowNulls && isNilElement(element) {
		return false, fmt.Errorf("%w: field %q", ErrNullElement, c.field.Name)
	}

	if c.useCache {
		if err := c.loadFromStore(ctx); err != nil {
			return false, err
		}
	}

	if !c.delegate.ordered() {
		contained, err := c.Contains(ctx, element)
		if err != nil {
			return false, err
		}
		if contained {
			return false, nil
		}
	}

	if relMgr := c.relationshipManager(mode); relMgr != nil {
		relMgr.RelationAdd(c.field.Name, element)
	}

	backingSuccess := true
	if c.store != nil {
		if ec := c.execContext(); ec != nil && ec.QueuedOperations() {
			ec.AddOperationToQueue(flush.NewCollectionAddOperation(c.sm, c.store, element))
		} else {
			ok, err := c.store.Add(ctx, c.sm, element, c.storeSizeHint())
			if err != nil {
				return false, fmt.Errorf("%w: add on field %q: %w", ErrStoreWrite, c.field.Name, err)
			}
			backingSuccess = ok
		}
	}

	// Dirty only after the store write so a pre-store callback on the owner
	// cannot observe a not-yet-persisted addition.
	c.makeDirty()

	delegateSuccess := c.delegate.add(element)

	if err := c.nontransactionalUpdate(ctx); err != nil {
		return false, err
	}

	if c.store != nil {
		return backingSuccess, nil
	}
	return delegateSuccess, nil
}

// AddAll appends a batch of elements, returning whether anything changed.
func (c *Collection[E]) AddAll(ctx context.Context, elements []E) (bool, error) {
	return c.addAll(ctx, elements, directWrite)
}

func (c *Collection[E]) addAll(ctx context.Context, elements []E, mode writeMode) (bool, error) {
	if c.useCache {
		if err := c.loadFromStore(ctx); err != nil {
			return false, err
		}
	}

	if relMgr := c.relationshipManager(mode); relMgr != nil {
		for _, e := range elements {
			relMgr.RelationAdd(c.field.Name, e)
		}
	}

	backingSuccess := true
	if c.store != nil {
		if ec := c.execContext(); ec != nil && ec.QueuedOperations() {
			for _, e := range elements {
				ec.AddOperationToQueue(flush.NewCollectionAddOperation(c.sm, c.store, e))
			}
		} else {
			ok, err := c.store.AddAll(ctx, c.sm, elements, c.storeSizeHint())
			if err != nil {
				return false, fmt.Errorf("%w: addAll on field %q: %w", ErrStoreWrite, c.field.Name, err)
			}
			backingSuccess = ok
		}
	}

	// See add: dirty marking happens after the store write on insertion paths.
	c.makeDirty()

	delegateSuccess := false
	for _, e := range elements {
		if c.delegate.add(e) {
			delegateSuccess = true
		}
	}

	if err := c.nontransactionalUpdate(ctx); err != nil {
		return false, err
	}

	if c.store != nil {
		return backingSuccess, nil
	}
	return delegateSuccess, nil
}

// Remove deletes one occurrence of element, cascading to dependent records
// where the store models any.
func (c *Collection[E]) Remove(ctx context.Context, element E) (bool, error) {
	return c.remove(ctx, element, true, directWrite)
}

// RemoveWithCascade is Remove with explicit control over cascading.
func (c *Collection[E]) RemoveWithCascade(ctx context.Context, element E, allowCascade bool) (bool, error) {
	return c.remove(ctx, element, allowCascade, directWrite)
}

func (c *Collection[E]) remove(ctx context.Context, element E, allowCascade bool, mode writeMode) (bool, error) {
	c.makeDirty()

	if c.useCache {
		if err := c.loadFromStore(ctx); err != nil {
			return false, err
		}
	}

	size := c.storeSizeHint()
	contained := c.delegate.contains(element)
	if c.useCache && !contained {
		// Not present, nothing to do.
		return false, nil
	}

	delegateSuccess := c.delegate.remove(element)

	if relMgr := c.relationshipManager(mode); relMgr != nil {
		relMgr.RelationRemove(c.field.Name, element)
	}

	backingSuccess := true
	if c.store != nil {
		if ec := c.execContext(); ec != nil && ec.QueuedOperations() {
			// A queued remove of a non-member is a no-op, not an error.
			// Membership is checked against the cache when loaded, against
			// the store otherwise.
			wasMember := contained
			if !c.useCache {
				var err error
				wasMember, err = c.store.Contains(ctx, c.sm, element)
				if err != nil {
					return false, err
				}
			}

			backingSuccess = wasMember
			if wasMember {
				ec.AddOperationToQueue(flush.NewCollectionRemoveOperation(c.sm, c.store, element, allowCascade))
			}
		} else {
			ok, err := c.store.Remove(ctx, c.sm, element, size, allowCascade)
			if err != nil {
				// The store kept its prior state; degrade to "no effect".
				c.logger.Warn("backing store remove failed",
					zap.String("field", c.field.Name),
					zap.Error(err))
				ok = false
			}
			backingSuccess = ok
		}
	}

	if err := c.nontransactionalUpdate(ctx); err != nil {
		return false, err
	}

	if c.store != nil {
		return backingSuccess, nil
	}
	return delegateSuccess, nil
}

// RemoveAll deletes every occurrence of each given element. A nil argument is
// a usage error; an empty one is a trivial success.
func (c *Collection[E]) RemoveAll(ctx context.Context, elements []E) (bool, error) {
	if elements == nil {
		return false, fmt.Errorf("%w: removeAll on field %q", ErrNilArgument, c.field.Name)
	}
	if len(elements) == 0 {
		return true, nil
	}

	c.makeDirty()

	if c.useCache {
		if err := c.loadFromStore(ctx); err != nil {
			return false, err
		}
	}

	size := c.storeSizeHint()

	ec := c.execContext()
	queued := c.store != nil && ec != nil && ec.QueuedOperations()

	// In queued mode membership must be checked before the delegate is
	// touched; only actual members get a queued removal.
	var contained []E
	if queued {
		for _, e := range elements {
			ok, err := c.Contains(ctx, e)
			if err != nil {
				return false, err
			}
			if ok {
				contained = append(contained, e)
			}
		}
	}

	delegateSuccess := false
	for _, e := range elements {
		for c.delegate.remove(e) {
			delegateSuccess = true
		}
	}

	if relMgr := c.relationshipManager(directWrite); relMgr != nil {
		for _, e := range elements {
			relMgr.RelationRemove(c.field.Name, e)
		}
	}

	if c.store != nil && c.sm != nil {
		backingSuccess := true
		if queued {
			backingSuccess = len(contained) > 0
			for _, e := range contained {
				ec.AddOperationToQueue(flush.NewCollectionRemoveOperation(c.sm, c.store, e, true))
			}
		} else {
			ok, err := c.store.RemoveAll(ctx, c.sm, elements, size)
			if err != nil {
				c.logger.Warn("backing store removeAll failed",
					zap.String("field", c.field.Name),
					zap.Error(err))
				ok = false
			}
			backingSuccess = ok
		}

		if err := c.nontransactionalUpdate(ctx); err != nil {
			return false, err
		}

		return backingSuccess, nil
	}

	if err := c.nontransactionalUpdate(ctx); err != nil {
		return false, err
	}

	return delegateSuccess, nil
}

// RetainAll removes every element absent from the retained set, walking the
// consistent iterator so delegate and store stay in lockstep even when the
// cache is not loaded.
func (c *Collection[E]) RetainAll(ctx context.Context, retained []E) (bool, error) {
	if retained == nil {
		return false, fmt.Errorf("%w: retainAll on field %q", ErrNilArgument, c.field.Name)
	}

	c.makeDirty()

	if c.useCache {
		if err := c.loadFromStore(ctx); err != nil {
			return false, err
		}
	}

	keep := make(map[E]struct{}, len(retained))
	for _, e := range retained {
		keep[e] = struct{}{}
	}

	iter, err := c.Iterator(ctx)
	if err != nil {
		return false, err
	}
	defer iter.Stop()

	modified := false
	for {
		e, err := iter.Next(ctx)
		if err != nil {
			if errors.Is(err, storage.ErrIteratorDone) {
				break
			}
			return modified, err
		}

		if _, ok := keep[e]; !ok {
			if err := iter.Remove(ctx); err != nil {
				return modified, err
			}
			modified = true
		}
	}

	if err := c.nontransactionalUpdate(ctx); err != nil {
		return modified, err
	}

	return modified, nil
}

// Clear removes every element, notifying relationship removal for each
// current member first.
func (c *Collection[E]) Clear(ctx context.Context) error {
	if relMgr := c.relationshipManager(directWrite); relMgr != nil {
		for _, e := range c.delegate.values() {
			relMgr.RelationRemove(c.field.Name, e)
		}
	}

	c.makeDirty()
	c.delegate.clear()

	if c.store != nil {
		if ec := c.execContext(); ec != nil && ec.QueuedOperations() {
			ec.AddOperationToQueue(flush.NewCollectionClearOperation(c.sm, c.store))
		} else if err := c.store.Clear(ctx, c.sm); err != nil {
			return fmt.Errorf("%w: clear on field %q: %w", ErrStoreWrite, c.field.Name, err)
		}
	}

	return c.nontransactionalUpdate(ctx)
}

// Initialise re-seeds the collection from an externally supplied value, as on
// attach or refresh. ordered declares that newValue carries meaningful order;
// assigning an ordered value upgrades a set delegate to the list variant,
// never the reverse.
//
// Set delegates are reconciled by membership diff against oldValue. List
// delegates are always cleared and re-added in full; no minimal diff is
// attempted.
func (c *Collection[E]) Initialise(ctx context.Context, newValue, oldValue []E, ordered bool) error {
	if ordered && !c.delegate.ordered() {
		c.delegate = newListDelegate[E]()
	}

	if newValue == nil {
		return nil
	}

	c.assignEmbeddedStateManagers(newValue)

	c.logger.Debug("initialising collection from external value",
		zap.String("field", c.field.Name),
		zap.Int("size", len(newValue)))

	if !c.delegate.ordered() {
		return c.initialiseSet(ctx, newValue, oldValue)
	}
	return c.initialiseList(ctx, newValue)
}

// initialiseSet reconciles a set delegate by membership diff, with
// relationship notifications suppressed for the whole replace.
func (c *Collection[E]) initialiseSet(ctx context.Context, newValue, oldValue []E) error {
	newSet := make(map[E]struct{}, len(newValue))
	for _, e := range newValue {
		newSet[e] = struct{}{}
	}

	if c.useCache {
		// Seed the delegate with the old value, then reconcile it to match
		// the new one: add what is missing, drop what is gone.
		c.delegate.clear()
		for _, e := range oldValue {
			c.delegate.add(e)
		}
		c.cacheLoaded = true

		for _, e := range newValue {
			if !c.delegate.contains(e) {
				if _, err := c.add(ctx, e, bulkReplaceWrite); err != nil {
					return err
				}
			}
		}
		for _, e := range c.delegate.values() {
			if _, ok := newSet[e]; !ok {
				if _, err := c.remove(ctx, e, true, bulkReplaceWrite); err != nil {
					return err
				}
			}
		}

		return nil
	}

	oldSet := make(map[E]struct{}, len(oldValue))
	for _, e := range oldValue {
		oldSet[e] = struct{}{}
	}

	for _, e := range newValue {
		if _, ok := oldSet[e]; !ok {
			if _, err := c.add(ctx, e, bulkReplaceWrite); err != nil {
				return err
			}
		}
	}
	for _, e := range oldValue {
		if _, ok := newSet[e]; !ok {
			if _, err := c.remove(ctx, e, true, bulkReplaceWrite); err != nil {
				return err
			}
		}
	}

	return nil
}

// initialiseList replaces an ordered delegate wholesale: clear then add all,
// both against the store and in memory.
func (c *Collection[E]) initialiseList(ctx context.Context, newValue []E) error {
	if c.store != nil {
		ec := c.execContext()
		if ec != nil && ec.QueuedOperations() {
			if c.sm.FlushedToStore() || !c.sm.IsNew() {
				ec.AddOperationToQueue(flush.NewCollectionClearOperation(c.sm, c.store))
				for _, e := range newValue {
					ec.AddOperationToQueue(flush.NewCollectionAddOperation(c.sm, c.store, e))
				}
			}
		} else {
			if err := c.store.Clear(ctx, c.sm); err != nil {
				return fmt.Errorf("%w: clear on field %q: %w", ErrStoreWrite, c.field.Name, err)
			}

			sizeHint := storage.NoSizeHint
			if c.useCache {
				sizeHint = 0
			}
			if _, err := c.store.AddAll(ctx, c.sm, newValue, sizeHint); err != nil {
				c.logger.Warn("backing store addAll failed during initialise",
					zap.String("field", c.field.Name),
					zap.Error(err))
			}
		}
	}

	c.delegate.clear()
	for _, e := range newValue {
		c.delegate.add(e)
	}
	c.cacheLoaded = true
	c.makeDirty()

	return nil
}

// InitialiseWith adopts an existing value as the current contents without
// touching the store: used when attaching a collection whose elements are
// already persisted. ordered upgrades a set delegate to the list variant.
func (c *Collection[E]) InitialiseWith(elements []E, ordered bool) {
	if ordered && !c.delegate.ordered() {
		c.delegate = newListDelegate[E]()
	}

	if elements == nil {
		return
	}

	c.assignEmbeddedStateManagers(elements)

	if c.store != nil && c.useCache {
		c.cacheLoaded = true
	}

	c.delegate.clear()
	for _, e := range elements {
		c.delegate.add(e)
	}
}

// assignEmbeddedStateManagers ensures serialized persistable elements are
// managed, creating embedded state managers for any that are not.
func (c *Collection[E]) assignEmbeddedStateManagers(elements []E) {
	if !c.field.SerializedElements || !c.field.PersistentElements {
		return
	}

	ec := c.execContext()
	if ec == nil {
		return
	}

	for _, e := range elements {
		if ec.FindStateManager(e) == nil {
			ec.NewEmbeddedStateManager(c.sm, c.field.Name, e)
		}
	}
}

// isNilElement reports whether element is a nil value of a nil-able kind.
// Non-nilable element types are never null.
func isNilElement[E comparable](element E) bool {
	v := reflect.ValueOf(&element).Elem()
	switch v.Kind() {
	case reflect.Ptr, reflect.Interface, reflect.Map, reflect.Slice, reflect.Chan, reflect.Func:
		return v.IsNil()
	default:
		return false
	}
}
