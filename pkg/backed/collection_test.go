package backed_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/holdfast-db/holdfast/pkg/backed"
	"github.com/holdfast-db/holdfast/pkg/execution"
	"github.com/holdfast-db/holdfast/pkg/logger"
	"github.com/holdfast-db/holdfast/pkg/storage"
	"github.com/holdfast-db/holdfast/pkg/storage/memory"
)

var errBoom = errors.New("boom")

// countingStore counts cursor opens and membership probes on the wrapped
// store.
type countingStore[E comparable] struct {
	storage.CollectionStore[E]

	iteratorCalls int
	containsCalls int
}

func (s *countingStore[E]) Iterator(ctx context.Context, owner storage.Owner) (storage.Iterator[E], error) {
	s.iteratorCalls++
	return s.CollectionStore.Iterator(ctx, owner)
}

func (s *countingStore[E]) Contains(ctx context.Context, owner storage.Owner, element E) (bool, error) {
	s.containsCalls++
	return s.CollectionStore.Contains(ctx, owner, element)
}

// failingStore fails selected operations on the wrapped store.
type failingStore[E comparable] struct {
	storage.CollectionStore[E]

	failAdd       bool
	failRemove    bool
	failRemoveAll bool
	failClear     bool
	failIterators int
}

func (s *failingStore[E]) Add(ctx context.Context, owner storage.Owner, element E, sizeHint int) (bool, error) {
	if s.failAdd {
		return false, errBoom
	}
	return s.CollectionStore.Add(ctx, owner, element, sizeHint)
}

func (s *failingStore[E]) Remove(ctx context.Context, owner storage.Owner, element E, sizeHint int, allowCascade bool) (bool, error) {
	if s.failRemove {
		return false, errBoom
	}
	return s.CollectionStore.Remove(ctx, owner, element, sizeHint, allowCascade)
}

func (s *failingStore[E]) RemoveAll(ctx context.Context, owner storage.Owner, elements []E, sizeHint int) (bool, error) {
	if s.failRemoveAll {
		return false, errBoom
	}
	return s.CollectionStore.RemoveAll(ctx, owner, elements, sizeHint)
}

func (s *failingStore[E]) Clear(ctx context.Context, owner storage.Owner) error {
	if s.failClear {
		return errBoom
	}
	return s.CollectionStore.Clear(ctx, owner)
}

func (s *failingStore[E]) Iterator(ctx context.Context, owner storage.Owner) (storage.Iterator[E], error) {
	if s.failIterators > 0 {
		s.failIterators--
		return nil, errBoom
	}
	return s.CollectionStore.Iterator(ctx, owner)
}

func elementsField() *backed.Field {
	return &backed.Field{Name: "elements", Persistent: true}
}

func TestAddRemoveContains(t *testing.T) {
	ctx := context.Background()
	ec := execution.NewContext()
	state := ec.NewEntityState("order:1")
	store := memory.New[string]()

	coll := backed.New(state, elementsField(), store)

	changed, err := coll.Add(ctx, "widget")
	require.NoError(t, err)
	require.True(t, changed)

	changed, err = coll.Add(ctx, "widget")
	require.NoError(t, err)
	require.False(t, changed)

	ok, err := coll.Contains(ctx, "widget")
	require.NoError(t, err)
	require.True(t, ok)

	size, err := coll.Size(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, size)

	changed, err = coll.Remove(ctx, "widget")
	require.NoError(t, err)
	require.True(t, changed)

	empty, err := coll.IsEmpty(ctx)
	require.NoError(t, err)
	require.True(t, empty)

	// The store saw every mutation.
	storeSize, err := store.Size(ctx, state)
	require.NoError(t, err)
	require.Zero(t, storeSize)
}

func TestStorelessAdapterMatchesReferenceSet(t *testing.T) {
	ctx := context.Background()
	ec := execution.NewContext()
	state := ec.NewEntityState("order:1")

	// No backing store: the adapter is a plain mirror and must behave exactly
	// like a reference set under any add/remove sequence.
	coll := backed.New(state, &backed.Field{Name: "scratch"}, memory.New[int]())
	reference := make(map[int]struct{})

	ops := []struct {
		add     bool
		element int
	}{
		{true, 1}, {true, 2}, {true, 2}, {false, 3}, {true, 3},
		{false, 2}, {true, 4}, {false, 1}, {false, 1}, {true, 2},
	}

	for _, op := range ops {
		if op.add {
			_, inRef := reference[op.element]
			changed, err := coll.Add(ctx, op.element)
			require.NoError(t, err)
			require.Equal(t, !inRef, changed)
			reference[op.element] = struct{}{}
		} else {
			_, inRef := reference[op.element]
			changed, err := coll.Remove(ctx, op.element)
			require.NoError(t, err)
			require.Equal(t, inRef, changed)
			delete(reference, op.element)
		}

		size, err := coll.Size(ctx)
		require.NoError(t, err)
		require.Equal(t, len(reference), size)
	}

	want := make([]int, 0, len(reference))
	for e := range reference {
		want = append(want, e)
	}

	values, err := coll.Values(ctx)
	require.NoError(t, err)
	require.ElementsMatch(t, want, values)
}

func TestAddMarksOwnerDirty(t *testing.T) {
	ctx := context.Background()
	ec := execution.NewContext()
	state := ec.NewEntityState("order:1")

	coll := backed.New(state, elementsField(), memory.New[string]())

	require.False(t, state.IsDirty("elements"))

	_, err := coll.Add(ctx, "widget")
	require.NoError(t, err)
	require.True(t, state.IsDirty("elements"))
}

func TestCachedLoadHappensOnce(t *testing.T) {
	ctx := context.Background()
	ec := execution.NewContext()
	state := ec.NewEntityState("order:1")

	inner := memory.New[string]()
	_, err := inner.AddAll(ctx, state, []string{"a", "b"}, storage.NoSizeHint)
	require.NoError(t, err)

	store := &countingStore[string]{CollectionStore: inner}
	coll := backed.New[string](state, elementsField(), store)

	require.False(t, coll.IsLoaded())

	for range 3 {
		values, err := coll.Values(ctx)
		require.NoError(t, err)
		require.ElementsMatch(t, []string{"a", "b"}, values)
	}

	ok, err := coll.Contains(ctx, "a")
	require.NoError(t, err)
	require.True(t, ok)

	require.True(t, coll.IsLoaded())
	require.Equal(t, 1, store.iteratorCalls)
	require.Zero(t, store.containsCalls)
}

func TestFailedLoadRetriesOnNextAccess(t *testing.T) {
	ctx := context.Background()
	ec := execution.NewContext()
	state := ec.NewEntityState("order:1")

	inner := memory.New[string]()
	_, err := inner.Add(ctx, state, "a", storage.NoSizeHint)
	require.NoError(t, err)

	store := &failingStore[string]{CollectionStore: inner, failIterators: 1}
	coll := backed.New[string](state, elementsField(), store)

	_, err = coll.Values(ctx)
	require.ErrorIs(t, err, errBoom)
	require.False(t, coll.IsLoaded())

	values, err := coll.Values(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"a"}, values)
	require.True(t, coll.IsLoaded())
}

func TestPassThroughQueriesHitStore(t *testing.T) {
	ctx := context.Background()
	ec := execution.NewContext(execution.WithCollectionCaching(false))
	state := ec.NewEntityState("order:1")

	inner := memory.New[string]()
	store := &countingStore[string]{CollectionStore: inner}
	coll := backed.New[string](state, elementsField(), store)

	_, err := coll.Add(ctx, "a")
	require.NoError(t, err)

	// Membership goes to the store every time, never a cache.
	for range 2 {
		ok, err := coll.Contains(ctx, "a")
		require.NoError(t, err)
		require.True(t, ok)
	}
	require.False(t, coll.IsLoaded())
	require.GreaterOrEqual(t, store.containsCalls, 2)

	// A write from elsewhere is visible immediately.
	_, err = inner.Add(ctx, state, "b", storage.NoSizeHint)
	require.NoError(t, err)

	size, err := coll.Size(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, size)
}

func TestDisableCachePerField(t *testing.T) {
	ctx := context.Background()
	ec := execution.NewContext()
	state := ec.NewEntityState("order:1")

	field := elementsField()
	field.DisableCache = true

	store := memory.New[string]()
	coll := backed.New(state, field, store)

	_, err := coll.Add(ctx, "a")
	require.NoError(t, err)
	require.False(t, coll.IsLoaded())

	_, err = store.Add(ctx, state, "b", storage.NoSizeHint)
	require.NoError(t, err)

	size, err := coll.Size(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, size)
}

func TestTransientFieldHasNoStore(t *testing.T) {
	ctx := context.Background()
	ec := execution.NewContext()
	state := ec.NewEntityState("order:1")

	field := &backed.Field{Name: "scratch"}
	coll := backed.New(state, field, memory.New[string]())

	require.Nil(t, coll.BackingStore())

	changed, err := coll.Add(ctx, "a")
	require.NoError(t, err)
	require.True(t, changed)

	size, err := coll.Size(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, size)
}

type widget struct {
	Name string `json:"name"`
}

func TestNullElements(t *testing.T) {
	ctx := context.Background()
	ec := execution.NewContext()
	state := ec.NewEntityState("order:1")

	coll := backed.New(state, elementsField(), memory.New[*widget]())

	_, err := coll.Add(ctx, nil)
	require.ErrorIs(t, err, backed.ErrNullElement)

	field := elementsField()
	field.AllowNulls = true
	permissive := backed.New(ec.NewEntityState("order:2"), field, memory.New[*widget]())

	changed, err := permissive.Add(ctx, nil)
	require.NoError(t, err)
	require.True(t, changed)

	ok, err := permissive.Contains(ctx, nil)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestQueuedMutationsReplayInOrder(t *testing.T) {
	ctx := context.Background()
	ec := execution.NewContext(execution.WithQueuedOperations(true))
	state := ec.NewEntityState("order:1")
	store := memory.New[string]()

	coll := backed.New(state, elementsField(), store)

	ec.BeginTransaction()

	changed, err := coll.Add(ctx, "a")
	require.NoError(t, err)
	require.True(t, changed)

	// Removing a non-member queues nothing and reports no change.
	changed, err = coll.Remove(ctx, "b")
	require.NoError(t, err)
	require.False(t, changed)

	changed, err = coll.Add(ctx, "c")
	require.NoError(t, err)
	require.True(t, changed)

	require.Len(t, ec.Operations(), 2)

	// Nothing has reached the store yet.
	size, err := store.Size(ctx, state)
	require.NoError(t, err)
	require.Zero(t, size)

	require.NoError(t, ec.Commit(ctx))

	values, err := storageValues(ctx, store, state)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"a", "c"}, values)
	require.Empty(t, ec.Operations())
}

func TestQueuedRemoveOfMember(t *testing.T) {
	ctx := context.Background()
	ec := execution.NewContext(execution.WithQueuedOperations(true))
	state := ec.NewEntityState("order:1")
	store := memory.New[string]()

	_, err := store.Add(ctx, state, "a", storage.NoSizeHint)
	require.NoError(t, err)

	coll := backed.New(state, elementsField(), store)

	ec.BeginTransaction()

	changed, err := coll.Remove(ctx, "a")
	require.NoError(t, err)
	require.True(t, changed)
	require.Len(t, ec.Operations(), 1)

	require.NoError(t, ec.Commit(ctx))

	size, err := store.Size(ctx, state)
	require.NoError(t, err)
	require.Zero(t, size)
}

func TestQueuedMutationOutsideTransactionFlushesImmediately(t *testing.T) {
	ctx := context.Background()
	ec := execution.NewContext(execution.WithQueuedOperations(true))
	state := ec.NewEntityState("order:1")
	store := memory.New[string]()

	coll := backed.New(state, elementsField(), store)

	_, err := coll.Add(ctx, "a")
	require.NoError(t, err)

	// No transaction is open, so the queued write became durable right away.
	ok, err := store.Contains(ctx, state, "a")
	require.NoError(t, err)
	require.True(t, ok)
	require.Empty(t, ec.Operations())
}

func TestRollbackDiscardsQueuedMutations(t *testing.T) {
	ctx := context.Background()
	ec := execution.NewContext(execution.WithQueuedOperations(true))
	state := ec.NewEntityState("order:1")
	store := memory.New[string]()

	coll := backed.New(state, elementsField(), store)

	ec.BeginTransaction()
	_, err := coll.Add(ctx, "a")
	require.NoError(t, err)

	ec.Rollback()
	require.Empty(t, ec.Operations())

	size, err := store.Size(ctx, state)
	require.NoError(t, err)
	require.Zero(t, size)
}

func TestAddFailureIsFatal(t *testing.T) {
	ctx := context.Background()
	ec := execution.NewContext()
	state := ec.NewEntityState("order:1")

	store := &failingStore[string]{CollectionStore: memory.New[string](), failAdd: true}
	coll := backed.New[string](state, elementsField(), store)

	_, err := coll.Add(ctx, "a")
	require.ErrorIs(t, err, backed.ErrStoreWrite)
	require.ErrorIs(t, err, errBoom)
}

func TestRemoveFailureIsWarnedAndDegrades(t *testing.T) {
	ctx := context.Background()
	log, logs := logger.NewObserverLogger("warn")
	ec := execution.NewContext()
	state := ec.NewEntityState("order:1")

	inner := memory.New[string]()
	_, err := inner.Add(ctx, state, "a", storage.NoSizeHint)
	require.NoError(t, err)

	store := &failingStore[string]{CollectionStore: inner, failRemove: true}
	coll := backed.New[string](state, elementsField(), store, backed.WithLogger[string](log))

	changed, err := coll.Remove(ctx, "a")
	require.NoError(t, err)
	require.False(t, changed)
	require.Equal(t, 1, logs.Len())
}

func TestRemoveAllArguments(t *testing.T) {
	ctx := context.Background()
	ec := execution.NewContext()
	state := ec.NewEntityState("order:1")

	coll := backed.New(state, elementsField(), memory.New[string]())

	_, err := coll.RemoveAll(ctx, nil)
	require.ErrorIs(t, err, backed.ErrNilArgument)

	changed, err := coll.RemoveAll(ctx, []string{})
	require.NoError(t, err)
	require.True(t, changed)
}

func TestRemoveAll(t *testing.T) {
	ctx := context.Background()
	ec := execution.NewContext()
	state := ec.NewEntityState("order:1")
	store := memory.New[string]()

	coll := backed.New(state, elementsField(), store)

	_, err := coll.AddAll(ctx, []string{"a", "b", "c"})
	require.NoError(t, err)

	changed, err := coll.RemoveAll(ctx, []string{"a", "c", "missing"})
	require.NoError(t, err)
	require.True(t, changed)

	values, err := coll.Values(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"b"}, values)

	storeValues, err := storageValues(ctx, store, state)
	require.NoError(t, err)
	require.Equal(t, []string{"b"}, storeValues)
}

func TestQueuedRemoveAllEnqueuesOnlyMembers(t *testing.T) {
	ctx := context.Background()
	ec := execution.NewContext(execution.WithQueuedOperations(true))
	state := ec.NewEntityState("order:1")
	store := memory.New[string]()

	_, err := store.AddAll(ctx, state, []string{"a", "b"}, storage.NoSizeHint)
	require.NoError(t, err)

	coll := backed.New(state, elementsField(), store)

	ec.BeginTransaction()

	changed, err := coll.RemoveAll(ctx, []string{"a", "missing"})
	require.NoError(t, err)
	require.True(t, changed)
	require.Len(t, ec.Operations(), 1)

	require.NoError(t, ec.Commit(ctx))

	values, err := storageValues(ctx, store, state)
	require.NoError(t, err)
	require.Equal(t, []string{"b"}, values)
}

func TestRetainAll(t *testing.T) {
	ctx := context.Background()
	ec := execution.NewContext()
	state := ec.NewEntityState("order:1")
	store := memory.New[string]()

	coll := backed.New(state, elementsField(), store)

	_, err := coll.AddAll(ctx, []string{"1", "2", "3"})
	require.NoError(t, err)

	modified, err := coll.RetainAll(ctx, []string{"2", "3", "4"})
	require.NoError(t, err)
	require.True(t, modified)

	values, err := coll.Values(ctx)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"2", "3"}, values)

	storeValues, err := storageValues(ctx, store, state)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"2", "3"}, storeValues)

	modified, err = coll.RetainAll(ctx, []string{"2", "3", "4"})
	require.NoError(t, err)
	require.False(t, modified)

	_, err = coll.RetainAll(ctx, nil)
	require.ErrorIs(t, err, backed.ErrNilArgument)
}

func TestClear(t *testing.T) {
	ctx := context.Background()
	ec := execution.NewContext()
	state := ec.NewEntityState("order:1")
	store := memory.New[string]()

	coll := backed.New(state, elementsField(), store)

	_, err := coll.AddAll(ctx, []string{"a", "b"})
	require.NoError(t, err)

	require.NoError(t, coll.Clear(ctx))

	empty, err := coll.IsEmpty(ctx)
	require.NoError(t, err)
	require.True(t, empty)

	size, err := store.Size(ctx, state)
	require.NoError(t, err)
	require.Zero(t, size)
}

func TestClearFailureIsFatal(t *testing.T) {
	ctx := context.Background()
	ec := execution.NewContext()
	state := ec.NewEntityState("order:1")

	store := &failingStore[string]{CollectionStore: memory.New[string](), failClear: true}
	coll := backed.New[string](state, elementsField(), store)

	err := coll.Clear(ctx)
	require.ErrorIs(t, err, backed.ErrStoreWrite)
}

func TestRelationshipNotifications(t *testing.T) {
	ctx := context.Background()
	ec := execution.NewContext(execution.WithManagedRelationships(true))
	state := ec.NewEntityState("order:1")

	coll := backed.New(state, elementsField(), memory.New[string]())

	_, err := coll.Add(ctx, "a")
	require.NoError(t, err)

	_, err = coll.Remove(ctx, "a")
	require.NoError(t, err)

	changes := ec.RelationshipChanges("order:1")
	require.Len(t, changes, 2)
	require.Equal(t, execution.RelationAdded, changes[0].Kind)
	require.Equal(t, "a", changes[0].Element)
	require.Equal(t, execution.RelationRemoved, changes[1].Kind)
}

func TestInitialiseSuppressesRelationshipNotifications(t *testing.T) {
	ctx := context.Background()
	ec := execution.NewContext(execution.WithManagedRelationships(true))
	state := ec.NewEntityState("order:1")
	store := memory.New[string]()

	_, err := store.AddAll(ctx, state, []string{"a", "b"}, storage.NoSizeHint)
	require.NoError(t, err)

	coll := backed.New(state, elementsField(), store)

	err = coll.Initialise(ctx, []string{"b", "c"}, []string{"a", "b"}, false)
	require.NoError(t, err)

	require.Empty(t, ec.RelationshipChanges("order:1"))
}

func TestInitialiseSetReconcilesByDiff(t *testing.T) {
	ctx := context.Background()
	ec := execution.NewContext()
	state := ec.NewEntityState("order:1")
	store := memory.New[string]()

	_, err := store.AddAll(ctx, state, []string{"a", "b"}, storage.NoSizeHint)
	require.NoError(t, err)

	coll := backed.New(state, elementsField(), store)

	// b stays, a is dropped, c is added.
	err = coll.Initialise(ctx, []string{"b", "c"}, []string{"a", "b"}, false)
	require.NoError(t, err)

	values, err := coll.Values(ctx)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"b", "c"}, values)

	storeValues, err := storageValues(ctx, store, state)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"b", "c"}, storeValues)
	require.True(t, coll.IsLoaded())
}

func TestInitialiseNilValueIsNoOp(t *testing.T) {
	ctx := context.Background()
	ec := execution.NewContext()
	state := ec.NewEntityState("order:1")
	store := memory.New[string]()

	_, err := store.Add(ctx, state, "a", storage.NoSizeHint)
	require.NoError(t, err)

	coll := backed.New(state, elementsField(), store)

	require.NoError(t, coll.Initialise(ctx, nil, nil, false))

	size, err := store.Size(ctx, state)
	require.NoError(t, err)
	require.Equal(t, 1, size)
}

func TestInitialiseListReplacesWholesale(t *testing.T) {
	ctx := context.Background()
	ec := execution.NewContext()
	state := ec.NewEntityState("order:1")
	store := memory.New(memory.WithOrderMapping[string](true))

	_, err := store.AddAll(ctx, state, []string{"old1", "old2"}, storage.NoSizeHint)
	require.NoError(t, err)

	coll := backed.New[string](state, elementsField(), store)

	err = coll.Initialise(ctx, []string{"x", "y", "x"}, nil, true)
	require.NoError(t, err)

	storeValues, err := storageValues(ctx, store, state)
	require.NoError(t, err)
	require.Equal(t, []string{"x", "y", "x"}, storeValues)
}

func TestInitialiseListQueuedSkipsUnflushedNewOwner(t *testing.T) {
	ctx := context.Background()
	ec := execution.NewContext(execution.WithQueuedOperations(true))
	state := ec.NewEntityState("order:1")
	store := memory.New(memory.WithOrderMapping[string](true))

	coll := backed.New[string](state, elementsField(), store)

	ec.BeginTransaction()

	// A brand-new, never-flushed owner has nothing in the store to clear;
	// no operations are queued.
	require.NoError(t, coll.Initialise(ctx, []string{"x"}, nil, true))
	require.Empty(t, ec.Operations())

	values, err := coll.Values(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"x"}, values)
}

func TestInitialiseListQueuedForPersistentOwner(t *testing.T) {
	ctx := context.Background()
	ec := execution.NewContext(execution.WithQueuedOperations(true))
	state := ec.NewEntityState("order:1")
	state.MarkPersistent()
	store := memory.New(memory.WithOrderMapping[string](true))

	_, err := store.Add(ctx, state, "old", storage.NoSizeHint)
	require.NoError(t, err)

	coll := backed.New[string](state, elementsField(), store)

	ec.BeginTransaction()

	require.NoError(t, coll.Initialise(ctx, []string{"x", "y"}, nil, true))
	// One clear plus one add per element.
	require.Len(t, ec.Operations(), 3)

	require.NoError(t, ec.Commit(ctx))

	storeValues, err := storageValues(ctx, store, state)
	require.NoError(t, err)
	require.Equal(t, []string{"x", "y"}, storeValues)
}

func TestInitialiseWithAdoptsValueWithoutStoreWrites(t *testing.T) {
	ctx := context.Background()
	ec := execution.NewContext()
	state := ec.NewEntityState("order:1")

	inner := memory.New[string]()
	store := &countingStore[string]{CollectionStore: inner}
	coll := backed.New[string](state, elementsField(), store)

	coll.InitialiseWith([]string{"a", "b"}, false)

	require.True(t, coll.IsLoaded())

	values, err := coll.Values(ctx)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"a", "b"}, values)

	// No reads or writes reached the store.
	require.Zero(t, store.iteratorCalls)
	size, err := inner.Size(ctx, state)
	require.NoError(t, err)
	require.Zero(t, size)
}

func TestLoadBackfillsReverseReferences(t *testing.T) {
	ctx := context.Background()
	ec := execution.NewContext()
	state := ec.NewEntityState("order:1")

	field := elementsField()
	field.Relation = backed.RelationOneToManyBi
	field.RelatedField = "order"

	store := memory.New[string]()
	_, err := store.Add(ctx, state, "item:1", storage.NoSizeHint)
	require.NoError(t, err)

	itemState := ec.Manage("item:1", "item:1")

	coll := backed.New(state, field, store)
	require.NoError(t, coll.Load(ctx))

	require.True(t, itemState.IsFieldLoaded("order"))
	value, ok := itemState.FieldValue("order")
	require.True(t, ok)
	require.Equal(t, "order:1", value)
}

func TestLoadKeepsAlreadyLoadedReverseReference(t *testing.T) {
	ctx := context.Background()
	ec := execution.NewContext()
	state := ec.NewEntityState("order:1")

	field := elementsField()
	field.Relation = backed.RelationOneToManyBi
	field.RelatedField = "order"

	store := memory.New[string]()
	_, err := store.Add(ctx, state, "item:1", storage.NoSizeHint)
	require.NoError(t, err)

	itemState := ec.Manage("item:1", "item:1")
	itemState.StoreFieldValue("order", "order:9")

	coll := backed.New(state, field, store)
	require.NoError(t, coll.Load(ctx))

	value, _ := itemState.FieldValue("order")
	require.Equal(t, "order:9", value)
}

func TestUnsetOwnerDegradesToPlainMirror(t *testing.T) {
	ctx := context.Background()
	ec := execution.NewContext()
	state := ec.NewEntityState("order:1")
	store := memory.New[string]()

	coll := backed.New(state, elementsField(), store)

	_, err := coll.Add(ctx, "a")
	require.NoError(t, err)

	coll.UnsetOwner()
	require.Nil(t, coll.BackingStore())

	_, err = coll.Add(ctx, "b")
	require.NoError(t, err)

	// Only the pre-detach element reached the store.
	size, err := store.Size(ctx, state)
	require.NoError(t, err)
	require.Equal(t, 1, size)

	values, err := coll.Values(ctx)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"a", "b"}, values)
}

func TestUpdateEmbeddedElement(t *testing.T) {
	ctx := context.Background()
	ec := execution.NewContext()
	state := ec.NewEntityState("album:1")
	store := memory.New[widget]()

	coll := backed.New(state, elementsField(), store)

	_, err := coll.Add(ctx, widget{Name: "intro"})
	require.NoError(t, err)
	state.ClearDirty()

	err = coll.UpdateEmbeddedElement(ctx, widget{Name: "intro"}, "name", "outro", true)
	require.NoError(t, err)
	require.True(t, state.IsDirty("elements"))

	ok, err := store.Contains(ctx, state, widget{Name: "outro"})
	require.NoError(t, err)
	require.True(t, ok)
}

func TestEqual(t *testing.T) {
	ctx := context.Background()
	ec := execution.NewContext()
	state := ec.NewEntityState("order:1")

	coll := backed.New(state, elementsField(), memory.New[string]())

	_, err := coll.AddAll(ctx, []string{"a", "b"})
	require.NoError(t, err)

	equal, err := coll.Equal(ctx, []string{"b", "a"})
	require.NoError(t, err)
	require.True(t, equal)

	equal, err = coll.Equal(ctx, []string{"a"})
	require.NoError(t, err)
	require.False(t, equal)

	equal, err = coll.Equal(ctx, []string{"a", "c"})
	require.NoError(t, err)
	require.False(t, equal)
}

func TestHashIsOrderInsensitiveForSets(t *testing.T) {
	ctx := context.Background()
	ec := execution.NewContext()

	first := backed.New(ec.NewEntityState("order:1"), elementsField(), memory.New[string]())
	second := backed.New(ec.NewEntityState("order:2"), elementsField(), memory.New[string]())

	_, err := first.AddAll(ctx, []string{"a", "b", "c"})
	require.NoError(t, err)
	_, err = second.AddAll(ctx, []string{"c", "a", "b"})
	require.NoError(t, err)

	h1, err := first.Hash(ctx)
	require.NoError(t, err)
	h2, err := second.Hash(ctx)
	require.NoError(t, err)
	require.Equal(t, h1, h2)
}

func TestHashIsOrderSensitiveForLists(t *testing.T) {
	ctx := context.Background()
	ec := execution.NewContext()

	first := backed.New[string](ec.NewEntityState("order:1"), elementsField(), memory.New(memory.WithOrderMapping[string](true)))
	second := backed.New[string](ec.NewEntityState("order:2"), elementsField(), memory.New(memory.WithOrderMapping[string](true)))

	_, err := first.AddAll(ctx, []string{"a", "b"})
	require.NoError(t, err)
	_, err = second.AddAll(ctx, []string{"b", "a"})
	require.NoError(t, err)

	h1, err := first.Hash(ctx)
	require.NoError(t, err)
	h2, err := second.Hash(ctx)
	require.NoError(t, err)
	require.NotEqual(t, h1, h2)
}

func TestStringRendersElements(t *testing.T) {
	ctx := context.Background()
	ec := execution.NewContext()
	state := ec.NewEntityState("order:1")

	coll := backed.New[string](state, elementsField(), memory.New(memory.WithOrderMapping[string](true)))

	_, err := coll.AddAll(ctx, []string{"a", "b"})
	require.NoError(t, err)

	require.Equal(t, "[a,b]", coll.String())
}

func TestMarshalJSON(t *testing.T) {
	ctx := context.Background()
	ec := execution.NewContext()
	state := ec.NewEntityState("order:1")
	store := memory.New(memory.WithOrderMapping[string](true))

	// Seed the store behind the collection's back; marshalling forces a load.
	_, err := store.AddAll(ctx, state, []string{"a", "b"}, storage.NoSizeHint)
	require.NoError(t, err)

	coll := backed.New[string](state, elementsField(), store)

	raw, err := json.Marshal(coll)
	require.NoError(t, err)
	require.JSONEq(t, `["a","b"]`, string(raw))
}

func TestOrderedCollectionKeepsDuplicates(t *testing.T) {
	ctx := context.Background()
	ec := execution.NewContext()
	state := ec.NewEntityState("order:1")
	store := memory.New(memory.WithOrderMapping[string](true))

	coll := backed.New[string](state, elementsField(), store)

	for _, e := range []string{"a", "b", "a"} {
		changed, err := coll.Add(ctx, e)
		require.NoError(t, err)
		require.True(t, changed)
	}

	values, err := coll.Values(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b", "a"}, values)

	storeValues, err := storageValues(ctx, store, state)
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b", "a"}, storeValues)
}

func storageValues[E comparable](ctx context.Context, store storage.CollectionStore[E], owner storage.Owner) ([]E, error) {
	iter, err := store.Iterator(ctx, owner)
	if err != nil {
		return nil, err
	}
	return storage.Collect(ctx, iter)
}
