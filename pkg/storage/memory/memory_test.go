package memory

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/holdfast-db/holdfast/pkg/storage"
)

type testOwner string

func (o testOwner) ObjectID() string { return string(o) }

func TestAddAndContains(t *testing.T) {
	ctx := context.Background()
	store := New[string]()
	owner := testOwner("account:1")

	changed, err := store.Add(ctx, owner, "alpha", storage.NoSizeHint)
	require.NoError(t, err)
	require.True(t, changed)

	ok, err := store.Contains(ctx, owner, "alpha")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = store.Contains(ctx, owner, "beta")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestUnorderedStoreRejectsDuplicates(t *testing.T) {
	ctx := context.Background()
	store := New[string]()
	owner := testOwner("account:1")

	changed, err := store.Add(ctx, owner, "alpha", storage.NoSizeHint)
	require.NoError(t, err)
	require.True(t, changed)

	changed, err = store.Add(ctx, owner, "alpha", storage.NoSizeHint)
	require.NoError(t, err)
	require.False(t, changed)

	size, err := store.Size(ctx, owner)
	require.NoError(t, err)
	require.Equal(t, 1, size)
}

func TestOrderedStoreKeepsDuplicatesAndOrder(t *testing.T) {
	ctx := context.Background()
	store := New(WithOrderMapping[string](true))
	owner := testOwner("playlist:9")

	require.True(t, store.HasOrderMapping())

	_, err := store.AddAll(ctx, owner, []string{"a", "b", "a"}, storage.NoSizeHint)
	require.NoError(t, err)

	iter, err := store.Iterator(ctx, owner)
	require.NoError(t, err)

	items, err := storage.Collect(ctx, iter)
	require.NoError(t, err)

	if diff := cmp.Diff([]string{"a", "b", "a"}, items); diff != "" {
		t.Fatalf("mismatch (-want +got):\n%s", diff)
	}
}

func TestRemoveFirstOccurrenceOnly(t *testing.T) {
	ctx := context.Background()
	store := New(WithOrderMapping[string](true))
	owner := testOwner("playlist:9")

	_, err := store.AddAll(ctx, owner, []string{"a", "b", "a"}, storage.NoSizeHint)
	require.NoError(t, err)

	changed, err := store.Remove(ctx, owner, "a", storage.NoSizeHint, false)
	require.NoError(t, err)
	require.True(t, changed)

	iter, err := store.Iterator(ctx, owner)
	require.NoError(t, err)

	items, err := storage.Collect(ctx, iter)
	require.NoError(t, err)
	require.Equal(t, []string{"b", "a"}, items)
}

func TestRemoveAbsentElement(t *testing.T) {
	ctx := context.Background()
	store := New[string]()
	owner := testOwner("account:1")

	changed, err := store.Remove(ctx, owner, "ghost", storage.NoSizeHint, false)
	require.NoError(t, err)
	require.False(t, changed)
}

func TestRemoveAllDeletesEveryOccurrence(t *testing.T) {
	ctx := context.Background()
	store := New(WithOrderMapping[string](true))
	owner := testOwner("playlist:9")

	_, err := store.AddAll(ctx, owner, []string{"a", "b", "a", "c"}, storage.NoSizeHint)
	require.NoError(t, err)

	changed, err := store.RemoveAll(ctx, owner, []string{"a", "c"}, storage.NoSizeHint)
	require.NoError(t, err)
	require.True(t, changed)

	iter, err := store.Iterator(ctx, owner)
	require.NoError(t, err)

	items, err := storage.Collect(ctx, iter)
	require.NoError(t, err)
	require.Equal(t, []string{"b"}, items)
}

func TestClear(t *testing.T) {
	ctx := context.Background()
	store := New[string]()
	owner := testOwner("account:1")

	_, err := store.AddAll(ctx, owner, []string{"a", "b"}, storage.NoSizeHint)
	require.NoError(t, err)

	require.NoError(t, store.Clear(ctx, owner))

	size, err := store.Size(ctx, owner)
	require.NoError(t, err)
	require.Zero(t, size)
}

func TestOwnersAreIsolated(t *testing.T) {
	ctx := context.Background()
	store := New[string]()

	_, err := store.Add(ctx, testOwner("account:1"), "alpha", storage.NoSizeHint)
	require.NoError(t, err)

	size, err := store.Size(ctx, testOwner("account:2"))
	require.NoError(t, err)
	require.Zero(t, size)
}

type track struct {
	Title  string `json:"title"`
	Rating int    `json:"rating"`
}

func TestUpdateEmbeddedElement(t *testing.T) {
	ctx := context.Background()
	store := New[track]()
	owner := testOwner("playlist:9")

	element := track{Title: "song", Rating: 3}
	_, err := store.Add(ctx, owner, element, storage.NoSizeHint)
	require.NoError(t, err)

	require.NoError(t, store.UpdateEmbeddedElement(ctx, owner, element, "rating", 5))

	ok, err := store.Contains(ctx, owner, track{Title: "song", Rating: 5})
	require.NoError(t, err)
	require.True(t, ok)
}

func TestUpdateEmbeddedElementNotFound(t *testing.T) {
	ctx := context.Background()
	store := New[track]()
	owner := testOwner("playlist:9")

	err := store.UpdateEmbeddedElement(ctx, owner, track{Title: "ghost"}, "rating", 1)
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestConcurrentUse(t *testing.T) {
	ctx := context.Background()
	store := New[string]()

	var g errgroup.Group
	for i := 0; i < 16; i++ {
		owner := testOwner(fmt.Sprintf("account:%d", i))
		g.Go(func() error {
			for j := 0; j < 50; j++ {
				if _, err := store.Add(ctx, owner, fmt.Sprintf("elem-%d", j), storage.NoSizeHint); err != nil {
					return err
				}
				if _, err := store.Contains(ctx, owner, "elem-0"); err != nil {
					return err
				}
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	for i := 0; i < 16; i++ {
		size, err := store.Size(ctx, testOwner(fmt.Sprintf("account:%d", i)))
		require.NoError(t, err)
		require.Equal(t, 50, size)
	}
}
