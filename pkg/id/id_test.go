package id

import (
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestIsValid(t *testing.T) {
	s, err := NewString()
	require.NoError(t, err)
	require.True(t, IsValid(s))
	require.False(t, IsValid("foobar"))
}

func TestTimestampRoundTrip(t *testing.T) {
	now := time.Now().Truncate(time.Millisecond)
	s, err := NewStringFromTime(now)
	require.NoError(t, err)

	got, err := Timestamp(s)
	require.NoError(t, err)
	require.Equal(t, now.UnixMilli(), got.UnixMilli())
}

func TestIdsMintedInSequenceSortInMintOrder(t *testing.T) {
	now := time.Now()
	ids := make([]string, 0, 1000)
	for range 1000 {
		s, err := NewStringFromTime(now)
		require.NoError(t, err)
		ids = append(ids, s)
	}

	require.True(t, sort.StringsAreSorted(ids))

	seen := make(map[string]struct{}, len(ids))
	for _, s := range ids {
		seen[s] = struct{}{}
	}
	require.Len(t, seen, len(ids))
}
