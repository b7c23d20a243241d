package registry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddPreservesAppendOrder(t *testing.T) {
	r := New()

	var ids []string
	for i := 0; i < 5; i++ {
		_, cancel := context.WithCancel(context.Background())
		ids = append(ids, r.Add("server", i, cancel))
	}

	got := r.List()
	require.Len(t, got, 5)
	for i, e := range got {
		assert.Equal(t, ids[i], e.ID)
		assert.Equal(t, i, e.ServerIndex)
	}
}

func TestRemoveCancelsAndDeletes(t *testing.T) {
	r := New()
	cancelled := false
	_, cancel := context.WithCancel(context.Background())
	id := r.Add("server", 0, func() { cancelled = true; cancel() })

	ok := r.Remove(id)
	assert.True(t, ok)
	assert.True(t, cancelled)
	assert.Equal(t, 0, r.Len())
}

func TestRemoveUnknownIDReturnsFalse(t *testing.T) {
	r := New()
	assert.False(t, r.Remove("nonexistent"))
}

func TestRemovePreservesOrderOfRemainder(t *testing.T) {
	r := New()
	_, c0 := context.WithCancel(context.Background())
	_, c1 := context.WithCancel(context.Background())
	_, c2 := context.WithCancel(context.Background())

	id0 := r.Add("a", 0, c0)
	id1 := r.Add("b", 1, c1)
	id2 := r.Add("c", 2, c2)

	r.Remove(id1)

	got := r.List()
	require.Len(t, got, 2)
	assert.Equal(t, id0, got[0].ID)
	assert.Equal(t, id2, got[1].ID)
}

func TestStopAllClearsRegistry(t *testing.T) {
	r := New()
	var cancelCount int
	for i := 0; i < 3; i++ {
		r.Add("server", i, func() { cancelCount++ })
	}

	r.StopAll()

	assert.Equal(t, 3, cancelCount)
	assert.Equal(t, 0, r.Len())
}

func TestByServerIndexAtMostOneEntry(t *testing.T) {
	r := New()
	_, cancel := context.WithCancel(context.Background())
	id := r.Add("server", 7, cancel)

	entry, ok := r.ByServerIndex(7)
	require.True(t, ok)
	assert.Equal(t, id, entry.ID)

	_, ok = r.ByServerIndex(8)
	assert.False(t, ok)
}
