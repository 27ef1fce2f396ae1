package signaling

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_AddFindSnapshotOrder(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Add("2", &recordingSender{}))
	require.NoError(t, r.Add("1", &recordingSender{}))
	require.NoError(t, r.Add("3", &recordingSender{}))

	m, ok := r.Find("1")
	require.True(t, ok)
	assert.Equal(t, "1", m.ID)
	assert.Empty(t, m.Username)

	snap := r.Snapshot()
	require.Len(t, snap, 3)
	assert.Equal(t, []string{"2", "1", "3"}, []string{snap[0].ID, snap[1].ID, snap[2].ID})
	assert.Equal(t, 3, r.Len())
}

func TestRegistry_DuplicateIDLeavesExistingEntry(t *testing.T) {
	r := NewRegistry()
	first := &recordingSender{}
	require.NoError(t, r.Add("1", first))
	require.True(t, r.SetUsername("1", "alice"))

	err := r.Add("1", &recordingSender{})
	require.ErrorIs(t, err, ErrDuplicateID)

	m, ok := r.Find("1")
	require.True(t, ok)
	assert.Equal(t, "alice", m.Username)
	assert.Same(t, first, m.Sender)
	assert.Equal(t, 1, r.Len())
}

func TestRegistry_SetUsernameUnknownIsNoop(t *testing.T) {
	r := NewRegistry()
	assert.False(t, r.SetUsername("missing", "bob"))
	assert.Equal(t, 0, r.Len())
}

func TestRegistry_RenameKeepsLatest(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Add("1", &recordingSender{}))
	r.SetUsername("1", "a")
	r.SetUsername("1", "b")

	snap := r.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, "b", snap[0].Username)
}

func TestRegistry_RemoveIsIdempotent(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Add("1", &recordingSender{}))
	require.NoError(t, r.Add("2", &recordingSender{}))

	assert.True(t, r.Remove("1"))
	assert.False(t, r.Remove("1"))

	_, ok := r.Find("1")
	assert.False(t, ok)
	snap := r.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, "2", snap[0].ID)
}

func TestRegistry_SnapshotIsACopy(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Add("1", &recordingSender{}))

	snap := r.Snapshot()
	r.SetUsername("1", "changed")
	assert.Empty(t, snap[0].Username)
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprint(i)
			assert.NoError(t, r.Add(id, &recordingSender{}))
			for j := 0; j < 50; j++ {
				r.SetUsername(id, fmt.Sprintf("user-%d-%d", i, j))
				for _, m := range r.Snapshot() {
					assert.NotEmpty(t, m.ID)
				}
			}
			if i%2 == 0 {
				r.Remove(id)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 16, r.Len())
	for _, m := range r.Snapshot() {
		var i int
		_, err := fmt.Sscan(m.ID, &i)
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("user-%d-49", i), m.Username)
	}
}
