package replica

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_AcquireReturnsSameInstance(t *testing.T) {
	store := NewStore()

	r1 := store.Acquire("doc-1")
	r2 := store.Acquire("doc-1")
	other := store.Acquire("doc-2")

	assert.Same(t, r1, r2)
	assert.NotSame(t, r1, other)
	assert.NotEqual(t, r1.ClientID(), other.ClientID())
	assert.Equal(t, 2, store.Len())
}

func TestStore_AcquireConcurrent(t *testing.T) {
	store := NewStore()

	var wg sync.WaitGroup
	results := make([]*Replica, 20)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = store.Acquire("shared")
		}()
	}
	wg.Wait()

	for _, r := range results {
		assert.Same(t, results[0], r)
	}
}

func TestStore_ReleaseDestroys(t *testing.T) {
	store := NewStore(WithClientIDs(10, 20))

	r := store.Acquire("doc")
	require.NoError(t, r.Insert(0, "before"))

	calls := 0
	r.Observe(func(Update) { calls++ })

	store.Release("doc")
	assert.True(t, r.Destroyed())
	assert.Zero(t, store.Len())

	_, ok := store.Get("doc")
	assert.False(t, ok)

	// правки уничтоженной реплики игнорируются
	require.NoError(t, r.Insert(0, "after"))
	assert.Equal(t, "before", r.Text())
	assert.Zero(t, calls)

	fresh := store.Acquire("doc")
	assert.NotSame(t, r, fresh)
	assert.Equal(t, uint64(20), fresh.ClientID())
	assert.Empty(t, fresh.Text())

	// повторный Release безопасен
	store.Release("doc")
	store.Release("doc")
}

func TestStore_ReleaseShared(t *testing.T) {
	store := NewStore()

	first := store.Acquire("doc")
	second := store.Acquire("doc")
	require.Same(t, first, second)
	assert.Equal(t, 2, store.Holders("doc"))

	store.Release("doc")
	assert.False(t, second.Destroyed())
	assert.Equal(t, 1, store.Holders("doc"))

	require.NoError(t, second.Insert(0, "still here"))
	assert.Equal(t, "still here", second.Text())

	got, ok := store.Get("doc")
	require.True(t, ok)
	assert.Same(t, second, got)

	store.Release("doc")
	assert.True(t, second.Destroyed())
	assert.Zero(t, store.Holders("doc"))
	assert.Zero(t, store.Len())
}

func TestWithClientIDs(t *testing.T) {
	store := NewStore(WithClientIDs(5))

	assert.Equal(t, uint64(5), store.Acquire("a").ClientID())
	assert.Equal(t, uint64(6), store.Acquire("b").ClientID())
	assert.Equal(t, uint64(7), store.Acquire("c").ClientID())
}

func TestReplica_ObserveOrigins(t *testing.T) {
	store := NewStore(WithClientIDs(1, 2))
	a := store.Acquire("doc")
	b := NewStore(WithClientIDs(2)).Acquire("doc")

	var got []Update
	unsubscribe := b.Observe(func(u Update) { got = append(got, u) })

	var local []Update
	a.Observe(func(u Update) { local = append(local, u) })

	require.NoError(t, a.Insert(0, "hi"))
	require.Len(t, local, 1)
	assert.Equal(t, OriginLocal, local[0].Origin)

	require.NoError(t, b.ApplyUpdate(local[0].Data, OriginRemote))
	require.NoError(t, b.ApplyUpdate(local[0].Data, OriginRemote)) // дубликат

	require.Len(t, got, 1, "duplicate update must not notify")
	assert.Equal(t, OriginRemote, got[0].Origin)
	assert.Equal(t, "hi", b.Text())

	unsubscribe()
	require.NoError(t, b.Insert(2, "!"))
	assert.Len(t, got, 1)
}

func TestReplica_Fields(t *testing.T) {
	r := NewStore().Acquire("doc")

	require.NoError(t, r.SetField("title", []byte("Notes")))
	value, ok := r.Field("title")
	require.True(t, ok)
	assert.Equal(t, "Notes", string(value))
	assert.Equal(t, []string{"title"}, r.Fields())

	r.RemoveField("title")
	_, ok = r.Field("title")
	assert.False(t, ok)
}

func TestOrigin_String(t *testing.T) {
	assert.Equal(t, "local", OriginLocal.String())
	assert.Equal(t, "remote", OriginRemote.String())
	assert.Equal(t, "snapshot", OriginSnapshot.String())
	assert.Equal(t, "unknown", Origin(99).String())
}
