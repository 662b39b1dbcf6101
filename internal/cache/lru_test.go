package cache

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type memStore struct {
	data map[string]int
	puts []string
}

func newMemStore() *memStore { return &memStore{data: make(map[string]int)} }

func (m *memStore) Get(key string) (int, bool, error) {
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *memStore) Put(key string, val int) error {
	m.data[key] = val
	m.puts = append(m.puts, key)
	return nil
}

func TestShelveCacheEvictionWritesBackDirty(t *testing.T) {
	store := newMemStore()
	c, err := New[int](1, store, false)
	require.NoError(t, err)

	require.NoError(t, c.Set("a", 1))
	require.NoError(t, c.Set("b", 2)) // evicts "a", dirty -> write-back

	v, ok, err := store.Get("a")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 1, v)
}

func TestShelveCacheDelDoesNotWriteBack(t *testing.T) {
	store := newMemStore()
	c, err := New[int](2, store, false)
	require.NoError(t, err)

	require.NoError(t, c.Set("a", 1))
	c.Del("a")

	_, ok, err := store.Get("a")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestShelveCacheGetFallsBackToStore(t *testing.T) {
	store := newMemStore()
	store.data["x"] = 42
	c, err := New[int](2, store, false)
	require.NoError(t, err)

	v, ok, err := c.Get("x")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 42, v)
}

func TestShelveCacheReadonlyRejectsSet(t *testing.T) {
	store := newMemStore()
	c, err := New[int](2, store, true)
	require.NoError(t, err)

	err = c.Set("a", 1)
	require.ErrorIs(t, err, ErrReadonly)
}

func TestShelveCacheSyncFlushesWithoutEviction(t *testing.T) {
	store := newMemStore()
	c, err := New[int](4, store, false)
	require.NoError(t, err)

	require.NoError(t, c.Set("a", 1))
	require.NoError(t, c.Sync())

	v, ok, err := store.Get("a")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 1, v)
	require.Equal(t, 1, c.Len()) // still resident; sync does not evict
}

type memIntStore struct {
	data map[string]int64
}

func (m *memIntStore) Get(key string) (int64, bool, error) {
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *memIntStore) Put(key string, val int64) error {
	m.data[key] = val
	return nil
}

func TestSeqCounterIncrementsAndPersists(t *testing.T) {
	store := &memIntStore{data: make(map[string]int64)}
	sc := NewSeqCounter(store, false)

	v1, err := sc.Incr()
	require.NoError(t, err)
	require.Equal(t, int64(1), v1)

	v2, err := sc.Incr()
	require.NoError(t, err)
	require.Equal(t, int64(2), v2)

	require.Equal(t, int64(2), store.data[seqKey])
}

func TestSeqCounterSeedsFromExistingValue(t *testing.T) {
	store := &memIntStore{data: map[string]int64{seqKey: 100}}
	sc := NewSeqCounter(store, false)

	v, err := sc.Incr()
	require.NoError(t, err)
	require.Equal(t, int64(101), v)
}

func TestSeqCounterReadonlyRejectsIncr(t *testing.T) {
	store := &memIntStore{data: make(map[string]int64)}
	sc := NewSeqCounter(store, true)

	_, err := sc.Incr()
	require.ErrorIs(t, err, ErrReadonly)
}
