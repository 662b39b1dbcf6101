// Package cache implements the write-back LRU cache that sits in front of
// a shelved store: a bounded in-memory map over a larger on-disk key space,
// flushing dirty entries to a backing store on eviction or explicit sync.
package cache

import (
	"errors"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/etlmr-go/etlmr/internal/metrics"
)

// ErrReadonly is returned by any mutating operation on a readonly cache.
var ErrReadonly = errors.New("cache: readonly")

// seqKey is the reserved key under which Incr's counter is stored in the
// backing store, never surfaced to callers iterating real entries.
const seqKey = "\x00seq"

// Store is the backing persistence a ShelveCache writes through to on
// eviction and Sync. Get's second return reports presence, mirroring a map.
type Store[V any] interface {
	Get(key string) (V, bool, error)
	Put(key string, val V) error
}

// ShelveCache is a bounded LRU cache over a Store, tracking which cached
// entries have been mutated since they were loaded or last synced. Capacity
// eviction writes the evicted entry back if dirty; explicit Del does not
// write back, mirroring pyetlmr's LRUWrap.__delitem__.
type ShelveCache[V any] struct {
	mu       sync.Mutex
	store    Store[V]
	lru      *lru.Cache[string, V]
	dirty    map[string]bool
	readonly bool
	evictErr error

	// Name labels this cache's hit/miss counters. Defaults to "shelve"
	// when left unset by New's caller.
	Name string
}

// New builds a ShelveCache of the given capacity over store.
func New[V any](capacity int, store Store[V], readonly bool) (*ShelveCache[V], error) {
	c := &ShelveCache[V]{
		store:    store,
		dirty:    make(map[string]bool),
		readonly: readonly,
		Name:     "shelve",
	}
	l, err := lru.NewWithEvict(capacity, c.onEvict)
	if err != nil {
		return nil, err
	}
	c.lru = l
	return c, nil
}

// onEvict is invoked synchronously by the hashicorp LRU while c.mu is held
// (called from Set, or from Get when it caches a value loaded from the
// store; both already hold the lock).
func (c *ShelveCache[V]) onEvict(key string, val V) {
	if !c.dirty[key] {
		return
	}
	if err := c.store.Put(key, val); err != nil && c.evictErr == nil {
		c.evictErr = err
	}
	delete(c.dirty, key)
}

// Get returns the value for key, consulting the backing store on a cache
// miss and populating the cache with the loaded value (clean, not dirty).
func (c *ShelveCache[V]) Get(key string) (V, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if v, ok := c.lru.Get(key); ok {
		metrics.CacheHits.WithLabelValues(c.Name).Inc()
		return v, true, nil
	}
	metrics.CacheMisses.WithLabelValues(c.Name).Inc()
	v, ok, err := c.store.Get(key)
	if err != nil {
		var zero V
		return zero, false, err
	}
	if !ok {
		var zero V
		return zero, false, nil
	}
	c.lru.Add(key, v)
	return v, true, nil
}

// Peek returns the value for key without promoting it or consulting the
// backing store — cache-resident lookup only.
func (c *ShelveCache[V]) Peek(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Peek(key)
}

// Set writes key=val into the cache, marking it dirty so it is written
// back on eviction or Sync.
func (c *ShelveCache[V]) Set(key string, val V) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.readonly {
		return ErrReadonly
	}
	c.dirty[key] = true
	c.lru.Add(key, val)
	if c.evictErr != nil {
		err := c.evictErr
		c.evictErr = nil
		return err
	}
	return nil
}

// Del removes key from the cache without writing it back, matching
// pyetlmr's explicit delete semantics (distinct from eviction).
func (c *ShelveCache[V]) Del(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.dirty, key)
	c.lru.Remove(key)
}

// Sync writes every dirty cached entry back to the store and clears the
// dirty set, without evicting anything from the cache.
func (c *ShelveCache[V]) Sync() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key := range c.dirty {
		v, ok := c.lru.Peek(key)
		if !ok {
			continue
		}
		if err := c.store.Put(key, v); err != nil {
			return err
		}
		delete(c.dirty, key)
	}
	return nil
}

// Len returns the number of entries currently resident in the cache.
func (c *ShelveCache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// IntStore is the narrow Store view Incr needs: get/put of the int64
// counter persisted under the reserved seq key.
type IntStore interface {
	Get(key string) (int64, bool, error)
	Put(key string, val int64) error
}

// SeqCounter is a monotonically increasing surrogate-key generator backed
// by a single reserved row in a store, matching pyetlmr's LRUWrap.incr():
// the counter is read once, held in memory, and written back on every
// increment.
type SeqCounter struct {
	mu       sync.Mutex
	store    IntStore
	value    int64
	loaded   bool
	readonly bool
}

// NewSeqCounter builds a SeqCounter over store, seeding lazily from
// store.Get(seqKey) on first use.
func NewSeqCounter(store IntStore, readonly bool) *SeqCounter {
	return &SeqCounter{store: store, readonly: readonly}
}

// Incr returns the next value of the counter, persisting the new value
// immediately. Returns ErrReadonly if the counter is readonly.
func (s *SeqCounter) Incr() (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.readonly {
		return 0, ErrReadonly
	}
	if !s.loaded {
		v, ok, err := s.store.Get(seqKey)
		if err != nil {
			return 0, err
		}
		if ok {
			s.value = v
		}
		s.loaded = true
	}
	s.value++
	if err := s.store.Put(seqKey, s.value); err != nil {
		return 0, err
	}
	return s.value, nil
}
