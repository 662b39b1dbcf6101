package shelve

import (
	"encoding/json"
	"fmt"

	"github.com/etlmr-go/etlmr/internal/cache"
)

// reservedSeqKey mirrors the reserved counter key cache.SeqCounter writes
// under (internal/cache's seqKey), so Each can skip it without importing
// an unexported identifier across package boundaries.
const reservedSeqKey = "\x00seq"

// ShelvedStore composes a disk-backed Store with an LRU cache in front of
// it, plus a monotonic surrogate-key counter sharing the same database.
// This is the complete "shelved store" of spec.md §4.1: a bounded number
// of hot keys held in memory, the full key space durable on disk.
type ShelvedStore[V any] struct {
	store    *Store
	cache    *cache.ShelveCache[V]
	seq      *cache.SeqCounter
	readonly bool
}

// OpenShelvedStore opens a ShelvedStore rooted at dir, with the given LRU
// capacity.
func OpenShelvedStore[V any](dir string, capacity int, readonly bool) (*ShelvedStore[V], error) {
	store, err := OpenStore(dir)
	if err != nil {
		return nil, err
	}
	c, err := cache.New[V](capacity, NewJSONStore[V](store), readonly)
	if err != nil {
		store.Close()
		return nil, err
	}
	seq := cache.NewSeqCounter(NewIntStore(store), readonly)
	return &ShelvedStore[V]{store: store, cache: c, seq: seq, readonly: readonly}, nil
}

// Get returns the value for key, falling back to disk on a cache miss.
func (s *ShelvedStore[V]) Get(key string) (V, bool, error) {
	return s.cache.Get(key)
}

// Set stores key=val, marking it dirty for write-back.
func (s *ShelvedStore[V]) Set(key string, val V) error {
	return s.cache.Set(key, val)
}

// Del removes key without writing it back.
func (s *ShelvedStore[V]) Del(key string) {
	s.cache.Del(key)
}

// Incr returns the next value of the shared surrogate-key counter.
func (s *ShelvedStore[V]) Incr() (int64, error) {
	return s.seq.Incr()
}

// Sync flushes all dirty cached entries to disk.
func (s *ShelvedStore[V]) Sync() error {
	return s.cache.Sync()
}

// Each calls fn with every non-reserved (key, value) pair durable on
// disk, first syncing any dirty cache entries so nothing in memory is
// missed. Used for dumping a dimension's full shelved contents.
func (s *ShelvedStore[V]) Each(fn func(key string, val V) error) error {
	if err := s.Sync(); err != nil {
		return err
	}
	return s.store.Each(func(key string, raw []byte) error {
		if key == reservedSeqKey {
			return nil
		}
		var v V
		if err := json.Unmarshal(raw, &v); err != nil {
			return fmt.Errorf("shelve: decoding %q: %w", key, err)
		}
		return fn(key, v)
	})
}

// Close syncs and releases the underlying database handle.
func (s *ShelvedStore[V]) Close() error {
	if err := s.Sync(); err != nil {
		s.store.Close()
		return err
	}
	s.store.Close()
	return nil
}
