// Package metrics defines the prometheus counters this engine exposes:
// rows ensured per dimension, shelved-store cache hits/misses, bulk-load
// flushes, and central key-server requests. Grounded on the teacher's
// own promauto usage (go/flow/mapping.go's NewCounterVec), generalized
// to this system's metrics surface.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// RowsEnsured counts dimension.Ensure calls, labeled by dimension name.
var RowsEnsured = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "etlmr_rows_ensured_total",
	Help: "Number of dimension rows ensured, labeled by dimension name.",
}, []string{"dimension"})

// CacheHits counts ShelveCache.Get calls served from memory, labeled by
// the cache's Name.
var CacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "etlmr_cache_hits_total",
	Help: "Shelved-store cache hits, labeled by cache name.",
}, []string{"cache"})

// CacheMisses counts ShelveCache.Get calls that fell through to the
// backing store, labeled by the cache's Name.
var CacheMisses = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "etlmr_cache_misses_total",
	Help: "Shelved-store cache misses, labeled by cache name.",
}, []string{"cache"})

// BulkFlushes counts BulkFactTable flushes, labeled by table name.
var BulkFlushes = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "etlmr_bulk_flushes_total",
	Help: "Number of bulk-copy flushes performed, labeled by table name.",
}, []string{"table"})

// KeyServerRequests counts surrogate-key requests served by the central
// key server.
var KeyServerRequests = promauto.NewCounter(prometheus.CounterOpts{
	Name: "etlmr_keyserver_requests_total",
	Help: "Number of surrogate-key requests served by the central key server.",
})
