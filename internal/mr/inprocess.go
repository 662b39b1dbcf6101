package mr

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"
)

// Local runs a Job entirely in-process with one goroutine per input
// record for the map phase and one goroutine per reduce partition, for
// tests and small jobs that do not need a real cluster scheduler.
type Local struct {
	Concurrency int // map-phase goroutine cap; 0 means unbounded
}

// Run executes job over records, returning every reduce-phase output.
func (l *Local) Run(ctx context.Context, job Job, records []any) ([]KeyValue, error) {
	mapped, err := l.runMap(ctx, job, records)
	if err != nil {
		return nil, err
	}

	partitioner := job.Partitioner
	if partitioner == nil {
		partitioner = PartitionerFunc(hashPartition)
	}
	nrReduces := job.NrReduces
	if nrReduces <= 0 {
		nrReduces = 1
	}

	byKey := make(map[string][]any)
	for _, kv := range mapped {
		byKey[kv.Key] = append(byKey[kv.Key], kv.Value)
	}

	if job.Combiner != nil {
		for key, values := range byKey {
			var combined []any
			err := job.Combiner.Combine(ctx, key, values, func(kv KeyValue) {
				combined = append(combined, kv.Value)
			})
			if err != nil {
				return nil, fmt.Errorf("mr: combine %q: %w", key, err)
			}
			byKey[key] = combined
		}
	}

	partitions := make([]map[string][]any, nrReduces)
	for i := range partitions {
		partitions[i] = make(map[string][]any)
	}
	for key, values := range byKey {
		p := partitioner.Partition(key, nrReduces) % nrReduces
		partitions[p][key] = values
	}

	return l.runReduce(ctx, job, partitions)
}

func (l *Local) runMap(ctx context.Context, job Job, records []any) ([]KeyValue, error) {
	type result struct {
		kvs []KeyValue
		err error
	}
	results := make(chan result, len(records))
	sem := make(chan struct{}, l.concurrencyCap())

	var wg sync.WaitGroup
	for _, rec := range records {
		rec := rec
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			var kvs []KeyValue
			err := job.Mapper.Map(ctx, rec, func(kv KeyValue) { kvs = append(kvs, kv) })
			results <- result{kvs: kvs, err: err}
		}()
	}
	wg.Wait()
	close(results)

	var out []KeyValue
	for r := range results {
		if r.err != nil {
			return nil, fmt.Errorf("mr: map: %w", r.err)
		}
		out = append(out, r.kvs...)
	}
	return out, nil
}

func (l *Local) runReduce(ctx context.Context, job Job, partitions []map[string][]any) ([]KeyValue, error) {
	type result struct {
		kvs []KeyValue
		err error
	}
	results := make(chan result, len(partitions))
	var wg sync.WaitGroup
	for _, part := range partitions {
		part := part
		wg.Add(1)
		go func() {
			defer wg.Done()
			var kvs []KeyValue
			for key, values := range part {
				err := job.Reducer.Reduce(ctx, key, values, func(kv KeyValue) { kvs = append(kvs, kv) })
				if err != nil {
					results <- result{err: fmt.Errorf("mr: reduce %q: %w", key, err)}
					return
				}
			}
			results <- result{kvs: kvs}
		}()
	}
	wg.Wait()
	close(results)

	var out []KeyValue
	for r := range results {
		if r.err != nil {
			return nil, r.err
		}
		out = append(out, r.kvs...)
	}
	return out, nil
}

func (l *Local) concurrencyCap() int {
	if l.Concurrency > 0 {
		return l.Concurrency
	}
	return 1 << 20 // effectively unbounded
}

func hashPartition(key string, n int) int {
	h := fnv.New32a()
	h.Write([]byte(key))
	return int(h.Sum32() % uint32(n))
}
