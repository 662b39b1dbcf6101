package strategy

import (
	"context"
	"fmt"

	"github.com/etlmr-go/etlmr/internal/config"
	"github.com/etlmr-go/etlmr/internal/mr"
	"github.com/etlmr-go/etlmr/internal/row"
)

// RunODOT loads every dimension level in cfg.Order with one map/reduce
// job per level: the mapper fans each input row out to every dimension
// in the level it is relevant to (projected to that dimension's source
// fields), and a partitioner keyed on dimension name routes all of a
// dimension's rows to one reducer, which owns that dimension's shelve
// exclusively and so never races itself. This mirrors odotetlmr.py's
// one-dimension-one-task assignment, expressed over internal/mr
// instead of a forked disco job per level.
func RunODOT(ctx context.Context, runner Runner, cfg *config.Config, rows []row.Row) error {
	records := make([]any, len(rows))
	for i, r := range rows {
		records[i] = r
	}
	for _, level := range cfg.Order {
		names := dimNameSet(level)
		job := mr.Job{
			Mapper:      &odotMapper{cfg: cfg, names: names},
			Combiner:    &odotCombiner{},
			Reducer:     &odotReducer{cfg: cfg},
			Partitioner: mr.PartitionerFunc(odotPartition),
			NrReduces:   len(level),
		}
		if job.NrReduces == 0 {
			continue
		}
		if _, err := runner.Run(ctx, job, records); err != nil {
			return fmt.Errorf("strategy: odot level: %w", err)
		}
	}
	return nil
}

// odotPartition is a placeholder partitioner: correctness of "one
// dimension per reducer" comes from Reduce being called once per
// distinct key regardless of which partition a key lands in, the same
// guarantee mr.Local and a real shuffle-based runner both provide. The
// function exists so a cluster-backed Runner can still balance work
// across reduce tasks by name.
func odotPartition(key string, n int) int {
	h := 0
	for _, b := range []byte(key) {
		h = h*31 + int(b)
	}
	if h < 0 {
		h = -h
	}
	return h % n
}

// odotCombinerBufSize is the per-dimension buffer the combiner flushes at,
// matching odotetlmr.py's combiner (flush every 50,000 buffered rows, and
// again on completion). mr.Local already groups every value for a key
// before reducing, so the buffering has no effect on correctness here; it
// documents the boundary a real shuffle-based runner would flush across.
const odotCombinerBufSize = 50000

type odotCombiner struct{}

// Combine passes every buffered value straight through in chunks of
// odotCombinerBufSize, mirroring the original's flush-on-full-buffer and
// flush-on-done behavior without reordering or merging values.
func (odotCombiner) Combine(ctx context.Context, key string, values []any, emit func(mr.KeyValue)) error {
	for i := 0; i < len(values); i += odotCombinerBufSize {
		end := i + odotCombinerBufSize
		if end > len(values) {
			end = len(values)
		}
		for _, v := range values[i:end] {
			emit(mr.KeyValue{Key: key, Value: v})
		}
	}
	return nil
}

type odotMapper struct {
	cfg   *config.Config
	names map[string]bool
}

func (m *odotMapper) Map(ctx context.Context, record any, emit func(mr.KeyValue)) error {
	r, ok := record.(row.Row)
	if !ok {
		return fmt.Errorf("strategy: odot mapper: unexpected record type %T", record)
	}
	for dim, settings := range m.cfg.Dimensions {
		if !m.names[dim.Name()] {
			continue
		}
		projected := row.ProjectSrcFields(settings.SrcFields, r)
		if len(projected) == 0 {
			continue
		}
		emit(mr.KeyValue{Key: dim.Name(), Value: projected})
	}
	return nil
}

type odotReducer struct {
	cfg *config.Config
}

func (red *odotReducer) Reduce(ctx context.Context, key string, values []any, emit func(mr.KeyValue)) error {
	dim := dimByName(red.cfg, key)
	if dim == nil {
		return fmt.Errorf("strategy: odot reducer: unknown dimension %q", key)
	}
	settings := red.cfg.Dimensions[dim]
	for _, v := range values {
		r, ok := v.(row.Row)
		if !ok {
			return fmt.Errorf("strategy: odot reducer %s: unexpected value type %T", key, v)
		}
		nr := r.Clone()
		row.ApplyAll(settings.RowHandlers, nr, settings.NameMappings)
		if _, err := dim.Ensure(ctx, nr, settings.NameMappings); err != nil {
			return fmt.Errorf("strategy: odot reducer %s: ensuring row: %w", key, err)
		}
	}
	return nil
}
