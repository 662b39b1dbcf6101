package strategy

import (
	"context"
	"fmt"
	"hash/fnv"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/etlmr-go/etlmr/internal/config"
	"github.com/etlmr-go/etlmr/internal/dimension"
	"github.com/etlmr-go/etlmr/internal/mr"
	"github.com/etlmr-go/etlmr/internal/row"
	"github.com/etlmr-go/etlmr/internal/sqlconn"
)

// BigDimSpec describes the one dimension an Offline-Big-Dim job
// partitions across Partitions independent tasks, instead of cached
// against a single shared shelve the way every other dimension is.
// Input is expected to already be split into Partitions slices
// upstream (one per map task, matching `--nr-maps`), each containing
// only rows whose BusinessKeyField hashes to that task's partition
// number; RunOfflineBigDim validates this rather than trusting it
// silently, per the resolved open question on offline-big-dim's
// partition validation.
type BigDimSpec struct {
	Name             string
	BusinessKeyField string
	Partitions       int
	Settings         config.DimensionSettings
	NewTaskDimension func(partition int) (dimension.Dimension, error)
}

func bigDimKey(name string, partition int) string {
	return fmt.Sprintf("%s\x1f%d", name, partition)
}

func parsePartition(key string) (int, bool) {
	idx := strings.LastIndexByte(key, '\x1f')
	if idx < 0 {
		return 0, false
	}
	p, err := strconv.Atoi(key[idx+1:])
	if err != nil {
		return 0, false
	}
	return p, true
}

func hashBusinessKey(v row.Value) uint32 {
	h := fnv.New32a()
	h.Write([]byte(v.AsString()))
	return h.Sum32()
}

// validatePrehash checks that partitions has exactly spec.Partitions
// slices (partition count must equal nr-maps) and that a sample of
// each slice's business-key values actually hash to that slice's own
// partition number. A caller that got its input split wrong — wrong
// nr-maps, or a hash function mismatched with whatever produced the
// input files — gets a configuration error here instead of rows
// silently landing on the wrong task.
func validatePrehash(spec BigDimSpec, partitions [][]row.Row) error {
	if len(partitions) != spec.Partitions {
		return config.NewConfigError("strategy: bigdim: %s expects %d partitions (nr-maps), got %d",
			spec.Name, spec.Partitions, len(partitions))
	}
	const sampleLimit = 50
	for p, part := range partitions {
		n := len(part)
		if n > sampleLimit {
			n = sampleLimit
		}
		for i := 0; i < n; i++ {
			v := row.GetValueOr(part[i], spec.BusinessKeyField, spec.Settings.NameMappings, row.Null)
			if v.IsNull() {
				return config.NewConfigError("strategy: bigdim: %s: row missing business key %q", spec.Name, spec.BusinessKeyField)
			}
			if int(hashBusinessKey(v)%uint32(spec.Partitions)) != p {
				return config.NewConfigError(
					"strategy: bigdim: %s: partition %d holds a row whose business key does not hash to it; input is not pre-hashed for nr-maps=%d",
					spec.Name, p, spec.Partitions)
			}
		}
	}
	return nil
}

type partitionedRow struct {
	partition int
	row       row.Row
}

type bigDimMapper struct {
	spec BigDimSpec
}

func (m *bigDimMapper) Map(ctx context.Context, record any, emit func(mr.KeyValue)) error {
	pr, ok := record.(partitionedRow)
	if !ok {
		return fmt.Errorf("strategy: bigdim mapper: unexpected record type %T", record)
	}
	projected := row.ProjectSrcFields(m.spec.Settings.SrcFields, pr.row)
	if len(projected) == 0 {
		return nil
	}
	emit(mr.KeyValue{Key: bigDimKey(m.spec.Name, pr.partition), Value: projected})
	return nil
}

// bigDimPartitionerFunc routes every key straight to the partition
// number already encoded in it: the whole point of a pre-hashed
// dimension is that partition assignment was decided once, upstream.
func bigDimPartitionerFunc(key string, n int) int {
	p, ok := parsePartition(key)
	if !ok {
		return 0
	}
	return p
}

type bigDimReducer struct {
	spec BigDimSpec
	dims []dimension.Dimension
}

func (red *bigDimReducer) Reduce(ctx context.Context, key string, values []any, emit func(mr.KeyValue)) error {
	partition, ok := parsePartition(key)
	if !ok || partition < 0 || partition >= len(red.dims) {
		return fmt.Errorf("strategy: bigdim: reduce key %q names an invalid partition for %s", key, red.spec.Name)
	}
	dim := red.dims[partition]
	seen := make(map[string]bool, len(values))
	for _, v := range values {
		r, ok := v.(row.Row)
		if !ok {
			return fmt.Errorf("strategy: bigdim reducer %s: unexpected value type %T", key, v)
		}
		dk, err := dedupeKey(r)
		if err != nil {
			return err
		}
		if seen[dk] {
			continue
		}
		seen[dk] = true

		nr := r.Clone()
		row.ApplyAll(red.spec.Settings.RowHandlers, nr, red.spec.Settings.NameMappings)
		if _, err := dim.Ensure(ctx, nr, red.spec.Settings.NameMappings); err != nil {
			return fmt.Errorf("strategy: bigdim: ensuring row in partition %d of %s: %w", partition, red.spec.Name, err)
		}
	}
	return nil
}

// RunOfflineBigDim loads spec's big dimension from partitions (one
// slice per map task) into Partitions independent per-task shelves,
// then loads every other dimension in cfg the ODOT way over the same
// rows, flattened (small dimensions are cheap enough to reduce into a
// single shared shelve per dimension). Fact loading is not run here:
// call LoadFacts once this and any prerequisite loads have completed,
// matching paralleletl.py's three-phase structure (load big dim, load
// small dims, fill facts).
func RunOfflineBigDim(ctx context.Context, runner Runner, cfg *config.Config, spec BigDimSpec, partitions [][]row.Row) error {
	if spec.Partitions <= 0 {
		return config.NewConfigError("strategy: bigdim: %s declares no partitions", spec.Name)
	}
	if err := validatePrehash(spec, partitions); err != nil {
		return err
	}

	dims := make([]dimension.Dimension, spec.Partitions)
	for p := 0; p < spec.Partitions; p++ {
		d, err := spec.NewTaskDimension(p)
		if err != nil {
			return fmt.Errorf("strategy: bigdim: building task %d for %s: %w", p, spec.Name, err)
		}
		dims[p] = d
	}

	var records []any
	var flatRows []row.Row
	for p, part := range partitions {
		for _, r := range part {
			records = append(records, partitionedRow{partition: p, row: r})
			flatRows = append(flatRows, r)
		}
	}
	job := mr.Job{
		Mapper:      &bigDimMapper{spec: spec},
		Reducer:     &bigDimReducer{spec: spec, dims: dims},
		Partitioner: mr.PartitionerFunc(bigDimPartitionerFunc),
		NrReduces:   spec.Partitions,
	}
	if _, err := runner.Run(ctx, job, records); err != nil {
		return fmt.Errorf("strategy: bigdim: loading %s: %w", spec.Name, err)
	}

	var smallLevels [][]dimension.Dimension
	for _, level := range cfg.Order {
		var small []dimension.Dimension
		for _, d := range level {
			if d.Name() != spec.Name {
				small = append(small, d)
			}
		}
		if len(small) > 0 {
			smallLevels = append(smallLevels, small)
		}
	}
	if len(smallLevels) == 0 {
		return nil
	}
	smallCfg := *cfg
	smallCfg.Order = smallLevels
	return RunODOT(ctx, runner, &smallCfg, flatRows)
}

// SyncShelves copies localDir (one task's shelve directory) to
// host:remoteDir over scp, authenticating with the SSH_USER/SSH_KEY
// environment variables, mirroring offdimetlmr.py's scp_file /
// sync_dims_across_servers step that gathers every task's shelve onto
// the single host that will run GoLive. The transport is delegated to
// the system scp/ssh binaries rather than reimplemented, since no
// third-party SSH client is part of the wired-in dependency stack.
func SyncShelves(ctx context.Context, localDir, host, remoteDir string) error {
	dest := fmt.Sprintf("%s:%s", host, remoteDir)
	if user := os.Getenv("SSH_USER"); user != "" {
		dest = fmt.Sprintf("%s@%s", user, dest)
	}
	args := []string{"-r"}
	if key := os.Getenv("SSH_KEY"); key != "" {
		args = append(args, "-i", key)
	}
	args = append(args, localDir, dest)

	cmd := exec.CommandContext(ctx, "scp", args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("strategy: scp %s to %s: %w: %s", localDir, dest, err, out)
	}
	return nil
}

// GoLive bulk-inserts every row a synced, merged big-dimension store
// holds into its warehouse table, the step that makes an
// Offline-Big-Dim load visible to readers. It is optional: the shelve
// is itself a durable, queryable record of the load, and pyetlmr's
// go-live step is run as a separate, later command.
func GoLive(ctx context.Context, con *sqlconn.Connection, table string, allAtts []string, store dimension.Store) error {
	placeholders := make([]string, len(allAtts))
	for i := range allAtts {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}
	stmt := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", table, strings.Join(allAtts, ","), strings.Join(placeholders, ","))
	return store.Each(func(key string, versions []dimension.Version) error {
		for _, v := range versions {
			args := make([]any, len(v))
			for i, val := range v {
				args[i] = valueArg(val)
			}
			if err := con.Execute(ctx, stmt, args...); err != nil {
				return fmt.Errorf("strategy: go-live inserting into %s: %w", table, err)
			}
		}
		return nil
	})
}
