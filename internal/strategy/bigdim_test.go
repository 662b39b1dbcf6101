package strategy

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/etlmr-go/etlmr/internal/config"
	"github.com/etlmr-go/etlmr/internal/dimension"
	"github.com/etlmr-go/etlmr/internal/mr"
	"github.com/etlmr-go/etlmr/internal/row"
	"github.com/etlmr-go/etlmr/internal/sqlconn"
)

// partitionByHash splits rows into n slices the way an upstream map
// task split would, each slice holding only rows whose business key
// hashes to that slice's index — the precondition RunOfflineBigDim
// validates rather than assumes.
func partitionByHash(rows []row.Row, field string, n int) [][]row.Row {
	out := make([][]row.Row, n)
	for _, r := range rows {
		p := int(hashBusinessKey(r[field]) % uint32(n))
		out[p] = append(out[p], r)
	}
	return out
}

func TestRunOfflineBigDimPartitionsByHashField(t *testing.T) {
	ctx := context.Background()
	stores := make([]*memStore, 2)
	spec := BigDimSpec{
		Name:             "visitor",
		BusinessKeyField: "visitorid",
		Partitions:       2,
		Settings:         config.DimensionSettings{SrcFields: []string{"visitorid"}},
		NewTaskDimension: func(p int) (dimension.Dimension, error) {
			stores[p] = newMemStore()
			return dimension.NewCachedDimension("visitor", "visitorkey", []string{"visitorid"}, nil, stores[p],
				dimension.WithLookupAttributes([]string{"visitorid"}))
		},
	}

	smallStore := newMemStore()
	smallDim, err := dimension.NewCachedDimension("browser", "browserid", []string{"browsername"}, nil, smallStore,
		dimension.WithLookupAttributes([]string{"browsername"}))
	require.NoError(t, err)

	cfg, err := config.NewBuilder().
		WithConnection(&sqlconn.Connection{}).
		Dimension(smallDim, config.DimensionSettings{SrcFields: []string{"browsername"}}).
		Order([]dimension.Dimension{smallDim}).
		Build()
	require.NoError(t, err)

	rows := []row.Row{
		{"visitorid": row.String("v1"), "browsername": row.String("firefox")},
		{"visitorid": row.String("v2"), "browsername": row.String("chrome")},
		{"visitorid": row.String("v2"), "browsername": row.String("chrome")},
	}
	partitions := partitionByHash(rows, "visitorid", 2)

	runner := &mr.Local{}
	require.NoError(t, RunOfflineBigDim(ctx, runner, cfg, spec, partitions))

	total := 0
	for _, s := range stores {
		total += len(s.data)
	}
	require.Equal(t, 2, total) // v1 and v2, however they landed across partitions
	require.Len(t, smallStore.data, 2)
}

func TestRunOfflineBigDimRejectsMisplacedPartition(t *testing.T) {
	ctx := context.Background()
	spec := BigDimSpec{
		Name:             "visitor",
		BusinessKeyField: "visitorid",
		Partitions:       2,
		Settings:         config.DimensionSettings{SrcFields: []string{"visitorid"}},
		NewTaskDimension: func(p int) (dimension.Dimension, error) {
			return dimension.NewCachedDimension("visitor", "visitorkey", []string{"visitorid"}, nil, newMemStore(),
				dimension.WithLookupAttributes([]string{"visitorid"}))
		},
	}
	cfg, err := config.NewBuilder().
		WithConnection(&sqlconn.Connection{}).
		Dimension(mustDim(t), config.DimensionSettings{SrcFields: []string{"x"}}).
		Build()
	require.NoError(t, err)

	v := row.String("v1")
	truePartition := int(hashBusinessKey(v) % 2)
	wrongPartition := 1 - truePartition
	partitions := make([][]row.Row, 2)
	// Placed in the partition its hash does NOT map to, simulating
	// input that was split with the wrong nr-maps.
	partitions[wrongPartition] = []row.Row{{"visitorid": v}}

	runner := &mr.Local{}
	err = RunOfflineBigDim(ctx, runner, cfg, spec, partitions)
	require.Error(t, err)
}

func mustDim(t *testing.T) dimension.Dimension {
	t.Helper()
	d, err := dimension.NewCachedDimension("placeholder", "placeholderid", []string{"x"}, nil, newMemStore())
	require.NoError(t, err)
	return d
}
