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

type memStore struct {
	data map[string][]dimension.Version
	seq  int64
}

func newMemStore() *memStore { return &memStore{data: make(map[string][]dimension.Version)} }

func (m *memStore) Get(key string) ([]dimension.Version, bool, error) {
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *memStore) Set(key string, val []dimension.Version) error {
	m.data[key] = val
	return nil
}

func (m *memStore) Del(key string) { delete(m.data, key) }

func (m *memStore) Incr() (int64, error) {
	m.seq++
	return m.seq, nil
}

func (m *memStore) Sync() error  { return nil }
func (m *memStore) Close() error { return nil }

func (m *memStore) Each(fn func(key string, val []dimension.Version) error) error {
	for k, v := range m.data {
		if err := fn(k, v); err != nil {
			return err
		}
	}
	return nil
}

func TestRunODOTLoadsEachDimensionOnce(t *testing.T) {
	ctx := context.Background()
	custStore := newMemStore()
	custDim, err := dimension.NewCachedDimension("customer", "customerid", []string{"customername"}, nil, custStore,
		dimension.WithLookupAttributes([]string{"customername"}))
	require.NoError(t, err)

	prodStore := newMemStore()
	prodDim, err := dimension.NewCachedDimension("product", "productid", []string{"productname"}, nil, prodStore,
		dimension.WithLookupAttributes([]string{"productname"}))
	require.NoError(t, err)

	cfg, err := config.NewBuilder().
		WithConnection(&sqlconn.Connection{}).
		Dimension(custDim, config.DimensionSettings{SrcFields: []string{"customername"}}).
		Dimension(prodDim, config.DimensionSettings{SrcFields: []string{"productname"}}).
		Order([]dimension.Dimension{custDim, prodDim}).
		Build()
	require.NoError(t, err)

	rows := []row.Row{
		{"customername": row.String("acme"), "productname": row.String("widget")},
		{"customername": row.String("acme"), "productname": row.String("sprocket")},
		{"customername": row.String("globex"), "productname": row.String("widget")},
	}

	runner := &mr.Local{}
	require.NoError(t, RunODOT(ctx, runner, cfg, rows))

	require.Len(t, custStore.data, 2)
	require.Len(t, prodStore.data, 2)

	id1, err := custDim.Lookup(ctx, rows[0], nil)
	require.NoError(t, err)
	id2, err := custDim.Lookup(ctx, rows[1], nil)
	require.NoError(t, err)
	require.True(t, id1.Equal(id2))
}
