package driver

import (
	"context"
	"os"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"

	"github.com/etlmr-go/etlmr/internal/bulkload"
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
func (m *memStore) Set(key string, val []dimension.Version) error { m.data[key] = val; return nil }
func (m *memStore) Del(key string)                                { delete(m.data, key) }
func (m *memStore) Incr() (int64, error)                          { m.seq++; return m.seq, nil }
func (m *memStore) Sync() error                                   { return nil }
func (m *memStore) Close() error                                  { return nil }
func (m *memStore) Each(fn func(key string, val []dimension.Version) error) error {
	for k, v := range m.data {
		if err := fn(k, v); err != nil {
			return err
		}
	}
	return nil
}

func openTestConn(t *testing.T) *sqlconn.Connection {
	t.Helper()
	ctx := context.Background()
	c, err := sqlconn.Open(ctx, "sqlite3", "file::memory:?cache=shared")
	require.NoError(t, err)
	c.DB().SetMaxOpenConns(1)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestDriverRunDimensionsCommitsOnSuccess(t *testing.T) {
	ctx := context.Background()
	con := openTestConn(t)

	custDim, err := dimension.NewCachedDimension("customer", "customerid", []string{"customername"}, nil, newMemStore(),
		dimension.WithLookupAttributes([]string{"customername"}))
	require.NoError(t, err)

	cfg, err := config.NewBuilder().
		WithConnection(con).
		Dimension(custDim, config.DimensionSettings{SrcFields: []string{"customername"}}).
		Build()
	require.NoError(t, err)

	d := New(cfg, &mr.Local{})
	rows := []row.Row{{"customername": row.String("acme")}}
	err = d.Run(ctx, Options{LoadStep: LoadStepDimensions, LoadMethod: LoadMethodODOT}, rows, nil)
	require.NoError(t, err)

	id, err := custDim.Lookup(ctx, rows[0], nil)
	require.NoError(t, err)
	require.False(t, id.IsNull())
}

func TestDriverRunFactsInsertsAndCommits(t *testing.T) {
	ctx := context.Background()
	con := openTestConn(t)
	require.NoError(t, con.Execute(ctx, "CREATE TABLE sales (customerid INTEGER, amount INTEGER)"))
	require.NoError(t, con.Commit(ctx))

	custDim, err := dimension.NewCachedDimension("customer", "customerid", []string{"customername"}, nil, newMemStore(),
		dimension.WithLookupAttributes([]string{"customername"}))
	require.NoError(t, err)

	var insertedTable string
	loader := func(table string, attributes []string, fieldsep, rowsep, nullsubst string, f *os.File) error {
		insertedTable = table
		return nil
	}
	fact, err := bulkload.New("sales", []string{"customerid"}, []string{"amount"}, loader, bulkload.WithBulkSize(10))
	require.NoError(t, err)

	cfg, err := config.NewBuilder().
		WithConnection(con).
		Dimension(custDim, config.DimensionSettings{SrcFields: []string{"customername"}}).
		Fact(fact, config.FactSettings{RefDims: []dimension.Dimension{custDim}}).
		Build()
	require.NoError(t, err)

	d := New(cfg, &mr.Local{})
	rows := []row.Row{{"customername": row.String("acme"), "amount": row.Int(100)}}
	require.NoError(t, d.Run(ctx, Options{LoadStep: LoadStepDimensions, LoadMethod: LoadMethodODOT}, rows, nil))
	require.NoError(t, d.Run(ctx, Options{LoadStep: LoadStepFacts}, rows, nil))
	require.Equal(t, "sales", insertedTable)
}

func TestDriverRunDimensionsRejectsOfflineBigDimWithoutSpec(t *testing.T) {
	ctx := context.Background()
	con := openTestConn(t)
	dim, err := dimension.NewCachedDimension("customer", "customerid", []string{"customername"}, nil, newMemStore())
	require.NoError(t, err)
	cfg, err := config.NewBuilder().WithConnection(con).
		Dimension(dim, config.DimensionSettings{SrcFields: []string{"customername"}}).
		Build()
	require.NoError(t, err)

	d := New(cfg, &mr.Local{})
	err = d.Run(ctx, Options{LoadStep: LoadStepDimensions, LoadMethod: LoadMethodOfflineBigDim}, nil, nil)
	require.Error(t, err)
	var cerr *config.ConfigError
	require.ErrorAs(t, err, &cerr)
}
