package strategy

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/etlmr-go/etlmr/internal/config"
	"github.com/etlmr-go/etlmr/internal/dimension"
	"github.com/etlmr-go/etlmr/internal/row"
	"github.com/etlmr-go/etlmr/internal/sqlconn"
)

func TestRunODATEnsuresEveryDimensionPerRow(t *testing.T) {
	ctx := context.Background()
	custStore := newMemStore()
	custDim, err := dimension.NewCachedDimension("customer", "customerid", []string{"customername"}, nil, custStore,
		dimension.WithLookupAttributes([]string{"customername"}))
	require.NoError(t, err)

	cfg, err := config.NewBuilder().
		WithConnection(&sqlconn.Connection{}).
		Dimension(custDim, config.DimensionSettings{SrcFields: []string{"customername"}}).
		Build()
	require.NoError(t, err)

	rows := []row.Row{
		{"customername": row.String("acme")},
		{"customername": row.String("acme")},
		{"customername": row.String("globex")},
	}
	require.NoError(t, RunODAT(ctx, cfg, rows))
	require.Len(t, custStore.data, 2)
}

func TestAnyToValueConvertsDriverTypes(t *testing.T) {
	require.True(t, anyToValue(nil).IsNull())
	require.True(t, anyToValue(int64(7)).Equal(row.Int(7)))
	require.True(t, anyToValue("x").Equal(row.String("x")))
	require.True(t, anyToValue([]byte("y")).Equal(row.String("y")))
	now := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
	require.True(t, anyToValue(now).Equal(row.Date(now)))
}

func TestValueArgRoundTrips(t *testing.T) {
	require.Nil(t, valueArg(row.Null))
	require.Equal(t, int64(3), valueArg(row.Int(3)))
	require.Equal(t, "hi", valueArg(row.String("hi")))
}
