package config

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/etlmr-go/etlmr/internal/dimension"
	"github.com/etlmr-go/etlmr/internal/sqlconn"
)

func TestBuildRequiresConnection(t *testing.T) {
	b := NewBuilder()
	_, err := b.Build()
	require.Error(t, err)
}

func TestBuildRequiresDimensions(t *testing.T) {
	b := NewBuilder().WithConnection(&sqlconn.Connection{})
	_, err := b.Build()
	require.Error(t, err)
}

func TestBuildDefaultsOrderToAllDimensions(t *testing.T) {
	dim, err := dimension.NewCachedDimension("testdim", "testid", []string{"testname"}, nil, nil)
	require.NoError(t, err)

	b := NewBuilder().WithConnection(&sqlconn.Connection{})
	b.Dimension(dim, DimensionSettings{SrcFields: []string{"test"}})

	cfg, err := b.Build()
	require.NoError(t, err)
	require.Len(t, cfg.Order, 1)
	require.Len(t, cfg.Order[0], 1)
}

func TestBuildRejectsOrderWithUndeclaredDimension(t *testing.T) {
	declared, err := dimension.NewCachedDimension("datedim", "dateid", []string{"date"}, nil, nil)
	require.NoError(t, err)
	undeclared, err := dimension.NewCachedDimension("testdim", "testid", []string{"testname"}, nil, nil)
	require.NoError(t, err)

	b := NewBuilder().WithConnection(&sqlconn.Connection{})
	b.Dimension(declared, DimensionSettings{})
	b.Order([]dimension.Dimension{undeclared})

	_, err = b.Build()
	require.Error(t, err)
}

func TestReferenceAndOrderAreRetained(t *testing.T) {
	child, err := dimension.NewCachedDimension("domaindim", "domainid", []string{"domain"}, nil, nil)
	require.NoError(t, err)
	parent, err := dimension.NewCachedDimension("pagedim", "pageid", []string{"url", "domainid"}, nil, nil)
	require.NoError(t, err)

	b := NewBuilder().WithConnection(&sqlconn.Connection{})
	b.Dimension(parent, DimensionSettings{})
	b.Dimension(child, DimensionSettings{})
	b.Reference(parent, child)
	b.Order([]dimension.Dimension{child}, []dimension.Dimension{parent})

	cfg, err := b.Build()
	require.NoError(t, err)
	require.Equal(t, []dimension.Dimension{child}, cfg.References[parent])
	require.Len(t, cfg.Order, 2)
}
