// This file plays the role conf/offlineconfig.py plays in pyetlmr: a
// flatter variant of the demo schema for the Offline-Big-Dim strategy,
// where pagedim carries domain/serverversion as plain string attributes
// rather than foreign keys into snowflaked dimensions, so the big
// dimension's per-task loads never need cross-dimension ordering.
package main

import (
	"fmt"

	"github.com/etlmr-go/etlmr/internal/bulkload"
	"github.com/etlmr-go/etlmr/internal/config"
	"github.com/etlmr-go/etlmr/internal/dimension"
	"github.com/etlmr-go/etlmr/internal/row"
	"github.com/etlmr-go/etlmr/internal/shelve"
	"github.com/etlmr-go/etlmr/internal/sqlconn"
	"github.com/etlmr-go/etlmr/internal/strategy"
)

// offlinePageAllAttrs is pagedim's key followed by its attributes, in
// the order its Version tuples (and GoLive's bulk insert) use.
var offlinePageAllAttrs = []string{
	"pageid", "url", "size", "validfrom", "validto", "version", "domain", "serverversion",
}

// offlineBigDimConfig bundles the *config.Config a LoadMethodOfflineBigDim
// run needs alongside the strategy.BigDimSpec driving it and the
// per-partition shelve stores GoLive later bulk-loads into the
// warehouse table.
type offlineBigDimConfig struct {
	cfg    *config.Config
	spec   strategy.BigDimSpec
	stores []*shelve.ShelvedStore[[]dimension.Version]
}

// buildOfflineBigDimConfig opens one pagedim shelve per partition (one
// per map task, matching --nr-maps), a shared shelve each for testdim
// and datedim, and assembles the config + BigDimSpec RunOfflineBigDim
// and the later go-live step need.
func buildOfflineBigDimConfig(con *sqlconn.Connection, shelveRoot string, cacheCapacity, partitions int) (*offlineBigDimConfig, error) {
	stores := make([]*shelve.ShelvedStore[[]dimension.Version], partitions)
	dims := make([]dimension.Dimension, partitions)
	for p := 0; p < partitions; p++ {
		s, err := shelve.OpenShelvedStore[[]dimension.Version](fmt.Sprintf("%s/pagedim-%d", shelveRoot, p), cacheCapacity, false)
		if err != nil {
			return nil, fmt.Errorf("offline config: opening pagedim shelve %d: %w", p, err)
		}
		stores[p] = s
		d, err := dimension.NewSlowlyChangingDimension("pagedim", "pageid",
			offlinePageAllAttrs[1:], "version", con, s,
			[]dimension.Option{dimension.WithLookupAttributes([]string{"url"}), dimension.WithBigDim()},
			dimension.WithFromToAttributes("validfrom", "validto"),
			dimension.WithSourceDateAttribute("lastmoddate"),
		)
		if err != nil {
			return nil, fmt.Errorf("offline config: building pagedim task %d: %w", p, err)
		}
		dims[p] = d
	}

	testStore, err := shelve.OpenShelvedStore[[]dimension.Version](shelveRoot+"/testdim", cacheCapacity, false)
	if err != nil {
		return nil, fmt.Errorf("offline config: opening testdim shelve: %w", err)
	}
	testdim, err := dimension.NewCachedDimension("testdim", "testid",
		[]string{"testname"}, con, testStore, dimension.WithDefaultIDValue(row.Int(-1)))
	if err != nil {
		return nil, err
	}

	dateStore, err := shelve.OpenShelvedStore[[]dimension.Version](shelveRoot+"/datedim", cacheCapacity, false)
	if err != nil {
		return nil, fmt.Errorf("offline config: opening datedim shelve: %w", err)
	}
	datedim, err := dimension.NewCachedDimension("datedim", "dateid",
		[]string{"date", "day", "month", "year", "week", "weekyear"}, con, dateStore,
		dimension.WithLookupAttributes([]string{"date"}))
	if err != nil {
		return nil, err
	}

	testresultsfact, err := bulkload.New("testresultsfact",
		[]string{"pageid", "testid", "dateid"}, []string{"errors"}, bulkload.PostgresCopyLoader(con.DB()),
		bulkload.WithBulkSize(500000))
	if err != nil {
		return nil, err
	}

	pagedimSettings := config.DimensionSettings{
		SrcFields:   []string{"url", "serverversion", "domain", "size", "lastmoddate"},
		RowHandlers: []row.RowHandler{row.RowHandlerFunc(extractDomainInfo), row.RowHandlerFunc(extractServerInfo)},
	}
	// pagedim's table entry stands in for every partition: RunOfflineBigDim
	// filters big-dim levels out of cfg.Order by name, never by identity,
	// so task 0's dimension is as good a placeholder as any other.
	b := config.NewBuilder().
		WithConnection(con).
		Dimension(dims[0], pagedimSettings).
		Dimension(testdim, config.DimensionSettings{
			SrcFields:    []string{"test"},
			NameMappings: row.Mapping{"testname": "test"},
		}).
		Dimension(datedim, config.DimensionSettings{
			SrcFields:    []string{"downloaddate"},
			RowHandlers:  []row.RowHandler{row.RowHandlerFunc(handleDate)},
			NameMappings: row.Mapping{"date": "downloaddate"},
		}).
		Order([]dimension.Dimension{dims[0], testdim, datedim}).
		Fact(testresultsfact, config.FactSettings{
			RefDims:      []dimension.Dimension{testdim, dims[0], datedim},
			RowHandlers:  []row.RowHandler{row.RowHandlerFunc(convertErrorsToInt)},
			NameMappings: row.Mapping{"testname": "test", "date": "downloaddate"},
		})
	cfg, err := b.Build()
	if err != nil {
		return nil, err
	}

	spec := strategy.BigDimSpec{
		Name:             "pagedim",
		BusinessKeyField: "url",
		Partitions:       partitions,
		Settings:         pagedimSettings,
		NewTaskDimension: func(p int) (dimension.Dimension, error) { return dims[p], nil },
	}
	return &offlineBigDimConfig{cfg: cfg, spec: spec, stores: stores}, nil
}
