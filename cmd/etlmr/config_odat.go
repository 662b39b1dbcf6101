// This file plays the role conf/odatconfig.py plays in pyetlmr: the
// same web-server test-log schema as config_demo.go, but with every
// dimension ensured straight against the live warehouse through a
// strategy.DirectStore instead of a local shelve, drawing surrogate
// keys from a shared keyserver.Client instead of a shelve counter.
package main

import (
	"context"

	"github.com/etlmr-go/etlmr/internal/bulkload"
	"github.com/etlmr-go/etlmr/internal/config"
	"github.com/etlmr-go/etlmr/internal/dimension"
	"github.com/etlmr-go/etlmr/internal/keyserver"
	"github.com/etlmr-go/etlmr/internal/postfix"
	"github.com/etlmr-go/etlmr/internal/row"
	"github.com/etlmr-go/etlmr/internal/sqlconn"
	"github.com/etlmr-go/etlmr/internal/strategy"
)

// odatKeyServerSpecs lists every dimension (including snowflaked
// children) the demo schema's key server must seed a counter for,
// matching odatconfig.py's seq_init call over the same table set.
func odatKeyServerSpecs() []keyserver.DimensionSpec {
	return []keyserver.DimensionSpec{
		{Name: "topleveldomaindim", Key: "topleveldomainid"},
		{Name: "serverdim", Key: "serverid"},
		{Name: "domaindim", Key: "domainid"},
		{Name: "serverversiondim", Key: "serverversionid"},
		{Name: "pagedim", Key: "pageid"},
		{Name: "testdim", Key: "testid"},
		{Name: "datedim", Key: "dateid"},
	}
}

// buildDemoODATConfig assembles the same star schema buildDemoConfig
// does, but every dimension's Store is a strategy.DirectStore reading
// and writing the warehouse table directly: concurrent ODAT tasks race
// to insert into the very tables readers already query, which is why a
// post-fix pass (see main.go) must run once this load completes.
func buildDemoODATConfig(ctx context.Context, con *sqlconn.Connection, keys *keyserver.Client) (*config.Config, error) {
	newStore := func(table string, allAtts, lookupAtts []string) *strategy.DirectStore {
		return strategy.NewDirectStore(ctx, con, keys, table, table, allAtts, lookupAtts)
	}

	topleveldomaindim, err := dimension.NewCachedDimension("topleveldomaindim", "topleveldomainid",
		[]string{"topleveldomain"}, con,
		newStore("topleveldomaindim", []string{"topleveldomainid", "topleveldomain"}, []string{"topleveldomain"}))
	if err != nil {
		return nil, err
	}
	serverdim, err := dimension.NewCachedDimension("serverdim", "serverid",
		[]string{"server"}, con,
		newStore("serverdim", []string{"serverid", "server"}, []string{"server"}))
	if err != nil {
		return nil, err
	}
	domaindimPlain, err := dimension.NewCachedDimension("domaindim", "domainid",
		[]string{"domain", "topleveldomainid"}, con,
		newStore("domaindim", []string{"domainid", "domain", "topleveldomainid"}, []string{"domain"}),
		dimension.WithLookupAttributes([]string{"domain"}))
	if err != nil {
		return nil, err
	}
	domaindim := dimension.NewSnowflakedDimension(domaindimPlain, []dimension.Reference{
		{Parent: domaindimPlain, Children: []dimension.Dimension{topleveldomaindim}},
	})

	serverversiondimPlain, err := dimension.NewCachedDimension("serverversiondim", "serverversionid",
		[]string{"serverversion", "serverid"}, con,
		newStore("serverversiondim", []string{"serverversionid", "serverversion", "serverid"}, []string{"serverversion"}),
		dimension.WithLookupAttributes([]string{"serverversion"}))
	if err != nil {
		return nil, err
	}
	serverversiondim := dimension.NewSnowflakedDimension(serverversiondimPlain, []dimension.Reference{
		{Parent: serverversiondimPlain, Children: []dimension.Dimension{serverdim}},
	})
	datedim, err := dimension.NewCachedDimension("datedim", "dateid",
		[]string{"date", "day", "month", "year", "week", "weekyear"}, con,
		newStore("datedim", []string{"dateid", "date", "day", "month", "year", "week", "weekyear"}, []string{"date"}),
		dimension.WithLookupAttributes([]string{"date"}))
	if err != nil {
		return nil, err
	}
	testdim, err := dimension.NewCachedDimension("testdim", "testid",
		[]string{"testname"}, con,
		newStore("testdim", []string{"testid", "testname"}, []string{"testname"}),
		dimension.WithDefaultIDValue(row.Int(-1)))
	if err != nil {
		return nil, err
	}
	pagedimPlain, err := dimension.NewSlowlyChangingDimension("pagedim", "pageid",
		[]string{"url", "size", "validfrom", "validto", "version", "domainid", "serverversionid"},
		"version", con,
		newStore("pagedim", []string{"pageid", "url", "size", "validfrom", "validto", "version", "domainid", "serverversionid"}, []string{"url"}),
		[]dimension.Option{dimension.WithLookupAttributes([]string{"url"})},
		dimension.WithFromToAttributes("validfrom", "validto"),
		dimension.WithSourceDateAttribute("lastmoddate"),
	)
	if err != nil {
		return nil, err
	}
	pagedim := dimension.NewSnowflakedDimension(pagedimPlain, []dimension.Reference{
		{Parent: pagedimPlain, Children: []dimension.Dimension{domaindim, serverversiondim}},
	})

	testresultsfact, err := bulkload.New("testresultsfact",
		[]string{"pageid", "testid", "dateid"}, []string{"errors"}, bulkload.PostgresCopyLoader(con.DB()),
		bulkload.WithBulkSize(500000))
	if err != nil {
		return nil, err
	}

	b := config.NewBuilder().
		WithConnection(con).
		Dimension(pagedim, config.DimensionSettings{
			SrcFields:   []string{"url", "serverversion", "size", "lastmoddate"},
			RowHandlers: []row.RowHandler{row.RowHandlerFunc(extractDomainInfo), row.RowHandlerFunc(extractServerInfo)},
		}).
		Dimension(topleveldomaindim, config.DimensionSettings{
			SrcFields:   []string{"url"},
			RowHandlers: []row.RowHandler{row.RowHandlerFunc(extractDomainInfo)},
		}).
		Dimension(domaindim, config.DimensionSettings{
			SrcFields:   []string{"url"},
			RowHandlers: []row.RowHandler{row.RowHandlerFunc(extractDomainInfo)},
		}).
		Dimension(serverdim, config.DimensionSettings{
			SrcFields:   []string{"serverversion"},
			RowHandlers: []row.RowHandler{row.RowHandlerFunc(extractServerInfo)},
		}).
		Dimension(serverversiondim, config.DimensionSettings{
			SrcFields:   []string{"serverversion"},
			RowHandlers: []row.RowHandler{row.RowHandlerFunc(extractServerInfo)},
		}).
		Dimension(datedim, config.DimensionSettings{
			SrcFields:    []string{"downloaddate"},
			RowHandlers:  []row.RowHandler{row.RowHandlerFunc(handleDate)},
			NameMappings: row.Mapping{"date": "downloaddate"},
		}).
		Dimension(testdim, config.DimensionSettings{
			SrcFields:    []string{"test"},
			NameMappings: row.Mapping{"testname": "test"},
		}).
		Reference(pagedimPlain, serverversiondimPlain, domaindimPlain).
		Reference(serverversiondimPlain, serverdim).
		Reference(domaindimPlain, topleveldomaindim).
		Order(
			[]dimension.Dimension{topleveldomaindim, serverdim},
			[]dimension.Dimension{domaindim, serverversiondim},
			[]dimension.Dimension{pagedim, testdim, datedim},
		).
		Fact(testresultsfact, config.FactSettings{
			RefDims:      []dimension.Dimension{testdim, pagedim, datedim},
			RowHandlers:  []row.RowHandler{row.RowHandlerFunc(convertErrorsToInt)},
			NameMappings: row.Mapping{"testname": "test", "date": "downloaddate"},
		})

	return b.Build()
}

// odatPostfixSpec describes the schema above's snowflake edges as a
// postfix.NodeSpec tree, rooted at pagedim, for driver.WithPostfixRoot.
func odatPostfixSpec() postfix.NodeSpec {
	return postfix.NodeSpec{
		Name: "pagedim", Key: "pageid", LookupAttrs: []string{"url"},
		Children: []postfix.NodeSpec{
			{
				Name: "domaindim", Key: "domainid", LookupAttrs: []string{"domain"},
				Children: []postfix.NodeSpec{
					{Name: "topleveldomaindim", Key: "topleveldomainid", LookupAttrs: []string{"topleveldomain"}},
				},
			},
			{
				Name: "serverversiondim", Key: "serverversionid", LookupAttrs: []string{"serverversion"},
				Children: []postfix.NodeSpec{
					{Name: "serverdim", Key: "serverid", LookupAttrs: []string{"server"}},
				},
			},
		},
	}
}
