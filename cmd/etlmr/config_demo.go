// This file plays the role conf/config.py plays in pyetlmr: it wires
// up one concrete star/snowflake schema (a web server test-log
// warehouse) against the generic packages under internal/. There is
// no YAML/JSON catalog format in the original either — configuration
// is a Go program here exactly as it was a Python module there.
package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/etlmr-go/etlmr/internal/bulkload"
	"github.com/etlmr-go/etlmr/internal/config"
	"github.com/etlmr-go/etlmr/internal/dimension"
	"github.com/etlmr-go/etlmr/internal/row"
	"github.com/etlmr-go/etlmr/internal/shelve"
	"github.com/etlmr-go/etlmr/internal/sqlconn"
)

// extractDomainInfo splits a page URL like "http://www.example.org/a"
// into its domain ("www.example.org") and top-level domain ("org"),
// mirroring UDF_extractdomaininfo.
func extractDomainInfo(r row.Row, mapping row.Mapping) {
	url := row.GetValue(r, "url", mapping).AsString()
	parts := strings.Split(url, "/")
	domain := ""
	if len(parts) >= 2 {
		domain = parts[len(parts)-2]
	}
	r[mapping.Get("domain")] = row.String(domain)
	tld := domain
	if idx := strings.LastIndex(domain, "."); idx >= 0 {
		tld = domain[idx+1:]
	}
	r[mapping.Get("topleveldomain")] = row.String(tld)
}

// extractServerInfo takes the server name from a "ServerName/Version"
// string, mirroring UDF_extractserverinfo.
func extractServerInfo(r row.Row, mapping row.Mapping) {
	sv := row.GetValue(r, "serverversion", mapping).AsString()
	name := sv
	if idx := strings.Index(sv, "/"); idx >= 0 {
		name = sv[:idx]
	}
	r[mapping.Get("server")] = row.String(name)
}

// handleDate decomposes a "downloaddate" source field into the
// calendar attributes datedim stores, mirroring UDF_datehandling.
func handleDate(r row.Row, mapping row.Mapping) {
	v, err := row.ParseYMD(row.GetValue(r, "date", mapping).AsString())
	if err != nil || v.IsNull() {
		return
	}
	t, _ := v.Time()
	isoYear, isoWeek := t.ISOWeek()
	r[mapping.Get("day")] = row.Int(int64(t.Day()))
	r[mapping.Get("month")] = row.Int(int64(t.Month()))
	r[mapping.Get("year")] = row.Int(int64(t.Year()))
	r[mapping.Get("week")] = row.Int(int64(isoWeek))
	r[mapping.Get("weekyear")] = row.Int(int64(isoYear))
}

// convertErrorsToInt mirrors UDF_convertstrtoint: the source "errors"
// field arrives as a string and must become an integer measure.
func convertErrorsToInt(r row.Row, mapping row.Mapping) {
	v := row.GetValue(r, "errors", mapping)
	if v.IsNull() {
		return
	}
	n, err := strconv.ParseInt(v.AsString(), 10, 64)
	if err != nil {
		return
	}
	r[mapping.Get("errors")] = row.Int(n)
}

// openDemoShelves opens one on-disk shelve per cached/SCD dimension
// the demo schema declares, rooted under shelveRoot.
func openDemoShelves(shelveRoot string, capacity int) (map[string]*shelve.ShelvedStore[[]dimension.Version], error) {
	names := []string{"topleveldomaindim", "domaindim", "serverdim", "serverversiondim", "pagedim", "datedim", "testdim"}
	out := make(map[string]*shelve.ShelvedStore[[]dimension.Version], len(names))
	for _, name := range names {
		s, err := shelve.OpenShelvedStore[[]dimension.Version](shelveRoot+"/"+name, capacity, false)
		if err != nil {
			return nil, fmt.Errorf("demo config: opening shelve for %s: %w", name, err)
		}
		out[name] = s
	}
	return out, nil
}

// buildDemoConfig assembles the web-server-test-log star schema: a
// snowflaked, slowly changing pagedim at its center (domaindim ->
// topleveldomaindim, serverversiondim -> serverdim), a plain testdim
// and datedim, and a single testresultsfact bulk fact table.
func buildDemoConfig(con *sqlconn.Connection, shelveRoot string, cacheCapacity int) (*config.Config, error) {
	stores, err := openDemoShelves(shelveRoot, cacheCapacity)
	if err != nil {
		return nil, err
	}

	topleveldomaindim, err := dimension.NewCachedDimension("topleveldomaindim", "topleveldomainid",
		[]string{"topleveldomain"}, con, stores["topleveldomaindim"])
	if err != nil {
		return nil, err
	}
	serverdim, err := dimension.NewCachedDimension("serverdim", "serverid",
		[]string{"server"}, con, stores["serverdim"])
	if err != nil {
		return nil, err
	}
	domaindimPlain, err := dimension.NewCachedDimension("domaindim", "domainid",
		[]string{"domain", "topleveldomainid"}, con, stores["domaindim"],
		dimension.WithLookupAttributes([]string{"domain"}))
	if err != nil {
		return nil, err
	}
	domaindim := dimension.NewSnowflakedDimension(domaindimPlain, []dimension.Reference{
		{Parent: domaindimPlain, Children: []dimension.Dimension{topleveldomaindim}},
	})

	serverversiondimPlain, err := dimension.NewCachedDimension("serverversiondim", "serverversionid",
		[]string{"serverversion", "serverid"}, con, stores["serverversiondim"],
		dimension.WithLookupAttributes([]string{"serverversion"}))
	if err != nil {
		return nil, err
	}
	serverversiondim := dimension.NewSnowflakedDimension(serverversiondimPlain, []dimension.Reference{
		{Parent: serverversiondimPlain, Children: []dimension.Dimension{serverdim}},
	})
	datedim, err := dimension.NewCachedDimension("datedim", "dateid",
		[]string{"date", "day", "month", "year", "week", "weekyear"}, con, stores["datedim"],
		dimension.WithLookupAttributes([]string{"date"}))
	if err != nil {
		return nil, err
	}
	testdim, err := dimension.NewCachedDimension("testdim", "testid",
		[]string{"testname"}, con, stores["testdim"],
		dimension.WithDefaultIDValue(row.Int(-1)))
	if err != nil {
		return nil, err
	}
	pagedimPlain, err := dimension.NewSlowlyChangingDimension("pagedim", "pageid",
		[]string{"url", "size", "validfrom", "validto", "version", "domainid", "serverversionid"},
		"version", con, stores["pagedim"],
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
