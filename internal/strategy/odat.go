package strategy

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/etlmr-go/etlmr/internal/config"
	"github.com/etlmr-go/etlmr/internal/dimension"
	"github.com/etlmr-go/etlmr/internal/keyserver"
	"github.com/etlmr-go/etlmr/internal/row"
	"github.com/etlmr-go/etlmr/internal/sqlconn"
)

// DirectStore makes a dimension.Dimension ensure rows straight against
// the live warehouse table instead of a local shelve, the way
// odatetlmr.py's tasks do: every task runs the same dimension logic
// concurrently with every other task, so a later internal/postfix pass
// is required to collapse whatever duplicates two tasks raced to
// insert. Surrogate keys come from a shared keyserver.Client rather
// than a local counter, so concurrent tasks never hand out the same
// id.
//
// DirectStore satisfies dimension.Store, so CachedDimension and
// SlowlyChangingDimension run unmodified on top of it.
type DirectStore struct {
	ctx        context.Context
	con        *sqlconn.Connection
	keys       *keyserver.Client
	table      string
	dimName    string
	keyAtt     string
	allAtts    []string
	lookupAtts []string
}

// NewDirectStore builds a DirectStore for a dimension table. allAtts is
// the key attribute followed by every other attribute, in the same
// order dimension.Version tuples use. lookupAtts is the subset used to
// search for an existing row, matching the dimension's own
// configuration. dimName is the name the key server tracks this
// dimension's counter under (see keyserver.DimensionSpec).
func NewDirectStore(ctx context.Context, con *sqlconn.Connection, keys *keyserver.Client, table, dimName string, allAtts, lookupAtts []string) *DirectStore {
	return &DirectStore{
		ctx: ctx, con: con, keys: keys,
		table: table, dimName: dimName,
		keyAtt:     allAtts[0],
		allAtts:    allAtts,
		lookupAtts: lookupAtts,
	}
}

// Get looks up the row(s) matching the lookup-attribute values encoded
// in key.
func (d *DirectStore) Get(key string) ([]dimension.Version, bool, error) {
	vals, err := row.DecodeSearchKey(key)
	if err != nil {
		return nil, false, err
	}
	where, args := d.whereClause(vals)
	stmt := fmt.Sprintf("SELECT %s FROM %s WHERE %s ORDER BY %s",
		strings.Join(d.allAtts, ","), d.table, where, d.keyAtt)
	if err := d.con.Query(d.ctx, stmt, args...); err != nil {
		return nil, false, err
	}
	tuples, err := d.con.FetchAllTuples()
	if err != nil {
		return nil, false, err
	}
	if len(tuples) == 0 {
		return nil, false, nil
	}
	versions := make([]dimension.Version, len(tuples))
	for i, tup := range tuples {
		versions[i] = tupleToVersion(tup)
	}
	return versions, true, nil
}

// Set upserts every version in val by its key attribute, so both a
// fresh Insert and a Type-1 in-place overwrite go through the same
// path.
func (d *DirectStore) Set(key string, val []dimension.Version) error {
	for _, v := range val {
		if err := d.upsert(v); err != nil {
			return err
		}
	}
	return nil
}

func (d *DirectStore) upsert(v dimension.Version) error {
	placeholders := make([]string, len(d.allAtts))
	args := make([]any, len(d.allAtts))
	setClauses := make([]string, 0, len(d.allAtts)-1)
	for i, att := range d.allAtts {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = valueArg(v[i])
		if att != d.keyAtt {
			setClauses = append(setClauses, fmt.Sprintf("%s=EXCLUDED.%s", att, att))
		}
	}
	stmt := fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) DO UPDATE SET %s",
		d.table, strings.Join(d.allAtts, ","), strings.Join(placeholders, ","), d.keyAtt, strings.Join(setClauses, ","),
	)
	return d.con.Execute(d.ctx, stmt, args...)
}

// Del removes the row(s) matching key.
func (d *DirectStore) Del(key string) {
	vals, err := row.DecodeSearchKey(key)
	if err != nil {
		return
	}
	where, args := d.whereClause(vals)
	stmt := fmt.Sprintf("DELETE FROM %s WHERE %s", d.table, where)
	_ = d.con.Execute(d.ctx, stmt, args...)
}

// Incr draws the next surrogate key from the shared key server.
func (d *DirectStore) Incr() (int64, error) {
	return d.keys.Next(d.dimName)
}

// Sync is a no-op: every Set already wrote straight through to the
// warehouse.
func (d *DirectStore) Sync() error { return nil }

// Close is a no-op: the connection and key-server client outlive this
// store and are owned by the caller.
func (d *DirectStore) Close() error { return nil }

// Each scans every row of the table and reconstructs each one's lookup
// key, grouping by it the same way a shelve would.
func (d *DirectStore) Each(fn func(key string, val []dimension.Version) error) error {
	stmt := fmt.Sprintf("SELECT %s FROM %s ORDER BY %s", strings.Join(d.allAtts, ","), d.table, d.keyAtt)
	if err := d.con.Query(d.ctx, stmt); err != nil {
		return err
	}
	tuples, err := d.con.FetchAllTuples()
	if err != nil {
		return err
	}
	grouped := make(map[string][]dimension.Version)
	var order []string
	for _, tup := range tuples {
		v := tupleToVersion(tup)
		lookupVals := make([]row.Value, len(d.lookupAtts))
		for i, att := range d.lookupAtts {
			lookupVals[i] = v[d.attIndex(att)]
		}
		key, err := row.SearchKey(lookupVals)
		if err != nil {
			return err
		}
		if _, seen := grouped[key]; !seen {
			order = append(order, key)
		}
		grouped[key] = append(grouped[key], v)
	}
	for _, key := range order {
		if err := fn(key, grouped[key]); err != nil {
			return err
		}
	}
	return nil
}

func (d *DirectStore) attIndex(att string) int {
	for i, a := range d.allAtts {
		if a == att {
			return i
		}
	}
	return -1
}

func (d *DirectStore) whereClause(vals []row.Value) (string, []any) {
	clauses := make([]string, len(d.lookupAtts))
	args := make([]any, len(d.lookupAtts))
	for i, att := range d.lookupAtts {
		clauses[i] = fmt.Sprintf("%s=$%d", att, i+1)
		args[i] = valueArg(vals[i])
	}
	return strings.Join(clauses, " AND "), args
}

func tupleToVersion(tup []any) dimension.Version {
	v := make(dimension.Version, len(tup))
	for i, raw := range tup {
		v[i] = anyToValue(raw)
	}
	return v
}

func anyToValue(v any) row.Value {
	switch t := v.(type) {
	case nil:
		return row.Null
	case int64:
		return row.Int(t)
	case int32:
		return row.Int(int64(t))
	case string:
		return row.String(t)
	case []byte:
		return row.String(string(t))
	case time.Time:
		return row.Date(t)
	default:
		return row.String(fmt.Sprint(t))
	}
}

func valueArg(v row.Value) any {
	if v.IsNull() {
		return nil
	}
	if n, ok := v.Int64(); ok {
		return n
	}
	if t, ok := v.Time(); ok {
		return t
	}
	return v.AsString()
}

// RunODAT ensures every row's referenced dimensions directly against
// the warehouse, one row at a time. Unlike ODOT and Offline-Big-Dim
// this is not expressed as an mr.Job: odatetlmr.py's real parallelism
// comes from many OS processes each holding its own warehouse
// connection, while here every row shares one *sqlconn.Connection,
// which wraps a single non-concurrency-safe *sql.Tx. Looping
// sequentially preserves the "all statements on a connection are
// serialized" guarantee instead of silently corrupting it with
// goroutines mr.Local would otherwise spin up per record.
func RunODAT(ctx context.Context, cfg *config.Config, rows []row.Row) error {
	for _, r := range rows {
		for dim, settings := range cfg.Dimensions {
			nr := row.ProjectSrcFields(settings.SrcFields, r)
			if len(nr) == 0 {
				continue
			}
			row.ApplyAll(settings.RowHandlers, nr, settings.NameMappings)
			if _, err := dim.Ensure(ctx, nr, settings.NameMappings); err != nil {
				return fmt.Errorf("strategy: odat: ensuring %s: %w", dim.Name(), err)
			}
		}
	}
	return nil
}
