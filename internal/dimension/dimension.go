// Package dimension implements the dimension table kinds: plain cached
// dimensions, slowly changing dimensions (Type 1 and Type 2), and
// snowflaked dimensions composed of a root plus referenced sub-tables.
package dimension

import (
	"context"
	"fmt"

	"github.com/etlmr-go/etlmr/internal/metrics"
	"github.com/etlmr-go/etlmr/internal/row"
	"github.com/etlmr-go/etlmr/internal/sqlconn"
)

// Version is one stored tuple of attribute values, ordered the same way
// as the owning Dimension's All() attribute list. A lookup key can map to
// more than one Version — every version a slowly changing dimension has
// seen for that lookup key.
type Version []row.Value

// Store is the shelved persistence a Dimension keeps its rows in: a
// lookup-key string maps to the list of stored versions for that key.
// shelve.ShelvedStore[[]Version] satisfies this.
type Store interface {
	Get(key string) ([]Version, bool, error)
	Set(key string, val []Version) error
	Del(key string)
	Incr() (int64, error)
	Sync() error
	Close() error
	Each(fn func(key string, val []Version) error) error
}

// Dimension is the common read/write contract every dimension kind
// implements.
type Dimension interface {
	Name() string
	Key() string
	Lookup(ctx context.Context, r row.Row, mapping row.Mapping) (row.Value, error)
	Ensure(ctx context.Context, r row.Row, mapping row.Mapping) (row.Value, error)
}

// CachedDimension is a dimension backed entirely by a shelved store: rows
// are looked up and inserted against the shelve, never hitting the
// warehouse connection except to reserve big-dimension key ranges or to
// Prefill the shelve.
type CachedDimension struct {
	name         string
	key          string
	attributes   []string
	lookupatts   []string
	all          []string
	defaultID    row.Value
	con          *sqlconn.Connection
	store        Store
	bigdim       bool
	bigdimCursor int64
}

// Option configures a CachedDimension at construction.
type Option func(*CachedDimension)

// WithLookupAttributes overrides the default (attributes themselves) set
// of attributes used to search for an existing row.
func WithLookupAttributes(atts []string) Option {
	return func(d *CachedDimension) { d.lookupatts = atts }
}

// WithDefaultIDValue sets the value Lookup returns when no row matches,
// default row.Null.
func WithDefaultIDValue(v row.Value) Option {
	return func(d *CachedDimension) { d.defaultID = v }
}

// WithBigDim marks this dimension as partitioned across many mappers in
// the Offline-Big-Dim strategy: surrogate keys are drawn from centrally
// reserved 10,000-id ranges instead of the local shelve counter.
func WithBigDim() Option {
	return func(d *CachedDimension) { d.bigdim = true }
}

// NewCachedDimension builds a CachedDimension. con may be nil for
// dimensions that never reserve big-dimension key ranges and never
// prefill from the warehouse.
func NewCachedDimension(name, key string, attributes []string, con *sqlconn.Connection, store Store, opts ...Option) (*CachedDimension, error) {
	if key == "" {
		return nil, fmt.Errorf("dimension %s: key must not be empty", name)
	}
	if len(attributes) == 0 {
		return nil, fmt.Errorf("dimension %s: no attributes given", name)
	}
	d := &CachedDimension{
		name:       name,
		key:        key,
		attributes: attributes,
		lookupatts: attributes,
		defaultID:  row.Null,
		con:        con,
		store:      store,
	}
	d.all = append([]string{key}, attributes...)
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// DefaultID returns the value Lookup yields when no row matches.
func (d *CachedDimension) DefaultID() row.Value { return d.defaultID }

// Name returns the dimension table's name.
func (d *CachedDimension) Name() string { return d.name }

// Key returns the surrogate key attribute's name.
func (d *CachedDimension) Key() string { return d.key }

// All returns key followed by attributes, the order Version tuples store
// values in.
func (d *CachedDimension) All() []string { return d.all }

func (d *CachedDimension) searchKey(r row.Row, mapping row.Mapping) (string, error) {
	vals := make([]row.Value, len(d.lookupatts))
	for i, att := range d.lookupatts {
		vals[i] = row.GetValue(r, att, mapping)
	}
	return row.SearchKey(vals)
}

func (d *CachedDimension) toVersion(r row.Row, mapping row.Mapping) Version {
	v := make(Version, len(d.all))
	for i, att := range d.all {
		v[i] = row.GetValue(r, att, mapping)
	}
	return v
}

func (d *CachedDimension) fromVersion(v Version) row.Row {
	out := make(row.Row, len(d.all))
	for i, att := range d.all {
		out[att] = v[i]
	}
	return out
}

// Lookup returns the surrogate key of the row matching r's lookup
// attributes, or the configured default id value if none matches.
func (d *CachedDimension) Lookup(ctx context.Context, r row.Row, mapping row.Mapping) (row.Value, error) {
	versions, err := d.lookupVersions(r, mapping)
	if err != nil {
		return row.Null, err
	}
	if len(versions) == 0 {
		return d.defaultID, nil
	}
	return versions[0][0], nil
}

func (d *CachedDimension) lookupVersions(r row.Row, mapping row.Mapping) ([]Version, error) {
	key, err := d.searchKey(r, mapping)
	if err != nil {
		return nil, err
	}
	versions, ok, err := d.store.Get(key)
	if err != nil || !ok {
		return nil, err
	}
	return versions, nil
}

// Ensure returns the surrogate key of the row matching r, inserting it
// first if it was not already present.
func (d *CachedDimension) Ensure(ctx context.Context, r row.Row, mapping row.Mapping) (row.Value, error) {
	metrics.RowsEnsured.WithLabelValues(d.name).Inc()
	id, err := d.Lookup(ctx, r, mapping)
	if err != nil {
		return row.Null, err
	}
	if !id.Equal(d.defaultID) {
		return id, nil
	}
	return d.Insert(ctx, r, mapping)
}

// Insert adds row r as a new dimension row, assigning it a fresh
// surrogate key if r does not already carry one under the key attribute.
func (d *CachedDimension) Insert(ctx context.Context, r row.Row, mapping row.Mapping) (row.Value, error) {
	keyName := mapping.Get(d.key)
	keyVal, hasKey := r[keyName]
	if !hasKey || keyVal.IsNull() {
		id, err := d.nextID(ctx)
		if err != nil {
			return row.Null, err
		}
		keyVal = id
		r = r.Clone()
		r[keyName] = keyVal
	}

	searchKey, err := d.searchKey(r, mapping)
	if err != nil {
		return row.Null, err
	}
	version := d.toVersion(r, mapping)
	if err := d.store.Set(searchKey, []Version{version}); err != nil {
		return row.Null, err
	}
	return keyVal, nil
}

// nextID draws a fresh surrogate key: from the shared big-dimension
// range reservation when bigdim is set, otherwise from the shelve's own
// monotonic counter.
func (d *CachedDimension) nextID(ctx context.Context) (row.Value, error) {
	if d.bigdim {
		return d.nextBigDimID(ctx)
	}
	n, err := d.store.Incr()
	if err != nil {
		return row.Null, err
	}
	return row.Int(n), nil
}

// nextBigDimID reserves a fresh 10,000-id range from the warehouse's
// seq_<key> sequence whenever the local cursor runs out, and otherwise
// hands out the next id in the current range.
func (d *CachedDimension) nextBigDimID(ctx context.Context) (row.Value, error) {
	if d.bigdimCursor%10000 == 0 {
		if d.con == nil {
			return row.Null, fmt.Errorf("dimension %s: big-dim key reservation requires a connection", d.name)
		}
		stmt := fmt.Sprintf("SELECT NEXTVAL('seq_%s')", d.key)
		if err := d.con.Query(ctx, stmt); err != nil {
			return row.Null, err
		}
		tup, ok, err := d.con.FetchOneTuple()
		if err != nil {
			return row.Null, err
		}
		if !ok {
			return row.Null, fmt.Errorf("dimension %s: NEXTVAL returned no row", d.name)
		}
		n, ok := tup[0].(int64)
		if !ok {
			return row.Null, fmt.Errorf("dimension %s: NEXTVAL returned non-integer %v", d.name, tup[0])
		}
		d.bigdimCursor = n
		return row.Int(n), nil
	}
	d.bigdimCursor++
	return row.Int(d.bigdimCursor), nil
}

// Prefill loads every row currently in the warehouse table into the
// shelve, so a later Ensure call sees rows that already existed before
// this job ran.
func (d *CachedDimension) Prefill(ctx context.Context) error {
	colList := ""
	for i, a := range d.all {
		if i > 0 {
			colList += ","
		}
		colList += a
	}
	if err := d.con.Query(ctx, fmt.Sprintf("SELECT %s FROM %s", colList, d.name)); err != nil {
		return err
	}
	tuples, err := d.con.FetchAllTuples()
	if err != nil {
		return err
	}
	for _, tup := range tuples {
		r := make(row.Row, len(d.all))
		for i, a := range d.all {
			r[a] = anyToValue(tup[i])
		}
		key, err := d.searchKey(r, nil)
		if err != nil {
			return err
		}
		version := d.toVersion(r, nil)
		existing, ok, err := d.store.Get(key)
		if err != nil {
			return err
		}
		if ok {
			existing = append(existing, version)
		} else {
			existing = []Version{version}
		}
		if err := d.store.Set(key, existing); err != nil {
			return err
		}
	}
	return nil
}

func anyToValue(v any) row.Value {
	switch t := v.(type) {
	case nil:
		return row.Null
	case int64:
		return row.Int(t)
	case string:
		return row.String(t)
	default:
		return row.String(fmt.Sprint(t))
	}
}
