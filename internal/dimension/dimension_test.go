package dimension

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/etlmr-go/etlmr/internal/row"
)

type memStore struct {
	data map[string][]Version
	seq  int64
}

func newMemStore() *memStore { return &memStore{data: make(map[string][]Version)} }

func (m *memStore) Get(key string) ([]Version, bool, error) {
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *memStore) Set(key string, val []Version) error {
	m.data[key] = val
	return nil
}

func (m *memStore) Del(key string) { delete(m.data, key) }

func (m *memStore) Incr() (int64, error) {
	m.seq++
	return m.seq, nil
}

func (m *memStore) Sync() error { return nil }
func (m *memStore) Close() error { return nil }

func (m *memStore) Each(fn func(key string, val []Version) error) error {
	for k, v := range m.data {
		if err := fn(k, v); err != nil {
			return err
		}
	}
	return nil
}

func TestCachedDimensionEnsureInsertsOnce(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	d, err := NewCachedDimension("testdim", "testid", []string{"testname"}, nil, store,
		WithLookupAttributes([]string{"testname"}), WithDefaultIDValue(row.Int(-1)))
	require.NoError(t, err)

	r := row.Row{"testname": row.String("perf")}
	id1, err := d.Ensure(ctx, r, nil)
	require.NoError(t, err)

	id2, err := d.Ensure(ctx, r, nil)
	require.NoError(t, err)
	require.True(t, id1.Equal(id2))
}

func TestCachedDimensionLookupReturnsDefaultWhenMissing(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	d, err := NewCachedDimension("testdim", "testid", []string{"testname"}, nil, store,
		WithDefaultIDValue(row.Int(-1)))
	require.NoError(t, err)

	id, err := d.Lookup(ctx, row.Row{"testname": row.String("missing")}, nil)
	require.NoError(t, err)
	require.True(t, id.Equal(row.Int(-1)))
}

func TestSlowlyChangingDimensionType1OverwritesInPlace(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	d, err := NewSlowlyChangingDimension("serverversiondim", "serverversionid",
		[]string{"serverversion", "patch"}, "serverversion", nil, store,
		[]Option{WithLookupAttributes([]string{"serverversion"}), WithDefaultIDValue(row.Int(-1))},
		WithType1Attributes([]string{"patch"}))
	require.NoError(t, err)

	r1 := row.Row{"serverversion": row.String("1.0"), "patch": row.Int(1)}
	id1, err := d.Ensure(ctx, r1, nil)
	require.NoError(t, err)

	r2 := row.Row{"serverversion": row.String("1.0"), "patch": row.Int(2)}
	id2, err := d.Ensure(ctx, r2, nil)
	require.NoError(t, err)
	require.True(t, id1.Equal(id2)) // same surrogate key, in-place update

	id3, err := d.Lookup(ctx, r2, nil)
	require.NoError(t, err)
	require.True(t, id1.Equal(id3))
}

func TestSlowlyChangingDimensionType2CreatesNewVersion(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	d, err := NewSlowlyChangingDimension("pagedim", "pageid",
		[]string{"url", "size", "validfrom", "validto", "version"}, "version", nil, store,
		[]Option{WithLookupAttributes([]string{"url"}), WithDefaultIDValue(row.Int(-1))},
		WithFromToAttributes("validfrom", "validto"),
		WithSourceDateAttribute("lastmoddate"))
	require.NoError(t, err)

	r1 := row.Row{
		"url": row.String("http://x.org/p"), "size": row.Int(100),
		"lastmoddate": row.Date(mustDate(t, "2020-01-01")),
	}
	id1, err := d.Ensure(ctx, r1, nil)
	require.NoError(t, err)

	r2 := row.Row{
		"url": row.String("http://x.org/p"), "size": row.Int(200),
		"lastmoddate": row.Date(mustDate(t, "2020-06-01")),
	}
	id2, err := d.Ensure(ctx, r2, nil)
	require.NoError(t, err)
	require.False(t, id1.Equal(id2))

	r3 := row.Row{
		"url": row.String("http://x.org/p"),
		"lastmoddate": row.Date(mustDate(t, "2020-03-01")),
	}
	found, err := d.Lookup(ctx, r3, nil)
	require.NoError(t, err)
	require.True(t, id1.Equal(found)) // falls within the first version's interval
}

func TestSnowflakedDimensionEnsuresChildrenFirst(t *testing.T) {
	ctx := context.Background()

	tldStore := newMemStore()
	tld, err := NewCachedDimension("topleveldomaindim", "topleveldomainid", []string{"topleveldomain"}, nil, tldStore,
		WithDefaultIDValue(row.Int(-1)))
	require.NoError(t, err)

	domainStore := newMemStore()
	domain, err := NewCachedDimension("domaindim", "domainid", []string{"domain", "topleveldomainid"}, nil, domainStore,
		WithLookupAttributes([]string{"domain"}), WithDefaultIDValue(row.Int(-1)))
	require.NoError(t, err)

	sf := NewSnowflakedDimension(domain, []Reference{
		{Parent: domain, Children: []Dimension{tld}},
	})

	r := row.Row{"domain": row.String("example.org"), "topleveldomain": row.String("org")}
	id, err := sf.Ensure(ctx, r, nil)
	require.NoError(t, err)
	require.False(t, id.IsNull())

	// the child must have been ensured and its key written back
	tldID, err := tld.Lookup(ctx, row.Row{"topleveldomain": row.String("org")}, nil)
	require.NoError(t, err)
	require.False(t, tldID.Equal(row.Int(-1)))
}

func mustDate(t *testing.T, s string) time.Time {
	t.Helper()
	v, err := row.ParseYMD(s)
	require.NoError(t, err)
	tm, ok := v.Time()
	require.True(t, ok)
	return tm
}
