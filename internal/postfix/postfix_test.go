package postfix

import (
	"context"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"

	"github.com/etlmr-go/etlmr/internal/sqlconn"
)

func openTestConn(t *testing.T) *sqlconn.Connection {
	t.Helper()
	ctx := context.Background()
	c, err := sqlconn.Open(ctx, "sqlite3", "file::memory:?cache=shared")
	require.NoError(t, err)
	c.DB().SetMaxOpenConns(1)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestFixDeletesNonRootDuplicatesAndRewritesForeignKeys(t *testing.T) {
	ctx := context.Background()
	con := openTestConn(t)

	require.NoError(t, con.Execute(ctx, "CREATE TABLE domaindim (domainid INTEGER, domain TEXT)"))
	require.NoError(t, con.Execute(ctx, "CREATE TABLE pagedim (pageid INTEGER, url TEXT, domainid INTEGER)"))

	// two reducers both inserted "example.org" under different ids
	require.NoError(t, con.Execute(ctx, "INSERT INTO domaindim VALUES (1, 'example.org')"))
	require.NoError(t, con.Execute(ctx, "INSERT INTO domaindim VALUES (2, 'example.org')"))
	require.NoError(t, con.Execute(ctx, "INSERT INTO domaindim VALUES (3, 'other.org')"))

	require.NoError(t, con.Execute(ctx, "INSERT INTO pagedim VALUES (10, '/a', 1)"))
	require.NoError(t, con.Execute(ctx, "INSERT INTO pagedim VALUES (11, '/b', 2)"))
	require.NoError(t, con.Commit(ctx))

	domain := NewTable("domaindim", "domainid", []string{"domain"}, nil, con)
	page := NewTable("pagedim", "pageid", []string{"url", "domainid"}, []*Table{domain}, con)
	page.SetRoot()

	_, err := page.Fix(ctx)
	require.NoError(t, err)

	require.NoError(t, con.Query(ctx, "SELECT COUNT(*) FROM domaindim"))
	tup, _, err := con.FetchOneTuple()
	require.NoError(t, err)
	require.Equal(t, int64(2), tup[0]) // the example.org duplicate was removed

	require.NoError(t, con.Query(ctx, "SELECT domainid FROM pagedim WHERE pageid=11"))
	tup, _, err = con.FetchOneTuple()
	require.NoError(t, err)
	require.Equal(t, int64(2), tup[0]) // survivor id is the max of the duplicate group
}
