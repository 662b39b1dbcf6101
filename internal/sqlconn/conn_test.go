package sqlconn

import (
	"context"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"
)

func openTestConn(t *testing.T) *Connection {
	t.Helper()
	ctx := context.Background()
	c, err := Open(ctx, "sqlite3", "file::memory:?cache=shared")
	require.NoError(t, err)
	c.DB().SetMaxOpenConns(1)
	t.Cleanup(func() { c.Close() })

	require.NoError(t, c.Execute(ctx, "CREATE TABLE t (id INTEGER, name TEXT)"))
	return c
}

func TestConnectionExecuteAndQuery(t *testing.T) {
	ctx := context.Background()
	c := openTestConn(t)

	require.NoError(t, c.Execute(ctx, "INSERT INTO t (id, name) VALUES (?, ?)", 1, "alice"))
	require.NoError(t, c.Execute(ctx, "INSERT INTO t (id, name) VALUES (?, ?)", 2, "bob"))

	require.NoError(t, c.Query(ctx, "SELECT id, name FROM t ORDER BY id"))
	rows, err := c.FetchAllTuples()
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, int64(1), rows[0][0])
}

func TestConnectionFetchOneReturnsRow(t *testing.T) {
	ctx := context.Background()
	c := openTestConn(t)
	require.NoError(t, c.Execute(ctx, "INSERT INTO t (id, name) VALUES (?, ?)", 1, "alice"))

	require.NoError(t, c.Query(ctx, "SELECT id, name FROM t WHERE id = ?", 1))
	r, ok, err := c.FetchOne()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "alice", r["name"].AsString())
}

func TestConnectionExecuteManyInsertsAllRows(t *testing.T) {
	ctx := context.Background()
	c := openTestConn(t)

	require.NoError(t, c.ExecuteMany(ctx, "INSERT INTO t (id, name) VALUES (?, ?)", [][]any{
		{1, "alice"},
		{2, "bob"},
		{3, "carol"},
	}))

	require.NoError(t, c.Query(ctx, "SELECT COUNT(*) FROM t"))
	tup, ok, err := c.FetchOneTuple()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(3), tup[0])
}

func TestConnectionCommitKeepsConnectionUsable(t *testing.T) {
	ctx := context.Background()
	c := openTestConn(t)

	require.NoError(t, c.Execute(ctx, "INSERT INTO t (id, name) VALUES (?, ?)", 1, "alice"))
	require.NoError(t, c.Commit(ctx))

	require.NoError(t, c.Execute(ctx, "INSERT INTO t (id, name) VALUES (?, ?)", 2, "bob"))
	require.NoError(t, c.Commit(ctx))

	require.NoError(t, c.Query(ctx, "SELECT COUNT(*) FROM t"))
	tup, _, err := c.FetchOneTuple()
	require.NoError(t, err)
	require.Equal(t, int64(2), tup[0])
}

func TestConnectionRollbackDiscardsChanges(t *testing.T) {
	ctx := context.Background()
	c := openTestConn(t)

	require.NoError(t, c.Execute(ctx, "INSERT INTO t (id, name) VALUES (?, ?)", 1, "alice"))
	require.NoError(t, c.Rollback(ctx))

	require.NoError(t, c.Query(ctx, "SELECT COUNT(*) FROM t"))
	tup, _, err := c.FetchOneTuple()
	require.NoError(t, err)
	require.Equal(t, int64(0), tup[0])
}
