// Package sqlconn implements the connection wrapper that every dimension
// and fact table table talks to the warehouse through, so loading code
// never has to care which driver or parameter convention is underneath.
package sqlconn

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/etlmr-go/etlmr/internal/row"
)

// Mapping is row.Mapping, re-exported for callers of this package.
// Execute and Query take positional arguments and apply no name mapping.
type Mapping = row.Mapping

// Connection is a uniform wrapper around a *sql.DB, running every
// statement inside an explicit transaction so Commit/Rollback behave like
// a PEP-249 connection rather than Go's default per-statement autocommit.
type Connection struct {
	db  *sql.DB
	tx  *sql.Tx
	cur *sql.Rows
	log *logrus.Entry
}

// Open opens a connection using driverName ("postgres" or "sqlite3") and
// dsn, and begins the first transaction.
func Open(ctx context.Context, driverName, dsn string) (*Connection, error) {
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlconn: opening %s: %w", driverName, err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlconn: connecting %s: %w", driverName, err)
	}
	c := &Connection{
		db:  db,
		log: logrus.WithField("driver", driverName),
	}
	if err := c.beginTx(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return c, nil
}

func (c *Connection) beginTx(ctx context.Context) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlconn: beginning transaction: %w", err)
	}
	c.tx = tx
	return nil
}

// Execute runs stmt with positional arguments, closing any open cursor
// from a previous query first.
func (c *Connection) Execute(ctx context.Context, stmt string, args ...any) error {
	if c.cur != nil {
		c.cur.Close()
		c.cur = nil
	}
	if _, err := c.tx.ExecContext(ctx, stmt, args...); err != nil {
		return fmt.Errorf("sqlconn: execute: %w", err)
	}
	return nil
}

// ExecuteMany runs stmt once per row of params, mirroring
// ConnectionWrapper.executemany.
func (c *Connection) ExecuteMany(ctx context.Context, stmt string, params [][]any) error {
	for _, args := range params {
		if err := c.Execute(ctx, stmt, args...); err != nil {
			return err
		}
	}
	return nil
}

// Query runs stmt and holds the result set open for the Fetch* methods.
func (c *Connection) Query(ctx context.Context, stmt string, args ...any) error {
	if c.cur != nil {
		c.cur.Close()
		c.cur = nil
	}
	rows, err := c.tx.QueryContext(ctx, stmt, args...)
	if err != nil {
		return fmt.Errorf("sqlconn: query: %w", err)
	}
	c.cur = rows
	return nil
}

// FetchOneTuple returns the next result row as a slice of column values,
// or (nil, false) if the result set is exhausted.
func (c *Connection) FetchOneTuple() ([]any, bool, error) {
	if c.cur == nil {
		return nil, false, nil
	}
	if !c.cur.Next() {
		return nil, false, c.cur.Err()
	}
	return c.scanRow()
}

// FetchManyTuples returns up to n more result rows.
func (c *Connection) FetchManyTuples(n int) ([][]any, error) {
	var out [][]any
	for i := 0; i < n; i++ {
		tup, ok, err := c.FetchOneTuple()
		if err != nil {
			return out, err
		}
		if !ok {
			break
		}
		out = append(out, tup)
	}
	return out, nil
}

// FetchAllTuples drains the remainder of the current result set.
func (c *Connection) FetchAllTuples() ([][]any, error) {
	var out [][]any
	for {
		tup, ok, err := c.FetchOneTuple()
		if err != nil {
			return out, err
		}
		if !ok {
			return out, nil
		}
		out = append(out, tup)
	}
}

// FetchOne returns the next result row as a Row, keyed by column name.
func (c *Connection) FetchOne() (row.Row, bool, error) {
	if c.cur == nil {
		return nil, false, nil
	}
	cols, err := c.cur.Columns()
	if err != nil {
		return nil, false, err
	}
	tup, ok, err := c.FetchOneTuple()
	if err != nil || !ok {
		return nil, ok, err
	}
	return tupleToRow(cols, tup), true, nil
}

func (c *Connection) scanRow() ([]any, bool, error) {
	cols, err := c.cur.Columns()
	if err != nil {
		return nil, false, err
	}
	vals := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range vals {
		ptrs[i] = &vals[i]
	}
	if err := c.cur.Scan(ptrs...); err != nil {
		return nil, false, fmt.Errorf("sqlconn: scanning row: %w", err)
	}
	return vals, true, nil
}

func tupleToRow(cols []string, tup []any) row.Row {
	out := make(row.Row, len(cols))
	for i, name := range cols {
		out[name] = valueOf(tup[i])
	}
	return out
}

func valueOf(v any) row.Value {
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
	default:
		return row.String(fmt.Sprint(t))
	}
}

// RowCount always returns -1: the affected-row count of the last
// statement is not recorded, and database/sql exposes no count for
// SELECT results the way PEP-249 cursors do.
func (c *Connection) RowCount() int64 {
	if c.cur == nil {
		return -1
	}
	return -1
}

// Commit commits the current transaction and opens a new one, matching
// pyetlmr's semantics where the connection remains usable after commit.
func (c *Connection) Commit(ctx context.Context) error {
	if c.cur != nil {
		c.cur.Close()
		c.cur = nil
	}
	if err := c.tx.Commit(); err != nil {
		return fmt.Errorf("sqlconn: commit: %w", err)
	}
	return c.beginTx(ctx)
}

// Rollback aborts the current transaction and opens a new one.
func (c *Connection) Rollback(ctx context.Context) error {
	if c.cur != nil {
		c.cur.Close()
		c.cur = nil
	}
	if err := c.tx.Rollback(); err != nil {
		return fmt.Errorf("sqlconn: rollback: %w", err)
	}
	return c.beginTx(ctx)
}

// Close commits any pending transaction and closes the underlying pool.
func (c *Connection) Close() error {
	if c.cur != nil {
		c.cur.Close()
		c.cur = nil
	}
	if err := c.tx.Commit(); err != nil {
		c.log.WithError(err).Warn("sqlconn: commit on close failed")
	}
	return c.db.Close()
}

// DB exposes the underlying *sql.DB for bulk-load paths (e.g. pq.CopyIn)
// that need to manage their own transaction.
func (c *Connection) DB() *sql.DB { return c.db }

// RowIterator pulls rows one at a time off a Connection's open result
// set, mirroring pyetlmr's rowfactory generator: callers pull exactly
// as many rows as they need instead of materializing the full result
// set up front.
type RowIterator struct {
	c *Connection
}

// Iterate returns a RowIterator over the result set opened by the most
// recent Query call.
func (c *Connection) Iterate() *RowIterator {
	return &RowIterator{c: c}
}

// Next returns the next row, or ok=false once the result set is
// exhausted.
func (it *RowIterator) Next() (row.Row, bool, error) {
	return it.c.FetchOne()
}
