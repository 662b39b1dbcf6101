package sqlconn

import (
	"context"
	"fmt"

	"github.com/etlmr-go/etlmr/internal/row"
)

type opKind int

const (
	opExecute opKind = iota
	opExecuteMany
	opSync
)

type queuedOp struct {
	kind   opKind
	stmt   string
	args   []any
	many   [][]any
	result chan error
}

// BackgroundConnection runs writes on a single worker goroutine, queueing
// them so the caller's loop never blocks on the database. Reads drain the
// queue first, guaranteeing everything previously queued is visible,
// mirroring pyetlmr's BackgroundConnectionWrapper.
type BackgroundConnection struct {
	conn  *Connection
	queue chan queuedOp
	done  chan struct{}
}

// NewBackgroundConnection wraps conn with a background write worker. The
// queue depth matches pyetlmr's Queue(5000).
func NewBackgroundConnection(conn *Connection) *BackgroundConnection {
	b := &BackgroundConnection{
		conn:  conn,
		queue: make(chan queuedOp, 5000),
		done:  make(chan struct{}),
	}
	go b.worker()
	return b
}

func (b *BackgroundConnection) worker() {
	defer close(b.done)
	ctx := context.Background()
	for op := range b.queue {
		var err error
		switch op.kind {
		case opExecute:
			err = b.conn.Execute(ctx, op.stmt, op.args...)
		case opExecuteMany:
			err = b.conn.ExecuteMany(ctx, op.stmt, op.many)
		case opSync:
			// no-op: presence on the queue means every prior write drained.
		}
		op.result <- err
	}
}

// Execute enqueues stmt for background execution. args are copied before
// enqueueing, matching pyetlmr's pcopy.copy(arguments) defensive copy, so
// the caller is free to reuse its argument slice immediately.
func (b *BackgroundConnection) Execute(stmt string, args ...any) {
	copied := append([]any(nil), args...)
	b.queue <- queuedOp{kind: opExecute, stmt: stmt, args: copied, result: make(chan error, 1)}
}

// ExecuteMany enqueues stmt to run once per row of params.
func (b *BackgroundConnection) ExecuteMany(stmt string, params [][]any) {
	copied := make([][]any, len(params))
	for i, p := range params {
		copied[i] = append([]any(nil), p...)
	}
	b.queue <- queuedOp{kind: opExecuteMany, stmt: stmt, many: copied, result: make(chan error, 1)}
}

// drain blocks until every operation enqueued so far has completed,
// mirroring pyetlmr's self.__queue.join() calls before any read.
func (b *BackgroundConnection) drain() error {
	barrier := make(chan error, 1)
	b.queue <- queuedOp{kind: opSync, result: barrier}
	return <-barrier
}

// FetchOne drains the queue, then delegates to the underlying connection.
func (b *BackgroundConnection) FetchOne(ctx context.Context, stmt string, args ...any) (row.Row, bool, error) {
	if _, err := b.flushAndQuery(ctx, stmt, args); err != nil {
		return nil, false, err
	}
	return b.conn.FetchOne()
}

func (b *BackgroundConnection) flushAndQuery(ctx context.Context, stmt string, args []any) (struct{}, error) {
	if err := b.Sync(); err != nil {
		return struct{}{}, err
	}
	if err := b.conn.Query(ctx, stmt, args...); err != nil {
		return struct{}{}, fmt.Errorf("sqlconn: background query: %w", err)
	}
	return struct{}{}, nil
}

// Sync waits for every previously queued write to complete.
func (b *BackgroundConnection) Sync() error {
	return b.drain()
}

// Commit drains the queue and commits the underlying connection.
func (b *BackgroundConnection) Commit(ctx context.Context) error {
	if err := b.Sync(); err != nil {
		return err
	}
	return b.conn.Commit(ctx)
}

// Rollback drains the queue and rolls back the underlying connection.
func (b *BackgroundConnection) Rollback(ctx context.Context) error {
	if err := b.Sync(); err != nil {
		return err
	}
	return b.conn.Rollback(ctx)
}

// Close drains the queue, stops the worker, and closes the connection.
func (b *BackgroundConnection) Close() error {
	if err := b.Sync(); err != nil {
		return err
	}
	close(b.queue)
	<-b.done
	return b.conn.Close()
}
