package dbadapter

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/dbrheo/dbrheo/errs"
)

// txFrame is one entry in a connection's transaction stack.
type txFrame struct {
	handle     TxHandle
	sqlTx      *sql.Tx // only set on the top-level frame
	savepoint  string  // only set on nested frames
}

// sqlBase implements the database/sql-shaped parts of Adapter that are
// identical across dialects: ExecContext/QueryContext execution and
// transaction/savepoint bookkeeping. Dialect-specific files embed this and
// supply driverName, dsn, introspection SQL, and savepoint support.
type sqlBase struct {
	mu           sync.Mutex
	db           *sql.DB
	driverName   string
	dsn          string
	dialect      Dialect
	readOnly     bool
	savepoints   bool // whether this dialect supports nested savepoints
	stack        []txFrame
	nextTxID     int
}

func (b *sqlBase) Dialect() Dialect { return b.dialect }
func (b *sqlBase) ReadOnly() bool   { return b.readOnly }

func (b *sqlBase) Connect(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.db != nil {
		// Idempotent: a second Connect() observes the same state as the first.
		return b.db.PingContext(ctx)
	}

	db, err := sql.Open(b.driverName, b.dsn)
	if err != nil {
		return errs.Wrap(errs.ConnectError, fmt.Sprintf("failed to open %s connection", b.dialect), err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return errs.Wrap(errs.ConnectError, fmt.Sprintf("failed to reach %s server", b.dialect), err)
	}
	b.db = db
	return nil
}

func (b *sqlBase) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.db == nil {
		return nil
	}
	err := b.db.Close()
	b.db = nil
	b.stack = nil
	return err
}

func (b *sqlBase) Healthy(ctx context.Context) bool {
	b.mu.Lock()
	db := b.db
	b.mu.Unlock()
	if db == nil {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return db.PingContext(ctx) == nil
}

func classifyExecError(err error) *errs.Error {
	if err == nil {
		return nil
	}
	if err == context.DeadlineExceeded {
		return errs.Wrap(errs.TimeoutError, "query exceeded its deadline", err)
	}
	if err == context.Canceled {
		return errs.Wrap(errs.CancelledError, "query was cancelled", err)
	}
	return errs.Wrap(errs.QueryError, "query failed", err)
}

func (b *sqlBase) ExecuteQuery(ctx context.Context, query string, params []interface{}, opts QueryOpts) (*ResultSet, error) {
	if (b.readOnly || opts.ReadOnly) && isMutating(query) {
		return nil, errs.New(errs.ReadOnlyError, "adapter is read-only")
	}

	start := time.Now()
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	// Statements run inside the open transaction, if any, so that a
	// rollback of it (or of one of its savepoints) undoes them.
	type execer interface {
		QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
		ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	}
	var conn execer = b.db
	b.mu.Lock()
	if len(b.stack) > 0 {
		conn = b.stack[0].sqlTx
	}
	b.mu.Unlock()

	if !isMutating(query) {
		rows, err := conn.QueryContext(ctx, query, params...)
		if err != nil {
			return nil, classifyExecError(err)
		}
		defer rows.Close()
		return scanRows(rows, opts.MaxRows, start)
	}

	result, err := conn.ExecContext(ctx, query, params...)
	if err != nil {
		return nil, classifyExecError(err)
	}
	affected, _ := result.RowsAffected()
	return &ResultSet{RowsAffected: affected, ElapsedMs: time.Since(start).Milliseconds()}, nil
}

func scanRows(rows *sql.Rows, maxRows int, start time.Time) (*ResultSet, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, classifyExecError(err)
	}

	rs := &ResultSet{Columns: cols}
	for rows.Next() {
		if maxRows > 0 && len(rs.Rows) >= maxRows {
			rs.Truncated = true
			break
		}
		vals := make([]interface{}, len(cols))
		ptrs := make([]interface{}, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, classifyExecError(err)
		}
		rs.Rows = append(rs.Rows, vals)
	}
	if err := rows.Err(); err != nil {
		return nil, classifyExecError(err)
	}
	rs.ElapsedMs = time.Since(start).Milliseconds()
	return rs, nil
}

// ExecuteStream runs query and yields batches of batchSize rows at a time
// over a channel, closing it when the rows are exhausted or ctx is done.
func (b *sqlBase) ExecuteStream(ctx context.Context, query string, params []interface{}, opts QueryOpts) (*RowStream, error) {
	const batchSize = 200

	rows, err := b.db.QueryContext(ctx, query, params...)
	if err != nil {
		return nil, classifyExecError(err)
	}
	cols, err := rows.Columns()
	if err != nil {
		rows.Close()
		return nil, classifyExecError(err)
	}

	batches := make(chan RowBatch)
	errc := make(chan error, 1)

	go func() {
		defer rows.Close()
		defer close(batches)

		var buf [][]interface{}
		flush := func() bool {
			if len(buf) == 0 {
				return true
			}
			select {
			case batches <- RowBatch{Columns: cols, Rows: buf}:
				buf = nil
				return true
			case <-ctx.Done():
				return false
			}
		}

		count := 0
		for rows.Next() {
			if opts.MaxRows > 0 && count >= opts.MaxRows {
				break
			}
			vals := make([]interface{}, len(cols))
			ptrs := make([]interface{}, len(cols))
			for i := range vals {
				ptrs[i] = &vals[i]
			}
			if err := rows.Scan(ptrs...); err != nil {
				errc <- classifyExecError(err)
				return
			}
			buf = append(buf, vals)
			count++
			if len(buf) >= batchSize {
				if !flush() {
					errc <- errs.New(errs.CancelledError, "stream cancelled")
					return
				}
			}
		}
		flush()
		if err := rows.Err(); err != nil {
			errc <- classifyExecError(err)
			return
		}
		errc <- nil
	}()

	return &RowStream{Batches: batches, errc: errc}, nil
}

func (b *sqlBase) BeginTx(ctx context.Context, isolation Isolation) (TxHandle, error) {
	if b.readOnly {
		return TxHandle{}, errs.New(errs.ReadOnlyError, "adapter is read-only")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.stack) == 0 {
		sqlTx, err := b.db.BeginTx(ctx, isolationOpts(isolation))
		if err != nil {
			return TxHandle{}, errs.Wrap(errs.ConnectError, "failed to begin transaction", err)
		}
		b.nextTxID++
		h := TxHandle{ID: fmt.Sprintf("tx-%d", b.nextTxID), Depth: 0}
		b.stack = append(b.stack, txFrame{handle: h, sqlTx: sqlTx})
		return h, nil
	}

	if !b.savepoints {
		return TxHandle{}, errs.New(errs.TxStateError, "nested transactions are not supported by this dialect")
	}

	top := b.stack[0].sqlTx
	depth := len(b.stack)
	sp := fmt.Sprintf("sp_%d", depth)
	if _, err := top.ExecContext(ctx, "SAVEPOINT "+sp); err != nil {
		return TxHandle{}, errs.Wrap(errs.TxStateError, "failed to create savepoint", err)
	}
	b.nextTxID++
	h := TxHandle{ID: fmt.Sprintf("tx-%d", b.nextTxID), Depth: depth}
	b.stack = append(b.stack, txFrame{handle: h, savepoint: sp})
	return h, nil
}

func (b *sqlBase) frameIndex(tx TxHandle) int {
	for i, f := range b.stack {
		if f.handle.ID == tx.ID {
			return i
		}
	}
	return -1
}

func (b *sqlBase) Commit(ctx context.Context, tx TxHandle) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	idx := b.frameIndex(tx)
	if idx == -1 || idx != len(b.stack)-1 {
		return errs.New(errs.TxStateError, "commit called out of order or on unknown transaction")
	}

	frame := b.stack[idx]
	b.stack = b.stack[:idx]

	if frame.savepoint != "" {
		top := b.stack[0].sqlTx
		_, err := top.ExecContext(ctx, "RELEASE SAVEPOINT "+frame.savepoint)
		if err != nil {
			return errs.Wrap(errs.TxStateError, "failed to release savepoint", err)
		}
		return nil
	}

	if err := frame.sqlTx.Commit(); err != nil {
		return errs.Wrap(errs.TxStateError, "failed to commit transaction", err)
	}
	return nil
}

func (b *sqlBase) Rollback(ctx context.Context, tx TxHandle) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	idx := b.frameIndex(tx)
	if idx == -1 || idx != len(b.stack)-1 {
		return errs.New(errs.TxStateError, "rollback called out of order or on unknown transaction")
	}

	frame := b.stack[idx]
	b.stack = b.stack[:idx]

	if frame.savepoint != "" {
		top := b.stack[0].sqlTx
		_, err := top.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+frame.savepoint)
		if err != nil {
			return errs.Wrap(errs.TxStateError, "failed to roll back to savepoint", err)
		}
		// Outer state (the remaining stack) is preserved; only this frame's
		// effects are undone.
		return nil
	}

	if err := frame.sqlTx.Rollback(); err != nil {
		return errs.Wrap(errs.TxStateError, "failed to roll back transaction", err)
	}
	return nil
}

func isolationOpts(i Isolation) *sql.TxOptions {
	switch i {
	case IsolationReadCommitted:
		return &sql.TxOptions{Isolation: sql.LevelReadCommitted}
	case IsolationRepeatableRead:
		return &sql.TxOptions{Isolation: sql.LevelRepeatableRead}
	case IsolationSerializable:
		return &sql.TxOptions{Isolation: sql.LevelSerializable}
	default:
		return nil
	}
}
