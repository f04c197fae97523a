// Package dbadapter defines the dialect-agnostic database adapter contract
// and the factory that builds concrete adapters from a connection string,
// a structured DatabaseConfig, or a dict. Concrete adapters share a common
// database/sql-based pattern (ExecContext/QueryContext, schema introspection
// queries), generalized across sqlite/postgres/mysql.
package dbadapter

import (
	"context"
	"time"
)

// Dialect is a closed enum of supported database dialects.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgresql"
	DialectMySQL    Dialect = "mysql"
)

// QueryOpts bounds one query's execution.
type QueryOpts struct {
	Timeout  time.Duration
	MaxRows  int
	ReadOnly bool
}

// ResultSet is the outcome of a bounded, buffered query.
type ResultSet struct {
	Columns      []string
	Rows         [][]interface{}
	RowsAffected int64
	Truncated    bool
	ElapsedMs    int64
}

// RowBatch is one chunk of a streamed query.
type RowBatch struct {
	Columns []string
	Rows    [][]interface{}
}

// RowStream is a finite, non-restartable sequence of RowBatches. Callers
// must range over Batches until it closes and then check Err.
type RowStream struct {
	Batches <-chan RowBatch
	errc    <-chan error
}

// Err blocks until the stream finishes and returns its terminal error, if any.
func (s *RowStream) Err() error {
	return <-s.errc
}

// Isolation is a request hint for BeginTx; adapters map unsupported levels
// to their closest equivalent.
type Isolation string

const (
	IsolationDefault         Isolation = ""
	IsolationReadCommitted   Isolation = "read_committed"
	IsolationRepeatableRead  Isolation = "repeatable_read"
	IsolationSerializable    Isolation = "serializable"
)

// TxHandle identifies one open transaction or savepoint frame.
type TxHandle struct {
	ID    string
	Depth int // 0 = top-level transaction, >0 = nested savepoint
}

// Column describes one table column from introspection.
type Column struct {
	Name     string
	Type     string
	Nullable bool
	PK       bool
	Default  string
}

// Index describes one table index from introspection.
type Index struct {
	Name    string
	Columns []string
	Unique  bool
}

// ForeignKey describes one foreign key constraint.
type ForeignKey struct {
	Column     string
	RefTable   string
	RefColumn  string
}

// Table describes one introspected table.
type Table struct {
	Name        string
	Columns     []Column
	Indexes     []Index
	ForeignKeys []ForeignKey
}

// Schema is the full introspection result.
type Schema struct {
	Tables []Table
	Views  []string
	Procs  []string
}

// Credentials carries provider-specific auth data out of band from the DSN.
type Credentials struct {
	Username string
	Password string
	Extra    map[string]string
}

// PoolConfig bounds the adapter's internal connection pool.
type PoolConfig struct {
	Size        int
	MaxOverflow int
	Timeout     time.Duration
}

// DatabaseConfig is the structured form accepted by the factory.
type DatabaseConfig struct {
	URL              string
	Dialect          Dialect
	Pool             PoolConfig
	ReadOnly         bool
	DefaultSchema    string
	Credentials      Credentials
}

// Adapter is the contract every dialect plugs into the core through.
type Adapter interface {
	// Connect establishes the underlying driver connection. Idempotent.
	Connect(ctx context.Context) error
	// Close releases all resources. Idempotent.
	Close() error
	// ExecuteQuery runs sql once and buffers the full result.
	ExecuteQuery(ctx context.Context, sql string, params []interface{}, opts QueryOpts) (*ResultSet, error)
	// ExecuteStream runs sql and returns a lazy, finite sequence of row batches.
	ExecuteStream(ctx context.Context, sql string, params []interface{}, opts QueryOpts) (*RowStream, error)
	// BeginTx starts a transaction or, if one is already open on this
	// adapter and the dialect supports it, a savepoint.
	BeginTx(ctx context.Context, isolation Isolation) (TxHandle, error)
	Commit(ctx context.Context, tx TxHandle) error
	Rollback(ctx context.Context, tx TxHandle) error
	// Introspect returns the adapter's view of the schema.
	Introspect(ctx context.Context) (*Schema, error)
	// Dialect identifies which concrete dialect this adapter speaks.
	Dialect() Dialect
	// Healthy runs a cheap dialect-specific probe with a bounded timeout.
	Healthy(ctx context.Context) bool
	// ReadOnly reports whether this adapter rejects mutating statements.
	ReadOnly() bool
}
