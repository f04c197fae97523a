package txmgr

import (
	"context"
	"errors"
	"testing"

	"github.com/dbrheo/dbrheo/dbadapter"
)

func newMemoryAdapter(t *testing.T) dbadapter.Adapter {
	t.Helper()
	f := dbadapter.NewFactory()
	a, err := f.Open(context.Background(), dbadapter.DatabaseConfig{URL: ":memory:", Dialect: dbadapter.DialectSQLite})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { f.CloseAll() })
	return a
}

func TestWithTxCommitsOnSuccess(t *testing.T) {
	ctx := context.Background()
	a := newMemoryAdapter(t)
	a.ExecuteQuery(ctx, "CREATE TABLE t (v INTEGER)", nil, dbadapter.QueryOpts{})

	m := New(a)
	err := m.WithTx(ctx, dbadapter.IsolationDefault, func(ctx context.Context, tx dbadapter.TxHandle) error {
		_, err := a.ExecuteQuery(ctx, "INSERT INTO t VALUES (1)", nil, dbadapter.QueryOpts{})
		return err
	})
	if err != nil {
		t.Fatalf("withtx: %v", err)
	}

	rs, _ := a.ExecuteQuery(ctx, "SELECT v FROM t", nil, dbadapter.QueryOpts{})
	if len(rs.Rows) != 1 {
		t.Fatalf("expected committed row, got %d rows", len(rs.Rows))
	}
}

func TestWithTxRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	a := newMemoryAdapter(t)
	a.ExecuteQuery(ctx, "CREATE TABLE t (v INTEGER)", nil, dbadapter.QueryOpts{})

	m := New(a)
	sentinel := errors.New("boom")
	err := m.WithTx(ctx, dbadapter.IsolationDefault, func(ctx context.Context, tx dbadapter.TxHandle) error {
		a.ExecuteQuery(ctx, "INSERT INTO t VALUES (1)", nil, dbadapter.QueryOpts{})
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected sentinel error, got %v", err)
	}

	rs, _ := a.ExecuteQuery(ctx, "SELECT v FROM t", nil, dbadapter.QueryOpts{})
	if len(rs.Rows) != 0 {
		t.Fatalf("expected rollback to leave no rows, got %d", len(rs.Rows))
	}
}

func TestWithTxNestedSavepointIsolatesFailure(t *testing.T) {
	ctx := context.Background()
	a := newMemoryAdapter(t)
	a.ExecuteQuery(ctx, "CREATE TABLE t (v INTEGER)", nil, dbadapter.QueryOpts{})

	m := New(a)
	err := m.WithTx(ctx, dbadapter.IsolationDefault, func(ctx context.Context, outer dbadapter.TxHandle) error {
		a.ExecuteQuery(ctx, "INSERT INTO t VALUES (1)", nil, dbadapter.QueryOpts{})

		inner := m.WithTx(ctx, dbadapter.IsolationDefault, func(ctx context.Context, tx dbadapter.TxHandle) error {
			a.ExecuteQuery(ctx, "INSERT INTO t VALUES (2)", nil, dbadapter.QueryOpts{})
			return errors.New("inner failure")
		})
		if inner == nil {
			t.Fatal("expected inner WithTx to surface its error")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("outer withtx: %v", err)
	}

	rs, _ := a.ExecuteQuery(ctx, "SELECT v FROM t", nil, dbadapter.QueryOpts{})
	if len(rs.Rows) != 1 {
		t.Fatalf("expected only the outer insert to survive, got %d rows", len(rs.Rows))
	}
}
