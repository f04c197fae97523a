package dbadapter

import (
	"context"
	"testing"
)

func openMemory(t *testing.T) *sqliteAdapter {
	t.Helper()
	a := newSQLiteAdapter(":memory:", false)
	if err := a.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { a.Close() })
	return a
}

func TestSQLiteExecuteQueryAndIntrospect(t *testing.T) {
	ctx := context.Background()
	a := openMemory(t)

	if _, err := a.ExecuteQuery(ctx, "CREATE TABLE users (id INTEGER PRIMARY KEY, name TEXT NOT NULL)", nil, QueryOpts{}); err != nil {
		t.Fatalf("create table: %v", err)
	}
	if _, err := a.ExecuteQuery(ctx, "INSERT INTO users (name) VALUES (?)", []interface{}{"ada"}, QueryOpts{}); err != nil {
		t.Fatalf("insert: %v", err)
	}

	rs, err := a.ExecuteQuery(ctx, "SELECT id, name FROM users", nil, QueryOpts{})
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if len(rs.Rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rs.Rows))
	}

	schema, err := a.Introspect(ctx)
	if err != nil {
		t.Fatalf("introspect: %v", err)
	}
	if len(schema.Tables) != 1 || schema.Tables[0].Name != "users" {
		t.Fatalf("expected one users table, got %+v", schema.Tables)
	}
	if !schema.Tables[0].Columns[0].PK {
		t.Fatalf("expected id column to be marked PK")
	}
}

func TestSQLiteReadOnlyRejectsWrites(t *testing.T) {
	ctx := context.Background()
	a := newSQLiteAdapter(":memory:", false)
	if err := a.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer a.Close()
	a.readOnly = true

	_, err := a.ExecuteQuery(ctx, "CREATE TABLE t (id INTEGER)", nil, QueryOpts{})
	if err == nil {
		t.Fatal("expected read-only adapter to reject a mutating statement")
	}
}

func TestSQLiteNestedSavepoints(t *testing.T) {
	ctx := context.Background()
	a := openMemory(t)

	if _, err := a.ExecuteQuery(ctx, "CREATE TABLE t (v INTEGER)", nil, QueryOpts{}); err != nil {
		t.Fatalf("create: %v", err)
	}

	outer, err := a.BeginTx(ctx, IsolationDefault)
	if err != nil {
		t.Fatalf("begin outer: %v", err)
	}
	if _, err := a.ExecuteQuery(ctx, "INSERT INTO t VALUES (1)", nil, QueryOpts{}); err != nil {
		t.Fatalf("insert outer: %v", err)
	}

	inner, err := a.BeginTx(ctx, IsolationDefault)
	if err != nil {
		t.Fatalf("begin inner: %v", err)
	}
	if inner.Depth != 1 {
		t.Fatalf("expected inner depth 1, got %d", inner.Depth)
	}
	if _, err := a.ExecuteQuery(ctx, "INSERT INTO t VALUES (2)", nil, QueryOpts{}); err != nil {
		t.Fatalf("insert inner: %v", err)
	}
	if err := a.Rollback(ctx, inner); err != nil {
		t.Fatalf("rollback inner: %v", err)
	}
	if err := a.Commit(ctx, outer); err != nil {
		t.Fatalf("commit outer: %v", err)
	}

	rs, err := a.ExecuteQuery(ctx, "SELECT v FROM t ORDER BY v", nil, QueryOpts{})
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if len(rs.Rows) != 1 {
		t.Fatalf("expected only the outer insert to survive, got %d rows", len(rs.Rows))
	}
}

func TestSQLiteStreamRespectsMaxRows(t *testing.T) {
	ctx := context.Background()
	a := openMemory(t)

	if _, err := a.ExecuteQuery(ctx, "CREATE TABLE t (v INTEGER)", nil, QueryOpts{}); err != nil {
		t.Fatalf("create: %v", err)
	}
	for i := 0; i < 10; i++ {
		if _, err := a.ExecuteQuery(ctx, "INSERT INTO t VALUES (?)", []interface{}{i}, QueryOpts{}); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	stream, err := a.ExecuteStream(ctx, "SELECT v FROM t", nil, QueryOpts{MaxRows: 3})
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	total := 0
	for batch := range stream.Batches {
		total += len(batch.Rows)
	}
	if err := stream.Err(); err != nil {
		t.Fatalf("stream error: %v", err)
	}
	if total != 3 {
		t.Fatalf("expected 3 rows total, got %d", total)
	}
}
