package connection

import (
	"context"
	"testing"

	"github.com/dbrheo/dbrheo/dbadapter"
)

func TestOpenMakesCurrentByDefault(t *testing.T) {
	m := New()
	ctx := context.Background()

	ac, err := m.Open(ctx, "main", dbadapter.DatabaseConfig{URL: ":memory:", Dialect: dbadapter.DialectSQLite}, true)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if ac.Alias != "main" {
		t.Fatalf("expected alias main, got %s", ac.Alias)
	}

	cur, err := m.Get(ctx)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if cur.Alias != "main" {
		t.Fatalf("expected current alias main, got %s", cur.Alias)
	}
	m.CloseAll()
}

func TestOpenSecondAliasAndSwitch(t *testing.T) {
	m := New()
	ctx := context.Background()

	if _, err := m.Open(ctx, "a", dbadapter.DatabaseConfig{URL: ":memory:", Dialect: dbadapter.DialectSQLite}, true); err != nil {
		t.Fatalf("open a: %v", err)
	}
	if _, err := m.Open(ctx, "b", dbadapter.DatabaseConfig{URL: ":memory:", Dialect: dbadapter.DialectSQLite}, false); err != nil {
		t.Fatalf("open b: %v", err)
	}

	cur, _ := m.Get(ctx)
	if cur.Alias != "a" {
		t.Fatalf("expected a to remain current, got %s", cur.Alias)
	}

	if err := m.Use("b"); err != nil {
		t.Fatalf("use b: %v", err)
	}
	cur, _ = m.Get(ctx)
	if cur.Alias != "b" {
		t.Fatalf("expected b to become current, got %s", cur.Alias)
	}

	if len(m.List()) != 2 {
		t.Fatalf("expected 2 open aliases, got %d", len(m.List()))
	}
	m.CloseAll()
}

func TestUseUnknownAliasFails(t *testing.T) {
	m := New()
	if err := m.Use("ghost"); err == nil {
		t.Fatal("expected an error switching to an unopened alias")
	}
}

func TestGetWithNoConnectionFails(t *testing.T) {
	m := New()
	if _, err := m.Get(context.Background()); err == nil {
		t.Fatal("expected an error with no open connection")
	}
}

func TestCloseDropsAlias(t *testing.T) {
	m := New()
	ctx := context.Background()
	m.Open(ctx, "a", dbadapter.DatabaseConfig{URL: ":memory:", Dialect: dbadapter.DialectSQLite}, true)

	if err := m.Close("a"); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := m.Get(ctx); err == nil {
		t.Fatal("expected no current connection after closing the only one")
	}
}
