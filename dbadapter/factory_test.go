package dbadapter

import (
	"context"
	"testing"
)

func TestParseConnectionStringSchemes(t *testing.T) {
	cases := []struct {
		in      string
		dialect Dialect
	}{
		{"sqlite:///tmp/x.db", DialectSQLite},
		{"/tmp/x.db", DialectSQLite},
		{"postgres://u:p@localhost:5432/app", DialectPostgres},
		{"postgresql://u:p@localhost:5432/app", DialectPostgres},
		{"mysql://u:p@localhost:3306/app", DialectMySQL},
	}
	for _, c := range cases {
		dialect, _, err := ParseConnectionString(c.in)
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", c.in, err)
		}
		if dialect != c.dialect {
			t.Fatalf("%s: expected dialect %s, got %s", c.in, c.dialect, dialect)
		}
	}
}

// TestParseConnectionStringSqlitePathSlashes pins down the relative-vs-
// absolute sqlite DSN convention (§6): three slashes after the scheme is a
// path relative to the working directory, four is an absolute path. Both
// forms parse to a u.Path with a leading slash under net/url, so only
// asserting the Dialect (as the original test did) would miss a regression
// here entirely.
func TestParseConnectionStringSqlitePathSlashes(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"sqlite:///tmp/x.db", "tmp/x.db"},
		{"sqlite:////tmp/x.db", "/tmp/x.db"},
		{"sqlite:///rel/dir/x.db", "rel/dir/x.db"},
	}
	for _, c := range cases {
		dialect, dsn, err := ParseConnectionString(c.in)
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", c.in, err)
		}
		if dialect != DialectSQLite {
			t.Fatalf("%s: expected sqlite dialect, got %s", c.in, dialect)
		}
		if dsn != c.want {
			t.Fatalf("%s: expected dsn %q, got %q", c.in, c.want, dsn)
		}
	}
}

func TestParseConnectionStringRejectsUnknownScheme(t *testing.T) {
	if _, _, err := ParseConnectionString("oracle://host/db"); err == nil {
		t.Fatal("expected an error for an unsupported scheme")
	}
}

// TestFactoryCachesByCanonicalKey pins the §4.C requirement that the cache
// key is the canonical (dialect, host, port, dbname, user) tuple rather than
// the raw connection string, so two differently-spelled DSNs naming the
// same database still share one adapter.
func TestFactoryCachesByCanonicalKey(t *testing.T) {
	f := NewFactory()
	ctx := context.Background()
	cfg := DatabaseConfig{URL: ":memory:", Dialect: DialectSQLite}

	a1, err := f.Open(ctx, cfg)
	if err != nil {
		t.Fatalf("open 1: %v", err)
	}
	a2, err := f.Open(ctx, DatabaseConfig{URL: "sqlite:///:memory:"})
	if err != nil {
		t.Fatalf("open 2: %v", err)
	}
	if a1 != a2 {
		t.Fatal("expected the same adapter instance to be reused")
	}
	f.CloseAll()
}

func TestFactoryEvictForcesRebuild(t *testing.T) {
	f := NewFactory()
	ctx := context.Background()
	cfg := DatabaseConfig{URL: ":memory:", Dialect: DialectSQLite}

	a1, err := f.Open(ctx, cfg)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	f.Evict(cfg)

	a2, err := f.Open(ctx, cfg)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if a1 == a2 {
		t.Fatal("expected a fresh adapter instance after eviction")
	}
	f.CloseAll()
}

// TestFactoryRebuildsOnFailedHealthCheck pins the other half of §4.C:
// "cached adapters are returned if their health check passes, else
// rebuilt" — a cache hit is not a bare map lookup, it's gated on Healthy().
func TestFactoryRebuildsOnFailedHealthCheck(t *testing.T) {
	f := NewFactory()
	ctx := context.Background()
	cfg := DatabaseConfig{URL: ":memory:", Dialect: DialectSQLite}

	a1, err := f.Open(ctx, cfg)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	// Close the underlying connection out from under the cache so the next
	// Open's health check observes it unhealthy without going through Evict.
	if err := a1.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	a2, err := f.Open(ctx, cfg)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if a1 == a2 {
		t.Fatal("expected a fresh adapter instance after a failed health check")
	}
	f.CloseAll()
}
