package dbadapter

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
)

// withMockDB builds an adapter whose underlying *sql.DB is a sqlmock
// instance, letting the MySQL-dialect introspection queries be exercised
// without a real MySQL server.
func withMockDB(t *testing.T) (*mysqlAdapter, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	a := newMySQLAdapter("mock", false)
	a.db = db
	return a, mock
}

func TestMySQLIntrospectListsTablesAndColumns(t *testing.T) {
	a, mock := withMockDB(t)

	mock.ExpectQuery("SELECT table_name FROM information_schema.tables").
		WillReturnRows(sqlmock.NewRows([]string{"table_name"}).AddRow("users"))

	mock.ExpectQuery("SELECT column_name, data_type, is_nullable, column_key, column_default").
		WithArgs("users").
		WillReturnRows(sqlmock.NewRows([]string{"column_name", "data_type", "is_nullable", "column_key", "column_default"}).
			AddRow("id", "int", "NO", "PRI", nil).
			AddRow("name", "varchar", "YES", "", nil))

	mock.ExpectQuery("SELECT column_name, referenced_table_name, referenced_column_name").
		WithArgs("users").
		WillReturnRows(sqlmock.NewRows([]string{"column_name", "referenced_table_name", "referenced_column_name"}))

	mock.ExpectQuery("SELECT index_name, non_unique, column_name").
		WithArgs("users").
		WillReturnRows(sqlmock.NewRows([]string{"index_name", "non_unique", "column_name"}))

	mock.ExpectQuery("SELECT table_name FROM information_schema.views").
		WillReturnRows(sqlmock.NewRows([]string{"table_name"}))

	schema, err := a.Introspect(context.Background())
	if err != nil {
		t.Fatalf("Introspect: %v", err)
	}
	if len(schema.Tables) != 1 || schema.Tables[0].Name != "users" {
		t.Fatalf("expected one table named users, got %+v", schema.Tables)
	}
	if len(schema.Tables[0].Columns) != 2 {
		t.Fatalf("expected 2 columns, got %d", len(schema.Tables[0].Columns))
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestMySQLIntrospectQueryErrorIsClassified(t *testing.T) {
	a, mock := withMockDB(t)

	mock.ExpectQuery("SELECT table_name FROM information_schema.tables").
		WillReturnError(context.DeadlineExceeded)

	if _, err := a.Introspect(context.Background()); err == nil {
		t.Fatal("expected an error when the table listing query fails")
	}
}
