package dbadapter

import (
	"context"
	"fmt"
	"sort"

	_ "github.com/mattn/go-sqlite3"
)

// sqliteAdapter speaks SQLite over database/sql. SQLite supports true nested
// savepoints, so the shared txFrame stack in sqlBase maps onto it directly.
type sqliteAdapter struct {
	sqlBase
}

func newSQLiteAdapter(dsn string, readOnly bool) *sqliteAdapter {
	a := &sqliteAdapter{}
	a.driverName = "sqlite3"
	a.dsn = dsn
	a.dialect = DialectSQLite
	a.readOnly = readOnly
	a.savepoints = true
	return a
}

func (a *sqliteAdapter) Introspect(ctx context.Context) (*Schema, error) {
	schema := &Schema{}

	tableRows, err := a.db.QueryContext(ctx,
		"SELECT name FROM sqlite_master WHERE type='table' AND name NOT LIKE 'sqlite_%' ORDER BY name")
	if err != nil {
		return nil, classifyExecError(err)
	}
	var names []string
	for tableRows.Next() {
		var n string
		if err := tableRows.Scan(&n); err != nil {
			tableRows.Close()
			return nil, classifyExecError(err)
		}
		names = append(names, n)
	}
	tableRows.Close()

	for _, name := range names {
		table := Table{Name: name}

		colRows, err := a.db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%q)", name))
		if err != nil {
			return nil, classifyExecError(err)
		}
		for colRows.Next() {
			var cid int
			var colName, colType string
			var notNull, pk int
			var dflt interface{}
			if err := colRows.Scan(&cid, &colName, &colType, &notNull, &dflt, &pk); err != nil {
				colRows.Close()
				return nil, classifyExecError(err)
			}
			def := ""
			if dflt != nil {
				def = fmt.Sprintf("%v", dflt)
			}
			table.Columns = append(table.Columns, Column{
				Name: colName, Type: colType, Nullable: notNull == 0, PK: pk > 0, Default: def,
			})
		}
		colRows.Close()

		idxRows, err := a.db.QueryContext(ctx, fmt.Sprintf("PRAGMA index_list(%q)", name))
		if err != nil {
			return nil, classifyExecError(err)
		}
		var idxNames []struct{ name string; unique bool }
		for idxRows.Next() {
			var seq int
			var idxName string
			var unique int
			var origin, partial interface{}
			if err := idxRows.Scan(&seq, &idxName, &unique, &origin, &partial); err != nil {
				idxRows.Close()
				return nil, classifyExecError(err)
			}
			idxNames = append(idxNames, struct{ name string; unique bool }{idxName, unique == 1})
		}
		idxRows.Close()

		for _, in := range idxNames {
			cols, err := a.indexColumns(ctx, in.name)
			if err != nil {
				return nil, err
			}
			table.Indexes = append(table.Indexes, Index{Name: in.name, Columns: cols, Unique: in.unique})
		}

		fkRows, err := a.db.QueryContext(ctx, fmt.Sprintf("PRAGMA foreign_key_list(%q)", name))
		if err != nil {
			return nil, classifyExecError(err)
		}
		for fkRows.Next() {
			var id, seq int
			var refTable, from, to, onUpdate, onDelete, match string
			if err := fkRows.Scan(&id, &seq, &refTable, &from, &to, &onUpdate, &onDelete, &match); err != nil {
				fkRows.Close()
				return nil, classifyExecError(err)
			}
			table.ForeignKeys = append(table.ForeignKeys, ForeignKey{Column: from, RefTable: refTable, RefColumn: to})
		}
		fkRows.Close()

		schema.Tables = append(schema.Tables, table)
	}

	viewRows, err := a.db.QueryContext(ctx, "SELECT name FROM sqlite_master WHERE type='view' ORDER BY name")
	if err != nil {
		return nil, classifyExecError(err)
	}
	for viewRows.Next() {
		var n string
		if err := viewRows.Scan(&n); err != nil {
			viewRows.Close()
			return nil, classifyExecError(err)
		}
		schema.Views = append(schema.Views, n)
	}
	viewRows.Close()

	sort.Strings(schema.Views)
	return schema, nil
}

func (a *sqliteAdapter) indexColumns(ctx context.Context, indexName string) ([]string, error) {
	rows, err := a.db.QueryContext(ctx, fmt.Sprintf("PRAGMA index_info(%q)", indexName))
	if err != nil {
		return nil, classifyExecError(err)
	}
	defer rows.Close()

	var cols []string
	for rows.Next() {
		var seqno, cid int
		var name interface{}
		if err := rows.Scan(&seqno, &cid, &name); err != nil {
			return nil, classifyExecError(err)
		}
		if s, ok := name.(string); ok {
			cols = append(cols, s)
		}
	}
	return cols, nil
}
