package dbadapter

import (
	"context"

	_ "github.com/go-sql-driver/mysql"
)

// mysqlAdapter speaks MySQL/MariaDB over database/sql. MySQL's InnoDB engine
// supports SAVEPOINT inside a transaction, so it reuses sqlBase's stack too.
type mysqlAdapter struct {
	sqlBase
}

func newMySQLAdapter(dsn string, readOnly bool) *mysqlAdapter {
	a := &mysqlAdapter{}
	a.driverName = "mysql"
	a.dsn = dsn
	a.dialect = DialectMySQL
	a.readOnly = readOnly
	a.savepoints = true
	return a
}

func (a *mysqlAdapter) Introspect(ctx context.Context) (*Schema, error) {
	schema := &Schema{}

	tableRows, err := a.db.QueryContext(ctx, `
		SELECT table_name FROM information_schema.tables
		WHERE table_schema = DATABASE() AND table_type = 'BASE TABLE'
		ORDER BY table_name`)
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

		colRows, err := a.db.QueryContext(ctx, `
			SELECT column_name, data_type, is_nullable, column_key, column_default
			FROM information_schema.columns
			WHERE table_schema = DATABASE() AND table_name = ?
			ORDER BY ordinal_position`, name)
		if err != nil {
			return nil, classifyExecError(err)
		}
		for colRows.Next() {
			var colName, dataType, nullable, key string
			var dflt *string
			if err := colRows.Scan(&colName, &dataType, &nullable, &key, &dflt); err != nil {
				colRows.Close()
				return nil, classifyExecError(err)
			}
			def := ""
			if dflt != nil {
				def = *dflt
			}
			table.Columns = append(table.Columns, Column{
				Name: colName, Type: dataType, Nullable: nullable == "YES", PK: key == "PRI", Default: def,
			})
		}
		colRows.Close()

		fkRows, err := a.db.QueryContext(ctx, `
			SELECT column_name, referenced_table_name, referenced_column_name
			FROM information_schema.key_column_usage
			WHERE table_schema = DATABASE() AND table_name = ? AND referenced_table_name IS NOT NULL`, name)
		if err != nil {
			return nil, classifyExecError(err)
		}
		for fkRows.Next() {
			var col, refTable, refCol string
			if err := fkRows.Scan(&col, &refTable, &refCol); err != nil {
				fkRows.Close()
				return nil, classifyExecError(err)
			}
			table.ForeignKeys = append(table.ForeignKeys, ForeignKey{Column: col, RefTable: refTable, RefColumn: refCol})
		}
		fkRows.Close()

		idxRows, err := a.db.QueryContext(ctx, `
			SELECT index_name, non_unique, column_name
			FROM information_schema.statistics
			WHERE table_schema = DATABASE() AND table_name = ?
			ORDER BY index_name, seq_in_index`, name)
		if err != nil {
			return nil, classifyExecError(err)
		}
		byName := map[string]*Index{}
		var order []string
		for idxRows.Next() {
			var idxName string
			var nonUnique int
			var col string
			if err := idxRows.Scan(&idxName, &nonUnique, &col); err != nil {
				idxRows.Close()
				return nil, classifyExecError(err)
			}
			idx, ok := byName[idxName]
			if !ok {
				idx = &Index{Name: idxName, Unique: nonUnique == 0}
				byName[idxName] = idx
				order = append(order, idxName)
			}
			idx.Columns = append(idx.Columns, col)
		}
		idxRows.Close()
		for _, n := range order {
			table.Indexes = append(table.Indexes, *byName[n])
		}

		schema.Tables = append(schema.Tables, table)
	}

	viewRows, err := a.db.QueryContext(ctx, `
		SELECT table_name FROM information_schema.views WHERE table_schema = DATABASE() ORDER BY table_name`)
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

	return schema, nil
}
