package dbadapter

import (
	"context"

	_ "github.com/lib/pq"
)

// postgresAdapter speaks PostgreSQL over database/sql. Postgres supports
// nested transactions via SAVEPOINT, same as sqlite, so it shares sqlBase's
// transaction stack unmodified.
type postgresAdapter struct {
	sqlBase
}

func newPostgresAdapter(dsn string, readOnly bool) *postgresAdapter {
	a := &postgresAdapter{}
	a.driverName = "postgres"
	a.dsn = dsn
	a.dialect = DialectPostgres
	a.readOnly = readOnly
	a.savepoints = true
	return a
}

func (a *postgresAdapter) Introspect(ctx context.Context) (*Schema, error) {
	schema := &Schema{}

	tableRows, err := a.db.QueryContext(ctx, `
		SELECT table_name FROM information_schema.tables
		WHERE table_schema = 'public' AND table_type = 'BASE TABLE'
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

	pkColumns := func(table string) (map[string]bool, error) {
		rows, err := a.db.QueryContext(ctx, `
			SELECT kcu.column_name
			FROM information_schema.table_constraints tc
			JOIN information_schema.key_column_usage kcu
				ON tc.constraint_name = kcu.constraint_name AND tc.table_schema = kcu.table_schema
			WHERE tc.constraint_type = 'PRIMARY KEY' AND tc.table_schema = 'public' AND tc.table_name = $1`, table)
		if err != nil {
			return nil, classifyExecError(err)
		}
		defer rows.Close()
		pk := map[string]bool{}
		for rows.Next() {
			var col string
			if err := rows.Scan(&col); err != nil {
				return nil, classifyExecError(err)
			}
			pk[col] = true
		}
		return pk, nil
	}

	for _, name := range names {
		pk, err := pkColumns(name)
		if err != nil {
			return nil, err
		}

		table := Table{Name: name}
		colRows, err := a.db.QueryContext(ctx, `
			SELECT column_name, data_type, is_nullable, column_default
			FROM information_schema.columns
			WHERE table_schema = 'public' AND table_name = $1
			ORDER BY ordinal_position`, name)
		if err != nil {
			return nil, classifyExecError(err)
		}
		for colRows.Next() {
			var colName, dataType, nullable string
			var dflt *string
			if err := colRows.Scan(&colName, &dataType, &nullable, &dflt); err != nil {
				colRows.Close()
				return nil, classifyExecError(err)
			}
			def := ""
			if dflt != nil {
				def = *dflt
			}
			table.Columns = append(table.Columns, Column{
				Name: colName, Type: dataType, Nullable: nullable == "YES", PK: pk[colName], Default: def,
			})
		}
		colRows.Close()

		fkRows, err := a.db.QueryContext(ctx, `
			SELECT kcu.column_name, ccu.table_name, ccu.column_name
			FROM information_schema.table_constraints tc
			JOIN information_schema.key_column_usage kcu
				ON tc.constraint_name = kcu.constraint_name AND tc.table_schema = kcu.table_schema
			JOIN information_schema.constraint_column_usage ccu
				ON tc.constraint_name = ccu.constraint_name AND tc.table_schema = ccu.table_schema
			WHERE tc.constraint_type = 'FOREIGN KEY' AND tc.table_schema = 'public' AND tc.table_name = $1`, name)
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
			SELECT indexname, indexdef FROM pg_indexes WHERE schemaname = 'public' AND tablename = $1`, name)
		if err != nil {
			return nil, classifyExecError(err)
		}
		for idxRows.Next() {
			var idxName, def string
			if err := idxRows.Scan(&idxName, &def); err != nil {
				idxRows.Close()
				return nil, classifyExecError(err)
			}
			table.Indexes = append(table.Indexes, Index{Name: idxName, Unique: containsUnique(def)})
		}
		idxRows.Close()

		schema.Tables = append(schema.Tables, table)
	}

	viewRows, err := a.db.QueryContext(ctx, `
		SELECT table_name FROM information_schema.views WHERE table_schema = 'public' ORDER BY table_name`)
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

func containsUnique(indexDef string) bool {
	for i := 0; i+len("UNIQUE") <= len(indexDef); i++ {
		if indexDef[i:i+len("UNIQUE")] == "UNIQUE" {
			return true
		}
	}
	return false
}
