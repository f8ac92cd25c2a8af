package config

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// sqlColumn is a single column row read back from a live schema.
type sqlColumn struct {
	Name       string
	SQLType    string
	IsNullable bool
	IsPrimary  bool
}

// sqlForeignKey is a single foreign-key row read back from a live schema.
type sqlForeignKey struct {
	Column       string
	RelatedTable string
	RelatedKey   string
}

// inferredType maps a raw SQL column type to the gateway's generic type
// vocabulary, as used by columnDefinitions and validationRules.
func inferredType(sqlType string) string {
	t := strings.ToLower(sqlType)
	switch {
	case strings.Contains(t, "int"):
		return "number"
	case strings.Contains(t, "float"), strings.Contains(t, "double"), strings.Contains(t, "decimal"), strings.Contains(t, "numeric"), strings.Contains(t, "real"):
		return "number"
	case strings.Contains(t, "bool"):
		return "boolean"
	default:
		return "string"
	}
}

// BuildFromDatabase introspects a live connection's schema and emits one
// "def" descriptor per table: columnDefinitions from the engine's system
// catalog, keys from its primary-key metadata, allowRead/allowWrite set to
// every column, and relationships inferred from foreign keys.
//
// This is the "build from database" loader path: an operator points it at
// an existing schema instead of hand-authoring descriptors.
func BuildFromDatabase(ctx context.Context, db *sql.DB, dbType, dbConnection string) ([]EndpointDescriptor, error) {
	switch dbType {
	case "mysql", "postgres":
		return buildFromInformationSchema(ctx, db, dbType, dbConnection)
	case "sqlite":
		return buildFromSQLite(ctx, db, dbConnection)
	default:
		return nil, fmt.Errorf("config: unsupported dbType for schema introspection: %s", dbType)
	}
}

func buildFromInformationSchema(ctx context.Context, db *sql.DB, dbType, dbConnection string) ([]EndpointDescriptor, error) {
	tables, err := listTables(ctx, db)
	if err != nil {
		return nil, err
	}

	descriptors := make([]EndpointDescriptor, 0, len(tables))
	for _, table := range tables {
		cols, err := listColumns(ctx, db, table)
		if err != nil {
			return nil, fmt.Errorf("config: introspecting columns for %s: %w", table, err)
		}
		fks, err := listForeignKeys(ctx, db, table)
		if err != nil {
			return nil, fmt.Errorf("config: introspecting foreign keys for %s: %w", table, err)
		}

		descriptors = append(descriptors, descriptorFromColumns(table, dbType, dbConnection, cols, fks))
	}
	return descriptors, nil
}

func descriptorFromColumns(table, dbType, dbConnection string, cols []sqlColumn, fks []sqlForeignKey) EndpointDescriptor {
	d := EndpointDescriptor{
		RouteType:         RouteDef,
		DBType:            dbType,
		DBConnection:      dbConnection,
		DBTable:           table,
		ColumnDefinitions: make(map[string]string, len(cols)),
	}
	for _, c := range cols {
		d.ColumnDefinitions[c.Name] = inferredType(c.SQLType)
		d.AllowRead = append(d.AllowRead, c.Name)
		d.AllowWrite = append(d.AllowWrite, c.Name)
		if c.IsPrimary {
			d.Keys = append(d.Keys, c.Name)
		}
	}
	for _, fk := range fks {
		d.Relationships = append(d.Relationships, Relationship{
			RelatedTable: fk.RelatedTable,
			ForeignKey:   fk.Column,
			RelatedKey:   fk.RelatedKey,
			JoinType:     "left",
		})
	}
	return d
}

func listTables(ctx context.Context, db *sql.DB) ([]string, error) {
	rows, err := db.QueryContext(ctx, `SELECT table_name FROM information_schema.tables WHERE table_schema = current_schema()`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		tables = append(tables, name)
	}
	return tables, rows.Err()
}

func listColumns(ctx context.Context, db *sql.DB, table string) ([]sqlColumn, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT c.column_name, c.data_type,
		       c.is_nullable = 'YES',
		       COALESCE(k.constraint_type = 'PRIMARY KEY', false)
		FROM information_schema.columns c
		LEFT JOIN information_schema.key_column_usage kcu
		  ON kcu.table_name = c.table_name AND kcu.column_name = c.column_name
		LEFT JOIN information_schema.table_constraints k
		  ON k.constraint_name = kcu.constraint_name
		WHERE c.table_name = $1`, table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cols []sqlColumn
	for rows.Next() {
		var c sqlColumn
		if err := rows.Scan(&c.Name, &c.SQLType, &c.IsNullable, &c.IsPrimary); err != nil {
			return nil, err
		}
		cols = append(cols, c)
	}
	return cols, rows.Err()
}

func listForeignKeys(ctx context.Context, db *sql.DB, table string) ([]sqlForeignKey, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT kcu.column_name, ccu.table_name, ccu.column_name
		FROM information_schema.table_constraints tc
		JOIN information_schema.key_column_usage kcu ON tc.constraint_name = kcu.constraint_name
		JOIN information_schema.constraint_column_usage ccu ON tc.constraint_name = ccu.constraint_name
		WHERE tc.constraint_type = 'FOREIGN KEY' AND tc.table_name = $1`, table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var fks []sqlForeignKey
	for rows.Next() {
		var fk sqlForeignKey
		if err := rows.Scan(&fk.Column, &fk.RelatedTable, &fk.RelatedKey); err != nil {
			return nil, err
		}
		fks = append(fks, fk)
	}
	return fks, rows.Err()
}

// buildFromSQLite uses sqlite's pragma table_info/foreign_key_list instead
// of information_schema, which SQLite does not implement.
func buildFromSQLite(ctx context.Context, db *sql.DB, dbConnection string) ([]EndpointDescriptor, error) {
	rows, err := db.QueryContext(ctx, `SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%'`)
	if err != nil {
		return nil, err
	}
	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			return nil, err
		}
		tables = append(tables, name)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	descriptors := make([]EndpointDescriptor, 0, len(tables))
	for _, table := range tables {
		cols, err := sqliteColumns(ctx, db, table)
		if err != nil {
			return nil, err
		}
		fks, err := sqliteForeignKeys(ctx, db, table)
		if err != nil {
			return nil, err
		}
		descriptors = append(descriptors, descriptorFromColumns(table, "sqlite", dbConnection, cols, fks))
	}
	return descriptors, nil
}

func sqliteColumns(ctx context.Context, db *sql.DB, table string) ([]sqlColumn, error) {
	rows, err := db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", quoteSQLiteIdent(table)))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cols []sqlColumn
	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dflt sql.NullString
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			return nil, err
		}
		cols = append(cols, sqlColumn{Name: name, SQLType: ctype, IsNullable: notnull == 0, IsPrimary: pk > 0})
	}
	return cols, rows.Err()
}

func sqliteForeignKeys(ctx context.Context, db *sql.DB, table string) ([]sqlForeignKey, error) {
	rows, err := db.QueryContext(ctx, fmt.Sprintf("PRAGMA foreign_key_list(%s)", quoteSQLiteIdent(table)))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var fks []sqlForeignKey
	for rows.Next() {
		var id, seq int
		var refTable, from, to, onUpdate, onDelete, match string
		if err := rows.Scan(&id, &seq, &refTable, &from, &to, &onUpdate, &onDelete, &match); err != nil {
			return nil, err
		}
		fks = append(fks, sqlForeignKey{Column: from, RelatedTable: refTable, RelatedKey: to})
	}
	return fks, rows.Err()
}

// quoteSQLiteIdent is a minimal identifier quoter for table names used in
// PRAGMA statements, which do not accept bind parameters.
func quoteSQLiteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
