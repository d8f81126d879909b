package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/randalmurphal/sqlflow/pkg/sqlflow"
	"github.com/randalmurphal/sqlflow/pkg/sqlflow/sqlguard"
)

// tableInfoRow holds a row from PRAGMA table_info().
type tableInfoRow struct {
	CID     int            `db:"cid"`
	Name    string         `db:"name"`
	Type    string         `db:"type"`
	NotNull int            `db:"notnull"`
	Default sql.NullString `db:"dflt_value"`
	PK      int            `db:"pk"`
}

func introspectSQLite(ctx context.Context, db *sqlx.DB) ([]sqlflow.TableInfo, error) {
	const query = `SELECT name, type FROM sqlite_master
		WHERE type IN ('table', 'view') AND name NOT LIKE 'sqlite_%'
		ORDER BY name`

	type masterRow struct {
		Name string `db:"name"`
		Type string `db:"type"`
	}

	var masters []masterRow
	if err := db.SelectContext(ctx, &masters, query); err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}

	tables := make([]sqlflow.TableInfo, 0, len(masters))
	for _, m := range masters {
		pragma := fmt.Sprintf("PRAGMA table_info(%s)", sqlguard.QuoteIdentifier(m.Name, DialectSQLite))
		var cols []tableInfoRow
		if err := db.SelectContext(ctx, &cols, pragma); err != nil {
			return nil, fmt.Errorf("table_info for %q: %w", m.Name, err)
		}

		t := sqlflow.TableInfo{
			Name:    m.Name,
			Type:    "TABLE",
			Columns: make([]sqlflow.ColumnInfo, 0, len(cols)),
		}
		if m.Type == "view" {
			t.Type = "VIEW"
		}
		for _, c := range cols {
			dataType := c.Type
			if dataType == "" {
				dataType = "TEXT"
			}
			t.Columns = append(t.Columns, sqlflow.ColumnInfo{
				Name:     c.Name,
				DataType: dataType,
				Nullable: c.NotNull == 0,
			})
		}
		tables = append(tables, t)
	}
	return tables, nil
}

// columnRow is one column from an information_schema join.
type columnRow struct {
	Schema            string         `db:"table_schema"`
	Table             string         `db:"table_name"`
	TableType         string         `db:"table_type"`
	Column            string         `db:"column_name"`
	DataType          string         `db:"data_type"`
	IsNullable        string         `db:"is_nullable"`
	ColumnDescription sql.NullString `db:"column_description"`
	TableDescription  sql.NullString `db:"table_description"`
}

func introspectPostgres(ctx context.Context, db *sqlx.DB) ([]sqlflow.TableInfo, error) {
	const query = `SELECT
			t.table_schema,
			t.table_name,
			t.table_type,
			c.column_name,
			c.data_type,
			c.is_nullable,
			col_description(cls.oid, c.ordinal_position) AS column_description,
			obj_description(cls.oid) AS table_description
		FROM information_schema.columns c
		JOIN information_schema.tables t USING (table_schema, table_name)
		LEFT JOIN pg_catalog.pg_class cls
			ON cls.relname = t.table_name
			AND cls.relnamespace = (
				SELECT oid FROM pg_catalog.pg_namespace WHERE nspname = t.table_schema
			)
		WHERE t.table_schema NOT IN ('information_schema', 'pg_catalog')
		ORDER BY t.table_schema, t.table_name, c.ordinal_position`

	var rows []columnRow
	if err := db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("query information_schema: %w", err)
	}
	return groupColumns(rows), nil
}

func introspectMySQL(ctx context.Context, db *sqlx.DB) ([]sqlflow.TableInfo, error) {
	const query = `SELECT
			t.TABLE_SCHEMA AS table_schema,
			t.TABLE_NAME AS table_name,
			t.TABLE_TYPE AS table_type,
			c.COLUMN_NAME AS column_name,
			c.DATA_TYPE AS data_type,
			c.IS_NULLABLE AS is_nullable,
			NULLIF(c.COLUMN_COMMENT, '') AS column_description,
			NULLIF(t.TABLE_COMMENT, '') AS table_description
		FROM information_schema.COLUMNS c
		JOIN information_schema.TABLES t
			ON t.TABLE_SCHEMA = c.TABLE_SCHEMA AND t.TABLE_NAME = c.TABLE_NAME
		WHERE t.TABLE_SCHEMA = DATABASE()
		ORDER BY t.TABLE_NAME, c.ORDINAL_POSITION`

	var rows []columnRow
	if err := db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("query information_schema: %w", err)
	}
	return groupColumns(rows), nil
}

// groupColumns folds ordered column rows into tables, preserving order.
func groupColumns(rows []columnRow) []sqlflow.TableInfo {
	var tables []sqlflow.TableInfo
	index := make(map[string]int)
	for _, r := range rows {
		key := r.Schema + "." + r.Table
		i, ok := index[key]
		if !ok {
			tableType := "TABLE"
			if r.TableType == "VIEW" {
				tableType = "VIEW"
			}
			tables = append(tables, sqlflow.TableInfo{
				Schema:      r.Schema,
				Name:        r.Table,
				Type:        tableType,
				Description: r.TableDescription.String,
			})
			i = len(tables) - 1
			index[key] = i
		}
		tables[i].Columns = append(tables[i].Columns, sqlflow.ColumnInfo{
			Name:        r.Column,
			DataType:    r.DataType,
			Nullable:    r.IsNullable == "YES",
			Description: r.ColumnDescription.String,
		})
	}
	return tables
}
