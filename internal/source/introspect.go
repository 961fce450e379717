package source

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/johndauphine/mysql-bq-replicate/internal/schema"
)

var (
	// ErrSchemaNotFound indicates a table with no columns in
	// information_schema, i.e. the table does not exist in the catalog.
	ErrSchemaNotFound = errors.New("table schema not found")

	// ErrAmbiguousCatalog indicates the session has no default database
	// selected, so unqualified introspection would silently read the
	// wrong catalog.
	ErrAmbiguousCatalog = errors.New("no default database selected")
)

// CheckCatalog verifies the session's default database matches the
// configured one. The DSN selects the database, but a proxy or init
// statement can leave the session without one.
func (c *Conn) CheckCatalog(ctx context.Context) error {
	var current sql.NullString
	if err := c.db.QueryRowContext(ctx, "SELECT DATABASE()").Scan(&current); err != nil {
		return fmt.Errorf("resolving current database: %w", err)
	}
	if !current.Valid || current.String == "" {
		return ErrAmbiguousCatalog
	}
	if current.String != c.cfg.Database {
		return fmt.Errorf("%w: session database %q, configured %q", ErrAmbiguousCatalog, current.String, c.cfg.Database)
	}
	return nil
}

// ListTables returns the base table names in the source database, sorted.
func (c *Conn) ListTables(ctx context.Context) ([]string, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT TABLE_NAME
		FROM information_schema.TABLES
		WHERE TABLE_TYPE = 'BASE TABLE' AND TABLE_SCHEMA = ?
		ORDER BY TABLE_NAME
	`, c.cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("querying tables: %w", err)
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scanning table name: %w", err)
		}
		tables = append(tables, name)
	}
	return tables, rows.Err()
}

// Introspect loads a table's column metadata and primary key, and maps
// every column to its target field type. An unmappable column fails the
// whole table: partial schemas would silently drop data.
func (c *Conn) Introspect(ctx context.Context, table string) (*schema.TableSchema, error) {
	if err := schema.ValidateIdentifier(table); err != nil {
		return nil, fmt.Errorf("invalid table name: %w", err)
	}

	rows, err := c.db.QueryContext(ctx, `
		SELECT
			COLUMN_NAME,
			COLUMN_TYPE,
			CASE WHEN IS_NULLABLE = 'YES' THEN true ELSE false END,
			ORDINAL_POSITION
		FROM information_schema.COLUMNS
		WHERE TABLE_SCHEMA = ? AND TABLE_NAME = ?
		ORDER BY ORDINAL_POSITION
	`, c.cfg.Database, table)
	if err != nil {
		return nil, fmt.Errorf("querying columns for %s: %w", table, err)
	}
	defer rows.Close()

	ts := &schema.TableSchema{
		Table: schema.TableRef{
			Database: c.cfg.Database,
			Name:     table,
			Target:   c.cfg.TablePrefix + table,
		},
	}

	for rows.Next() {
		var col schema.Column
		if err := rows.Scan(&col.Name, &col.SourceType, &col.Nullable, &col.OrdinalPos); err != nil {
			return nil, fmt.Errorf("scanning column: %w", err)
		}
		col.Type, err = schema.MapType(col.SourceType)
		if err != nil {
			return nil, fmt.Errorf("table %s, column %s: %w", table, col.Name, err)
		}
		ts.Columns = append(ts.Columns, col)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading columns for %s: %w", table, err)
	}

	if len(ts.Columns) == 0 {
		return nil, fmt.Errorf("%w: %s.%s", ErrSchemaNotFound, c.cfg.Database, table)
	}

	if err := c.loadPrimaryKey(ctx, ts); err != nil {
		return nil, err
	}

	return ts, nil
}

func (c *Conn) loadPrimaryKey(ctx context.Context, ts *schema.TableSchema) error {
	rows, err := c.db.QueryContext(ctx, `
		SELECT COLUMN_NAME
		FROM information_schema.KEY_COLUMN_USAGE
		WHERE TABLE_SCHEMA = ? AND TABLE_NAME = ? AND CONSTRAINT_NAME = 'PRIMARY'
		ORDER BY ORDINAL_POSITION
	`, ts.Table.Database, ts.Table.Name)
	if err != nil {
		return fmt.Errorf("querying primary key for %s: %w", ts.Table.Name, err)
	}
	defer rows.Close()

	for rows.Next() {
		var col string
		if err := rows.Scan(&col); err != nil {
			return fmt.Errorf("scanning pk column: %w", err)
		}
		ts.PrimaryKey = append(ts.PrimaryKey, col)
	}
	return rows.Err()
}
