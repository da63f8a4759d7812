package postgres

import (
	"context"
	"fmt"

	"github.com/panelhub-io/panelhub-engine/pkg/adapters/datasource"
	"github.com/panelhub-io/panelhub-engine/pkg/models"
)

// Introspector provides PostgreSQL schema introspection over a leased pool.
type Introspector struct {
	lease *datasource.Lease
}

// NewIntrospector creates a schema introspector, acquiring a pool lease with
// the standard connect timeout.
func NewIntrospector(ctx context.Context, registry *datasource.Registry, conn *models.Connection, secret string) (*Introspector, error) {
	cfg := configFrom(conn, secret)

	lease, err := registry.Acquire(ctx, conn.ID, buildConnectionString(cfg), datasource.PurposeSchema)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire pool: %w", err)
	}

	return &Introspector{lease: lease}, nil
}

// Close releases the pool lease. Idempotent.
func (in *Introspector) Close() error {
	in.lease.Release()
	return nil
}

// ListSchemas returns all user-visible schemas, sorted by name. System
// schemas are excluded.
func (in *Introspector) ListSchemas(ctx context.Context) ([]string, error) {
	const query = `
		SELECT schema_name
		FROM information_schema.schemata
		WHERE schema_name NOT IN ('pg_catalog', 'information_schema', 'pg_toast')
		  AND schema_name NOT LIKE 'pg_temp_%'
		  AND schema_name NOT LIKE 'pg_toast_temp_%'
		ORDER BY schema_name`

	rows, err := in.lease.Pool().Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query schemas: %w", err)
	}
	defer rows.Close()

	var schemas []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan schema: %w", err)
		}
		schemas = append(schemas, name)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate schemas: %w", err)
	}

	return schemas, nil
}

// ListTables returns the base tables of a schema, sorted by name. Views are
// excluded.
func (in *Introspector) ListTables(ctx context.Context, schema string) ([]string, error) {
	const query = `
		SELECT table_name
		FROM information_schema.tables
		WHERE table_schema = $1
		  AND table_type = 'BASE TABLE'
		ORDER BY table_name`

	rows, err := in.lease.Pool().Query(ctx, query, schema)
	if err != nil {
		return nil, fmt.Errorf("query tables: %w", err)
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan table: %w", err)
		}
		tables = append(tables, name)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tables: %w", err)
	}

	return tables, nil
}

// DescribeTable returns column definitions and key constraints for a table.
// PrimaryKey and ForeignKeys are populated only when such constraints exist;
// composite primary keys list their columns in index order.
func (in *Introspector) DescribeTable(ctx context.Context, schema, table string) (*datasource.TableDescription, error) {
	columns, err := in.describeColumns(ctx, schema, table)
	if err != nil {
		return nil, err
	}
	if len(columns) == 0 {
		return nil, fmt.Errorf("table %s.%s does not exist", schema, table)
	}

	pk, err := in.primaryKey(ctx, schema, table)
	if err != nil {
		return nil, err
	}

	fks, err := in.foreignKeys(ctx, schema, table)
	if err != nil {
		return nil, err
	}

	return &datasource.TableDescription{
		Columns:     columns,
		PrimaryKey:  pk,
		ForeignKeys: fks,
	}, nil
}

func (in *Introspector) describeColumns(ctx context.Context, schema, table string) ([]datasource.ColumnDescription, error) {
	const query = `
		SELECT
			column_name,
			data_type,
			is_nullable = 'YES' AS is_nullable,
			column_default,
			character_maximum_length
		FROM information_schema.columns
		WHERE table_schema = $1 AND table_name = $2
		ORDER BY ordinal_position`

	rows, err := in.lease.Pool().Query(ctx, query, schema, table)
	if err != nil {
		return nil, fmt.Errorf("query columns: %w", err)
	}
	defer rows.Close()

	var columns []datasource.ColumnDescription
	for rows.Next() {
		var c datasource.ColumnDescription
		if err := rows.Scan(&c.Name, &c.DataType, &c.Nullable, &c.DefaultValue, &c.MaxLength); err != nil {
			return nil, fmt.Errorf("scan column: %w", err)
		}
		columns = append(columns, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate columns: %w", err)
	}

	return columns, nil
}

// primaryKey reads pg_index rather than information_schema constraints, which
// correctly detects primary keys created as unique indexes by ORMs and keeps
// composite key columns in index order.
func (in *Introspector) primaryKey(ctx context.Context, schema, table string) ([]string, error) {
	const query = `
		SELECT a.attname
		FROM pg_index ix
		JOIN pg_class t ON t.oid = ix.indrelid
		JOIN pg_namespace n ON n.oid = t.relnamespace
		JOIN pg_attribute a ON a.attrelid = t.oid AND a.attnum = ANY(ix.indkey)
		WHERE ix.indisprimary
		  AND n.nspname = $1
		  AND t.relname = $2
		ORDER BY array_position(ix.indkey::int2[], a.attnum)`

	rows, err := in.lease.Pool().Query(ctx, query, schema, table)
	if err != nil {
		return nil, fmt.Errorf("query primary key: %w", err)
	}
	defer rows.Close()

	var pk []string
	for rows.Next() {
		var col string
		if err := rows.Scan(&col); err != nil {
			return nil, fmt.Errorf("scan primary key column: %w", err)
		}
		pk = append(pk, col)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate primary key columns: %w", err)
	}

	return pk, nil
}

func (in *Introspector) foreignKeys(ctx context.Context, schema, table string) ([]datasource.ForeignKeyDescription, error) {
	const query = `
		SELECT
			kcu.column_name,
			ccu.table_name AS referenced_table,
			ccu.column_name AS referenced_column
		FROM information_schema.table_constraints tc
		JOIN information_schema.key_column_usage kcu
			ON tc.constraint_name = kcu.constraint_name
			AND tc.table_schema = kcu.table_schema
		JOIN information_schema.constraint_column_usage ccu
			ON tc.constraint_name = ccu.constraint_name
			AND tc.table_schema = ccu.table_schema
		WHERE tc.constraint_type = 'FOREIGN KEY'
		  AND tc.table_schema = $1
		  AND tc.table_name = $2
		ORDER BY kcu.column_name`

	rows, err := in.lease.Pool().Query(ctx, query, schema, table)
	if err != nil {
		return nil, fmt.Errorf("query foreign keys: %w", err)
	}
	defer rows.Close()

	var fks []datasource.ForeignKeyDescription
	for rows.Next() {
		var fk datasource.ForeignKeyDescription
		if err := rows.Scan(&fk.Column, &fk.ReferencedTable, &fk.ReferencedColumn); err != nil {
			return nil, fmt.Errorf("scan foreign key: %w", err)
		}
		fks = append(fks, fk)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate foreign keys: %w", err)
	}

	return fks, nil
}

// Ensure Introspector implements SchemaIntrospector at compile time.
var _ datasource.SchemaIntrospector = (*Introspector)(nil)
