// Package datasource defines the adapter surface for external databases and
// the pool registry that hands out time-bounded connectivity to them. Each
// adapter owns a lease on a pooled connection and must be closed when done;
// closing an adapter releases the lease exactly once.
package datasource

import "context"

// Purpose selects the connect-timeout profile when acquiring a pool.
type Purpose string

const (
	// PurposeHealthCheck uses the short connect timeout.
	PurposeHealthCheck Purpose = "health-check"
	// PurposeSchema uses the standard connect timeout.
	PurposeSchema Purpose = "schema"
	// PurposeQuery uses the standard connect timeout.
	PurposeQuery Purpose = "query"
)

// ConnectionTester tests external database connectivity.
type ConnectionTester interface {
	// TestConnection verifies the database is reachable with valid
	// credentials and that the expected database is the one connected to.
	TestConnection(ctx context.Context) error

	// Close releases the underlying pool lease. Idempotent.
	Close() error
}

// SchemaIntrospector reads catalog metadata from an external database.
type SchemaIntrospector interface {
	// ListSchemas returns all user-visible schemas, sorted by name.
	ListSchemas(ctx context.Context) ([]string, error)

	// ListTables returns the base tables of a schema, sorted by name.
	// Views are excluded.
	ListTables(ctx context.Context, schema string) ([]string, error)

	// DescribeTable returns column definitions and key constraints for a
	// table.
	DescribeTable(ctx context.Context, schema, table string) (*TableDescription, error)

	// Close releases the underlying pool lease. Idempotent.
	Close() error
}

// QueryExecutor runs caller-supplied SQL against an external database.
type QueryExecutor interface {
	// ExecuteQuery runs a statement with positional parameter binding and
	// returns typed rows. The SQL is passed through to the driver unmodified;
	// nothing is rewritten, validated, or classified.
	ExecuteQuery(ctx context.Context, sqlText string, params []any) (*QueryResult, error)

	// Close releases the underlying pool lease. Idempotent.
	Close() error
}

// ColumnDescription describes one column of an introspected table.
type ColumnDescription struct {
	Name         string  `json:"name"`
	DataType     string  `json:"dataType"`
	Nullable     bool    `json:"nullable"`
	DefaultValue *string `json:"defaultValue,omitempty"`
	MaxLength    *int    `json:"maxLength,omitempty"`
}

// ForeignKeyDescription describes one foreign key column of an introspected
// table.
type ForeignKeyDescription struct {
	Column           string `json:"column"`
	ReferencedTable  string `json:"referencedTable"`
	ReferencedColumn string `json:"referencedColumn"`
}

// TableDescription describes the structure of an introspected table.
// PrimaryKey and ForeignKeys are present only when such constraints exist.
type TableDescription struct {
	Columns     []ColumnDescription     `json:"columns"`
	PrimaryKey  []string                `json:"primaryKey,omitempty"`
	ForeignKeys []ForeignKeyDescription `json:"foreignKeys,omitempty"`
}

// FieldInfo describes one result field of an executed query.
type FieldInfo struct {
	Name           string `json:"name"`
	TypeIdentifier string `json:"typeIdentifier"`
}

// QueryResult holds the results of an executed query.
type QueryResult struct {
	Fields   []FieldInfo      `json:"fields"`
	Rows     []map[string]any `json:"rows"`
	RowCount int              `json:"rowCount"`
}
