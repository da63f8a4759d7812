package postgres

import (
	"context"
	"fmt"

	"github.com/panelhub-io/panelhub-engine/pkg/adapters/datasource"
	"github.com/panelhub-io/panelhub-engine/pkg/models"
)

// Executor provides PostgreSQL query execution over a leased pool.
type Executor struct {
	lease *datasource.Lease
}

// NewExecutor creates a query executor, acquiring a pool lease with the
// standard connect timeout.
func NewExecutor(ctx context.Context, registry *datasource.Registry, conn *models.Connection, secret string) (*Executor, error) {
	cfg := configFrom(conn, secret)

	lease, err := registry.Acquire(ctx, conn.ID, buildConnectionString(cfg), datasource.PurposeQuery)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire pool: %w", err)
	}

	return &Executor{lease: lease}, nil
}

// Close releases the pool lease. Idempotent.
func (e *Executor) Close() error {
	e.lease.Release()
	return nil
}

// ExecuteQuery runs a statement with positional $1, $2, ... parameter
// binding. Parameters go through pgx's parameterized-execution path and are
// never interpolated into the SQL text. The statement itself is passed
// through unmodified.
func (e *Executor) ExecuteQuery(ctx context.Context, sqlText string, params []any) (*datasource.QueryResult, error) {
	rows, err := e.lease.Pool().Query(ctx, sqlText, params...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	defer rows.Close()

	fieldDescs := rows.FieldDescriptions()
	fields := make([]datasource.FieldInfo, len(fieldDescs))
	for i, fd := range fieldDescs {
		fields[i] = datasource.FieldInfo{
			Name:           string(fd.Name),
			TypeIdentifier: typeNameForOID(fd.DataTypeOID),
		}
	}

	resultRows := make([]map[string]any, 0)
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("failed to read row values: %w", err)
		}

		rowMap := make(map[string]any, len(fields))
		for i, f := range fields {
			rowMap[f.Name] = values[i]
		}
		resultRows = append(resultRows, rowMap)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return &datasource.QueryResult{
		Fields:   fields,
		Rows:     resultRows,
		RowCount: len(resultRows),
	}, nil
}

// pgTypeNames maps common PostgreSQL type OIDs to type names reported in
// query result fields.
var pgTypeNames = map[uint32]string{
	16:   "BOOL",
	17:   "BYTEA",
	18:   "CHAR",
	20:   "INT8",
	21:   "INT2",
	23:   "INT4",
	25:   "TEXT",
	26:   "OID",
	114:  "JSON",
	142:  "XML",
	700:  "FLOAT4",
	701:  "FLOAT8",
	790:  "MONEY",
	1042: "BPCHAR",
	1043: "VARCHAR",
	1082: "DATE",
	1083: "TIME",
	1114: "TIMESTAMP",
	1184: "TIMESTAMPTZ",
	1186: "INTERVAL",
	1266: "TIMETZ",
	1700: "NUMERIC",
	2950: "UUID",
	3802: "JSONB",
	1000: "BOOL[]",
	1005: "INT2[]",
	1007: "INT4[]",
	1016: "INT8[]",
	1009: "TEXT[]",
	1015: "VARCHAR[]",
	1021: "FLOAT4[]",
	1022: "FLOAT8[]",
	1231: "NUMERIC[]",
	2951: "UUID[]",
}

func typeNameForOID(oid uint32) string {
	if name, ok := pgTypeNames[oid]; ok {
		return name
	}
	return "UNKNOWN"
}

// Ensure Executor implements QueryExecutor at compile time.
var _ datasource.QueryExecutor = (*Executor)(nil)
