package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/panelhub-io/panelhub-engine/pkg/adapters/datasource"
	"github.com/panelhub-io/panelhub-engine/pkg/models"
)

// Tester provides PostgreSQL connectivity testing over a leased pool.
type Tester struct {
	lease    *datasource.Lease
	database string
}

// NewTester creates a connectivity tester, acquiring a pool lease with the
// short health-check connect timeout.
func NewTester(ctx context.Context, registry *datasource.Registry, conn *models.Connection, secret string) (*Tester, error) {
	cfg := configFrom(conn, secret)

	lease, err := registry.Acquire(ctx, conn.ID, buildConnectionString(cfg), datasource.PurposeHealthCheck)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire pool: %w", err)
	}

	return &Tester{lease: lease, database: cfg.Database}, nil
}

// TestConnection verifies the database is reachable with valid credentials.
// It checks server connectivity, database access with a trivial statement,
// and that the connected database matches the configured name.
func (t *Tester) TestConnection(ctx context.Context) error {
	pool := t.lease.Pool()

	if err := pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping failed: %w", err)
	}

	var result int
	if err := pool.QueryRow(ctx, "SELECT 1").Scan(&result); err != nil {
		return fmt.Errorf("test query failed: %w", err)
	}

	var currentDB string
	if err := pool.QueryRow(ctx, "SELECT current_database()").Scan(&currentDB); err != nil {
		return fmt.Errorf("failed to get current database name: %w", err)
	}

	// Case-insensitive comparison handles common configuration issues with
	// mixed-case database names.
	if !strings.EqualFold(currentDB, t.database) {
		return fmt.Errorf("connected to wrong database: expected %q but connected to %q", t.database, currentDB)
	}

	return nil
}

// Close releases the pool lease. Idempotent.
func (t *Tester) Close() error {
	t.lease.Release()
	return nil
}

// Ensure Tester implements ConnectionTester at compile time.
var _ datasource.ConnectionTester = (*Tester)(nil)
