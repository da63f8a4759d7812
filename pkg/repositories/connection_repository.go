// Package repositories contains pgx-backed data access for the metadata
// store. Connection secrets are stored as encrypted TEXT; encryption and
// decryption are handled by the service layer.
package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/panelhub-io/panelhub-engine/pkg/apperrors"
	"github.com/panelhub-io/panelhub-engine/pkg/database"
	"github.com/panelhub-io/panelhub-engine/pkg/models"
)

// ConnectionRepository defines data access for registered connections.
type ConnectionRepository interface {
	// Create inserts a new connection. Returns apperrors.ErrConflict when the
	// name already exists in the project.
	Create(ctx context.Context, conn *models.Connection, encryptedSecret string) error

	// GetByID retrieves a connection. Returns the model and the encrypted
	// secret separately so listings never touch credential material.
	GetByID(ctx context.Context, id uuid.UUID) (*models.Connection, string, error)

	// ListByProject retrieves all connections for a project, without secrets.
	ListByProject(ctx context.Context, projectID uuid.UUID) ([]*models.Connection, error)

	// Update rewrites the mutable fields of a connection.
	Update(ctx context.Context, conn *models.Connection, encryptedSecret string) error

	// UpdateStatus records the outcome of an explicit connection test.
	UpdateStatus(ctx context.Context, id uuid.UUID, status string, testedAt time.Time) error

	// Delete removes a connection. Returns apperrors.ErrConflict while any
	// tile still references it.
	Delete(ctx context.Context, id uuid.UUID) error

	// CountTileRefs returns how many tiles reference the connection.
	CountTileRefs(ctx context.Context, id uuid.UUID) (int, error)
}

type connectionRepository struct {
	db *database.DB
}

// NewConnectionRepository creates a connection repository over the metadata
// store.
func NewConnectionRepository(db *database.DB) ConnectionRepository {
	return &connectionRepository{db: db}
}

const connectionColumns = `id, project_id, owner_id, name, engine_type, host, port, database_name, username, tls, status, last_tested_at, created_at, updated_at`

func scanConnection(row pgx.Row) (*models.Connection, error) {
	var c models.Connection
	err := row.Scan(
		&c.ID,
		&c.ProjectID,
		&c.OwnerID,
		&c.Name,
		&c.EngineType,
		&c.Host,
		&c.Port,
		&c.Database,
		&c.Username,
		&c.TLS,
		&c.Status,
		&c.LastTestedAt,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// Create inserts a new connection.
func (r *connectionRepository) Create(ctx context.Context, conn *models.Connection, encryptedSecret string) error {
	now := time.Now()
	conn.CreatedAt = now
	conn.UpdatedAt = now

	query := `
		INSERT INTO connections (project_id, owner_id, name, engine_type, host, port, database_name, username, secret, tls, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING id`

	err := r.db.QueryRow(ctx, query,
		conn.ProjectID,
		conn.OwnerID,
		conn.Name,
		conn.EngineType,
		conn.Host,
		conn.Port,
		conn.Database,
		conn.Username,
		encryptedSecret,
		conn.TLS,
		conn.Status,
		conn.CreatedAt,
		conn.UpdatedAt,
	).Scan(&conn.ID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("%w: connection name already exists in project", apperrors.ErrConflict)
		}
		return fmt.Errorf("failed to create connection: %w", err)
	}

	return nil
}

// GetByID retrieves a connection by id.
func (r *connectionRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Connection, string, error) {
	query := `SELECT ` + connectionColumns + `, secret FROM connections WHERE id = $1`

	var c models.Connection
	var encryptedSecret string
	err := r.db.QueryRow(ctx, query, id).Scan(
		&c.ID,
		&c.ProjectID,
		&c.OwnerID,
		&c.Name,
		&c.EngineType,
		&c.Host,
		&c.Port,
		&c.Database,
		&c.Username,
		&c.TLS,
		&c.Status,
		&c.LastTestedAt,
		&c.CreatedAt,
		&c.UpdatedAt,
		&encryptedSecret,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, "", fmt.Errorf("%w: connection", apperrors.ErrNotFound)
		}
		return nil, "", fmt.Errorf("failed to get connection: %w", err)
	}

	return &c, encryptedSecret, nil
}

// ListByProject retrieves all connections for a project, never reading the
// secret column.
func (r *connectionRepository) ListByProject(ctx context.Context, projectID uuid.UUID) ([]*models.Connection, error) {
	query := `SELECT ` + connectionColumns + ` FROM connections WHERE project_id = $1 ORDER BY created_at DESC`

	rows, err := r.db.Query(ctx, query, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list connections: %w", err)
	}
	defer rows.Close()

	var connections []*models.Connection
	for rows.Next() {
		c, err := scanConnection(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan connection: %w", err)
		}
		connections = append(connections, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating connections: %w", err)
	}

	return connections, nil
}

// Update rewrites the mutable fields of a connection.
func (r *connectionRepository) Update(ctx context.Context, conn *models.Connection, encryptedSecret string) error {
	query := `
		UPDATE connections
		SET name = $2, engine_type = $3, host = $4, port = $5, database_name = $6,
		    username = $7, secret = $8, tls = $9, updated_at = $10
		WHERE id = $1`

	result, err := r.db.Exec(ctx, query,
		conn.ID,
		conn.Name,
		conn.EngineType,
		conn.Host,
		conn.Port,
		conn.Database,
		conn.Username,
		encryptedSecret,
		conn.TLS,
		time.Now(),
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("%w: connection name already exists in project", apperrors.ErrConflict)
		}
		return fmt.Errorf("failed to update connection: %w", err)
	}

	if result.RowsAffected() == 0 {
		return fmt.Errorf("%w: connection", apperrors.ErrNotFound)
	}

	return nil
}

// UpdateStatus records the outcome of an explicit connection test. Concurrent
// tests race here and the last writer wins; no versioning is applied.
func (r *connectionRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status string, testedAt time.Time) error {
	query := `UPDATE connections SET status = $2, last_tested_at = $3, updated_at = $4 WHERE id = $1`

	result, err := r.db.Exec(ctx, query, id, status, testedAt, time.Now())
	if err != nil {
		return fmt.Errorf("failed to update connection status: %w", err)
	}

	if result.RowsAffected() == 0 {
		return fmt.Errorf("%w: connection", apperrors.ErrNotFound)
	}

	return nil
}

// Delete removes a connection. The tile-reference check and the delete run in
// one transaction so a tile created concurrently cannot orphan itself.
func (r *connectionRepository) Delete(ctx context.Context, id uuid.UUID) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback on defer is best-effort

	var refs int
	if err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM tiles WHERE connection_id = $1`, id).Scan(&refs); err != nil {
		return fmt.Errorf("failed to count tile references: %w", err)
	}
	if refs > 0 {
		return fmt.Errorf("%w: %d tile(s) still reference this connection", apperrors.ErrConflict, refs)
	}

	result, err := tx.Exec(ctx, `DELETE FROM connections WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete connection: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("%w: connection", apperrors.ErrNotFound)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// CountTileRefs returns how many tiles reference the connection.
func (r *connectionRepository) CountTileRefs(ctx context.Context, id uuid.UUID) (int, error) {
	var count int
	err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM tiles WHERE connection_id = $1`, id).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count tile references: %w", err)
	}
	return count, nil
}

// Ensure connectionRepository implements ConnectionRepository at compile time.
var _ ConnectionRepository = (*connectionRepository)(nil)
