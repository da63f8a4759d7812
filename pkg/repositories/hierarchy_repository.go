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

// HierarchyRepository defines data access for the project containment chain:
// projects contain folders, folders contain dashboards, dashboards contain
// tiles. The single-parent lookups feed authorization resolution.
type HierarchyRepository interface {
	// CreateProject inserts a project and, in the same transaction, an
	// explicit admin assignment for its creator.
	CreateProject(ctx context.Context, project *models.Project) error

	// GetProject retrieves a project by id.
	GetProject(ctx context.Context, id uuid.UUID) (*models.Project, error)

	// CreateFolder inserts a folder under an existing project.
	CreateFolder(ctx context.Context, folder *models.Folder) error

	// CreateDashboard inserts a dashboard under an existing folder.
	CreateDashboard(ctx context.Context, dashboard *models.Dashboard) error

	// CreateTile inserts a tile under an existing dashboard, referencing an
	// existing connection.
	CreateTile(ctx context.Context, tile *models.Tile) error

	// GetTile retrieves a tile by id.
	GetTile(ctx context.Context, id uuid.UUID) (*models.Tile, error)

	// TileDashboard returns the dashboard containing a tile.
	TileDashboard(ctx context.Context, tileID uuid.UUID) (uuid.UUID, error)

	// DashboardFolder returns the folder containing a dashboard.
	DashboardFolder(ctx context.Context, dashboardID uuid.UUID) (uuid.UUID, error)

	// FolderProject returns the project containing a folder.
	FolderProject(ctx context.Context, folderID uuid.UUID) (uuid.UUID, error)

	// ProjectCreator returns the creator of a project.
	ProjectCreator(ctx context.Context, projectID uuid.UUID) (uuid.UUID, error)
}

type hierarchyRepository struct {
	db *database.DB
}

// NewHierarchyRepository creates a hierarchy repository over the metadata
// store.
func NewHierarchyRepository(db *database.DB) HierarchyRepository {
	return &hierarchyRepository{db: db}
}

// CreateProject inserts a project together with its creator's explicit admin
// assignment. The creator is already an implicit admin, but the explicit row
// makes the membership visible in listings.
func (r *hierarchyRepository) CreateProject(ctx context.Context, project *models.Project) error {
	now := time.Now()
	project.CreatedAt = now
	project.UpdatedAt = now

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback on defer is best-effort

	err = tx.QueryRow(ctx,
		`INSERT INTO projects (name, creator_id, created_at, updated_at) VALUES ($1, $2, $3, $4) RETURNING id`,
		project.Name, project.CreatorID, project.CreatedAt, project.UpdatedAt,
	).Scan(&project.ID)
	if err != nil {
		return fmt.Errorf("failed to create project: %w", err)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO project_members (project_id, user_id, role, created_at, updated_at) VALUES ($1, $2, $3, $4, $5)`,
		project.ID, project.CreatorID, models.RoleAdmin, now, now,
	)
	if err != nil {
		return fmt.Errorf("failed to assign creator role: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// GetProject retrieves a project by id.
func (r *hierarchyRepository) GetProject(ctx context.Context, id uuid.UUID) (*models.Project, error) {
	var p models.Project
	err := r.db.QueryRow(ctx,
		`SELECT id, name, creator_id, created_at, updated_at FROM projects WHERE id = $1`,
		id,
	).Scan(&p.ID, &p.Name, &p.CreatorID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: project", apperrors.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get project: %w", err)
	}
	return &p, nil
}

// CreateFolder inserts a folder under an existing project.
func (r *hierarchyRepository) CreateFolder(ctx context.Context, folder *models.Folder) error {
	now := time.Now()
	folder.CreatedAt = now
	folder.UpdatedAt = now

	err := r.db.QueryRow(ctx,
		`INSERT INTO folders (project_id, name, created_at, updated_at) VALUES ($1, $2, $3, $4) RETURNING id`,
		folder.ProjectID, folder.Name, folder.CreatedAt, folder.UpdatedAt,
	).Scan(&folder.ID)
	if err != nil {
		return wrapParentViolation(err, "project", "failed to create folder")
	}

	return nil
}

// CreateDashboard inserts a dashboard under an existing folder.
func (r *hierarchyRepository) CreateDashboard(ctx context.Context, dashboard *models.Dashboard) error {
	now := time.Now()
	dashboard.CreatedAt = now
	dashboard.UpdatedAt = now

	err := r.db.QueryRow(ctx,
		`INSERT INTO dashboards (folder_id, name, created_at, updated_at) VALUES ($1, $2, $3, $4) RETURNING id`,
		dashboard.FolderID, dashboard.Name, dashboard.CreatedAt, dashboard.UpdatedAt,
	).Scan(&dashboard.ID)
	if err != nil {
		return wrapParentViolation(err, "folder", "failed to create dashboard")
	}

	return nil
}

// CreateTile inserts a tile under an existing dashboard.
func (r *hierarchyRepository) CreateTile(ctx context.Context, tile *models.Tile) error {
	now := time.Now()
	tile.CreatedAt = now
	tile.UpdatedAt = now

	err := r.db.QueryRow(ctx,
		`INSERT INTO tiles (dashboard_id, connection_id, name, query, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
		tile.DashboardID, tile.ConnectionID, tile.Name, tile.Query, tile.CreatedAt, tile.UpdatedAt,
	).Scan(&tile.ID)
	if err != nil {
		return wrapParentViolation(err, "dashboard or connection", "failed to create tile")
	}

	return nil
}

// GetTile retrieves a tile by id.
func (r *hierarchyRepository) GetTile(ctx context.Context, id uuid.UUID) (*models.Tile, error) {
	var t models.Tile
	err := r.db.QueryRow(ctx,
		`SELECT id, dashboard_id, connection_id, name, query, created_at, updated_at FROM tiles WHERE id = $1`,
		id,
	).Scan(&t.ID, &t.DashboardID, &t.ConnectionID, &t.Name, &t.Query, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: tile", apperrors.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get tile: %w", err)
	}
	return &t, nil
}

// TileDashboard returns the dashboard containing a tile.
func (r *hierarchyRepository) TileDashboard(ctx context.Context, tileID uuid.UUID) (uuid.UUID, error) {
	return r.parentLookup(ctx, `SELECT dashboard_id FROM tiles WHERE id = $1`, tileID, "tile")
}

// DashboardFolder returns the folder containing a dashboard.
func (r *hierarchyRepository) DashboardFolder(ctx context.Context, dashboardID uuid.UUID) (uuid.UUID, error) {
	return r.parentLookup(ctx, `SELECT folder_id FROM dashboards WHERE id = $1`, dashboardID, "dashboard")
}

// FolderProject returns the project containing a folder.
func (r *hierarchyRepository) FolderProject(ctx context.Context, folderID uuid.UUID) (uuid.UUID, error) {
	return r.parentLookup(ctx, `SELECT project_id FROM folders WHERE id = $1`, folderID, "folder")
}

// ProjectCreator returns the creator of a project.
func (r *hierarchyRepository) ProjectCreator(ctx context.Context, projectID uuid.UUID) (uuid.UUID, error) {
	return r.parentLookup(ctx, `SELECT creator_id FROM projects WHERE id = $1`, projectID, "project")
}

func (r *hierarchyRepository) parentLookup(ctx context.Context, query string, id uuid.UUID, entity string) (uuid.UUID, error) {
	var parent uuid.UUID
	err := r.db.QueryRow(ctx, query, id).Scan(&parent)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return uuid.Nil, fmt.Errorf("%w: %s", apperrors.ErrNotFound, entity)
		}
		return uuid.Nil, fmt.Errorf("failed to resolve %s parent: %w", entity, err)
	}
	return parent, nil
}

func wrapParentViolation(err error, parent, msg string) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23503" {
		return fmt.Errorf("%w: %s", apperrors.ErrNotFound, parent)
	}
	return fmt.Errorf("%s: %w", msg, err)
}

// Ensure hierarchyRepository implements HierarchyRepository at compile time.
var _ HierarchyRepository = (*hierarchyRepository)(nil)
