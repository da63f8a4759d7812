// Package authz resolves a caller's effective role by walking the resource
// hierarchy up to its project and consulting role assignments. Every endpoint
// funnels through the same Require* calls so there is exactly one place where
// role policy lives.
package authz

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/panelhub-io/panelhub-engine/pkg/apperrors"
	"github.com/panelhub-io/panelhub-engine/pkg/models"
)

// Directory answers single-hop parent lookups over the resource hierarchy.
// Each method returns apperrors.ErrNotFound (wrapped) when the id does not
// resolve, which the resolver surfaces as a broken chain.
type Directory interface {
	// TileDashboard returns the dashboard owning the given tile.
	TileDashboard(ctx context.Context, tileID uuid.UUID) (uuid.UUID, error)

	// DashboardFolder returns the folder owning the given dashboard.
	DashboardFolder(ctx context.Context, dashboardID uuid.UUID) (uuid.UUID, error)

	// FolderProject returns the project owning the given folder.
	FolderProject(ctx context.Context, folderID uuid.UUID) (uuid.UUID, error)

	// ProjectCreator returns the creator user id of the given project.
	ProjectCreator(ctx context.Context, projectID uuid.UUID) (uuid.UUID, error)
}

// RoleSource answers role-assignment lookups.
type RoleSource interface {
	// MemberRole returns the explicit role assigned to the user in the
	// project, or "" when no assignment row exists.
	MemberRole(ctx context.Context, projectID, userID uuid.UUID) (string, error)
}

// Resolver is the authorization overlay. It performs pure reads and holds no
// state across calls.
type Resolver struct {
	dir   Directory
	roles RoleSource
}

// NewResolver creates a resolver over the given lookups.
func NewResolver(dir Directory, roles RoleSource) *Resolver {
	return &Resolver{dir: dir, roles: roles}
}

// Resolve returns the caller's effective role in the project, or "" when the
// caller has none. A project's creator is an implicit admin even without an
// assignment row.
func (r *Resolver) Resolve(ctx context.Context, userID, projectID uuid.UUID) (string, error) {
	role, err := r.roles.MemberRole(ctx, projectID, userID)
	if err != nil {
		return "", fmt.Errorf("look up role assignment: %w", err)
	}
	if role != "" {
		return role, nil
	}

	creator, err := r.dir.ProjectCreator(ctx, projectID)
	if err != nil {
		return "", err
	}
	if creator == userID {
		return models.RoleAdmin, nil
	}
	return "", nil
}

// RequireProject resolves the caller's role in the project and compares it
// against minRole. Returns apperrors.ErrNotAuthorized when the role is absent
// or insufficient.
func (r *Resolver) RequireProject(ctx context.Context, userID, projectID uuid.UUID, minRole string) error {
	role, err := r.Resolve(ctx, userID, projectID)
	if err != nil {
		return err
	}
	if role == "" {
		return fmt.Errorf("%w: no role in project", apperrors.ErrNotAuthorized)
	}
	if !models.RoleAtLeast(role, minRole) {
		return fmt.Errorf("%w: role %s does not meet required %s", apperrors.ErrNotAuthorized, role, minRole)
	}
	return nil
}

// ProjectForTile walks Tile -> Dashboard -> Folder -> Project. A dangling hop
// anywhere in the chain surfaces as apperrors.ErrNotFound.
func (r *Resolver) ProjectForTile(ctx context.Context, tileID uuid.UUID) (uuid.UUID, error) {
	dashboardID, err := r.dir.TileDashboard(ctx, tileID)
	if err != nil {
		return uuid.Nil, err
	}
	folderID, err := r.dir.DashboardFolder(ctx, dashboardID)
	if err != nil {
		return uuid.Nil, err
	}
	projectID, err := r.dir.FolderProject(ctx, folderID)
	if err != nil {
		return uuid.Nil, err
	}
	return projectID, nil
}

// RequireTile resolves the tile's owning project through the full resource
// chain and then enforces minRole there. Returns the resolved project id so
// callers do not repeat the walk.
func (r *Resolver) RequireTile(ctx context.Context, userID, tileID uuid.UUID, minRole string) (uuid.UUID, error) {
	projectID, err := r.ProjectForTile(ctx, tileID)
	if err != nil {
		return uuid.Nil, err
	}
	if err := r.RequireProject(ctx, userID, projectID, minRole); err != nil {
		return uuid.Nil, err
	}
	return projectID, nil
}
