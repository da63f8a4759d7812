package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/panelhub-io/panelhub-engine/pkg/apperrors"
	"github.com/panelhub-io/panelhub-engine/pkg/authz"
	"github.com/panelhub-io/panelhub-engine/pkg/models"
	"github.com/panelhub-io/panelhub-engine/pkg/repositories"
)

// ProjectService manages projects, their containment hierarchy, and role
// assignments.
type ProjectService interface {
	CreateProject(ctx context.Context, userID uuid.UUID, name string) (*models.Project, error)
	GetProject(ctx context.Context, userID, projectID uuid.UUID) (*models.Project, error)

	CreateFolder(ctx context.Context, userID, projectID uuid.UUID, name string) (*models.Folder, error)
	CreateDashboard(ctx context.Context, userID, folderID uuid.UUID, name string) (*models.Dashboard, error)
	CreateTile(ctx context.Context, userID, dashboardID, connectionID uuid.UUID, name, query string) (*models.Tile, error)

	ListMembers(ctx context.Context, userID, projectID uuid.UUID) ([]*models.Member, error)
	SetMemberRole(ctx context.Context, userID, projectID, targetID uuid.UUID, role string) error
	RemoveMember(ctx context.Context, userID, projectID, targetID uuid.UUID) error
}

type projectService struct {
	hierarchy   repositories.HierarchyRepository
	members     repositories.MemberRepository
	connections repositories.ConnectionRepository
	resolver    *authz.Resolver
	logger      *zap.Logger
}

// NewProjectService creates a project service.
func NewProjectService(
	hierarchy repositories.HierarchyRepository,
	members repositories.MemberRepository,
	connections repositories.ConnectionRepository,
	resolver *authz.Resolver,
	logger *zap.Logger,
) ProjectService {
	return &projectService{
		hierarchy:   hierarchy,
		members:     members,
		connections: connections,
		resolver:    resolver,
		logger:      logger,
	}
}

// CreateProject creates a project with the caller as creator. The creator is
// an admin from the first moment, both implicitly and as an explicit row.
func (s *projectService) CreateProject(ctx context.Context, userID uuid.UUID, name string) (*models.Project, error) {
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("%w: name is required", apperrors.ErrValidation)
	}

	project := &models.Project{
		Name:      name,
		CreatorID: userID,
	}

	if err := s.hierarchy.CreateProject(ctx, project); err != nil {
		return nil, err
	}

	s.logger.Info("project created",
		zap.String("projectID", project.ID.String()),
		zap.String("creatorID", userID.String()),
	)

	return project, nil
}

// GetProject retrieves a project the caller can at least view.
func (s *projectService) GetProject(ctx context.Context, userID, projectID uuid.UUID) (*models.Project, error) {
	if err := s.resolver.RequireProject(ctx, userID, projectID, models.RoleViewer); err != nil {
		return nil, err
	}
	return s.hierarchy.GetProject(ctx, projectID)
}

// CreateFolder creates a folder under a project.
func (s *projectService) CreateFolder(ctx context.Context, userID, projectID uuid.UUID, name string) (*models.Folder, error) {
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("%w: name is required", apperrors.ErrValidation)
	}

	if err := s.resolver.RequireProject(ctx, userID, projectID, models.RoleEditor); err != nil {
		return nil, err
	}

	folder := &models.Folder{ProjectID: projectID, Name: name}
	if err := s.hierarchy.CreateFolder(ctx, folder); err != nil {
		return nil, err
	}
	return folder, nil
}

// CreateDashboard creates a dashboard under a folder. The caller's role
// resolves against the folder's project.
func (s *projectService) CreateDashboard(ctx context.Context, userID, folderID uuid.UUID, name string) (*models.Dashboard, error) {
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("%w: name is required", apperrors.ErrValidation)
	}

	projectID, err := s.hierarchy.FolderProject(ctx, folderID)
	if err != nil {
		return nil, err
	}
	if err := s.resolver.RequireProject(ctx, userID, projectID, models.RoleEditor); err != nil {
		return nil, err
	}

	dashboard := &models.Dashboard{FolderID: folderID, Name: name}
	if err := s.hierarchy.CreateDashboard(ctx, dashboard); err != nil {
		return nil, err
	}
	return dashboard, nil
}

// CreateTile creates a tile under a dashboard. The referenced connection must
// belong to the same project as the dashboard.
func (s *projectService) CreateTile(ctx context.Context, userID, dashboardID, connectionID uuid.UUID, name, query string) (*models.Tile, error) {
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("%w: name is required", apperrors.ErrValidation)
	}

	folderID, err := s.hierarchy.DashboardFolder(ctx, dashboardID)
	if err != nil {
		return nil, err
	}
	projectID, err := s.hierarchy.FolderProject(ctx, folderID)
	if err != nil {
		return nil, err
	}
	if err := s.resolver.RequireProject(ctx, userID, projectID, models.RoleEditor); err != nil {
		return nil, err
	}

	conn, _, err := s.connections.GetByID(ctx, connectionID)
	if err != nil {
		return nil, err
	}
	if conn.ProjectID != projectID {
		return nil, fmt.Errorf("%w: connection belongs to a different project", apperrors.ErrValidation)
	}

	tile := &models.Tile{
		DashboardID:  dashboardID,
		ConnectionID: connectionID,
		Name:         name,
		Query:        query,
	}
	if err := s.hierarchy.CreateTile(ctx, tile); err != nil {
		return nil, err
	}
	return tile, nil
}

// ListMembers retrieves the role assignments of a project.
func (s *projectService) ListMembers(ctx context.Context, userID, projectID uuid.UUID) ([]*models.Member, error) {
	if err := s.resolver.RequireProject(ctx, userID, projectID, models.RoleViewer); err != nil {
		return nil, err
	}
	return s.members.ListByProject(ctx, projectID)
}

// SetMemberRole assigns or changes a member's role. The project creator's
// admin role can never be changed, and the last admin cannot be demoted.
func (s *projectService) SetMemberRole(ctx context.Context, userID, projectID, targetID uuid.UUID, role string) error {
	if !models.IsValidRole(role) {
		return fmt.Errorf("%w: invalid role %q", apperrors.ErrValidation, role)
	}

	if err := s.resolver.RequireProject(ctx, userID, projectID, models.RoleAdmin); err != nil {
		return err
	}

	creatorID, err := s.hierarchy.ProjectCreator(ctx, projectID)
	if err != nil {
		return err
	}
	if targetID == creatorID && role != models.RoleAdmin {
		return fmt.Errorf("%w: the project creator is always an admin", apperrors.ErrCreatorImmutable)
	}

	existing, err := s.members.MemberRole(ctx, projectID, targetID)
	if err != nil {
		return err
	}
	if existing == "" {
		return s.members.Upsert(ctx, &models.Member{
			ProjectID: projectID,
			UserID:    targetID,
			Role:      role,
		})
	}
	if existing == role {
		return nil
	}
	return s.members.UpdateRoleWithAdminCheck(ctx, projectID, targetID, role)
}

// RemoveMember removes a role assignment. The creator can never be removed,
// and removal that would leave the project without an admin is rejected,
// including an admin removing themself.
func (s *projectService) RemoveMember(ctx context.Context, userID, projectID, targetID uuid.UUID) error {
	if err := s.resolver.RequireProject(ctx, userID, projectID, models.RoleAdmin); err != nil {
		return err
	}

	creatorID, err := s.hierarchy.ProjectCreator(ctx, projectID)
	if err != nil {
		return err
	}
	if targetID == creatorID {
		return fmt.Errorf("%w: the project creator cannot be removed", apperrors.ErrCreatorImmutable)
	}

	return s.members.RemoveWithAdminCheck(ctx, projectID, targetID)
}

// Ensure projectService implements ProjectService at compile time.
var _ ProjectService = (*projectService)(nil)
