package services

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/panelhub-io/panelhub-engine/pkg/apperrors"
	"github.com/panelhub-io/panelhub-engine/pkg/authz"
	"github.com/panelhub-io/panelhub-engine/pkg/models"
)

type projectEnv struct {
	hierarchy   *memHierarchyRepo
	members     *memMemberRepo
	connections *memConnectionRepo
	service     ProjectService

	creatorID uuid.UUID
}

func newProjectEnv(t *testing.T) *projectEnv {
	t.Helper()

	members := newMemMemberRepo()
	hierarchy := newMemHierarchyRepo(members)
	connections := newMemConnectionRepo()
	resolver := authz.NewResolver(hierarchy, members)

	return &projectEnv{
		hierarchy:   hierarchy,
		members:     members,
		connections: connections,
		service:     NewProjectService(hierarchy, members, connections, resolver, zap.NewNop()),
		creatorID:   uuid.New(),
	}
}

func (env *projectEnv) createProject(t *testing.T) uuid.UUID {
	t.Helper()
	project, err := env.service.CreateProject(context.Background(), env.creatorID, "analytics")
	require.NoError(t, err)
	return project.ID
}

func TestCreateProject(t *testing.T) {
	env := newProjectEnv(t)

	project, err := env.service.CreateProject(context.Background(), env.creatorID, "analytics")
	require.NoError(t, err)
	assert.Equal(t, env.creatorID, project.CreatorID)

	// The creator's admin assignment is written in the same step, so the
	// membership shows up in listings immediately.
	role, err := env.members.MemberRole(context.Background(), project.ID, env.creatorID)
	require.NoError(t, err)
	assert.Equal(t, models.RoleAdmin, role)
}

func TestCreateProject_EmptyName(t *testing.T) {
	env := newProjectEnv(t)

	_, err := env.service.CreateProject(context.Background(), env.creatorID, "  ")
	assert.ErrorIs(t, err, apperrors.ErrValidation)
}

func TestGetProject(t *testing.T) {
	env := newProjectEnv(t)
	projectID := env.createProject(t)

	project, err := env.service.GetProject(context.Background(), env.creatorID, projectID)
	require.NoError(t, err)
	assert.Equal(t, "analytics", project.Name)

	_, err = env.service.GetProject(context.Background(), uuid.New(), projectID)
	assert.ErrorIs(t, err, apperrors.ErrNotAuthorized)
}

func TestCreateHierarchy(t *testing.T) {
	env := newProjectEnv(t)
	projectID := env.createProject(t)
	ctx := context.Background()

	folder, err := env.service.CreateFolder(ctx, env.creatorID, projectID, "sales")
	require.NoError(t, err)
	assert.Equal(t, projectID, folder.ProjectID)

	dashboard, err := env.service.CreateDashboard(ctx, env.creatorID, folder.ID, "overview")
	require.NoError(t, err)
	assert.Equal(t, folder.ID, dashboard.FolderID)

	conn := &models.Connection{ProjectID: projectID, OwnerID: env.creatorID, Name: "warehouse"}
	require.NoError(t, env.connections.Create(ctx, conn, "ciphertext"))

	tile, err := env.service.CreateTile(ctx, env.creatorID, dashboard.ID, conn.ID, "orders", "SELECT 1")
	require.NoError(t, err)
	assert.Equal(t, dashboard.ID, tile.DashboardID)
	assert.Equal(t, conn.ID, tile.ConnectionID)
}

func TestCreateFolder_ViewerDenied(t *testing.T) {
	env := newProjectEnv(t)
	projectID := env.createProject(t)
	ctx := context.Background()

	viewer := uuid.New()
	require.NoError(t, env.members.Upsert(ctx, &models.Member{ProjectID: projectID, UserID: viewer, Role: models.RoleViewer}))

	_, err := env.service.CreateFolder(ctx, viewer, projectID, "sales")
	assert.ErrorIs(t, err, apperrors.ErrNotAuthorized)
}

func TestCreateDashboard_UnknownFolder(t *testing.T) {
	env := newProjectEnv(t)
	env.createProject(t)

	_, err := env.service.CreateDashboard(context.Background(), env.creatorID, uuid.New(), "overview")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestCreateTile_CrossProjectConnection(t *testing.T) {
	env := newProjectEnv(t)
	projectID := env.createProject(t)
	ctx := context.Background()

	folder, err := env.service.CreateFolder(ctx, env.creatorID, projectID, "sales")
	require.NoError(t, err)
	dashboard, err := env.service.CreateDashboard(ctx, env.creatorID, folder.ID, "overview")
	require.NoError(t, err)

	other, err := env.service.CreateProject(ctx, env.creatorID, "other")
	require.NoError(t, err)
	conn := &models.Connection{ProjectID: other.ID, OwnerID: env.creatorID, Name: "foreign"}
	require.NoError(t, env.connections.Create(ctx, conn, "ciphertext"))

	_, err = env.service.CreateTile(ctx, env.creatorID, dashboard.ID, conn.ID, "orders", "SELECT 1")
	assert.ErrorIs(t, err, apperrors.ErrValidation)
}

func TestSetMemberRole(t *testing.T) {
	env := newProjectEnv(t)
	projectID := env.createProject(t)
	ctx := context.Background()
	target := uuid.New()

	t.Run("invalid role", func(t *testing.T) {
		err := env.service.SetMemberRole(ctx, env.creatorID, projectID, target, "owner")
		assert.ErrorIs(t, err, apperrors.ErrValidation)
	})

	t.Run("non-admin denied", func(t *testing.T) {
		editor := uuid.New()
		require.NoError(t, env.members.Upsert(ctx, &models.Member{ProjectID: projectID, UserID: editor, Role: models.RoleEditor}))
		err := env.service.SetMemberRole(ctx, editor, projectID, target, models.RoleViewer)
		assert.ErrorIs(t, err, apperrors.ErrNotAuthorized)
	})

	t.Run("grants new assignment", func(t *testing.T) {
		err := env.service.SetMemberRole(ctx, env.creatorID, projectID, target, models.RoleEditor)
		require.NoError(t, err)

		role, err := env.members.MemberRole(ctx, projectID, target)
		require.NoError(t, err)
		assert.Equal(t, models.RoleEditor, role)
	})

	t.Run("same role is a no-op", func(t *testing.T) {
		err := env.service.SetMemberRole(ctx, env.creatorID, projectID, target, models.RoleEditor)
		assert.NoError(t, err)
	})

	t.Run("changes existing assignment", func(t *testing.T) {
		err := env.service.SetMemberRole(ctx, env.creatorID, projectID, target, models.RoleViewer)
		require.NoError(t, err)

		role, err := env.members.MemberRole(ctx, projectID, target)
		require.NoError(t, err)
		assert.Equal(t, models.RoleViewer, role)
	})

	t.Run("creator cannot be demoted", func(t *testing.T) {
		err := env.service.SetMemberRole(ctx, env.creatorID, projectID, env.creatorID, models.RoleViewer)
		assert.ErrorIs(t, err, apperrors.ErrCreatorImmutable)
	})
}

func TestSetMemberRole_LastAdminGuard(t *testing.T) {
	env := newProjectEnv(t)
	projectID := env.createProject(t)
	ctx := context.Background()

	// A second, non-creator admin can be demoted only while another admin
	// remains.
	second := uuid.New()
	require.NoError(t, env.service.SetMemberRole(ctx, env.creatorID, projectID, second, models.RoleAdmin))
	require.NoError(t, env.service.SetMemberRole(ctx, env.creatorID, projectID, second, models.RoleViewer))

	role, err := env.members.MemberRole(ctx, projectID, second)
	require.NoError(t, err)
	assert.Equal(t, models.RoleViewer, role)
}

func TestRemoveMember(t *testing.T) {
	env := newProjectEnv(t)
	projectID := env.createProject(t)
	ctx := context.Background()

	target := uuid.New()
	require.NoError(t, env.service.SetMemberRole(ctx, env.creatorID, projectID, target, models.RoleViewer))

	t.Run("creator cannot be removed", func(t *testing.T) {
		err := env.service.RemoveMember(ctx, env.creatorID, projectID, env.creatorID)
		assert.ErrorIs(t, err, apperrors.ErrCreatorImmutable)
	})

	t.Run("non-admin denied", func(t *testing.T) {
		err := env.service.RemoveMember(ctx, target, projectID, target)
		assert.ErrorIs(t, err, apperrors.ErrNotAuthorized)
	})

	t.Run("admin removes a member", func(t *testing.T) {
		err := env.service.RemoveMember(ctx, env.creatorID, projectID, target)
		require.NoError(t, err)

		role, err := env.members.MemberRole(ctx, projectID, target)
		require.NoError(t, err)
		assert.Empty(t, role)
	})

	t.Run("unknown member", func(t *testing.T) {
		err := env.service.RemoveMember(ctx, env.creatorID, projectID, uuid.New())
		assert.ErrorIs(t, err, apperrors.ErrNotFound)
	})
}

func TestListMembers(t *testing.T) {
	env := newProjectEnv(t)
	projectID := env.createProject(t)
	ctx := context.Background()

	require.NoError(t, env.service.SetMemberRole(ctx, env.creatorID, projectID, uuid.New(), models.RoleViewer))

	members, err := env.service.ListMembers(ctx, env.creatorID, projectID)
	require.NoError(t, err)
	assert.Len(t, members, 2)

	_, err = env.service.ListMembers(ctx, uuid.New(), projectID)
	assert.ErrorIs(t, err, apperrors.ErrNotAuthorized)
}
