package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/panelhub-io/panelhub-engine/pkg/adapters/datasource"
	"github.com/panelhub-io/panelhub-engine/pkg/apperrors"
	"github.com/panelhub-io/panelhub-engine/pkg/models"
)

// In-memory fakes for the repository and adapter layers. They mirror the
// error contracts of the real implementations so service tests exercise the
// same code paths the pgx-backed versions would.

type storedConnection struct {
	conn      models.Connection
	encrypted string
}

type memConnectionRepo struct {
	mu          sync.Mutex
	connections map[uuid.UUID]*storedConnection
	tileRefs    map[uuid.UUID]int
}

func newMemConnectionRepo() *memConnectionRepo {
	return &memConnectionRepo{
		connections: make(map[uuid.UUID]*storedConnection),
		tileRefs:    make(map[uuid.UUID]int),
	}
}

func (r *memConnectionRepo) Create(_ context.Context, conn *models.Connection, encryptedSecret string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, stored := range r.connections {
		if stored.conn.ProjectID == conn.ProjectID && stored.conn.Name == conn.Name {
			return fmt.Errorf("%w: connection name already exists in project", apperrors.ErrConflict)
		}
	}
	conn.ID = uuid.New()
	conn.CreatedAt = time.Now()
	conn.UpdatedAt = conn.CreatedAt
	copied := *conn
	r.connections[conn.ID] = &storedConnection{conn: copied, encrypted: encryptedSecret}
	return nil
}

func (r *memConnectionRepo) GetByID(_ context.Context, id uuid.UUID) (*models.Connection, string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.connections[id]
	if !ok {
		return nil, "", fmt.Errorf("%w: connection %s", apperrors.ErrNotFound, id)
	}
	copied := stored.conn
	return &copied, stored.encrypted, nil
}

func (r *memConnectionRepo) ListByProject(_ context.Context, projectID uuid.UUID) ([]*models.Connection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.Connection
	for _, stored := range r.connections {
		if stored.conn.ProjectID == projectID {
			copied := stored.conn
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (r *memConnectionRepo) Update(_ context.Context, conn *models.Connection, encryptedSecret string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.connections[conn.ID]; !ok {
		return fmt.Errorf("%w: connection %s", apperrors.ErrNotFound, conn.ID)
	}
	conn.UpdatedAt = time.Now()
	copied := *conn
	r.connections[conn.ID] = &storedConnection{conn: copied, encrypted: encryptedSecret}
	return nil
}

func (r *memConnectionRepo) UpdateStatus(_ context.Context, id uuid.UUID, status string, testedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.connections[id]
	if !ok {
		return fmt.Errorf("%w: connection %s", apperrors.ErrNotFound, id)
	}
	stored.conn.Status = status
	stored.conn.LastTestedAt = &testedAt
	return nil
}

func (r *memConnectionRepo) Delete(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.connections[id]; !ok {
		return fmt.Errorf("%w: connection %s", apperrors.ErrNotFound, id)
	}
	if r.tileRefs[id] > 0 {
		return fmt.Errorf("%w: connection is referenced by %d tiles", apperrors.ErrConflict, r.tileRefs[id])
	}
	delete(r.connections, id)
	return nil
}

func (r *memConnectionRepo) CountTileRefs(_ context.Context, id uuid.UUID) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tileRefs[id], nil
}

type memHierarchyRepo struct {
	mu         sync.Mutex
	projects   map[uuid.UUID]*models.Project
	folders    map[uuid.UUID]*models.Folder
	dashboards map[uuid.UUID]*models.Dashboard
	tiles      map[uuid.UUID]*models.Tile
	members    *memMemberRepo
}

func newMemHierarchyRepo(members *memMemberRepo) *memHierarchyRepo {
	return &memHierarchyRepo{
		projects:   make(map[uuid.UUID]*models.Project),
		folders:    make(map[uuid.UUID]*models.Folder),
		dashboards: make(map[uuid.UUID]*models.Dashboard),
		tiles:      make(map[uuid.UUID]*models.Tile),
		members:    members,
	}
}

func (r *memHierarchyRepo) CreateProject(ctx context.Context, project *models.Project) error {
	r.mu.Lock()
	project.ID = uuid.New()
	project.CreatedAt = time.Now()
	project.UpdatedAt = project.CreatedAt
	copied := *project
	r.projects[project.ID] = &copied
	r.mu.Unlock()

	return r.members.Upsert(ctx, &models.Member{
		ProjectID: project.ID,
		UserID:    project.CreatorID,
		Role:      models.RoleAdmin,
	})
}

func (r *memHierarchyRepo) GetProject(_ context.Context, id uuid.UUID) (*models.Project, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	project, ok := r.projects[id]
	if !ok {
		return nil, fmt.Errorf("%w: project %s", apperrors.ErrNotFound, id)
	}
	copied := *project
	return &copied, nil
}

func (r *memHierarchyRepo) CreateFolder(_ context.Context, folder *models.Folder) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.projects[folder.ProjectID]; !ok {
		return fmt.Errorf("%w: project %s", apperrors.ErrNotFound, folder.ProjectID)
	}
	folder.ID = uuid.New()
	copied := *folder
	r.folders[folder.ID] = &copied
	return nil
}

func (r *memHierarchyRepo) CreateDashboard(_ context.Context, dashboard *models.Dashboard) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.folders[dashboard.FolderID]; !ok {
		return fmt.Errorf("%w: folder %s", apperrors.ErrNotFound, dashboard.FolderID)
	}
	dashboard.ID = uuid.New()
	copied := *dashboard
	r.dashboards[dashboard.ID] = &copied
	return nil
}

func (r *memHierarchyRepo) CreateTile(_ context.Context, tile *models.Tile) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.dashboards[tile.DashboardID]; !ok {
		return fmt.Errorf("%w: dashboard %s", apperrors.ErrNotFound, tile.DashboardID)
	}
	tile.ID = uuid.New()
	copied := *tile
	r.tiles[tile.ID] = &copied
	return nil
}

func (r *memHierarchyRepo) GetTile(_ context.Context, id uuid.UUID) (*models.Tile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	tile, ok := r.tiles[id]
	if !ok {
		return nil, fmt.Errorf("%w: tile %s", apperrors.ErrNotFound, id)
	}
	copied := *tile
	return &copied, nil
}

func (r *memHierarchyRepo) TileDashboard(_ context.Context, tileID uuid.UUID) (uuid.UUID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	tile, ok := r.tiles[tileID]
	if !ok {
		return uuid.Nil, fmt.Errorf("%w: tile %s", apperrors.ErrNotFound, tileID)
	}
	return tile.DashboardID, nil
}

func (r *memHierarchyRepo) DashboardFolder(_ context.Context, dashboardID uuid.UUID) (uuid.UUID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	dashboard, ok := r.dashboards[dashboardID]
	if !ok {
		return uuid.Nil, fmt.Errorf("%w: dashboard %s", apperrors.ErrNotFound, dashboardID)
	}
	return dashboard.FolderID, nil
}

func (r *memHierarchyRepo) FolderProject(_ context.Context, folderID uuid.UUID) (uuid.UUID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	folder, ok := r.folders[folderID]
	if !ok {
		return uuid.Nil, fmt.Errorf("%w: folder %s", apperrors.ErrNotFound, folderID)
	}
	return folder.ProjectID, nil
}

func (r *memHierarchyRepo) ProjectCreator(_ context.Context, projectID uuid.UUID) (uuid.UUID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	project, ok := r.projects[projectID]
	if !ok {
		return uuid.Nil, fmt.Errorf("%w: project %s", apperrors.ErrNotFound, projectID)
	}
	return project.CreatorID, nil
}

type memMemberRepo struct {
	mu    sync.Mutex
	roles map[string]string
}

func newMemMemberRepo() *memMemberRepo {
	return &memMemberRepo{roles: make(map[string]string)}
}

func memberKey(projectID, userID uuid.UUID) string {
	return projectID.String() + ":" + userID.String()
}

func (r *memMemberRepo) Upsert(_ context.Context, member *models.Member) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.roles[memberKey(member.ProjectID, member.UserID)] = member.Role
	return nil
}

func (r *memMemberRepo) MemberRole(_ context.Context, projectID, userID uuid.UUID) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.roles[memberKey(projectID, userID)], nil
}

func (r *memMemberRepo) ListByProject(_ context.Context, projectID uuid.UUID) ([]*models.Member, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.Member
	for key, role := range r.roles {
		if len(key) > 36 && key[:36] == projectID.String() {
			userID, err := uuid.Parse(key[37:])
			if err != nil {
				continue
			}
			out = append(out, &models.Member{ProjectID: projectID, UserID: userID, Role: role})
		}
	}
	return out, nil
}

func (r *memMemberRepo) adminCount(projectID uuid.UUID) int {
	count := 0
	for key, role := range r.roles {
		if role == models.RoleAdmin && len(key) > 36 && key[:36] == projectID.String() {
			count++
		}
	}
	return count
}

func (r *memMemberRepo) RemoveWithAdminCheck(_ context.Context, projectID, userID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := memberKey(projectID, userID)
	role, ok := r.roles[key]
	if !ok {
		return fmt.Errorf("%w: member %s", apperrors.ErrNotFound, userID)
	}
	if role == models.RoleAdmin && r.adminCount(projectID) <= 1 {
		return fmt.Errorf("%w: project must keep at least one admin", apperrors.ErrLastAdmin)
	}
	delete(r.roles, key)
	return nil
}

func (r *memMemberRepo) UpdateRoleWithAdminCheck(_ context.Context, projectID, userID uuid.UUID, role string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := memberKey(projectID, userID)
	current, ok := r.roles[key]
	if !ok {
		return fmt.Errorf("%w: member %s", apperrors.ErrNotFound, userID)
	}
	if current == models.RoleAdmin && role != models.RoleAdmin && r.adminCount(projectID) <= 1 {
		return fmt.Errorf("%w: project must keep at least one admin", apperrors.ErrLastAdmin)
	}
	r.roles[key] = role
	return nil
}

// fakeFactory hands out scripted adapters and records how often each adapter
// kind was built and closed, so tests can assert the release-on-every-path
// contract.
type fakeFactory struct {
	mu sync.Mutex

	testerErr      error
	testResult     error
	introspectErr  error
	schemas        []string
	tables         map[string][]string
	tableDesc      *datasource.TableDescription
	schemaOpErr    error
	executorErr    error
	queryResult    *datasource.QueryResult
	queryErr       error
	queryDelay     time.Duration
	builtCount     int
	closedCount    int
	lastSecretSeen string
}

func (f *fakeFactory) built() {
	f.mu.Lock()
	f.builtCount++
	f.mu.Unlock()
}

func (f *fakeFactory) closed() {
	f.mu.Lock()
	f.closedCount++
	f.mu.Unlock()
}

func (f *fakeFactory) counts() (built, closed int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.builtCount, f.closedCount
}

func (f *fakeFactory) Tester(_ context.Context, _ *models.Connection, secret string) (datasource.ConnectionTester, error) {
	f.mu.Lock()
	f.lastSecretSeen = secret
	f.mu.Unlock()
	if f.testerErr != nil {
		return nil, f.testerErr
	}
	f.built()
	return &fakeTester{factory: f}, nil
}

func (f *fakeFactory) Introspector(_ context.Context, _ *models.Connection, secret string) (datasource.SchemaIntrospector, error) {
	f.mu.Lock()
	f.lastSecretSeen = secret
	f.mu.Unlock()
	if f.introspectErr != nil {
		return nil, f.introspectErr
	}
	f.built()
	return &fakeIntrospector{factory: f}, nil
}

func (f *fakeFactory) Executor(_ context.Context, _ *models.Connection, secret string) (datasource.QueryExecutor, error) {
	f.mu.Lock()
	f.lastSecretSeen = secret
	f.mu.Unlock()
	if f.executorErr != nil {
		return nil, f.executorErr
	}
	f.built()
	return &fakeExecutor{factory: f}, nil
}

var (
	_ datasource.ConnectionTester   = (*fakeTester)(nil)
	_ datasource.SchemaIntrospector = (*fakeIntrospector)(nil)
	_ datasource.QueryExecutor      = (*fakeExecutor)(nil)
)

type fakeTester struct {
	factory *fakeFactory
}

func (t *fakeTester) TestConnection(_ context.Context) error { return t.factory.testResult }

func (t *fakeTester) Close() error {
	t.factory.closed()
	return nil
}

type fakeIntrospector struct {
	factory *fakeFactory
}

func (i *fakeIntrospector) ListSchemas(_ context.Context) ([]string, error) {
	if i.factory.schemaOpErr != nil {
		return nil, i.factory.schemaOpErr
	}
	return i.factory.schemas, nil
}

func (i *fakeIntrospector) ListTables(_ context.Context, schema string) ([]string, error) {
	if i.factory.schemaOpErr != nil {
		return nil, i.factory.schemaOpErr
	}
	return i.factory.tables[schema], nil
}

func (i *fakeIntrospector) DescribeTable(_ context.Context, _, _ string) (*datasource.TableDescription, error) {
	if i.factory.schemaOpErr != nil {
		return nil, i.factory.schemaOpErr
	}
	return i.factory.tableDesc, nil
}

func (i *fakeIntrospector) Close() error {
	i.factory.closed()
	return nil
}

type fakeExecutor struct {
	factory *fakeFactory
}

func (e *fakeExecutor) ExecuteQuery(ctx context.Context, _ string, _ []any) (*datasource.QueryResult, error) {
	if e.factory.queryDelay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(e.factory.queryDelay):
		}
	}
	if e.factory.queryErr != nil {
		return nil, e.factory.queryErr
	}
	return e.factory.queryResult, nil
}

func (e *fakeExecutor) Close() error {
	e.factory.closed()
	return nil
}

type fakeInvalidator struct {
	mu    sync.Mutex
	calls []uuid.UUID
}

func (i *fakeInvalidator) Invalidate(connectionID uuid.UUID) {
	i.mu.Lock()
	i.calls = append(i.calls, connectionID)
	i.mu.Unlock()
}

func (i *fakeInvalidator) count() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return len(i.calls)
}
