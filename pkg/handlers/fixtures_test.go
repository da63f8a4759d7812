package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/panelhub-io/panelhub-engine/pkg/adapters/datasource"
	"github.com/panelhub-io/panelhub-engine/pkg/auth"
	"github.com/panelhub-io/panelhub-engine/pkg/models"
	"github.com/panelhub-io/panelhub-engine/pkg/services"
)

// staticValidator accepts any token and reports a fixed subject, so handler
// tests exercise routing and response mapping without real JWTs.
type staticValidator struct {
	userID uuid.UUID
}

func (v *staticValidator) ValidateToken(string) (*auth.Claims, error) {
	return &auth.Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: v.userID.String()},
	}, nil
}

func testMiddleware(userID uuid.UUID) *auth.Middleware {
	return auth.NewMiddleware(&staticValidator{userID: userID}, zap.NewNop())
}

// Service stubs with function fields. Unset methods panic, which pins down
// exactly what each test is expected to call.

type stubConnectionService struct {
	create func(ctx context.Context, userID uuid.UUID, input services.CreateConnectionInput) (*models.Connection, error)
	get    func(ctx context.Context, userID, id uuid.UUID) (*models.Connection, error)
	list   func(ctx context.Context, userID, projectID uuid.UUID) ([]*models.Connection, error)
	update func(ctx context.Context, userID, id uuid.UUID, input services.UpdateConnectionInput) (*models.Connection, error)
	delete func(ctx context.Context, userID, id uuid.UUID) error
}

func (s *stubConnectionService) Create(ctx context.Context, userID uuid.UUID, input services.CreateConnectionInput) (*models.Connection, error) {
	return s.create(ctx, userID, input)
}

func (s *stubConnectionService) Get(ctx context.Context, userID, id uuid.UUID) (*models.Connection, error) {
	return s.get(ctx, userID, id)
}

func (s *stubConnectionService) List(ctx context.Context, userID, projectID uuid.UUID) ([]*models.Connection, error) {
	return s.list(ctx, userID, projectID)
}

func (s *stubConnectionService) Update(ctx context.Context, userID, id uuid.UUID, input services.UpdateConnectionInput) (*models.Connection, error) {
	return s.update(ctx, userID, id, input)
}

func (s *stubConnectionService) Delete(ctx context.Context, userID, id uuid.UUID) error {
	return s.delete(ctx, userID, id)
}

type stubGatewayService struct {
	test     func(ctx context.Context, userID, connectionID uuid.UUID) (*models.Connection, error)
	schema   func(ctx context.Context, userID, connectionID uuid.UUID) (*services.SchemaOverview, error)
	describe func(ctx context.Context, userID, connectionID uuid.UUID, schema, table string) (*datasource.TableDescription, error)
	run      func(ctx context.Context, userID, connectionID uuid.UUID, sqlText string, params []any) (*datasource.QueryResult, error)
	runTile  func(ctx context.Context, userID, tileID uuid.UUID, sqlText string, params []any) (*datasource.QueryResult, error)
}

func (s *stubGatewayService) TestConnection(ctx context.Context, userID, connectionID uuid.UUID) (*models.Connection, error) {
	return s.test(ctx, userID, connectionID)
}

func (s *stubGatewayService) GetSchema(ctx context.Context, userID, connectionID uuid.UUID) (*services.SchemaOverview, error) {
	return s.schema(ctx, userID, connectionID)
}

func (s *stubGatewayService) DescribeTable(ctx context.Context, userID, connectionID uuid.UUID, schema, table string) (*datasource.TableDescription, error) {
	return s.describe(ctx, userID, connectionID, schema, table)
}

func (s *stubGatewayService) RunQuery(ctx context.Context, userID, connectionID uuid.UUID, sqlText string, params []any) (*datasource.QueryResult, error) {
	return s.run(ctx, userID, connectionID, sqlText, params)
}

func (s *stubGatewayService) RunTileQuery(ctx context.Context, userID, tileID uuid.UUID, sqlText string, params []any) (*datasource.QueryResult, error) {
	return s.runTile(ctx, userID, tileID, sqlText, params)
}

type stubProjectService struct {
	createProject   func(ctx context.Context, userID uuid.UUID, name string) (*models.Project, error)
	getProject      func(ctx context.Context, userID, projectID uuid.UUID) (*models.Project, error)
	createFolder    func(ctx context.Context, userID, projectID uuid.UUID, name string) (*models.Folder, error)
	createDashboard func(ctx context.Context, userID, folderID uuid.UUID, name string) (*models.Dashboard, error)
	createTile      func(ctx context.Context, userID, dashboardID, connectionID uuid.UUID, name, query string) (*models.Tile, error)
	listMembers     func(ctx context.Context, userID, projectID uuid.UUID) ([]*models.Member, error)
	setMemberRole   func(ctx context.Context, userID, projectID, targetID uuid.UUID, role string) error
	removeMember    func(ctx context.Context, userID, projectID, targetID uuid.UUID) error
}

func (s *stubProjectService) CreateProject(ctx context.Context, userID uuid.UUID, name string) (*models.Project, error) {
	return s.createProject(ctx, userID, name)
}

func (s *stubProjectService) GetProject(ctx context.Context, userID, projectID uuid.UUID) (*models.Project, error) {
	return s.getProject(ctx, userID, projectID)
}

func (s *stubProjectService) CreateFolder(ctx context.Context, userID, projectID uuid.UUID, name string) (*models.Folder, error) {
	return s.createFolder(ctx, userID, projectID, name)
}

func (s *stubProjectService) CreateDashboard(ctx context.Context, userID, folderID uuid.UUID, name string) (*models.Dashboard, error) {
	return s.createDashboard(ctx, userID, folderID, name)
}

func (s *stubProjectService) CreateTile(ctx context.Context, userID, dashboardID, connectionID uuid.UUID, name, query string) (*models.Tile, error) {
	return s.createTile(ctx, userID, dashboardID, connectionID, name, query)
}

func (s *stubProjectService) ListMembers(ctx context.Context, userID, projectID uuid.UUID) ([]*models.Member, error) {
	return s.listMembers(ctx, userID, projectID)
}

func (s *stubProjectService) SetMemberRole(ctx context.Context, userID, projectID, targetID uuid.UUID, role string) error {
	return s.setMemberRole(ctx, userID, projectID, targetID, role)
}

func (s *stubProjectService) RemoveMember(ctx context.Context, userID, projectID, targetID uuid.UUID) error {
	return s.removeMember(ctx, userID, projectID, targetID)
}

func bytesReader(s string) *bytes.Reader {
	return bytes.NewReader([]byte(s))
}

func doRequest(t *testing.T, mux *http.ServeMux, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Authorization", "Bearer test-token")
	req.Header.Set("Content-Type", "application/json")

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) ApiResponse {
	t.Helper()
	var envelope ApiResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	return envelope
}
