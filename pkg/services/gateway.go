package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/panelhub-io/panelhub-engine/pkg/adapters/datasource"
	"github.com/panelhub-io/panelhub-engine/pkg/apperrors"
	"github.com/panelhub-io/panelhub-engine/pkg/authz"
	"github.com/panelhub-io/panelhub-engine/pkg/crypto"
	"github.com/panelhub-io/panelhub-engine/pkg/logging"
	"github.com/panelhub-io/panelhub-engine/pkg/models"
	"github.com/panelhub-io/panelhub-engine/pkg/repositories"
)

// SchemaOverview holds the result of full-database introspection.
type SchemaOverview struct {
	Schemas []string            `json:"schemas"`
	Tables  map[string][]string `json:"tables"`
}

// GatewayService is the façade over pooled connectivity to registered
// external databases: connection testing, schema introspection, and ad hoc
// query execution. Every operation resolves the caller's role first and
// releases its pool lease on every exit path.
type GatewayService interface {
	// TestConnection probes the external database and records the outcome:
	// active on success, inactive on failure.
	TestConnection(ctx context.Context, userID, connectionID uuid.UUID) (*models.Connection, error)

	// GetSchema lists schemas and their base tables.
	GetSchema(ctx context.Context, userID, connectionID uuid.UUID) (*SchemaOverview, error)

	// DescribeTable returns column definitions and key constraints.
	DescribeTable(ctx context.Context, userID, connectionID uuid.UUID, schema, table string) (*datasource.TableDescription, error)

	// RunQuery executes caller-supplied SQL with positional parameters.
	RunQuery(ctx context.Context, userID, connectionID uuid.UUID, sqlText string, params []any) (*datasource.QueryResult, error)

	// RunTileQuery executes SQL against the connection a tile references,
	// resolving the caller's role through the tile's full containment chain.
	// An empty sqlText falls back to the tile's stored query.
	RunTileQuery(ctx context.Context, userID, tileID uuid.UUID, sqlText string, params []any) (*datasource.QueryResult, error)
}

// GatewayTimeouts bounds gateway operations.
type GatewayTimeouts struct {
	HealthCheck time.Duration
	Query       time.Duration
}

type gatewayService struct {
	connections repositories.ConnectionRepository
	hierarchy   repositories.HierarchyRepository
	resolver    *authz.Resolver
	factory     datasource.Factory
	box         *crypto.SecretBox
	timeouts    GatewayTimeouts
	logger      *zap.Logger
}

// NewGatewayService creates a gateway service.
func NewGatewayService(
	connections repositories.ConnectionRepository,
	hierarchy repositories.HierarchyRepository,
	resolver *authz.Resolver,
	factory datasource.Factory,
	box *crypto.SecretBox,
	timeouts GatewayTimeouts,
	logger *zap.Logger,
) GatewayService {
	if timeouts.HealthCheck <= 0 {
		timeouts.HealthCheck = 5 * time.Second
	}
	if timeouts.Query <= 0 {
		timeouts.Query = 30 * time.Second
	}
	return &gatewayService{
		connections: connections,
		hierarchy:   hierarchy,
		resolver:    resolver,
		factory:     factory,
		box:         box,
		timeouts:    timeouts,
		logger:      logger,
	}
}

// connectionForAccess loads a connection plus decrypted secret after
// verifying the caller holds at least minRole in the owning project. When
// allowOwner is set, the connection owner passes even without a role; only
// the test path grants this, so an owner can probe their own registration.
func (s *gatewayService) connectionForAccess(ctx context.Context, userID, connectionID uuid.UUID, minRole string, allowOwner bool) (*models.Connection, string, error) {
	conn, encrypted, err := s.connections.GetByID(ctx, connectionID)
	if err != nil {
		return nil, "", err
	}

	if err := s.resolver.RequireProject(ctx, userID, conn.ProjectID, minRole); err != nil {
		ownerBypass := allowOwner && errors.Is(err, apperrors.ErrNotAuthorized) && conn.OwnerID == userID
		if !ownerBypass {
			return nil, "", err
		}
	}

	secret, err := s.box.Decrypt(encrypted)
	if err != nil {
		return nil, "", fmt.Errorf("failed to decrypt secret: %w", err)
	}

	return conn, secret, nil
}

// TestConnection probes the external database. Success flips the status to
// active; any failure flips it to inactive. Concurrent tests race and the
// last writer wins.
func (s *gatewayService) TestConnection(ctx context.Context, userID, connectionID uuid.UUID) (*models.Connection, error) {
	conn, secret, err := s.connectionForAccess(ctx, userID, connectionID, models.RoleViewer, true)
	if err != nil {
		return nil, err
	}

	testCtx, cancel := context.WithTimeout(ctx, s.timeouts.HealthCheck)
	defer cancel()

	testErr := s.probe(testCtx, conn, secret)

	status := models.ConnectionActive
	if testErr != nil {
		status = models.ConnectionInactive
	}

	now := time.Now()
	if err := s.connections.UpdateStatus(ctx, conn.ID, status, now); err != nil {
		return nil, err
	}
	conn.Status = status
	conn.LastTestedAt = &now

	if testErr != nil {
		s.logger.Warn("connection test failed",
			zap.String("connectionID", conn.ID.String()),
			zap.String("error", logging.SanitizeError(testErr)),
		)
		return conn, fmt.Errorf("%w: %s", apperrors.ErrConnectivity, logging.SanitizeError(testErr))
	}

	s.logger.Info("connection test succeeded", zap.String("connectionID", conn.ID.String()))
	return conn, nil
}

func (s *gatewayService) probe(ctx context.Context, conn *models.Connection, secret string) error {
	tester, err := s.factory.Tester(ctx, conn, secret)
	if err != nil {
		return err
	}
	defer tester.Close()

	return tester.TestConnection(ctx)
}

// GetSchema lists schemas and their base tables.
func (s *gatewayService) GetSchema(ctx context.Context, userID, connectionID uuid.UUID) (*SchemaOverview, error) {
	conn, secret, err := s.connectionForAccess(ctx, userID, connectionID, models.RoleViewer, false)
	if err != nil {
		return nil, err
	}

	queryCtx, cancel := context.WithTimeout(ctx, s.timeouts.Query)
	defer cancel()

	introspector, err := s.factory.Introspector(queryCtx, conn, secret)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrConnectivity, logging.SanitizeError(err))
	}
	defer introspector.Close()

	schemas, err := introspector.ListSchemas(queryCtx)
	if err != nil {
		return nil, s.schemaError(queryCtx, err)
	}

	overview := &SchemaOverview{
		Schemas: schemas,
		Tables:  make(map[string][]string, len(schemas)),
	}
	for _, schema := range schemas {
		tables, err := introspector.ListTables(queryCtx, schema)
		if err != nil {
			return nil, s.schemaError(queryCtx, err)
		}
		overview.Tables[schema] = tables
	}

	return overview, nil
}

// DescribeTable returns column definitions and key constraints for a table.
func (s *gatewayService) DescribeTable(ctx context.Context, userID, connectionID uuid.UUID, schema, table string) (*datasource.TableDescription, error) {
	conn, secret, err := s.connectionForAccess(ctx, userID, connectionID, models.RoleViewer, false)
	if err != nil {
		return nil, err
	}

	queryCtx, cancel := context.WithTimeout(ctx, s.timeouts.Query)
	defer cancel()

	introspector, err := s.factory.Introspector(queryCtx, conn, secret)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrConnectivity, logging.SanitizeError(err))
	}
	defer introspector.Close()

	description, err := introspector.DescribeTable(queryCtx, schema, table)
	if err != nil {
		return nil, s.schemaError(queryCtx, err)
	}

	return description, nil
}

// RunQuery executes caller-supplied SQL. A query failure never changes the
// stored connection status; only explicit tests do.
func (s *gatewayService) RunQuery(ctx context.Context, userID, connectionID uuid.UUID, sqlText string, params []any) (*datasource.QueryResult, error) {
	if sqlText == "" {
		return nil, fmt.Errorf("%w: query is required", apperrors.ErrValidation)
	}

	conn, secret, err := s.connectionForAccess(ctx, userID, connectionID, models.RoleViewer, false)
	if err != nil {
		return nil, err
	}

	return s.execute(ctx, conn, secret, sqlText, params)
}

// RunTileQuery executes SQL against the connection referenced by a tile. The
// caller's role resolves through the tile's dashboard, folder, and project;
// a dangling hop anywhere in the chain reports not found.
func (s *gatewayService) RunTileQuery(ctx context.Context, userID, tileID uuid.UUID, sqlText string, params []any) (*datasource.QueryResult, error) {
	if _, err := s.resolver.RequireTile(ctx, userID, tileID, models.RoleViewer); err != nil {
		return nil, err
	}

	tile, err := s.hierarchy.GetTile(ctx, tileID)
	if err != nil {
		return nil, err
	}

	if sqlText == "" {
		sqlText = tile.Query
	}
	if sqlText == "" {
		return nil, fmt.Errorf("%w: tile has no stored query", apperrors.ErrValidation)
	}

	conn, encrypted, err := s.connections.GetByID(ctx, tile.ConnectionID)
	if err != nil {
		return nil, err
	}

	secret, err := s.box.Decrypt(encrypted)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt secret: %w", err)
	}

	return s.execute(ctx, conn, secret, sqlText, params)
}

func (s *gatewayService) execute(ctx context.Context, conn *models.Connection, secret, sqlText string, params []any) (*datasource.QueryResult, error) {
	queryCtx, cancel := context.WithTimeout(ctx, s.timeouts.Query)
	defer cancel()

	executor, err := s.factory.Executor(queryCtx, conn, secret)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrConnectivity, logging.SanitizeError(err))
	}
	defer executor.Close()

	start := time.Now()
	result, err := executor.ExecuteQuery(queryCtx, sqlText, params)
	if err != nil {
		if queryCtx.Err() != nil && errors.Is(queryCtx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: exceeded %s", apperrors.ErrQueryTimeout, s.timeouts.Query)
		}
		return nil, fmt.Errorf("%w: %s", apperrors.ErrQueryFailed, logging.SanitizeError(err))
	}

	s.logger.Info("query executed",
		zap.String("connectionID", conn.ID.String()),
		zap.String("query", logging.SanitizeQuery(sqlText)),
		zap.Int("rowCount", result.RowCount),
		zap.Duration("duration", time.Since(start)),
	)

	return result, nil
}

func (s *gatewayService) schemaError(ctx context.Context, err error) error {
	if ctx.Err() != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: exceeded %s", apperrors.ErrQueryTimeout, s.timeouts.Query)
	}
	return fmt.Errorf("%w: %s", apperrors.ErrSchemaFailed, logging.SanitizeError(err))
}

// Ensure gatewayService implements GatewayService at compile time.
var _ GatewayService = (*gatewayService)(nil)
