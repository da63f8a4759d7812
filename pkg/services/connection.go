// Package services contains the business logic between the HTTP handlers and
// the repositories. Services resolve the caller's role before touching any
// data and wrap failures in the apperrors taxonomy.
package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/panelhub-io/panelhub-engine/pkg/apperrors"
	"github.com/panelhub-io/panelhub-engine/pkg/authz"
	"github.com/panelhub-io/panelhub-engine/pkg/crypto"
	"github.com/panelhub-io/panelhub-engine/pkg/models"
	"github.com/panelhub-io/panelhub-engine/pkg/repositories"
)

// PoolInvalidator drops pooled connectivity for a connection after its
// credentials change.
type PoolInvalidator interface {
	Invalidate(connectionID uuid.UUID)
}

// CreateConnectionInput carries the fields for registering a connection.
type CreateConnectionInput struct {
	ProjectID  uuid.UUID `json:"project_id"`
	Name       string    `json:"name"`
	EngineType string    `json:"engine_type"`
	Host       string    `json:"host"`
	Port       int       `json:"port"`
	Database   string    `json:"database"`
	Username   string    `json:"username"`
	Secret     string    `json:"secret"`
	TLS        bool      `json:"tls"`
}

// UpdateConnectionInput carries a partial update; nil fields keep their
// current value.
type UpdateConnectionInput struct {
	Name     *string `json:"name"`
	Host     *string `json:"host"`
	Port     *int    `json:"port"`
	Database *string `json:"database"`
	Username *string `json:"username"`
	Secret   *string `json:"secret"`
	TLS      *bool   `json:"tls"`
}

// ConnectionService manages the lifecycle of stored connections.
type ConnectionService interface {
	Create(ctx context.Context, userID uuid.UUID, input CreateConnectionInput) (*models.Connection, error)
	Get(ctx context.Context, userID, id uuid.UUID) (*models.Connection, error)
	List(ctx context.Context, userID, projectID uuid.UUID) ([]*models.Connection, error)
	Update(ctx context.Context, userID, id uuid.UUID, input UpdateConnectionInput) (*models.Connection, error)
	Delete(ctx context.Context, userID, id uuid.UUID) error
}

type connectionService struct {
	repo        repositories.ConnectionRepository
	resolver    *authz.Resolver
	box         *crypto.SecretBox
	invalidator PoolInvalidator
	logger      *zap.Logger
}

// NewConnectionService creates a connection service.
func NewConnectionService(
	repo repositories.ConnectionRepository,
	resolver *authz.Resolver,
	box *crypto.SecretBox,
	invalidator PoolInvalidator,
	logger *zap.Logger,
) ConnectionService {
	return &connectionService{
		repo:        repo,
		resolver:    resolver,
		box:         box,
		invalidator: invalidator,
		logger:      logger,
	}
}

func validateRequired(input CreateConnectionInput) error {
	missing := []string{}
	if strings.TrimSpace(input.Name) == "" {
		missing = append(missing, "name")
	}
	if strings.TrimSpace(input.Host) == "" {
		missing = append(missing, "host")
	}
	if strings.TrimSpace(input.Database) == "" {
		missing = append(missing, "database")
	}
	if strings.TrimSpace(input.Username) == "" {
		missing = append(missing, "username")
	}
	if input.Secret == "" {
		missing = append(missing, "secret")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing required fields: %s", apperrors.ErrValidation, strings.Join(missing, ", "))
	}
	return nil
}

// Create registers a connection. The secret is encrypted at rest and the
// connection starts inactive until an explicit test succeeds.
func (s *connectionService) Create(ctx context.Context, userID uuid.UUID, input CreateConnectionInput) (*models.Connection, error) {
	if input.ProjectID == uuid.Nil {
		return nil, fmt.Errorf("%w: project_id is required", apperrors.ErrValidation)
	}
	if err := validateRequired(input); err != nil {
		return nil, err
	}

	engineType := input.EngineType
	if engineType == "" {
		engineType = models.EnginePostgres
	}

	if err := s.resolver.RequireProject(ctx, userID, input.ProjectID, models.RoleEditor); err != nil {
		return nil, err
	}

	encrypted, err := s.box.Encrypt(input.Secret)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt secret: %w", err)
	}

	conn := &models.Connection{
		ProjectID:  input.ProjectID,
		OwnerID:    userID,
		Name:       input.Name,
		EngineType: engineType,
		Host:       input.Host,
		Port:       input.Port,
		Database:   input.Database,
		Username:   input.Username,
		TLS:        input.TLS,
		Status:     models.ConnectionInactive,
	}

	if err := s.repo.Create(ctx, conn, encrypted); err != nil {
		return nil, err
	}

	s.logger.Info("connection created",
		zap.String("connectionID", conn.ID.String()),
		zap.String("projectID", conn.ProjectID.String()),
		zap.String("engineType", conn.EngineType),
	)

	return conn, nil
}

// Get retrieves a connection. The secret never leaves the service layer.
func (s *connectionService) Get(ctx context.Context, userID, id uuid.UUID) (*models.Connection, error) {
	conn, _, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := s.resolver.RequireProject(ctx, userID, conn.ProjectID, models.RoleViewer); err != nil {
		return nil, err
	}

	return conn, nil
}

// List retrieves the connections of a project, without secrets.
func (s *connectionService) List(ctx context.Context, userID, projectID uuid.UUID) ([]*models.Connection, error) {
	if err := s.resolver.RequireProject(ctx, userID, projectID, models.RoleViewer); err != nil {
		return nil, err
	}

	return s.repo.ListByProject(ctx, projectID)
}

// Update applies a partial update. When credential-bearing fields change,
// pooled connectivity for the connection is invalidated so no later query
// runs with the replaced credentials.
func (s *connectionService) Update(ctx context.Context, userID, id uuid.UUID, input UpdateConnectionInput) (*models.Connection, error) {
	conn, encrypted, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := s.resolver.RequireProject(ctx, userID, conn.ProjectID, models.RoleEditor); err != nil {
		return nil, err
	}

	credentialsChanged := false
	if input.Name != nil {
		if strings.TrimSpace(*input.Name) == "" {
			return nil, fmt.Errorf("%w: name cannot be empty", apperrors.ErrValidation)
		}
		conn.Name = *input.Name
	}
	if input.Host != nil {
		if strings.TrimSpace(*input.Host) == "" {
			return nil, fmt.Errorf("%w: host cannot be empty", apperrors.ErrValidation)
		}
		conn.Host = *input.Host
		credentialsChanged = true
	}
	if input.Port != nil {
		conn.Port = *input.Port
		credentialsChanged = true
	}
	if input.Database != nil {
		if strings.TrimSpace(*input.Database) == "" {
			return nil, fmt.Errorf("%w: database cannot be empty", apperrors.ErrValidation)
		}
		conn.Database = *input.Database
		credentialsChanged = true
	}
	if input.Username != nil {
		if strings.TrimSpace(*input.Username) == "" {
			return nil, fmt.Errorf("%w: username cannot be empty", apperrors.ErrValidation)
		}
		conn.Username = *input.Username
		credentialsChanged = true
	}
	if input.Secret != nil {
		if *input.Secret == "" {
			return nil, fmt.Errorf("%w: secret cannot be empty", apperrors.ErrValidation)
		}
		encrypted, err = s.box.Encrypt(*input.Secret)
		if err != nil {
			return nil, fmt.Errorf("failed to encrypt secret: %w", err)
		}
		credentialsChanged = true
	}
	if input.TLS != nil {
		conn.TLS = *input.TLS
		credentialsChanged = true
	}

	if err := s.repo.Update(ctx, conn, encrypted); err != nil {
		return nil, err
	}

	if credentialsChanged {
		s.invalidator.Invalidate(conn.ID)
		s.logger.Info("connection pools invalidated after update",
			zap.String("connectionID", conn.ID.String()),
		)
	}

	return conn, nil
}

// Delete removes a connection. Fails with a conflict while any tile still
// references it.
func (s *connectionService) Delete(ctx context.Context, userID, id uuid.UUID) error {
	conn, _, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}

	if err := s.resolver.RequireProject(ctx, userID, conn.ProjectID, models.RoleAdmin); err != nil {
		return err
	}

	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}

	s.invalidator.Invalidate(id)
	s.logger.Info("connection deleted", zap.String("connectionID", id.String()))
	return nil
}

// Ensure connectionService implements ConnectionService at compile time.
var _ ConnectionService = (*connectionService)(nil)
