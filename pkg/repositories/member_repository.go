package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/panelhub-io/panelhub-engine/pkg/apperrors"
	"github.com/panelhub-io/panelhub-engine/pkg/database"
	"github.com/panelhub-io/panelhub-engine/pkg/models"
)

// MemberRepository defines data access for project role assignments.
type MemberRepository interface {
	// Upsert inserts or replaces the role assignment for a user in a project.
	Upsert(ctx context.Context, member *models.Member) error

	// MemberRole returns the explicit role of a user in a project, or the
	// empty string when no assignment exists.
	MemberRole(ctx context.Context, projectID, userID uuid.UUID) (string, error)

	// ListByProject retrieves all role assignments for a project.
	ListByProject(ctx context.Context, projectID uuid.UUID) ([]*models.Member, error)

	// RemoveWithAdminCheck removes a role assignment, refusing to remove the
	// last admin of the project.
	RemoveWithAdminCheck(ctx context.Context, projectID, userID uuid.UUID) error

	// UpdateRoleWithAdminCheck changes a role assignment, refusing to demote
	// the last admin of the project.
	UpdateRoleWithAdminCheck(ctx context.Context, projectID, userID uuid.UUID, role string) error
}

type memberRepository struct {
	db *database.DB
}

// NewMemberRepository creates a member repository over the metadata store.
func NewMemberRepository(db *database.DB) MemberRepository {
	return &memberRepository{db: db}
}

// Upsert inserts or replaces the role assignment for a user in a project.
func (r *memberRepository) Upsert(ctx context.Context, member *models.Member) error {
	now := time.Now()
	member.CreatedAt = now
	member.UpdatedAt = now

	query := `
		INSERT INTO project_members (project_id, user_id, role, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (project_id, user_id)
		DO UPDATE SET role = EXCLUDED.role, updated_at = EXCLUDED.updated_at`

	_, err := r.db.Exec(ctx, query, member.ProjectID, member.UserID, member.Role, member.CreatedAt, member.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert project member: %w", err)
	}

	return nil
}

// MemberRole returns the explicit role of a user in a project. Absence of an
// assignment is not an error; it reports the empty string so the caller can
// fall back to the implicit creator role.
func (r *memberRepository) MemberRole(ctx context.Context, projectID, userID uuid.UUID) (string, error) {
	var role string
	err := r.db.QueryRow(ctx,
		`SELECT role FROM project_members WHERE project_id = $1 AND user_id = $2`,
		projectID, userID,
	).Scan(&role)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("failed to get member role: %w", err)
	}
	return role, nil
}

// ListByProject retrieves all role assignments for a project.
func (r *memberRepository) ListByProject(ctx context.Context, projectID uuid.UUID) ([]*models.Member, error) {
	query := `
		SELECT project_id, user_id, role, created_at, updated_at
		FROM project_members
		WHERE project_id = $1
		ORDER BY created_at ASC`

	rows, err := r.db.Query(ctx, query, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list project members: %w", err)
	}
	defer rows.Close()

	var members []*models.Member
	for rows.Next() {
		var m models.Member
		if err := rows.Scan(&m.ProjectID, &m.UserID, &m.Role, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan project member: %w", err)
		}
		members = append(members, &m)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating project members: %w", err)
	}

	return members, nil
}

// RemoveWithAdminCheck removes a role assignment inside a transaction that
// first verifies the project keeps at least one admin. FOR UPDATE on the
// member rows serializes two admins removing each other concurrently.
func (r *memberRepository) RemoveWithAdminCheck(ctx context.Context, projectID, userID uuid.UUID) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback on defer is best-effort

	role, err := lockMemberRole(ctx, tx, projectID, userID)
	if err != nil {
		return err
	}

	if role == models.RoleAdmin {
		admins, err := countAdminsLocked(ctx, tx, projectID)
		if err != nil {
			return err
		}
		if admins <= 1 {
			return fmt.Errorf("%w: project would be left without an admin", apperrors.ErrLastAdmin)
		}
	}

	if _, err := tx.Exec(ctx,
		`DELETE FROM project_members WHERE project_id = $1 AND user_id = $2`,
		projectID, userID,
	); err != nil {
		return fmt.Errorf("failed to remove project member: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// UpdateRoleWithAdminCheck changes a role assignment, refusing a demotion
// that would leave the project without an admin.
func (r *memberRepository) UpdateRoleWithAdminCheck(ctx context.Context, projectID, userID uuid.UUID, role string) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback on defer is best-effort

	current, err := lockMemberRole(ctx, tx, projectID, userID)
	if err != nil {
		return err
	}

	if current == models.RoleAdmin && role != models.RoleAdmin {
		admins, err := countAdminsLocked(ctx, tx, projectID)
		if err != nil {
			return err
		}
		if admins <= 1 {
			return fmt.Errorf("%w: project would be left without an admin", apperrors.ErrLastAdmin)
		}
	}

	if _, err := tx.Exec(ctx,
		`UPDATE project_members SET role = $3, updated_at = $4 WHERE project_id = $1 AND user_id = $2`,
		projectID, userID, role, time.Now(),
	); err != nil {
		return fmt.Errorf("failed to update member role: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

func lockMemberRole(ctx context.Context, tx pgx.Tx, projectID, userID uuid.UUID) (string, error) {
	var role string
	err := tx.QueryRow(ctx,
		`SELECT role FROM project_members WHERE project_id = $1 AND user_id = $2 FOR UPDATE`,
		projectID, userID,
	).Scan(&role)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", fmt.Errorf("%w: project member", apperrors.ErrNotFound)
		}
		return "", fmt.Errorf("failed to get member role: %w", err)
	}
	return role, nil
}

func countAdminsLocked(ctx context.Context, tx pgx.Tx, projectID uuid.UUID) (int, error) {
	var count int
	err := tx.QueryRow(ctx,
		`SELECT COUNT(*) FROM project_members WHERE project_id = $1 AND role = $2`,
		projectID, models.RoleAdmin,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count project admins: %w", err)
	}
	return count, nil
}

// Ensure memberRepository implements MemberRepository at compile time.
var _ MemberRepository = (*memberRepository)(nil)
