// Package auth provides JWT-based caller identity for panelhub-engine. Tokens
// are issued by the platform's identity service; this package only validates
// them and exposes the caller's user id to handlers and services.
package auth

import (
	"context"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/panelhub-io/panelhub-engine/pkg/apperrors"
)

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

const (
	// ClaimsKey is the context key for storing JWT claims.
	ClaimsKey contextKey = "claims"
)

// Claims is the JWT claims structure. Subject carries the caller's user UUID.
type Claims struct {
	jwt.RegisteredClaims
	Email string `json:"email,omitempty"`
}

// GetClaims retrieves JWT claims from the request context.
func GetClaims(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(ClaimsKey).(*Claims)
	return claims, ok
}

// UserIDFromContext extracts the caller's user UUID from the claims in the
// context. Returns uuid.Nil and false when unauthenticated or malformed.
func UserIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	claims, ok := GetClaims(ctx)
	if !ok || claims == nil || claims.Subject == "" {
		return uuid.Nil, false
	}
	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return uuid.Nil, false
	}
	return userID, true
}

// RequireUserIDFromContext extracts the caller's user UUID or errors. Use in
// services where an authenticated caller is mandatory.
func RequireUserIDFromContext(ctx context.Context) (uuid.UUID, error) {
	userID, ok := UserIDFromContext(ctx)
	if !ok {
		return uuid.Nil, fmt.Errorf("%w: no authenticated caller in context", apperrors.ErrNotAuthorized)
	}
	return userID, nil
}
