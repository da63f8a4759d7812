// Package apperrors defines the error taxonomy shared by services and handlers.
// Upstream database failures are wrapped around these sentinels with
// fmt.Errorf("%w: ...") so the driver message survives for caller diagnostics
// while handlers can still map the sentinel to an HTTP status.
package apperrors

import "errors"

var (
	ErrValidation       = errors.New("validation failed")
	ErrNotAuthorized    = errors.New("not authorized")
	ErrNotFound         = errors.New("not found")
	ErrConflict         = errors.New("conflict")
	ErrConnectivity     = errors.New("connectivity failed")
	ErrSchemaFailed     = errors.New("schema introspection failed")
	ErrQueryFailed      = errors.New("query execution failed")
	ErrQueryTimeout     = errors.New("query timed out")
	ErrLastAdmin        = errors.New("cannot remove last admin")
	ErrCreatorImmutable = errors.New("project creator cannot be removed")
	ErrCredentialsKey   = errors.New("connection credentials were encrypted with a different key")
)
