package models

import (
	"time"

	"github.com/google/uuid"
)

// Connection status values. A connection starts inactive and only the explicit
// test path moves it between states: a successful test sets active, a failed
// test sets inactive. Ad hoc query failures never transition status.
const (
	ConnectionActive   = "active"
	ConnectionInactive = "inactive"
)

// EnginePostgres is the only engine type currently implemented. The tag exists
// so additional engines can be registered without changing the data model.
const EnginePostgres = "postgres"

// Connection describes how to reach one external relational database.
// Secret is the credential material; it is encrypted at rest by the service
// layer and is never serialized back to a caller.
type Connection struct {
	ID           uuid.UUID  `json:"id"`
	ProjectID    uuid.UUID  `json:"project_id"`
	OwnerID      uuid.UUID  `json:"owner_id"`
	Name         string     `json:"name"`
	EngineType   string     `json:"engine_type"`
	Host         string     `json:"host"`
	Port         int        `json:"port"`
	Database     string     `json:"database"`
	Username     string     `json:"username"`
	Secret       string     `json:"-"`
	TLS          bool       `json:"tls"`
	Status       string     `json:"status"`
	LastTestedAt *time.Time `json:"last_tested_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}
