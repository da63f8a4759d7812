// Package models contains domain types for panelhub-engine.
package models

import (
	"time"

	"github.com/google/uuid"
)

// Project is the root of the resource hierarchy. CreatorID is a distinguished
// user that always resolves to admin even without a member row, and can never
// be removed from the member table.
type Project struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	CreatorID uuid.UUID `json:"creator_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Folder groups dashboards under a project.
type Folder struct {
	ID        uuid.UUID `json:"id"`
	ProjectID uuid.UUID `json:"project_id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Dashboard lives inside a folder.
type Dashboard struct {
	ID        uuid.UUID `json:"id"`
	FolderID  uuid.UUID `json:"folder_id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Tile belongs to a dashboard and references exactly one connection whose
// database its query runs against.
type Tile struct {
	ID           uuid.UUID `json:"id"`
	DashboardID  uuid.UUID `json:"dashboard_id"`
	ConnectionID uuid.UUID `json:"connection_id"`
	Name         string    `json:"name"`
	Query        string    `json:"query"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}
