package models

import (
	"time"

	"github.com/google/uuid"
)

// Organization represents a tenant. AllowGlobalDataAccess widens read visibility
// to globally scoped companies; it never affects where new records are written.
type Organization struct {
	OrgID                 uuid.UUID // UUIDv7
	Name                  string
	AllowGlobalDataAccess bool
	CreatedAt             time.Time
	UpdatedAt             time.Time
}
