// Package tenancy supplies the active tenant for a request. The tenant is
// always set explicitly by the caller; nothing here infers it.
package tenancy

import (
	"context"
	"time"
)

// Status represents tenant status
type Status string

const (
	StatusActive    Status = "active"
	StatusSuspended Status = "suspended"
	StatusDeleted   Status = "deleted"
)

// Valid reports whether s is a known status
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusSuspended, StatusDeleted:
		return true
	}
	return false
}

// Tenant is an isolation boundary
type Tenant struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsActive reports whether the tenant accepts requests
func (t *Tenant) IsActive() bool {
	return t != nil && t.Status == StatusActive
}

// Directory looks up tenants by id
type Directory interface {
	GetTenant(ctx context.Context, tenantID int64) (*Tenant, error)
}
