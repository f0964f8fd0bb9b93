// Package cache memoizes permission decisions.
//
// Key format version: v1
// Format: {userID}:{tenantID}:{resource}:{action}:{resourceID}
//
// The user id leads the key so that "everything for this user" is a plain
// prefix in the shared tier. Tenant-wide patterns are matched with a leading
// wildcard and may over-select; over-invalidation is harmless.
//
// CHANGING THIS FORMAT INVALIDATES EVERY CACHED DECISION
package cache

import (
	"fmt"
	"strconv"
	"strings"
)

// Key identifies one cached decision
type Key struct {
	TenantID   int64
	UserID     int64
	Resource   string
	Action     string
	ResourceID string
}

// Validate checks that the key carries a full scope
func (k Key) Validate() error {
	if k.TenantID == 0 || k.UserID == 0 {
		return fmt.Errorf("%w: tenant and user are required", ErrInvalidCacheKey)
	}
	if k.Resource == "" || k.Action == "" {
		return fmt.Errorf("%w: resource and action are required", ErrInvalidCacheKey)
	}
	return nil
}

// String formats the key for storage
func (k Key) String() string {
	return strings.Join([]string{
		strconv.FormatInt(k.UserID, 10),
		strconv.FormatInt(k.TenantID, 10),
		k.Resource,
		k.Action,
		k.ResourceID,
	}, ":")
}

// Pattern selects cached decisions for invalidation. Zero fields are
// wildcards. At least one of TenantID or UserID must be set, and Action
// narrows a pattern only when Resource is also set.
type Pattern struct {
	TenantID int64
	UserID   int64
	Resource string
	Action   string
}

// UserTenantPattern selects every decision for a user within a tenant
func UserTenantPattern(userID, tenantID int64) Pattern {
	return Pattern{TenantID: tenantID, UserID: userID}
}

// UserPattern selects every decision for a user across all tenants
func UserPattern(userID int64) Pattern {
	return Pattern{UserID: userID}
}

// TenantPattern selects every decision in a tenant
func TenantPattern(tenantID int64) Pattern {
	return Pattern{TenantID: tenantID}
}

// Validate checks that the pattern is scoped
func (p Pattern) Validate() error {
	if p.TenantID == 0 && p.UserID == 0 {
		return fmt.Errorf("%w: tenant or user is required", ErrInvalidPattern)
	}
	if p.Action != "" && p.Resource == "" {
		return fmt.Errorf("%w: action requires resource", ErrInvalidPattern)
	}
	return nil
}

// TenantWide reports whether the pattern spans users
func (p Pattern) TenantWide() bool {
	return p.UserID == 0
}

// Matches reports whether a key falls under the pattern
func (p Pattern) Matches(k Key) bool {
	if p.TenantID != 0 && p.TenantID != k.TenantID {
		return false
	}
	if p.UserID != 0 && p.UserID != k.UserID {
		return false
	}
	if p.Resource != "" && p.Resource != k.Resource {
		return false
	}
	if p.Action != "" && p.Action != k.Action {
		return false
	}
	return true
}

// Glob renders the pattern as a Redis MATCH expression relative to a key prefix
func (p Pattern) Glob() string {
	parts := []string{"*", "*"}
	if p.UserID != 0 {
		parts[0] = strconv.FormatInt(p.UserID, 10)
	}
	if p.TenantID != 0 {
		parts[1] = strconv.FormatInt(p.TenantID, 10)
	}
	if p.Resource != "" {
		parts = append(parts, escapeGlob(p.Resource))
		if p.Action != "" {
			parts = append(parts, escapeGlob(p.Action))
		}
	}
	glob := strings.Join(parts, ":")
	if strings.HasSuffix(glob, "*") {
		return glob
	}
	return glob + ":*"
}

// String returns a readable form for logs
func (p Pattern) String() string {
	return fmt.Sprintf("user=%d tenant=%d resource=%q action=%q", p.UserID, p.TenantID, p.Resource, p.Action)
}

func escapeGlob(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
