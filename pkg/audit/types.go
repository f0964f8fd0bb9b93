package audit

import (
	"encoding/json"
	"time"
)

// EventType represents the category of audit event
type EventType string

const (
	// Decision events
	EventTypeAuthzPermissionCheck EventType = "authz.permission_check"
	EventTypeAuthzAccessDenied    EventType = "authz.access_denied"
	EventTypeAuthzCrossTenant     EventType = "authz.cross_tenant_access"

	// Administrative mutation events
	EventTypeAuthzPermissionGrant  EventType = "authz.permission_grant"
	EventTypeAuthzPermissionRevoke EventType = "authz.permission_revoke"
	EventTypeAuthzRoleCreate       EventType = "authz.role_create"
	EventTypeAuthzRoleDelete       EventType = "authz.role_delete"
	EventTypeAuthzRoleAssign       EventType = "authz.role_assign"
	EventTypeAuthzRoleRevoke       EventType = "authz.role_revoke"
	EventTypeAuthzTenantUpdate     EventType = "authz.tenant_update"
)

// EventStatus represents the outcome of an event
type EventStatus string

const (
	EventStatusSuccess EventStatus = "success"
	EventStatusFailure EventStatus = "failure"
	EventStatusDenied  EventStatus = "denied"
)

// AuditEvent represents a single audit log entry
type AuditEvent struct {
	Timestamp time.Time   `json:"timestamp"`
	EventType EventType   `json:"event_type"`
	Status    EventStatus `json:"status"`

	// Actor
	UserID   int64 `json:"user_id,omitempty"`
	TenantID int64 `json:"tenant_id,omitempty"`

	// Target
	TargetTenantID int64  `json:"target_tenant_id,omitempty"`
	TargetUserID   int64  `json:"target_user_id,omitempty"`
	Permission     string `json:"permission,omitempty"`
	ResourceID     string `json:"resource_id,omitempty"`

	// Outcome
	Code         string `json:"code,omitempty"`
	Message      string `json:"message,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`

	RequestID string                 `json:"request_id,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// ToJSON converts the audit event to JSON
func (e *AuditEvent) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// FromJSON parses an audit event from JSON
func FromJSON(data []byte) (*AuditEvent, error) {
	var event AuditEvent
	err := json.Unmarshal(data, &event)
	return &event, err
}
