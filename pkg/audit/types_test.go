package audit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuditEvent_JSON(t *testing.T) {
	event := &AuditEvent{
		Timestamp:      time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
		EventType:      EventTypeAuthzCrossTenant,
		Status:         EventStatusDenied,
		UserID:         7,
		TenantID:       1,
		TargetTenantID: 2,
		Metadata:       map[string]interface{}{"operation": "tenant_support"},
	}

	data, err := event.ToJSON()
	require.NoError(t, err)
	assert.Contains(t, string(data), `"event_type":"authz.cross_tenant_access"`)
	assert.NotContains(t, string(data), "target_user_id")

	parsed, err := FromJSON(data)
	require.NoError(t, err)
	assert.Equal(t, event.TargetTenantID, parsed.TargetTenantID)
	assert.Equal(t, "tenant_support", parsed.Metadata["operation"])
	assert.True(t, event.Timestamp.Equal(parsed.Timestamp))
}

func TestFromJSON_Invalid(t *testing.T) {
	_, err := FromJSON([]byte("{not json"))
	assert.Error(t, err)
}
