package contextkeys

import (
	"context"
	"testing"
)

func TestIDs(t *testing.T) {
	ctx := context.Background()

	if _, ok := GetTenantID(ctx); ok {
		t.Error("expected no tenant in empty context")
	}
	if _, ok := GetTenantID(WithTenantID(ctx, 0)); ok {
		t.Error("tenant 0 must be reported as absent")
	}
	if id, ok := GetTenantID(WithTenantID(ctx, 3)); !ok || id != 3 {
		t.Errorf("GetTenantID = %d, %v; want 3, true", id, ok)
	}

	if _, ok := GetUserID(WithUserID(ctx, 0)); ok {
		t.Error("user 0 must be reported as absent")
	}
	if id, ok := GetUserID(WithUserID(ctx, 42)); !ok || id != 42 {
		t.Errorf("GetUserID = %d, %v; want 42, true", id, ok)
	}
}

func TestRequestID(t *testing.T) {
	if got := GetRequestID(context.Background()); got != "" {
		t.Errorf("GetRequestID = %q; want empty", got)
	}
	if got := GetRequestID(WithRequestID(context.Background(), "req-1")); got != "req-1" {
		t.Errorf("GetRequestID = %q; want req-1", got)
	}
}
