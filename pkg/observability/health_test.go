package observability

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealthChecker_Empty(t *testing.T) {
	h := NewHealthChecker()
	status := h.Check(context.Background())
	assert.Equal(t, StatusHealthy, status.Status)
	assert.Empty(t, status.Dependencies)
	assert.Empty(t, h.Names())
}

func TestHealthChecker_Check(t *testing.T) {
	failing := func(context.Context) error { return errors.New("down") }
	ok := func(context.Context) error { return nil }

	tests := []struct {
		name     string
		register func(h *HealthChecker)
		want     string
	}{
		{
			name: "all healthy",
			register: func(h *HealthChecker) {
				h.Register("database", true, ok)
				h.Register("cache", false, ok)
			},
			want: StatusHealthy,
		},
		{
			name: "optional dependency down",
			register: func(h *HealthChecker) {
				h.Register("database", true, ok)
				h.Register("cache", false, failing)
			},
			want: StatusDegraded,
		},
		{
			name: "critical dependency down",
			register: func(h *HealthChecker) {
				h.Register("database", true, failing)
				h.Register("cache", false, failing)
			},
			want: StatusUnhealthy,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHealthChecker()
			tt.register(h)

			status := h.Check(context.Background())
			assert.Equal(t, tt.want, status.Status)
			assert.Len(t, status.Dependencies, 2)
			assert.Equal(t, []string{"cache", "database"}, h.Names())
			assert.True(t, status.Dependencies["database"].Critical)
		})
	}
}

func TestHealthChecker_DatabaseAndRedis(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer db.Close()

	mr, err := miniredis.Run()
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	h := NewHealthChecker()
	h.Register("database", true, db.PingContext)
	h.Register("cache", false, func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	})

	mock.ExpectPing()
	status := h.Check(context.Background())
	assert.Equal(t, StatusHealthy, status.Status)

	mr.Close()
	mock.ExpectPing()
	status = h.Check(context.Background())
	assert.Equal(t, StatusDegraded, status.Status)
	assert.Equal(t, StatusUnhealthy, status.Dependencies["cache"].Status)
	assert.NotEmpty(t, status.Dependencies["cache"].Message)

	mock.ExpectPing().WillReturnError(errors.New("connection refused"))
	status = h.Check(context.Background())
	assert.Equal(t, StatusUnhealthy, status.Status)
	assert.Equal(t, "connection refused", status.Dependencies["database"].Message)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHealthStatus_JSON(t *testing.T) {
	h := NewHealthChecker()
	h.Register("database", true, func(context.Context) error { return nil })

	data, err := json.Marshal(h.Check(context.Background()))
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, StatusHealthy, decoded["status"])
	assert.Contains(t, decoded["dependencies"], "database")
}
