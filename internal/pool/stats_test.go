package pool

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvaluateHealth(t *testing.T) {
	tests := []struct {
		name        string
		stats       Stats
		closed      bool
		breakerOpen bool
		want        Status
		issues      int
	}{
		{
			name:  "idle pool is healthy",
			stats: Stats{Active: 0, Healthy: 5, Total: 5, Max: 20, Min: 5},
			want:  StatusHealthy,
		},
		{
			name:   "high utilization warns",
			stats:  Stats{Active: 16, Healthy: 16, Total: 16, Max: 20, Min: 5},
			want:   StatusWarning,
			issues: 1,
		},
		{
			name:   "critical utilization",
			stats:  Stats{Active: 19, Healthy: 19, Total: 19, Max: 20, Min: 5},
			want:   StatusCritical,
			issues: 1,
		},
		{
			name:   "waiters warn",
			stats:  Stats{Active: 1, Healthy: 5, Total: 5, Waiting: 2, Max: 20, Min: 5},
			want:   StatusWarning,
			issues: 1,
		},
		{
			name:   "below minimum is critical",
			stats:  Stats{Active: 0, Healthy: 2, Total: 2, Max: 20, Min: 5},
			want:   StatusCritical,
			issues: 1,
		},
		{
			name:        "open breaker warns",
			stats:       Stats{Healthy: 5, Total: 5, Max: 20, Min: 5},
			breakerOpen: true,
			want:        StatusWarning,
			issues:      1,
		},
		{
			name:   "closed pool is critical",
			stats:  Stats{Max: 20, Min: 5},
			closed: true,
			want:   StatusCritical,
			issues: 1,
		},
		{
			name:   "worst issue wins",
			stats:  Stats{Active: 20, Healthy: 3, Total: 20, Waiting: 4, Max: 20, Min: 5},
			want:   StatusCritical,
			issues: 3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := evaluateHealth(tt.stats, tt.closed, tt.breakerOpen)
			assert.Equal(t, tt.want, got.Status)
			assert.Len(t, got.Issues, tt.issues)
		})
	}
}

func TestPool_HealthStatus(t *testing.T) {
	cfg := testPoolConfig()
	p := newTestPool(t, cfg, newFakeAdapter())
	require.NoError(t, p.Initialize(context.Background()))

	h := p.HealthStatus()
	assert.Equal(t, StatusHealthy, h.Status)
	assert.Empty(t, h.Issues)

	c1, err := p.Acquire(context.Background())
	require.NoError(t, err)
	c2, err := p.Acquire(context.Background())
	require.NoError(t, err)

	h = p.HealthStatus()
	assert.Equal(t, StatusCritical, h.Status)

	p.Release(c1)
	p.Release(c2)
	require.NoError(t, p.Shutdown(context.Background()))
	assert.Equal(t, StatusCritical, p.HealthStatus().Status)
}
