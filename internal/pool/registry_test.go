package pool

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyrodovalexey/dbpool/internal/backend"
	"github.com/vyrodovalexey/dbpool/internal/config"
	"github.com/vyrodovalexey/dbpool/internal/observability"
	"github.com/vyrodovalexey/dbpool/internal/util"
)

func newTestRegistry(t *testing.T, opts ...RegistryOption) *Registry {
	t.Helper()
	r := NewRegistry(opts...)
	t.Cleanup(func() {
		r.Shutdown(context.Background())
	})
	return r
}

func TestRegistry_ConcurrentGetOrCreate(t *testing.T) {
	var built atomic.Int32
	backend.RegisterScheme("counted", func(observability.Logger) backend.Adapter {
		built.Add(1)
		return newFakeAdapter()
	})

	r := newTestRegistry(t)
	const callers = 32

	pools := make([]*Pool, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p, err := r.GetOrCreatePool(context.Background(), "counted://db", testPoolConfig())
			assert.NoError(t, err)
			pools[i] = p
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), built.Load())
	for _, p := range pools {
		assert.Same(t, pools[0], p)
	}
	assert.Len(t, r.Pools(), 1)
}

func TestRegistry_GetPool(t *testing.T) {
	r := newTestRegistry(t)

	_, ok := r.GetPool("fake://db")
	assert.False(t, ok)

	require.NoError(t, r.CreatePool(context.Background(), "fake://db", testPoolConfig()))
	require.NoError(t, r.CreatePool(context.Background(), "fake://db", testPoolConfig()))

	p, ok := r.GetPool("fake://db")
	require.True(t, ok)
	assert.Equal(t, 1, p.Stats().Total, "pool is initialized on creation")
	assert.Len(t, r.Pools(), 1)
}

func TestRegistry_InitializeFailureIsNotRegistered(t *testing.T) {
	a := newFakeAdapter()
	a.failOpens = 1
	r := newTestRegistry(t)

	_, err := r.GetOrCreatePool(context.Background(), "fake://down", testPoolConfig(), WithAdapter(a))
	require.Error(t, err)
	assert.ErrorIs(t, err, util.ErrConnectFailed)

	_, ok := r.GetPool("fake://down")
	assert.False(t, ok)

	p, err := r.GetOrCreatePool(context.Background(), "fake://down", testPoolConfig(), WithAdapter(a))
	require.NoError(t, err)
	assert.Equal(t, 1, p.Stats().Total)
}

func TestRegistry_Stats(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	cfg := testPoolConfig()
	cfg.MaxConnections = 3
	cfg.MinConnections = 2
	a, err := r.GetOrCreatePool(ctx, "fake://a", cfg, WithName("a"))
	require.NoError(t, err)
	_, err = r.GetOrCreatePool(ctx, "fake://b", testPoolConfig(), WithName("b"))
	require.NoError(t, err)

	c, err := a.Acquire(ctx)
	require.NoError(t, err)
	defer a.Release(c)

	s := r.Stats()
	assert.Equal(t, 2, s.TotalPools)
	assert.Equal(t, 1, s.Active)
	assert.Equal(t, 3, s.Total)
	assert.Equal(t, 2, s.Idle)
	assert.Equal(t, 0, s.Waiting)
	assert.Equal(t, KindStats{Pools: 2, Active: 1, Total: 3}, s.ByBackend[fakeKind])
	assert.Equal(t, 2, s.Pools["a"].Total)
	assert.Equal(t, 1, s.Pools["b"].Total)

	health := r.HealthStatus()
	require.Len(t, health, 2)
	assert.Equal(t, StatusHealthy, health["a"].Status)

	sweeps := r.RunHealthChecks(ctx)
	assert.Equal(t, 1, sweeps["a"].Validated)
	assert.Equal(t, 1, sweeps["b"].Validated)
}

func TestRegistry_RemovePool(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	p, err := r.GetOrCreatePool(ctx, "fake://db", testPoolConfig())
	require.NoError(t, err)

	require.NoError(t, r.RemovePool(ctx, "fake://db"))
	assert.True(t, p.IsClosed())
	_, ok := r.GetPool("fake://db")
	assert.False(t, ok)

	require.NoError(t, r.RemovePool(ctx, "fake://missing"))
}

func TestRegistry_Sync(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	existing, err := r.GetOrCreatePool(ctx, "fake://one", testPoolConfig(), WithName("one"))
	require.NoError(t, err)

	entries := []config.PoolEntry{
		{Name: "one", URL: "fake://one", PoolConfig: testPoolConfig()},
		{Name: "two", URL: "fake://two", PoolConfig: testPoolConfig()},
		{Name: "bad", URL: "nope://three", PoolConfig: testPoolConfig()},
	}
	err = r.Sync(ctx, entries)
	require.Error(t, err)
	assert.ErrorIs(t, err, util.ErrUnknownBackend)
	assert.Contains(t, err.Error(), "pool bad")

	p, ok := r.GetPool("fake://one")
	require.True(t, ok)
	assert.Same(t, existing, p)

	two, ok := r.GetPool("fake://two")
	require.True(t, ok)
	assert.Equal(t, "two", two.Name())
	assert.Len(t, r.Pools(), 2)
}

func TestRegistry_Shutdown(t *testing.T) {
	r := NewRegistry()
	ctx := context.Background()

	p, err := r.GetOrCreatePool(ctx, "fake://db", testPoolConfig())
	require.NoError(t, err)

	r.Shutdown(ctx)
	assert.True(t, p.IsClosed())
	assert.Empty(t, r.Pools())

	_, err = r.GetOrCreatePool(ctx, "fake://db", testPoolConfig())
	assert.ErrorIs(t, err, util.ErrPoolClosed)

	r.Shutdown(ctx)
}

func TestRegistry_ShutdownSwallowsPoolFailures(t *testing.T) {
	r := NewRegistry()
	ctx := context.Background()

	cfg := testPoolConfig()
	cfg.MaxConnections = 1
	stuck := newFakeAdapter()
	blocked, err := r.GetOrCreatePool(ctx, "fake://stuck", cfg, WithName("stuck"), WithAdapter(stuck))
	require.NoError(t, err)
	healthy, err := r.GetOrCreatePool(ctx, "fake://ok", testPoolConfig(), WithName("ok"))
	require.NoError(t, err)

	// The replacement opened for a waiter hangs until release is closed,
	// so the stuck pool cannot finish shutting down before the deadline.
	release := make(chan struct{})
	opening := make(chan struct{}, 1)
	stuck.set(func(a *fakeAdapter) {
		a.onOpen = func() {
			opening <- struct{}{}
			<-release
		}
	})

	c, err := blocked.Acquire(ctx)
	require.NoError(t, err)
	waitErr := make(chan error, 1)
	go func() {
		_, acqErr := blocked.Acquire(ctx)
		waitErr <- acqErr
	}()
	require.Eventually(t, func() bool { return blocked.Stats().Waiting == 1 }, time.Second, time.Millisecond)
	c.MarkUnhealthy()
	blocked.Release(c)
	<-opening

	shutdownCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	done := make(chan struct{})
	go func() {
		r.Shutdown(shutdownCtx)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("registry shutdown blocked on a failing pool")
	}

	assert.True(t, healthy.IsClosed())
	assert.True(t, blocked.IsClosed())
	assert.Empty(t, r.Pools())
	assert.ErrorIs(t, <-waitErr, util.ErrPoolClosed)

	close(release)
	require.Eventually(t, func() bool { return stuck.counts().closes == 2 }, time.Second, time.Millisecond)
}

func TestRegistry_RejectsDuplicateNames(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	first, err := r.GetOrCreatePool(ctx, "fake://u:a@h/db", testPoolConfig())
	require.NoError(t, err)

	_, err = r.GetOrCreatePool(ctx, "fake://u:b@h/db", testPoolConfig())
	require.Error(t, err)
	assert.ErrorIs(t, err, util.ErrConfigInvalid)
	_, ok := r.GetPool("fake://u:b@h/db")
	assert.False(t, ok)
	assert.False(t, first.IsClosed())

	_, err = r.GetOrCreatePool(ctx, "fake://u:b@h/db", testPoolConfig(), WithName("second"))
	require.NoError(t, err)

	assert.Len(t, r.Stats().Pools, 2)
	assert.Len(t, r.HealthStatus(), 2)
	assert.Len(t, r.RunHealthChecks(ctx), 2)
}

func TestRegistry_PoolOptions(t *testing.T) {
	a := newFakeAdapter()
	r := newTestRegistry(t, WithPoolOptions(WithAdapter(a), WithName("shared")))

	p, err := r.GetOrCreatePool(context.Background(), "anything://db", testPoolConfig())
	require.NoError(t, err)
	assert.Equal(t, "shared", p.Name())
	assert.Equal(t, 1, a.counts().opens)
}
