package pool

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/vyrodovalexey/dbpool/internal/backend"
	"github.com/vyrodovalexey/dbpool/internal/config"
	"github.com/vyrodovalexey/dbpool/internal/observability"
	"github.com/vyrodovalexey/dbpool/internal/util"
)

// Registry owns one Pool per endpoint URL. Pool names are unique within a
// registry.
type Registry struct {
	mu     sync.RWMutex
	pools  map[string]*Pool
	closed bool

	group    singleflight.Group
	logger   observability.Logger
	poolOpts []Option
}

// RegistryOption is a functional option for configuring a Registry.
type RegistryOption func(*Registry)

// WithRegistryLogger sets the logger for the registry and the pools it
// creates.
func WithRegistryLogger(logger observability.Logger) RegistryOption {
	return func(r *Registry) {
		r.logger = logger
	}
}

// WithPoolOptions sets options applied to every pool the registry creates,
// before any per-call options.
func WithPoolOptions(opts ...Option) RegistryOption {
	return func(r *Registry) {
		r.poolOpts = append(r.poolOpts, opts...)
	}
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		pools:  make(map[string]*Pool),
		logger: observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// GetOrCreatePool returns the pool for url, creating and initializing it on
// first use. Concurrent callers for the same unseen url share one
// construction.
func (r *Registry) GetOrCreatePool(
	ctx context.Context,
	url string,
	cfg config.PoolConfig,
	opts ...Option,
) (*Pool, error) {
	r.mu.RLock()
	if r.closed {
		r.mu.RUnlock()
		return nil, util.ErrPoolClosed
	}
	if p, ok := r.pools[url]; ok {
		r.mu.RUnlock()
		return p, nil
	}
	r.mu.RUnlock()

	v, err, _ := r.group.Do(url, func() (interface{}, error) {
		r.mu.RLock()
		if p, ok := r.pools[url]; ok {
			r.mu.RUnlock()
			return p, nil
		}
		r.mu.RUnlock()

		return r.build(ctx, url, cfg, opts)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Pool), nil
}

// CreatePool is GetOrCreatePool for callers that only need the side effect.
func (r *Registry) CreatePool(ctx context.Context, url string, cfg config.PoolConfig, opts ...Option) error {
	_, err := r.GetOrCreatePool(ctx, url, cfg, opts...)
	return err
}

func (r *Registry) build(ctx context.Context, url string, cfg config.PoolConfig, opts []Option) (*Pool, error) {
	all := make([]Option, 0, len(r.poolOpts)+len(opts)+1)
	all = append(all, WithLogger(r.logger))
	all = append(all, r.poolOpts...)
	all = append(all, opts...)

	p, err := New(url, cfg, all...)
	if err != nil {
		return nil, err
	}
	r.mu.RLock()
	err = r.checkNameLocked(p.Name())
	r.mu.RUnlock()
	if err != nil {
		return nil, err
	}
	if err := p.Initialize(ctx); err != nil {
		_ = p.Shutdown(context.Background())
		return nil, err
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		_ = p.Shutdown(context.Background())
		return nil, util.ErrPoolClosed
	}
	if err := r.checkNameLocked(p.Name()); err != nil {
		r.mu.Unlock()
		_ = p.Shutdown(context.Background())
		return nil, err
	}
	r.pools[url] = p
	r.mu.Unlock()

	r.logger.Info("pool registered",
		observability.String("pool", p.Name()),
		observability.String("endpoint", p.Endpoint()),
	)
	return p, nil
}

// checkNameLocked rejects a name already used by another endpoint. Stats,
// health and sweep results are keyed by name, and URLs that differ only in
// credentials redact to the same default name.
func (r *Registry) checkNameLocked(name string) error {
	for _, existing := range r.pools {
		if existing.Name() == name {
			return util.NewConfigError("name",
				fmt.Sprintf("pool name %q is already registered for another endpoint", name))
		}
	}
	return nil
}

// GetPool returns the pool for url if it exists.
func (r *Registry) GetPool(url string) (*Pool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.pools[url]
	return p, ok
}

// Pools returns the registered pools ordered by name.
func (r *Registry) Pools() []*Pool {
	r.mu.RLock()
	out := make([]*Pool, 0, len(r.pools))
	for _, p := range r.pools {
		out = append(out, p)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// KindStats aggregates the pools of one backend family.
type KindStats struct {
	Pools   int `json:"pools"`
	Active  int `json:"active"`
	Total   int `json:"total"`
	Waiting int `json:"waiting"`
}

// RegistryStats aggregates all pools.
type RegistryStats struct {
	TotalPools int                        `json:"totalPools"`
	Active     int                        `json:"active"`
	Idle       int                        `json:"idle"`
	Total      int                        `json:"total"`
	Waiting    int                        `json:"waiting"`
	ByBackend  map[backend.Kind]KindStats `json:"byBackend"`
	Pools      map[string]Stats           `json:"pools"`
}

// Stats returns aggregate counters and a per-pool breakdown keyed by pool
// name.
func (r *Registry) Stats() RegistryStats {
	pools := r.Pools()
	out := RegistryStats{
		TotalPools: len(pools),
		ByBackend:  make(map[backend.Kind]KindStats),
		Pools:      make(map[string]Stats, len(pools)),
	}
	for _, p := range pools {
		s := p.Stats()
		out.Active += s.Active
		out.Idle += s.Idle
		out.Total += s.Total
		out.Waiting += s.Waiting
		out.Pools[p.Name()] = s

		k := out.ByBackend[s.BackendKind]
		k.Pools++
		k.Active += s.Active
		k.Total += s.Total
		k.Waiting += s.Waiting
		out.ByBackend[s.BackendKind] = k
	}
	return out
}

// HealthStatus returns the health of every pool keyed by pool name.
func (r *Registry) HealthStatus() map[string]HealthStatus {
	pools := r.Pools()
	out := make(map[string]HealthStatus, len(pools))
	for _, p := range pools {
		out[p.Name()] = p.HealthStatus()
	}
	return out
}

// RunHealthChecks sweeps every pool once.
func (r *Registry) RunHealthChecks(ctx context.Context) map[string]SweepResult {
	pools := r.Pools()
	out := make(map[string]SweepResult, len(pools))
	for _, p := range pools {
		if ctx.Err() != nil {
			break
		}
		out[p.Name()] = p.RunHealthCheck(ctx)
	}
	return out
}

// RemovePool shuts down and forgets the pool for url.
func (r *Registry) RemovePool(ctx context.Context, url string) error {
	r.mu.Lock()
	p, ok := r.pools[url]
	delete(r.pools, url)
	r.mu.Unlock()
	if !ok {
		return nil
	}
	return p.Shutdown(ctx)
}

// Sync creates pools for entries that are not registered yet. Existing
// pools keep their configuration. Every entry is attempted; failures are
// joined.
func (r *Registry) Sync(ctx context.Context, entries []config.PoolEntry) error {
	var errs []error
	for _, e := range entries {
		if _, ok := r.GetPool(e.URL); ok {
			continue
		}
		if err := r.CreatePool(ctx, e.URL, e.PoolConfig, WithName(e.Name)); err != nil {
			r.logger.Error("failed to create pool",
				observability.String("pool", e.Name),
				observability.Error(err),
			)
			errs = append(errs, fmt.Errorf("pool %s: %w", e.Name, err))
		}
	}
	return errors.Join(errs...)
}

// Shutdown shuts down every pool. Individual failures are logged and
// swallowed. Later calls to GetOrCreatePool fail with ErrPoolClosed.
func (r *Registry) Shutdown(ctx context.Context) {
	r.mu.Lock()
	r.closed = true
	pools := make([]*Pool, 0, len(r.pools))
	for _, p := range r.pools {
		pools = append(pools, p)
	}
	r.pools = make(map[string]*Pool)
	r.mu.Unlock()

	var wg sync.WaitGroup
	for _, p := range pools {
		wg.Add(1)
		go func(p *Pool) {
			defer wg.Done()
			if err := p.Shutdown(ctx); err != nil {
				r.logger.Error("pool shutdown failed",
					observability.String("pool", p.Name()),
					observability.Error(err),
				)
			}
		}(p)
	}
	wg.Wait()

	r.logger.Info("registry shut down", observability.Int("pools", len(pools)))
}
