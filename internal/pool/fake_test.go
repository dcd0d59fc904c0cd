package pool

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/vyrodovalexey/dbpool/internal/backend"
	"github.com/vyrodovalexey/dbpool/internal/config"
	"github.com/vyrodovalexey/dbpool/internal/observability"
	"github.com/vyrodovalexey/dbpool/internal/util"
)

const fakeKind backend.Kind = "fake"

func TestMain(m *testing.M) {
	backend.RegisterScheme("fake", func(observability.Logger) backend.Adapter {
		return newFakeAdapter()
	})
	goleak.VerifyTestMain(m)
}

type fakeSession struct {
	id int
}

// fakeAdapter is an in-memory backend with scriptable failures.
type fakeAdapter struct {
	mu          sync.Mutex
	nextID      int
	opens       int
	closes      int
	executes    int
	validations int

	failOpens int   // next N opens fail
	openLimit int   // opens after the first N successful ones fail
	failExecs int   // next N executes fail with execErr
	execErr   error // defaults to a retryable query error
	invalid   bool  // Validate reports false

	// onExecute runs outside the adapter lock for each execute.
	onExecute func(ctx context.Context) error
	// onOpen runs outside the adapter lock before each open.
	onOpen func()
}

func newFakeAdapter() *fakeAdapter {
	return &fakeAdapter{}
}

func (a *fakeAdapter) Kind() backend.Kind {
	return fakeKind
}

func (a *fakeAdapter) Open(_ context.Context, endpoint string, _ backend.OpenOptions) (backend.Session, error) {
	a.mu.Lock()
	hook := a.onOpen
	a.mu.Unlock()
	if hook != nil {
		hook()
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.opens++
	if a.failOpens > 0 || (a.openLimit > 0 && a.nextID >= a.openLimit) {
		if a.failOpens > 0 {
			a.failOpens--
		}
		return nil, util.NewConnectError(string(fakeKind), endpoint, errors.New("connection refused"))
	}
	a.nextID++
	return &fakeSession{id: a.nextID}, nil
}

func (a *fakeAdapter) Validate(_ context.Context, _ backend.Session) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.validations++
	return !a.invalid
}

func (a *fakeAdapter) Execute(ctx context.Context, _ backend.Session, query any, _ ...any) (any, error) {
	a.mu.Lock()
	a.executes++
	var err error
	if a.failExecs > 0 {
		a.failExecs--
		err = a.execErr
		if err == nil {
			err = util.NewQueryError(string(fakeKind), errors.New("boom"))
		}
	}
	hook := a.onExecute
	a.mu.Unlock()

	if hook != nil {
		if hookErr := hook(ctx); hookErr != nil {
			return nil, hookErr
		}
	}
	if err != nil {
		return nil, err
	}
	return query, nil
}

func (a *fakeAdapter) Close(_ context.Context, _ backend.Session) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closes++
}

func (a *fakeAdapter) set(fn func(a *fakeAdapter)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	fn(a)
}

type fakeCounts struct {
	opens, closes, executes, validations int
}

func (a *fakeAdapter) counts() fakeCounts {
	a.mu.Lock()
	defer a.mu.Unlock()
	return fakeCounts{
		opens:       a.opens,
		closes:      a.closes,
		executes:    a.executes,
		validations: a.validations,
	}
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func testPoolConfig() config.PoolConfig {
	cfg := config.DefaultPoolConfig()
	cfg.MaxConnections = 2
	cfg.MinConnections = 1
	cfg.AcquireTimeout = config.Duration(2 * time.Second)
	cfg.HealthCheckInterval = config.Duration(time.Hour)
	cfg.RetryDelay = config.Duration(time.Millisecond)
	cfg.JitterFactor = config.ExplicitZero
	return cfg
}

func newTestPool(t *testing.T, cfg config.PoolConfig, a *fakeAdapter, opts ...Option) *Pool {
	t.Helper()
	all := append([]Option{WithAdapter(a), WithName(t.Name())}, opts...)
	p, err := New("fake://db", cfg, all...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() {
		_ = p.Shutdown(context.Background())
	})
	return p
}
