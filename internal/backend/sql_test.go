package backend

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyrodovalexey/dbpool/internal/util"
)

// ============================================================================
// In-memory database/sql driver
// ============================================================================

const fakeDriverName = "dbpool-fake"

type fakeServer struct {
	mu       sync.Mutex
	openErr  error
	pingErr  error
	queryErr error
	opens    int
	closes   int
}

func (s *fakeServer) set(fn func(*fakeServer)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s)
}

var (
	fakeServersMu sync.Mutex
	fakeServers   = map[string]*fakeServer{}
)

func newFakeServer(t *testing.T) (string, *fakeServer) {
	t.Helper()
	fakeServersMu.Lock()
	defer fakeServersMu.Unlock()
	name := t.Name()
	srv := &fakeServer{}
	fakeServers[name] = srv
	return name, srv
}

func init() {
	sql.Register(fakeDriverName, fakeDriver{})
}

type fakeDriver struct{}

func (fakeDriver) Open(name string) (driver.Conn, error) {
	fakeServersMu.Lock()
	srv, ok := fakeServers[name]
	fakeServersMu.Unlock()
	if !ok {
		return nil, errors.New("unknown fake server")
	}

	srv.mu.Lock()
	defer srv.mu.Unlock()
	if srv.openErr != nil {
		return nil, srv.openErr
	}
	srv.opens++
	return &fakeConn{srv: srv}, nil
}

type fakeConn struct {
	srv *fakeServer
}

func (c *fakeConn) Prepare(string) (driver.Stmt, error) {
	return nil, errors.New("prepare not supported")
}

func (c *fakeConn) Close() error {
	c.srv.set(func(s *fakeServer) { s.closes++ })
	return nil
}

func (c *fakeConn) Begin() (driver.Tx, error) {
	return nil, errors.New("transactions not supported")
}

func (c *fakeConn) Ping(context.Context) error {
	c.srv.mu.Lock()
	defer c.srv.mu.Unlock()
	return c.srv.pingErr
}

func (c *fakeConn) QueryContext(_ context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	c.srv.mu.Lock()
	defer c.srv.mu.Unlock()
	if c.srv.queryErr != nil {
		return nil, c.srv.queryErr
	}
	rows := [][]driver.Value{
		{int64(1), []byte("alice")},
		{int64(2), []byte("bob")},
	}
	if len(args) == 1 {
		rows = rows[:1]
	}
	return &fakeRows{columns: []string{"id", "name"}, rows: rows}, nil
}

func (c *fakeConn) ExecContext(context.Context, string, []driver.NamedValue) (driver.Result, error) {
	c.srv.mu.Lock()
	defer c.srv.mu.Unlock()
	if c.srv.queryErr != nil {
		return nil, c.srv.queryErr
	}
	return fakeResult{}, nil
}

type fakeResult struct{}

func (fakeResult) LastInsertId() (int64, error) { return 7, nil }
func (fakeResult) RowsAffected() (int64, error) { return 3, nil }

type fakeRows struct {
	columns []string
	rows    [][]driver.Value
	pos     int
}

func (r *fakeRows) Columns() []string { return r.columns }
func (r *fakeRows) Close() error      { return nil }

func (r *fakeRows) Next(dest []driver.Value) error {
	if r.pos >= len(r.rows) {
		return io.EOF
	}
	copy(dest, r.rows[r.pos])
	r.pos++
	return nil
}

func newFakeSQLAdapter() *SQLAdapter {
	return newSQLAdapter(KindPostgres, fakeDriverName, func(endpoint string, _ OpenOptions) (string, error) {
		return endpoint, nil
	}, nil)
}

// ============================================================================
// SQLAdapter
// ============================================================================

func TestSQLAdapter_OpenExecuteClose(t *testing.T) {
	name, srv := newFakeServer(t)
	adapter := newFakeSQLAdapter()
	ctx := context.Background()

	session, err := adapter.Open(ctx, name, OpenOptions{})
	require.NoError(t, err)
	assert.True(t, adapter.Validate(ctx, session))

	rows, err := adapter.Execute(ctx, session, "SELECT id, name FROM users")
	require.NoError(t, err)
	assert.Equal(t, []map[string]any{
		{"id": int64(1), "name": "alice"},
		{"id": int64(2), "name": "bob"},
	}, rows)

	rows, err = adapter.Execute(ctx, session, "SELECT id, name FROM users WHERE id = $1", 1)
	require.NoError(t, err)
	assert.Len(t, rows, 1)

	res, err := adapter.Execute(ctx, session, Exec{SQL: "UPDATE users SET name = 'x'"})
	require.NoError(t, err)
	assert.Equal(t, ExecResult{RowsAffected: 3, LastInsertID: 7}, res)

	adapter.Close(ctx, session)

	srv.mu.Lock()
	defer srv.mu.Unlock()
	assert.Equal(t, 1, srv.opens)
	assert.Equal(t, 1, srv.closes)
}

func TestSQLAdapter_OpenFailures(t *testing.T) {
	adapter := newFakeSQLAdapter()
	ctx := context.Background()

	name, srv := newFakeServer(t)
	srv.set(func(s *fakeServer) { s.openErr = errors.New("connection refused") })

	_, err := adapter.Open(ctx, name, OpenOptions{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, util.ErrConnectFailed))

	srv.set(func(s *fakeServer) {
		s.openErr = nil
		s.pingErr = errors.New("auth failed")
	})
	_, err = adapter.Open(ctx, name, OpenOptions{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, util.ErrConnectFailed))
}

func TestSQLAdapter_ExecuteErrors(t *testing.T) {
	name, srv := newFakeServer(t)
	adapter := newFakeSQLAdapter()
	ctx := context.Background()

	session, err := adapter.Open(ctx, name, OpenOptions{})
	require.NoError(t, err)
	defer adapter.Close(ctx, session)

	tests := []struct {
		name         string
		queryErr     error
		query        any
		wantLost     bool
		wantContains string
	}{
		{name: "syntax error", queryErr: errors.New("syntax error at or near"), query: "SELEC 1"},
		{name: "bad connection", queryErr: driver.ErrBadConn, query: "SELECT 1", wantLost: true},
		{name: "eof", queryErr: io.ErrUnexpectedEOF, query: Exec{SQL: "DELETE FROM t"}, wantLost: true},
		{name: "unsupported query", query: 42, wantContains: "unsupported postgres query type"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv.set(func(s *fakeServer) { s.queryErr = tt.queryErr })

			_, err := adapter.Execute(ctx, session, tt.query)
			require.Error(t, err)

			var qe *util.QueryError
			require.True(t, errors.As(err, &qe))
			assert.Equal(t, tt.wantLost, qe.SessionLost)
			if tt.wantContains != "" {
				assert.Contains(t, err.Error(), tt.wantContains)
			}
		})
	}
}

func TestSQLAdapter_ValidateFailure(t *testing.T) {
	name, srv := newFakeServer(t)
	adapter := newFakeSQLAdapter()
	ctx := context.Background()

	session, err := adapter.Open(ctx, name, OpenOptions{})
	require.NoError(t, err)
	defer adapter.Close(ctx, session)

	srv.set(func(s *fakeServer) { s.pingErr = errors.New("server gone") })
	assert.False(t, adapter.Validate(ctx, session))
	assert.False(t, adapter.Validate(ctx, "not a session"))

	_, err = adapter.Execute(ctx, "not a session", "SELECT 1")
	assert.Error(t, err)
}
