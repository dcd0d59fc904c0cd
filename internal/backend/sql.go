package backend

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/vyrodovalexey/dbpool/internal/observability"
	"github.com/vyrodovalexey/dbpool/internal/util"
)

// Exec runs a statement that returns no rows.
type Exec struct {
	SQL string
}

// ExecResult is returned for Exec queries.
type ExecResult struct {
	RowsAffected int64
	LastInsertID int64
}

// sqlSession is a dedicated *sql.DB limited to one connection plus the
// pinned connection itself, so the session maps to exactly one server
// connection.
type sqlSession struct {
	db   *sql.DB
	conn *sql.Conn
}

// dsnFunc converts an endpoint URL into a driver DSN.
type dsnFunc func(endpoint string, opts OpenOptions) (string, error)

// SQLAdapter serves relational endpoints through database/sql.
type SQLAdapter struct {
	kind       Kind
	driverName string
	dsn        dsnFunc
	logger     observability.Logger
}

func newSQLAdapter(kind Kind, driverName string, dsn dsnFunc, logger observability.Logger) *SQLAdapter {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &SQLAdapter{kind: kind, driverName: driverName, dsn: dsn, logger: logger}
}

// Kind implements Adapter.
func (a *SQLAdapter) Kind() Kind {
	return a.kind
}

// Open implements Adapter.
func (a *SQLAdapter) Open(ctx context.Context, endpoint string, opts OpenOptions) (Session, error) {
	dsn, err := a.dsn(endpoint, opts)
	if err != nil {
		return nil, util.NewConfigErrorWithCause("url", fmt.Sprintf("invalid %s URL", a.kind), err)
	}

	db, err := sql.Open(a.driverName, dsn)
	if err != nil {
		return nil, util.NewConnectError(string(a.kind), endpoint, err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	openCtx, cancel := withOpenTimeout(ctx, opts)
	defer cancel()

	conn, err := db.Conn(openCtx)
	if err != nil {
		_ = db.Close()
		return nil, util.NewConnectError(string(a.kind), endpoint, err)
	}
	if err := conn.PingContext(openCtx); err != nil {
		_ = conn.Close()
		_ = db.Close()
		return nil, util.NewConnectError(string(a.kind), endpoint, err)
	}

	return &sqlSession{db: db, conn: conn}, nil
}

// Validate implements Adapter.
func (a *SQLAdapter) Validate(ctx context.Context, s Session) bool {
	sess, ok := s.(*sqlSession)
	if !ok {
		return false
	}
	return sess.conn.PingContext(ctx) == nil
}

// Execute implements Adapter. A string query returns []map[string]any
// with one map per row; an Exec returns ExecResult.
func (a *SQLAdapter) Execute(ctx context.Context, s Session, query any, params ...any) (any, error) {
	sess, ok := s.(*sqlSession)
	if !ok {
		return nil, util.NewQueryError(string(a.kind), fmt.Errorf("unexpected session type %T", s))
	}

	switch q := query.(type) {
	case string:
		rows, err := a.query(ctx, sess.conn, q, params)
		if err != nil {
			return nil, a.classify(err)
		}
		return rows, nil
	case Exec:
		res, err := sess.conn.ExecContext(ctx, q.SQL, params...)
		if err != nil {
			return nil, a.classify(err)
		}
		out := ExecResult{}
		out.RowsAffected, _ = res.RowsAffected()
		out.LastInsertID, _ = res.LastInsertId()
		return out, nil
	default:
		return nil, util.NewQueryError(string(a.kind), fmt.Errorf("unsupported %s query type %T", a.kind, query))
	}
}

func (a *SQLAdapter) query(ctx context.Context, conn *sql.Conn, q string, params []any) ([]map[string]any, error) {
	rows, err := conn.QueryContext(ctx, q, params...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	result := make([]map[string]any, 0)
	for rows.Next() {
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}

		row := make(map[string]any, len(columns))
		for i, col := range columns {
			if b, ok := values[i].([]byte); ok {
				row[col] = string(b)
			} else {
				row[col] = values[i]
			}
		}
		result = append(result, row)
	}

	return result, rows.Err()
}

// classify marks transport-level failures as session loss.
func (a *SQLAdapter) classify(err error) error {
	var netErr net.Error
	switch {
	case util.IsContextError(err):
		return util.NewQueryError(string(a.kind), err)
	case errors.Is(err, driver.ErrBadConn),
		errors.Is(err, sql.ErrConnDone),
		errors.Is(err, io.EOF),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.As(err, &netErr),
		a.kind == KindMySQL && isMySQLConnError(err):
		return util.NewSessionLostError(string(a.kind), err)
	default:
		return util.NewQueryError(string(a.kind), err)
	}
}

// Close implements Adapter.
func (a *SQLAdapter) Close(_ context.Context, s Session) {
	sess, ok := s.(*sqlSession)
	if !ok {
		return
	}
	if err := sess.conn.Close(); err != nil && !errors.Is(err, sql.ErrConnDone) {
		a.logger.Warn("failed to close connection",
			observability.String("backend", string(a.kind)),
			observability.Error(err),
		)
	}
	if err := sess.db.Close(); err != nil {
		a.logger.Warn("failed to close database handle",
			observability.String("backend", string(a.kind)),
			observability.Error(err),
		)
	}
}
