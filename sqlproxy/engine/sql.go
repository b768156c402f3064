package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/jmoiron/sqlx"

	"github.com/tomyedwab/sqlbridge/sqlproxy/types"
)

// sqlConn implements Conn on a single pinned database/sql connection.
type sqlConn struct {
	db      *sqlx.DB
	conn    *sqlx.Conn
	dialect Dialect

	// Open row streams and statements. database/sql will not close a pinned
	// connection while a stream still holds it, so Close drains these first.
	mu     sync.Mutex
	rows   map[*sqlRows]struct{}
	stmts  map[*sqlStmt]struct{}
	closed bool
}

// connect opens db through driverName and pins one connection from it.
func connect(ctx context.Context, driverName, dsn string, dialect Dialect) (*sqlConn, error) {
	db, err := sqlx.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// The pool only ever lends out the pinned connection.
	db.SetMaxOpenConns(1)

	conn, err := db.Connx(ctx)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return &sqlConn{
		db:      db,
		conn:    conn,
		dialect: dialect,
		rows:    make(map[*sqlRows]struct{}),
		stmts:   make(map[*sqlStmt]struct{}),
	}, nil
}

func (c *sqlConn) Exec(ctx context.Context, sql string, args []any) (Result, error) {
	res, err := c.conn.ExecContext(ctx, sql, args...)
	if err != nil {
		return Result{}, err
	}
	return resultOf(res), nil
}

func (c *sqlConn) Query(ctx context.Context, sql string, args []any) (Rows, error) {
	rows, err := c.conn.QueryxContext(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	return c.track(rows)
}

func (c *sqlConn) Prepare(ctx context.Context, sql string) (Stmt, error) {
	stmt, err := c.conn.PreparexContext(ctx, sql)
	if err != nil {
		return nil, err
	}

	s := &sqlStmt{conn: c, stmt: stmt}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		stmt.Close()
		return nil, errConnClosed
	}
	c.stmts[s] = struct{}{}
	return s, nil
}

func (c *sqlConn) Begin(ctx context.Context, isolation types.Isolation) (Tx, error) {
	begin, err := c.dialect.BeginSQL(isolation)
	if err != nil {
		return nil, err
	}
	if _, err := c.conn.ExecContext(ctx, begin); err != nil {
		return nil, err
	}
	return &sqlTx{conn: c}, nil
}

func (c *sqlConn) Sync(context.Context) error {
	return ErrSyncUnsupported
}

// Close closes any open streams and statements, then the connection.
func (c *sqlConn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	rows := c.rows
	stmts := c.stmts
	c.rows = nil
	c.stmts = nil
	c.mu.Unlock()

	var errs []error
	for r := range rows {
		errs = append(errs, r.rows.Close())
	}
	for s := range stmts {
		errs = append(errs, s.stmt.Close())
	}
	errs = append(errs, c.conn.Close(), c.db.Close())
	return errors.Join(errs...)
}

var errConnClosed = errors.New("connection is closed")

func (c *sqlConn) track(rows *sqlx.Rows) (Rows, error) {
	columns, err := rows.Columns()
	if err != nil {
		rows.Close()
		return nil, err
	}
	declared := make([]string, len(columns))
	if colTypes, err := rows.ColumnTypes(); err == nil {
		for i, ct := range colTypes {
			declared[i] = ct.DatabaseTypeName()
		}
	}

	r := &sqlRows{conn: c, rows: rows, columns: columns, types: declared}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		rows.Close()
		return nil, errConnClosed
	}
	c.rows[r] = struct{}{}
	return r, nil
}

func (c *sqlConn) untrackRows(r *sqlRows) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.rows, r)
}

func (c *sqlConn) untrackStmt(s *sqlStmt) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.stmts, s)
}

type sqlResult interface {
	RowsAffected() (int64, error)
	LastInsertId() (int64, error)
}

// resultOf reads what the driver supports; pgx, for one, has no last insert id.
func resultOf(res sqlResult) Result {
	var out Result
	if n, err := res.RowsAffected(); err == nil {
		out.RowsAffected = n
	}
	if id, err := res.LastInsertId(); err == nil {
		out.LastInsertID = id
	}
	return out
}

// sqlTx is a transaction opened with a raw BEGIN on its connection.
type sqlTx struct {
	conn *sqlConn
}

func (t *sqlTx) Exec(ctx context.Context, sql string, args []any) (Result, error) {
	return t.conn.Exec(ctx, sql, args)
}

func (t *sqlTx) Query(ctx context.Context, sql string, args []any) (Rows, error) {
	return t.conn.Query(ctx, sql, args)
}

func (t *sqlTx) Commit(ctx context.Context) error {
	_, err := t.conn.conn.ExecContext(ctx, "COMMIT")
	return err
}

func (t *sqlTx) Rollback(ctx context.Context) error {
	_, err := t.conn.conn.ExecContext(ctx, "ROLLBACK")
	return err
}

type sqlStmt struct {
	conn *sqlConn
	stmt *sqlx.Stmt
}

func (s *sqlStmt) Exec(ctx context.Context, args []any) (Result, error) {
	res, err := s.stmt.ExecContext(ctx, args...)
	if err != nil {
		return Result{}, err
	}
	return resultOf(res), nil
}

func (s *sqlStmt) Query(ctx context.Context, args []any) (Rows, error) {
	rows, err := s.stmt.QueryxContext(ctx, args...)
	if err != nil {
		return nil, err
	}
	return s.conn.track(rows)
}

func (s *sqlStmt) Close() error {
	s.conn.untrackStmt(s)
	return s.stmt.Close()
}

type sqlRows struct {
	conn    *sqlConn
	rows    *sqlx.Rows
	columns []string
	types   []string
}

func (r *sqlRows) Columns() []string     { return r.columns }
func (r *sqlRows) ColumnTypes() []string { return r.types }

func (r *sqlRows) Next(context.Context) ([]types.Value, bool, error) {
	if !r.rows.Next() {
		if err := r.rows.Err(); err != nil {
			return nil, false, err
		}
		return nil, true, nil
	}

	raw, err := r.rows.SliceScan()
	if err != nil {
		return nil, false, fmt.Errorf("failed to scan row: %w", err)
	}
	row := make([]types.Value, len(raw))
	for i, v := range raw {
		if row[i], err = types.FromAny(v); err != nil {
			return nil, false, fmt.Errorf("column %s: %w", r.columns[i], err)
		}
	}
	return row, false, nil
}

func (r *sqlRows) Close() error {
	r.conn.untrackRows(r)
	return r.rows.Close()
}
