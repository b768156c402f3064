package host

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/tomyedwab/sqlbridge/sqlproxy/bridge"
	"github.com/tomyedwab/sqlbridge/sqlproxy/classify"
	"github.com/tomyedwab/sqlbridge/sqlproxy/engine"
	"github.com/tomyedwab/sqlbridge/sqlproxy/registry"
	"github.com/tomyedwab/sqlbridge/sqlproxy/types"
)

// querier is what a connection, a transaction and a bound statement have in
// common.
type querier interface {
	Exec(ctx context.Context, sql string, args []any) (engine.Result, error)
	Query(ctx context.Context, sql string, args []any) (engine.Rows, error)
}

// boundStmt runs a prepared statement through the querier interface. The sql
// argument is ignored.
type boundStmt struct{ stmt engine.Stmt }

func (b boundStmt) Exec(ctx context.Context, _ string, args []any) (engine.Result, error) {
	return b.stmt.Exec(ctx, args)
}

func (b boundStmt) Query(ctx context.Context, _ string, args []any) (engine.Rows, error) {
	return b.stmt.Query(ctx, args)
}

// CursorInfo describes a cursor returned by Query.
type CursorInfo struct {
	ID          string
	Columns     []string
	ColumnTypes []string
	// RowsAffected is set when the statement was a write without RETURNING.
	// Such cursors are already at end of stream.
	RowsAffected int64
}

// exec runs sql for its effect. Statements that produce rows are run as a
// query and drained, and the number of rows counts as affected.
func (h *SQLHost) exec(ctx context.Context, q querier, sql string, args []types.Value) (engine.Result, error) {
	bound := types.Args(args)
	return bridge.Run(h.bridge, ctx, func(ctx context.Context) (engine.Result, error) {
		if !classify.ShouldUseQuery(sql) {
			res, err := q.Exec(ctx, sql, bound)
			return res, types.Engine("execute", err)
		}

		rows, err := q.Query(ctx, sql, bound)
		if err != nil {
			return engine.Result{}, types.Engine("execute", err)
		}
		defer rows.Close()

		var n int64
		for {
			_, done, err := rows.Next(ctx)
			if err != nil {
				return engine.Result{}, types.Engine("execute", err)
			}
			if done {
				return engine.Result{RowsAffected: n}, nil
			}
			n++
		}
	})
}

// query runs sql and returns its row stream. Statements that produce no rows
// are executed and answered with an empty stream. With readAhead set, a write
// that returns rows is drained before query returns, so the write is complete
// and a replica sync can follow it.
func (h *SQLHost) query(ctx context.Context, q querier, sql string, args []types.Value, readAhead bool) (engine.Rows, int64, error) {
	type opened struct {
		rows     engine.Rows
		affected int64
	}
	bound := types.Args(args)
	out, err := bridge.Run(h.bridge, ctx, func(ctx context.Context) (opened, error) {
		if classify.ShouldUseQuery(sql) {
			rows, err := q.Query(ctx, sql, bound)
			if err != nil {
				return opened{}, types.Engine("query", err)
			}
			if readAhead && writes(sql) {
				buffered, err := bufferRows(ctx, rows)
				return opened{rows: buffered}, types.Engine("query", err)
			}
			return opened{rows: rows}, nil
		}
		res, err := q.Exec(ctx, sql, bound)
		if err != nil {
			return opened{}, types.Engine("query", err)
		}
		return opened{rows: engine.NoRows(), affected: res.RowsAffected}, nil
	})
	return out.rows, out.affected, err
}

// bufferedRows replays rows read ahead of the cursor that serves them.
type bufferedRows struct {
	columns     []string
	columnTypes []string
	rows        [][]types.Value
}

func bufferRows(ctx context.Context, rows engine.Rows) (engine.Rows, error) {
	defer rows.Close()

	b := &bufferedRows{columns: rows.Columns(), columnTypes: rows.ColumnTypes()}
	for {
		row, done, err := rows.Next(ctx)
		if err != nil {
			return nil, err
		}
		if done {
			return b, nil
		}
		b.rows = append(b.rows, row)
	}
}

func (b *bufferedRows) Columns() []string     { return b.columns }
func (b *bufferedRows) ColumnTypes() []string { return b.columnTypes }

func (b *bufferedRows) Close() error {
	b.rows = nil
	return nil
}

func (b *bufferedRows) Next(context.Context) ([]types.Value, bool, error) {
	if len(b.rows) == 0 {
		return nil, true, nil
	}
	row := b.rows[0]
	b.rows = b.rows[1:]
	return row, false, nil
}

// openCursor registers rows as a new cursor.
func (h *SQLHost) openCursor(connID string, source cursorSource, rows engine.Rows, affected int64) CursorInfo {
	info := CursorInfo{
		ID:           registry.NewHandle(),
		Columns:      rows.Columns(),
		ColumnTypes:  rows.ColumnTypes(),
		RowsAffected: affected,
	}
	h.cursors.Insert(info.ID, cursorEntry{connID: connID, source: source, rows: rows})
	liveHandles.WithLabelValues(h.cursors.Kind()).Inc()
	return info
}

// writes reports whether sql may change the database.
func writes(sql string) bool {
	return classify.Classify(sql) != classify.Select
}

// autoSync pulls a replica after a write. A failed sync does not undo the
// write, so it is logged rather than returned.
func (h *SQLHost) autoSync(ctx context.Context, conn engine.Conn, sql string) {
	if !writes(sql) {
		return
	}
	if err := h.sync(ctx, conn, h.cfg.SyncTimeout); err != nil {
		log.WithError(err).Warn("automatic replica sync failed")
	}
}

// Execute runs sql on a connection for its effect.
func (h *SQLHost) Execute(ctx context.Context, connID, sql string, args []types.Value) (res engine.Result, err error) {
	defer instrument("exec", time.Now(), &err)

	err = h.conns.With(connID, func(c *connEntry) error {
		res, err = h.exec(ctx, c.conn, sql, args)
		if err == nil && c.autoSync {
			h.autoSync(ctx, c.conn, sql)
		}
		return err
	})
	return res, err
}

// Query runs sql on a connection and returns a cursor over its rows.
func (h *SQLHost) Query(ctx context.Context, connID, sql string, args []types.Value) (info CursorInfo, err error) {
	defer instrument("query", time.Now(), &err)

	err = h.conns.With(connID, func(c *connEntry) error {
		rows, affected, err := h.query(ctx, c.conn, sql, args, c.autoSync)
		if err != nil {
			return err
		}
		if c.autoSync {
			h.autoSync(ctx, c.conn, sql)
		}
		info = h.openCursor(connID, sourceQuery, rows, affected)
		return nil
	})
	return info, err
}

// Prepare compiles sql on a connection and returns the statement handle.
func (h *SQLHost) Prepare(ctx context.Context, connID, sql string) (stmtID string, err error) {
	defer instrument("prepare", time.Now(), &err)

	err = h.conns.With(connID, func(c *connEntry) error {
		stmt, err := bridge.Run(h.bridge, ctx, func(ctx context.Context) (engine.Stmt, error) {
			stmt, err := c.conn.Prepare(ctx, sql)
			return stmt, types.Engine("prepare", err)
		})
		if err != nil {
			return err
		}
		entry := stmtEntry{connID: connID, sql: sql, stmt: stmt}
		if c.autoSync {
			entry.syncConn = c.conn
		}
		stmtID = registry.NewHandle()
		h.stmts.Insert(stmtID, entry)
		liveHandles.WithLabelValues(h.stmts.Kind()).Inc()
		return nil
	})
	return stmtID, err
}

// ExecuteStatement runs a prepared statement for its effect.
func (h *SQLHost) ExecuteStatement(ctx context.Context, stmtID string, args []types.Value) (res engine.Result, err error) {
	defer instrument("exec", time.Now(), &err)

	err = h.stmts.With(stmtID, func(s *stmtEntry) error {
		if err := h.requireConn(s.connID, h.stmts.Kind(), stmtID); err != nil {
			return err
		}
		res, err = h.exec(ctx, boundStmt{s.stmt}, s.sql, args)
		if err == nil && s.syncConn != nil {
			h.autoSync(ctx, s.syncConn, s.sql)
		}
		return err
	})
	return res, err
}

// QueryStatement runs a prepared statement and returns a cursor over its rows.
func (h *SQLHost) QueryStatement(ctx context.Context, stmtID string, args []types.Value) (info CursorInfo, err error) {
	defer instrument("query", time.Now(), &err)

	err = h.stmts.With(stmtID, func(s *stmtEntry) error {
		if err := h.requireConn(s.connID, h.stmts.Kind(), stmtID); err != nil {
			return err
		}
		rows, affected, err := h.query(ctx, boundStmt{s.stmt}, s.sql, args, s.syncConn != nil)
		if err != nil {
			return err
		}
		if s.syncConn != nil {
			h.autoSync(ctx, s.syncConn, s.sql)
		}
		info = h.openCursor(s.connID, sourceStatement, rows, affected)
		return nil
	})
	return info, err
}

// CloseStatement finalizes a prepared statement.
func (h *SQLHost) CloseStatement(ctx context.Context, stmtID string) (err error) {
	defer instrument("close_stmt", time.Now(), &err)

	entry, err := h.stmts.Remove(stmtID)
	if err != nil {
		return err
	}
	liveHandles.WithLabelValues(h.stmts.Kind()).Dec()

	return entry.Release(func(s *stmtEntry) error {
		_, err := bridge.Run(h.bridge, ctx, func(context.Context) (struct{}, error) {
			return struct{}{}, types.Engine("close statement", s.stmt.Close())
		})
		return err
	})
}

// ExecuteInTx runs sql inside an open transaction for its effect.
func (h *SQLHost) ExecuteInTx(ctx context.Context, txID, sql string, args []types.Value) (res engine.Result, err error) {
	defer instrument("exec", time.Now(), &err)

	err = h.txs.With(txID, func(t *txEntry) error {
		if err := h.requireOpenTx(txID, t); err != nil {
			return err
		}
		res, err = h.exec(ctx, t.tx, sql, args)
		return err
	})
	return res, err
}

// QueryInTx runs sql inside an open transaction and returns a cursor.
func (h *SQLHost) QueryInTx(ctx context.Context, txID, sql string, args []types.Value) (info CursorInfo, err error) {
	defer instrument("query", time.Now(), &err)

	err = h.txs.With(txID, func(t *txEntry) error {
		if err := h.requireOpenTx(txID, t); err != nil {
			return err
		}
		rows, affected, err := h.query(ctx, t.tx, sql, args, false)
		if err != nil {
			return err
		}
		info = h.openCursor(t.connID, sourceQuery, rows, affected)
		return nil
	})
	return info, err
}
