// Package engine adapts database/sql drivers to the small set of primitives
// the host needs: connect, execute, query, prepare, stream rows, and
// transaction control on one dedicated connection.
//
// Each Conn pins a single physical connection, so raw BEGIN/COMMIT statements
// and in-memory databases behave as they would on a native handle. Calls on a
// Conn are serialized by database/sql; higher-level exclusivity is the
// caller's job.
package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/tomyedwab/sqlbridge/sqlproxy/types"
)

// ErrSyncUnsupported is returned by Sync on connections that are not replicas.
var ErrSyncUnsupported = errors.New("sync is only supported on remote replicas")

// Result summarizes a statement that returned no rows.
type Result struct {
	RowsAffected int64
	LastInsertID int64
}

// Conn is one live connection to a database.
type Conn interface {
	Exec(ctx context.Context, sql string, args []any) (Result, error)
	Query(ctx context.Context, sql string, args []any) (Rows, error)
	Prepare(ctx context.Context, sql string) (Stmt, error)
	// Begin starts a transaction on this connection. Statements executed on
	// the Conn while it is open run inside it.
	Begin(ctx context.Context, isolation types.Isolation) (Tx, error)
	Sync(ctx context.Context) error
	Close() error
}

// Tx is an open transaction on a Conn.
type Tx interface {
	Exec(ctx context.Context, sql string, args []any) (Result, error)
	Query(ctx context.Context, sql string, args []any) (Rows, error)
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Stmt is a prepared statement bound to the Conn that prepared it.
type Stmt interface {
	Exec(ctx context.Context, args []any) (Result, error)
	Query(ctx context.Context, args []any) (Rows, error)
	Close() error
}

// Rows is a forward-only stream of result rows.
type Rows interface {
	Columns() []string
	// ColumnTypes returns the declared database type of each column, or ""
	// where the driver does not know it.
	ColumnTypes() []string
	// Next returns the next row, or done once the stream is exhausted.
	Next(ctx context.Context) (row []types.Value, done bool, err error)
	Close() error
}

type noRows struct{}

// NoRows returns an empty, already exhausted stream.
func NoRows() Rows { return noRows{} }

func (noRows) Columns() []string     { return nil }
func (noRows) ColumnTypes() []string { return nil }
func (noRows) Close() error          { return nil }

func (noRows) Next(context.Context) ([]types.Value, bool, error) {
	return nil, true, nil
}

// Dialect supplies the transaction control statements of a database.
type Dialect interface {
	Name() string
	// BeginSQL returns the statement that opens a transaction with the given
	// behaviour, or an error wrapping types.ErrInvalidState when the database
	// has no such behaviour.
	BeginSQL(isolation types.Isolation) (string, error)
}

func unsupportedIsolation(d Dialect, isolation types.Isolation) error {
	return fmt.Errorf("%s has no %s transactions: %w", d.Name(), isolation, types.ErrInvalidState)
}

type sqliteDialect struct{}

func (sqliteDialect) Name() string { return "sqlite" }

func (d sqliteDialect) BeginSQL(isolation types.Isolation) (string, error) {
	switch isolation {
	case types.IsolationImmediate:
		return "BEGIN IMMEDIATE", nil
	case types.IsolationExclusive:
		return "BEGIN EXCLUSIVE", nil
	case types.IsolationReadOnly:
		return "", unsupportedIsolation(d, isolation)
	}
	return "BEGIN DEFERRED", nil
}

// Postgres has no lock-acquisition modes, so stronger behaviours map to
// stronger isolation levels.
type postgresDialect struct{}

func (postgresDialect) Name() string { return "postgres" }

func (postgresDialect) BeginSQL(isolation types.Isolation) (string, error) {
	switch isolation {
	case types.IsolationImmediate:
		return "BEGIN ISOLATION LEVEL REPEATABLE READ", nil
	case types.IsolationExclusive:
		return "BEGIN ISOLATION LEVEL SERIALIZABLE", nil
	case types.IsolationReadOnly:
		return "BEGIN READ ONLY", nil
	}
	return "BEGIN", nil
}

var (
	SQLite   Dialect = sqliteDialect{}
	Postgres Dialect = postgresDialect{}
)
