// Package driver implements a database/sql/driver for proxying SQL queries
// from a Go application running in a WebAssembly System Interface (WASI) module
// to a host environment.
//
// The driver holds no database state of its own. Every connection, prepared
// statement, transaction and result set lives on the host and is referred to
// by an opaque handle that the host returned. Requests and responses are
// JSON-encoded and passed through a host-provided function.
//
// Usage:
//
//  1. Import the driver package. This will register the driver with the name "sqlproxy".
//     import _ "github.com/tomyedwab/sqlbridge/sqlproxy/driver"
//
//  2. Before opening a database connection, the WASI application must set the
//     host handler. The wasi/guest package does this for modules running under
//     the sqlbridge host:
//
//     driver.SetHostHandler(func(requestPayload []byte) ([]byte, error) {
//     // ... send requestPayload to the host and return its response ...
//     })
//
//  3. Open a database connection using sql.Open. The DSN selects the database;
//     see ParseDSN:
//
//     db, err := sql.Open("sqlproxy", "app.db")
//     db, err := sql.Open("sqlproxy", "replica.db?mode=remote_replica&url=libsql://db.example.com&sync=true")
//     db, err := sql.Open("sqlproxy", "postgres://app@db.example.com/app?auth_token=T")
//
//  4. Use the *sql.DB object as usual to execute queries, prepared statements, and transactions.
//
// Result sets are streamed: a query returns a host cursor and rows are fetched
// FetchSize at a time as the caller iterates. Closing Rows early releases the
// cursor on the host.
//
// Errors reported by the host wrap a *types.RemoteError, so callers can test
// them with errors.Is against types.ErrNotFound, types.ErrInvalidState and
// types.ErrTimeout.
//
// Limitations:
//
//   - Host calls cannot be cancelled. Context-aware methods check the context
//     before sending a request and otherwise ignore it.
//   - Named parameters are not supported; use positional placeholders.
//   - Each database/sql connection maps to one host connection. A ":memory:"
//     database is private to the connection that opened it.
package driver
