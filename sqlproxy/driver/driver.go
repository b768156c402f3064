package driver

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/tomyedwab/sqlbridge/sqlproxy/types"
)

// CallHost is a function provided by the WASI host environment to handle SQL proxy requests.
// This function must be set by the user of this driver in the WASI environment.
var CallHost func(requestPayload []byte) (responsePayload []byte, err error)

// SetHostHandler allows the WASI application to set the function
// used to proxy queries to the host. This must be called before
// any database operations.
func SetHostHandler(handler func(requestPayload []byte) (responsePayload []byte, err error)) {
	CallHost = handler
}

const driverName = "sqlproxy"

// FetchSize is the number of rows requested from the host per round trip.
var FetchSize = 64

func init() {
	sql.Register(driverName, &Driver{})
}

// call sends req to the host and decodes the response into R. A response
// carrying an error is returned as a *types.RemoteError.
func call[R any](req types.SQLRequest) (R, error) {
	var resp R
	if CallHost == nil {
		return resp, fmt.Errorf("sqlproxy: CallHost function is not set")
	}

	reqPayload, err := json.Marshal(req)
	if err != nil {
		return resp, fmt.Errorf("sqlproxy: failed to marshal %s request: %w", req.Command, err)
	}

	respPayload, err := CallHost(reqPayload)
	if err != nil {
		return resp, fmt.Errorf("sqlproxy: CallHost for %s failed: %w", req.Command, err)
	}

	var status types.GeneralResponse
	if err := json.Unmarshal(respPayload, &status); err != nil {
		return resp, fmt.Errorf("sqlproxy: failed to unmarshal %s response: %w", req.Command, err)
	}
	if status.Error != "" {
		return resp, fmt.Errorf("sqlproxy: host %s error: %w", req.Command,
			&types.RemoteError{Kind: status.ErrorKind, Message: status.Error})
	}

	if err := json.Unmarshal(respPayload, &resp); err != nil {
		return resp, fmt.Errorf("sqlproxy: failed to unmarshal %s response: %w", req.Command, err)
	}
	return resp, nil
}

// --- Driver implementation ---

// Driver is the SQL driver for the proxy.
type Driver struct{}

// Open asks the host to open the database named by the DSN. See ParseDSN for
// the accepted forms.
func (d *Driver) Open(name string) (driver.Conn, error) {
	req, err := ParseDSN(name)
	if err != nil {
		return nil, err
	}

	resp, err := call[types.GeneralResponse](req)
	if err != nil {
		return nil, err
	}
	if resp.ConnID == "" {
		return nil, fmt.Errorf("sqlproxy: host did not return a connection ID for open")
	}
	return &Conn{connID: resp.ConnID}, nil
}

// ParseDSN turns a data source name into an open request.
//
// A DSN without a scheme is a local database path, optionally followed by
// query parameters: "app.db", ":memory:", or
// "replica.db?mode=remote_replica&url=libsql://db.example.com&auth_token=T&sync=true".
// A DSN with a scheme is the URL of a remote primary; its auth_token
// parameter is removed from the URL and sent separately.
func ParseDSN(dsn string) (types.SQLRequest, error) {
	req := types.SQLRequest{Command: types.CommandOpen}

	path, rawQuery, _ := strings.Cut(dsn, "?")
	if strings.Contains(path, "://") {
		u, err := url.Parse(dsn)
		if err != nil {
			return req, fmt.Errorf("sqlproxy: invalid DSN: %w", err)
		}
		q := u.Query()
		req.AuthToken = q.Get("auth_token")
		q.Del("auth_token")
		u.RawQuery = q.Encode()
		req.Mode = types.ModeRemotePrimary
		req.URL = u.String()
		return req, nil
	}

	q, err := url.ParseQuery(rawQuery)
	if err != nil {
		return req, fmt.Errorf("sqlproxy: invalid DSN parameters: %w", err)
	}
	req.Path = path
	req.Mode = types.Mode(q.Get("mode"))
	req.URL = q.Get("url")
	req.AuthToken = q.Get("auth_token")
	switch q.Get("sync") {
	case "", "0", "false":
	case "1", "true":
		req.SyncEnabled = true
	default:
		return req, fmt.Errorf("sqlproxy: invalid sync parameter %q", q.Get("sync"))
	}
	return req, nil
}

// --- Connection implementation ---

// Conn implements the driver.Conn interface.
type Conn struct {
	connID      string
	currentTxID string // For transactions initiated by Begin/BeginTx
}

var (
	_ driver.ConnBeginTx                    = (*Conn)(nil)
	_ driver.ExecerContext                  = (*Conn)(nil)
	_ driver.QueryerContext                 = (*Conn)(nil)
	_ driver.ConnPrepareContext             = (*Conn)(nil)
	_ driver.StmtExecContext                = (*Stmt)(nil)
	_ driver.StmtQueryContext               = (*Stmt)(nil)
	_ driver.RowsColumnTypeDatabaseTypeName = (*sqlProxyRows)(nil)
)

// Prepare returns a prepared statement, suitable for query or execution.
func (c *Conn) Prepare(query string) (driver.Stmt, error) {
	resp, err := call[types.GeneralResponse](types.SQLRequest{
		Command: types.CommandPrepare,
		ConnID:  c.connID,
		SQL:     query,
	})
	if err != nil {
		return nil, err
	}
	if resp.StmtID == "" {
		return nil, fmt.Errorf("sqlproxy: host did not return a StmtID for prepare")
	}
	return &Stmt{conn: c, query: query, stmtID: resp.StmtID}, nil
}

// PrepareContext implements driver.ConnPrepareContext. The host call is not
// cancellable, so ctx is only checked before it starts.
func (c *Conn) PrepareContext(ctx context.Context, query string) (driver.Stmt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return c.Prepare(query)
}

// Close invalidates and releases resources associated with the connection.
func (c *Conn) Close() error {
	_, err := call[types.GeneralResponse](types.SQLRequest{
		Command: types.CommandCloseConn,
		ConnID:  c.connID,
	})
	return err
}

// Begin starts and returns a new deferred transaction.
func (c *Conn) Begin() (driver.Tx, error) {
	return c.begin(types.IsolationDeferred)
}

// BeginTx starts a transaction. A read-only transaction is requested as such
// and fails on engines without one. Otherwise the default isolation level
// begins a deferred transaction, LevelSerializable an exclusive one, and every
// other level an immediate one.
func (c *Conn) BeginTx(ctx context.Context, opts driver.TxOptions) (driver.Tx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if opts.ReadOnly {
		return c.begin(types.IsolationReadOnly)
	}
	switch sql.IsolationLevel(opts.Isolation) {
	case sql.LevelDefault:
		return c.begin(types.IsolationDeferred)
	case sql.LevelSerializable:
		return c.begin(types.IsolationExclusive)
	}
	return c.begin(types.IsolationImmediate)
}

func (c *Conn) begin(isolation types.Isolation) (driver.Tx, error) {
	if c.currentTxID != "" {
		return nil, fmt.Errorf("sqlproxy: transaction already active on this connection (TxID: %s)", c.currentTxID)
	}

	resp, err := call[types.GeneralResponse](types.SQLRequest{
		Command:   types.CommandBeginTx,
		ConnID:    c.connID,
		Isolation: isolation,
	})
	if err != nil {
		return nil, err
	}
	if resp.TxID == "" {
		return nil, fmt.Errorf("sqlproxy: host did not return a transaction ID for begin_tx")
	}

	c.currentTxID = resp.TxID // Set current transaction ID on the connection
	return &Tx{conn: c, txID: resp.TxID}, nil
}

// target fills in the handle a direct statement runs against.
func (c *Conn) target(req types.SQLRequest) types.SQLRequest {
	if c.currentTxID != "" {
		req.TxID = c.currentTxID
	} else {
		req.ConnID = c.connID
	}
	return req
}

// ExecContext runs query without preparing it first.
func (c *Conn) ExecContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	values, err := convertNamedValues(args)
	if err != nil {
		return nil, err
	}
	return execRequest(c.target(types.SQLRequest{Command: types.CommandExec, SQL: query, Args: values}))
}

// QueryContext runs query without preparing it first.
func (c *Conn) QueryContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	values, err := convertNamedValues(args)
	if err != nil {
		return nil, err
	}
	return queryRequest(c.target(types.SQLRequest{Command: types.CommandQuery, SQL: query, Args: values}))
}

// --- Statement implementation ---

// Stmt implements the driver.Stmt interface.
type Stmt struct {
	conn   *Conn
	query  string // Original query, mainly for context/debugging
	stmtID string // Host-provided statement ID
}

// Close closes the statement.
func (s *Stmt) Close() error {
	_, err := call[types.GeneralResponse](types.SQLRequest{
		Command: types.CommandCloseStmt,
		StmtID:  s.stmtID,
	})
	if err != nil {
		return err
	}
	s.stmtID = "" // Mark as closed
	return nil
}

// NumInput returns -1: the host does not report placeholder counts.
func (s *Stmt) NumInput() int {
	return -1
}

func convertDriverValues(args []driver.Value) ([]types.Value, error) {
	values := make([]types.Value, len(args))
	for i, v := range args {
		val, err := types.FromAny(v)
		if err != nil {
			return nil, fmt.Errorf("sqlproxy: argument %d: %w", i+1, err)
		}
		values[i] = val
	}
	return values, nil
}

func convertNamedValues(args []driver.NamedValue) ([]types.Value, error) {
	plain := make([]driver.Value, len(args))
	for i, arg := range args {
		if arg.Name != "" {
			return nil, fmt.Errorf("sqlproxy: named argument %q is not supported", arg.Name)
		}
		plain[i] = arg.Value
	}
	return convertDriverValues(plain)
}

// Exec executes a prepared statement with the given arguments and returns a Result.
func (s *Stmt) Exec(args []driver.Value) (driver.Result, error) {
	values, err := convertDriverValues(args)
	if err != nil {
		return nil, err
	}
	return execRequest(types.SQLRequest{Command: types.CommandExec, StmtID: s.stmtID, Args: values})
}

// ExecContext implements driver.StmtExecContext.
func (s *Stmt) ExecContext(ctx context.Context, args []driver.NamedValue) (driver.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	values, err := convertNamedValues(args)
	if err != nil {
		return nil, err
	}
	return execRequest(types.SQLRequest{Command: types.CommandExec, StmtID: s.stmtID, Args: values})
}

// Query executes a prepared statement with the given arguments and returns Rows.
func (s *Stmt) Query(args []driver.Value) (driver.Rows, error) {
	values, err := convertDriverValues(args)
	if err != nil {
		return nil, err
	}
	return queryRequest(types.SQLRequest{Command: types.CommandQuery, StmtID: s.stmtID, Args: values})
}

// QueryContext implements driver.StmtQueryContext.
func (s *Stmt) QueryContext(ctx context.Context, args []driver.NamedValue) (driver.Rows, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	values, err := convertNamedValues(args)
	if err != nil {
		return nil, err
	}
	return queryRequest(types.SQLRequest{Command: types.CommandQuery, StmtID: s.stmtID, Args: values})
}

func execRequest(req types.SQLRequest) (driver.Result, error) {
	resp, err := call[types.ExecResponse](req)
	if err != nil {
		return nil, err
	}
	return &sqlProxyResult{lastInsertID: resp.LastInsertID, rowsAffected: resp.RowsAffected}, nil
}

func queryRequest(req types.SQLRequest) (driver.Rows, error) {
	resp, err := call[types.QueryResponse](req)
	if err != nil {
		return nil, err
	}
	if resp.CursorID == "" {
		return nil, fmt.Errorf("sqlproxy: host did not return a cursor ID for query")
	}
	return &sqlProxyRows{
		cursorID:    resp.CursorID,
		columns:     resp.Columns,
		columnTypes: resp.ColumnTypes,
	}, nil
}

// --- Transaction implementation ---

// Tx implements the driver.Tx interface.
type Tx struct {
	conn *Conn
	txID string // Host-provided transaction ID
}

// Commit commits the transaction.
func (t *Tx) Commit() error {
	return t.finish(types.CommandCommit)
}

// Rollback aborts the transaction.
func (t *Tx) Rollback() error {
	return t.finish(types.CommandRollback)
}

// finish ends the transaction. The host drops the transaction even when the
// engine reports an error, so the connection is released either way.
func (t *Tx) finish(command string) error {
	if t.txID == "" {
		return fmt.Errorf("sqlproxy: transaction already committed or rolled back")
	}
	txID := t.txID
	t.conn.currentTxID = ""
	t.txID = ""

	_, err := call[types.GeneralResponse](types.SQLRequest{Command: command, TxID: txID})
	if err != nil {
		return fmt.Errorf("%w (TxID: %s)", err, txID)
	}
	return nil
}

// --- Result implementation ---

// sqlProxyResult implements the driver.Result interface.
type sqlProxyResult struct {
	lastInsertID int64
	rowsAffected int64
}

// LastInsertId returns the database's auto-generated ID after, for example, an INSERT into a table with primary key.
func (r *sqlProxyResult) LastInsertId() (int64, error) {
	return r.lastInsertID, nil
}

// RowsAffected returns the number of rows affected by the query.
func (r *sqlProxyResult) RowsAffected() (int64, error) {
	return r.rowsAffected, nil
}

// --- Rows implementation ---

// sqlProxyRows streams a host cursor in batches of FetchSize rows.
type sqlProxyRows struct {
	cursorID    string
	columns     []string
	columnTypes []string
	buf         [][]types.Value
	done        bool // The host reported end of stream and dropped the cursor
}

// Columns returns the names of the columns. The number of columns of the result is inferred from the length of the slice.
func (r *sqlProxyRows) Columns() []string {
	return r.columns
}

// ColumnTypeDatabaseTypeName returns the declared type of column index.
func (r *sqlProxyRows) ColumnTypeDatabaseTypeName(index int) string {
	if index < len(r.columnTypes) {
		return strings.ToUpper(r.columnTypes[index])
	}
	return ""
}

// Close releases the host cursor if it was not read to the end.
func (r *sqlProxyRows) Close() error {
	r.buf = nil
	if r.done {
		return nil
	}
	r.done = true
	_, err := call[types.GeneralResponse](types.SQLRequest{
		Command:  types.CommandCloseCursor,
		CursorID: r.cursorID,
	})
	return err
}

// Next is called to populate the next row of data into the provided slice. The provided slice will be the same size as the Columns() are wide.
// Next should return io.EOF when there are no more rows.
func (r *sqlProxyRows) Next(dest []driver.Value) error {
	if len(r.buf) == 0 {
		if r.done {
			return io.EOF
		}
		resp, err := call[types.QueryResponse](types.SQLRequest{
			Command:  types.CommandFetch,
			CursorID: r.cursorID,
			MaxRows:  FetchSize,
		})
		if err != nil {
			if errors.Is(err, types.ErrNotFound) {
				r.done = true
			}
			return err
		}
		r.buf, r.done = resp.Rows, resp.Done
		if len(r.buf) == 0 {
			return io.EOF
		}
	}

	row := r.buf[0]
	r.buf = r.buf[1:]
	if len(row) != len(dest) {
		return fmt.Errorf("sqlproxy: column count mismatch. Expected %d, got %d", len(dest), len(row))
	}
	for i, val := range row {
		dest[i] = val.Any()
	}
	return nil
}
