package types

// --- JSON structures for host communication ---

// Command names understood by the host.
const (
	CommandOpen        = "open"
	CommandCloseConn   = "close_conn"
	CommandExec        = "exec"
	CommandQuery       = "query"
	CommandPrepare     = "prepare"
	CommandCloseStmt   = "close_stmt"
	CommandBeginTx     = "begin_tx"
	CommandCommit      = "commit"
	CommandRollback    = "rollback"
	CommandNext        = "next"
	CommandFetch       = "fetch"
	CommandCloseCursor = "close_cursor"
	CommandSync        = "sync"
	CommandStats       = "stats"
)

// Mode selects how a connection reaches its database.
type Mode string

const (
	ModeLocal         Mode = "local"
	ModeRemotePrimary Mode = "remote_primary"
	ModeRemoteReplica Mode = "remote_replica"
)

// Isolation is the locking behaviour requested when a transaction begins.
type Isolation string

const (
	IsolationDeferred  Isolation = "deferred"
	IsolationImmediate Isolation = "immediate"
	IsolationExclusive Isolation = "exclusive"
	// IsolationReadOnly is only available on engines with read-only
	// transactions.
	IsolationReadOnly Isolation = "read_only"
)

// Valid reports whether i is one of the known behaviours. The empty value is
// treated as deferred by the host.
func (i Isolation) Valid() bool {
	switch i {
	case "", IsolationDeferred, IsolationImmediate, IsolationExclusive, IsolationReadOnly:
		return true
	}
	return false
}

// SQLRequest defines the structure for requests sent to the host.
type SQLRequest struct {
	Command string  `json:"command"`
	SQL     string  `json:"sql,omitempty"`
	Args    []Value `json:"args,omitempty"`

	ConnID   string `json:"conn_id,omitempty"`
	StmtID   string `json:"stmt_id,omitempty"`
	TxID     string `json:"tx_id,omitempty"`
	CursorID string `json:"cursor_id,omitempty"`

	// open
	Path        string `json:"path,omitempty"` // Local file; the primary URL for remote_primary
	URL         string `json:"url,omitempty"`  // Primary URL for remote_replica
	Mode        Mode   `json:"mode,omitempty"`
	AuthToken   string `json:"auth_token,omitempty"`
	SyncEnabled bool   `json:"sync_enabled,omitempty"`

	// begin_tx
	Isolation Isolation `json:"isolation,omitempty"`

	// fetch
	MaxRows int `json:"max_rows,omitempty"`

	// sync
	TimeoutSecs int `json:"timeout_secs,omitempty"`
}

// GeneralResponse is used for commands that don't return rows or specific exec results (e.g., open, prepare, commit, rollback, close).
type GeneralResponse struct {
	ConnID    string    `json:"conn_id,omitempty"` // For 'open'
	StmtID    string    `json:"stmt_id,omitempty"` // For 'prepare'
	TxID      string    `json:"tx_id,omitempty"`   // For 'begin_tx'
	Error     string    `json:"error,omitempty"`
	ErrorKind ErrorKind `json:"error_kind,omitempty"`
}

// QueryResponse is returned by 'query', 'next' and 'fetch'. A query response
// names the cursor and its columns; rows are pulled with 'next' or 'fetch'.
type QueryResponse struct {
	CursorID     string    `json:"cursor_id,omitempty"`
	Columns      []string  `json:"columns,omitempty"`
	ColumnTypes  []string  `json:"column_types,omitempty"`
	Rows         [][]Value `json:"rows,omitempty"`
	Done         bool      `json:"done,omitempty"` // The cursor reached end of stream and no longer exists
	RowsAffected int64     `json:"rows_affected,omitempty"`
	Error        string    `json:"error,omitempty"`
	ErrorKind    ErrorKind `json:"error_kind,omitempty"`
}

// ExecResponse defines the structure for responses from 'exec' commands.
type ExecResponse struct {
	LastInsertID int64     `json:"last_insert_id"`
	RowsAffected int64     `json:"rows_affected"`
	Error        string    `json:"error,omitempty"`
	ErrorKind    ErrorKind `json:"error_kind,omitempty"`
}

// StatsResponse reports the number of live entries in each registry.
type StatsResponse struct {
	Connections    int       `json:"connections"`
	Transactions   int       `json:"transactions"`
	Statements     int       `json:"statements"`
	Cursors        int       `json:"cursors"`
	AbandonedSyncs int       `json:"abandoned_syncs"`
	Error          string    `json:"error,omitempty"`
	ErrorKind      ErrorKind `json:"error_kind,omitempty"`
}
