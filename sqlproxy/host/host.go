// Package host resolves opaque handles sent by a guest into live database
// resources and runs operations on them.
//
// SQLHost keeps one registry per resource kind: connections, transactions,
// prepared statements and row cursors. Every operation looks its handle up,
// takes that entry's lock, and runs the engine call on the bridge while the
// lock is held. Entries never take another entry's lock while holding their
// own: a statement, transaction or cursor re-checks that its connection handle
// is still registered, but does not lock it.
//
// Closing a connection does not invalidate handles derived from it. Their
// next use reports NotFound for the missing connection, or the engine error
// for the closed resource. Committing or rolling back a transaction likewise
// leaves statements and cursors opened during it alone; cleaning those up is
// the caller's job.
package host

import (
	"context"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/tomyedwab/sqlbridge/sqlproxy/bridge"
	"github.com/tomyedwab/sqlbridge/sqlproxy/engine"
	"github.com/tomyedwab/sqlbridge/sqlproxy/registry"
	"github.com/tomyedwab/sqlbridge/sqlproxy/types"
)

// Config controls how an SQLHost opens and runs connections.
type Config struct {
	// Bridge runs engine operations. Nil selects bridge.Default().
	Bridge *bridge.Bridge
	// LocalDriver is the database/sql driver for local and replica files.
	LocalDriver string
	// SyncTimeout bounds automatic syncs and Sync calls without a timeout.
	SyncTimeout time.Duration
	// Syncer pulls replicas up to date. Replicas cannot be opened without one.
	Syncer engine.Syncer
	// FetchSize is the batch size used when Fetch is called without a limit.
	FetchSize int
}

// DefaultFetchSize is the Fetch batch size when neither the caller nor the
// Config supply one.
const DefaultFetchSize = 100

type connEntry struct {
	conn     engine.Conn
	mode     types.Mode
	autoSync bool
}

type txState int

const (
	txOpen txState = iota
	txCommitted
	txRolledBack
)

func (s txState) String() string {
	switch s {
	case txOpen:
		return "open"
	case txCommitted:
		return "committed"
	}
	return "rolled back"
}

type txEntry struct {
	connID    string
	isolation types.Isolation
	state     txState
	tx        engine.Tx
	// syncConn is set when the parent is a replica with auto-sync enabled.
	syncConn engine.Conn
}

type stmtEntry struct {
	connID string
	sql    string
	stmt   engine.Stmt
	// syncConn is set when the owning connection is a replica with
	// auto-sync enabled.
	syncConn engine.Conn
}

type cursorSource string

const (
	sourceQuery     cursorSource = "query"
	sourceStatement cursorSource = "statement"
)

type cursorEntry struct {
	connID    string
	source    cursorSource
	rows      engine.Rows
	exhausted bool
}

// SQLHost handles proxy requests against any number of databases.
type SQLHost struct {
	cfg     Config
	bridge  *bridge.Bridge
	conns   *registry.Registry[connEntry]
	txs     *registry.Registry[txEntry]
	stmts   *registry.Registry[stmtEntry]
	cursors *registry.Registry[cursorEntry]
}

// New creates an SQLHost with empty registries.
func New(cfg Config) *SQLHost {
	b := cfg.Bridge
	if b == nil {
		b = bridge.Default()
	}
	if cfg.SyncTimeout <= 0 {
		cfg.SyncTimeout = bridge.DefaultSyncTimeout
	}
	if cfg.FetchSize <= 0 {
		cfg.FetchSize = DefaultFetchSize
	}
	return &SQLHost{
		cfg:     cfg,
		bridge:  b,
		conns:   registry.New[connEntry]("connection"),
		txs:     registry.New[txEntry]("transaction"),
		stmts:   registry.New[stmtEntry]("statement"),
		cursors: registry.New[cursorEntry]("cursor"),
	}
}

var (
	defaultOnce sync.Once
	defaultHost *SQLHost
)

// Default returns the process-wide SQLHost, created on first use with the
// default Config. Its registries live for the rest of the process.
func Default() *SQLHost {
	defaultOnce.Do(func() {
		defaultHost = New(Config{})
	})
	return defaultHost
}

// OpenOptions describes a connection to open.
type OpenOptions struct {
	Mode types.Mode
	// Path is the local database file for local and replica modes, and the
	// primary URL for remote_primary.
	Path string
	// URL is the primary a replica syncs from. For remote_primary it may be
	// used instead of Path.
	URL         string
	AuthToken   string
	SyncEnabled bool
}

// Open connects to a database and returns the new connection handle. A
// replica opened with SyncEnabled is synced before Open returns. No entry is
// registered unless Open succeeds.
func (h *SQLHost) Open(ctx context.Context, opts OpenOptions) (connID string, err error) {
	defer instrument("open", time.Now(), &err)

	mode := opts.Mode
	if mode == "" {
		mode = types.ModeLocal
	}
	switch mode {
	case types.ModeLocal, types.ModeRemotePrimary, types.ModeRemoteReplica:
	default:
		return "", fmt.Errorf("unknown connection mode %q", opts.Mode)
	}

	conn, err := bridge.Run(h.bridge, ctx, func(ctx context.Context) (engine.Conn, error) {
		switch mode {
		case types.ModeRemotePrimary:
			url := opts.URL
			if url == "" {
				url = opts.Path
			}
			return engine.OpenRemote(ctx, url, opts.AuthToken)
		case types.ModeRemoteReplica:
			return engine.OpenReplica(ctx, h.cfg.LocalDriver, engine.ReplicaTarget{
				Path:      opts.Path,
				URL:       opts.URL,
				AuthToken: opts.AuthToken,
			}, h.cfg.Syncer)
		}
		return engine.OpenLocal(ctx, h.cfg.LocalDriver, opts.Path)
	})
	if err != nil {
		return "", types.Engine("open", err)
	}

	autoSync := mode == types.ModeRemoteReplica && opts.SyncEnabled
	if autoSync {
		if err := h.sync(ctx, conn, h.cfg.SyncTimeout); err != nil {
			_ = h.closeEngine(ctx, conn)
			return "", err
		}
	}

	connID = registry.NewHandle()
	h.conns.Insert(connID, connEntry{conn: conn, mode: mode, autoSync: autoSync})
	liveHandles.WithLabelValues(h.conns.Kind()).Inc()

	log.WithFields(log.Fields{
		"conn": connID,
		"mode": mode,
		"sync": autoSync,
	}).Debug("opened connection")
	return connID, nil
}

// Close closes a connection. It waits for any in-flight operation on the
// connection to finish first.
func (h *SQLHost) Close(ctx context.Context, connID string) (err error) {
	defer instrument("close_conn", time.Now(), &err)

	entry, err := h.conns.Remove(connID)
	if err != nil {
		return err
	}
	liveHandles.WithLabelValues(h.conns.Kind()).Dec()

	err = entry.Release(func(c *connEntry) error {
		return types.Engine("close", h.closeEngine(ctx, c.conn))
	})
	log.WithFields(log.Fields{"conn": connID, "err": err}).Debug("closed connection")
	return err
}

func (h *SQLHost) closeEngine(ctx context.Context, conn engine.Conn) error {
	_, err := bridge.Run(h.bridge, ctx, func(context.Context) (struct{}, error) {
		return struct{}{}, conn.Close()
	})
	return err
}

// Stats counts the live entries in each registry.
type Stats struct {
	Connections  int
	Transactions int
	Statements   int
	Cursors      int
	// AbandonedSyncs counts syncs that timed out and are still running.
	AbandonedSyncs int
}

// Stats returns the current registry sizes.
func (h *SQLHost) Stats() Stats {
	return Stats{
		Connections:    h.conns.Len(),
		Transactions:   h.txs.Len(),
		Statements:     h.stmts.Len(),
		Cursors:        h.cursors.Len(),
		AbandonedSyncs: h.bridge.Abandoned(),
	}
}

// requireConn fails with NotFound when a derived resource's connection is gone.
func (h *SQLHost) requireConn(connID, kind, handle string) error {
	if h.conns.Contains(connID) {
		return nil
	}
	return fmt.Errorf("%s %q: connection %q: %w", kind, handle, connID, types.ErrNotFound)
}
