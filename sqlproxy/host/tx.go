package host

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/tomyedwab/sqlbridge/sqlproxy/bridge"
	"github.com/tomyedwab/sqlbridge/sqlproxy/engine"
	"github.com/tomyedwab/sqlbridge/sqlproxy/registry"
	"github.com/tomyedwab/sqlbridge/sqlproxy/types"
)

// Begin starts a transaction on a connection and returns its handle. An empty
// isolation begins a deferred transaction.
func (h *SQLHost) Begin(ctx context.Context, connID string, isolation types.Isolation) (txID string, err error) {
	defer instrument("begin_tx", time.Now(), &err)

	if !isolation.Valid() {
		return "", fmt.Errorf("unknown transaction behaviour %q", isolation)
	}
	if isolation == "" {
		isolation = types.IsolationDeferred
	}

	err = h.conns.With(connID, func(c *connEntry) error {
		tx, err := bridge.Run(h.bridge, ctx, func(ctx context.Context) (engine.Tx, error) {
			tx, err := c.conn.Begin(ctx, isolation)
			return tx, types.Engine("begin", err)
		})
		if err != nil {
			return err
		}

		entry := txEntry{connID: connID, isolation: isolation, state: txOpen, tx: tx}
		if c.autoSync {
			entry.syncConn = c.conn
		}
		txID = registry.NewHandle()
		h.txs.Insert(txID, entry)
		liveHandles.WithLabelValues(h.txs.Kind()).Inc()
		return nil
	})
	return txID, err
}

// Commit commits a transaction. The handle is invalid afterwards even if the
// engine reports a failure.
func (h *SQLHost) Commit(ctx context.Context, txID string) (err error) {
	defer instrument("commit", time.Now(), &err)
	return h.finish(ctx, txID, true)
}

// Rollback rolls a transaction back. The handle is invalid afterwards even if
// the engine reports a failure.
func (h *SQLHost) Rollback(ctx context.Context, txID string) (err error) {
	defer instrument("rollback", time.Now(), &err)
	return h.finish(ctx, txID, false)
}

func (h *SQLHost) finish(ctx context.Context, txID string, commit bool) error {
	op, next := "rollback", txRolledBack
	if commit {
		op, next = "commit", txCommitted
	}

	var engineErr error
	var syncConn engine.Conn
	var isolation types.Isolation
	err := h.txs.With(txID, func(t *txEntry) error {
		// The parent connection is not re-checked: a closed connection
		// surfaces as an engine error and the entry is still dropped.
		if t.state != txOpen {
			return fmt.Errorf("transaction %q is %s: %w", txID, t.state, types.ErrInvalidState)
		}
		_, engineErr = bridge.Run(h.bridge, ctx, func(ctx context.Context) (struct{}, error) {
			if commit {
				return struct{}{}, t.tx.Commit(ctx)
			}
			return struct{}{}, t.tx.Rollback(ctx)
		})
		t.state = next
		syncConn, isolation = t.syncConn, t.isolation
		return nil
	})
	if err != nil {
		return err
	}

	// A concurrent finish may have removed the entry between With and Remove.
	if entry, err := h.txs.Remove(txID); err == nil {
		liveHandles.WithLabelValues(h.txs.Kind()).Dec()
		_ = entry.Release(nil)
	}

	if engineErr != nil {
		log.WithFields(log.Fields{
			"tx":        txID,
			"op":        op,
			"isolation": isolation,
		}).WithError(engineErr).Warn("transaction did not finish cleanly")
		return types.Engine(op, engineErr)
	}
	if commit && syncConn != nil {
		if err := h.sync(ctx, syncConn, h.cfg.SyncTimeout); err != nil {
			log.WithError(err).Warn("automatic replica sync failed")
		}
	}
	return nil
}

// requireOpenTx fails unless t can still run statements.
func (h *SQLHost) requireOpenTx(txID string, t *txEntry) error {
	if t.state != txOpen {
		return fmt.Errorf("transaction %q is %s: %w", txID, t.state, types.ErrInvalidState)
	}
	return h.requireConn(t.connID, h.txs.Kind(), txID)
}
