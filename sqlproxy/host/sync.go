package host

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/tomyedwab/sqlbridge/sqlproxy/bridge"
	"github.com/tomyedwab/sqlbridge/sqlproxy/engine"
	"github.com/tomyedwab/sqlbridge/sqlproxy/types"
)

// Sync pulls a replica connection up to date, waiting at most timeout. A
// zero timeout uses the configured default. When the wait expires Sync
// returns a timeout error and cancels the sync's context. A Syncer that does
// not honour the cancellation keeps running in the background, outside the
// worker pool, and is counted in Stats until it returns.
func (h *SQLHost) Sync(ctx context.Context, connID string, timeout time.Duration) (err error) {
	defer instrument("sync", time.Now(), &err)

	if timeout <= 0 {
		timeout = h.cfg.SyncTimeout
	}
	return h.conns.With(connID, func(c *connEntry) error {
		if c.mode != types.ModeRemoteReplica {
			return fmt.Errorf("connection %q is %s, not a replica: %w", connID, c.mode, types.ErrInvalidState)
		}
		return h.sync(ctx, c.conn, timeout)
	})
}

func (h *SQLHost) sync(ctx context.Context, conn engine.Conn, timeout time.Duration) error {
	_, err := bridge.RunWithTimeout(h.bridge, ctx, timeout, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, conn.Sync(ctx)
	})
	switch {
	case err == nil:
		return nil
	case errors.Is(err, types.ErrTimeout):
		syncTimeoutsTotal.Inc()
		log.WithField("timeout", timeout).Warn("replica sync did not finish in time")
		return err
	}
	return types.Engine("sync", err)
}
